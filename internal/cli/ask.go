// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// ask.go - one-shot question handler with streamed output and markdown
// rendering on TTYs.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/glamour"

	"github.com/jeranaias/parley-tui/internal/api"
	"github.com/jeranaias/parley-tui/internal/config"
	"github.com/jeranaias/parley-tui/internal/stream"
)

// maxStdinQuery caps piped question size (64KB).
const maxStdinQuery = 64 * 1024

// =============================================================================
// MARKDOWN RENDERING
// =============================================================================

// markdownRenderer is the global glamour renderer for markdown output.
var markdownRenderer *glamour.TermRenderer

func init() {
	var err error
	markdownRenderer, err = glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		// Fallback to plain text if renderer initialization fails
		markdownRenderer = nil
	}
}

// renderMarkdown renders markdown content for terminal display. Returns
// the original content if rendering fails or the renderer is unavailable.
func renderMarkdown(content string) string {
	if markdownRenderer == nil {
		return content
	}
	rendered, err := markdownRenderer.Render(content)
	if err != nil {
		return content
	}
	return rendered
}

// =============================================================================
// ASK HANDLER
// =============================================================================

// HandleAsk runs a single exchange and prints the answer.
//
// On a TTY the full answer is collected and rendered as markdown; for
// piped output tokens stream straight through as they arrive, so
// parley ask works in shell pipelines.
func HandleAsk(args Args) error {
	cfg := config.Global()
	client, _, err := newClient(cfg)
	if err != nil {
		return err
	}
	if err := requireAuth(client); err != nil {
		return err
	}

	question := strings.TrimSpace(args.Query)
	if question == "" {
		question, err = readStdinQuery()
		if err != nil {
			return err
		}
	}
	if question == "" {
		return fmt.Errorf("no question given, usage: parley ask \"question\"")
	}

	modelID := args.Model
	if modelID == "" {
		modelID = cfg.Chat.DefaultModel
	}

	// Ctrl+C cancels the stream; partial output already printed stays
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	result, err := runAskExchange(ctx, client, "", modelID, cfg.Chat.ThinkingMode, question, askOutput(args))
	if err != nil {
		return err
	}

	if !args.Quiet && len(result.Suggestions) > 0 && IsStdoutTTY() {
		fmt.Println()
		fmt.Println(labelStyle.Render("follow-ups:"))
		for _, s := range result.Suggestions {
			fmt.Println(mutedStyle.Render("  - " + s))
		}
	}
	return nil
}

// askSink receives streamed output during an exchange.
type askSink struct {
	// render buffers content and renders markdown at the end
	render bool
	// showThinking echoes the thinking trace, dimmed, to stderr
	showThinking bool
}

// askOutput picks the output mode from flags and TTY state.
func askOutput(args Args) askSink {
	return askSink{
		render:       !args.Plain && IsStdoutTTY(),
		showThinking: args.Verbose && IsStdoutTTY(),
	}
}

// runAskExchange drives one streamed exchange through the reconciler and
// prints output per the sink. Shared with the chat REPL.
func runAskExchange(ctx context.Context, client *api.Client, conversationID, modelID string, thinkingMode bool, question string, sink askSink) (*stream.Result, error) {
	frames, err := client.StreamMessage(ctx, &api.StreamRequest{
		ConversationID: conversationID,
		Content:        question,
		ModelID:        modelID,
		ThinkingMode:   thinkingMode,
	})
	if err != nil {
		return nil, err
	}

	hooks := stream.Hooks{}
	if sink.showThinking {
		hooks.OnThinkingChunk = func(chunk string) {
			fmt.Fprint(os.Stderr, thinkingStyle.Render(chunk))
		}
	}
	var printed bool
	if !sink.render {
		hooks.OnContentChunk = func(chunk string) {
			printed = true
			fmt.Print(chunk)
		}
	}

	result, err := stream.New(hooks).Run(ctx, frames)
	if err != nil {
		if printed {
			// Partial tokens already went to stdout, end the line
			fmt.Println()
		}
		return nil, fmt.Errorf("exchange failed: %w", err)
	}

	if sink.render {
		fmt.Print(renderMarkdown(result.Content))
	} else {
		fmt.Println()
	}
	return result, nil
}

// readStdinQuery reads a piped question from stdin.
func readStdinQuery() (string, error) {
	if IsStdinTTY() {
		return "", nil
	}
	data, err := io.ReadAll(io.LimitReader(os.Stdin, maxStdinQuery))
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
