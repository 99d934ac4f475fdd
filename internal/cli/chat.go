// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - interactive chat REPL for plain terminals. The TUI is the
// primary surface; this exists for SSH sessions and minimal environments.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/peterh/liner"

	"github.com/jeranaias/parley-tui/internal/api"
	"github.com/jeranaias/parley-tui/internal/config"
	"github.com/jeranaias/parley-tui/internal/util"
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// ChatCLI provides input history and line editing for interactive chat.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a ChatCLI with input history support.
func NewChatCLI() *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	configDir, err := config.ConfigDir()
	if err != nil {
		// Fallback to temp directory if config dir unavailable
		configDir = os.TempDir()
	}

	cli := &ChatCLI{
		line:        line,
		historyFile: filepath.Join(configDir, "chat_history"),
	}
	cli.LoadHistory()
	return cli
}

// LoadHistory loads command history from file.
func (c *ChatCLI) LoadHistory() {
	if f, err := os.Open(c.historyFile); err == nil {
		c.line.ReadHistory(f)
		f.Close()
	}
}

// ReadInput reads a line of input with the given prompt. Arrow keys
// navigate history.
func (c *ChatCLI) ReadInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// SaveHistory persists command history with owner-only permissions.
func (c *ChatCLI) SaveHistory() {
	f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	c.line.WriteHistory(f)
}

// Close saves history and closes the liner.
func (c *ChatCLI) Close() {
	c.SaveHistory()
	c.line.Close()
}

// =============================================================================
// SESSION STATE
// =============================================================================

// chatSession holds the state for one interactive chat session.
type chatSession struct {
	client *api.Client
	cfg    *config.Config
	input  *ChatCLI

	// ConversationID carries the thread across turns; empty until the
	// backend creates the conversation on the first exchange.
	conversationID string

	modelID      string
	thinkingMode bool
	quiet        bool

	exchanges int
	startTime time.Time

	// cancelFunc aborts the in-flight exchange, set only while streaming
	cancelFunc context.CancelFunc
}

// =============================================================================
// CHAT HANDLER
// =============================================================================

// HandleChat runs the interactive REPL until the user quits.
func HandleChat(args Args) error {
	if !IsStdinTTY() {
		return fmt.Errorf("chat requires an interactive terminal, use: parley ask")
	}

	cfg := config.Global()
	client, _, err := newClient(cfg)
	if err != nil {
		return err
	}
	if err := requireAuth(client); err != nil {
		return err
	}

	modelID := args.Model
	if modelID == "" {
		modelID = cfg.Chat.DefaultModel
	}

	session := &chatSession{
		client:       client,
		cfg:          cfg,
		input:        NewChatCLI(),
		modelID:      modelID,
		thinkingMode: cfg.Chat.ThinkingMode,
		quiet:        args.Quiet,
		startTime:    time.Now(),
	}
	defer session.input.Close()

	if !session.quiet {
		fmt.Println(labelStyle.Render("parley chat") + mutedStyle.Render("  model "+session.modelID+"  /help for commands"))
	}

	// First Ctrl+C mid-stream cancels the exchange, not the session
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		for range sigChan {
			if session.cancelFunc != nil {
				session.cancelFunc()
				session.cancelFunc = nil
				fmt.Fprintln(os.Stderr, "\n"+warningStyle.Render("[cancelled]"))
			}
		}
	}()

	for {
		input, err := session.input.ReadInput(promptStyle.Render("parley> "))
		if err != nil {
			// Ctrl+C at the prompt or EOF ends the session
			fmt.Println()
			session.printExitSummary()
			return nil
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			keepGoing, err := session.handleSlashCommand(input)
			if err != nil {
				fmt.Fprintln(os.Stderr, errorStyle.Render("[error]")+" "+err.Error())
			}
			if !keepGoing {
				session.printExitSummary()
				return nil
			}
			continue
		}

		if strings.EqualFold(input, "exit") || strings.EqualFold(input, "quit") {
			session.printExitSummary()
			return nil
		}

		if err := session.processMessage(input); err != nil {
			fmt.Fprintln(os.Stderr, errorStyle.Render("[error]")+" "+err.Error())
		}
	}
}

// processMessage runs one exchange and prints the streamed answer.
func (s *chatSession) processMessage(input string) error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelFunc = cancel
	defer func() {
		s.cancelFunc = nil
		cancel()
	}()

	fmt.Println()

	// REPL streams tokens live; markdown re-rendering mid-conversation
	// would reflow text the user is already reading
	sink := askSink{render: false}

	result, err := runAskExchange(ctx, s.client, s.conversationID, s.modelID, s.thinkingMode, input, sink)
	if err != nil {
		if ctx.Err() == context.Canceled {
			return nil
		}
		return err
	}

	if result.ConversationID != "" {
		s.conversationID = result.ConversationID
	}
	s.exchanges++
	fmt.Println()
	return nil
}

// handleSlashCommand dispatches /commands. Returns false to end the
// session.
func (s *chatSession) handleSlashCommand(input string) (bool, error) {
	fields := strings.Fields(input)
	cmd := fields[0]
	arg := ""
	if len(fields) > 1 {
		arg = strings.Join(fields[1:], " ")
	}

	switch cmd {
	case "/quit", "/exit":
		return false, nil

	case "/new":
		s.conversationID = ""
		fmt.Println(mutedStyle.Render("started a new conversation"))
		return true, nil

	case "/model":
		if arg == "" {
			fmt.Println(labelStyle.Render("model: ") + valueStyle.Render(s.modelID))
			return true, nil
		}
		s.modelID = arg
		fmt.Println(mutedStyle.Render("switched to " + arg + " for new exchanges"))
		return true, nil

	case "/models":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		models, err := s.client.ListModels(ctx)
		if err != nil {
			return true, err
		}
		for _, info := range models {
			line := "  " + info.ID
			if info.ID == s.modelID {
				line += valueStyle.Render(" (current)")
			}
			if info.ContextSize > 0 {
				line += mutedStyle.Render("  " + util.IntToString(info.ContextSize) + " ctx")
			}
			fmt.Println(line)
		}
		return true, nil

	case "/usage":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		summary, err := s.client.GetUsage(ctx)
		if err != nil {
			return true, err
		}
		printUsageSummary(summary)
		return true, nil

	case "/help":
		fmt.Println(mutedStyle.Render("  /new            start a new conversation"))
		fmt.Println(mutedStyle.Render("  /model [id]     show or switch the model"))
		fmt.Println(mutedStyle.Render("  /models         list available models"))
		fmt.Println(mutedStyle.Render("  /usage          show account usage"))
		fmt.Println(mutedStyle.Render("  /quit           end the session"))
		return true, nil

	default:
		return true, fmt.Errorf("unknown command %s, try /help", cmd)
	}
}

// printExitSummary prints session statistics on the way out.
func (s *chatSession) printExitSummary() {
	if s.quiet || s.exchanges == 0 {
		return
	}
	elapsed := time.Since(s.startTime).Round(time.Second)
	fmt.Println(mutedStyle.Render(
		util.IntToString(s.exchanges) + " exchanges in " + elapsed.String()))
}
