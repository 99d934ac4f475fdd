// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// info.go - models, usage, and config inspection commands.
package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jeranaias/parley-tui/internal/api"
	"github.com/jeranaias/parley-tui/internal/config"
	"github.com/jeranaias/parley-tui/internal/usage"
	"github.com/jeranaias/parley-tui/internal/util"
)

const infoTimeout = 10 * time.Second

// =============================================================================
// MODELS
// =============================================================================

// HandleModels lists the model catalog.
func HandleModels(args Args) error {
	cfg := config.Global()
	client, _, err := newClient(cfg)
	if err != nil {
		return err
	}
	if err := requireAuth(client); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), infoTimeout)
	defer cancel()

	models, err := client.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("failed to list models: %w", err)
	}

	for _, info := range models {
		name := info.Name
		if name == "" {
			name = info.ID
		}
		line := valueStyle.Render(info.ID)
		if name != info.ID {
			line += "  " + labelStyle.Render(name)
		}
		if info.ID == cfg.Chat.DefaultModel {
			line += "  " + mutedStyle.Render("(default)")
		}
		if info.ContextSize > 0 {
			line += "  " + mutedStyle.Render(util.IntToString(info.ContextSize)+" ctx")
		}
		fmt.Println(line)
		if args.Verbose && (info.PromptPrice > 0 || info.OutputPrice > 0) {
			fmt.Println(mutedStyle.Render("    $" +
				util.FloatToStringPrec(info.PromptPrice, 4) + "/1k prompt, $" +
				util.FloatToStringPrec(info.OutputPrice, 4) + "/1k output"))
		}
	}
	return nil
}

// =============================================================================
// USAGE
// =============================================================================

// HandleUsage prints the account usage summary plus the local ledger
// totals when the ledger exists.
func HandleUsage(args Args) error {
	cfg := config.Global()
	client, _, err := newClient(cfg)
	if err != nil {
		return err
	}
	if err := requireAuth(client); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), infoTimeout)
	defer cancel()

	summary, err := client.GetUsage(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch usage: %w", err)
	}
	printUsageSummary(summary)

	// Local ledger is best-effort, the account view stands alone
	dir, err := config.ConfigDir()
	if err != nil {
		return nil
	}
	ledger, err := usage.Open(filepath.Join(dir, "usage.db"))
	if err != nil {
		return nil
	}
	defer ledger.Close()

	totals, err := ledger.Totals(ctx)
	if err != nil || totals.Exchanges == 0 {
		return nil
	}

	fmt.Println()
	fmt.Println(labelStyle.Render("this machine"))
	fmt.Println("  exchanges:  " + util.IntToString(totals.Exchanges))
	fmt.Println("  tokens:     " + util.IntToString(totals.TotalTokens))

	if byModel, err := ledger.TotalsByModel(ctx); err == nil {
		for _, mt := range byModel {
			fmt.Println(mutedStyle.Render("    " + mt.ModelID + ": " + util.IntToString(mt.TotalTokens)))
		}
	}

	if args.Verbose {
		if days, err := ledger.TotalsByDay(ctx, 7); err == nil && len(days) > 0 {
			fmt.Println("  last 7 days:")
			for _, d := range days {
				fmt.Println(mutedStyle.Render("    " + d.Day + ": " + util.IntToString(d.TotalTokens)))
			}
		}
	}
	return nil
}

// printUsageSummary prints the server-side billing view.
func printUsageSummary(summary *api.UsageSummary) {
	fmt.Println(labelStyle.Render("account usage"))
	if !summary.PeriodStart.IsZero() {
		fmt.Println(mutedStyle.Render("  period " +
			summary.PeriodStart.Local().Format("Jan 2") + " to " +
			summary.PeriodEnd.Local().Format("Jan 2")))
	}
	fmt.Println("  prompt tokens:      " + util.IntToString(summary.PromptTokens))
	fmt.Println("  completion tokens:  " + util.IntToString(summary.CompletionTokens))
	fmt.Println("  cost:               $" + util.FloatToStringPrec(summary.TotalCost, 4))
	fmt.Println("  credits remaining:  " + valueStyle.Render("$"+util.FloatToStringPrec(summary.CreditsRemaining, 2)))
}

// =============================================================================
// CONFIG
// =============================================================================

// HandleConfig shows or edits the configuration file.
func HandleConfig(args Args) error {
	cfg := config.Global()

	switch args.Subcommand {
	case "", "show":
		printConfig(cfg)
		return nil

	case "path":
		path, err := config.PathTOML()
		if err != nil {
			return err
		}
		fmt.Println(path)
		return nil

	case "set":
		if args.ConfigKey == "" || args.ConfigVal == "" {
			return fmt.Errorf("usage: parley config set <key> <value>")
		}
		if err := setConfigKey(cfg, args.ConfigKey, args.ConfigVal); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := cfg.Save(); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		fmt.Println(valueStyle.Render("[OK]") + " " + args.ConfigKey + " = " + args.ConfigVal)
		return nil

	default:
		return fmt.Errorf("unknown config subcommand %q, try show, set, or path", args.Subcommand)
	}
}

func printConfig(cfg *config.Config) {
	fmt.Println(labelStyle.Render("server"))
	fmt.Println("  api_url:          " + cfg.Server.APIURL)
	fmt.Println("  ws_url:           " + cfg.Server.WSURL)
	fmt.Println("  timeout_seconds:  " + util.IntToString(cfg.Server.TimeoutSeconds))
	fmt.Println(labelStyle.Render("chat"))
	fmt.Println("  default_model:    " + cfg.Chat.DefaultModel)
	fmt.Println("  thinking_mode:    " + strconv.FormatBool(cfg.Chat.ThinkingMode))
	fmt.Println("  stream_max_fps:   " + util.IntToString(cfg.Chat.StreamMaxFPS))
	fmt.Println(labelStyle.Render("ui"))
	fmt.Println("  theme:            " + cfg.UI.Theme)
	fmt.Println("  compact_mode:     " + strconv.FormatBool(cfg.UI.CompactMode))
	fmt.Println("  show_timestamps:  " + strconv.FormatBool(cfg.UI.ShowTimestamps))
	fmt.Println("  syntax_highlighting: " + strconv.FormatBool(cfg.UI.SyntaxHighlighting))
}

// setConfigKey applies one dotted-key assignment.
func setConfigKey(cfg *config.Config, key, value string) error {
	switch strings.ToLower(key) {
	case "server.api_url":
		cfg.Server.APIURL = value
	case "server.ws_url":
		cfg.Server.WSURL = value
	case "server.timeout_seconds":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid number %q for %s", value, key)
		}
		cfg.Server.TimeoutSeconds = n
	case "chat.default_model":
		cfg.Chat.DefaultModel = value
	case "chat.thinking_mode":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean %q for %s", value, key)
		}
		cfg.Chat.ThinkingMode = b
	case "chat.stream_max_fps":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid number %q for %s", value, key)
		}
		cfg.Chat.StreamMaxFPS = n
	case "ui.theme":
		cfg.UI.Theme = value
	case "ui.compact_mode", "ui.show_timestamps", "ui.syntax_highlighting", "debug":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean %q for %s", value, key)
		}
		switch strings.ToLower(key) {
		case "ui.compact_mode":
			cfg.UI.CompactMode = b
		case "ui.show_timestamps":
			cfg.UI.ShowTimestamps = b
		case "ui.syntax_highlighting":
			cfg.UI.SyntaxHighlighting = b
		case "debug":
			cfg.Debug = b
		}
	default:
		return fmt.Errorf("unknown config key %q", key)
	}
	return nil
}
