// parley - A terminal client for the Parley chat platform.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/parley-tui/internal/api"
	"github.com/jeranaias/parley-tui/internal/cli"
	"github.com/jeranaias/parley-tui/internal/config"
	"github.com/jeranaias/parley-tui/internal/model"
	"github.com/jeranaias/parley-tui/internal/storage"
	"github.com/jeranaias/parley-tui/internal/store"
	"github.com/jeranaias/parley-tui/internal/ui/chat"
	"github.com/jeranaias/parley-tui/internal/usage"
	"github.com/jeranaias/parley-tui/internal/ws"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func init() {
	// Sync version info with cli package
	cli.Version = Version
	cli.GitCommit = GitCommit
	cli.BuildDate = BuildDate
}

func main() {
	cmd, args := cli.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v, using defaults\n", err)
		cfg = config.Default()
	}
	config.SetGlobal(cfg)

	switch cmd {
	case cli.CmdTUI:
		exitOn(runTUI(args))
	case cli.CmdAsk:
		exitOn(cli.HandleAsk(args))
	case cli.CmdChat:
		exitOn(cli.HandleChat(args))
	case cli.CmdLogin:
		exitOn(cli.HandleLogin(args))
	case cli.CmdLogout:
		exitOn(cli.HandleLogout(args))
	case cli.CmdModels:
		exitOn(cli.HandleModels(args))
	case cli.CmdUsage:
		exitOn(cli.HandleUsage(args))
	case cli.CmdConfig:
		exitOn(cli.HandleConfig(args))
	case cli.CmdVersion:
		cli.HandleVersion(args)
	case cli.CmdHelp:
		cli.HandleHelp(args)
	}
}

// exitOn prints the error and exits non-zero.
func exitOn(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// =============================================================================
// TUI WIRING
// =============================================================================

// runTUI assembles the dependency graph and runs the Bubble Tea program.
func runTUI(args cli.Args) error {
	cfg := config.Global()

	dir, err := config.ConfigDir()
	if err != nil {
		return err
	}

	vault := storage.NewVault(dir)
	if !vault.HasToken() {
		return fmt.Errorf("not signed in, run: parley login")
	}

	tokenProvider := func() string {
		token, err := vault.LoadToken()
		if err != nil {
			return ""
		}
		return token
	}

	client := api.NewClient(tokenProvider)
	client.WithBaseURL(cfg.Server.APIURL)
	if cfg.Debug {
		client.WithDebug(true)
	}

	prefs := storage.NewPrefs(filepath.Join(dir, "state"))

	// The ledger is optional; a broken local database never blocks chat
	ledger, err := usage.Open(filepath.Join(dir, "usage.db"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: usage ledger unavailable: %v\n", err)
		ledger = nil
	}

	st := store.New(client)
	st.WithModel(startingModel(args, prefs, cfg))
	st.WithThinkingMode(cfg.Chat.ThinkingMode)
	if ledger != nil {
		st.WithUsageFn(func(modelID string, u model.Usage) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := ledger.Record(ctx, modelID, u); err != nil && cfg.Debug {
				fmt.Fprintf(os.Stderr, "warning: usage record failed: %v\n", err)
			}
		})
	}

	channel := ws.New(cfg.Server.WSURL, tokenProvider)

	m := chat.New(chat.Deps{
		Store:   st,
		Client:  client,
		Channel: channel,
		Prefs:   prefs,
		Ledger:  ledger,
		Config:  cfg,
	})

	// Live config reload: edits to ~/.parley/config.toml apply to the
	// next exchange without restarting
	if path, err := config.PathTOML(); err == nil {
		if watcher, err := config.NewWatcher(path); err == nil {
			defer watcher.Close()
			go func() {
				for next := range watcher.Reloads() {
					config.SetGlobal(next)
					st.WithThinkingMode(next.Chat.ThinkingMode)
				}
			}()
		}
	}

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion())
	_, runErr := p.Run()

	m.Close()
	if ledger != nil {
		ledger.Close()
	}
	return runErr
}

// startingModel picks the model for the session: explicit flag, then the
// last model used on this machine, then the configured default.
func startingModel(args cli.Args, prefs *storage.Prefs, cfg *config.Config) string {
	if args.Model != "" {
		return args.Model
	}
	if last := prefs.LastModel(); last != "" {
		return last
	}
	return cfg.Chat.DefaultModel
}
