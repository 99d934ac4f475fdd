// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - CLI parsing and command handlers for parley.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/jeranaias/parley-tui/internal/api"
	"github.com/jeranaias/parley-tui/internal/config"
	"github.com/jeranaias/parley-tui/internal/storage"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command represents the CLI command to execute.
type Command int

const (
	CmdTUI Command = iota
	CmdAsk
	CmdChat
	CmdLogin
	CmdLogout
	CmdModels
	CmdUsage
	CmdConfig
	CmdVersion
	CmdHelp
)

// Args holds parsed CLI arguments.
type Args struct {
	// Global flags
	Quiet   bool
	Verbose bool
	Model   string
	Plain   bool // Disable markdown rendering for ask output

	// Command-specific
	Query      string
	Subcommand string
	ConfigKey  string
	ConfigVal  string

	// Raw args (remaining after flag parsing)
	Raw []string
}

const usageText = `parley - terminal client for the Parley chat platform

Usage:
  parley                     Start the chat TUI (default)
  parley ask "question"      Ask a single question and print the answer
  parley chat                Interactive chat in the plain terminal
  parley login               Sign in and store the session token
  parley logout              Sign out and delete the stored token
  parley models              List available models
  parley usage               Show account and local usage
  parley config [show|set]   Configuration
  parley version             Show version
  parley help                Show this help

Ask:
  parley ask "question"      Ask with the default model
    --model ID               Override the model for this question
    --plain                  Print raw text, no markdown rendering
  echo "question" | parley ask
                             Read the question from stdin

Chat:
  parley chat                REPL with history and line editing
    --model ID               Override the starting model
  Slash commands inside chat: /new /model <id> /models /usage /help /quit

Config:
  parley config show         Print the active configuration
  parley config set K V      Set a key (e.g. chat.default_model, ui.theme)
  parley config path         Print the config file path

Global flags:
  --model ID                 Model override
  --quiet, -q                Suppress informational output
  --verbose, -v              Verbose output

Files:
  ~/.parley/config.toml      Configuration
  ~/.parley/token.enc        Encrypted session token
  ~/.parley/usage.db         Local usage ledger
`

// Parse parses os.Args into a command and arguments.
func Parse() (Command, Args) {
	return ParseArgs(os.Args[1:])
}

// ParseArgs parses the given argument list. Split out from Parse for
// testing.
func ParseArgs(argv []string) (Command, Args) {
	args := Args{}

	var positional []string
	for i := 0; i < len(argv); i++ {
		arg := argv[i]
		switch {
		case arg == "--quiet" || arg == "-q":
			args.Quiet = true
		case arg == "--verbose" || arg == "-v":
			args.Verbose = true
		case arg == "--plain":
			args.Plain = true
		case arg == "--model" || arg == "-m":
			if i+1 < len(argv) {
				i++
				args.Model = argv[i]
			}
		case strings.HasPrefix(arg, "--model="):
			args.Model = strings.TrimPrefix(arg, "--model=")
		case arg == "--help" || arg == "-h":
			return CmdHelp, args
		case arg == "--version":
			return CmdVersion, args
		default:
			positional = append(positional, arg)
		}
	}

	if len(positional) == 0 {
		return CmdTUI, args
	}

	cmd := positional[0]
	rest := positional[1:]
	args.Raw = rest

	switch cmd {
	case "ask":
		args.Query = strings.Join(rest, " ")
		return CmdAsk, args
	case "chat":
		return CmdChat, args
	case "login":
		return CmdLogin, args
	case "logout":
		return CmdLogout, args
	case "models":
		return CmdModels, args
	case "usage":
		return CmdUsage, args
	case "config":
		if len(rest) > 0 {
			args.Subcommand = rest[0]
		}
		if len(rest) > 1 {
			args.ConfigKey = rest[1]
		}
		if len(rest) > 2 {
			args.ConfigVal = strings.Join(rest[2:], " ")
		}
		return CmdConfig, args
	case "version":
		return CmdVersion, args
	case "help":
		return CmdHelp, args
	default:
		// Unknown command: treat a bare question as ask for convenience
		args.Query = strings.Join(positional, " ")
		return CmdAsk, args
	}
}

// HandleHelp prints usage.
func HandleHelp(_ Args) {
	fmt.Print(usageText)
}

// HandleVersion prints version information.
func HandleVersion(_ Args) {
	fmt.Printf("parley %s (commit %s, built %s)\n", Version, GitCommit, BuildDate)
}

// =============================================================================
// SHARED WIRING
// =============================================================================

// newVault opens the token vault in the config directory.
func newVault() (*storage.Vault, error) {
	dir, err := config.ConfigDir()
	if err != nil {
		return nil, err
	}
	return storage.NewVault(dir), nil
}

// newClient builds an authenticated API client backed by the vault.
// Handlers that need auth check client.IsAuthenticated and tell the user
// to run parley login.
func newClient(cfg *config.Config) (*api.Client, *storage.Vault, error) {
	vault, err := newVault()
	if err != nil {
		return nil, nil, err
	}

	client := api.NewClient(func() string {
		token, err := vault.LoadToken()
		if err != nil {
			return ""
		}
		return token
	})
	client.WithBaseURL(cfg.Server.APIURL)
	if cfg.Debug {
		client.WithDebug(true)
	}
	return client, vault, nil
}

// requireAuth exits with a hint when no session token is stored.
func requireAuth(client *api.Client) error {
	if !client.IsAuthenticated() {
		return fmt.Errorf("not signed in, run: parley login")
	}
	return nil
}
