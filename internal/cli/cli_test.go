// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jeranaias/parley-tui/internal/config"
)

func TestParseArgsDefault(t *testing.T) {
	cmd, _ := ParseArgs(nil)
	assert.Equal(t, CmdTUI, cmd)
}

func TestParseArgsAsk(t *testing.T) {
	cmd, args := ParseArgs([]string{"ask", "what", "is", "go"})
	assert.Equal(t, CmdAsk, cmd)
	assert.Equal(t, "what is go", args.Query)
}

func TestParseArgsAskWithModel(t *testing.T) {
	cmd, args := ParseArgs([]string{"ask", "--model", "parley-mini", "hello"})
	assert.Equal(t, CmdAsk, cmd)
	assert.Equal(t, "parley-mini", args.Model)
	assert.Equal(t, "hello", args.Query)

	cmd, args = ParseArgs([]string{"--model=parley-mini", "ask", "hello"})
	assert.Equal(t, CmdAsk, cmd)
	assert.Equal(t, "parley-mini", args.Model)
}

func TestParseArgsSubcommands(t *testing.T) {
	tests := []struct {
		argv []string
		want Command
	}{
		{[]string{"chat"}, CmdChat},
		{[]string{"login"}, CmdLogin},
		{[]string{"logout"}, CmdLogout},
		{[]string{"models"}, CmdModels},
		{[]string{"usage"}, CmdUsage},
		{[]string{"version"}, CmdVersion},
		{[]string{"help"}, CmdHelp},
		{[]string{"--help"}, CmdHelp},
		{[]string{"--version"}, CmdVersion},
	}
	for _, tt := range tests {
		cmd, _ := ParseArgs(tt.argv)
		assert.Equal(t, tt.want, cmd, "argv %v", tt.argv)
	}
}

func TestParseArgsConfigSet(t *testing.T) {
	cmd, args := ParseArgs([]string{"config", "set", "ui.theme", "dark"})
	assert.Equal(t, CmdConfig, cmd)
	assert.Equal(t, "set", args.Subcommand)
	assert.Equal(t, "ui.theme", args.ConfigKey)
	assert.Equal(t, "dark", args.ConfigVal)
}

func TestParseArgsBareQuestionIsAsk(t *testing.T) {
	cmd, args := ParseArgs([]string{"why", "is", "the", "sky", "blue"})
	assert.Equal(t, CmdAsk, cmd)
	assert.Equal(t, "why is the sky blue", args.Query)
}

func TestParseArgsGlobalFlags(t *testing.T) {
	_, args := ParseArgs([]string{"ask", "-q", "--plain", "hi"})
	assert.True(t, args.Quiet)
	assert.True(t, args.Plain)
	assert.Equal(t, "hi", args.Query)
}

func TestSetConfigKey(t *testing.T) {
	cfg := config.Default()

	assert.NoError(t, setConfigKey(cfg, "chat.default_model", "parley-mini"))
	assert.Equal(t, "parley-mini", cfg.Chat.DefaultModel)

	assert.NoError(t, setConfigKey(cfg, "ui.theme", "light"))
	assert.Equal(t, "light", cfg.UI.Theme)

	assert.NoError(t, setConfigKey(cfg, "chat.stream_max_fps", "60"))
	assert.Equal(t, 60, cfg.Chat.StreamMaxFPS)

	assert.NoError(t, setConfigKey(cfg, "ui.syntax_highlighting", "false"))
	assert.False(t, cfg.UI.SyntaxHighlighting)

	assert.NoError(t, setConfigKey(cfg, "chat.thinking_mode", "true"))
	assert.True(t, cfg.Chat.ThinkingMode)
	assert.Error(t, setConfigKey(cfg, "chat.thinking_mode", "extended"))

	assert.Error(t, setConfigKey(cfg, "chat.stream_max_fps", "fast"))
	assert.Error(t, setConfigKey(cfg, "no.such.key", "x"))
}

func TestRenderMarkdownFallback(t *testing.T) {
	// With or without a working renderer the original text survives
	out := renderMarkdown("plain text, no markdown")
	assert.Contains(t, out, "plain text")
}
