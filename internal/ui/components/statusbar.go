// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/parley-tui/internal/ui/styles"
	"github.com/jeranaias/parley-tui/internal/util"
)

// =============================================================================
// STATUS BAR
// =============================================================================

// ConnState is the side-channel connection state shown on the bar.
type ConnState int

const (
	ConnOffline ConnState = iota
	ConnConnecting
	ConnOnline
	ConnRetrying
)

// StatusBar renders the single-line footer: connection state, model,
// thinking mode, token counters, and key hints.
type StatusBar struct {
	Width        int
	Conn         ConnState
	ModelID      string
	Thinking     bool
	PromptTokens int
	OutputTokens int
	Streaming    bool
}

// connSegment renders the connection indicator.
func (s StatusBar) connSegment() string {
	switch s.Conn {
	case ConnOnline:
		return lipgloss.NewStyle().Foreground(styles.Emerald).Bold(true).
			Render(styles.StatusIndicators.Active + " online")
	case ConnConnecting:
		return lipgloss.NewStyle().Foreground(styles.Amber).Bold(true).
			Render(styles.StatusIndicators.Pending + " connecting")
	case ConnRetrying:
		return lipgloss.NewStyle().Foreground(styles.Amber).Bold(true).
			Render(styles.StatusIndicators.Warning + " reconnecting")
	default:
		return lipgloss.NewStyle().Foreground(styles.Rose).Bold(true).
			Render(styles.StatusIndicators.Error + " offline")
	}
}

// View renders the status bar at the configured width.
func (s StatusBar) View() string {
	keyStyle := lipgloss.NewStyle().Foreground(styles.Teal).Bold(true)
	descStyle := lipgloss.NewStyle().Foreground(styles.TextMuted)
	sep := descStyle.Render(" | ")

	left := []string{s.connSegment()}

	if s.ModelID != "" {
		model := s.ModelID
		if s.Thinking {
			model += " (thinking)"
		}
		left = append(left, descStyle.Render(model))
	}

	if s.PromptTokens > 0 || s.OutputTokens > 0 {
		tokens := util.IntToString(s.PromptTokens) + "↑ " + util.IntToString(s.OutputTokens) + "↓"
		left = append(left, descStyle.Render(tokens))
	}

	var hints string
	if s.Streaming {
		hints = keyStyle.Render("Esc") + descStyle.Render(" cancel")
	} else {
		hints = strings.Join([]string{
			keyStyle.Render("C-n") + descStyle.Render(" new"),
			keyStyle.Render("C-o") + descStyle.Render(" threads"),
			keyStyle.Render("C-p") + descStyle.Render(" model"),
			keyStyle.Render("C-e") + descStyle.Render(" edit"),
			keyStyle.Render("C-q") + descStyle.Render(" quit"),
		}, "  ")
	}

	leftStr := strings.Join(left, sep)

	// Right-align the hints when there is room
	gap := s.Width - lipgloss.Width(leftStr) - lipgloss.Width(hints) - 2
	if gap < 1 {
		// Narrow terminal: drop the hints rather than wrap
		return lipgloss.NewStyle().
			Background(styles.SurfaceDim).
			Padding(0, 1).
			MaxWidth(s.Width).
			Render(leftStr)
	}

	bar := leftStr + strings.Repeat(" ", gap) + hints
	return lipgloss.NewStyle().
		Background(styles.SurfaceDim).
		Padding(0, 1).
		Width(s.Width).
		Render(bar)
}
