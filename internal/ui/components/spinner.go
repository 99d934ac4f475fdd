// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package components provides UI components for the parley TUI.
package components

import (
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/parley-tui/internal/ui/styles"
)

// =============================================================================
// SPINNER
// =============================================================================

// spinnerFrames is a braille spinner, smooth at 12fps.
var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// asciiFrames is the ASCII fallback for limited terminals.
var asciiFrames = []string{"|", "/", "-", "\\"}

// Spinner is a frame-based loading indicator.
type Spinner struct {
	frames  []string
	frame   int
	label   string
	started time.Time
}

// NewSpinner creates a spinner with the given label.
func NewSpinner(label string) *Spinner {
	return &Spinner{
		frames:  spinnerFrames,
		label:   label,
		started: time.Now(),
	}
}

// UseASCII switches to ASCII frames for terminals without braille support.
func (s *Spinner) UseASCII() {
	s.frames = asciiFrames
	s.frame = 0
}

// Tick advances the animation one frame.
func (s *Spinner) Tick() {
	s.frame = (s.frame + 1) % len(s.frames)
}

// SetLabel updates the label text.
func (s *Spinner) SetLabel(label string) {
	s.label = label
}

// Elapsed returns time since the spinner started.
func (s *Spinner) Elapsed() time.Duration {
	return time.Since(s.started)
}

// View renders the current frame with its label and elapsed seconds.
func (s *Spinner) View() string {
	frame := lipgloss.NewStyle().Foreground(styles.Indigo).Render(s.frames[s.frame])
	label := lipgloss.NewStyle().Foreground(styles.TextSecondary).Render(s.label)

	elapsed := ""
	if secs := int(s.Elapsed().Seconds()); secs >= 2 {
		elapsed = lipgloss.NewStyle().
			Foreground(styles.TextMuted).
			Render(" (" + formatSeconds(secs) + "s)")
	}

	return frame + " " + label + elapsed
}

// formatSeconds converts seconds to a string without fmt.
func formatSeconds(secs int) string {
	if secs <= 0 {
		return "0"
	}
	result := ""
	for secs > 0 {
		result = string(rune('0'+secs%10)) + result
		secs /= 10
	}
	return result
}
