// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat provides the chat view component for the TUI.
//
// This file implements streaming render pacing. Token deliveries arrive
// far faster than a terminal can usefully redraw; the RenderGate batches
// them so the transcript refreshes at a capped frame rate instead of
// once per token, which eliminates flicker and keeps CPU flat.
package chat

import (
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// =============================================================================
// RENDER GATE
// =============================================================================

const (
	defaultBatchSize = 15
	defaultMaxFPS    = 30
	maxAllowedFPS    = 120
)

// RenderGate decides when the transcript should re-render during a stream.
// Token notifications call Note; the render loop calls ShouldRender, which
// passes when either:
//  1. The batch threshold is reached (e.g. 15 pending updates), or
//  2. Enough time has passed since the last render (1000ms / maxFPS).
//
// Thread-safety: Note is called from the store's notify path (a streaming
// goroutine) while ShouldRender runs on the Bubble Tea loop, so all state
// is mutex-protected.
type RenderGate struct {
	mu         sync.Mutex
	pending    int
	lastRender time.Time

	batchSize   int
	minInterval time.Duration
}

// NewRenderGate creates a gate capped at the given frame rate.
// Out-of-range values fall back to the defaults.
func NewRenderGate(batchSize, maxFPS int) *RenderGate {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if maxFPS <= 0 || maxFPS > maxAllowedFPS {
		maxFPS = defaultMaxFPS
	}
	return &RenderGate{
		batchSize:   batchSize,
		minInterval: time.Second / time.Duration(maxFPS),
		lastRender:  time.Now(),
	}
}

// Note records one pending transcript update.
func (g *RenderGate) Note() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pending++
}

// Pending returns the number of updates waiting for a render.
func (g *RenderGate) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending
}

// ShouldRender reports whether a render is due, and if so consumes the
// pending updates and resets the clock.
func (g *RenderGate) ShouldRender() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.pending == 0 {
		return false
	}
	if g.pending < g.batchSize && time.Since(g.lastRender) < g.minInterval {
		return false
	}

	g.pending = 0
	g.lastRender = time.Now()
	return true
}

// ForceRender consumes pending updates unconditionally. Used when a stream
// completes so the final tokens always reach the screen.
func (g *RenderGate) ForceRender() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	had := g.pending > 0
	g.pending = 0
	g.lastRender = time.Now()
	return had
}

// Reset clears pending updates without rendering.
func (g *RenderGate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pending = 0
	g.lastRender = time.Now()
}

// Interval returns the minimum time between renders.
func (g *RenderGate) Interval() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.minInterval
}

// =============================================================================
// STREAMING TICK COMMAND
// =============================================================================

// streamTickCmd emits StreamTickMsg at the gate's frame rate while a
// stream is active.
func streamTickCmd(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return StreamTickMsg{Time: t}
	})
}

// spinnerTickCmd advances the spinner at 12fps.
func spinnerTickCmd() tea.Cmd {
	return tea.Tick(time.Second/12, func(t time.Time) tea.Msg {
		return SpinnerTickMsg{Time: t}
	})
}
