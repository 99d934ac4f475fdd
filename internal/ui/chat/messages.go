// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat provides the chat view component for the TUI.
//
// This file defines all Bubble Tea message types used by the chat
// interface. Messages are organized into the following categories:
//   - Store: change notifications and operation outcomes
//   - Models and usage: picker data and billing summaries
//   - Side channel: WebSocket lifecycle and server events
//   - Rendering: stream and spinner ticks
package chat

import (
	"time"

	"github.com/jeranaias/parley-tui/internal/api"
	"github.com/jeranaias/parley-tui/internal/model"
	"github.com/jeranaias/parley-tui/internal/usage"
	"github.com/jeranaias/parley-tui/internal/ws"
)

// =============================================================================
// STORE MESSAGES
// =============================================================================

// StoreChangedMsg signals that the conversation store mutated and the
// transcript should re-render. Delivered coalesced: many store updates may
// collapse into one message.
type StoreChangedMsg struct{}

// SendFinishedMsg reports the outcome of a full send exchange.
type SendFinishedMsg struct {
	Err error
}

// RefreshedMsg reports the outcome of a conversation list reload.
type RefreshedMsg struct {
	Err error
}

// ConversationOpenedMsg reports opening a conversation thread.
type ConversationOpenedMsg struct {
	ID  string
	Err error
}

// ConversationDeletedMsg reports a thread deletion.
type ConversationDeletedMsg struct {
	ID  string
	Err error
}

// TitleUpdatedMsg reports a rename.
type TitleUpdatedMsg struct {
	Err error
}

// TruncatedMsg reports a history truncation.
type TruncatedMsg struct {
	Err error
}

// EditFinishedMsg reports an edit-and-resend exchange.
type EditFinishedMsg struct {
	Err error
}

// =============================================================================
// MODELS AND USAGE
// =============================================================================

// ModelsLoadedMsg delivers the available model list for the picker.
type ModelsLoadedMsg struct {
	Models []model.ModelInfo
	Err    error
}

// UsageLoadedMsg delivers the account summary plus the local ledger view.
type UsageLoadedMsg struct {
	Account *api.UsageSummary
	Local   usage.Totals
	ByModel []usage.ModelTotals
	Err     error
}

// =============================================================================
// SIDE CHANNEL MESSAGES
// =============================================================================

// WsStatusMsg reports a side-channel connection state change.
type WsStatusMsg struct {
	Event ws.StatusEvent
}

// WsEventMsg delivers a server push event.
type WsEventMsg struct {
	Envelope ws.Envelope
}

// WsClosedMsg signals that the side channel loop exited.
type WsClosedMsg struct {
	Err error
}

// =============================================================================
// RENDERING TICKS
// =============================================================================

// StreamTickMsg paces transcript re-renders while a stream is active, so
// token bursts do not redraw the viewport thousands of times a second.
type StreamTickMsg struct {
	Time time.Time
}

// SpinnerTickMsg advances the spinner animation.
type SpinnerTickMsg struct {
	Time time.Time
}
