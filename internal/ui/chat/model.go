// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat provides the chat view component for the TUI.
package chat

import (
	"context"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/parley-tui/internal/api"
	"github.com/jeranaias/parley-tui/internal/config"
	"github.com/jeranaias/parley-tui/internal/storage"
	"github.com/jeranaias/parley-tui/internal/store"
	"github.com/jeranaias/parley-tui/internal/ui/components"
	"github.com/jeranaias/parley-tui/internal/ui/styles"
	"github.com/jeranaias/parley-tui/internal/usage"
	"github.com/jeranaias/parley-tui/internal/ws"
)

// =============================================================================
// VIEW MODES
// =============================================================================

// viewMode selects which surface has focus.
type viewMode int

const (
	modeChat viewMode = iota
	modeThreads
	modeModels
	modeUsage
)

// =============================================================================
// CHAT MODEL
// =============================================================================

// Deps carries everything the chat model needs. Channel and Ledger may be
// nil; the corresponding surfaces degrade gracefully.
type Deps struct {
	Store   *store.Store
	Client  *api.Client
	Channel *ws.Channel
	Prefs   *storage.Prefs
	Ledger  *usage.Ledger
	Config  *config.Config
}

// Model is the root Bubble Tea model for the chat TUI.
type Model struct {
	deps  Deps
	theme *styles.Theme
	keys  KeyMap

	ctx    context.Context
	cancel context.CancelFunc

	// Stream cancellation, set while an exchange is in flight
	streamCancel context.CancelFunc

	input    textarea.Model
	viewport viewport.Model
	spinner  *components.Spinner
	toasts   *components.ToastManager
	gate     *RenderGate

	// Coalesced store change notifications
	storeCh     chan struct{}
	unsubscribe func()

	mode viewMode

	// Overlay state
	pickIndex int
	models    ModelsLoadedMsg
	usageData UsageLoadedMsg

	// Edit-and-resend: index of the message being edited, -1 when idle
	editIndex int

	// True while a StreamTickMsg is outstanding
	tickPending bool

	conn components.ConnState

	width  int
	height int
	ready  bool
}

// New builds the chat model and subscribes to the store.
func New(deps Deps) *Model {
	cfg := deps.Config
	theme := styles.NewTheme(cfg.UI.Theme)

	input := textarea.New()
	input.Placeholder = "Message Parley… (/help for commands)"
	input.CharLimit = 0
	input.SetHeight(3)
	input.ShowLineNumbers = false
	input.Focus()

	ctx, cancel := context.WithCancel(context.Background())

	m := &Model{
		deps:      deps,
		theme:     theme,
		keys:      DefaultKeyMap(),
		ctx:       ctx,
		cancel:    cancel,
		input:     input,
		spinner:   components.NewSpinner("waiting for Parley"),
		toasts:    components.NewToastManager(),
		gate:      NewRenderGate(defaultBatchSize, cfg.Chat.StreamMaxFPS),
		storeCh:   make(chan struct{}, 1),
		editIndex: -1,
		conn:      components.ConnOffline,
	}

	m.unsubscribe = deps.Store.Subscribe(func() {
		m.gate.Note()
		select {
		case m.storeCh <- struct{}{}:
		default:
		}
	})

	// Restore the draft for the thread open at last exit
	if deps.Prefs != nil {
		if draft := deps.Prefs.Draft(deps.Store.CurrentID()); draft != "" {
			m.input.SetValue(draft)
		}
	}

	return m
}

// Init starts the background loops: store watcher, side channel, initial
// conversation load.
func (m *Model) Init() tea.Cmd {
	cmds := []tea.Cmd{
		waitStoreCmd(m.storeCh),
		refreshCmd(m.ctx, m.deps.Store),
		spinnerTickCmd(),
	}
	if m.deps.Channel != nil {
		m.conn = components.ConnConnecting
		cmds = append(cmds,
			runChannelCmd(m.ctx, m.deps.Channel),
			waitChannelStatusCmd(m.deps.Channel),
			waitChannelEventCmd(m.deps.Channel),
		)
	}
	return tea.Batch(cmds...)
}

// Close tears down subscriptions and saves the open draft.
func (m *Model) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
	if m.deps.Prefs != nil {
		m.deps.Prefs.SetDraft(m.deps.Store.CurrentID(), m.input.Value())
		m.deps.Prefs.SetLastConversation(m.deps.Store.CurrentID())
	}
	m.cancel()
}

// streaming reports whether an exchange is in flight right now.
func (m *Model) streaming() bool {
	return m.deps.Store.Snapshot().Streaming
}

// saveDraft persists the current input for the current thread.
func (m *Model) saveDraft() {
	if m.deps.Prefs != nil {
		m.deps.Prefs.SetDraft(m.deps.Store.CurrentID(), m.input.Value())
	}
}

// restoreDraft loads the saved draft for the current thread into the input.
func (m *Model) restoreDraft() {
	if m.deps.Prefs == nil {
		return
	}
	m.input.SetValue(m.deps.Prefs.Draft(m.deps.Store.CurrentID()))
	m.input.CursorEnd()
}
