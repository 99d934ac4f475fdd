// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/parley-tui/internal/model"
	"github.com/jeranaias/parley-tui/internal/store"
	"github.com/jeranaias/parley-tui/internal/ui/components"
	"github.com/jeranaias/parley-tui/internal/ws"
)

// Update is the Bubble Tea update loop.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		return m.handleResize(msg)

	case tea.KeyMsg:
		return m.handleKey(msg)

	case StoreChangedMsg:
		return m.handleStoreChanged()

	case StreamTickMsg:
		m.tickPending = false
		if m.gate.ShouldRender() || m.gate.Pending() > 0 {
			m.renderTranscript(true)
		}
		if m.streaming() {
			m.tickPending = true
			return m, streamTickCmd(m.gate.Interval())
		}
		return m, nil

	case SpinnerTickMsg:
		if m.streaming() {
			m.spinner.Tick()
			return m, spinnerTickCmd()
		}
		return m, nil

	case SendFinishedMsg:
		return m.handleExchangeDone(msg.Err, "send failed")

	case EditFinishedMsg:
		return m.handleExchangeDone(msg.Err, "edit failed")

	case RefreshedMsg:
		if msg.Err != nil {
			return m, m.toast(components.NewErrorToast("refresh failed: " + msg.Err.Error()))
		}
		m.renderTranscript(false)
		return m, nil

	case ConversationOpenedMsg:
		if msg.Err != nil {
			return m, m.toast(components.NewErrorToast("open failed: " + msg.Err.Error()))
		}
		m.mode = modeChat
		m.restoreDraft()
		m.renderTranscript(false)
		m.viewport.GotoBottom()
		if m.deps.Prefs != nil {
			m.deps.Prefs.SetLastConversation(msg.ID)
		}
		return m, nil

	case ConversationDeletedMsg:
		if msg.Err != nil {
			return m, m.toast(components.NewErrorToast("delete failed: " + msg.Err.Error()))
		}
		m.renderTranscript(false)
		return m, m.toast(components.NewSuccessToast("conversation deleted"))

	case TitleUpdatedMsg:
		if msg.Err != nil {
			return m, m.toast(components.NewErrorToast("rename failed: " + msg.Err.Error()))
		}
		return m, m.toast(components.NewSuccessToast("title updated"))

	case TruncatedMsg:
		if msg.Err != nil {
			return m, m.toast(components.NewErrorToast("truncate failed: " + msg.Err.Error()))
		}
		m.renderTranscript(false)
		return m, nil

	case ModelsLoadedMsg:
		m.models = msg
		if msg.Err != nil {
			m.mode = modeChat
			return m, m.toast(components.NewErrorToast("model list failed: " + msg.Err.Error()))
		}
		if m.pickIndex >= len(msg.Models) {
			m.pickIndex = 0
		}
		return m, nil

	case UsageLoadedMsg:
		m.usageData = msg
		if msg.Err != nil {
			m.mode = modeChat
			return m, m.toast(components.NewErrorToast("usage failed: " + msg.Err.Error()))
		}
		return m, nil

	case WsStatusMsg:
		return m.handleWsStatus(msg.Event)

	case WsEventMsg:
		return m.handleWsEvent(msg.Envelope)

	case WsClosedMsg:
		m.conn = components.ConnOffline
		if msg.Err != nil {
			return m, m.toast(components.NewWarningToast("notifications offline: " + msg.Err.Error()))
		}
		return m, nil

	case components.ToastTickMsg:
		m.toasts.Tick()
		if m.toasts.HasToasts() {
			return m, components.ToastTickCmd()
		}
		return m, nil
	}

	// Everything else goes to the focused component
	var cmd tea.Cmd
	if m.mode == modeChat {
		m.input, cmd = m.input.Update(msg)
	}
	return m, cmd
}

// =============================================================================
// HANDLERS
// =============================================================================

func (m *Model) handleResize(msg tea.WindowSizeMsg) (tea.Model, tea.Cmd) {
	m.width = msg.Width
	m.height = msg.Height
	m.theme.SetSize(msg.Width, msg.Height)

	inputHeight := m.input.Height() + 2
	viewportHeight := msg.Height - 1 - inputHeight - 1
	if viewportHeight < 3 {
		viewportHeight = 3
	}

	if !m.ready {
		m.viewport = newViewport(msg.Width, viewportHeight)
		m.ready = true
	} else {
		m.viewport.Width = msg.Width
		m.viewport.Height = viewportHeight
	}
	m.input.SetWidth(msg.Width - 4)

	m.renderTranscript(false)
	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Quit) {
		m.Close()
		return m, tea.Quit
	}

	switch m.mode {
	case modeThreads:
		return m.handleThreadsKey(msg)
	case modeModels:
		return m.handleModelsKey(msg)
	case modeUsage:
		if key.Matches(msg, m.keys.Cancel) || msg.String() == "q" {
			m.mode = modeChat
		}
		return m, nil
	}

	// Chat mode
	switch {
	case key.Matches(msg, m.keys.Cancel):
		if m.streaming() && m.streamCancel != nil {
			m.streamCancel()
			return m, nil
		}
		if m.editIndex >= 0 {
			m.editIndex = -1
			m.restoreDraft()
			return m, m.toast(components.NewStatusToast("edit cancelled"))
		}
		return m, nil

	case key.Matches(msg, m.keys.Submit):
		return m.handleSubmit()

	case key.Matches(msg, m.keys.NewConv):
		m.saveDraft()
		m.deps.Store.NewConversation()
		m.input.Reset()
		m.editIndex = -1
		m.renderTranscript(false)
		return m, nil

	case key.Matches(msg, m.keys.Threads):
		m.mode = modeThreads
		m.pickIndex = 0
		return m, refreshCmd(m.ctx, m.deps.Store)

	case key.Matches(msg, m.keys.Models):
		m.mode = modeModels
		return m, listModelsCmd(m.deps.Client)

	case key.Matches(msg, m.keys.Usage):
		m.mode = modeUsage
		return m, usageCmd(m.deps.Client, m.deps.Ledger)

	case key.Matches(msg, m.keys.EditLast):
		return m.beginEditLast()

	case key.Matches(msg, m.keys.PageUp):
		m.viewport.HalfViewUp()
		return m, nil

	case key.Matches(msg, m.keys.PageDown):
		m.viewport.HalfViewDown()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) handleThreadsKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	view := m.deps.Store.Snapshot()
	switch {
	case key.Matches(msg, m.keys.Cancel):
		m.mode = modeChat
	case key.Matches(msg, m.keys.Up):
		if m.pickIndex > 0 {
			m.pickIndex--
		}
	case key.Matches(msg, m.keys.Down):
		if m.pickIndex < len(view.Conversations)-1 {
			m.pickIndex++
		}
	case key.Matches(msg, m.keys.Submit):
		if m.pickIndex < len(view.Conversations) {
			m.saveDraft()
			id := view.Conversations[m.pickIndex].ID
			return m, openConversationCmd(m.ctx, m.deps.Store, id)
		}
	case msg.String() == "d":
		if m.pickIndex < len(view.Conversations) {
			id := view.Conversations[m.pickIndex].ID
			return m, deleteConversationCmd(m.ctx, m.deps.Store, id)
		}
	}
	return m, nil
}

func (m *Model) handleModelsKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Cancel):
		m.mode = modeChat
	case key.Matches(msg, m.keys.Up):
		if m.pickIndex > 0 {
			m.pickIndex--
		}
	case key.Matches(msg, m.keys.Down):
		if m.pickIndex < len(m.models.Models)-1 {
			m.pickIndex++
		}
	case key.Matches(msg, m.keys.Submit):
		if m.pickIndex < len(m.models.Models) {
			picked := m.models.Models[m.pickIndex]
			m.deps.Store.WithModel(picked.ID)
			if m.deps.Prefs != nil {
				m.deps.Prefs.SetLastModel(picked.ID)
				m.deps.Prefs.SetCachedModels(m.models.Models)
			}
			m.mode = modeChat
			return m, m.toast(components.NewSuccessToast("model: " + picked.ID))
		}
	}
	return m, nil
}

// handleSubmit dispatches slash commands or sends the message.
func (m *Model) handleSubmit() (tea.Model, tea.Cmd) {
	content := strings.TrimSpace(m.input.Value())
	if content == "" {
		return m, nil
	}

	if strings.HasPrefix(content, "/") {
		return m.handleSlashCommand(content)
	}

	if m.streaming() {
		return m, m.toast(components.NewWarningToast("a response is still streaming"))
	}

	m.input.Reset()
	if m.deps.Prefs != nil {
		m.deps.Prefs.ClearDraft(m.deps.Store.CurrentID())
	}

	sendCtx, cancel := context.WithCancel(m.ctx)
	m.streamCancel = cancel

	if m.editIndex >= 0 {
		index := m.editIndex
		m.editIndex = -1
		return m, tea.Batch(
			editResendCmd(sendCtx, m.deps.Store, index, content),
			spinnerTickCmd(),
			m.ensureStreamTick(),
		)
	}

	return m, tea.Batch(
		sendCmd(sendCtx, m.deps.Store, content),
		spinnerTickCmd(),
		m.ensureStreamTick(),
	)
}

// handleSlashCommand runs the /commands typed into the input.
func (m *Model) handleSlashCommand(content string) (tea.Model, tea.Cmd) {
	parts := strings.SplitN(content, " ", 2)
	cmd := parts[0]
	arg := ""
	if len(parts) > 1 {
		arg = strings.TrimSpace(parts[1])
	}
	m.input.Reset()

	switch cmd {
	case "/new":
		m.deps.Store.NewConversation()
		m.renderTranscript(false)
		return m, nil

	case "/title":
		if arg == "" {
			return m, m.toast(components.NewWarningToast("usage: /title <new title>"))
		}
		return m, updateTitleCmd(m.ctx, m.deps.Store, m.deps.Store.CurrentID(), arg)

	case "/model":
		m.mode = modeModels
		return m, listModelsCmd(m.deps.Client)

	case "/usage":
		m.mode = modeUsage
		return m, usageCmd(m.deps.Client, m.deps.Ledger)

	case "/delete":
		id := m.deps.Store.CurrentID()
		if id == "" {
			return m, m.toast(components.NewWarningToast("no server conversation to delete"))
		}
		return m, deleteConversationCmd(m.ctx, m.deps.Store, id)

	case "/edit":
		if arg == "" {
			return m.beginEditLast()
		}
		index, err := strconv.Atoi(arg)
		if err != nil {
			return m, m.toast(components.NewWarningToast("usage: /edit [message number]"))
		}
		return m.beginEditAt(index - 1)

	case "/truncate":
		index, err := strconv.Atoi(arg)
		if err != nil {
			return m, m.toast(components.NewWarningToast("usage: /truncate <message number>"))
		}
		return m, truncateCmd(m.ctx, m.deps.Store, index-1)

	case "/help":
		return m, m.toast(components.NewStatusToast(
			"/new /title <t> /model /usage /delete /edit [n] /truncate <n> /quit"))

	case "/quit":
		m.Close()
		return m, tea.Quit
	}

	return m, m.toast(components.NewWarningToast("unknown command: " + cmd))
}

// beginEditLast loads the most recent user message into the input.
func (m *Model) beginEditLast() (tea.Model, tea.Cmd) {
	view := m.deps.Store.Snapshot()
	for i := len(view.Messages) - 1; i >= 0; i-- {
		if view.Messages[i].Role == model.RoleUser {
			return m.beginEditAt(i)
		}
	}
	return m, m.toast(components.NewWarningToast("nothing to edit"))
}

// beginEditAt loads the user message at the given index for editing.
func (m *Model) beginEditAt(index int) (tea.Model, tea.Cmd) {
	view := m.deps.Store.Snapshot()
	if index < 0 || index >= len(view.Messages) {
		return m, m.toast(components.NewWarningToast("no such message"))
	}
	target := view.Messages[index]
	if target.Role != model.RoleUser {
		return m, m.toast(components.NewWarningToast("only your own messages can be edited"))
	}

	m.saveDraft()
	m.editIndex = index
	m.input.SetValue(target.Content)
	m.input.CursorEnd()
	return m, nil
}

func (m *Model) handleStoreChanged() (tea.Model, tea.Cmd) {
	cmds := []tea.Cmd{waitStoreCmd(m.storeCh)}

	if m.streaming() {
		if m.gate.ShouldRender() {
			m.renderTranscript(true)
		}
		if tick := m.ensureStreamTick(); tick != nil {
			cmds = append(cmds, tick)
		}
	} else {
		m.gate.Reset()
		m.renderTranscript(false)
	}
	return m, tea.Batch(cmds...)
}

// ensureStreamTick schedules the render pacing tick if one is not already
// outstanding.
func (m *Model) ensureStreamTick() tea.Cmd {
	if m.tickPending {
		return nil
	}
	m.tickPending = true
	return streamTickCmd(m.gate.Interval())
}

// handleExchangeDone finishes a send or edit exchange.
func (m *Model) handleExchangeDone(err error, label string) (tea.Model, tea.Cmd) {
	m.streamCancel = nil
	m.gate.ForceRender()
	m.renderTranscript(true)

	if err == nil {
		if m.deps.Prefs != nil {
			m.deps.Prefs.SetLastConversation(m.deps.Store.CurrentID())
		}
		return m, nil
	}

	if errors.Is(err, context.Canceled) {
		return m, m.toast(components.NewStatusToast("stream cancelled"))
	}
	if errors.Is(err, store.ErrStreamInFlight) {
		return m, m.toast(components.NewWarningToast("a response is still streaming"))
	}
	return m, m.toast(components.NewErrorToast(label + ": " + err.Error()))
}

func (m *Model) handleWsStatus(ev ws.StatusEvent) (tea.Model, tea.Cmd) {
	cmds := []tea.Cmd{waitChannelStatusCmd(m.deps.Channel)}

	switch ev.Status {
	case ws.StatusConnected:
		m.conn = components.ConnOnline
	case ws.StatusReconnecting:
		m.conn = components.ConnRetrying
	case ws.StatusGaveUp:
		m.conn = components.ConnOffline
		cmds = append(cmds, m.toast(components.NewWarningToast("notifications unavailable")))
	default:
		m.conn = components.ConnOffline
	}
	return m, tea.Batch(cmds...)
}

func (m *Model) handleWsEvent(env ws.Envelope) (tea.Model, tea.Cmd) {
	cmds := []tea.Cmd{waitChannelEventCmd(m.deps.Channel)}

	switch env.Type {
	case ws.TypeSystemNotification:
		var payload struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(env.Data, &payload); err == nil && payload.Message != "" {
			cmds = append(cmds, m.toast(components.NewStatusToast(payload.Message)))
		}

	case ws.TypeChatMessage:
		// A message landed from another device. Reload the open thread
		// unless a local stream is mid-flight.
		var payload struct {
			ConversationID string `json:"conversation_id"`
		}
		if err := json.Unmarshal(env.Data, &payload); err == nil &&
			payload.ConversationID != "" &&
			payload.ConversationID == m.deps.Store.CurrentID() &&
			!m.streaming() {
			cmds = append(cmds, openConversationCmd(m.ctx, m.deps.Store, payload.ConversationID))
		}
	}
	return m, tea.Batch(cmds...)
}

// toast pushes a toast and keeps the expiry ticker alive.
func (m *Model) toast(t components.Toast) tea.Cmd {
	m.toasts.Add(t)
	return components.ToastTickCmd()
}
