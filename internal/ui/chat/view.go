// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/parley-tui/internal/model"
	"github.com/jeranaias/parley-tui/internal/ui/components"
	"github.com/jeranaias/parley-tui/internal/util"
)

// newViewport builds the transcript viewport.
func newViewport(width, height int) viewport.Model {
	vp := viewport.New(width, height)
	vp.MouseWheelEnabled = true
	return vp
}

// View renders the full screen.
func (m *Model) View() string {
	if !m.ready {
		return "loading..."
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")

	switch m.mode {
	case modeThreads:
		b.WriteString(m.renderThreads())
	case modeModels:
		b.WriteString(m.renderModelPicker())
	case modeUsage:
		b.WriteString(m.renderUsage())
	default:
		b.WriteString(m.viewport.View())
		b.WriteString("\n")
		b.WriteString(m.renderInput())
	}

	b.WriteString("\n")
	b.WriteString(m.renderStatusBar())

	screen := b.String()

	if toasts := m.toasts.Active(); len(toasts) > 0 {
		overlay := components.RenderToastStack(toasts, m.width, 0)
		screen = lipgloss.JoinVertical(lipgloss.Left, screen, overlay)
	}
	return screen
}

// =============================================================================
// HEADER AND FOOTER
// =============================================================================

func (m *Model) renderHeader() string {
	view := m.deps.Store.Snapshot()

	title := "new conversation"
	for _, conv := range view.Conversations {
		if conv.ID == view.CurrentID {
			title = conv.DisplayTitle()
			break
		}
	}

	brand := m.theme.HeaderTitle.Render("parley")
	sub := m.theme.HeaderSubtitle.Render(title)
	return m.theme.Header.Width(m.width).Render(brand + "  " + sub)
}

func (m *Model) renderStatusBar() string {
	view := m.deps.Store.Snapshot()

	var prompt, output int
	for _, msg := range view.Messages {
		prompt += msg.PromptTokens
		output += msg.CompletionTokens
	}

	bar := components.StatusBar{
		Width:        m.width,
		Conn:         m.conn,
		ModelID:      view.ModelID,
		Thinking:     m.deps.Config.Chat.ThinkingMode,
		PromptTokens: prompt,
		OutputTokens: output,
		Streaming:    view.Streaming,
	}
	return bar.View()
}

func (m *Model) renderInput() string {
	var banner string
	if m.editIndex >= 0 {
		banner = m.theme.EditBanner.Render("editing message, Enter resends from here, Esc cancels") + "\n"
	}
	return m.theme.InputContainer.Width(m.width - 2).Render(banner + m.input.View())
}

// =============================================================================
// TRANSCRIPT
// =============================================================================

// renderTranscript rebuilds the viewport content from the store snapshot.
// followTail pins the scroll position to the bottom, used while streaming.
func (m *Model) renderTranscript(followTail bool) {
	if !m.ready {
		return
	}

	view := m.deps.Store.Snapshot()
	atBottom := m.viewport.AtBottom()

	var b strings.Builder
	for i, msg := range view.Messages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(m.renderMessage(msg))
	}

	if view.Streaming {
		b.WriteString("\n\n")
		b.WriteString(m.spinner.View())
	}

	m.viewport.SetContent(b.String())
	if followTail || atBottom {
		m.viewport.GotoBottom()
	}
}

// renderMessage renders one message with role label, body, and status.
func (m *Model) renderMessage(msg *model.Message) string {
	width := m.width - 6
	if width < 30 {
		width = 30
	}

	var label, marker string
	var bubble lipgloss.Style

	switch msg.Role {
	case model.RoleUser:
		label = m.theme.RoleLabel.Render("you")
		bubble = m.theme.UserBubble
	case model.RoleAssistant:
		label = m.theme.RoleLabel.Render("parley")
		bubble = m.theme.AssistantBubble
	default:
		label = m.theme.RoleLabel.Render("system")
		bubble = m.theme.SystemBubble
	}

	switch msg.Status {
	case model.StatusSending, model.StatusPending:
		marker = " " + m.theme.PendingMarker.Render("…")
	case model.StatusFailed:
		marker = " " + m.theme.FailedMarker.Render("[X] failed")
	}

	ts := m.theme.Timestamp.Render(msg.CreatedAt.Format("15:04"))
	header := label + marker + " " + ts

	var parts []string
	parts = append(parts, header)

	// Thinking trace renders above the answer, dimmed
	if msg.Thinking != "" {
		thinking := msg.Thinking
		if !msg.IsStreaming {
			thinking = util.TruncateRunes(thinking, 400)
		}
		parts = append(parts, m.theme.ThinkingBlock.Width(width).Render(thinking))
	}

	body := msg.GetDisplayContent()
	if body != "" {
		rendered := components.RenderMessageBody(
			body, width,
			m.deps.Config.UI.SyntaxHighlighting,
			m.theme.IsDark,
		)
		parts = append(parts, bubble.Width(width).Render(rendered))
	}

	return strings.Join(parts, "\n")
}

// =============================================================================
// OVERLAYS
// =============================================================================

func (m *Model) renderThreads() string {
	view := m.deps.Store.Snapshot()

	var b strings.Builder
	b.WriteString(m.theme.OverlayTitle.Render("Conversations"))
	b.WriteString("\n\n")

	if len(view.Conversations) == 0 {
		b.WriteString(m.theme.ListMeta.Render("no conversations yet"))
	}

	for i, conv := range view.Conversations {
		line := conv.DisplayTitle()
		meta := conv.UpdatedAt.Format("Jan 2 15:04")
		if conv.MessageCount > 0 {
			meta += " · " + util.IntToString(conv.MessageCount) + " messages"
		}

		if i == m.pickIndex {
			b.WriteString(m.theme.ListItemSelected.Render(line))
		} else {
			b.WriteString(m.theme.ListItem.Render(line))
		}
		b.WriteString("  ")
		b.WriteString(m.theme.ListMeta.Render(meta))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.theme.ListMeta.Render("Enter open · d delete · Esc close"))

	return m.theme.ListBox.Width(m.width - 4).Render(b.String())
}

func (m *Model) renderModelPicker() string {
	var b strings.Builder
	b.WriteString(m.theme.OverlayTitle.Render("Models"))
	b.WriteString("\n\n")

	if len(m.models.Models) == 0 {
		b.WriteString(m.theme.ListMeta.Render("loading models..."))
	}

	current := m.deps.Store.ModelID()
	for i, info := range m.models.Models {
		line := info.Name
		if line == "" {
			line = info.ID
		}
		if info.ID == current {
			line += " " + m.theme.ListTitle.Render("(current)")
		}
		if info.ContextSize > 0 {
			line += "  " + m.theme.ListMeta.Render(util.IntToString(info.ContextSize)+" ctx")
		}

		if i == m.pickIndex {
			b.WriteString(m.theme.ListItemSelected.Render(line))
		} else {
			b.WriteString(m.theme.ListItem.Render(line))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.theme.ListMeta.Render("Enter select · Esc close"))

	return m.theme.OverlayBox.Width(m.width - 4).Render(b.String())
}

func (m *Model) renderUsage() string {
	var b strings.Builder
	b.WriteString(m.theme.OverlayTitle.Render("Usage"))
	b.WriteString("\n\n")

	if m.usageData.Account == nil {
		b.WriteString(m.theme.ListMeta.Render("loading usage..."))
		return m.theme.OverlayBox.Width(m.width - 4).Render(b.String())
	}

	acct := m.usageData.Account
	b.WriteString(m.theme.ListTitle.Render("Account"))
	b.WriteString("\n")
	b.WriteString("  prompt tokens:     " + util.IntToString(acct.PromptTokens) + "\n")
	b.WriteString("  completion tokens: " + util.IntToString(acct.CompletionTokens) + "\n")
	b.WriteString("  cost:              $" + util.FloatToStringPrec(acct.TotalCost, 4) + "\n")
	b.WriteString("  credits remaining: $" + util.FloatToStringPrec(acct.CreditsRemaining, 2) + "\n")

	local := m.usageData.Local
	if local.Exchanges > 0 {
		b.WriteString("\n")
		b.WriteString(m.theme.ListTitle.Render("This machine"))
		b.WriteString("\n")
		b.WriteString("  exchanges: " + util.IntToString(local.Exchanges) + "\n")
		b.WriteString("  tokens:    " + util.IntToString(local.TotalTokens) + "\n")

		for _, mt := range m.usageData.ByModel {
			b.WriteString("    " + mt.ModelID + ": " + util.IntToString(mt.TotalTokens) + "\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(m.theme.ListMeta.Render("Esc close"))

	return m.theme.OverlayBox.Width(m.width - 4).Render(b.String())
}
