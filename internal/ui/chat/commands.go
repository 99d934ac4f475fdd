// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat provides the chat view component for the TUI.
//
// This file defines the tea.Cmd creators that bridge the Bubble Tea loop
// to the conversation store, the API client, the usage ledger, and the
// WebSocket side channel. Every blocking call runs inside a command so
// the render loop never stalls.
package chat

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/parley-tui/internal/api"
	"github.com/jeranaias/parley-tui/internal/store"
	"github.com/jeranaias/parley-tui/internal/usage"
	"github.com/jeranaias/parley-tui/internal/ws"
)

// =============================================================================
// STORE COMMANDS
// =============================================================================

// waitStoreCmd blocks on the coalesced store notification channel and
// turns each wakeup into a StoreChangedMsg. Re-issued after every receive.
func waitStoreCmd(ch <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return nil
		}
		return StoreChangedMsg{}
	}
}

// sendCmd runs one full exchange. SendMessage blocks until the stream
// reconciles, streaming updates arrive via the store subscription.
func sendCmd(ctx context.Context, st *store.Store, content string) tea.Cmd {
	return func() tea.Msg {
		return SendFinishedMsg{Err: st.SendMessage(ctx, content)}
	}
}

// refreshCmd reloads the conversation list.
func refreshCmd(ctx context.Context, st *store.Store) tea.Cmd {
	return func() tea.Msg {
		return RefreshedMsg{Err: st.Refresh(ctx)}
	}
}

// openConversationCmd loads a thread and makes it current.
func openConversationCmd(ctx context.Context, st *store.Store, id string) tea.Cmd {
	return func() tea.Msg {
		return ConversationOpenedMsg{ID: id, Err: st.SetCurrent(ctx, id)}
	}
}

// deleteConversationCmd deletes a thread server-side and locally.
func deleteConversationCmd(ctx context.Context, st *store.Store, id string) tea.Cmd {
	return func() tea.Msg {
		return ConversationDeletedMsg{ID: id, Err: st.DeleteConversation(ctx, id)}
	}
}

// updateTitleCmd renames the given thread.
func updateTitleCmd(ctx context.Context, st *store.Store, id, title string) tea.Cmd {
	return func() tea.Msg {
		return TitleUpdatedMsg{Err: st.UpdateTitle(ctx, id, title)}
	}
}

// truncateCmd drops the thread tail from the given index onward.
func truncateCmd(ctx context.Context, st *store.Store, fromIndex int) tea.Cmd {
	return func() tea.Msg {
		return TruncatedMsg{Err: st.TruncateMessages(ctx, fromIndex)}
	}
}

// editResendCmd rewrites a user message and replays the exchange.
func editResendCmd(ctx context.Context, st *store.Store, index int, content string) tea.Cmd {
	return func() tea.Msg {
		return EditFinishedMsg{Err: st.EditResend(ctx, index, content)}
	}
}

// =============================================================================
// API COMMANDS
// =============================================================================

// listModelsCmd fetches the model catalog for the picker.
func listModelsCmd(client *api.Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		models, err := client.ListModels(ctx)
		return ModelsLoadedMsg{Models: models, Err: err}
	}
}

// usageCmd fetches the account summary and local ledger totals together.
// A ledger read failure does not mask the account summary.
func usageCmd(client *api.Client, ledger *usage.Ledger) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		account, err := client.GetUsage(ctx)
		msg := UsageLoadedMsg{Account: account, Err: err}

		if ledger != nil {
			if local, lerr := ledger.Totals(ctx); lerr == nil {
				msg.Local = local
			}
			if byModel, lerr := ledger.TotalsByModel(ctx); lerr == nil {
				msg.ByModel = byModel
			}
		}
		return msg
	}
}

// =============================================================================
// SIDE CHANNEL COMMANDS
// =============================================================================

// runChannelCmd drives the reconnect loop until it gives up or the context
// ends. Bubble Tea runs commands on their own goroutine, so the blocking
// loop is fine here.
func runChannelCmd(ctx context.Context, ch *ws.Channel) tea.Cmd {
	return func() tea.Msg {
		return WsClosedMsg{Err: ch.Run(ctx)}
	}
}

// waitChannelStatusCmd delivers the next connection state change.
func waitChannelStatusCmd(ch *ws.Channel) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch.Statuses()
		if !ok {
			return nil
		}
		return WsStatusMsg{Event: ev}
	}
}

// waitChannelEventCmd delivers the next server push event.
func waitChannelEventCmd(ch *ws.Channel) tea.Cmd {
	return func() tea.Msg {
		env, ok := <-ch.Events()
		if !ok {
			return nil
		}
		return WsEventMsg{Envelope: env}
	}
}
