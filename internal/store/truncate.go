// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"errors"
	"time"

	"github.com/jeranaias/parley-tui/internal/model"
)

// ErrNotUserMessage indicates an edit-and-resend target that is not a user
// message.
var ErrNotUserMessage = errors.New("only user messages can be edited and resent")

// TruncateMessages removes the message at fromIndex and everything after
// it from the current conversation. An index at or past the end of the
// thread is a no-op, not an error.
//
// Local removal always applies first and stands regardless of the backend
// call. Backend deletion covers only ids the backend has actually issued:
// temp ids and client-promoted local ids never travel. Its failure is
// reported separately through the returned error and the store's error
// slot.
func (s *Store) TruncateMessages(ctx context.Context, fromIndex int) error {
	s.mu.Lock()
	if s.inflight[s.currentID] {
		s.mu.Unlock()
		return ErrStreamInFlight
	}
	if fromIndex < 0 {
		s.mu.Unlock()
		return ErrBadIndex
	}
	if fromIndex >= len(s.messages) {
		s.mu.Unlock()
		return nil
	}

	convID := s.currentID
	removed := s.messages[fromIndex:]
	s.messages = s.messages[:fromIndex:fromIndex]

	// Recompute the thread's updated time from what remains
	updated := time.Now()
	if n := len(s.messages); n > 0 {
		last := s.messages[n-1]
		updated = last.CreatedAt
		if last.UpdatedAt.After(updated) {
			updated = last.UpdatedAt
		}
	}
	for _, c := range s.conversations {
		if c.ID == convID {
			c.UpdatedAt = updated
			c.MessageCount = len(s.messages)
			break
		}
	}
	model.SortConversations(s.conversations)

	var backendIDs []string
	for _, m := range removed {
		if !model.IsTempID(m.ID) && !m.LocalID {
			backendIDs = append(backendIDs, m.ID)
		}
	}
	s.mu.Unlock()
	s.notify()

	if convID == "" || len(backendIDs) == 0 {
		return nil
	}

	if err := s.backend.DeleteMessages(ctx, convID, backendIDs); err != nil {
		opErr := &OpError{Op: "delete messages", Err: err}
		s.setError(opErr)
		s.notify()
		return opErr
	}
	return nil
}

// EditResend replaces the user message at index with new content: truncate
// from that message, then send the new text as a fresh exchange.
//
// The truncation, including its backend deletion, must succeed before the
// new stream opens; any truncation failure aborts the resend.
func (s *Store) EditResend(ctx context.Context, index int, newContent string) error {
	s.mu.Lock()
	if index < 0 || index >= len(s.messages) {
		s.mu.Unlock()
		return ErrBadIndex
	}
	if s.messages[index].Role != model.RoleUser {
		s.mu.Unlock()
		return ErrNotUserMessage
	}
	s.mu.Unlock()

	if err := s.TruncateMessages(ctx, index); err != nil {
		return err
	}
	return s.SendMessage(ctx, newContent)
}
