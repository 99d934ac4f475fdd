// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store holds the client-side source of truth for conversations
// and messages.
//
// The backend owns persistence; the store mirrors it in memory and layers
// the optimistic send pipeline on top: insert a temp user message and a
// streaming assistant placeholder, reconcile the stream into them in
// place, commit on success, roll both back on failure. Mutations go
// through the store's mutex; reads go through Snapshot which deep-copies,
// so view code never aliases store state.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jeranaias/parley-tui/internal/api"
	"github.com/jeranaias/parley-tui/internal/model"
	"github.com/jeranaias/parley-tui/internal/stream"
	"github.com/jeranaias/parley-tui/internal/util"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrEmptyMessage indicates the outbound content was blank after
	// normalization.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrNoModel indicates no model is selected for the exchange.
	ErrNoModel = errors.New("no model selected")

	// ErrStreamInFlight indicates a send is already running for this
	// conversation. Concurrent sends are rejected, not queued.
	ErrStreamInFlight = errors.New("a message is already streaming in this conversation")

	// ErrNoConversation indicates the operation needs a current conversation.
	ErrNoConversation = errors.New("no conversation selected")

	// ErrBadIndex indicates a message index outside the current history.
	ErrBadIndex = errors.New("message index out of range")
)

// OpError wraps a backend failure with the operation that caused it.
type OpError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *OpError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *OpError) Unwrap() error {
	return e.Err
}

// =============================================================================
// BACKEND INTERFACE
// =============================================================================

// Backend is the slice of the API client the store depends on.
// *api.Client satisfies it.
type Backend interface {
	ListConversations(ctx context.Context) ([]*model.Conversation, error)
	GetMessages(ctx context.Context, conversationID string) ([]*model.Message, error)
	DeleteConversation(ctx context.Context, conversationID string) error
	UpdateConversationTitle(ctx context.Context, conversationID, title string) error
	DeleteMessages(ctx context.Context, conversationID string, messageIDs []string) error
	StreamMessage(ctx context.Context, req *api.StreamRequest) (<-chan api.Frame, error)
}

// =============================================================================
// STORE
// =============================================================================

// UsageFn receives token accounting after each successful exchange.
type UsageFn func(modelID string, usage model.Usage)

// Store is the in-memory conversation state.
type Store struct {
	mu sync.Mutex

	backend Backend

	conversations []*model.Conversation
	currentID     string
	messages      []*model.Message

	modelID      string
	thinkingMode bool

	// inflight tracks conversations with an open stream. The empty key
	// stands for a not-yet-created conversation.
	inflight map[string]bool

	lastError error

	subscribers map[int]func()
	nextSubID   int

	onUsage UsageFn
}

// New creates a store backed by the given API surface.
func New(backend Backend) *Store {
	return &Store{
		backend:     backend,
		inflight:    make(map[string]bool),
		subscribers: make(map[int]func()),
	}
}

// WithModel sets the model used for new exchanges.
func (s *Store) WithModel(modelID string) *Store {
	s.mu.Lock()
	s.modelID = modelID
	s.mu.Unlock()
	return s
}

// WithThinkingMode enables the extended thinking trace for new exchanges.
func (s *Store) WithThinkingMode(enabled bool) *Store {
	s.mu.Lock()
	s.thinkingMode = enabled
	s.mu.Unlock()
	return s
}

// WithUsageFn registers a callback for per-exchange token accounting.
func (s *Store) WithUsageFn(fn UsageFn) *Store {
	s.mu.Lock()
	s.onUsage = fn
	s.mu.Unlock()
	return s
}

// ModelID returns the currently selected model.
func (s *Store) ModelID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modelID
}

// =============================================================================
// OBSERVERS
// =============================================================================

// Subscribe registers a change callback and returns its remover. Callbacks
// fire after every committed mutation, outside the store lock.
func (s *Store) Subscribe(fn func()) func() {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	}
}

// notify must be called without the lock held.
func (s *Store) notify() {
	s.mu.Lock()
	fns := make([]func(), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// =============================================================================
// SNAPSHOT
// =============================================================================

// View is a deep-copied snapshot of store state. Derived orderings are
// pure functions over a View.
type View struct {
	Conversations []*model.Conversation
	CurrentID     string
	Messages      []*model.Message
	Streaming     bool
	LastError     error
	ModelID       string
}

// Snapshot returns a copy of the current state, safe to read from any
// goroutine.
func (s *Store) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{
		CurrentID: s.currentID,
		Streaming: s.inflight[s.currentID],
		LastError: s.lastError,
		ModelID:   s.modelID,
	}
	v.Conversations = make([]*model.Conversation, len(s.conversations))
	for i, c := range s.conversations {
		v.Conversations[i] = c.Clone()
	}
	v.Messages = make([]*model.Message, len(s.messages))
	for i, m := range s.messages {
		v.Messages[i] = m.Clone()
	}
	return v
}

// LastError returns the most recent expected failure, or nil.
func (s *Store) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// ClearError resets the error slot.
func (s *Store) ClearError() {
	s.mu.Lock()
	s.lastError = nil
	s.mu.Unlock()
	s.notify()
}

func (s *Store) setError(err error) {
	s.mu.Lock()
	s.lastError = err
	s.mu.Unlock()
}

// =============================================================================
// CONVERSATION OPERATIONS
// =============================================================================

// Refresh reloads the conversation list from the backend.
func (s *Store) Refresh(ctx context.Context) error {
	convs, err := s.backend.ListConversations(ctx)
	if err != nil {
		opErr := &OpError{Op: "list conversations", Err: err}
		s.setError(opErr)
		s.notify()
		return opErr
	}

	s.mu.Lock()
	s.conversations = convs
	s.mu.Unlock()
	s.notify()
	return nil
}

// SetCurrent switches to a conversation and loads its full history. The
// reload replaces any locally promoted ids with canonical backend ids.
func (s *Store) SetCurrent(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	if s.inflight[s.currentID] {
		s.mu.Unlock()
		return ErrStreamInFlight
	}
	s.mu.Unlock()

	msgs, err := s.backend.GetMessages(ctx, conversationID)
	if err != nil {
		opErr := &OpError{Op: "load conversation", Err: err}
		s.setError(opErr)
		s.notify()
		return opErr
	}

	s.mu.Lock()
	s.currentID = conversationID
	s.messages = msgs
	s.mu.Unlock()
	s.notify()
	return nil
}

// NewConversation clears the current selection. The backend allocates the
// conversation id on the first exchange.
func (s *Store) NewConversation() {
	s.mu.Lock()
	if s.inflight[s.currentID] {
		s.mu.Unlock()
		return
	}
	s.currentID = ""
	s.messages = nil
	s.mu.Unlock()
	s.notify()
}

// CurrentID returns the selected conversation id, "" for a fresh thread.
func (s *Store) CurrentID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentID
}

// DeleteConversation removes a conversation locally and on the backend.
func (s *Store) DeleteConversation(ctx context.Context, conversationID string) error {
	if err := s.backend.DeleteConversation(ctx, conversationID); err != nil {
		opErr := &OpError{Op: "delete conversation", Err: err}
		s.setError(opErr)
		s.notify()
		return opErr
	}

	s.mu.Lock()
	for i, c := range s.conversations {
		if c.ID == conversationID {
			s.conversations = append(s.conversations[:i], s.conversations[i+1:]...)
			break
		}
	}
	if s.currentID == conversationID {
		s.currentID = ""
		s.messages = nil
	}
	s.mu.Unlock()
	s.notify()
	return nil
}

// UpdateTitle renames a conversation locally and on the backend.
func (s *Store) UpdateTitle(ctx context.Context, conversationID, title string) error {
	title = util.NormalizeInput(title)
	if title == "" {
		return ErrEmptyMessage
	}
	if err := s.backend.UpdateConversationTitle(ctx, conversationID, title); err != nil {
		opErr := &OpError{Op: "rename conversation", Err: err}
		s.setError(opErr)
		s.notify()
		return opErr
	}

	s.mu.Lock()
	for _, c := range s.conversations {
		if c.ID == conversationID {
			c.Title = title
			c.UpdatedAt = time.Now()
			break
		}
	}
	model.SortConversations(s.conversations)
	s.mu.Unlock()
	s.notify()
	return nil
}

// AddLocalMessages appends client-only messages (system notices, greeting
// text) to the current thread. They carry temp ids and never reach the
// backend.
func (s *Store) AddLocalMessages(msgs ...*model.Message) {
	s.mu.Lock()
	for _, m := range msgs {
		if m.ID == "" {
			m.ID = model.NewTempID()
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = time.Now()
		}
		s.messages = append(s.messages, m)
	}
	s.mu.Unlock()
	s.notify()
}

// =============================================================================
// SEND PIPELINE
// =============================================================================

// SendMessage runs one full exchange: optimistic insert, stream, reconcile,
// commit. It blocks until the exchange finishes and returns the stream's
// outcome. A second send for the same conversation while one is in flight
// is rejected with ErrStreamInFlight.
func (s *Store) SendMessage(ctx context.Context, content string) error {
	content = util.NormalizeInput(content)
	if content == "" {
		return ErrEmptyMessage
	}

	s.mu.Lock()
	if s.modelID == "" {
		s.mu.Unlock()
		return ErrNoModel
	}
	convID := s.currentID
	if s.inflight[convID] {
		s.mu.Unlock()
		return ErrStreamInFlight
	}
	s.inflight[convID] = true

	// Optimistic insert: temp user message + streaming assistant placeholder
	userMsg := model.NewUserMessage(convID, content)
	userMsg.Status = model.StatusSending
	assistantMsg := model.NewAssistantMessage(convID)
	s.messages = append(s.messages, userMsg, assistantMsg)
	modelID := s.modelID
	thinkingMode := s.thinkingMode
	s.mu.Unlock()
	s.notify()

	err := s.runExchange(ctx, convID, modelID, thinkingMode, content, userMsg.ID, assistantMsg.ID)

	s.mu.Lock()
	delete(s.inflight, convID)
	s.mu.Unlock()
	s.notify()
	return err
}

// runExchange opens the stream and reconciles it into the optimistic pair.
func (s *Store) runExchange(ctx context.Context, convID, modelID string, thinkingMode bool, content, userID, assistantID string) error {
	frames, err := s.backend.StreamMessage(ctx, &api.StreamRequest{
		ConversationID: convID,
		Content:        content,
		ModelID:        modelID,
		ThinkingMode:   thinkingMode,
	})
	if err != nil {
		s.rollback(userID, assistantID)
		opErr := &OpError{Op: "send message", Err: err}
		s.setError(opErr)
		return opErr
	}

	rec := stream.New(stream.Hooks{
		OnContentChunk: func(chunk string) {
			s.appendToken(assistantID, chunk)
		},
		OnThinkingChunk: func(chunk string) {
			s.appendThinking(assistantID, chunk)
		},
	})

	result, err := rec.Run(ctx, frames)
	if err != nil {
		s.rollback(userID, assistantID)
		opErr := &OpError{Op: "send message", Err: err}
		s.setError(opErr)
		return opErr
	}

	s.commit(convID, userID, assistantID, content, result)
	return nil
}

// appendToken feeds a content chunk into the streaming assistant message.
func (s *Store) appendToken(assistantID, chunk string) {
	s.mu.Lock()
	if m := s.findMessage(assistantID); m != nil {
		m.AppendToken(chunk)
	}
	s.mu.Unlock()
	s.notify()
}

// appendThinking feeds a thinking chunk into the assistant message.
func (s *Store) appendThinking(assistantID, chunk string) {
	s.mu.Lock()
	if m := s.findMessage(assistantID); m != nil {
		m.Thinking += chunk
	}
	s.mu.Unlock()
	s.notify()
}

// findMessage returns the live message with the given id. Caller holds the
// lock.
func (s *Store) findMessage(id string) *model.Message {
	for _, m := range s.messages {
		if m.ID == id {
			return m
		}
	}
	return nil
}

// rollback removes the optimistic pair after a failed exchange. Removal is
// by id, so a pair that was already rolled back (or never inserted) is a
// no-op.
func (s *Store) rollback(userID, assistantID string) {
	s.mu.Lock()
	kept := s.messages[:0]
	for _, m := range s.messages {
		if m.ID == userID || m.ID == assistantID {
			continue
		}
		kept = append(kept, m)
	}
	s.messages = kept
	s.mu.Unlock()
	s.notify()
}

// commit finalizes a successful exchange. Committing is idempotent: a user
// message that already carries a non-temp id is left untouched, and the
// assistant message finalizes only once.
func (s *Store) commit(convID, userID, assistantID, content string, result *stream.Result) {
	now := time.Now()

	s.mu.Lock()
	// Promote the optimistic user message in place. Canonical backend ids
	// arrive on the next full SetCurrent reload.
	if um := s.findMessage(userID); um != nil && model.IsTempID(um.ID) {
		um.ID = model.GenerateID()
		um.LocalID = true
		um.Status = model.StatusSent
		um.UpdatedAt = now
	}

	if am := s.findMessage(assistantID); am != nil {
		am.FinalizeStream(result.Content)
		if result.AssistantID != "" {
			am.ID = result.AssistantID
		}
		if result.Thinking != "" {
			am.Thinking = result.Thinking
		}
		am.Status = model.StatusDelivered
		am.UpdatedAt = now
	}

	// A fresh thread gets its id from the stream
	newConvID := convID
	if newConvID == "" && result.ConversationID != "" {
		newConvID = result.ConversationID
		if s.currentID == "" {
			s.currentID = newConvID
			for _, m := range s.messages {
				if m.ConversationID == "" {
					m.ConversationID = newConvID
				}
			}
		}
	}

	s.touchConversation(newConvID, content, now)

	onUsage := s.onUsage
	modelID := s.modelID
	var usage model.Usage
	if onUsage != nil {
		usage = s.estimateUsageLocked(result)
	}
	s.mu.Unlock()
	s.notify()

	if onUsage != nil {
		onUsage(modelID, usage)
	}
}

// touchConversation bumps or creates the conversation entry and resorts
// the list. Caller holds the lock.
func (s *Store) touchConversation(convID, firstContent string, now time.Time) {
	if convID == "" {
		return
	}
	for _, c := range s.conversations {
		if c.ID == convID {
			c.UpdatedAt = now
			c.MessageCount = len(s.messages)
			model.SortConversations(s.conversations)
			return
		}
	}
	title := util.TruncateRunes(firstContent, 50)
	s.conversations = append(s.conversations, &model.Conversation{
		ID:           convID,
		Title:        title,
		ModelID:      s.modelID,
		CreatedAt:    now,
		UpdatedAt:    now,
		MessageCount: len(s.messages),
	})
	model.SortConversations(s.conversations)
}

// estimateUsageLocked derives a rough token count for the local ledger.
// The authoritative numbers live server-side. Caller holds the lock.
func (s *Store) estimateUsageLocked(result *stream.Result) model.Usage {
	prompt := 0
	for _, m := range s.messages {
		if m.Role != model.RoleAssistant {
			prompt += m.EstimateTokens()
		}
	}
	completion := (len(result.Content) + len(result.Thinking) + 3) / 4
	return model.Usage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
}
