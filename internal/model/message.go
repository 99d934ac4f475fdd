// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
package model

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// =============================================================================
// STATUS TYPE
// =============================================================================

// Status tracks a message through the optimistic send lifecycle.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
)

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single message in a conversation.
type Message struct {
	// Identity
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id,omitempty"`
	Role           Role   `json:"role"`
	Status         Status `json:"status,omitempty"`

	// Content
	Content string `json:"content"`

	// Extended thinking (assistant messages)
	Thinking string `json:"thinking,omitempty"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`

	// Token accounting (assistant messages)
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`

	// LocalID marks an id fabricated client-side at commit time. The
	// backend never issued it, so backend calls must not reference it.
	// Cleared when a canonical id arrives on a full reload.
	LocalID bool `json:"-"`

	// Streaming state (not persisted)
	// PERFORMANCE: strings.Builder avoids quadratic allocations during streaming
	IsStreaming   bool            `json:"-"`
	streamContent strings.Builder `json:"-"`
}

// TempIDPrefix marks a client-assigned id that the backend has never seen.
// Temp ids exist only between optimistic insert and commit; they are never
// sent to the backend.
const TempIDPrefix = "temp-"

// NewTempID returns a fresh client-side message id.
func NewTempID() string {
	return TempIDPrefix + uuid.NewString()
}

// IsTempID reports whether an id is client-assigned.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// NewMessage creates a new message with a generated persistent-style id.
func NewMessage(role Role, content string) *Message {
	return &Message{
		ID:        GenerateID(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// NewUserMessage creates an optimistic user message with a temp id.
func NewUserMessage(conversationID, content string) *Message {
	return &Message{
		ID:             NewTempID(),
		ConversationID: conversationID,
		Role:           RoleUser,
		Status:         StatusPending,
		Content:        content,
		CreatedAt:      time.Now(),
	}
}

// NewAssistantMessage creates an empty streaming assistant message.
func NewAssistantMessage(conversationID string) *Message {
	return &Message{
		ID:             NewTempID(),
		ConversationID: conversationID,
		Role:           RoleAssistant,
		Status:         StatusPending,
		CreatedAt:      time.Now(),
		IsStreaming:    true,
	}
}

// =============================================================================
// MESSAGE METHODS
// =============================================================================

// AppendToken appends a content chunk to a streaming message.
func (m *Message) AppendToken(token string) {
	if m.IsStreaming {
		m.streamContent.WriteString(token)
	}
}

// FinalizeStream completes streaming. If final is non-empty it replaces the
// accumulated chunks wholesale; a terminal frame's content is authoritative.
func (m *Message) FinalizeStream(final string) {
	if !m.IsStreaming {
		return
	}
	if final != "" {
		m.Content = final
	} else {
		m.Content = m.streamContent.String()
	}
	m.streamContent.Reset()
	m.IsStreaming = false
}

// GetDisplayContent returns the content to display (streaming or final).
func (m *Message) GetDisplayContent() string {
	if m.IsStreaming {
		return m.streamContent.String()
	}
	return m.Content
}

// Preview returns a truncated single-line preview of the message content.
func (m *Message) Preview(maxLen int) string {
	content := strings.ReplaceAll(m.GetDisplayContent(), "\n", " ")
	runes := []rune(content)
	if len(runes) <= maxLen {
		return content
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

// IsEmpty returns true if the message has no content.
func (m *Message) IsEmpty() bool {
	return len(m.Content) == 0 && m.streamContent.Len() == 0
}

// Clone returns a copy safe to hand outside the store. A streaming message
// clones with its accumulated text so far.
func (m *Message) Clone() *Message {
	c := *m
	c.streamContent = strings.Builder{}
	if m.IsStreaming {
		c.streamContent.WriteString(m.streamContent.String())
	}
	return &c
}

// EstimateTokens gives a rough token count at ~4 characters per token.
func (m *Message) EstimateTokens() int {
	return (len(m.GetDisplayContent()) + 3) / 4
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// GenerateID creates a unique non-temp message id.
func GenerateID() string {
	bytes := make([]byte, 8)
	rand.Read(bytes)
	return "msg_" + hex.EncodeToString(bytes)
}
