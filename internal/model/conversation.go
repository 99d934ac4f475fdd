// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"sort"
	"time"
)

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation is the backend's record of a chat thread. Message bodies are
// loaded separately; the list endpoint returns metadata only.
type Conversation struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	ModelID      string    `json:"model_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count,omitempty"`
	IsArchived   bool      `json:"is_archived,omitempty"`
	Tags         []string  `json:"tags,omitempty"`
}

// Clone returns a deep copy.
func (c *Conversation) Clone() *Conversation {
	out := *c
	if c.Tags != nil {
		out.Tags = make([]string, len(c.Tags))
		copy(out.Tags, c.Tags)
	}
	return &out
}

// DisplayTitle returns the title or a placeholder for untitled threads.
func (c *Conversation) DisplayTitle() string {
	if c.Title == "" {
		return "New conversation"
	}
	return c.Title
}

// SortConversations orders conversations by UpdatedAt descending, newest
// first, with the id as a tiebreaker so the order is stable.
func SortConversations(convs []*Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		if convs[i].UpdatedAt.Equal(convs[j].UpdatedAt) {
			return convs[i].ID < convs[j].ID
		}
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})
}

// =============================================================================
// MODEL INFO
// =============================================================================

// ModelInfo describes a selectable backend model.
type ModelInfo struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	ContextSize int     `json:"context_size,omitempty"`
	PromptPrice float64 `json:"prompt_price,omitempty"`
	OutputPrice float64 `json:"output_price,omitempty"`
}

// =============================================================================
// USAGE
// =============================================================================

// Usage summarizes token consumption for one exchange or an account period.
type Usage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	Cost             float64 `json:"cost,omitempty"`
}
