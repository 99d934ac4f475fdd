// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/jeranaias/parley-tui/internal/model"
	"github.com/jeranaias/parley-tui/internal/util"
)

const prefsFileName = "prefs.json"

// prefsData is the on-disk layout.
type prefsData struct {
	LastModel        string            `json:"last_model,omitempty"`
	LastConversation string            `json:"last_conversation,omitempty"`
	Drafts           map[string]string `json:"drafts,omitempty"`
	CachedModels     []model.ModelInfo `json:"cached_models,omitempty"`
}

// Prefs is the local preference store: last selected model, per-thread
// drafts, and the cached model list. Every mutation persists immediately;
// a missing or corrupt file silently resets to empty, preferences are
// never worth failing over.
type Prefs struct {
	mu   sync.Mutex
	dir  string
	data prefsData
}

// NewPrefs loads the preference store rooted at dir.
func NewPrefs(dir string) *Prefs {
	p := &Prefs{dir: dir}
	p.load()
	return p
}

func (p *Prefs) path() string {
	return filepath.Join(p.dir, prefsFileName)
}

func (p *Prefs) load() {
	data, err := os.ReadFile(p.path())
	if err != nil {
		return
	}
	var parsed prefsData
	if err := json.Unmarshal(data, &parsed); err != nil {
		return
	}
	p.data = parsed
}

// save persists under the lock.
func (p *Prefs) save() {
	payload, err := json.MarshalIndent(p.data, "", "  ")
	if err != nil {
		return
	}
	// Best effort: preference writes never surface errors to callers
	_ = util.AtomicWriteFileWithDir(p.path(), payload, 0644, 0700)
}

// LastModel returns the last selected model id, "" when unset.
func (p *Prefs) LastModel() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.data.LastModel
}

// SetLastModel records the selected model.
func (p *Prefs) SetLastModel(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.data.LastModel = id
	p.save()
}

// LastConversation returns the conversation open at last exit.
func (p *Prefs) LastConversation() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.data.LastConversation
}

// SetLastConversation records the open conversation.
func (p *Prefs) SetLastConversation(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.data.LastConversation = id
	p.save()
}

// Draft returns the saved draft for a conversation, "" when none.
func (p *Prefs) Draft(conversationID string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.data.Drafts[conversationID]
}

// SetDraft saves the in-progress input for a conversation. An empty draft
// clears the entry.
func (p *Prefs) SetDraft(conversationID, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if text == "" {
		delete(p.data.Drafts, conversationID)
	} else {
		if p.data.Drafts == nil {
			p.data.Drafts = make(map[string]string)
		}
		p.data.Drafts[conversationID] = text
	}
	p.save()
}

// ClearDraft removes a conversation's draft.
func (p *Prefs) ClearDraft(conversationID string) {
	p.SetDraft(conversationID, "")
}

// CachedModels returns the last fetched model list, possibly empty.
func (p *Prefs) CachedModels() []model.ModelInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.ModelInfo, len(p.data.CachedModels))
	copy(out, p.data.CachedModels)
	return out
}

// SetCachedModels replaces the model cache.
func (p *Prefs) SetCachedModels(models []model.ModelInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.data.CachedModels = make([]model.ModelInfo, len(models))
	copy(p.data.CachedModels, models)
	p.save()
}
