// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/parley-tui/internal/model"
)

func TestVaultRoundTrip(t *testing.T) {
	v := NewVault(t.TempDir())

	require.NoError(t, v.SaveToken("sk-parley-secret-token"))
	assert.True(t, v.HasToken())

	got, err := v.LoadToken()
	require.NoError(t, err)
	assert.Equal(t, "sk-parley-secret-token", got)
}

func TestVaultNoToken(t *testing.T) {
	v := NewVault(t.TempDir())
	assert.False(t, v.HasToken())

	_, err := v.LoadToken()
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestVaultCiphertextNotPlaintext(t *testing.T) {
	dir := t.TempDir()
	v := NewVault(dir)
	require.NoError(t, v.SaveToken("sk-parley-secret-token"))

	raw, err := os.ReadFile(filepath.Join(dir, tokenFileName))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "sk-parley-secret-token")

	info, err := os.Stat(filepath.Join(dir, tokenFileName))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestVaultTamperDetection(t *testing.T) {
	dir := t.TempDir()
	v := NewVault(dir)
	require.NoError(t, v.SaveToken("sk-parley-secret-token"))

	path := filepath.Join(dir, tokenFileName)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(path, raw, 0600))

	_, err = v.LoadToken()
	assert.ErrorIs(t, err, ErrVaultTampered)
}

func TestVaultOverwriteAndDelete(t *testing.T) {
	v := NewVault(t.TempDir())
	require.NoError(t, v.SaveToken("first"))
	require.NoError(t, v.SaveToken("second"))

	got, err := v.LoadToken()
	require.NoError(t, err)
	assert.Equal(t, "second", got)

	require.NoError(t, v.DeleteToken())
	require.NoError(t, v.DeleteToken()) // idempotent
	_, err = v.LoadToken()
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestPrefsRoundTrip(t *testing.T) {
	dir := t.TempDir()

	p := NewPrefs(dir)
	p.SetLastModel("parley-large")
	p.SetLastConversation("conv_7")
	p.SetDraft("conv_7", "half-typed thought")
	p.SetCachedModels([]model.ModelInfo{{ID: "parley-large", Name: "Parley Large"}})

	// Fresh instance reads back from disk
	q := NewPrefs(dir)
	if q.LastModel() != "parley-large" {
		t.Errorf("last model = %q", q.LastModel())
	}
	if q.LastConversation() != "conv_7" {
		t.Errorf("last conversation = %q", q.LastConversation())
	}
	if q.Draft("conv_7") != "half-typed thought" {
		t.Errorf("draft = %q", q.Draft("conv_7"))
	}
	models := q.CachedModels()
	if len(models) != 1 || models[0].ID != "parley-large" {
		t.Errorf("models = %+v", models)
	}
}

func TestPrefsClearDraft(t *testing.T) {
	dir := t.TempDir()
	p := NewPrefs(dir)
	p.SetDraft("conv_1", "text")
	p.ClearDraft("conv_1")

	if got := NewPrefs(dir).Draft("conv_1"); got != "" {
		t.Errorf("draft survived clear: %q", got)
	}
}

func TestPrefsCorruptFileResets(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, prefsFileName), []byte("{broken"), 0644))

	p := NewPrefs(dir)
	if p.LastModel() != "" {
		t.Errorf("corrupt prefs should reset, got %q", p.LastModel())
	}
	// And writes still work afterwards
	p.SetLastModel("parley-mini")
	if got := NewPrefs(dir).LastModel(); got != "parley-mini" {
		t.Errorf("last model = %q", got)
	}
}

func TestVaultShortFileIsTampered(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, tokenFileName), []byte("tiny"), 0600))

	_, err := NewVault(dir).LoadToken()
	if !errors.Is(err, ErrVaultTampered) {
		t.Errorf("expected ErrVaultTampered, got %v", err)
	}
}
