// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"strings"
	"testing"
	"time"
)

func TestToastManagerStackAndExpiry(t *testing.T) {
	m := NewToastManager()

	m.Add(NewStatusToast("first"))
	m.Add(NewErrorToast("second"))

	active := m.Active()
	if len(active) != 2 {
		t.Fatalf("active = %d, want 2", len(active))
	}
	// Newest first
	if active[0].Message != "second" {
		t.Errorf("order wrong: %q first", active[0].Message)
	}

	// Force the status toast to expire
	expired := NewStatusToast("old")
	expired.CreatedAt = time.Now().Add(-time.Minute)
	m.Add(expired)

	survivors := m.Tick()
	for _, toast := range survivors {
		if toast.Message == "old" {
			t.Error("expired toast survived Tick")
		}
	}
}

func TestToastManagerCapsStack(t *testing.T) {
	m := NewToastManager()
	for i := 0; i < 10; i++ {
		m.Add(NewStatusToast("toast"))
	}
	if got := len(m.Active()); got != 5 {
		t.Errorf("stack = %d, want capped at 5", got)
	}
}

func TestRenderToastIncludesIndicator(t *testing.T) {
	out := RenderToast(NewErrorToast("stream failed"), 80)
	if !strings.Contains(out, "[X]") {
		t.Error("error toast missing shape indicator")
	}
	if !strings.Contains(out, "stream failed") {
		t.Error("toast missing message")
	}
}

func TestStatusBarSegments(t *testing.T) {
	bar := StatusBar{
		Width:        120,
		Conn:         ConnOnline,
		ModelID:      "parley-large",
		Thinking:     true,
		PromptTokens: 120,
		OutputTokens: 45,
	}
	out := bar.View()
	if !strings.Contains(out, "online") {
		t.Error("missing connection segment")
	}
	if !strings.Contains(out, "parley-large (thinking)") {
		t.Error("missing model segment")
	}
	if !strings.Contains(out, "120") || !strings.Contains(out, "45") {
		t.Error("missing token counters")
	}
	if !strings.Contains(out, "quit") {
		t.Error("missing key hints at wide width")
	}
}

func TestStatusBarStreamingHint(t *testing.T) {
	bar := StatusBar{Width: 120, Conn: ConnOnline, Streaming: true}
	out := bar.View()
	if !strings.Contains(out, "cancel") {
		t.Error("streaming bar should show cancel hint")
	}
	if strings.Contains(out, "quit") {
		t.Error("streaming bar should hide normal hints")
	}
}

func TestRenderMessageBodyCodeFence(t *testing.T) {
	text := "before\n```go\nfunc main() {}\n```\nafter"
	out := RenderMessageBody(text, 80, false, true)
	if !strings.Contains(out, "before") || !strings.Contains(out, "after") {
		t.Error("prose lost")
	}
	if !strings.Contains(out, "func main() {}") {
		t.Error("code lost")
	}
	if strings.Contains(out, "```") {
		t.Error("fence markers should be consumed")
	}
}

func TestRenderMessageBodyUnclosedFence(t *testing.T) {
	// Mid-stream state: fence opened but not yet closed
	text := "```python\nprint('hi')"
	out := RenderMessageBody(text, 80, false, true)
	if !strings.Contains(out, "print('hi')") {
		t.Error("unclosed block content lost")
	}
}

func TestSpinnerCyclesFrames(t *testing.T) {
	s := NewSpinner("thinking")
	first := s.View()
	s.Tick()
	second := s.View()
	if first == second {
		t.Error("Tick did not advance the frame")
	}
	if !strings.Contains(first, "thinking") {
		t.Error("label missing")
	}
}
