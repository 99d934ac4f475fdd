// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/jeranaias/parley-tui/internal/api"
)

// feed returns a closed-when-drained channel carrying the given frames.
func feed(frames ...api.Frame) <-chan api.Frame {
	ch := make(chan api.Frame, len(frames))
	for _, f := range frames {
		ch <- f
	}
	close(ch)
	return ch
}

func TestContentConcatenationOrder(t *testing.T) {
	r := New(Hooks{})
	res, err := r.Run(context.Background(), feed(
		api.Frame{Content: "The "},
		api.Frame{Content: "quick "},
		api.Frame{Content: "fox"},
		api.Frame{Done: true},
	))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Content != "The quick fox" {
		t.Errorf("content = %q", res.Content)
	}
	if r.State() != StateDone {
		t.Errorf("state = %s", r.State())
	}
}

func TestDoneFrameContentOverrides(t *testing.T) {
	r := New(Hooks{})
	res, err := r.Run(context.Background(), feed(
		api.Frame{Content: "partial chu"},
		api.Frame{Content: "nk that drifted"},
		api.Frame{Done: true, Content: "the authoritative final text", ID: "msg_1"},
	))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Content != "the authoritative final text" {
		t.Errorf("done frame content must override accumulation, got %q", res.Content)
	}
	if res.AssistantID != "msg_1" {
		t.Errorf("assistant id = %q", res.AssistantID)
	}
}

func TestDoneFrameWithoutContentKeepsAccumulated(t *testing.T) {
	r := New(Hooks{})
	res, err := r.Run(context.Background(), feed(
		api.Frame{Content: "a"},
		api.Frame{Content: "b"},
		api.Frame{Done: true, Suggestions: []string{"next"}},
	))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Content != "ab" {
		t.Errorf("content = %q", res.Content)
	}
	if len(res.Suggestions) != 1 || res.Suggestions[0] != "next" {
		t.Errorf("suggestions = %+v", res.Suggestions)
	}
}

func boolp(b bool) *bool { return &b }

func TestThinkingPhases(t *testing.T) {
	var phases []Phase
	r := New(Hooks{OnPhase: func(p Phase) { phases = append(phases, p) }})

	res, err := r.Run(context.Background(), feed(
		api.Frame{ThinkingMode: boolp(true)},
		api.Frame{ThinkingChunk: "let me "},
		api.Frame{ThinkingChunk: "think"},
		api.Frame{Content: "answer"},
		api.Frame{Done: true, Thinking: "let me think carefully"},
	))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	// Done frame thinking overrides the accumulated chunks
	if res.Thinking != "let me think carefully" {
		t.Errorf("thinking = %q", res.Thinking)
	}
	if res.Content != "answer" {
		t.Errorf("content = %q", res.Content)
	}
	if len(phases) != 2 || phases[0] != PhaseThinking || phases[1] != PhaseContent {
		t.Errorf("phase transitions = %v", phases)
	}
}

func TestThinkingModeToggleCarriesSiblingSignals(t *testing.T) {
	var phases []Phase
	r := New(Hooks{OnPhase: func(p Phase) { phases = append(phases, p) }})

	// A frame may carry the toggle alongside content; neither signal
	// may be lost
	res, err := r.Run(context.Background(), feed(
		api.Frame{ThinkingMode: boolp(true), ThinkingChunk: "hmm"},
		api.Frame{ThinkingMode: boolp(false), Content: "Hi"},
		api.Frame{Done: true},
	))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Content != "Hi" {
		t.Errorf("content = %q", res.Content)
	}
	if res.Thinking != "hmm" {
		t.Errorf("thinking = %q", res.Thinking)
	}
	if len(phases) != 2 || phases[0] != PhaseThinking || phases[1] != PhaseContent {
		t.Errorf("phase transitions = %v", phases)
	}
}

func TestConversationIDReported(t *testing.T) {
	var reported string
	r := New(Hooks{OnConversationID: func(id string) { reported = id }})

	res, err := r.Run(context.Background(), feed(
		api.Frame{ConversationID: "conv_new"},
		api.Frame{Content: "x", Done: true},
	))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.ConversationID != "conv_new" || reported != "conv_new" {
		t.Errorf("conversation id: result=%q hook=%q", res.ConversationID, reported)
	}
}

func TestBackendErrorFrameFails(t *testing.T) {
	r := New(Hooks{})
	_, err := r.Run(context.Background(), feed(
		api.Frame{ErrorMsg: "model overloaded"},
	))
	var be *BackendError
	if !errors.As(err, &be) {
		t.Fatalf("expected BackendError, got %v", err)
	}
	if be.Message != "model overloaded" {
		t.Errorf("message = %q", be.Message)
	}
	if r.State() != StateFailed {
		t.Errorf("state = %s", r.State())
	}
}

func TestErrorAfterPartialPreservesPartial(t *testing.T) {
	r := New(Hooks{})
	_, err := r.Run(context.Background(), feed(
		api.Frame{Content: "half an ans"},
		api.Frame{Err: io.ErrUnexpectedEOF},
	))
	var se *api.StreamError
	if !errors.As(err, &se) {
		t.Fatalf("expected StreamError, got %v", err)
	}
	if se.Partial != "half an ans" {
		t.Errorf("partial = %q", se.Partial)
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Error("cause not preserved")
	}
}

func TestEOFWithoutDoneCompletes(t *testing.T) {
	r := New(Hooks{})
	res, err := r.Run(context.Background(), feed(
		api.Frame{Content: "all of it"},
	))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Content != "all of it" {
		t.Errorf("content = %q", res.Content)
	}
	if r.State() != StateDone {
		t.Errorf("state = %s", r.State())
	}
}

func TestCancelDropsExchange(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan api.Frame)

	r := New(Hooks{})
	done := make(chan error, 1)
	go func() {
		_, err := r.Run(ctx, ch)
		done <- err
	}()

	ch <- api.Frame{Content: "some"}
	cancel()

	err := <-done
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if r.State() != StateFailed {
		t.Errorf("state = %s", r.State())
	}
}

func TestReconcilerSingleUse(t *testing.T) {
	r := New(Hooks{})
	if _, err := r.Run(context.Background(), feed(api.Frame{Done: true})); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if _, err := r.Run(context.Background(), feed(api.Frame{Done: true})); err == nil {
		t.Error("second run should fail")
	}
}

func TestContentChunkHookOrder(t *testing.T) {
	var chunks []string
	r := New(Hooks{OnContentChunk: func(c string) { chunks = append(chunks, c) }})

	if _, err := r.Run(context.Background(), feed(
		api.Frame{Content: "1"},
		api.Frame{Content: "2"},
		api.Frame{Content: "3"},
		api.Frame{Done: true},
	)); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(chunks) != 3 || chunks[0] != "1" || chunks[2] != "3" {
		t.Errorf("chunks = %v", chunks)
	}
}
