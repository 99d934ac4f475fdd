// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream turns the raw frame sequence of a chat exchange into a
// finished assistant message.
//
// The reconciler is a small state machine over the frame channel produced
// by the api package. It accumulates thinking and content chunks in arrival
// order, tracks phase transitions, and resolves the terminal frame's
// override semantics: a done frame's content or thinking, when present, is
// the complete final text and wins over everything accumulated.
package stream

import (
	"context"
	"fmt"
	"strings"

	"github.com/jeranaias/parley-tui/internal/api"
)

// =============================================================================
// STATES
// =============================================================================

// State is the lifecycle position of one exchange.
type State int

const (
	StateIdle State = iota
	StateOpening
	StateStreaming
	StateCompleting
	StateDone
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpening:
		return "opening"
	case StateStreaming:
		return "streaming"
	case StateCompleting:
		return "completing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Phase is the sub-state while streaming: the backend emits the thinking
// block before any content.
type Phase int

const (
	PhaseNone Phase = iota
	PhaseThinking
	PhaseContent
)

// =============================================================================
// ERRORS
// =============================================================================

// BackendError is an error frame sent by the backend mid-stream.
type BackendError struct {
	Message string
}

// Error implements the error interface.
func (e *BackendError) Error() string {
	return "backend error: " + e.Message
}

// =============================================================================
// RESULT
// =============================================================================

// Result is the reconciled outcome of a successful exchange.
type Result struct {
	// AssistantID is the backend id of the assistant message, when the
	// terminal frame carried one.
	AssistantID string

	// ConversationID is set when the backend created or confirmed the
	// conversation during this exchange.
	ConversationID string

	Content  string
	Thinking string

	Suggestions    []string
	Recommendation string
}

// =============================================================================
// RECONCILER
// =============================================================================

// Hooks are optional callbacks fired as the exchange progresses. Nil hooks
// are skipped. They run on the reconciler's goroutine.
type Hooks struct {
	OnState          func(State)
	OnPhase          func(Phase)
	OnConversationID func(string)
	OnThinkingChunk  func(string)
	OnContentChunk   func(string)
}

// Reconciler drives a single exchange. It is single-use: create one per
// SendMessage call.
type Reconciler struct {
	state State
	phase Phase
	hooks Hooks

	thinking strings.Builder
	content  strings.Builder

	result Result
}

// New creates a reconciler in the Idle state.
func New(hooks Hooks) *Reconciler {
	return &Reconciler{state: StateIdle, hooks: hooks}
}

// State returns the current state.
func (r *Reconciler) State() State {
	return r.state
}

// Partial returns the content accumulated so far. Valid at any point,
// including after a failure.
func (r *Reconciler) Partial() string {
	return r.content.String()
}

func (r *Reconciler) setState(s State) {
	if r.state == s {
		return
	}
	r.state = s
	if r.hooks.OnState != nil {
		r.hooks.OnState(s)
	}
}

func (r *Reconciler) setPhase(p Phase) {
	if r.phase == p {
		return
	}
	r.phase = p
	if r.hooks.OnPhase != nil {
		r.hooks.OnPhase(p)
	}
}

// Run consumes the frame channel to completion and returns the reconciled
// result.
//
// The exchange fails on a backend error frame, a transport error, or
// context cancellation; accumulated partial content is preserved inside
// the returned error where it exists. Channel closure without a done frame
// is a clean completion with the accumulated text.
func (r *Reconciler) Run(ctx context.Context, frames <-chan api.Frame) (*Result, error) {
	if r.state != StateIdle {
		return nil, fmt.Errorf("reconciler already used (state %s)", r.state)
	}
	r.setState(StateOpening)

	for {
		select {
		case <-ctx.Done():
			r.setState(StateFailed)
			return nil, ctx.Err()

		case frame, ok := <-frames:
			if !ok {
				// EOF without a done frame: complete with what we have
				return r.complete(api.Frame{}), nil
			}

			if err := r.apply(frame); err != nil {
				r.setState(StateFailed)
				return nil, err
			}
			if frame.Done {
				return r.complete(frame), nil
			}
		}
	}
}

// apply folds one non-terminal outcome of a frame into the accumulators.
// Signals are applied in wire order: error, identity, thinking, content.
func (r *Reconciler) apply(frame api.Frame) error {
	if frame.Err != nil {
		return &api.StreamError{Partial: r.content.String(), Err: frame.Err}
	}
	if frame.ErrorMsg != "" {
		err := &BackendError{Message: frame.ErrorMsg}
		if r.content.Len() > 0 {
			return &api.StreamError{Partial: r.content.String(), Err: err}
		}
		return err
	}

	r.setState(StateStreaming)

	if frame.ConversationID != "" && r.result.ConversationID == "" {
		r.result.ConversationID = frame.ConversationID
		if r.hooks.OnConversationID != nil {
			r.hooks.OnConversationID(frame.ConversationID)
		}
	}
	if frame.ID != "" {
		r.result.AssistantID = frame.ID
	}
	// thinking_mode is a pure phase toggle, nothing accumulates from it
	if frame.ThinkingMode != nil {
		if *frame.ThinkingMode {
			r.setPhase(PhaseThinking)
		} else {
			r.setPhase(PhaseContent)
		}
	}

	if frame.ThinkingChunk != "" {
		r.setPhase(PhaseThinking)
		r.thinking.WriteString(frame.ThinkingChunk)
		if r.hooks.OnThinkingChunk != nil {
			r.hooks.OnThinkingChunk(frame.ThinkingChunk)
		}
	}
	if frame.Thinking != "" && !frame.Done {
		// Full thinking override mid-stream: backend consolidated the
		// block, the thinking phase is over
		r.thinking.Reset()
		r.thinking.WriteString(frame.Thinking)
		r.setPhase(PhaseContent)
	}

	if frame.Content != "" && !frame.Done {
		r.setPhase(PhaseContent)
		r.content.WriteString(frame.Content)
		if r.hooks.OnContentChunk != nil {
			r.hooks.OnContentChunk(frame.Content)
		}
	}

	return nil
}

// complete folds the terminal frame and finishes the exchange. The done
// frame's content and thinking are whole-message overrides when non-empty.
func (r *Reconciler) complete(last api.Frame) *Result {
	r.setState(StateCompleting)

	if last.ID != "" {
		r.result.AssistantID = last.ID
	}
	if last.ConversationID != "" && r.result.ConversationID == "" {
		r.result.ConversationID = last.ConversationID
		if r.hooks.OnConversationID != nil {
			r.hooks.OnConversationID(last.ConversationID)
		}
	}
	if last.Content != "" {
		r.result.Content = last.Content
	} else {
		r.result.Content = r.content.String()
	}
	if last.Thinking != "" {
		r.result.Thinking = last.Thinking
	} else {
		r.result.Thinking = r.thinking.String()
	}
	if len(last.Suggestions) > 0 {
		r.result.Suggestions = last.Suggestions
	}
	if last.Recommendation != "" {
		r.result.Recommendation = last.Recommendation
	}

	r.setState(StateDone)
	return &r.result
}
