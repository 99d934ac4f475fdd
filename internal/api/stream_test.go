// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// sseHandler writes the given SSE lines and closes the stream.
func sseHandler(t *testing.T, lines ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Accept"); got != "text/event-stream" {
			t.Errorf("Accept = %q", got)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, line := range lines {
			fmt.Fprintf(w, "%s\n\n", line)
			flusher.Flush()
		}
	}
}

func collectFrames(t *testing.T, frames <-chan Frame) []Frame {
	t.Helper()
	var out []Frame
	timeout := time.After(5 * time.Second)
	for {
		select {
		case f, ok := <-frames:
			if !ok {
				return out
			}
			out = append(out, f)
		case <-timeout:
			t.Fatal("timed out waiting for frames")
		}
	}
}

func TestStreamMessageHappyPath(t *testing.T) {
	server := httptest.NewServer(sseHandler(t,
		`data: {"conversation_id":"conv_9"}`,
		`data: {"content":"Hel"}`,
		`data: {"content":"lo"}`,
		`data: {"id":"msg_f1","content":"Hello","done":true,"suggestions":["More?"]}`,
	))
	defer server.Close()

	frames, err := testClient(server.URL).StreamMessage(context.Background(), &StreamRequest{
		Content: "hi",
	})
	if err != nil {
		t.Fatalf("StreamMessage failed: %v", err)
	}

	got := collectFrames(t, frames)
	if len(got) != 4 {
		t.Fatalf("got %d frames, want 4", len(got))
	}
	if got[0].ConversationID != "conv_9" {
		t.Errorf("frame 0: %+v", got[0])
	}
	if got[1].Content != "Hel" || got[2].Content != "lo" {
		t.Errorf("content chunks: %+v %+v", got[1], got[2])
	}
	last := got[3]
	if !last.Done || last.ID != "msg_f1" || last.Content != "Hello" {
		t.Errorf("terminal frame: %+v", last)
	}
	if len(last.Suggestions) != 1 || last.Suggestions[0] != "More?" {
		t.Errorf("suggestions: %+v", last.Suggestions)
	}
}

func TestStreamMalformedFrameSkipped(t *testing.T) {
	server := httptest.NewServer(sseHandler(t,
		`data: {"content":"a"}`,
		`data: {not json at all`,
		`data: {"content":"b","done":true}`,
	))
	defer server.Close()

	frames, err := testClient(server.URL).StreamMessage(context.Background(), &StreamRequest{Content: "x"})
	if err != nil {
		t.Fatalf("StreamMessage failed: %v", err)
	}

	got := collectFrames(t, frames)
	if len(got) != 2 {
		t.Fatalf("malformed frame should be skipped, got %d frames", len(got))
	}
	if got[0].Content != "a" || got[1].Content != "b" || !got[1].Done {
		t.Errorf("frames: %+v", got)
	}
}

func TestStreamThinkingModeBoolean(t *testing.T) {
	// thinking_mode is a boolean wire key; a frame carrying it together
	// with content must decode whole, not be skipped as malformed
	server := httptest.NewServer(sseHandler(t,
		`data: {"thinking_mode": true, "content": "Hi"}`,
		`data: {"thinking_mode": false, "done": true}`,
	))
	defer server.Close()

	frames, err := testClient(server.URL).StreamMessage(context.Background(), &StreamRequest{Content: "x"})
	if err != nil {
		t.Fatalf("StreamMessage failed: %v", err)
	}

	got := collectFrames(t, frames)
	if len(got) != 2 {
		t.Fatalf("got %d frames, want 2", len(got))
	}
	if got[0].ThinkingMode == nil || !*got[0].ThinkingMode {
		t.Errorf("frame 0 thinking_mode = %v, want true", got[0].ThinkingMode)
	}
	if got[0].Content != "Hi" {
		t.Errorf("frame 0 content = %q, the toggle must not drop sibling keys", got[0].Content)
	}
	if got[1].ThinkingMode == nil || *got[1].ThinkingMode {
		t.Errorf("frame 1 thinking_mode = %v, want false", got[1].ThinkingMode)
	}
	if !got[1].Done {
		t.Error("frame 1 should be terminal")
	}
}

func TestStreamEOFWithoutDone(t *testing.T) {
	server := httptest.NewServer(sseHandler(t,
		`data: {"content":"partial"}`,
	))
	defer server.Close()

	frames, err := testClient(server.URL).StreamMessage(context.Background(), &StreamRequest{Content: "x"})
	if err != nil {
		t.Fatalf("StreamMessage failed: %v", err)
	}

	got := collectFrames(t, frames)
	if len(got) != 1 || got[0].Content != "partial" {
		t.Errorf("frames: %+v", got)
	}
}

func TestStreamFailsFastOnErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"bad token"}}`))
	}))
	defer server.Close()

	frames, err := testClient(server.URL).StreamMessage(context.Background(), &StreamRequest{Content: "x"})
	if !errors.Is(err, ErrAuthFailed) {
		t.Errorf("expected ErrAuthFailed, got %v", err)
	}
	if frames != nil {
		t.Error("no channel should be returned on fail-fast")
	}
}

func TestStreamRequiresToken(t *testing.T) {
	c := NewClient(func() string { return "" })
	_, err := c.StreamMessage(context.Background(), &StreamRequest{Content: "x"})
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("expected ErrNotAuthenticated, got %v", err)
	}
}

// countingBody wraps a body and counts Close calls.
type countingBody struct {
	io.Reader
	closes *atomic.Int32
}

func (b *countingBody) Close() error {
	b.closes.Add(1)
	return nil
}

// countingTransport serves a canned SSE response with a counting body.
type countingTransport struct {
	payload string
	closes  *atomic.Int32
}

func (tr *countingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"text/event-stream"}},
		Body:       &countingBody{Reader: strings.NewReader(tr.payload), closes: tr.closes},
		Request:    req,
	}, nil
}

func TestStreamBodyReleasedExactlyOnce(t *testing.T) {
	cases := map[string]string{
		"terminal done frame": "data: {\"content\":\"a\"}\n\ndata: {\"done\":true}\n\ndata: {\"content\":\"never read\"}\n\n",
		"clean EOF":           "data: {\"content\":\"a\"}\n\n",
		"done sentinel":       "data: {\"content\":\"a\"}\n\ndata: [DONE]\n\n",
	}

	for name, payload := range cases {
		var closes atomic.Int32
		c := NewClient(func() string { return "tok" }).
			WithBaseURL("http://stream.test").
			WithHTTPClient(&http.Client{Transport: &countingTransport{payload: payload, closes: &closes}})

		frames, err := c.StreamMessage(context.Background(), &StreamRequest{Content: "x"})
		if err != nil {
			t.Fatalf("%s: StreamMessage failed: %v", name, err)
		}
		collectFrames(t, frames)

		if got := closes.Load(); got != 1 {
			t.Errorf("%s: body closed %d times, want exactly 1", name, got)
		}
	}
}

func TestStreamContextCancel(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"content\":\"first\"}\n\n")
		flusher.Flush()
		<-release
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	frames, err := testClient(server.URL).StreamMessage(ctx, &StreamRequest{Content: "x"})
	if err != nil {
		t.Fatalf("StreamMessage failed: %v", err)
	}

	select {
	case f := <-frames:
		if f.Content != "first" {
			t.Errorf("frame: %+v", f)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("first frame never arrived")
	}

	cancel()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-frames:
			if !ok {
				return // channel closed after cancel
			}
		case <-deadline:
			t.Fatal("channel did not close after cancel")
		}
	}
}
