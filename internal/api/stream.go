// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
)

// STREAMING: Robust SSE parsing with error handling

// =============================================================================
// STREAMING CONSTANTS
// =============================================================================

// MaxFrameSize is the maximum allowed size for a single SSE frame (64KB)
const MaxFrameSize = 64 * 1024

// frameChanBuffer sizes the delivery channel so a slow consumer does not
// immediately stall the network read.
const frameChanBuffer = 64

// =============================================================================
// FRAME TYPE
// =============================================================================

// Frame is one server event on the chat stream. Every key is optional; a
// frame carries any subset and consumers apply whichever signals are
// present. A frame with Done set is terminal, and its Content/Thinking
// (when non-empty) are the complete final text, not a delta.
type Frame struct {
	ErrorMsg       string   `json:"error,omitempty"`
	ID             string   `json:"id,omitempty"`
	ConversationID string   `json:"conversation_id,omitempty"`
	ThinkingChunk  string   `json:"thinking_chunk,omitempty"`
	Thinking       string   `json:"thinking,omitempty"`
	Content        string   `json:"content,omitempty"`
	Done           bool     `json:"done,omitempty"`
	Suggestions    []string `json:"suggestions,omitempty"`
	Recommendation string   `json:"recommendation,omitempty"`

	// ThinkingMode toggles the thinking indicator. A pointer keeps the
	// absent key distinct from an explicit false.
	ThinkingMode *bool `json:"thinking_mode,omitempty"`

	// Err carries a transport failure to the consumer in-band. A frame
	// with Err set is always the last frame on the channel.
	Err error `json:"-"`
}

// HasError reports whether the frame signals a failure, either a backend
// error key or a transport error.
func (f *Frame) HasError() bool {
	return f.Err != nil || f.ErrorMsg != ""
}

// StreamRequest is the payload for opening a chat stream. An empty
// ConversationID asks the backend to create a new conversation; its id
// arrives on an early frame.
type StreamRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Content        string `json:"content"`
	ModelID        string `json:"model_id,omitempty"`
	ThinkingMode   bool   `json:"thinking_mode,omitempty"`
}

// StreamError wraps a failure that happened mid-stream, preserving the
// content received before it.
type StreamError struct {
	Partial string
	Err     error
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	if e.Partial != "" {
		return fmt.Sprintf("stream error (partial content received: %d chars): %v", len(e.Partial), e.Err)
	}
	return fmt.Sprintf("stream error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *StreamError) Unwrap() error {
	return e.Err
}

// =============================================================================
// SSE READER
// =============================================================================

// sseReader parses Server-Sent Events from a response body.
type sseReader struct {
	reader *bufio.Reader
}

func newSSEReader(r io.Reader) *sseReader {
	return &sseReader{
		reader: bufio.NewReaderSize(r, 4096),
	}
}

// ReadData reads the next event's data payload. Comment lines and fields
// other than data: are skipped. Returns io.EOF when the stream ends.
func (s *sseReader) ReadData() ([]byte, error) {
	var dataLines [][]byte

	for {
		line, err := s.reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				if len(dataLines) > 0 {
					return bytes.Join(dataLines, []byte("\n")), nil
				}
				return nil, io.EOF
			}
			return nil, err
		}

		line = bytes.TrimRight(line, "\r\n")

		// Empty line ends the event
		if len(line) == 0 {
			if len(dataLines) > 0 {
				return bytes.Join(dataLines, []byte("\n")), nil
			}
			continue
		}

		if bytes.HasPrefix(line, []byte("data:")) {
			data := bytes.TrimSpace(line[5:])
			if len(data) > MaxFrameSize {
				return nil, fmt.Errorf("SSE frame exceeds %d bytes", MaxFrameSize)
			}
			dataLines = append(dataLines, data)
		}
		// Ignore event:, id:, retry:, and comment lines
	}
}

// =============================================================================
// STREAMING CHAT
// =============================================================================

// StreamMessage opens a streaming chat exchange and returns a channel of
// frames.
//
// Failures before the first frame (missing token, connect error, non-2xx
// status) return an error and no channel. After that, all outcomes travel
// in-band: the channel closes after the terminal done frame, on EOF, on a
// frame carrying Err, or when ctx is cancelled. The response body is
// released exactly once on every exit path.
func (c *Client) StreamMessage(ctx context.Context, req *StreamRequest) (<-chan Frame, error) {
	if !c.IsAuthenticated() {
		return nil, ErrNotAuthenticated
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.baseURL + "/chat/messages/stream"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	c.setHeaders(httpReq)
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")
	c.logRequest(http.MethodPost, url)

	// PERFORMANCE: shared streaming client, pooled connections, no timeout
	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	// closeBody guards the single body release across all exit paths.
	var closeOnce sync.Once
	closeBody := func() {
		closeOnce.Do(func() {
			resp.Body.Close()
		})
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
		closeBody()
		return nil, c.handleErrorResponse(resp, body)
	}

	frames := make(chan Frame, frameChanBuffer)

	go func() {
		defer close(frames)
		defer closeBody()
		c.readFrames(ctx, resp.Body, frames)
	}()

	return frames, nil
}

// readFrames decodes SSE events into frames until the stream terminates.
func (c *Client) readFrames(ctx context.Context, body io.Reader, frames chan<- Frame) {
	reader := newSSEReader(body)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		data, err := reader.ReadData()
		if err != nil {
			if err == io.EOF {
				// EOF without a done frame still terminates cleanly;
				// the reconciler treats it as completion.
				return
			}
			if errors.Is(err, context.Canceled) {
				return
			}
			c.deliver(ctx, frames, Frame{Err: err})
			return
		}

		if bytes.Equal(data, []byte("[DONE]")) {
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			// Malformed frames are logged and skipped, never fatal
			log.Printf("[api] skipping malformed stream frame: %v", err)
			continue
		}

		if !c.deliver(ctx, frames, frame) {
			return
		}
		if frame.Done {
			return
		}
	}
}

// deliver sends a frame unless the context is gone. Returns false when the
// consumer is no longer listening.
func (c *Client) deliver(ctx context.Context, frames chan<- Frame, f Frame) bool {
	select {
	case frames <- f:
		return true
	case <-ctx.Done():
		return false
	}
}
