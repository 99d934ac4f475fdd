// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ws maintains the realtime side channel to the Parley backend.
//
// The channel is independent of the chat stream: it carries realtime
// events (incoming messages, typing indicators, presence, system
// notifications) over a single long-lived WebSocket. It owns its
// connection lifecycle: heartbeats, reconnection with exponential backoff,
// and a terminal give-up signal once automatic recovery is exhausted.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// writeWait bounds a single write to the peer.
	writeWait = 10 * time.Second

	// DefaultHeartbeatInterval is how often the client emits a heartbeat.
	DefaultHeartbeatInterval = 30 * time.Second

	// readWait bounds the silence tolerated before the connection is
	// considered dead. The server echoes heartbeats, so a healthy link
	// always has traffic inside this window.
	readWaitMultiplier = 3

	// reconnectBaseDelay is the first reconnect delay; it doubles per
	// attempt up to reconnectMaxDelay.
	reconnectBaseDelay = 1 * time.Second
	reconnectMaxDelay  = 30 * time.Second

	// DefaultMaxReconnectAttempts bounds automatic recovery before the
	// channel gives up and tells the user.
	DefaultMaxReconnectAttempts = 6

	// Outbound sends are throttled so a hot loop cannot flood the socket.
	defaultSendRate  = rate.Limit(10) // events per second
	defaultSendBurst = 20

	// MaxEnvelopeSize bounds a single inbound envelope.
	MaxEnvelopeSize = 256 * 1024
)

// Event types carried on the channel.
const (
	TypeChatMessage        = "chat_message"
	TypeTypingIndicator    = "typing_indicator"
	TypeUserStatus         = "user_status"
	TypeSystemNotification = "system_notification"
	TypeHeartbeat          = "heartbeat"
)

// =============================================================================
// ENVELOPE
// =============================================================================

// Envelope is the wire format for side-channel events.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// =============================================================================
// STATUS
// =============================================================================

// Status describes the channel's connection lifecycle.
type Status int

const (
	StatusConnected Status = iota
	StatusDisconnected
	StatusReconnecting
	StatusGaveUp
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusConnected:
		return "connected"
	case StatusDisconnected:
		return "disconnected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusGaveUp:
		return "gave up"
	default:
		return "unknown"
	}
}

// StatusEvent is a lifecycle notification. Attempt is set while
// reconnecting.
type StatusEvent struct {
	Status  Status
	Attempt int
	Err     error
}

// =============================================================================
// CHANNEL
// =============================================================================

// TokenProvider returns the current bearer token for the ws handshake.
type TokenProvider func() string

// Channel is a reconnecting WebSocket client for the Parley side channel.
type Channel struct {
	url   string
	token TokenProvider

	dialer      *websocket.Dialer
	heartbeat   time.Duration
	maxAttempts int
	limiter     *rate.Limiter

	events chan Envelope
	status chan StatusEvent

	mu   sync.Mutex
	conn *websocket.Conn
}

// New creates a channel for the given ws endpoint. The token travels as a
// query parameter on the handshake, matching the backend's contract.
func New(url string, token TokenProvider) *Channel {
	if token == nil {
		token = func() string { return "" }
	}
	return &Channel{
		url:         url,
		token:       token,
		dialer:      websocket.DefaultDialer,
		heartbeat:   DefaultHeartbeatInterval,
		maxAttempts: DefaultMaxReconnectAttempts,
		limiter:     rate.NewLimiter(defaultSendRate, defaultSendBurst),
		events:      make(chan Envelope, 64),
		status:      make(chan StatusEvent, 16),
	}
}

// WithHeartbeatInterval overrides the heartbeat cadence.
func (c *Channel) WithHeartbeatInterval(d time.Duration) *Channel {
	c.heartbeat = d
	return c
}

// WithMaxReconnectAttempts overrides the reconnect budget.
func (c *Channel) WithMaxReconnectAttempts(n int) *Channel {
	c.maxAttempts = n
	return c
}

// WithSendRate overrides outbound throttling.
func (c *Channel) WithSendRate(limit rate.Limit, burst int) *Channel {
	c.limiter = rate.NewLimiter(limit, burst)
	return c
}

// Events returns the inbound event channel. It closes when Run returns.
func (c *Channel) Events() <-chan Envelope {
	return c.events
}

// Statuses returns the lifecycle notification channel.
func (c *Channel) Statuses() <-chan StatusEvent {
	return c.status
}

// reconnectDelay returns the backoff before reconnect attempt n (0-based):
// 1s, 2s, 4s, ... capped at 30s.
func reconnectDelay(attempt int) time.Duration {
	delay := reconnectBaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= reconnectMaxDelay {
			return reconnectMaxDelay
		}
	}
	return delay
}

// Run connects and serves the channel until ctx is cancelled or the
// reconnect budget is exhausted. Each successful connection resets the
// budget. On exhaustion a StatusGaveUp event is emitted so the UI can
// surface that automatic recovery failed.
func (c *Channel) Run(ctx context.Context) error {
	defer close(c.events)

	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		conn, err := c.dial(ctx)
		if err != nil {
			attempt++
			if attempt >= c.maxAttempts {
				c.emitStatus(StatusEvent{Status: StatusGaveUp, Attempt: attempt, Err: err})
				return fmt.Errorf("websocket reconnect budget exhausted: %w", err)
			}
			delay := reconnectDelay(attempt - 1)
			c.emitStatus(StatusEvent{Status: StatusReconnecting, Attempt: attempt, Err: err})
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			continue
		}

		attempt = 0
		c.setConn(conn)
		c.emitStatus(StatusEvent{Status: StatusConnected})

		err = c.serve(ctx, conn)
		c.setConn(nil)
		conn.Close()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.emitStatus(StatusEvent{Status: StatusDisconnected, Err: err})
		attempt = 1
		if attempt >= c.maxAttempts {
			c.emitStatus(StatusEvent{Status: StatusGaveUp, Attempt: attempt, Err: err})
			return fmt.Errorf("websocket reconnect budget exhausted: %w", err)
		}
		c.emitStatus(StatusEvent{Status: StatusReconnecting, Attempt: attempt, Err: err})
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay(0)):
		}
	}
}

// dial opens one connection, carrying the auth token on the query string.
func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	url := c.url
	if tok := c.token(); tok != "" {
		sep := "?"
		for _, r := range url {
			if r == '?' {
				sep = "&"
				break
			}
		}
		url += sep + "token=" + tok
	}

	conn, resp, err := c.dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("websocket handshake rejected (HTTP 401): %w", err)
		}
		return nil, err
	}
	conn.SetReadLimit(MaxEnvelopeSize)
	return conn, nil
}

// serve pumps one connection until it breaks or ctx ends.
func (c *Channel) serve(ctx context.Context, conn *websocket.Conn) error {
	readErr := make(chan error, 1)

	go func() {
		readErr <- c.readPump(ctx, conn)
	}()

	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Best-effort close frame so the server drops us cleanly
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return ctx.Err()
		case err := <-readErr:
			return err
		case <-ticker.C:
			if err := c.writeEnvelope(conn, Envelope{Type: TypeHeartbeat, Timestamp: time.Now()}); err != nil {
				return err
			}
		}
	}
}

// readPump delivers inbound envelopes. Server heartbeats are echoed and
// swallowed; everything else goes to consumers. Malformed envelopes are
// logged and skipped.
func (c *Channel) readPump(ctx context.Context, conn *websocket.Conn) error {
	for {
		conn.SetReadDeadline(time.Now().Add(time.Duration(readWaitMultiplier) * c.heartbeat))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Printf("[ws] skipping malformed envelope: %v", err)
			continue
		}

		if env.Type == TypeHeartbeat {
			// Echo so the server sees us alive; not delivered to consumers
			_ = c.writeEnvelope(conn, Envelope{Type: TypeHeartbeat, Timestamp: time.Now()})
			continue
		}

		select {
		case c.events <- env:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// writeEnvelope serializes one envelope to the connection. Writes are
// serialized by the channel mutex: heartbeat echo, ticker, and Send can
// race otherwise.
func (c *Channel) writeEnvelope(conn *websocket.Conn, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *Channel) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

// Send publishes an event to the backend. Sends are rate limited; the
// wait respects ctx. Sending while disconnected fails immediately.
func (c *Channel) Send(ctx context.Context, eventType string, data any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var raw json.RawMessage
	if data != nil {
		payload, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to marshal event data: %w", err)
		}
		raw = payload
	}
	env := Envelope{Type: eventType, Data: raw, Timestamp: time.Now()}

	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// emitStatus delivers a lifecycle event without ever blocking the pumps.
func (c *Channel) emitStatus(ev StatusEvent) {
	select {
	case c.status <- ev:
	default:
	}
}
