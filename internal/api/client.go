// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api implements the HTTP client for the Parley backend.
//
// The backend exposes a JSON REST surface for conversations, messages,
// models, and usage, plus a chunked SSE endpoint for streaming chat
// exchanges. All authenticated calls carry a bearer token supplied by a
// TokenProvider so the client never owns credential storage.
//
// CLOUD: Secure logging, retry logic, and validation
package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jeranaias/parley-tui/internal/model"
)

// Configuration constants for the Parley API.
const (
	// DefaultBaseURL is the base URL for the Parley API.
	DefaultBaseURL = "https://api.parley.chat/api/v1"

	// DefaultTimeout is the default timeout for non-streaming requests.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxRetries is the default number of retry attempts for
	// transient errors on idempotent requests.
	DefaultMaxRetries = 3

	// retryBaseDelay is the base delay for exponential backoff.
	retryBaseDelay = 500 * time.Millisecond

	// retryMaxDelay is the maximum delay for exponential backoff.
	retryMaxDelay = 10 * time.Second

	// MaxResponseSize is the maximum allowed response body size.
	// SECURITY: Response size limit prevents memory exhaustion attacks.
	MaxResponseSize = 10 * 1024 * 1024 // 10MB limit
)

var (
	// PERFORMANCE: Connection pooling reduces TCP handshake overhead.
	// Shared HTTP client for all REST requests.
	// SECURITY: TLS verification required for production
	sharedHTTPClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
		Timeout: DefaultTimeout,
	}

	// sharedStreamingClient is used for streaming requests.
	// No Timeout: a chat exchange has no upper bound, cancellation is
	// handled through the request context.
	sharedStreamingClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
	}
)

// Error variables for common API errors.
var (
	// ErrNotAuthenticated indicates no auth token is available.
	ErrNotAuthenticated = errors.New("not authenticated: run 'parley login'")

	// ErrAuthFailed indicates the backend rejected the token.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrRateLimited indicates too many requests were made.
	ErrRateLimited = errors.New("rate limited")

	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientCredits indicates the account balance is exhausted.
	ErrInsufficientCredits = errors.New("insufficient credits")
)

// APIError represents a structured error response from the Parley API.
type APIError struct {
	Code    string
	Message string
	Status  int
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("parley API error [%s] (HTTP %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("parley API error (HTTP %d): %s", e.Status, e.Message)
}

// RateLimitError carries the server-requested retry delay.
type RateLimitError struct {
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %v", e.RetryAfter)
	}
	return "rate limited"
}

// Is allows RateLimitError to be compared with ErrRateLimited.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// apiErrorResponse is the backend's error envelope.
type apiErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// =============================================================================
// CLIENT
// =============================================================================

// TokenProvider returns the current bearer token, or "" when logged out.
// The indirection keeps credential storage out of the transport layer.
type TokenProvider func() string

// Client is a client for the Parley backend API.
type Client struct {
	token        TokenProvider
	baseURL      string
	httpClient   *http.Client
	streamClient *http.Client
	maxRetries   int
	debug        bool
}

// NewClient creates a new Parley API client.
//
// Requests fail with ErrNotAuthenticated when the provider returns an
// empty token, except Login which is unauthenticated by nature.
func NewClient(token TokenProvider) *Client {
	if token == nil {
		token = func() string { return "" }
	}
	return &Client{
		token:        token,
		baseURL:      DefaultBaseURL,
		httpClient:   sharedHTTPClient,
		streamClient: sharedStreamingClient,
		maxRetries:   DefaultMaxRetries,
	}
}

// WithBaseURL sets a custom base URL for the API.
func (c *Client) WithBaseURL(url string) *Client {
	c.baseURL = strings.TrimSuffix(url, "/")
	return c
}

// WithMaxRetries sets the maximum number of retry attempts.
func (c *Client) WithMaxRetries(maxRetries int) *Client {
	c.maxRetries = maxRetries
	return c
}

// WithHTTPClient overrides both the REST and streaming HTTP clients.
// Used by tests to inject counting transports.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	c.streamClient = hc
	return c
}

// WithDebug enables request/response logging to stderr.
// Auth headers and bodies are never logged.
func (c *Client) WithDebug(enabled bool) *Client {
	c.debug = enabled
	return c
}

// IsAuthenticated reports whether a token is currently available.
func (c *Client) IsAuthenticated() bool {
	return c.token() != ""
}

// setHeaders sets the standard headers for an authenticated request.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.token())
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "parley-tui")
}

// logRequest logs a request line when debug is enabled.
func (c *Client) logRequest(method, url string) {
	if c.debug {
		log.Printf("[api] %s %s", method, url)
	}
}

// calculateBackoff returns the exponential backoff delay for a retry attempt.
func (c *Client) calculateBackoff(attempt int) time.Duration {
	delay := retryBaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= retryMaxDelay {
			return retryMaxDelay
		}
	}
	return delay
}

// =============================================================================
// REQUEST PLUMBING
// =============================================================================

// doJSON performs an authenticated JSON request and decodes the response
// into out (when out is non-nil).
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	if !c.IsAuthenticated() {
		return ErrNotAuthenticated
	}
	return c.doJSONUnauthed(ctx, method, path, in, out, true)
}

func (c *Client) doJSONUnauthed(ctx context.Context, method, path string, in, out any, authed bool) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if authed {
		c.setHeaders(req)
	} else {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "parley-tui")
	}
	c.logRequest(method, url)

	resp, err := c.doWithRetry(ctx, req, method == http.MethodGet)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := c.readResponse(resp)
	if err != nil {
		return err
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// doWithRetry executes a request, retrying transient failures (network
// errors and 5xx) with exponential backoff. Only idempotent requests
// retry; 4xx never retries.
func (c *Client) doWithRetry(ctx context.Context, req *http.Request, idempotent bool) (*http.Response, error) {
	var bodyBytes []byte
	if req.Body != nil && idempotent {
		bodyBytes, _ = io.ReadAll(req.Body)
		req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
	}

	attempts := 1
	if idempotent {
		attempts = c.maxRetries
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.calculateBackoff(attempt - 1)):
			}
			if bodyBytes != nil {
				req = req.Clone(ctx)
				req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
			}
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode >= 500 && attempt < attempts-1 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
			resp.Body.Close()
			lastErr = c.handleErrorResponse(resp, body)
			continue
		}
		return resp, nil
	}
	return nil, lastErr
}

// readResponse reads a response body with a size limit and maps non-2xx
// statuses to typed errors.
func (c *Client) readResponse(resp *http.Response) ([]byte, error) {
	// SECURITY: Response size limit prevents memory exhaustion
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.handleErrorResponse(resp, data)
	}
	return data, nil
}

// handleErrorResponse maps an error status and body to a typed error.
func (c *Client) handleErrorResponse(resp *http.Response, body []byte) error {
	var apiErr apiErrorResponse
	_ = json.Unmarshal(body, &apiErr)

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		if apiErr.Error.Message != "" {
			return fmt.Errorf("%w: %s", ErrAuthFailed, apiErr.Error.Message)
		}
		return ErrAuthFailed
	case http.StatusPaymentRequired:
		return ErrInsufficientCredits
	case http.StatusNotFound:
		if apiErr.Error.Message != "" {
			return fmt.Errorf("%w: %s", ErrNotFound, apiErr.Error.Message)
		}
		return ErrNotFound
	case http.StatusTooManyRequests:
		return c.handleRateLimit(resp)
	}

	msg := apiErr.Error.Message
	if msg == "" {
		msg = strings.TrimSpace(string(body))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
	}
	return &APIError{
		Code:    apiErr.Error.Code,
		Message: msg,
		Status:  resp.StatusCode,
	}
}

// handleRateLimit parses Retry-After into a RateLimitError.
func (c *Client) handleRateLimit(resp *http.Response) error {
	retryAfter := resp.Header.Get("Retry-After")
	if retryAfter == "" {
		return ErrRateLimited
	}
	if seconds, err := strconv.Atoi(retryAfter); err == nil {
		return &RateLimitError{RetryAfter: time.Duration(seconds) * time.Second}
	}
	if t, err := http.ParseTime(retryAfter); err == nil {
		return &RateLimitError{RetryAfter: time.Until(t)}
	}
	return ErrRateLimited
}

// =============================================================================
// AUTH
// =============================================================================

// LoginRequest is the credentials payload for /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse carries the issued bearer token.
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Login exchanges credentials for a bearer token. It is the only
// unauthenticated call in the client.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	var out LoginResponse
	err := c.doJSONUnauthed(ctx, http.MethodPost, "/auth/login", LoginRequest{
		Email:    email,
		Password: password,
	}, &out, false)
	if err != nil {
		return nil, err
	}
	if out.Token == "" {
		return nil, fmt.Errorf("%w: empty token in login response", ErrAuthFailed)
	}
	return &out, nil
}

// Logout invalidates the current token server-side. A 401 here is not an
// error: the token was already dead.
func (c *Client) Logout(ctx context.Context) error {
	err := c.doJSON(ctx, http.MethodPost, "/auth/logout", nil, nil)
	if errors.Is(err, ErrAuthFailed) {
		return nil
	}
	return err
}

// =============================================================================
// CONVERSATIONS
// =============================================================================

// conversationsResponse is the list endpoint envelope.
type conversationsResponse struct {
	Conversations []*model.Conversation `json:"conversations"`
}

// messagesResponse is the message list envelope.
type messagesResponse struct {
	Messages []*model.Message `json:"messages"`
}

// ListConversations fetches conversation metadata, newest first.
func (c *Client) ListConversations(ctx context.Context) ([]*model.Conversation, error) {
	var out conversationsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/chat/conversations", nil, &out); err != nil {
		return nil, err
	}
	model.SortConversations(out.Conversations)
	return out.Conversations, nil
}

// GetMessages fetches the full message history of one conversation in
// chronological order.
func (c *Client) GetMessages(ctx context.Context, conversationID string) ([]*model.Message, error) {
	var out messagesResponse
	path := "/chat/conversations/" + conversationID + "/messages"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// DeleteConversation removes a conversation and its messages.
func (c *Client) DeleteConversation(ctx context.Context, conversationID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/chat/conversations/"+conversationID, nil, nil)
}

// UpdateConversationTitle renames a conversation.
func (c *Client) UpdateConversationTitle(ctx context.Context, conversationID, title string) error {
	return c.doJSON(ctx, http.MethodPatch, "/chat/conversations/"+conversationID, map[string]string{
		"title": title,
	}, nil)
}

// DeleteMessages bulk-deletes messages from a conversation. Callers must
// filter out temp ids: the backend has never seen them.
func (c *Client) DeleteMessages(ctx context.Context, conversationID string, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	path := "/chat/conversations/" + conversationID + "/messages/delete"
	return c.doJSON(ctx, http.MethodPost, path, map[string][]string{
		"message_ids": messageIDs,
	}, nil)
}

// =============================================================================
// MODELS AND USAGE
// =============================================================================

// modelsResponse is the model list envelope.
type modelsResponse struct {
	Models []model.ModelInfo `json:"models"`
}

// ListModels fetches the models available to this account.
func (c *Client) ListModels(ctx context.Context) ([]model.ModelInfo, error) {
	var out modelsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/models", nil, &out); err != nil {
		return nil, err
	}
	return out.Models, nil
}

// UsageSummary is the server-side billing view for the current period.
type UsageSummary struct {
	PeriodStart      time.Time `json:"period_start"`
	PeriodEnd        time.Time `json:"period_end"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalCost        float64   `json:"total_cost"`
	CreditsRemaining float64   `json:"credits_remaining"`
}

// GetUsage fetches the account usage summary.
func (c *Client) GetUsage(ctx context.Context) (*UsageSummary, error) {
	var out UsageSummary
	if err := c.doJSON(ctx, http.MethodGet, "/usage", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
