// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testClient(url string) *Client {
	return NewClient(func() string { return "tok-123" }).WithBaseURL(url)
}

func TestListConversations(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-123" {
			t.Errorf("Authorization = %q", got)
		}
		if r.URL.Path != "/chat/conversations" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"conversations":[
			{"id":"conv_old","title":"Old","updated_at":"2025-01-01T00:00:00Z"},
			{"id":"conv_new","title":"New","updated_at":"2025-06-01T00:00:00Z"}
		]}`))
	}))
	defer server.Close()

	convs, err := testClient(server.URL).ListConversations(context.Background())
	if err != nil {
		t.Fatalf("ListConversations failed: %v", err)
	}
	if len(convs) != 2 {
		t.Fatalf("got %d conversations", len(convs))
	}
	if convs[0].ID != "conv_new" {
		t.Errorf("expected newest first, got %s", convs[0].ID)
	}
}

func TestNotAuthenticated(t *testing.T) {
	c := NewClient(func() string { return "" })
	_, err := c.ListConversations(context.Background())
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("expected ErrNotAuthenticated, got %v", err)
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		status int
		body   string
		want   error
	}{
		{http.StatusUnauthorized, `{"error":{"message":"token expired"}}`, ErrAuthFailed},
		{http.StatusPaymentRequired, `{}`, ErrInsufficientCredits},
		{http.StatusNotFound, `{}`, ErrNotFound},
		{http.StatusTooManyRequests, `{}`, ErrRateLimited},
	}

	for _, tt := range tests {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
			w.Write([]byte(tt.body))
		}))

		_, err := testClient(server.URL).ListConversations(context.Background())
		if !errors.Is(err, tt.want) {
			t.Errorf("status %d: got %v, want %v", tt.status, err, tt.want)
		}
		server.Close()
	}
}

func TestAPIErrorCarriesStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":{"code":"conflict","message":"version mismatch"}}`))
	}))
	defer server.Close()

	err := testClient(server.URL).DeleteConversation(context.Background(), "conv_1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusConflict || apiErr.Code != "conflict" {
		t.Errorf("unexpected APIError: %+v", apiErr)
	}
}

func TestRetryAfterParsing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := testClient(server.URL).GetUsage(context.Background())
	var rle *RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if rle.RetryAfter != 7*time.Second {
		t.Errorf("RetryAfter = %v", rle.RetryAfter)
	}
	if !errors.Is(err, ErrRateLimited) {
		t.Error("RateLimitError should match ErrRateLimited")
	}
}

func TestCalculateBackoff(t *testing.T) {
	c := NewClient(nil)
	expected := []time.Duration{
		500 * time.Millisecond,
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		10 * time.Second, // capped
		10 * time.Second,
	}
	for i, want := range expected {
		if got := c.calculateBackoff(i); got != want {
			t.Errorf("calculateBackoff(%d) = %v, want %v", i, got, want)
		}
	}
}

func TestGetRetriesOn5xx(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"models":[{"id":"parley-large","name":"Parley Large"}]}`))
	}))
	defer server.Close()

	models, err := testClient(server.URL).ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels failed after retry: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
	if len(models) != 1 || models[0].ID != "parley-large" {
		t.Errorf("unexpected models: %+v", models)
	}
}

func TestLogin(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Error("login must not send an Authorization header")
		}
		w.Write([]byte(`{"token":"fresh-token"}`))
	}))
	defer server.Close()

	// Provider returns nothing: login must still work
	c := NewClient(func() string { return "" }).WithBaseURL(server.URL)
	resp, err := c.Login(context.Background(), "dev@example.com", "hunter2")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if resp.Token != "fresh-token" {
		t.Errorf("token = %q", resp.Token)
	}
}

func TestDeleteMessagesSkipsEmpty(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	if err := testClient(server.URL).DeleteMessages(context.Background(), "conv_1", nil); err != nil {
		t.Fatalf("DeleteMessages(nil) failed: %v", err)
	}
	if called {
		t.Error("empty id list must not hit the backend")
	}
}
