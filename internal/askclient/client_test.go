package askclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newServer(t *testing.T, status int, body string) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestAsk_Success(t *testing.T) {
	var gotQuestion string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if r.Header.Get("X-Request-ID") == "" {
			t.Error("Expected X-Request-ID header")
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotQuestion = body["question"]
		_, _ = w.Write([]byte(`{"response":"Paris"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second)
	got, err := c.Ask(context.Background(), "Capital of France?")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if got != "Paris" {
		t.Errorf("Expected Paris, got %q", got)
	}
	if gotQuestion != "Capital of France?" {
		t.Errorf("Expected question to be sent, got %q", gotQuestion)
	}
}

func TestAsk_LocalValidation(t *testing.T) {
	srv, calls := newServer(t, http.StatusOK, `{"response":"x"}`)
	c := New(srv.URL, time.Second)

	for _, q := range []string{"", "   \n", strings.Repeat("a", 1001)} {
		_, err := c.Ask(context.Background(), q)
		var askErr *Error
		if !errors.As(err, &askErr) || askErr.Kind != KindValidation {
			t.Errorf("Expected validation error for %d chars, got %v", len(q), err)
		}
	}
	if atomic.LoadInt32(calls) != 0 {
		t.Errorf("Expected no network request, got %d", atomic.LoadInt32(calls))
	}

	if _, err := c.Ask(context.Background(), strings.Repeat("ü", 1000)); err != nil {
		t.Errorf("Expected 1000 characters to be accepted, got %v", err)
	}
}

func TestAsk_StatusMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		kind    Kind
		message string
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":"Too many requests"}`, KindRateLimited, "Too many requests"},
		{"server error", http.StatusInternalServerError, `{"error":"Failed"}`, KindServerError, "Failed"},
		{"bad gateway", http.StatusBadGateway, `not json`, KindServerError, ""},
		{"bad request", http.StatusBadRequest, `{"error":"Question cannot be empty"}`, KindValidation, "Question cannot be empty"},
		{"not found", http.StatusNotFound, `{"error":"Endpoint not found"}`, KindNetwork, "Endpoint not found"},
		{"undecodable success", http.StatusOK, `<html>`, KindServerError, ""},
		{"success without response", http.StatusOK, `{}`, KindServerError, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, calls := newServer(t, tt.status, tt.body)
			c := New(srv.URL, time.Second)

			_, err := c.Ask(context.Background(), "hello")

			var askErr *Error
			if !errors.As(err, &askErr) {
				t.Fatalf("Expected *Error, got %v", err)
			}
			if askErr.Kind != tt.kind {
				t.Errorf("Expected kind %s, got %s", tt.kind, askErr.Kind)
			}
			if askErr.Message != tt.message {
				t.Errorf("Expected message %q, got %q", tt.message, askErr.Message)
			}
			if atomic.LoadInt32(calls) != 1 {
				t.Errorf("Expected exactly one request, got %d", atomic.LoadInt32(calls))
			}
		})
	}
}

func TestAsk_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := New(url, time.Second)
	_, err := c.Ask(context.Background(), "hello")

	var askErr *Error
	if !errors.As(err, &askErr) || askErr.Kind != KindServerError {
		t.Fatalf("Expected server_error for transport failure, got %v", err)
	}
	if askErr.Status != 0 {
		t.Errorf("Expected no status, got %d", askErr.Status)
	}
}

func TestAsk_ContextCancelled(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	c := New(srv.URL, 5*time.Second)
	_, err := c.Ask(ctx, "hello")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled to be wrapped, got %v", err)
	}
}

func TestError_UserMessage(t *testing.T) {
	tests := []struct {
		err  *Error
		want string
	}{
		{&Error{Kind: KindRateLimited}, "Too many requests right now. Please wait a moment and try again."},
		{&Error{Kind: KindServerError, Message: "internal detail"}, "Sorry, something went wrong. Please try again."},
		{&Error{Kind: KindNetwork}, "Could not reach the assistant. Please check your connection and try again."},
		{&Error{Kind: KindValidation, Message: "Question cannot be empty"}, "Question cannot be empty"},
	}
	for _, tt := range tests {
		if got := tt.err.UserMessage(); got != tt.want {
			t.Errorf("%s: expected %q, got %q", tt.err.Kind, tt.want, got)
		}
	}
}
