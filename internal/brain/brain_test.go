package brain

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestHTTPCompleterReadsJSONField(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message":"Sure, what's this about?"}`))
	}))
	defer srv.Close()

	c := NewHTTP(srv.URL)
	text, err := c.Complete(context.Background(), Request{Messages: []Message{
		{Role: RoleModel, Text: "Hello?"},
		{Role: RoleUser, Text: "Hi, got a minute?"},
	}})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if text != "Sure, what's this about?" {
		t.Fatalf("Complete() = %q", text)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != RoleModel || got.Messages[1].Text != "Hi, got a minute?" {
		t.Fatalf("server received %+v", got.Messages)
	}
}

func TestHTTPCompleterPlainTextBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("  plain reply \n"))
	}))
	defer srv.Close()

	text, err := NewHTTP(srv.URL).Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Text: "hi"}}})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if text != "plain reply" {
		t.Fatalf("Complete() = %q, want %q", text, "plain reply")
	}
}

func TestHTTPCompleterRetriesRetryableStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"text":"ok"}`))
	}))
	defer srv.Close()

	text, err := NewHTTP(srv.URL).Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Text: "hi"}}})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if text != "ok" || calls.Load() != 2 {
		t.Fatalf("text = %q calls = %d, want ok after 2 calls", text, calls.Load())
	}
}

func TestHTTPCompleterDoesNotRetryBadRequest(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := NewHTTP(srv.URL).Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Text: "hi"}}})
	if err == nil {
		t.Fatalf("Complete() expected error")
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
}

type stubCompleter struct {
	text string
	err  error
}

func (s stubCompleter) Complete(context.Context, Request) (string, error) { return s.text, s.err }

func TestFallbackCompleterUsesSecondaryOnError(t *testing.T) {
	c := NewFallback(stubCompleter{err: errors.New("down")}, stubCompleter{text: "from fallback"})
	text, err := c.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Text: "hi"}}})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if text != "from fallback" {
		t.Fatalf("Complete() = %q", text)
	}
}

func TestFallbackCompleterDoesNotRetryCancellation(t *testing.T) {
	c := NewFallback(stubCompleter{err: context.Canceled}, stubCompleter{text: "from fallback"})
	if _, err := c.Complete(context.Background(), Request{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Complete() error = %v, want context.Canceled", err)
	}
}

func TestNewSelectsMockWithoutCredentials(t *testing.T) {
	c, name, err := New(context.Background(), Config{Mode: "auto"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if name != "mock" {
		t.Fatalf("name = %q, want mock", name)
	}
	if _, ok := c.(*MockCompleter); !ok {
		t.Fatalf("completer type = %T, want *MockCompleter", c)
	}
}

func TestNewRejectsUnknownMode(t *testing.T) {
	if _, _, err := New(context.Background(), Config{Mode: "carrier-pigeon"}); err == nil {
		t.Fatalf("New() expected error for unknown mode")
	}
}
