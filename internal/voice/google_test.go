package voice

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestGoogleSynthesizerDecodesAudioContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-goog-api-key"); got != "k1" {
			t.Errorf("api key header = %q", got)
		}
		var body googleSynthesizeRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body.Input.Text != "Hello" || body.Voice.Name != "en-US-Neural2-F" || body.AudioConfig.AudioEncoding != "MP3" {
			t.Errorf("unexpected request body: %+v", body)
		}
		_, _ = w.Write([]byte(`{"audioContent":"SUQz"}`))
	}))
	defer srv.Close()

	s := NewGoogleSynthesizerWithClient(GoogleTTSConfig{APIKey: "k1", Endpoint: srv.URL}, srv.Client())
	a, err := s.Synthesize(context.Background(), "Hello")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if string(a.Data) != "ID3" || a.MIMEType != "audio/mpeg" {
		t.Fatalf("audio = %q %s", a.Data, a.MIMEType)
	}
}

func TestGoogleSynthesizerFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		switch r.URL.Path {
		case "/empty":
			_, _ = w.Write([]byte(`{}`))
		default:
			http.Error(w, "denied", http.StatusForbidden)
		}
	}))
	defer srv.Close()

	s := NewGoogleSynthesizerWithClient(GoogleTTSConfig{Endpoint: srv.URL + "/forbidden"}, srv.Client())
	if _, err := s.Synthesize(context.Background(), "Hello"); err == nil {
		t.Fatalf("Synthesize() expected error on 403")
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1 (403 is not retryable)", calls.Load())
	}

	s = NewGoogleSynthesizerWithClient(GoogleTTSConfig{Endpoint: srv.URL + "/empty"}, srv.Client())
	if _, err := s.Synthesize(context.Background(), "Hello"); err == nil {
		t.Fatalf("Synthesize() expected error without audioContent")
	}
	if _, err := s.Synthesize(context.Background(), "   "); err == nil {
		t.Fatalf("Synthesize() expected error on blank text")
	}
}
