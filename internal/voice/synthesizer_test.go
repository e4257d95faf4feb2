package voice

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"
)

type gatedSynthesizer struct {
	mu    sync.Mutex
	calls int
	gate  chan struct{}
	err   error
}

func (g *gatedSynthesizer) Synthesize(ctx context.Context, text string) (Audio, error) {
	g.mu.Lock()
	g.calls++
	gate := g.gate
	g.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return Audio{}, ctx.Err()
		}
	}
	if g.err != nil {
		return Audio{}, g.err
	}
	return Audio{Data: []byte(text), MIMEType: "audio/wav"}, nil
}

type fakePlayer struct {
	mu        sync.Mutex
	active    int
	maxActive int
	released  []string
	started   chan string
	finish    chan struct{}
}

func newFakePlayer() *fakePlayer {
	return &fakePlayer{started: make(chan string, 8), finish: make(chan struct{})}
}

func (p *fakePlayer) Play(ctx context.Context, id string, _ Audio) error {
	p.mu.Lock()
	p.active++
	if p.active > p.maxActive {
		p.maxActive = p.active
	}
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.active--
		p.mu.Unlock()
	}()

	p.started <- id
	select {
	case <-ctx.Done():
		p.mu.Lock()
		p.released = append(p.released, id)
		p.mu.Unlock()
		return ctx.Err()
	case <-p.finish:
		return nil
	}
}

func waitStarted(t *testing.T, p *fakePlayer, want string) {
	t.Helper()
	select {
	case got := <-p.started:
		if got != want {
			t.Fatalf("playing %q, want %q", got, want)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for playback of %q", want)
	}
}

func TestSpeechSynthesizerOneStreamAtATime(t *testing.T) {
	player := newFakePlayer()
	var mu sync.Mutex
	var done []SpeechResult
	s := NewSpeechSynthesizer(&gatedSynthesizer{}, player, func(r SpeechResult) {
		mu.Lock()
		done = append(done, r)
		mu.Unlock()
	}, nil, nil)

	first := s.Speak(context.Background(), "first")
	waitStarted(t, player, first)
	second := s.Speak(context.Background(), "second")
	if second == "" || second == first {
		t.Fatalf("second Speak() = %q", second)
	}
	waitStarted(t, player, second)

	s.Stop()
	if err := s.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	player.mu.Lock()
	defer player.mu.Unlock()
	if player.maxActive != 1 {
		t.Fatalf("max concurrent playback = %d, want 1", player.maxActive)
	}
	if !slices.Contains(player.released, first) || !slices.Contains(player.released, second) {
		t.Fatalf("released = %v, want both utterances", player.released)
	}
	if s.Speaking() {
		t.Fatalf("Speaking() = true after Stop")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(done) != 0 {
		t.Fatalf("cancelled utterances reported done: %+v", done)
	}
}

func TestSpeechSynthesizerIgnoresSpeakWhileInFlight(t *testing.T) {
	backend := &gatedSynthesizer{gate: make(chan struct{})}
	player := newFakePlayer()
	s := NewSpeechSynthesizer(backend, player, nil, nil, nil)

	id := s.Speak(context.Background(), "one")
	if got := s.Speak(context.Background(), "two"); got != "" {
		t.Fatalf("Speak() while in flight = %q, want ignored", got)
	}
	close(backend.gate)
	waitStarted(t, player, id)
	close(player.finish)
	if err := s.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if backend.calls != 1 {
		t.Fatalf("synthesis calls = %d, want 1", backend.calls)
	}
	if s.Speaking() {
		t.Fatalf("Speaking() = true after playback ended")
	}
}

func TestSpeechSynthesizerFailureResetsState(t *testing.T) {
	results := make(chan SpeechResult, 1)
	s := NewSpeechSynthesizer(&gatedSynthesizer{err: errors.New("status 500")}, newFakePlayer(), func(r SpeechResult) { results <- r }, nil, nil)

	id := s.Speak(context.Background(), "hello")
	select {
	case r := <-results:
		if r.UtteranceID != id || r.Err == nil {
			t.Fatalf("result = %+v", r)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for failure")
	}
	if s.Speaking() {
		t.Fatalf("Speaking() = true after failure")
	}
	if s.Err() == nil {
		t.Fatalf("Err() = nil after failure")
	}
}

func TestSpeechSynthesizerBlankAndIdempotentStop(t *testing.T) {
	s := NewSpeechSynthesizer(&gatedSynthesizer{}, newFakePlayer(), nil, nil, nil)
	if id := s.Speak(context.Background(), "  \n"); id != "" {
		t.Fatalf("Speak(blank) = %q, want no-op", id)
	}
	s.Stop()
	s.Stop()
	if s.Speaking() {
		t.Fatalf("Speaking() = true")
	}
}

func TestMockSynthesizerReturnsWAV(t *testing.T) {
	a, err := NewMockSynthesizer().Synthesize(context.Background(), "Hello there")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if a.MIMEType != "audio/wav" || len(a.Data) <= 44 || string(a.Data[:4]) != "RIFF" {
		t.Fatalf("unexpected mock audio: %s %d bytes", a.MIMEType, len(a.Data))
	}
}
