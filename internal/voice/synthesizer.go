package voice

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/antoniostano/pitchcoach/internal/observability"
)

// Audio is one synthesized utterance.
type Audio struct {
	Data     []byte
	MIMEType string
}

// Synthesizer turns text into playable audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (Audio, error)
}

// Player plays audio on the trainee's device. Play blocks until playback ends; cancelling
// ctx stops playback and releases the audio handle.
type Player interface {
	Play(ctx context.Context, id string, a Audio) error
}

// SpeechResult reports how an utterance finished.
type SpeechResult struct {
	UtteranceID string
	Err         error
}

// SpeechSynthesizer plays at most one utterance at a time. Speak while a synthesis request
// is still outstanding is ignored. Stop halts playback and discards in-flight results.
type SpeechSynthesizer struct {
	backend Synthesizer
	player  Player
	onDone  func(SpeechResult)
	logger  *slog.Logger
	metrics *observability.Metrics

	mu          sync.Mutex
	seq         uint64
	inFlight    bool
	speaking    bool
	lastErr     error
	cancel      context.CancelFunc
	playbackEnd chan struct{}
}

// NewSpeechSynthesizer wires a backend and player. onDone runs with the synthesizer lock
// held and must not block or call back into the synthesizer.
func NewSpeechSynthesizer(backend Synthesizer, player Player, onDone func(SpeechResult), logger *slog.Logger, metrics *observability.Metrics) *SpeechSynthesizer {
	if onDone == nil {
		onDone = func(SpeechResult) {}
	}
	return &SpeechSynthesizer{
		backend: backend,
		player:  player,
		onDone:  onDone,
		logger:  observability.OrDefault(logger).With("component", "synthesizer"),
		metrics: metrics,
	}
}

// Speak starts an utterance and returns its id. It returns "" when text is blank or a
// previous synthesis request is still outstanding.
func (s *SpeechSynthesizer) Speak(ctx context.Context, text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		s.logger.Debug("speak ignored while synthesis in flight")
		return ""
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.seq++
	seq := s.seq
	runCtx, cancel := context.WithCancel(ctx)
	prevEnd := s.playbackEnd
	end := make(chan struct{})

	s.cancel = cancel
	s.playbackEnd = end
	s.inFlight = true
	s.speaking = true
	s.lastErr = nil
	id := uuid.NewString()
	s.mu.Unlock()

	go s.run(runCtx, cancel, seq, id, text, prevEnd, end)
	return id
}

func (s *SpeechSynthesizer) run(ctx context.Context, cancel context.CancelFunc, seq uint64, id, text string, prevEnd <-chan struct{}, end chan<- struct{}) {
	defer close(end)
	defer cancel()

	start := time.Now()
	audio, err := s.backend.Synthesize(ctx, text)
	s.metrics.ObserveSynthesis(time.Since(start))

	s.mu.Lock()
	if seq != s.seq {
		s.mu.Unlock()
		return
	}
	s.inFlight = false
	if err != nil {
		s.logger.Warn("synthesis failed", "utterance_id", id, "error", err)
		s.metrics.ObserveProviderError("tts", "synthesis_failed")
		s.finishLocked(id, err)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	// The previous utterance was cancelled in Speak; wait until it has released its audio.
	if prevEnd != nil {
		select {
		case <-prevEnd:
		case <-ctx.Done():
		}
	}

	err = s.player.Play(ctx, id, audio)

	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.seq {
		return
	}
	if err != nil {
		s.logger.Warn("playback failed", "utterance_id", id, "error", err)
	}
	s.finishLocked(id, err)
}

func (s *SpeechSynthesizer) finishLocked(id string, err error) {
	s.speaking = false
	s.lastErr = err
	s.cancel = nil
	s.onDone(SpeechResult{UtteranceID: id, Err: err})
}

// Stop halts playback and resets to not speaking. Safe to call repeatedly.
func (s *SpeechSynthesizer) Stop() {
	s.mu.Lock()
	s.seq++
	cancel := s.cancel
	s.cancel = nil
	s.inFlight = false
	s.speaking = false
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (s *SpeechSynthesizer) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}

// Err returns the error from the last finished utterance, if any.
func (s *SpeechSynthesizer) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Wait blocks until the most recent utterance has released its resources.
func (s *SpeechSynthesizer) Wait(ctx context.Context) error {
	s.mu.Lock()
	end := s.playbackEnd
	s.mu.Unlock()
	if end == nil {
		return nil
	}
	select {
	case <-end:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
