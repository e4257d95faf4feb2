package voice

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/antoniostano/pitchcoach/internal/observability"
)

var ErrSpeechUnsupported = errors.New("speech capture not supported")

// Recognition is one result delivered by a speech engine.
type Recognition struct {
	Text  string
	Final bool
	Err   error
}

// SpeechEngine is the capture capability behind a TurnRecognizer. Stop and Abort must not
// block waiting on the results channel to drain.
type SpeechEngine interface {
	Supported() bool
	Start(ctx context.Context) (<-chan Recognition, error)
	// Stop asks the engine to finish gracefully; trailing results may still arrive.
	Stop()
	// Abort ends capture immediately.
	Abort()
}

// AudioSink is implemented by engines that consume raw microphone audio.
type AudioSink interface {
	SendAudio(ctx context.Context, pcm16Base64 string, sampleRate int) error
}

// Segment is one finalized utterance.
type Segment struct {
	Text       string
	Generation uint64
}

// RecognizerHooks receive recognizer output. Hooks run while the recognizer holds its lock:
// they must not block and must not call back into the recognizer.
type RecognizerHooks struct {
	OnSegment func(Segment)
	OnPartial func(text string)
	OnEnded   func(err error)
}

// TurnRecognizer turns an engine's result stream into one segment per finalized utterance.
// After Stop or ForceStop returns no further hook fires for the stopped capture.
type TurnRecognizer struct {
	engine SpeechEngine
	hooks  RecognizerHooks
	logger *slog.Logger

	mu         sync.Mutex
	capturing  bool
	generation uint64
	interim    string
}

func NewTurnRecognizer(engine SpeechEngine, hooks RecognizerHooks, logger *slog.Logger) *TurnRecognizer {
	return &TurnRecognizer{
		engine: engine,
		hooks:  hooks,
		logger: observability.OrDefault(logger).With("component", "recognizer"),
	}
}

func (r *TurnRecognizer) Supported() bool {
	return r.engine != nil && r.engine.Supported()
}

func (r *TurnRecognizer) Capturing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.capturing
}

// Generation identifies the current capture; it changes on every start and stop.
func (r *TurnRecognizer) Generation() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generation
}

// Start begins capture. It is a no-op when already capturing. Capability and engine errors
// are logged and leave the recognizer not capturing.
func (r *TurnRecognizer) Start(ctx context.Context) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.capturing {
		return true
	}
	if !r.Supported() {
		r.logger.Warn("speech capture unavailable", "error", ErrSpeechUnsupported)
		return false
	}

	results, err := r.engine.Start(ctx)
	if err != nil {
		r.logger.Warn("speech capture failed to start", "error", err)
		return false
	}

	r.generation++
	r.capturing = true
	r.interim = ""
	go r.consume(r.generation, results)
	return true
}

// Stop ends capture and aborts the engine so trailing results are never delivered.
func (r *TurnRecognizer) Stop() {
	r.mu.Lock()
	wasCapturing := r.capturing
	r.invalidateLocked()
	r.mu.Unlock()

	if wasCapturing && r.engine != nil {
		r.engine.Stop()
		r.engine.Abort()
	}
}

// ForceStop aborts the engine regardless of bookkeeping.
func (r *TurnRecognizer) ForceStop() {
	r.mu.Lock()
	r.invalidateLocked()
	r.mu.Unlock()

	if r.engine != nil {
		r.engine.Abort()
	}
}

func (r *TurnRecognizer) invalidateLocked() {
	r.generation++
	r.capturing = false
	r.interim = ""
}

func (r *TurnRecognizer) consume(gen uint64, results <-chan Recognition) {
	for rec := range results {
		r.mu.Lock()
		if gen != r.generation || !r.capturing {
			r.mu.Unlock()
			continue
		}
		switch {
		case rec.Err != nil:
			r.logger.Warn("speech engine error", "error", rec.Err)
			r.invalidateLocked()
			if r.hooks.OnEnded != nil {
				r.hooks.OnEnded(rec.Err)
			}
		case !rec.Final:
			r.interim = strings.TrimSpace(rec.Text)
			if r.interim != "" && r.hooks.OnPartial != nil {
				r.hooks.OnPartial(r.interim)
			}
		default:
			text := strings.TrimSpace(rec.Text)
			r.interim = ""
			if text != "" && r.hooks.OnSegment != nil {
				r.hooks.OnSegment(Segment{Text: text, Generation: gen})
			}
		}
		r.mu.Unlock()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if gen == r.generation && r.capturing {
		r.invalidateLocked()
		if r.hooks.OnEnded != nil {
			r.hooks.OnEnded(nil)
		}
	}
}
