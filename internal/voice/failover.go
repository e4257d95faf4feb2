package voice

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

var errNoSynthesizer = errors.New("no synthesizer configured")

// FailoverSynthesizer prefers the primary backend and switches to the fallback when the
// primary fails. Once the fallback succeeds it stays active until it fails; then the
// primary is retried.
type FailoverSynthesizer struct {
	primary        Synthesizer
	fallback       Synthesizer
	fallbackActive atomic.Bool
}

func NewFailoverSynthesizer(primary, fallback Synthesizer) *FailoverSynthesizer {
	return &FailoverSynthesizer{primary: primary, fallback: fallback}
}

func (f *FailoverSynthesizer) FallbackActive() bool {
	return f.fallbackActive.Load()
}

func (f *FailoverSynthesizer) Synthesize(ctx context.Context, text string) (Audio, error) {
	if f.primary == nil || f.fallback == nil {
		return Audio{}, errNoSynthesizer
	}

	if f.fallbackActive.Load() {
		audio, fbErr := f.fallback.Synthesize(ctx, text)
		if fbErr == nil || ctx.Err() != nil {
			return audio, fbErr
		}
		// Fallback failed after being active; try primary again.
		audio, prErr := f.primary.Synthesize(ctx, text)
		if prErr == nil {
			f.fallbackActive.Store(false)
			return audio, nil
		}
		return Audio{}, fmt.Errorf("tts fallback failed: %v; tts primary failed: %w", fbErr, prErr)
	}

	audio, prErr := f.primary.Synthesize(ctx, text)
	if prErr == nil || ctx.Err() != nil {
		return audio, prErr
	}
	audio, fbErr := f.fallback.Synthesize(ctx, text)
	if fbErr != nil {
		return Audio{}, fmt.Errorf("tts primary failed: %v; tts fallback failed: %w", prErr, fbErr)
	}
	f.fallbackActive.Store(true)
	return audio, nil
}
