package voice

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/antoniostano/pitchcoach/internal/audio"
)

const (
	mockRuneDuration = 40 * time.Millisecond
	mockMaxDuration  = 3 * time.Second
)

// MockSynthesizer is a local fallback used when no TTS provider is configured. It returns
// silence roughly as long as the text would take to say.
type MockSynthesizer struct{}

func NewMockSynthesizer() *MockSynthesizer { return &MockSynthesizer{} }

func (m *MockSynthesizer) Synthesize(ctx context.Context, text string) (Audio, error) {
	if err := ctx.Err(); err != nil {
		return Audio{}, err
	}
	d := time.Duration(utf8.RuneCountInString(text)) * mockRuneDuration
	if d > mockMaxDuration {
		d = mockMaxDuration
	}
	wav, err := audio.SilentWAV(d, audio.DefaultSampleRate)
	if err != nil {
		return Audio{}, err
	}
	return Audio{Data: wav, MIMEType: "audio/wav"}, nil
}
