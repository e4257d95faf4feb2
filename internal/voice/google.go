package voice

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/antoniostano/pitchcoach/internal/reliability"
)

const (
	defaultGoogleTTSURL      = "https://texttospeech.googleapis.com/v1/text:synthesize"
	defaultGoogleTTSVoice    = "en-US-Neural2-F"
	defaultGoogleTTSLanguage = "en-US"
	googleTTSMaxAttempts     = 2
)

type GoogleTTSConfig struct {
	APIKey       string
	Endpoint     string
	VoiceName    string
	LanguageCode string
	SpeakingRate float64
}

// GoogleSynthesizer calls the Cloud Text-to-Speech REST API and returns MP3 audio.
type GoogleSynthesizer struct {
	cfg    GoogleTTSConfig
	client *http.Client
}

func NewGoogleSynthesizer(cfg GoogleTTSConfig) *GoogleSynthesizer {
	return NewGoogleSynthesizerWithClient(cfg, &http.Client{Timeout: 20 * time.Second})
}

func NewGoogleSynthesizerWithClient(cfg GoogleTTSConfig, client *http.Client) *GoogleSynthesizer {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		cfg.Endpoint = defaultGoogleTTSURL
	}
	if strings.TrimSpace(cfg.VoiceName) == "" {
		cfg.VoiceName = defaultGoogleTTSVoice
	}
	if strings.TrimSpace(cfg.LanguageCode) == "" {
		cfg.LanguageCode = defaultGoogleTTSLanguage
	}
	if cfg.SpeakingRate <= 0 {
		cfg.SpeakingRate = 1.0
	}
	return &GoogleSynthesizer{cfg: cfg, client: client}
}

type googleSynthesizeRequest struct {
	Input struct {
		Text string `json:"text"`
	} `json:"input"`
	Voice struct {
		LanguageCode string `json:"languageCode"`
		Name         string `json:"name"`
		SSMLGender   string `json:"ssmlGender"`
	} `json:"voice"`
	AudioConfig struct {
		AudioEncoding string  `json:"audioEncoding"`
		SpeakingRate  float64 `json:"speakingRate"`
		Pitch         float64 `json:"pitch"`
	} `json:"audioConfig"`
}

type googleStatusError struct {
	code int
	body string
}

func (e *googleStatusError) Error() string {
	return fmt.Sprintf("google tts status %d: %s", e.code, e.body)
}

func (s *GoogleSynthesizer) Synthesize(ctx context.Context, text string) (Audio, error) {
	if strings.TrimSpace(text) == "" {
		return Audio{}, errors.New("text is required")
	}

	var req googleSynthesizeRequest
	req.Input.Text = text
	req.Voice.LanguageCode = s.cfg.LanguageCode
	req.Voice.Name = s.cfg.VoiceName
	req.Voice.SSMLGender = "FEMALE"
	req.AudioConfig.AudioEncoding = "MP3"
	req.AudioConfig.SpeakingRate = s.cfg.SpeakingRate
	payload, err := json.Marshal(req)
	if err != nil {
		return Audio{}, err
	}

	var lastErr error
	for attempt := 0; attempt < googleTTSMaxAttempts; attempt++ {
		if attempt > 0 {
			if err := reliability.Wait(ctx, reliability.ExponentialBackoff(attempt, 200*time.Millisecond, time.Second)); err != nil {
				return Audio{}, err
			}
		}
		audio, err := s.do(ctx, payload)
		if err == nil {
			return audio, nil
		}
		lastErr = err
		var se *googleStatusError
		if !errors.As(err, &se) || !reliability.IsRetryableHTTPStatus(se.code) {
			break
		}
	}
	return Audio{}, lastErr
}

func (s *GoogleSynthesizer) do(ctx context.Context, payload []byte) (Audio, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return Audio{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", s.cfg.APIKey)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return Audio{}, fmt.Errorf("google tts request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return Audio{}, fmt.Errorf("read google tts response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Audio{}, &googleStatusError{code: resp.StatusCode, body: strings.TrimSpace(string(body))}
	}

	var out struct {
		AudioContent string `json:"audioContent"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return Audio{}, fmt.Errorf("decode google tts response: %w", err)
	}
	if out.AudioContent == "" {
		return Audio{}, errors.New("no audio content received from google tts")
	}
	data, err := base64.StdEncoding.DecodeString(out.AudioContent)
	if err != nil {
		return Audio{}, fmt.Errorf("decode audio content: %w", err)
	}
	return Audio{Data: data, MIMEType: "audio/mpeg"}, nil
}
