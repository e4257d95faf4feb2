package voice

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/antoniostano/pitchcoach/internal/reliability"
	"github.com/gorilla/websocket"
)

var errNotCapturing = errors.New("no active capture")

type ElevenLabsConfig struct {
	APIKey          string
	WSBaseURL       string
	STTModelID      string
	TTSModelID      string
	VoiceID         string
	OutputFormat    string
	Stability       float64
	SimilarityBoost float64
	Speed           float64
}

func (c ElevenLabsConfig) withDefaults() ElevenLabsConfig {
	if strings.TrimSpace(c.WSBaseURL) == "" {
		c.WSBaseURL = "wss://api.elevenlabs.io"
	}
	if strings.TrimSpace(c.STTModelID) == "" {
		c.STTModelID = "scribe_v1"
	}
	if strings.TrimSpace(c.TTSModelID) == "" {
		c.TTSModelID = "eleven_multilingual_v2"
	}
	if strings.TrimSpace(c.OutputFormat) == "" {
		c.OutputFormat = "mp3_44100_128"
	}
	c.Stability = clampSetting(c.Stability, 0.42, 0, 1)
	c.SimilarityBoost = clampSetting(c.SimilarityBoost, 0.85, 0, 1)
	c.Speed = clampSetting(c.Speed, 1.0, 0.7, 1.2)
	return c
}

func clampSetting(v, def, lo, hi float64) float64 {
	if v <= 0 {
		v = def
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ElevenLabsSpeechEngine runs server-side realtime transcription over the ElevenLabs
// websocket. Microphone PCM is fed through SendAudio.
type ElevenLabsSpeechEngine struct {
	cfg    ElevenLabsConfig
	dialer *websocket.Dialer

	mu   sync.Mutex
	sess *elevenSTTSession
}

func NewElevenLabsSpeechEngine(cfg ElevenLabsConfig) *ElevenLabsSpeechEngine {
	return &ElevenLabsSpeechEngine{cfg: cfg.withDefaults(), dialer: websocket.DefaultDialer}
}

func (e *ElevenLabsSpeechEngine) Supported() bool {
	return strings.TrimSpace(e.cfg.APIKey) != ""
}

func (e *ElevenLabsSpeechEngine) Start(ctx context.Context) (<-chan Recognition, error) {
	u, err := url.Parse(strings.TrimRight(e.cfg.WSBaseURL, "/") + "/v1/speech-to-text/realtime")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("model_id", e.cfg.STTModelID)
	q.Set("commit_strategy", "vad")
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("xi-api-key", e.cfg.APIKey)

	conn, _, err := e.dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		return nil, fmt.Errorf("dial stt websocket: %w", err)
	}

	results := make(chan Recognition, 64)
	sess := &elevenSTTSession{conn: conn}
	go sess.readLoop(results)

	e.mu.Lock()
	prev := e.sess
	e.sess = sess
	e.mu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}
	return results, nil
}

// Stop commits whatever audio is buffered so the final transcript is flushed.
func (e *ElevenLabsSpeechEngine) Stop() {
	e.mu.Lock()
	sess := e.sess
	e.mu.Unlock()
	if sess != nil {
		_ = sess.SendAudioChunk("", 0, true)
	}
}

func (e *ElevenLabsSpeechEngine) Abort() {
	e.mu.Lock()
	sess := e.sess
	e.sess = nil
	e.mu.Unlock()
	if sess != nil {
		_ = sess.Close()
	}
}

func (e *ElevenLabsSpeechEngine) SendAudio(_ context.Context, pcm16Base64 string, sampleRate int) error {
	e.mu.Lock()
	sess := e.sess
	e.mu.Unlock()
	if sess == nil {
		return errNotCapturing
	}
	return sess.SendAudioChunk(pcm16Base64, sampleRate, false)
}

type elevenSTTSession struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (s *elevenSTTSession) SendAudioChunk(audioBase64 string, sampleRate int, commit bool) error {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	payload := map[string]any{
		"message_type":  "input_audio_chunk",
		"audio_base_64": audioBase64,
		"commit":        commit,
		"sample_rate":   sampleRate,
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return s.conn.WriteJSON(payload)
}

func (s *elevenSTTSession) readLoop(results chan<- Recognition) {
	defer close(results)
	defer s.Close()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			continue
		}
		messageType := asString(raw["message_type"])
		switch messageType {
		case "partial_transcript":
			results <- Recognition{Text: asString(raw["text"])}
		case "committed_transcript", "committed_transcript_with_timestamps":
			results <- Recognition{Text: asString(raw["text"]), Final: true}
		case "", "session_started", "input_audio_chunk":
		default:
			if reliability.IsRetryableRealtimeMessageType(messageType) {
				continue
			}
			results <- Recognition{Err: fmt.Errorf("stt %s: %s", messageType, asString(raw["error"]))}
			return
		}
	}
}

func (s *elevenSTTSession) Close() error {
	var retErr error
	s.closeOnce.Do(func() {
		retErr = s.conn.Close()
	})
	return retErr
}

// ElevenLabsSynthesizer renders one utterance through the stream-input TTS websocket.
type ElevenLabsSynthesizer struct {
	cfg    ElevenLabsConfig
	dialer *websocket.Dialer
}

func NewElevenLabsSynthesizer(cfg ElevenLabsConfig) *ElevenLabsSynthesizer {
	return &ElevenLabsSynthesizer{cfg: cfg.withDefaults(), dialer: websocket.DefaultDialer}
}

func (s *ElevenLabsSynthesizer) Synthesize(ctx context.Context, text string) (Audio, error) {
	if strings.TrimSpace(s.cfg.VoiceID) == "" {
		return Audio{}, errors.New("voice_id is required")
	}

	u, err := url.Parse(strings.TrimRight(s.cfg.WSBaseURL, "/") + "/v1/text-to-speech/" + url.PathEscape(s.cfg.VoiceID) + "/stream-input")
	if err != nil {
		return Audio{}, err
	}
	q := u.Query()
	q.Set("model_id", s.cfg.TTSModelID)
	q.Set("output_format", s.cfg.OutputFormat)
	q.Set("auto_mode", "true")
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("xi-api-key", s.cfg.APIKey)

	conn, _, err := s.dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		return Audio{}, fmt.Errorf("dial tts websocket: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	messages := []map[string]any{
		{
			"text": " ",
			"voice_settings": map[string]any{
				"stability":        s.cfg.Stability,
				"similarity_boost": s.cfg.SimilarityBoost,
				"speed":            s.cfg.Speed,
			},
		},
		{"text": text + " ", "try_trigger_generation": true},
		{"text": ""},
	}
	for _, m := range messages {
		if err := conn.WriteJSON(m); err != nil {
			return Audio{}, fmt.Errorf("send tts text: %w", err)
		}
	}

	var audio []byte
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Audio{}, ctxErr
			}
			if len(audio) > 0 && websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				break
			}
			return Audio{}, fmt.Errorf("read tts stream: %w", err)
		}
		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			continue
		}
		if errMsg := asString(raw["error"]); errMsg != "" {
			return Audio{}, fmt.Errorf("tts %s: %s", asString(raw["message_type"]), errMsg)
		}
		if chunk := asString(raw["audio"]); chunk != "" {
			decoded, err := base64.StdEncoding.DecodeString(chunk)
			if err != nil {
				return Audio{}, fmt.Errorf("decode tts audio: %w", err)
			}
			audio = append(audio, decoded...)
		}
		if asBool(raw["isFinal"]) || asBool(raw["is_final"]) {
			break
		}
	}
	if len(audio) == 0 {
		return Audio{}, errors.New("tts stream returned no audio")
	}
	return Audio{Data: audio, MIMEType: "audio/mpeg"}, nil
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

func asBool(v any) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	return false
}
