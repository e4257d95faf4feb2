package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the sales training service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string
	LogLevel                 string
	LogFormat                string

	AllowAnyOrigin bool

	BrainProvider   string
	GeminiAPIKey    string
	GeminiModel     string
	BrainHTTPURL    string
	ExchangeTimeout time.Duration
	FeedbackTimeout time.Duration

	TTSProvider       string
	GoogleTTSAPIKey   string
	GoogleTTSVoice    string
	GoogleTTSLanguage string

	STTProvider     string
	PlaybackTimeout time.Duration

	ElevenLabsAPIKey       string
	ElevenLabsWSBaseURL    string
	ElevenLabsTTSVoice     string
	ElevenLabsTTSModel     string
	ElevenLabsSTTModel     string
	ElevenLabsOutputFormat string

	DatabaseURL      string
	HistoryPageLimit int
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:                 envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:         envOrDefault("APP_METRICS_NAMESPACE", "pitchcoach"),
		LogLevel:                 envOrDefault("APP_LOG_LEVEL", "info"),
		LogFormat:                envOrDefault("APP_LOG_FORMAT", "json"),
		AllowAnyOrigin:           false,
		BrainProvider:            strings.ToLower(envOrDefault("BRAIN_PROVIDER", "auto")),
		GeminiAPIKey:             firstNonEmpty(stringsTrimSpace("GEMINI_API_KEY"), stringsTrimSpace("GOOGLE_GENERATIVE_AI_API_KEY")),
		GeminiModel:              envOrDefault("GEMINI_MODEL", "gemini-1.5-flash"),
		BrainHTTPURL:             stringsTrimSpace("BRAIN_HTTP_URL"),
		TTSProvider:              strings.ToLower(envOrDefault("TTS_PROVIDER", "auto")),
		GoogleTTSAPIKey:          stringsTrimSpace("GOOGLE_TTS_API_KEY"),
		GoogleTTSVoice:           envOrDefault("GOOGLE_TTS_VOICE", "en-US-Neural2-F"),
		GoogleTTSLanguage:        envOrDefault("GOOGLE_TTS_LANGUAGE", "en-US"),
		STTProvider:              strings.ToLower(envOrDefault("STT_PROVIDER", "client")),
		ElevenLabsAPIKey:         stringsTrimSpace("ELEVENLABS_API_KEY"),
		ElevenLabsWSBaseURL:      envOrDefault("ELEVENLABS_WS_BASE_URL", "wss://api.elevenlabs.io"),
		ElevenLabsTTSVoice:       envOrDefault("ELEVENLABS_TTS_VOICE_ID", "cgSgspJ2msm6clMCkdW9"),
		ElevenLabsTTSModel:       envOrDefault("ELEVENLABS_TTS_MODEL_ID", "eleven_multilingual_v2"),
		ElevenLabsSTTModel:       envOrDefault("ELEVENLABS_STT_MODEL_ID", "scribe_v1"),
		ElevenLabsOutputFormat:   envOrDefault("ELEVENLABS_TTS_OUTPUT_FORMAT", "mp3_44100_128"),
		DatabaseURL:              stringsTrimSpace("DATABASE_URL"),
		HistoryPageLimit:         50,
		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 10 * time.Minute,
		ExchangeTimeout:          20 * time.Second,
		FeedbackTimeout:          45 * time.Second,
		PlaybackTimeout:          60 * time.Second,
	}
	if cfg.GoogleTTSAPIKey == "" {
		cfg.GoogleTTSAPIKey = cfg.GeminiAPIKey
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ExchangeTimeout, err = durationFromEnv("EXCHANGE_TIMEOUT", cfg.ExchangeTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.FeedbackTimeout, err = durationFromEnv("FEEDBACK_TIMEOUT", cfg.FeedbackTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.PlaybackTimeout, err = durationFromEnv("PLAYBACK_TIMEOUT", cfg.PlaybackTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.HistoryPageLimit, err = intFromEnv("HISTORY_PAGE_LIMIT", cfg.HistoryPageLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.ExchangeTimeout <= 0 || cfg.FeedbackTimeout <= 0 {
		return Config{}, fmt.Errorf("EXCHANGE_TIMEOUT and FEEDBACK_TIMEOUT must be positive")
	}
	if cfg.HistoryPageLimit <= 0 {
		return Config{}, fmt.Errorf("HISTORY_PAGE_LIMIT must be positive")
	}
	if cfg.PlaybackTimeout <= 0 {
		return Config{}, fmt.Errorf("PLAYBACK_TIMEOUT must be positive")
	}
	if err := oneOf("BRAIN_PROVIDER", cfg.BrainProvider, "auto", "gemini", "http", "mock"); err != nil {
		return Config{}, err
	}
	if err := oneOf("TTS_PROVIDER", cfg.TTSProvider, "auto", "google", "elevenlabs", "mock"); err != nil {
		return Config{}, err
	}
	if err := oneOf("STT_PROVIDER", cfg.STTProvider, "client", "elevenlabs"); err != nil {
		return Config{}, err
	}
	if cfg.STTProvider == "elevenlabs" && cfg.ElevenLabsAPIKey == "" {
		return Config{}, fmt.Errorf("STT_PROVIDER=elevenlabs requires ELEVENLABS_API_KEY")
	}

	return cfg, nil
}

func oneOf(key, v string, allowed ...string) error {
	for _, a := range allowed {
		if v == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s, got %q", key, strings.Join(allowed, "|"), v)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
