package app

import (
	"fmt"
	"strings"

	"github.com/antoniostano/pitchcoach/internal/coach"
	"github.com/antoniostano/pitchcoach/internal/config"
	"github.com/antoniostano/pitchcoach/internal/voice"
)

type voiceSetup struct {
	synthesizer voice.Synthesizer
	engines     coach.EngineFactory
	ttsProvider string
	sttProvider string
	detail      string
}

func elevenLabsConfig(cfg config.Config) voice.ElevenLabsConfig {
	return voice.ElevenLabsConfig{
		APIKey:       cfg.ElevenLabsAPIKey,
		WSBaseURL:    cfg.ElevenLabsWSBaseURL,
		STTModelID:   cfg.ElevenLabsSTTModel,
		TTSModelID:   cfg.ElevenLabsTTSModel,
		VoiceID:      cfg.ElevenLabsTTSVoice,
		OutputFormat: cfg.ElevenLabsOutputFormat,
	}
}

func resolveVoiceProviders(cfg config.Config) (voiceSetup, error) {
	setup := voiceSetup{engines: coach.ClientEngines, sttProvider: "client"}
	if cfg.STTProvider == "elevenlabs" {
		setup.engines = coach.ElevenLabsEngines(elevenLabsConfig(cfg))
		setup.sttProvider = "elevenlabs"
	}

	tryGoogle := func() (voice.Synthesizer, bool) {
		if strings.TrimSpace(cfg.GoogleTTSAPIKey) == "" {
			return nil, false
		}
		return voice.NewGoogleSynthesizer(voice.GoogleTTSConfig{
			APIKey:       cfg.GoogleTTSAPIKey,
			VoiceName:    cfg.GoogleTTSVoice,
			LanguageCode: cfg.GoogleTTSLanguage,
		}), true
	}
	tryElevenLabs := func() (voice.Synthesizer, bool) {
		if strings.TrimSpace(cfg.ElevenLabsAPIKey) == "" {
			return nil, false
		}
		return voice.NewElevenLabsSynthesizer(elevenLabsConfig(cfg)), true
	}

	mode := strings.ToLower(strings.TrimSpace(cfg.TTSProvider))
	if mode == "" {
		mode = "auto"
	}
	switch mode {
	case "google":
		g, ok := tryGoogle()
		if !ok {
			return voiceSetup{}, fmt.Errorf("TTS_PROVIDER=google but GOOGLE_TTS_API_KEY is not set")
		}
		setup.synthesizer = g
		setup.ttsProvider = "google"
		setup.detail = "google cloud tts"
	case "elevenlabs":
		e, ok := tryElevenLabs()
		if !ok {
			return voiceSetup{}, fmt.Errorf("TTS_PROVIDER=elevenlabs but ELEVENLABS_API_KEY is not set")
		}
		setup.synthesizer = e
		setup.ttsProvider = "elevenlabs"
		setup.detail = "elevenlabs stream-input"
	case "mock":
		setup.synthesizer = voice.NewMockSynthesizer()
		setup.ttsProvider = "mock"
		setup.detail = "mock"
	case "auto":
		g, hasGoogle := tryGoogle()
		e, hasEleven := tryElevenLabs()
		switch {
		case hasGoogle && hasEleven:
			setup.synthesizer = voice.NewFailoverSynthesizer(g, e)
			setup.ttsProvider = "google"
			setup.detail = "google cloud tts (automatic elevenlabs fallback)"
		case hasGoogle:
			setup.synthesizer = voice.NewFailoverSynthesizer(g, voice.NewMockSynthesizer())
			setup.ttsProvider = "google"
			setup.detail = "google cloud tts (silent fallback)"
		case hasEleven:
			setup.synthesizer = voice.NewFailoverSynthesizer(e, voice.NewMockSynthesizer())
			setup.ttsProvider = "elevenlabs"
			setup.detail = "elevenlabs stream-input (silent fallback)"
		default:
			setup.synthesizer = voice.NewMockSynthesizer()
			setup.ttsProvider = "mock"
			setup.detail = "mock (no tts key configured)"
		}
	default:
		return voiceSetup{}, fmt.Errorf("invalid TTS_PROVIDER: %q (expected auto|google|elevenlabs|mock)", cfg.TTSProvider)
	}
	return setup, nil
}
