package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/antoniostano/pitchcoach/internal/brain"
	"github.com/antoniostano/pitchcoach/internal/coach"
	"github.com/antoniostano/pitchcoach/internal/config"
	"github.com/antoniostano/pitchcoach/internal/exchange"
	"github.com/antoniostano/pitchcoach/internal/feedback"
	"github.com/antoniostano/pitchcoach/internal/history"
	"github.com/antoniostano/pitchcoach/internal/httpapi"
	"github.com/antoniostano/pitchcoach/internal/observability"
	"github.com/antoniostano/pitchcoach/internal/session"
)

type VoiceInfo struct {
	TTSProvider string
	STTProvider string
	Detail      string
}

type BuildResult struct {
	Config    config.Config
	API       *httpapi.Server
	Sessions  *session.Manager
	Coach     *coach.Service
	Metrics   *observability.Metrics
	Voice     VoiceInfo
	BrainMode string

	// Cleanup should be called on shutdown to release external resources (DB pool).
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*BuildResult, error) {
	logger = observability.OrDefault(logger)
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	store, err := history.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("history store init failed: %w", err)
	}

	completer, brainMode, err := brain.New(ctx, brain.Config{
		Mode:         cfg.BrainProvider,
		GeminiAPIKey: cfg.GeminiAPIKey,
		GeminiModel:  cfg.GeminiModel,
		HTTPURL:      cfg.BrainHTTPURL,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("brain init failed: %w", err)
	}

	voiceSetup, err := resolveVoiceProviders(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	ex := exchange.New(completer, cfg.ExchangeTimeout, logger, metrics)
	scorer := feedback.NewScorer(completer, cfg.FeedbackTimeout, logger, metrics)
	sessions := session.NewManager(cfg.SessionInactivityTimeout)

	svc := coach.NewService(coach.ServiceDeps{
		Exchange:        ex,
		Scorer:          scorer,
		History:         store,
		Sessions:        sessions,
		Synthesizer:     voiceSetup.synthesizer,
		NewEngine:       voiceSetup.engines,
		PlaybackTimeout: cfg.PlaybackTimeout,
		Logger:          logger,
		Metrics:         metrics,
	})

	api := httpapi.New(cfg, httpapi.Deps{
		Sessions:    sessions,
		Coach:       svc,
		Exchange:    ex,
		Scorer:      scorer,
		History:     store,
		Synthesizer: voiceSetup.synthesizer,
		Metrics:     metrics,
		Logger:      logger,
	})

	cleanup := func() error {
		var errs []string
		svc.Shutdown()
		if err := store.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:    cfg,
		API:       api,
		Sessions:  sessions,
		Coach:     svc,
		Metrics:   metrics,
		BrainMode: brainMode,
		Voice: VoiceInfo{
			TTSProvider: voiceSetup.ttsProvider,
			STTProvider: voiceSetup.sttProvider,
			Detail:      voiceSetup.detail,
		},
		Cleanup: cleanup,
	}, nil
}
