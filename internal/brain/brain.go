package brain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Role is the completion-side author of a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

type Message struct {
	Role Role   `json:"role"`
	Text string `json:"content"`
}

// Request is the normalized input for one completion.
type Request struct {
	Messages []Message `json:"messages"`
	// JSON asks the backend for a JSON-only reply when it supports that.
	JSON bool `json:"json,omitempty"`
}

// Completer returns one reply for an ordered conversation.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

var ErrEmptyRequest = errors.New("completion request has no messages")

// Config controls backend construction.
type Config struct {
	Mode         string
	GeminiAPIKey string
	GeminiModel  string
	HTTPURL      string
}

// New builds a backend. One instance is shared by the exchange and feedback clients.
func New(ctx context.Context, cfg Config) (Completer, string, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "gemini":
		if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
			return nil, "", errors.New("gemini api key is required for gemini mode")
		}
		g, err := NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, "", err
		}
		return g, "gemini", nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, "", errors.New("brain HTTP url is required for http mode")
		}
		return NewHTTP(cfg.HTTPURL), "http", nil
	case "mock":
		return NewMock(), "mock", nil
	case "auto":
		return newAuto(ctx, cfg)
	default:
		return nil, "", fmt.Errorf("unsupported brain mode %q", cfg.Mode)
	}
}

func newAuto(ctx context.Context, cfg Config) (Completer, string, error) {
	var secondary Completer
	if strings.TrimSpace(cfg.HTTPURL) != "" {
		secondary = NewHTTP(cfg.HTTPURL)
	}

	if strings.TrimSpace(cfg.GeminiAPIKey) != "" {
		g, err := NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, "", err
		}
		if secondary != nil {
			return NewFallback(g, secondary), "gemini+http", nil
		}
		return g, "gemini", nil
	}
	if secondary != nil {
		return secondary, "http", nil
	}
	return NewMock(), "mock", nil
}
