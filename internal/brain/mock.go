package brain

import (
	"context"
	"strings"
)

// MockCompleter provides deterministic replies when no model is configured.
type MockCompleter struct{}

func NewMock() *MockCompleter { return &MockCompleter{} }

func (m *MockCompleter) Complete(ctx context.Context, req Request) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	if len(req.Messages) == 0 {
		return "", ErrEmptyRequest
	}
	if req.JSON {
		// Callers that need structured output fall back to their own defaults.
		return "mock backend has no structured output", nil
	}

	last := strings.TrimSpace(req.Messages[len(req.Messages)-1].Text)
	switch {
	case last == "":
		return "Sorry, I didn't catch that. Could you say it again?", nil
	case strings.HasSuffix(last, "?"):
		return "That depends. What would this actually change for us day to day?", nil
	default:
		return "Okay. And why should that matter to me right now?", nil
	}
}
