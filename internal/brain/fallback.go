package brain

import (
	"context"
	"errors"
	"fmt"
)

// FallbackCompleter tries a primary backend first and falls back on error.
type FallbackCompleter struct {
	primary  Completer
	fallback Completer
}

func NewFallback(primary, fallback Completer) *FallbackCompleter {
	return &FallbackCompleter{primary: primary, fallback: fallback}
}

func (c *FallbackCompleter) Complete(ctx context.Context, req Request) (string, error) {
	if c == nil || c.primary == nil {
		if c != nil && c.fallback != nil {
			return c.fallback.Complete(ctx, req)
		}
		return "", fmt.Errorf("fallback completer misconfigured")
	}

	text, err := c.primary.Complete(ctx, req)
	if err == nil {
		return text, nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || c.fallback == nil {
		return "", err
	}
	text, fbErr := c.fallback.Complete(ctx, req)
	if fbErr != nil {
		return "", fmt.Errorf("primary completer error: %w; fallback completer error: %v", err, fbErr)
	}
	return text, nil
}
