// Package exchange produces the simulated customer's next line for a training session.
package exchange

import (
	"context"
	"log/slog"
	"time"

	"github.com/antoniostano/pitchcoach/internal/brain"
	"github.com/antoniostano/pitchcoach/internal/observability"
	"github.com/antoniostano/pitchcoach/internal/scenario"
	"github.com/antoniostano/pitchcoach/internal/transcript"
)

const (
	defaultTimeout = 20 * time.Second

	personaAck = "I understand. I'll roleplay as the customer according to these guidelines."
)

// Client wraps a completion backend with the persona directive, sanitization and fallbacks.
type Client struct {
	brain   brain.Completer
	timeout time.Duration
	logger  *slog.Logger
	metrics *observability.Metrics
}

func New(b brain.Completer, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		brain:   b,
		timeout: timeout,
		logger:  observability.OrDefault(logger).With("component", "exchange"),
		metrics: metrics,
	}
}

// Exchange returns the simulated customer's reply to the transcript so far. It never fails:
// any backend error or unusable reply yields the scenario's canned fallback line.
func (c *Client) Exchange(ctx context.Context, turns []transcript.Turn, scenarioID string) transcript.Turn {
	start := time.Now()
	reply, ok := c.complete(ctx, turns, scenarioID)
	c.metrics.ObserveExchange(time.Since(start), scenarioID, !ok)
	if !ok {
		return transcript.Customer(scenario.FallbackLine(scenarioID))
	}
	return transcript.Customer(reply)
}

func (c *Client) complete(ctx context.Context, turns []transcript.Turn, scenarioID string) (string, bool) {
	if c.brain == nil {
		return "", false
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := c.brain.Complete(ctx, BuildRequest(turns, scenarioID))
	if err != nil {
		c.logger.Warn("completion failed, serving fallback", "scenario", scenarioID, "turns", len(turns), "error", err)
		c.metrics.ObserveProviderError("brain", "exchange_failed")
		return "", false
	}
	reply := Sanitize(raw)
	if reply == "" {
		c.logger.Warn("completion empty after sanitizing, serving fallback", "scenario", scenarioID, "raw_len", len(raw))
		return "", false
	}
	return reply, true
}

// BuildRequest frames the transcript for the completion backend: the persona directive and a
// model acknowledgement come first, then every turn in order with the customer as the model.
func BuildRequest(turns []transcript.Turn, scenarioID string) brain.Request {
	msgs := make([]brain.Message, 0, len(turns)+2)
	msgs = append(msgs,
		brain.Message{Role: brain.RoleUser, Text: scenario.Directive(scenarioID)},
		brain.Message{Role: brain.RoleModel, Text: personaAck},
	)
	for _, t := range turns {
		role := brain.RoleUser
		if t.Speaker == transcript.SpeakerCustomer {
			role = brain.RoleModel
		}
		msgs = append(msgs, brain.Message{Role: role, Text: t.Text})
	}
	return brain.Request{Messages: msgs}
}
