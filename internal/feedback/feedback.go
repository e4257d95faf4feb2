// Package feedback scores a finished training conversation.
package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/antoniostano/pitchcoach/internal/brain"
	"github.com/antoniostano/pitchcoach/internal/observability"
	"github.com/antoniostano/pitchcoach/internal/scenario"
	"github.com/antoniostano/pitchcoach/internal/transcript"
)

const (
	MinTurns = 2

	defaultTimeout = 45 * time.Second
)

var ErrTranscriptTooShort = errors.New("have a conversation before requesting feedback")

// Feedback is the structured result shown after a session.
type Feedback struct {
	Score            int      `json:"score"`
	Strengths        []string `json:"strengths"`
	Improvements     []string `json:"improvements"`
	Recommendations  []string `json:"recommendations"`
	ScenarioFeedback string   `json:"scenarioFeedback"`
}

// Default is substituted whenever the scoring reply cannot be parsed.
func Default() Feedback {
	return Feedback{
		Score: 75,
		Strengths: []string{
			"Engaged in conversation with the customer",
			"Attempted to understand customer needs",
			"Maintained professional tone",
		},
		Improvements: []string{
			"Could ask more probing questions",
			"Should focus more on value proposition",
			"Could handle objections more effectively",
		},
		Recommendations: []string{
			"Practice active listening techniques",
			"Prepare stronger opening statements",
			"Study common objection handling methods",
		},
		ScenarioFeedback: "Overall, this was a good practice session. Focus on building rapport and clearly articulating value to improve your performance.",
	}
}

// Rating maps a score onto the label shown next to it.
func Rating(score int) string {
	switch {
	case score >= 90:
		return "Excellent"
	case score >= 80:
		return "Good"
	case score >= 70:
		return "Fair"
	case score >= 60:
		return "Needs Work"
	default:
		return "Poor"
	}
}

type Scorer struct {
	brain   brain.Completer
	timeout time.Duration
	logger  *slog.Logger
	metrics *observability.Metrics
}

func NewScorer(b brain.Completer, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Scorer {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Scorer{
		brain:   b,
		timeout: timeout,
		logger:  observability.OrDefault(logger).With("component", "feedback"),
		metrics: metrics,
	}
}

// Score asks the scoring backend to grade the conversation. A transport failure is returned
// to the caller; an unparsable reply is replaced by Default().
func (s *Scorer) Score(ctx context.Context, turns []transcript.Turn, scenarioID string) (Feedback, error) {
	if len(turns) < MinTurns {
		return Feedback{}, ErrTranscriptTooShort
	}
	if s.brain == nil {
		return Feedback{}, errors.New("scoring backend not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, err := s.brain.Complete(ctx, brain.Request{
		Messages: []brain.Message{{Role: brain.RoleUser, Text: Prompt(turns, scenarioID)}},
		JSON:     true,
	})
	if err != nil {
		s.metrics.ObserveProviderError("brain", "feedback_failed")
		return Feedback{}, fmt.Errorf("score conversation: %w", err)
	}

	fb, err := Parse(raw)
	if err != nil {
		s.logger.Warn("scoring reply unparsable, using default feedback", "scenario", scenarioID, "error", err)
		fb = Default()
	}
	s.metrics.ObserveFeedbackScore(string(scenario.Resolve(scenarioID).ID), fb.Score)
	return fb, nil
}

var jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)

// Parse extracts the feedback object from a model reply that may wrap it in prose or fences.
func Parse(raw string) (Feedback, error) {
	block := jsonObjectPattern.FindString(raw)
	if block == "" {
		return Feedback{}, errors.New("no JSON object in reply")
	}

	// Models sometimes grade with a fractional score.
	var reply struct {
		Score            float64  `json:"score"`
		Strengths        []string `json:"strengths"`
		Improvements     []string `json:"improvements"`
		Recommendations  []string `json:"recommendations"`
		ScenarioFeedback string   `json:"scenarioFeedback"`
	}
	if err := json.Unmarshal([]byte(block), &reply); err != nil {
		return Feedback{}, fmt.Errorf("decode feedback: %w", err)
	}
	score := math.Round(reply.Score)
	if score < 0 {
		score = 0
	} else if score > 100 {
		score = 100
	}
	return Feedback{
		Score:            int(score),
		Strengths:        cleanList(reply.Strengths),
		Improvements:     cleanList(reply.Improvements),
		Recommendations:  cleanList(reply.Recommendations),
		ScenarioFeedback: strings.TrimSpace(reply.ScenarioFeedback),
	}, nil
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Prompt renders the grading instructions for a transcript.
func Prompt(turns []transcript.Turn, scenarioID string) string {
	label := scenario.Label(scenarioID)

	var b strings.Builder
	fmt.Fprintf(&b, "You are an expert sales trainer analyzing a sales conversation. Please provide detailed feedback on this %s conversation.\n\n", label)
	b.WriteString("Conversation transcript:\n")
	for _, t := range turns {
		who := "Customer"
		if t.Speaker == transcript.SpeakerTrainee {
			who = "Salesperson"
		}
		fmt.Fprintf(&b, "%s: %s\n", who, t.Text)
	}
	b.WriteString(`
Please analyze this conversation and provide:

1. OVERALL SCORE (0-100): Rate the overall performance
2. STRENGTHS: What the salesperson did well (2-3 points)
3. AREAS FOR IMPROVEMENT: Specific areas to work on (2-3 points)
4. KEY RECOMMENDATIONS: Actionable advice for next time (2-3 points)
`)
	fmt.Fprintf(&b, "5. SCENARIO-SPECIFIC FEEDBACK: Feedback specific to %s best practices\n", label)
	b.WriteString(`
Format your response as JSON with this structure:
{
  "score": number,
  "strengths": ["strength1", "strength2", "strength3"],
  "improvements": ["improvement1", "improvement2", "improvement3"],
  "recommendations": ["recommendation1", "recommendation2", "recommendation3"],
  "scenarioFeedback": "detailed scenario-specific feedback paragraph"
}

Be constructive, specific, and encouraging while providing actionable insights.`)
	return b.String()
}
