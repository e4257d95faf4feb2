// Package history persists finished training conversations and their feedback.
package history

import (
	"context"
	"errors"
	"time"

	"github.com/antoniostano/pitchcoach/internal/feedback"
	"github.com/antoniostano/pitchcoach/internal/scenario"
	"github.com/antoniostano/pitchcoach/internal/transcript"
)

const defaultListLimit = 20

var ErrNotFound = errors.New("conversation not found")

// Conversation is one stored practice session.
type Conversation struct {
	ID         string             `json:"id"`
	UserID     string             `json:"user_id"`
	Title      string             `json:"title"`
	ScenarioID string             `json:"scenario"`
	Messages   []transcript.Turn  `json:"messages"`
	Score      *int               `json:"score,omitempty"`
	Feedback   *feedback.Feedback `json:"feedback,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// Store persists and retrieves conversations. Every read and write is scoped to the owning user.
type Store interface {
	// Save inserts the conversation or replaces the stored copy with the same id.
	Save(ctx context.Context, c Conversation) (Conversation, error)
	Get(ctx context.Context, userID, id string) (Conversation, error)
	List(ctx context.Context, userID string, limit int) ([]Conversation, error)
	Latest(ctx context.Context, userID string) (Conversation, error)
	DeleteUser(ctx context.Context, userID string) (int, error)
	Close() error
}

// Title renders the display title used for new conversations.
func Title(scenarioID string, at time.Time) string {
	return scenario.Label(scenarioID) + " - " + at.Format("2006-01-02")
}

func normalize(c Conversation, now time.Time) (Conversation, error) {
	if c.UserID == "" {
		return c, errors.New("user_id is required")
	}
	if c.ID == "" {
		return c, errors.New("conversation id is required")
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if c.Title == "" {
		c.Title = Title(c.ScenarioID, c.CreatedAt)
	}
	if c.Messages == nil {
		c.Messages = []transcript.Turn{}
	}
	if c.Feedback != nil && c.Score == nil {
		score := c.Feedback.Score
		c.Score = &score
	}
	return c, nil
}
