package session

import "time"

// CreateRequest defines payload for creating a new practice session.
type CreateRequest struct {
	UserID   string `json:"user_id"`
	Scenario string `json:"scenario"`
}

// CreateResponse returns created session metadata.
type CreateResponse struct {
	SessionID       string    `json:"session_id"`
	UserID          string    `json:"user_id"`
	Status          Status    `json:"status"`
	Scenario        string    `json:"scenario"`
	ConversationID  string    `json:"conversation_id"`
	OpeningLine     string    `json:"opening_line"`
	StartedAt       time.Time `json:"started_at"`
	LastActivityAt  time.Time `json:"last_activity_at"`
	InactivityTTLMS int64     `json:"inactivity_ttl_ms"`
}
