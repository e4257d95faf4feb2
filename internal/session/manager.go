package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

// End reasons.
const (
	ReasonEndRequested = "end_requested"
	ReasonDisconnect   = "disconnect"
	ReasonHidden       = "hidden"
	ReasonDestroyed    = "destroyed"
	ReasonExpired      = "expired"
	ReasonUserDeleted  = "user_deleted"
	ReasonShutdown     = "shutdown"
)

var ErrNotFound = errors.New("session not found")

type Session struct {
	ID             string    `json:"session_id"`
	UserID         string    `json:"user_id"`
	Status         Status    `json:"status"`
	ScenarioID     string    `json:"scenario"`
	ConversationID string    `json:"conversation_id"`
	EndReason      string    `json:"end_reason,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*Session
	inactivityTimeout time.Duration
	onExpire          func(*Session)
}

func NewManager(inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 10 * time.Minute
	}
	return &Manager{
		sessions:          make(map[string]*Session),
		inactivityTimeout: inactivityTimeout,
	}
}

func (m *Manager) InactivityTimeout() time.Duration {
	return m.inactivityTimeout
}

func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

// Create registers a new active session. Each session gets a fresh conversation id that
// keys its persisted history row.
func (m *Manager) Create(userID, scenarioID string) *Session {
	now := time.Now().UTC()
	s := &Session{
		ID:             uuid.NewString(),
		UserID:         userID,
		ScenarioID:     scenarioID,
		ConversationID: uuid.NewString(),
		Status:         StatusActive,
		StartedAt:      now,
		LastActivityAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return clone(s)
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

func (m *Manager) Touch(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// AttachConversation records the history row the session's transcript was saved under.
func (m *Manager) AttachConversation(sessionID, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.ConversationID = conversationID
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// End marks the session ended. The returned bool reports whether this call ended it;
// repeated calls return the already-ended session and false.
func (m *Manager) End(sessionID, reason string) (*Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, false, ErrNotFound
	}
	if s.Status == StatusEnded {
		return clone(s), false, nil
	}
	m.endLocked(s, reason, time.Now().UTC())
	return clone(s), true, nil
}

// EndUser ends every active session owned by userID and returns them.
func (m *Manager) EndUser(userID, reason string) []*Session {
	now := time.Now().UTC()
	var ended []*Session

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.UserID != userID || s.Status != StatusActive {
			continue
		}
		m.endLocked(s, reason, now)
		ended = append(ended, clone(s))
	}
	return ended
}

func (m *Manager) endLocked(s *Session, reason string, now time.Time) {
	s.Status = StatusEnded
	s.EndReason = reason
	s.LastActivityAt = now
}

// Forget drops ended sessions older than retain.
func (m *Manager) Forget(retain time.Duration) int {
	now := time.Now().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, s := range m.sessions {
		if s.Status == StatusEnded && now.Sub(s.LastActivityAt) >= retain {
			delete(m.sessions, id)
			n++
		}
	}
	return n
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
				m.Forget(m.inactivityTimeout * 6)
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, s := range m.sessions {
		if s.Status == StatusActive {
			count++
		}
	}
	return count
}

func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var expired []*Session

	m.mu.Lock()
	for _, s := range m.sessions {
		if s.Status != StatusActive {
			continue
		}
		if now.Sub(s.LastActivityAt) < m.inactivityTimeout {
			continue
		}
		m.endLocked(s, ReasonExpired, now)
		expired = append(expired, clone(s))
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}

func clone(s *Session) *Session {
	c := *s
	return &c
}
