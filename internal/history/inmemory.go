package history

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/antoniostano/pitchcoach/internal/transcript"
)

// InMemoryStore is a simple in-process store for local/dev use.
type InMemoryStore struct {
	mu    sync.RWMutex
	byID  map[string]Conversation
	clock func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:  make(map[string]Conversation),
		clock: func() time.Time { return time.Now().UTC() },
	}
}

func (s *InMemoryStore) Save(_ context.Context, c Conversation) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	if existing, ok := s.byID[c.ID]; ok {
		if existing.UserID != c.UserID {
			return Conversation{}, ErrNotFound
		}
		c.CreatedAt = existing.CreatedAt
		if c.Title == "" {
			c.Title = existing.Title
		}
	}
	c, err := normalize(c, now)
	if err != nil {
		return Conversation{}, err
	}
	c = clone(c)
	s.byID[c.ID] = c
	return clone(c), nil
}

func (s *InMemoryStore) Get(_ context.Context, userID, id string) (Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byID[id]
	if !ok || c.UserID != userID {
		return Conversation{}, ErrNotFound
	}
	return clone(c), nil
}

func (s *InMemoryStore) List(_ context.Context, userID string, limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Conversation, 0)
	for _, c := range s.byID {
		if c.UserID == userID {
			out = append(out, clone(c))
		}
	}
	slices.SortFunc(out, func(a, b Conversation) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) Latest(ctx context.Context, userID string) (Conversation, error) {
	items, err := s.List(ctx, userID, 1)
	if err != nil {
		return Conversation{}, err
	}
	if len(items) == 0 {
		return Conversation{}, ErrNotFound
	}
	return items[0], nil
}

func (s *InMemoryStore) DeleteUser(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, c := range s.byID {
		if c.UserID == userID {
			delete(s.byID, id)
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) Close() error { return nil }

func clone(c Conversation) Conversation {
	c.Messages = append([]transcript.Turn(nil), c.Messages...)
	if c.Score != nil {
		score := *c.Score
		c.Score = &score
	}
	if c.Feedback != nil {
		fb := *c.Feedback
		fb.Strengths = slices.Clone(fb.Strengths)
		fb.Improvements = slices.Clone(fb.Improvements)
		fb.Recommendations = slices.Clone(fb.Recommendations)
		c.Feedback = &fb
	}
	return c
}
