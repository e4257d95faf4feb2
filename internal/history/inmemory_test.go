package history

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/antoniostano/pitchcoach/internal/feedback"
	"github.com/antoniostano/pitchcoach/internal/transcript"
)

func steppingClock(start time.Time) func() time.Time {
	now := start
	return func() time.Time {
		now = now.Add(time.Second)
		return now
	}
}

func TestInMemoryStoreRoundTripPreservesOrder(t *testing.T) {
	s := NewInMemoryStore()
	msgs := []transcript.Turn{
		transcript.Customer("Hello? What is this regarding?"),
		transcript.Trainee("Hi, got a minute?"),
		transcript.Customer("Make it quick."),
	}

	saved, err := s.Save(context.Background(), Conversation{ID: "c1", UserID: "u1", ScenarioID: "cold_calling", Messages: msgs})
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if saved.Title == "" || saved.CreatedAt.IsZero() {
		t.Fatalf("Save() should fill title and timestamps, got %+v", saved)
	}

	got, err := s.Get(context.Background(), "u1", "c1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !reflect.DeepEqual(got.Messages, msgs) {
		t.Fatalf("Messages = %+v, want %+v", got.Messages, msgs)
	}
}

func TestInMemoryStoreUpsertKeepsCreatedAt(t *testing.T) {
	s := NewInMemoryStore()
	s.clock = steppingClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	ctx := context.Background()

	first, err := s.Save(ctx, Conversation{ID: "c1", UserID: "u1", ScenarioID: "upsell"})
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	fb := feedback.Default()
	second, err := s.Save(ctx, Conversation{ID: "c1", UserID: "u1", ScenarioID: "upsell", Feedback: &fb})
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("CreatedAt = %v, want %v", second.CreatedAt, first.CreatedAt)
	}
	if !second.UpdatedAt.After(first.UpdatedAt) {
		t.Fatalf("UpdatedAt should advance on upsert")
	}
	if second.Score == nil || *second.Score != 75 {
		t.Fatalf("Score = %v, want 75", second.Score)
	}
	if second.Title != "upsell - 2026-03-01" {
		t.Fatalf("Title = %q", second.Title)
	}

	items, _ := s.List(ctx, "u1", 0)
	if len(items) != 1 {
		t.Fatalf("List() len = %d, want 1", len(items))
	}
}

func TestInMemoryStoreScopesByUser(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	if _, err := s.Save(ctx, Conversation{ID: "c1", UserID: "u1"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := s.Get(ctx, "u2", "c1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() foreign error = %v, want %v", err, ErrNotFound)
	}
	if _, err := s.Save(ctx, Conversation{ID: "c1", UserID: "u2"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Save() foreign error = %v, want %v", err, ErrNotFound)
	}
	if _, err := s.Latest(ctx, "u2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Latest() error = %v, want %v", err, ErrNotFound)
	}
}

func TestInMemoryStoreListNewestFirstAndDelete(t *testing.T) {
	s := NewInMemoryStore()
	s.clock = steppingClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		if _, err := s.Save(ctx, Conversation{ID: id, UserID: "u1", ScenarioID: "demo_pitch"}); err != nil {
			t.Fatalf("Save(%s) error = %v", id, err)
		}
	}
	if _, err := s.Save(ctx, Conversation{ID: "z", UserID: "u2"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	items, err := s.List(ctx, "u1", 2)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(items) != 2 || items[0].ID != "c" || items[1].ID != "b" {
		t.Fatalf("List() = %+v, want newest first", items)
	}
	latest, err := s.Latest(ctx, "u1")
	if err != nil || latest.ID != "c" {
		t.Fatalf("Latest() = %+v, %v", latest, err)
	}

	n, err := s.DeleteUser(ctx, "u1")
	if err != nil {
		t.Fatalf("DeleteUser() error = %v", err)
	}
	if n != 3 {
		t.Fatalf("DeleteUser() = %d, want 3", n)
	}
	if _, err := s.Get(ctx, "u2", "z"); err != nil {
		t.Fatalf("other user's conversation should survive, got %v", err)
	}
}

func TestSaveRequiresIdentifiers(t *testing.T) {
	s := NewInMemoryStore()
	if _, err := s.Save(context.Background(), Conversation{ID: "c1"}); err == nil {
		t.Fatalf("Save() without user id should fail")
	}
	if _, err := s.Save(context.Background(), Conversation{UserID: "u1"}); err == nil {
		t.Fatalf("Save() without id should fail")
	}
}
