package subs

import (
	"context"
	"errors"
	"testing"
	"time"

	"scorebot/pkg/logx"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(time.Minute, nil, logx.Logger{})
}

func TestUpsertNormalizesTeams(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	sub, err := s.Upsert(context.Background(), "42", []string{"  Chiefs ", "GIANTS", "chiefs", "New  York"}, time.Minute)
	if err != nil {
		t.Fatalf("Upsert error: %v", err)
	}
	want := []string{"chiefs", "giants", "new york"}
	if len(sub.Teams) != len(want) {
		t.Fatalf("Teams = %v, want %v", sub.Teams, want)
	}
	for i := range want {
		if sub.Teams[i] != want[i] {
			t.Fatalf("Teams = %v, want %v", sub.Teams, want)
		}
	}
}

func TestUpsertRejectsBelowFloor(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Upsert(ctx, "42", []string{"chiefs"}, 10*time.Minute); err != nil {
		t.Fatalf("initial Upsert error: %v", err)
	}

	_, err := s.Upsert(ctx, "42", []string{"giants"}, time.Second)
	if !errors.Is(err, ErrInvalidCadence) {
		t.Fatalf("err = %v, want ErrInvalidCadence", err)
	}

	// The failed upsert must not have touched the existing record.
	got, ok := s.Get("42")
	if !ok {
		t.Fatal("record vanished after rejected upsert")
	}
	if got.Cadence != 10*time.Minute || len(got.Teams) != 1 || got.Teams[0] != "chiefs" {
		t.Fatalf("record mutated by rejected upsert: %+v", got)
	}
}

func TestUpsertEmptyTeamSet(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	if _, err := s.Upsert(context.Background(), "42", nil, time.Minute); !errors.Is(err, ErrEmptyTeamSet) {
		t.Fatalf("err = %v, want ErrEmptyTeamSet", err)
	}
	if _, err := s.Upsert(context.Background(), "42", []string{"  ", ""}, time.Minute); !errors.Is(err, ErrEmptyTeamSet) {
		t.Fatalf("whitespace-only teams: err = %v, want ErrEmptyTeamSet", err)
	}
	if s.Count() != 0 {
		t.Fatalf("Count = %d, want 0", s.Count())
	}
}

func TestUpsertPreservesBookkeeping(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	if _, err := s.Upsert(ctx, "42", []string{"chiefs"}, time.Minute); err != nil {
		t.Fatalf("Upsert error: %v", err)
	}
	s.RecordDelivery(ctx, "42", 1234, now)

	// Editing the watch list must not reset the delivery clock.
	sub, err := s.Upsert(ctx, "42", []string{"chiefs", "giants"}, 2*time.Minute)
	if err != nil {
		t.Fatalf("edit Upsert error: %v", err)
	}
	if !sub.LastDeliveredAt.Equal(now) {
		t.Fatalf("LastDeliveredAt = %v, want %v", sub.LastDeliveredAt, now)
	}
	if sub.LastPayloadHash != 1234 {
		t.Fatalf("LastPayloadHash = %d, want 1234", sub.LastPayloadHash)
	}
}

func TestDueSemantics(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		sub  Subscriber
		now  time.Time
		due  bool
	}{
		{
			name: "never delivered",
			sub:  Subscriber{Cadence: 15 * time.Minute},
			now:  base,
			due:  true,
		},
		{
			name: "inside cadence window",
			sub:  Subscriber{Cadence: 15 * time.Minute, LastDeliveredAt: base},
			now:  base.Add(10 * time.Minute),
			due:  false,
		},
		{
			name: "exactly at cadence",
			sub:  Subscriber{Cadence: 15 * time.Minute, LastDeliveredAt: base},
			now:  base.Add(15 * time.Minute),
			due:  true,
		},
		{
			name: "past cadence",
			sub:  Subscriber{Cadence: 15 * time.Minute, LastDeliveredAt: base},
			now:  base.Add(16 * time.Minute),
			due:  true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sub.Due(tt.now); got != tt.due {
				t.Fatalf("Due(%v) = %v, want %v", tt.now, got, tt.due)
			}
		})
	}
}

func TestDueSnapshotSorted(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"9", "3", "7"} {
		if _, err := s.Upsert(ctx, id, []string{"chiefs"}, time.Minute); err != nil {
			t.Fatalf("Upsert(%s) error: %v", id, err)
		}
	}
	due := s.Due(time.Now())
	if len(due) != 3 {
		t.Fatalf("len(due) = %d, want 3", len(due))
	}
	for i := 1; i < len(due); i++ {
		if due[i-1].ID >= due[i].ID {
			t.Fatalf("due not sorted: %s before %s", due[i-1].ID, due[i].ID)
		}
	}
}

func TestRemoveIdempotent(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Upsert(ctx, "42", []string{"chiefs"}, time.Minute); err != nil {
		t.Fatalf("Upsert error: %v", err)
	}
	if err := s.Remove(ctx, "42"); err != nil {
		t.Fatalf("Remove error: %v", err)
	}
	if err := s.Remove(ctx, "42"); err != nil {
		t.Fatalf("second Remove error: %v", err)
	}
	if err := s.Remove(ctx, "never-existed"); err != nil {
		t.Fatalf("Remove of unknown id error: %v", err)
	}
	if s.Count() != 0 {
		t.Fatalf("Count = %d, want 0", s.Count())
	}
}

func TestRecordDeliveryVanishedSubscriber(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	// Must not panic or resurrect the record.
	s.RecordDelivery(context.Background(), "gone", 99, time.Now())
	if s.Count() != 0 {
		t.Fatalf("Count = %d, want 0", s.Count())
	}
}
