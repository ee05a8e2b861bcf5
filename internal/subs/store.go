package subs

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"scorebot/internal/scoreboard"
	"scorebot/internal/storage"
	"scorebot/pkg/logx"
)

// Store is the source of truth for "who wants what, how often".
//
// Records are replaced wholesale under one mutex, so a concurrent Due() scan
// observes either the fully-old or fully-new record, never a partial merge.
// The scheduler holds no copy across ticks; it always reads through Due().
//
// Persistence is write-through and best-effort: a storage failure is logged,
// the in-memory state stays authoritative for the running process.
type Store struct {
	log logx.Logger

	mu         sync.Mutex
	subs       map[string]Subscriber
	minCadence time.Duration

	persist storage.Store // nil when storage is disabled
}

func NewStore(minCadence time.Duration, persist storage.Store, log logx.Logger) *Store {
	if minCadence <= 0 {
		minCadence = time.Minute
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{
		log:        log,
		subs:       map[string]Subscriber{},
		minCadence: minCadence,
		persist:    persist,
	}
}

// Hydrate loads persisted subscriptions. Call once before the scheduler starts.
func (s *Store) Hydrate(ctx context.Context) error {
	if s.persist == nil {
		return nil
	}
	recs, err := s.persist.LoadSubscribers(ctx)
	if err != nil {
		return fmt.Errorf("load subscribers: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range recs {
		if strings.TrimSpace(rec.ID) == "" || len(rec.Teams) == 0 {
			continue
		}
		cadence := rec.Cadence
		if cadence < s.minCadence {
			// Floor may have been raised since the record was written.
			cadence = s.minCadence
		}
		s.subs[rec.ID] = Subscriber{
			ID:              rec.ID,
			Teams:           normalizeTeams(rec.Teams),
			Cadence:         cadence,
			LastDeliveredAt: rec.LastDeliveredAt,
			LastPayloadHash: rec.LastPayloadHash,
		}
	}
	s.log.Info("subscriptions hydrated", logx.Int("count", len(s.subs)))
	return nil
}

// SetMinCadence updates the cadence floor for future upserts.
// Existing records keep their cadence.
func (s *Store) SetMinCadence(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	s.minCadence = d
	s.mu.Unlock()
}

func (s *Store) MinCadence() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.minCadence
}

// Upsert atomically replaces the subscriber's team set and cadence.
// It fails without touching any pre-existing record.
func (s *Store) Upsert(ctx context.Context, id string, teams []string, cadence time.Duration) (Subscriber, error) {
	norm := normalizeTeams(teams)
	if len(norm) == 0 {
		return Subscriber{}, ErrEmptyTeamSet
	}

	s.mu.Lock()
	if cadence < s.minCadence {
		min := s.minCadence
		s.mu.Unlock()
		return Subscriber{}, fmt.Errorf("%w: %s < %s", ErrInvalidCadence, cadence, min)
	}
	prev, existed := s.subs[id]
	sub := Subscriber{ID: id, Teams: norm, Cadence: cadence}
	if existed {
		// Keep bookkeeping so editing a watch list doesn't reset the clock.
		sub.LastDeliveredAt = prev.LastDeliveredAt
		sub.LastPayloadHash = prev.LastPayloadHash
	}
	s.subs[id] = sub
	s.mu.Unlock()

	if s.persist != nil {
		if err := s.persist.PutSubscriber(ctx, storage.SubscriberRecord{
			ID:              sub.ID,
			Teams:           sub.Teams,
			Cadence:         sub.Cadence,
			LastDeliveredAt: sub.LastDeliveredAt,
			LastPayloadHash: sub.LastPayloadHash,
		}); err != nil {
			s.log.Warn("persist subscriber failed", logx.String("id", id), logx.Err(err))
		}
	}
	return sub, nil
}

// Remove deletes a subscription. Idempotent: removing a subscriber that does
// not exist is a successful no-op.
func (s *Store) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	_, existed := s.subs[id]
	delete(s.subs, id)
	s.mu.Unlock()

	if existed && s.persist != nil {
		if err := s.persist.DeleteSubscriber(ctx, id); err != nil {
			s.log.Warn("delete subscriber failed", logx.String("id", id), logx.Err(err))
		}
	}
	return nil
}

// Get returns a copy of the subscriber, if present.
func (s *Store) Get(id string) (Subscriber, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	return sub, ok
}

// Due returns a snapshot of subscribers whose cadence has elapsed at now
// (or who have never been delivered to). The result is finite, independent
// of later mutations, and restartable: each call re-derives it.
//
// A record with an empty team set in the map is an invariant violation;
// it is logged and excluded rather than crashing the tick.
func (s *Store) Due(now time.Time) []Subscriber {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Subscriber, 0, len(s.subs))
	for _, sub := range s.subs {
		if len(sub.Teams) == 0 {
			s.log.Error("subscriber with empty team set in store; excluding", logx.String("id", sub.ID))
			continue
		}
		if sub.Due(now) {
			out = append(out, sub)
		}
	}
	// Deterministic order keeps logs and tests stable.
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of live subscriptions.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// RecordDelivery updates bookkeeping after a delivery attempt was resolved.
// No-op (not an error) if the subscriber was concurrently removed.
func (s *Store) RecordDelivery(ctx context.Context, id string, payloadHash uint64, now time.Time) {
	s.mu.Lock()
	sub, ok := s.subs[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	sub.LastDeliveredAt = now
	sub.LastPayloadHash = payloadHash
	s.subs[id] = sub
	s.mu.Unlock()

	if s.persist != nil {
		if err := s.persist.PutDelivery(ctx, id, payloadHash, now); err != nil {
			s.log.Warn("persist delivery failed", logx.String("id", id), logx.Err(err))
		}
	}
}

// normalizeTeams lower-cases, trims, deduplicates, and sorts team names.
func normalizeTeams(teams []string) []string {
	seen := make(map[string]struct{}, len(teams))
	out := make([]string, 0, len(teams))
	for _, t := range teams {
		key := scoreboard.NormalizeTeam(t)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
