package scoreboard

import (
	"context"
	"sync"
)

// TickCache wraps a Gateway for the duration of ONE scheduler evaluation
// pass. Concurrent lookups of the same team share a single upstream call;
// results (including failures) are held until the cache is discarded at tick
// end. A cache must never outlive its tick: freshness over throughput.
type TickCache struct {
	gw Gateway

	mu      sync.Mutex
	entries map[string]*cacheEntry
}

type cacheEntry struct {
	done chan struct{}
	snap Snapshot
	err  error
}

func NewTickCache(gw Gateway) *TickCache {
	return &TickCache{gw: gw, entries: map[string]*cacheEntry{}}
}

// Team fetches a team's snapshot at most once per cache lifetime.
// The first caller for a key performs the upstream call; concurrent callers
// for the same key block until it completes and share the result.
func (c *TickCache) Team(ctx context.Context, name string) (Snapshot, error) {
	key := NormalizeTeam(name)

	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		e = &cacheEntry{done: make(chan struct{})}
		c.entries[key] = e
		c.mu.Unlock()

		e.snap, e.err = c.gw.Team(ctx, key)
		close(e.done)
		return e.snap, e.err
	}
	c.mu.Unlock()

	select {
	case <-e.done:
		return e.snap, e.err
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}
