package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"scorebot/internal/scoreboard"
	"scorebot/internal/subs"
	"scorebot/pkg/logx"
)

// runTick performs one evaluation pass at wall-clock instant now.
//
// The pass owns every snapshot it fetches; nothing survives the tick. Fetch
// results are shared across subscribers through a TickCache that is
// discarded on return.
func (s *Service) runTick(ctx context.Context, now time.Time) TickStats {
	var st TickStats

	due := s.store.Due(now)
	st.Due = len(due)
	if len(due) == 0 {
		// Nobody due: no upstream calls at all.
		return st
	}

	cfg := s.config()
	cache := scoreboard.NewTickCache(s.gw)

	// Union of distinct watched teams across due subscribers, fetched at
	// most once each this tick.
	union := make(map[string]struct{})
	for _, sub := range due {
		for _, team := range sub.Teams {
			union[team] = struct{}{}
		}
	}

	snaps, failed := s.fetchAll(ctx, cache, union, cfg)

	for _, sub := range due {
		if ctx.Err() != nil {
			// Shutdown mid-tick: stop picking up new subscribers. Everyone
			// not yet processed keeps stale bookkeeping and is due next time.
			return st
		}
		s.evaluate(ctx, sub, snaps, failed, now, &st)
	}
	return st
}

// fetchAll resolves the team union through the per-tick cache with a bounded
// worker pool. It returns successful snapshots keyed by normalized team, and
// the set of teams whose fetch failed (upstream unavailable or timed out).
// A team legitimately absent from the scoreboard appears in neither map.
func (s *Service) fetchAll(ctx context.Context, cache *scoreboard.TickCache, union map[string]struct{}, cfg Config) (map[string]scoreboard.Snapshot, map[string]struct{}) {
	snaps := make(map[string]scoreboard.Snapshot, len(union))
	failed := make(map[string]struct{})

	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, cfg.FetchWorkers)

	for team := range union {
		team := team
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			fetchCtx, cancel := context.WithTimeout(ctx, cfg.FetchTimeout)
			snap, err := cache.Team(fetchCtx, team)
			cancel()

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				snaps[team] = snap
			case errors.Is(err, scoreboard.ErrTeamNotFound):
				// Renderable state, not a failure.
			default:
				// Upstream unavailable, timeout, cancellation: no data this
				// tick. Never treated as "team does not exist".
				s.log.Debug("team fetch failed this tick", logx.String("team", team), logx.Err(err))
				failed[team] = struct{}{}
			}
		}()
	}
	wg.Wait()
	return snaps, failed
}

// evaluate renders, suppresses or dispatches, and updates bookkeeping for
// one due subscriber.
func (s *Service) evaluate(ctx context.Context, sub subs.Subscriber, snaps map[string]scoreboard.Snapshot, failed map[string]struct{}, now time.Time, st *TickStats) {
	// Teams whose fetch failed are silent this cycle: they must not render
	// as "no game" (that would be a lie) and an error line would churn the
	// payload hash on every transient outage.
	renderTeams := make([]string, 0, len(sub.Teams))
	for _, team := range sub.Teams {
		if _, bad := failed[team]; !bad {
			renderTeams = append(renderTeams, team)
		}
	}

	// Every watched team failed to fetch: skip the subscriber whole. No
	// partial payload, and untouched bookkeeping retries it next tick.
	if len(renderTeams) == 0 {
		st.Skipped++
		return
	}

	payload := renderPayload(renderTeams, snaps)
	hash := payloadHash(payload)

	if hash == sub.LastPayloadHash {
		// Unchanged content: no dispatch, but the cadence clock still
		// resets, so a dormant team doesn't get re-evaluated every tick.
		s.store.RecordDelivery(ctx, sub.ID, sub.LastPayloadHash, now)
		st.Suppressed++
		return
	}

	if err := s.sender.Send(ctx, sub.ID, payload); err != nil {
		// Bookkeeping stays stale; the next tick retries with fresh content.
		s.log.Warn("delivery failed; will retry next tick", logx.String("subscriber", sub.ID), logx.Err(err))
		st.SendFailed++
		return
	}
	s.store.RecordDelivery(ctx, sub.ID, hash, now)
	st.Sent++
}
