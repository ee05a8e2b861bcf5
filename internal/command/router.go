package command

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"scorebot/internal/scoreboard"
	"scorebot/internal/subs"
	"scorebot/internal/transport"
	"scorebot/pkg/logx"
)

const (
	// defaultCadence applies when /follow omits "every".
	defaultCadence = 15 * time.Minute
	// requestTimeout bounds one command end to end (including the upstream
	// call behind /score).
	requestTimeout = 20 * time.Second

	workerCount = 4
)

// Ticker forces an immediate evaluation pass. The scheduler service
// implements it; a nil ticker disables /tick.
type Ticker interface {
	TickNow(ctx context.Context)
}

// Router turns transport updates into store mutations and one-shot queries.
//
// It is the only component that replies to users directly; the scheduler's
// periodic deliveries go through the dispatcher instead.
type Router struct {
	log     logx.Logger
	store   *subs.Store
	gw      scoreboard.Gateway
	adapter transport.Adapter
	ticker  Ticker
}

func NewRouter(store *subs.Store, gw scoreboard.Gateway, adapter transport.Adapter, ticker Ticker, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{log: log, store: store, gw: gw, adapter: adapter, ticker: ticker}
}

// DispatchLoop consumes updates until the context is canceled. A small
// worker pool keeps one slow upstream query from stalling other users.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan transport.Update) error {
	var wg sync.WaitGroup
	jobs := make(chan transport.Update, 64)

	wg.Add(workerCount)
	for i := 0; i < workerCount; i++ {
		go func() {
			defer wg.Done()
			for up := range jobs {
				r.handleSafe(ctx, up)
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return nil
		case up, ok := <-updates:
			if !ok {
				close(jobs)
				wg.Wait()
				return nil
			}
			select {
			case jobs <- up:
			default:
				r.log.Warn("command dropped (workers busy)")
			}
		}
	}
}

func (r *Router) handleSafe(ctx context.Context, up transport.Update) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("panic in command handler", logx.Any("panic", rec), logx.Stack(string(debug.Stack())))
		}
	}()

	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	r.handle(reqCtx, up)
}

func (r *Router) handle(ctx context.Context, up transport.Update) {
	if up.Kind != transport.UpdateMessage || up.Message == nil {
		return
	}
	msg := up.Message

	intent, err := Parse(msg.Text)
	if err != nil {
		if errors.Is(err, ErrUnknownCommand) {
			// Plain chatter in groups is none of our business; in private
			// chats a nudge toward /help is friendlier than silence.
			if !msg.IsGroup && strings.TrimSpace(msg.Text) != "" {
				r.reply(ctx, msg.ChatID, "I didn't understand that. Try /help.")
			}
			return
		}
		r.reply(ctx, msg.ChatID, err.Error())
		return
	}
	intent.SubscriberID = strconv.FormatInt(msg.ChatID, 10)

	r.log.Debug("command",
		logx.String("kind", string(intent.Kind)),
		logx.String("subscriber", intent.SubscriberID),
		logx.Int("teams", len(intent.Teams)),
	)

	switch intent.Kind {
	case KindSubscribe:
		r.subscribe(ctx, msg.ChatID, intent)
	case KindUnsubscribe:
		r.unsubscribe(ctx, msg.ChatID, intent)
	case KindQuery:
		r.query(ctx, msg.ChatID, intent)
	case KindStatus:
		r.status(ctx, msg.ChatID, intent)
	case KindHelp:
		r.reply(ctx, msg.ChatID, helpText(r.store.MinCadence()))
	case KindTick:
		r.tick(ctx, msg.ChatID)
	}
}

func (r *Router) subscribe(ctx context.Context, chatID int64, intent Intent) {
	cadence := intent.Cadence
	if cadence == 0 {
		cadence = defaultCadence
	}

	sub, err := r.store.Upsert(ctx, intent.SubscriberID, intent.Teams, cadence)
	switch {
	case errors.Is(err, subs.ErrInvalidCadence):
		r.reply(ctx, chatID, fmt.Sprintf("Cadence %s is too frequent; the minimum is %s.", cadence, r.store.MinCadence()))
		return
	case errors.Is(err, subs.ErrEmptyTeamSet):
		r.reply(ctx, chatID, "No teams given. Try /follow chiefs,giants every 15m — or /unfollow to stop updates.")
		return
	case err != nil:
		r.log.Error("upsert failed", logx.String("subscriber", intent.SubscriberID), logx.Err(err))
		r.reply(ctx, chatID, "Something went wrong; please try again.")
		return
	}
	r.reply(ctx, chatID, fmt.Sprintf("Following %s — updates every %s.", strings.Join(sub.Teams, ", "), sub.Cadence))
}

func (r *Router) unsubscribe(ctx context.Context, chatID int64, intent Intent) {
	// No teams named: drop the whole subscription.
	if len(intent.Teams) == 0 {
		_ = r.store.Remove(ctx, intent.SubscriberID)
		r.reply(ctx, chatID, "Unfollowed everything. Use /follow to start again.")
		return
	}

	cur, ok := r.store.Get(intent.SubscriberID)
	if !ok {
		r.reply(ctx, chatID, "You aren't following anything.")
		return
	}

	drop := make(map[string]struct{}, len(intent.Teams))
	for _, t := range intent.Teams {
		drop[scoreboard.NormalizeTeam(t)] = struct{}{}
	}
	remaining := make([]string, 0, len(cur.Teams))
	for _, t := range cur.Teams {
		if _, gone := drop[t]; !gone {
			remaining = append(remaining, t)
		}
	}

	// An empty watch set is "not subscribed"; it never lingers as a record.
	if len(remaining) == 0 {
		_ = r.store.Remove(ctx, intent.SubscriberID)
		r.reply(ctx, chatID, "Unfollowed everything. Use /follow to start again.")
		return
	}

	if _, err := r.store.Upsert(ctx, intent.SubscriberID, remaining, cur.Cadence); err != nil {
		r.log.Error("unfollow upsert failed", logx.String("subscriber", intent.SubscriberID), logx.Err(err))
		r.reply(ctx, chatID, "Something went wrong; please try again.")
		return
	}
	r.reply(ctx, chatID, fmt.Sprintf("Still following %s.", strings.Join(remaining, ", ")))
}

// query is a one-shot fetch; it never touches subscription bookkeeping.
func (r *Router) query(ctx context.Context, chatID int64, intent Intent) {
	team := intent.Teams[0]
	snap, err := r.gw.Team(ctx, team)
	switch {
	case errors.Is(err, scoreboard.ErrTeamNotFound):
		r.reply(ctx, chatID, fmt.Sprintf("%s has no game on today's scoreboard.", scoreboard.NormalizeTeam(team)))
	case errors.Is(err, scoreboard.ErrUpstreamUnavailable):
		r.reply(ctx, chatID, "The scoreboard isn't answering right now; try again in a minute.")
	case err != nil:
		r.log.Warn("query failed", logx.String("team", team), logx.Err(err))
		r.reply(ctx, chatID, "The scoreboard isn't answering right now; try again in a minute.")
	default:
		r.reply(ctx, chatID, formatSnapshot(snap))
	}
}

func (r *Router) status(ctx context.Context, chatID int64, intent Intent) {
	sub, ok := r.store.Get(intent.SubscriberID)
	if !ok {
		r.reply(ctx, chatID, "You aren't following anything. Try /follow chiefs every 15m.")
		return
	}
	last := "never"
	if !sub.LastDeliveredAt.IsZero() {
		last = sub.LastDeliveredAt.Format(time.RFC822)
	}
	r.reply(ctx, chatID, fmt.Sprintf("Following %s every %s (last update: %s).",
		strings.Join(sub.Teams, ", "), sub.Cadence, last))
}

// tick runs one evaluation pass on demand. It shares the scheduler's
// serialization, so a concurrent timed tick just queues behind it.
func (r *Router) tick(ctx context.Context, chatID int64) {
	if r.ticker == nil {
		r.reply(ctx, chatID, "The scheduler isn't running.")
		return
	}
	r.ticker.TickNow(ctx)
	r.reply(ctx, chatID, "Evaluation pass complete.")
}

func (r *Router) reply(ctx context.Context, chatID int64, text string) {
	if _, err := r.adapter.SendText(ctx, transport.ChatTarget{ChatID: chatID}, text, nil); err != nil {
		r.log.Warn("reply failed", logx.Int64("chat", chatID), logx.Err(err))
	}
}

func formatSnapshot(s scoreboard.Snapshot) string {
	switch s.Status {
	case scoreboard.StatusScheduled:
		return fmt.Sprintf("%s vs %s starts at %s.", s.Team, s.Opponent, s.StartTime.Format(time.Kitchen))
	case scoreboard.StatusFinal:
		return fmt.Sprintf("Final: %s %d — %s %d.", s.Team, s.TeamScore, s.Opponent, s.OpponentScore)
	default:
		return fmt.Sprintf("%s %d — %s %d (live).", s.Team, s.TeamScore, s.Opponent, s.OpponentScore)
	}
}

func helpText(minCadence time.Duration) string {
	return strings.Join([]string{
		"I relay live scores and send periodic updates for teams you follow.",
		"",
		"/follow <teams> [every <cadence>] — e.g. /follow chiefs,giants every 15m",
		"/unfollow [teams] — stop updates (for some teams, or all)",
		"/score <team> — one-off score lookup",
		"/status — what you're following",
		fmt.Sprintf("The fastest update cadence is %s.", minCadence),
	}, "\n")
}
