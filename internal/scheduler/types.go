package scheduler

import (
	"context"
	"time"

	"scorebot/internal/subs"
)

// Config controls the global evaluation tick.
//
// Defaults (when fields are zero):
//   - TickInterval: 60s
//   - FetchWorkers: 4
//   - FetchTimeout: 15s
type Config struct {
	Enabled      bool
	TickInterval time.Duration
	FetchWorkers int
	FetchTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = 60 * time.Second
	}
	if c.FetchWorkers <= 0 {
		c.FetchWorkers = 4
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 15 * time.Second
	}
	return c
}

// Subscriptions is the slice of the subscription store the scheduler needs.
type Subscriptions interface {
	Due(now time.Time) []subs.Subscriber
	RecordDelivery(ctx context.Context, id string, payloadHash uint64, now time.Time)
}

// Sender delivers one rendered payload. Failures must be returned, not
// retried internally; the tick cadence is the retry interval.
type Sender interface {
	Send(ctx context.Context, subscriberID, text string) error
}

// TickStats summarizes one evaluation pass. It is logged, published on the
// event bus ("scheduler.tick"), and asserted on in tests.
type TickStats struct {
	Due        int
	Sent       int
	Suppressed int // unchanged payload, dispatch skipped
	Skipped    int // every watched team failed to fetch
	SendFailed int
}
