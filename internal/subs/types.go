package subs

import (
	"errors"
	"time"
)

// ErrInvalidCadence is returned when an upsert asks for a delivery cadence
// below the configured floor. The request is rejected outright; clamping
// would hide the caller's mistake.
var ErrInvalidCadence = errors.New("cadence below minimum")

// ErrEmptyTeamSet is returned when an upsert carries no teams.
// Callers who want to stop updates should use Remove instead.
var ErrEmptyTeamSet = errors.New("team set is empty")

// Subscriber is one chat's subscription: which teams it watches, how often
// it may be messaged, and delivery bookkeeping. A subscriber with an empty
// team set is equivalent to "not subscribed" and never occupies a
// schedulable slot.
type Subscriber struct {
	// ID is an opaque stable address (chat-id-shaped string).
	ID string
	// Teams is normalized, deduplicated, and sorted.
	Teams []string
	// Cadence is the minimum gap between deliveries, always >= the floor.
	Cadence time.Duration
	// LastDeliveredAt is zero if never delivered.
	LastDeliveredAt time.Time
	// LastPayloadHash is the digest of the last delivered content,
	// used for duplicate suppression.
	LastPayloadHash uint64
}

// Due reports whether the subscriber should be evaluated at now.
func (s Subscriber) Due(now time.Time) bool {
	if s.LastDeliveredAt.IsZero() {
		return true
	}
	return now.Sub(s.LastDeliveredAt) >= s.Cadence
}
