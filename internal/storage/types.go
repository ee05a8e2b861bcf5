package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (snapshot + jsonl journal)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled and subscriptions are
// lost on restart.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// SubscriberRecord is the persisted shape of one subscription.
// Teams are stored normalized; Cadence is nanoseconds on the wire.
type SubscriberRecord struct {
	ID              string        `json:"id"`
	Teams           []string      `json:"teams"`
	Cadence         time.Duration `json:"cadence"`
	LastDeliveredAt time.Time     `json:"last_delivered_at,omitempty"`
	LastPayloadHash uint64        `json:"last_payload_hash,omitempty"`
}
