package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"scorebot/pkg/logx"
)

// Store is the minimal persistence API used by the subscription store.
//
// Delivery bookkeeping updates are frequent and small, so they get their own
// method instead of rewriting the whole record.
type Store interface {
	LoadSubscribers(ctx context.Context) ([]SubscriberRecord, error)
	PutSubscriber(ctx context.Context, rec SubscriberRecord) error
	DeleteSubscriber(ctx context.Context, id string) error
	PutDelivery(ctx context.Context, id string, hash uint64, at time.Time) error
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
