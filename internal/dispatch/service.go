package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"scorebot/internal/eventbus"
	"scorebot/internal/transport"
	"scorebot/pkg/logx"
)

// ErrDeliveryFailed wraps any transport failure. The scheduler reacts by
// leaving bookkeeping stale so the next tick retries with fresh content;
// there is deliberately no retry loop here.
var ErrDeliveryFailed = errors.New("delivery failed")

type Config struct {
	// RatePerSec bounds outbound sends across all subscribers.
	RatePerSec int
	// SendTimeout bounds one send call.
	SendTimeout time.Duration
}

// Result is the payload of "dispatch.sent" / "dispatch.failed" bus events.
type Result struct {
	SubscriberID string
	At           time.Time
	Error        string `json:"Error,omitempty"`
}

// Service delivers rendered payloads to subscribers.
//
// Safe for concurrent use across different subscribers; callers must not
// invoke Send twice concurrently for the same subscriber within one tick
// (the scheduler guarantees this). Apply may race with in-flight Sends
// (config hot-reload), so the knobs are read under the mutex.
type Service struct {
	log     logx.Logger
	adapter transport.Adapter
	bus     eventbus.Bus

	mu          sync.Mutex
	limiter     *rate.Limiter
	sendTimeout time.Duration
}

func New(cfg Config, adapter transport.Adapter, bus eventbus.Bus, log logx.Logger) *Service {
	s := &Service{adapter: adapter, bus: bus, log: log}
	s.Apply(cfg)
	return s
}

// Apply swaps rate/timeout knobs at runtime (config hot-reload).
func (s *Service) Apply(cfg Config) {
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 3
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	s.sendTimeout = cfg.SendTimeout
}

func (s *Service) Send(ctx context.Context, subscriberID, text string) error {
	chatID, err := strconv.ParseInt(subscriberID, 10, 64)
	if err != nil {
		return s.fail(subscriberID, fmt.Errorf("%w: bad subscriber id %q", ErrDeliveryFailed, subscriberID))
	}

	s.mu.Lock()
	limiter := s.limiter
	sendTimeout := s.sendTimeout
	s.mu.Unlock()

	if err := limiter.Wait(ctx); err != nil {
		return s.fail(subscriberID, fmt.Errorf("%w: rate limit wait: %v", ErrDeliveryFailed, err))
	}

	callCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if _, err := s.adapter.SendText(callCtx, transport.ChatTarget{ChatID: chatID}, text, nil); err != nil {
		return s.fail(subscriberID, fmt.Errorf("%w: %v", ErrDeliveryFailed, err))
	}

	if s.bus != nil {
		now := time.Now()
		s.bus.Publish(eventbus.Event{Type: "dispatch.sent", Time: now, Data: Result{SubscriberID: subscriberID, At: now}})
	}
	return nil
}

func (s *Service) fail(subscriberID string, err error) error {
	s.log.Debug("dispatch failed", logx.String("subscriber", subscriberID), logx.Err(err))
	if s.bus != nil {
		now := time.Now()
		s.bus.Publish(eventbus.Event{Type: "dispatch.failed", Time: now, Data: Result{SubscriberID: subscriberID, At: now, Error: err.Error()}})
	}
	return err
}
