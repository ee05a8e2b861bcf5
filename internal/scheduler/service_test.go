package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"scorebot/internal/subs"
	"scorebot/pkg/logx"
)

// blockingSender parks the first Send until released, so tests can hold a
// tick in flight while asserting what Stop does with it.
type blockingSender struct {
	inner   fakeSender
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newBlockingSender() *blockingSender {
	return &blockingSender{entered: make(chan struct{}), release: make(chan struct{})}
}

func (b *blockingSender) Send(ctx context.Context, subscriberID, text string) error {
	b.once.Do(func() { close(b.entered) })
	select {
	case <-b.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return b.inner.Send(ctx, subscriberID, text)
}

func TestStartStopIdempotent(t *testing.T) {
	t.Parallel()
	store := subs.NewStore(time.Minute, nil, logx.Logger{})
	svc := New(Config{Enabled: true, TickInterval: time.Hour}, store, newFakeGateway(), &fakeSender{}, nil, logx.Logger{})

	ctx := context.Background()
	svc.Start(ctx)
	svc.Start(ctx) // second start is a no-op

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	svc.Stop(stopCtx)
	svc.Stop(stopCtx) // second stop is a no-op
}

func TestStopWaitsForInFlightTick(t *testing.T) {
	t.Parallel()
	store := subs.NewStore(time.Minute, nil, logx.Logger{})
	gw := newFakeGateway()
	sender := newBlockingSender()
	svc := New(Config{Enabled: true, TickInterval: 50 * time.Millisecond, FetchWorkers: 1, FetchTimeout: time.Second}, store, gw, sender, nil, logx.Logger{})

	gw.set("chiefs", 21, 3)
	if _, err := store.Upsert(context.Background(), "1", []string{"chiefs"}, time.Minute); err != nil {
		t.Fatalf("Upsert error: %v", err)
	}

	svc.Start(context.Background())
	select {
	case <-sender.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("tick never reached the sender")
	}

	stopped := make(chan struct{})
	go func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		svc.Stop(stopCtx)
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a delivery was still in flight")
	case <-time.After(100 * time.Millisecond):
	}

	close(sender.release)
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return after the tick finished")
	}

	if sender.inner.count() != 1 {
		t.Fatalf("sent = %d, want the in-flight delivery completed", sender.inner.count())
	}
	sub, ok := store.Get("1")
	if !ok || sub.LastDeliveredAt.IsZero() {
		t.Fatal("delivery bookkeeping missing after Stop returned")
	}
}

func TestApplyDefaults(t *testing.T) {
	t.Parallel()
	store := subs.NewStore(time.Minute, nil, logx.Logger{})
	svc := New(Config{}, store, newFakeGateway(), &fakeSender{}, nil, logx.Logger{})

	cfg := svc.config()
	if cfg.TickInterval != 60*time.Second {
		t.Fatalf("TickInterval = %v, want 60s default", cfg.TickInterval)
	}
	if cfg.FetchWorkers != 4 {
		t.Fatalf("FetchWorkers = %d, want 4 default", cfg.FetchWorkers)
	}
	if cfg.FetchTimeout != 15*time.Second {
		t.Fatalf("FetchTimeout = %v, want 15s default", cfg.FetchTimeout)
	}

	svc.Apply(Config{Enabled: true, TickInterval: 30 * time.Second, FetchWorkers: 8})
	cfg = svc.config()
	if !cfg.Enabled || cfg.TickInterval != 30*time.Second || cfg.FetchWorkers != 8 {
		t.Fatalf("config after Apply = %+v", cfg)
	}
}

func TestTickNowEvaluatesImmediately(t *testing.T) {
	t.Parallel()
	store := subs.NewStore(time.Minute, nil, logx.Logger{})
	gw := newFakeGateway()
	sender := &fakeSender{}
	svc := New(Config{FetchWorkers: 1, FetchTimeout: time.Second}, store, gw, sender, nil, logx.Logger{})

	gw.set("chiefs", 7, 0)
	if _, err := store.Upsert(context.Background(), "1", []string{"chiefs"}, time.Minute); err != nil {
		t.Fatalf("Upsert error: %v", err)
	}

	svc.TickNow(context.Background())
	if sender.count() != 1 {
		t.Fatalf("sent = %d, want 1 after TickNow", sender.count())
	}
}
