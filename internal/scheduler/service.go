package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"scorebot/internal/eventbus"
	"scorebot/internal/scoreboard"
	"scorebot/pkg/logx"
)

// Service drives all periodic work from ONE global tick. There are no
// per-subscriber timers anywhere: they leak on unsubscribe, grow unboundedly
// with user count, and duplicate on re-subscribe. Due-ness is a pure
// function of store state evaluated each tick.
type Service struct {
	log logx.Logger

	store  Subscriptions
	gw     scoreboard.Gateway
	sender Sender
	bus    eventbus.Bus

	mu    sync.Mutex
	cfg   Config
	c     *cron.Cron
	entry cron.EntryID

	runCtx    context.Context
	runCancel context.CancelFunc

	// tickMu serializes evaluation passes: a slow tick must never overlap
	// the next one.
	tickMu sync.Mutex

	// now is swapped in tests.
	now func() time.Time
}

func New(cfg Config, store Subscriptions, gw scoreboard.Gateway, sender Sender, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:    log,
		store:  store,
		gw:     gw,
		sender: sender,
		bus:    bus,
		cfg:    cfg.withDefaults(),
		now:    time.Now,
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Apply updates tick settings at runtime. An interval change re-registers
// the cron entry; everything else takes effect on the next tick.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()
	prevInterval := s.cfg.TickInterval
	s.cfg = cfg

	if s.c != nil && cfg.TickInterval != prevInterval {
		s.c.Remove(s.entry)
		s.entry = s.addTickLocked(cfg.TickInterval)
		s.log.Info("tick interval updated", logx.Duration("interval", cfg.TickInterval))
	}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		// already running
		return
	}
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	s.c = cron.New()
	s.entry = s.addTickLocked(s.cfg.TickInterval)
	s.c.Start()
	s.log.Info("scheduler started", logx.Duration("interval", s.cfg.TickInterval))
}

func (s *Service) addTickLocked(interval time.Duration) cron.EntryID {
	id, err := s.c.AddFunc(fmt.Sprintf("@every %s", interval), s.tickSafe)
	if err != nil {
		// "@every <duration>" specs are always parseable; reaching this is a defect.
		s.log.Error("registering tick failed", logx.Err(err))
	}
	return id
}

// Stop halts future ticks and waits for an in-flight tick to finish, so no
// subscriber is left mid-dispatch with inconsistent bookkeeping. The caller
// context bounds the wait; on deadline the run context is canceled to force
// the tick to unwind.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	cancel := s.runCancel
	s.c = nil
	s.runCancel = nil
	s.mu.Unlock()

	if c == nil {
		return
	}

	start := time.Now()
	select {
	case <-c.Stop().Done():
		s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
	case <-ctx.Done():
		s.log.Warn("scheduler stop deadline reached; canceling in-flight tick")
		if cancel != nil {
			cancel()
		}
		return
	}
	if cancel != nil {
		cancel()
	}
}

// TickNow runs one evaluation pass immediately (operator command). It shares
// the same serialization as timed ticks.
func (s *Service) TickNow(ctx context.Context) {
	s.tick(ctx, s.now())
}

func (s *Service) tickSafe() {
	defer func() {
		if r := recover(); r != nil {
			// A panicked tick must not take the cron runner down.
			s.log.Error("panic in tick", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()

	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	s.tick(ctx, s.now())
}

func (s *Service) tick(ctx context.Context, now time.Time) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	start := time.Now()
	st := s.runTick(ctx, now)
	took := time.Since(start)

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: "scheduler.tick", Data: st})
	}
	if st.Due == 0 {
		s.log.Debug("tick: nobody due")
		return
	}
	s.log.Info("tick done",
		logx.Int("due", st.Due),
		logx.Int("sent", st.Sent),
		logx.Int("suppressed", st.Suppressed),
		logx.Int("skipped", st.Skipped),
		logx.Int("send_failed", st.SendFailed),
		logx.Duration("took", took),
	)
}
