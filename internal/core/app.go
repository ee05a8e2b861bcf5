package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"scorebot/internal/command"
	"scorebot/internal/config"
	"scorebot/internal/dispatch"
	"scorebot/internal/eventbus"
	"scorebot/internal/scheduler"
	"scorebot/internal/scoreboard"
	"scorebot/internal/storage"
	"scorebot/internal/subs"
	"scorebot/internal/transport"
	"scorebot/internal/transport/telegram"
	"scorebot/pkg/logx"
)

const defaultMinCadence = time.Minute

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *Supervisor

	log  logx.Logger
	logs *logx.Service

	adapter transport.Adapter
	bus     eventbus.Bus

	store  *subs.Store
	persis storage.Store
	gw     *scoreboard.Client
	disp   *dispatch.Service
	sched  *scheduler.Service
	router *command.Router

	updates chan transport.Update
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	persist, err := openStorage(cfg.Storage, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	minCadence, err := config.ParseDurationOrDefault("scheduler.min_cadence", cfg.Scheduler.MinCadence, defaultMinCadence)
	if err != nil {
		return nil, err
	}
	store := subs.NewStore(minCadence, persist, log.With(logx.String("comp", "subs")))

	reqTimeout, err := config.ParseDurationOrDefault("scoreboard.request_timeout", cfg.Scoreboard.RequestTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	gw := scoreboard.NewClient(scoreboard.ClientConfig{
		BaseURL:           cfg.Scoreboard.BaseURL,
		APIKey:            cfg.Scoreboard.APIKey,
		RequestsPerMinute: cfg.Scoreboard.RequestsPerMinute,
		RequestTimeout:    reqTimeout,
	}, log.With(logx.String("comp", "scoreboard")))

	bus := eventbus.New()

	dispCfg, err := dispatchConfig(cfg)
	if err != nil {
		return nil, err
	}
	disp := dispatch.New(dispCfg, ad, bus, log.With(logx.String("comp", "dispatch")))

	schedCfg, err := schedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	sched := scheduler.New(schedCfg, store, gw, disp, bus, log.With(logx.String("comp", "scheduler")))

	router := command.NewRouter(store, gw, ad, sched, log.With(logx.String("comp", "commands")))

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		adapter: ad,
		bus:     bus,
		store:   store,
		persis:  persist,
		gw:      gw,
		disp:    disp,
		sched:   sched,
		router:  router,
		updates: make(chan transport.Update, 256),
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = NewSupervisor(ctx, WithLogger(a.log), WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validate(cfg)
	})

	if a.persis != nil {
		if err := a.store.Hydrate(a.sup.Context()); err != nil {
			return fmt.Errorf("hydrate subscriptions: %w", err)
		}
	}

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	if a.sched.Enabled() {
		a.sched.Start(a.sup.Context())
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})

	a.observeBus()

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started", logx.Int("subscribers", a.store.Count()))
	return nil
}

// observeBus mirrors internal events into the log. Without it nothing would
// consume the bus in production and tick/dispatch events vanish unseen.
func (a *App) observeBus() {
	if a.bus == nil {
		return
	}
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				// Keep this debug-level: the scheduler and dispatcher
				// publish on every tick and send.
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})
}

func (a *App) applyConfig(ctx context.Context, old, cfg *config.Config) {
	sections := config.ChangedSections(old, cfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.log.Debug("config change summary", logx.String("changed", strings.Join(sections, ",")))

	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	if minCadence, err := config.ParseDurationOrDefault("scheduler.min_cadence", cfg.Scheduler.MinCadence, defaultMinCadence); err == nil {
		a.store.SetMinCadence(minCadence)
	}

	if dispCfg, err := dispatchConfig(cfg); err == nil {
		a.disp.Apply(dispCfg)
	} else {
		a.log.Warn("invalid dispatcher config; keeping previous", logx.Err(err))
	}

	prevEnabled := a.sched.Enabled()
	if schedCfg, err := schedulerConfig(cfg); err == nil {
		a.sched.Apply(schedCfg)
	} else {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	}

	// enable/disable the tick loop on the fly
	if prevEnabled && !cfg.Scheduler.Enabled {
		a.log.Info("scheduler disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.sched.Stop(stopCtx)
		cancel()
	} else if !prevEnabled && cfg.Scheduler.Enabled {
		a.log.Info("scheduler enabled via config")
		a.sched.Start(ctx)
	}

	// Telegram token, scoreboard endpoint, and storage driver changes
	// need a restart to take effect.
	for _, sec := range sections {
		if sec == "telegram" || sec == "scoreboard" || sec == "storage" {
			a.log.Warn("config section changed but requires restart", logx.String("section", sec))
		}
	}

	a.log.Info("config reloaded", logx.String("changed", strings.Join(sections, ",")))
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	// The scheduler goes first so no new deliveries start mid-shutdown.
	step("scheduler", 5*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	if a.persis != nil {
		step("storage", 2*time.Second, func(context.Context) error { return a.persis.Close() })
	}

	a.log.Info("stopped")
	return nil
}

func openStorage(sc *config.StorageConfig, log logx.Logger) (storage.Store, error) {
	if sc == nil {
		return nil, nil
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 0)
	if err != nil {
		return nil, err
	}
	return storage.Open(storage.Config{
		Driver:      sc.Driver,
		Path:        sc.Path,
		BusyTimeout: busy,
	}, log)
}

func schedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	tick, err := config.ParseDurationOrDefault("scheduler.tick_interval", cfg.Scheduler.TickInterval, 0)
	if err != nil {
		return scheduler.Config{}, err
	}
	fetchTimeout, err := config.ParseDurationOrDefault("scheduler.fetch_timeout", cfg.Scheduler.FetchTimeout, 0)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Enabled:      cfg.Scheduler.Enabled,
		TickInterval: tick,
		FetchWorkers: cfg.Scheduler.FetchWorkers,
		FetchTimeout: fetchTimeout,
	}, nil
}

func dispatchConfig(cfg *config.Config) (dispatch.Config, error) {
	sendTimeout, err := config.ParseDurationOrDefault("dispatcher.send_timeout", cfg.Dispatcher.SendTimeout, 0)
	if err != nil {
		return dispatch.Config{}, err
	}
	return dispatch.Config{
		RatePerSec:  cfg.Dispatcher.RatePerSec,
		SendTimeout: sendTimeout,
	}, nil
}

func validate(cfg *config.Config) error {
	if strings.TrimSpace(cfg.Scoreboard.BaseURL) == "" {
		return fmt.Errorf("scoreboard.base_url is required")
	}
	if cfg.Scoreboard.RequestsPerMinute < 0 {
		return fmt.Errorf("scoreboard.requests_per_minute must be >= 0")
	}
	if cfg.Scheduler.FetchWorkers < 0 {
		return fmt.Errorf("scheduler.fetch_workers must be >= 0")
	}
	if cfg.Dispatcher.RatePerSec < 0 {
		return fmt.Errorf("dispatcher.rate_per_sec must be >= 0")
	}
	// duration validation (reject bad hot-reload)
	for _, f := range []struct{ path, raw string }{
		{"telegram.poll_timeout", cfg.Telegram.PollTimeout},
		{"scoreboard.request_timeout", cfg.Scoreboard.RequestTimeout},
		{"scheduler.tick_interval", cfg.Scheduler.TickInterval},
		{"scheduler.min_cadence", cfg.Scheduler.MinCadence},
		{"scheduler.fetch_timeout", cfg.Scheduler.FetchTimeout},
		{"dispatcher.send_timeout", cfg.Dispatcher.SendTimeout},
	} {
		if _, err := config.ParseDurationOrDefault(f.path, f.raw, 0); err != nil {
			return err
		}
	}
	if cfg.Storage != nil {
		if _, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 0); err != nil {
			return err
		}
	}
	return nil
}
