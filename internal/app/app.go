// Package app wires config, storage, adapters, the sync engine, the
// scheduler and metrics into one daemon.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ingestd/internal/clock"
	"ingestd/internal/config"
	"ingestd/internal/eventbus"
	"ingestd/internal/ingest/engine"
	"ingestd/internal/ingest/registry"
	"ingestd/internal/ingest/scheduler"
	"ingestd/internal/metrics"
	"ingestd/internal/runtime/supervisor"
	"ingestd/internal/source"
	"ingestd/internal/storage"
	"ingestd/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	exec    *engine.Executor
	sched   *scheduler.Service
	metrics *metrics.Collectors
	server  *metrics.Server

	mu      sync.Mutex
	applied *config.Config
}

type options struct {
	clock    clock.Clock
	adapters engine.Adapters
	newID    func() string
}

type Option func(*options)

// WithClock replaces the wall clock used by the engine and scheduler.
func WithClock(c clock.Clock) Option { return func(o *options) { o.clock = c } }

// WithAdapters replaces the adapters built from the sources section.
func WithAdapters(a engine.Adapters) Option { return func(o *options) { o.adapters = a } }

// WithIDs replaces the result id generator.
func WithIDs(fn func() string) Option { return func(o *options) { o.newID = fn } }

// New loads cfgPath and builds every component. Nothing runs until Start;
// the scheduler and admin operations are usable right away.
func New(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = clock.Real()
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(cfg.LogxConfig())
	cfgm.SetLogger(log)
	log = log.With(logx.String("comp", "app"))

	a := &App{cfgm: cfgm, log: log, logs: logSvc, bus: eventbus.New(), applied: cfg}
	if err := a.build(cfg, o, log); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config, o options, log logx.Logger) error {
	sc, err := cfg.StorageConfig()
	if err != nil {
		return err
	}
	a.store, err = storage.Open(sc, log)
	if err != nil {
		return err
	}

	var sink engine.ResultSink
	if a.store != nil {
		sink = a.store
	}
	hist := engine.NewHistory(cfg.Scheduler.HistorySize, sink, log.With(logx.String("comp", "history")))
	if a.store != nil {
		size := cfg.Scheduler.HistorySize
		if size <= 0 {
			size = engine.DefaultHistorySize
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		past, err := a.store.RecentResults(ctx, size)
		cancel()
		if err != nil {
			log.Warn("history seed failed", logx.Err(err))
		} else {
			hist.Seed(past)
			log.Info("history seeded", logx.Int("results", len(past)), logx.String("driver", sc.Driver))
		}
	}

	rc, err := cfg.RetryController()
	if err != nil {
		return err
	}
	adapters := o.adapters
	if adapters == nil {
		settings, err := cfg.SourceSettings()
		if err != nil {
			return err
		}
		adapters = source.Build(settings)
	}

	a.exec = engine.NewExecutor(engine.Config{
		Clock:    o.clock,
		Registry: registry.New(),
		Adapters: adapters,
		History:  hist,
		Retry:    rc,
		Bus:      a.bus,
		Log:      log,
		NewID:    o.newID,
	})
	a.sched = scheduler.New(scheduler.Config{Timezone: cfg.Scheduler.Timezone}, a.exec, o.clock, log, a.bus)

	defs, err := cfg.JobDefs()
	if err != nil {
		return err
	}
	for _, j := range defs {
		if err := a.sched.RegisterJob(j); err != nil {
			return fmt.Errorf("register %s: %w", j.ID, err)
		}
	}

	a.metrics = metrics.NewCollectors()
	a.metrics.WatchBus(a.bus)
	a.server = metrics.NewServer(serverConfig(cfg), a.metrics.Handler(), log)
	return nil
}

func serverConfig(cfg *config.Config) metrics.ServerConfig {
	return metrics.ServerConfig{
		Enabled: cfg.Metrics.Enabled,
		Addr:    cfg.Metrics.Addr,
		Path:    cfg.Metrics.Path,
		Pprof:   cfg.Metrics.Pprof,
	}
}

func (a *App) Scheduler() *scheduler.Service { return a.sched }

func (a *App) Metrics() *metrics.Collectors { return a.metrics }

func (a *App) Bus() eventbus.Bus { return a.bus }

func (a *App) Logger() logx.Logger { return a.log }

// Config returns the last applied config. Callers must not modify it.
func (a *App) Config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.applied
}

// Done is closed once the app context is cancelled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error of a supervised loop.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start arms the scheduler (when scheduler.enabled) and launches the
// metrics consumer, the metrics listener and config hot reload.
func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return errors.New("app already started")
	}
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true),
	)
	run := a.sup.Context()
	cfg := a.Config()

	a.sup.GoRestart("metrics.collect", func(c context.Context) error {
		return a.metrics.Run(c, a.bus)
	}, supervisor.RestartPolicy{})
	a.server.Start(run)

	if cfg.Scheduler.Enabled {
		a.sched.Start()
	} else {
		a.log.Info("scheduler disabled; only manual triggers run")
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return nil
			case next, ok := <-sub:
				if !ok {
					return nil
				}
				a.applyConfig(c, next)
			}
		}
	})
	a.sup.GoRestart("config.watch", a.cfgm.Watch, supervisor.RestartPolicy{MinBackoff: time.Second})

	a.log.Info("app started", logx.Int("jobs", len(a.sched.ListJobs())), logx.String("config", a.cfgm.Path()))
	return nil
}

// Run starts the app and blocks until ctx is done or a supervised loop
// fails, then stops within grace.
func (a *App) Run(ctx context.Context, grace time.Duration) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
	case <-a.Done():
	}
	fatal := a.Err()
	stopCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := a.Stop(stopCtx); err != nil && fatal == nil {
		return err
	}
	return fatal
}

// Stop halts new scheduled runs, waits for in-flight attempts, then closes
// the listener, supervised loops and storage. Pending retries are dropped
// with the process.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("stopping")
	a.sched.Stop()

	var errs []error
	if err := a.sched.Wait(ctx); err != nil {
		a.log.Warn("in-flight syncs still running at shutdown", logx.Strings("running", a.exec.Guard().Running()), logx.Err(err))
		errs = append(errs, fmt.Errorf("wait for syncs: %w", err))
	}
	a.server.Stop(ctx)
	if a.sup != nil {
		if err := a.sup.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, err)
		}
	}
	a.log.Info("stopped")
	if err := a.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Close releases storage and log sinks. Stop calls it; one-shot commands
// that never Start call it directly.
func (a *App) Close() error {
	var err error
	if a.store != nil {
		err = a.store.Close()
		a.store = nil
	}
	if a.logs != nil {
		_ = a.logs.Close()
		a.logs = nil
	}
	return err
}
