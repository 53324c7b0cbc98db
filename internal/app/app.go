// Package app wires config, logging, the run journal, the striped scheduler,
// the trigger service and the status API into the daemon.
package app

import (
	"context"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"stripesd/internal/config"
	"stripesd/internal/eventbus"
	"stripesd/internal/observability/status"
	"stripesd/internal/runtime/supervisor"
	"stripesd/internal/storage"
	"stripesd/internal/task/striped"
	"stripesd/internal/trigger"
	logx "stripesd/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	sched  *striped.Scheduler
	trig   *trigger.Service
	status *status.Service
}

// New loads the config and builds every component without starting them.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		_ = logSvc.Close()
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			_ = logSvc.Close()
			return nil, err
		}
		store = st
		log.Info("run journal enabled", logx.String("driver", sc.Driver))
	}

	scfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	sched := striped.New(scfg, log.With(logx.String("comp", "striped")), bus)
	trig := trigger.New(trigger.Config{Timezone: cfg.Scheduler.Timezone}, sched, log)

	defs, err := mapTriggerDefs(cfg)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	if err := trig.Replace(defs); err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	if _, err := mapHTTPConfig(cfg); err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	deps := status.Deps{
		Scheduler:     sched,
		Triggers:      trig,
		Workers:       sched.Supervisor().Snapshot,
		EventsDropped: bus.Dropped,
	}
	if store != nil {
		deps.Runs = store
	}

	return &App{
		cfgm:   cfgm,
		log:    log.With(logx.String("comp", "app")),
		logs:   logSvc,
		bus:    bus,
		store:  store,
		sched:  sched,
		trig:   trig,
		status: status.New(deps, log.With(logx.String("comp", "status"))),
	}, nil
}

// Scheduler exposes the scheduler for embedding callers that submit work directly.
func (a *App) Scheduler() *striped.Scheduler { return a.sched }

func (a *App) Triggers() *trigger.Service { return a.trig }

func (a *App) Store() storage.Store { return a.store }

// StatusAddr is the bound address of the status API, or "" when it is off.
func (a *App) StatusAddr() string { return a.status.Addr() }

func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))

	if a.store != nil {
		rec := newRecorder(a.store, a.log.With(logx.String("comp", "recorder")), a.bus.Dropped)
		events, unsub := rec.subscribe(a.bus)
		a.sup.Go("journal.recorder", func(c context.Context) error {
			defer unsub()
			rec.run(c, events)
			return nil
		})
	}

	a.trig.Start()
	if hc, err := mapHTTPConfig(a.cfgm.Get()); err == nil {
		a.status.Reconfigure(a.sup.Context(), hc)
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})
	a.sup.GoRestart("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	}, supervisor.WithRestartBackoff(time.Second, 30*time.Second))

	sdNotify(a.notifyEnabled(), a.log, daemon.SdNotifyReady)
	snap := a.sched.Snapshot()
	a.log.Info("app started",
		logx.String("scheduler", snap.Name),
		logx.Int("max_workers", snap.MaxWorkers),
		logx.Int("triggers", len(a.trig.Schedules())),
	)
	return nil
}

// runContext is the app lifetime context, or Background before Start.
func (a *App) runContext() context.Context {
	if a.sup == nil {
		return context.Background()
	}
	return a.sup.Context()
}

func (a *App) notifyEnabled() bool {
	cfg := a.cfgm.Get()
	return cfg != nil && cfg.Systemd.Notify
}

// reloadLoop applies each published config, coalescing bursts to the newest.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(last, next)
			last = next
		}
	}
}

func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	change := config.Summarize(oldCfg, newCfg)
	if change.Empty() {
		a.log.Info("config reloaded (no changes)")
		return
	}
	sdNotify(a.notifyEnabled(), a.log, daemon.SdNotifyReloading)
	defer sdNotify(a.notifyEnabled(), a.log, daemon.SdNotifyReady)

	if change.Logging {
		a.logs.Apply(mapLoggingConfig(newCfg))
	}
	if change.Scheduler {
		if scfg, err := mapSchedulerConfig(newCfg); err != nil {
			a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
		} else {
			a.sched.SetMaxWorkers(scfg.MaxWorkers)
			a.sched.SetPollTimeout(scfg.PollTimeout)
		}
		a.trig.Apply(trigger.Config{Timezone: newCfg.Scheduler.Timezone})
		if strings.TrimSpace(oldCfg.Scheduler.Name) != strings.TrimSpace(newCfg.Scheduler.Name) ||
			oldCfg.Scheduler.HistorySize != newCfg.Scheduler.HistorySize {
			a.log.Warn("scheduler name/history_size changed; restart required for changes to take effect")
		}
	}
	if change.Triggers {
		if defs, err := mapTriggerDefs(newCfg); err != nil {
			a.log.Warn("invalid triggers; keeping previous", logx.Err(err))
		} else if err := a.trig.Replace(defs); err != nil {
			a.log.Warn("some triggers were rejected", logx.Err(err))
		}
	}
	if change.HTTP {
		if hc, err := mapHTTPConfig(newCfg); err != nil {
			a.log.Warn("invalid http config; keeping previous", logx.Err(err))
		} else {
			a.status.Reconfigure(a.runContext(), hc)
		}
	}
	if change.Storage {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(change.Sections, ","))}, change.Fields...)
	a.log.Info("config reloaded", fields...)
}

// Stop shuts components down in dependency order: status API, triggers,
// scheduler, supervised loops, then the journal.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sdNotify(a.notifyEnabled(), a.log, daemon.SdNotifyStopping)

	var firstErr error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step failed", logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
			if firstErr == nil {
				firstErr = err
			}
			return
		}
		a.log.Debug("stop step done", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("http", 2*time.Second, func(c context.Context) error { a.status.Stop(c); return nil })
	step("triggers", 2*time.Second, func(c context.Context) error { a.trig.Stop(c); return nil })
	step("scheduler", shutdownTimeout(a.cfgm.Get()), a.sched.Shutdown)

	// The recorder drains events published by the scheduler shutdown before exit.
	a.sup.Cancel()
	step("supervisor", 2*time.Second, a.sup.Wait)
	if n := a.bus.Dropped(); n > 0 {
		a.log.Warn("event bus dropped events during this run", logx.Uint64("dropped_total", n))
	}
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return firstErr
}
