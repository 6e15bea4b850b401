// Package app wires the configuration into running services and owns the
// daemon lifecycle: construction, start, hot reload, ordered shutdown.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"feedwatch/internal/budget"
	"feedwatch/internal/config"
	"feedwatch/internal/eventbus"
	"feedwatch/internal/match"
	"feedwatch/internal/notify"
	"feedwatch/internal/observability/pprof"
	"feedwatch/internal/poll"
	"feedwatch/internal/rotation"
	"feedwatch/internal/runtime/supervisor"
	"feedwatch/internal/seen"
	logx "feedwatch/pkg/logx"
)

// StopReason records why the daemon is shutting down; it is logged once.
type StopReason string

const (
	StopSIGINT     StopReason = "sigint"
	StopSIGTERM    StopReason = "sigterm"
	StopFatalError StopReason = "fatal_error"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store   seen.Store
	matcher *match.Set
	tracker *budget.Tracker
	ledger  *rotation.Ledger
	notif   *notify.Service
	runner  *poll.Runner
	pprof   *pprof.Service
	ppcfg   pprof.Config
	jobs    *maintenance
}

// New loads and validates the config, then constructs every component in a
// stopped state. Nothing polls until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	logs, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	scfg, err := mapSeenConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := seen.Open(scfg, log.With(logx.String("comp", "seen")))
	if err != nil {
		return nil, err
	}

	matcher, err := match.New(cfg.Patterns)
	if err != nil {
		return nil, err
	}

	ncfg, err := mapNotifyConfig(cfg)
	if err != nil {
		return nil, err
	}
	sink, err := notify.NewSink(ncfg)
	if err != nil {
		return nil, err
	}
	notif := notify.New(ncfg, sink, log.With(logx.String("comp", "notify")), bus)

	pcfg, err := mapPollConfig(cfg)
	if err != nil {
		return nil, err
	}
	fetchers, err := buildFetchers(cfg)
	if err != nil {
		return nil, err
	}

	tracker := budget.NewTracker()
	ledger := rotation.NewLedger()
	runner := poll.NewRunner(pcfg, fetchers, matcher, notif, store, ledger, tracker, bus,
		log.With(logx.String("comp", "poll")))

	ppc, err := mapPprofConfig(cfg)
	if err != nil {
		return nil, err
	}
	ppsvc := pprof.New(ppc, log.With(logx.String("comp", "pprof")))

	mcfg, err := mapMaintenanceConfig(cfg)
	if err != nil {
		return nil, err
	}
	jobs := newMaintenance(mcfg, store, bus, log.With(logx.String("comp", "maintenance")))

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logs,
		bus:     bus,
		store:   store,
		matcher: matcher,
		tracker: tracker,
		ledger:  ledger,
		notif:   notif,
		runner:  runner,
		pprof:   ppsvc,
		ppcfg:   ppc,
		jobs:    jobs,
	}, nil
}

// Done is closed when the supervisor context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true))

	// Reloads are transactional: the validator runs before commit/publish,
	// so a file that any component would refuse never reaches them.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return CheckConfig(cfg)
	})

	a.pprof.Reconfigure(a.sup.Context(), a.ppcfg)
	a.jobs.Start()

	// The loop owns the store and does its own final save on cancel;
	// GoRestart only brings it back after a panic.
	a.sup.GoRestart("poll.run", a.runner.Run)

	a.startEventLog()
	a.startReloadLoop()
	a.sup.Go("config.watch", a.cfgm.Watch)

	startWatchdog(a.sup, a.log)
	notifyReady(a.log)
	a.log.Info("daemon started",
		logx.Int("sources", a.ledger.Len()),
		logx.Int("patterns", a.matcher.Len()))
	return nil
}

// startEventLog tails the bus at debug level so one stream shows the cycle
// events without each component logging twice.
func (a *App) startEventLog() {
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
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})
}

func (a *App) startReloadLoop() {
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
				// Coalesce bursts; only the newest config is applied.
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
				sections, attrs := config.SummarizeChange(lastApplied, newCfg)
				if len(sections) == 0 {
					lastApplied = newCfg
					a.log.Info("config reloaded (no changes)")
					continue
				}
				if config.StoreRestartRequired(lastApplied, newCfg) {
					a.log.Warn("store driver/path changed; restart required for it to take effect")
				}
				lastApplied = newCfg
				a.applyConfig(c, newCfg)

				fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
				a.log.Info("config reloaded", fields...)
			}
		}
	})
}

// applyConfig pushes a validated config into the running components. A
// mapping failure skips that component and keeps its previous settings.
func (a *App) applyConfig(ctx context.Context, cfg *config.Config) {
	a.logs.Apply(mapLoggingConfig(cfg))

	if err := a.matcher.Apply(cfg.Patterns); err != nil {
		a.log.Warn("invalid patterns; keeping previous", logx.Err(err))
	}

	if ncfg, err := mapNotifyConfig(cfg); err != nil {
		a.log.Warn("invalid notify config; keeping previous", logx.Err(err))
	} else if sink, err := notify.NewSink(ncfg); err != nil {
		a.log.Warn("notify sink rebuild failed; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(ncfg, sink)
	}

	if pcfg, err := mapPollConfig(cfg); err != nil {
		a.log.Warn("invalid budget/fetch config; keeping previous", logx.Err(err))
	} else {
		fetchers, err := buildFetchers(cfg)
		if err != nil {
			// A nil slice keeps the current source set.
			a.log.Warn("source rebuild failed; keeping previous sources", logx.Err(err))
			fetchers = nil
		}
		a.runner.Apply(pcfg, fetchers)
	}

	if ppc, err := mapPprofConfig(cfg); err != nil {
		a.log.Warn("invalid pprof config; keeping previous", logx.Err(err))
	} else {
		a.pprof.Reconfigure(ctx, ppc)
	}

	if mcfg, err := mapMaintenanceConfig(cfg); err != nil {
		a.log.Warn("invalid maintenance config; keeping previous", logx.Err(err))
	} else {
		a.jobs.Apply(mcfg)
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	notifyStopping(a.log)
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel first so the loop finishes its in-flight poll and flushes.
	a.sup.Cancel()

	// step bounds one shutdown phase so a stuck component cannot stall the
	// whole stop. The caller's deadline is respected, never extended.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < max {
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
				logx.Duration("elapsed", time.Since(start)))
			// Observe when, or whether, the step eventually finishes.
			go func() {
				err := <-done
				if err != nil {
					a.log.Warn("stop step finished after deadline",
						logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
					return
				}
				a.log.Info("stop step finished after deadline",
					logx.String("name", name), logx.Duration("took", time.Since(start)))
			}()
		}
	}

	// The poll loop flushes the store as it unwinds; wait for it before
	// touching the store directly. The budget covers an in-flight delivery
	// attempt running to completion (webhook timeout is 10s).
	step("supervisor", 10*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("maintenance", 2*time.Second, func(c context.Context) error { a.jobs.Stop(c); return nil })
	step("pprof", time.Second, func(c context.Context) error { a.pprof.Stop(c); return nil })
	step("store", 2*time.Second, func(c context.Context) error {
		if err := a.store.Save(c); err != nil {
			return err
		}
		return a.store.Close()
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
