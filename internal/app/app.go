// Package app wires storage, the lifecycle scheduler, the notification relay
// and the ops endpoint into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"recruitd/internal/config"
	"recruitd/internal/eventbus"
	"recruitd/internal/lifecycle"
	"recruitd/internal/notifier"
	"recruitd/internal/observability/ops"
	rtsup "recruitd/internal/runtime/supervisor"
	"recruitd/internal/services/schedule"
	"recruitd/internal/services/study"
	"recruitd/internal/storage"
	"recruitd/internal/task/engine"
	"recruitd/internal/task/scheduler"
	"recruitd/internal/task/timer"
	"recruitd/pkg/logx"
)

// StopReason is logged when the app shuts down.
type StopReason string

const (
	StopSignal     StopReason = "signal"
	StopFatalError StopReason = "fatal_error"
	StopAppStop    StopReason = "app_stop"
)

type Option func(*options)

type options struct {
	clock      timer.Clock
	dispatcher notifier.Dispatcher
	sdNotify   bool
	logLevel   string
}

// WithClock replaces the wall clock for every time-dependent component.
func WithClock(c timer.Clock) Option { return func(o *options) { o.clock = c } }

// WithDispatcher sets where notifications go. The default logs them.
func WithDispatcher(d notifier.Dispatcher) Option { return func(o *options) { o.dispatcher = d } }

// WithSystemdNotify toggles sd_notify READY/STOPPING messages (default on;
// a no-op outside systemd).
func WithSystemdNotify(enabled bool) Option { return func(o *options) { o.sdNotify = enabled } }

// WithLogLevel pins the log level over the config file, across reloads.
func WithLogLevel(level string) Option { return func(o *options) { o.logLevel = level } }

type App struct {
	cfgm *config.Manager
	rt   config.Runtime
	sup  *rtsup.Supervisor
	opt  options

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store *storage.Store
	prom  *prometheus.Registry

	engine *engine.Service
	reg    *scheduler.Registry
	cron   *scheduler.Cron
	exec   *lifecycle.Executor
	mgr    *lifecycle.Manager
	rec    *lifecycle.Reconciler
	notif  *notifier.Service
	ops    *ops.Service

	studies   *study.Service
	schedules *schedule.Service
}

func NewApp(cfgPath string, opts ...Option) (*App, error) {
	o := options{clock: timer.Real(), sdNotify: true}
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewManager(cfgPath, logx.NewConsole("info"))
	_, rt, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	if o.logLevel != "" {
		rt.Logging.Level = o.logLevel
	}
	logs, log := logx.New(rt.Logging)
	cfgm.SetLogger(log)

	store, err := storage.Open(rt.Storage, log)
	if err != nil {
		_ = logs.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	prom := prometheus.NewRegistry()
	prom.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	bus := eventbus.New()
	eng := engine.New(rt.Engine, log, bus)
	reg := scheduler.NewRegistry(o.clock, eng, log,
		scheduler.WithMetrics(scheduler.NewMetrics(prom)),
		scheduler.WithTaskTimeout(rt.Engine.DefaultTimeout),
	)
	lm := lifecycle.NewMetrics(prom)
	exec := lifecycle.NewExecutor(store, bus, o.clock, rt.Scheduler.Lifecycle, log, lm)
	mgr := lifecycle.NewManager(reg, exec, rt.Scheduler.Lifecycle, log)
	rec := lifecycle.NewReconciler(store, mgr, exec, o.clock, log, lm)

	disp := o.dispatcher
	if disp == nil {
		disp = notifier.LogDispatcher{Log: log.With(logx.String("comp", "dispatch"))}
	}
	notif := notifier.New(rt.Notifier, disp, log, bus, store)

	a := &App{
		cfgm:      cfgm,
		rt:        rt,
		opt:       o,
		log:       log.With(logx.String("comp", "app")),
		logs:      logs,
		bus:       bus,
		store:     store,
		prom:      prom,
		engine:    eng,
		reg:       reg,
		cron:      scheduler.NewCron(rt.Scheduler.Timezone, eng, log),
		exec:      exec,
		mgr:       mgr,
		rec:       rec,
		notif:     notif,
		studies:   study.New(store, o.clock, rt.Limits, log),
		schedules: schedule.New(store, o.clock, log),
	}
	a.ops = ops.New(rt.Ops, ops.Sources{
		Health:   store.Ping,
		Timers:   reg.Snapshot,
		Crons:    a.cron.Entries,
		Tasks:    eng.Snapshot,
		Gatherer: prom,
	}, log)
	return a, nil
}

// Studies is the study use-case API for an embedding transport layer.
func (a *App) Studies() *study.Service { return a.studies }

// Schedules is the admin schedule API.
func (a *App) Schedules() *schedule.Service { return a.schedules }

func (a *App) Store() *storage.Store { return a.store }

func (a *App) Bus() eventbus.Bus { return a.bus }

// Timers lists the armed lifecycle timers.
func (a *App) Timers() []scheduler.TimerInfo { return a.reg.Snapshot() }

// Done is closed when the app context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the app supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start brings components up in dependency order and reports READY to
// systemd once timers are reconciled.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	c := a.sup.Context()

	a.engine.Start(c)
	a.notif.Start(c)

	if a.rt.Scheduler.Enabled {
		a.store.OnCommit(lifecycle.NewListener(a.mgr, a.exec, a.log).OnScheduleChange)
		res, err := a.rec.Run(c)
		if err != nil {
			return fmt.Errorf("reconcile timers: %w", err)
		}
		if sweep := a.rt.Scheduler.Sweep; sweep != "" && a.rt.Scheduler.Lifecycle.BoundaryTransitions {
			if err := a.cron.Add("boundary.sweep", sweep, time.Minute, func(c context.Context) error {
				_, err := a.rec.Sweep(c)
				return err
			}); err != nil {
				return err
			}
			a.cron.Start()
		}
		a.log.Info("lifecycle scheduler ready",
			logx.Int("schedules", res.Schedules),
			logx.Int("timers", res.Timers),
			logx.Int("alert_days", a.rt.Scheduler.Lifecycle.AlertDays),
			logx.Bool("boundary_transitions", a.rt.Scheduler.Lifecycle.BoundaryTransitions),
		)
	} else {
		a.log.Warn("lifecycle scheduler disabled; no timers armed")
	}

	a.ops.Start(c)

	a.sup.Go0("eventbus.log", a.logEvents)
	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.notify(daemon.SdNotifyReady)
	a.log.Info("app started", logx.String("storage", a.rt.Storage.Path))
	return nil
}

func (a *App) notify(state string) {
	if !a.opt.sdNotify {
		return
	}
	if ok, err := daemon.SdNotify(false, state); err != nil {
		a.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify sent", logx.String("state", state))
	}
}

func (a *App) logEvents(ctx context.Context) {
	events, unsub := a.bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
		}
	}
}

// Stop shuts components down in reverse order. Each step is bounded so a
// stuck component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.closeStore()
	}
	a.notify(daemon.SdNotifyStopping)
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	var errs []error
	a.step(ctx, "ops", time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	a.step(ctx, "cron", 2*time.Second, func(c context.Context) error { a.cron.Stop(c); return nil })
	a.step(ctx, "timers", time.Second, func(context.Context) error {
		n := a.reg.Teardown()
		a.log.Debug("timers torn down", logx.Int("count", n))
		return nil
	})
	a.step(ctx, "taskengine", 2*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	a.step(ctx, "notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error {
		if err := a.sup.Wait(c); err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, err)
		}
		return nil
	})
	if err := a.closeStore(); err != nil {
		errs = append(errs, err)
	}

	a.log.Info("stopped")
	_ = a.logs.Close()
	return errors.Join(errs...)
}

func (a *App) closeStore() error {
	if err := a.store.Close(); err != nil {
		return fmt.Errorf("close storage: %w", err)
	}
	return nil
}

// step runs fn with at most max of the caller's remaining deadline. A step
// that overruns is logged and left behind.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped (deadline passed)", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

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
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
	}
}
