package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"recruitd/internal/domain"
	"recruitd/internal/lifecycle"
	"recruitd/internal/notifier"
	"recruitd/internal/observability/ops"
	"recruitd/internal/storage"
	"recruitd/internal/task/engine"
	"recruitd/internal/task/scheduler"
	"recruitd/pkg/logx"
)

const (
	DefaultStoragePath = "recruitd.db"
	DefaultSweep       = "@every 10m"
)

// Runtime is a Config resolved into the settings each component takes.
type Runtime struct {
	Logging   logx.Config
	Storage   storage.Config
	Scheduler SchedulerRuntime
	Engine    engine.Config
	Notifier  notifier.Config
	Limits    domain.Limits
	Ops       ops.Config
}

type SchedulerRuntime struct {
	Enabled   bool
	Timezone  string
	Lifecycle lifecycle.Config
	// Sweep is empty when the periodic sweep is off.
	Sweep string
}

// Resolve applies defaults, parses durations and validates every section.
// All problems are reported together.
func (c *Config) Resolve() (Runtime, error) {
	if c == nil {
		c = &Config{}
	}
	var errs []error
	dur := func(path, raw string, def time.Duration) time.Duration {
		d, err := ParseDurationOrDefault(path, raw, def)
		if err != nil {
			errs = append(errs, err)
		}
		return d
	}

	var rt Runtime
	rt.Logging = logx.Config{
		Level:   c.Logging.Level,
		Console: c.Logging.Console,
		JSON:    c.Logging.JSON,
		File:    logx.FileConfig{Enabled: c.Logging.File.Enabled, Path: strings.TrimSpace(c.Logging.File.Path)},
	}
	if rt.Logging.File.Enabled && rt.Logging.File.Path == "" {
		errs = append(errs, errors.New("logging.file.path: required when file logging is enabled"))
	}

	driver := strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	if driver == "" {
		driver = "sqlite"
	}
	if driver != "sqlite" {
		errs = append(errs, fmt.Errorf("storage.driver: unsupported %q", c.Storage.Driver))
	}
	path := strings.TrimSpace(c.Storage.Path)
	if path == "" {
		path = DefaultStoragePath
	}
	rt.Storage = storage.Config{Driver: driver, Path: path, BusyTimeout: dur("storage.busy_timeout", c.Storage.BusyTimeout, 5*time.Second)}

	sc := c.Scheduler
	rt.Scheduler = SchedulerRuntime{
		Enabled:  sc.Enabled == nil || *sc.Enabled,
		Timezone: strings.TrimSpace(sc.Timezone),
		Lifecycle: lifecycle.Config{
			AlertDays:           sc.AlertDays,
			BoundaryTransitions: sc.BoundaryTransitions == nil || *sc.BoundaryTransitions,
		},
	}
	if sc.AlertDays < 0 {
		errs = append(errs, errors.New("scheduler.alert_days: must be >= 0"))
	}
	if rt.Scheduler.Lifecycle.AlertDays == 0 {
		rt.Scheduler.Lifecycle.AlertDays = lifecycle.DefaultAlertDays
	}
	if rt.Scheduler.Timezone != "" {
		if _, err := time.LoadLocation(rt.Scheduler.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	switch sweep := strings.TrimSpace(sc.Sweep); strings.ToLower(sweep) {
	case "off", "none", "disabled":
	case "":
		rt.Scheduler.Sweep = DefaultSweep
	default:
		if _, err := scheduler.ParseSchedule(sweep); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.sweep: %w", err))
		}
		rt.Scheduler.Sweep = sweep
	}

	te := c.TaskEngine
	rt.Engine = engine.Config{
		Enabled:        true,
		Workers:        te.Workers,
		QueueSize:      te.QueueSize,
		DefaultTimeout: dur("task_engine.default_timeout", te.DefaultTimeout, 30*time.Second),
		MaxQueueDelay:  dur("task_engine.max_queue_delay", te.MaxQueueDelay, 0),
		HistorySize:    te.HistorySize,
	}

	n := c.Notifier
	if n == nil {
		n = DefaultNotifier()
	}
	rt.Notifier = notifier.Config{
		Enabled:         n.Enabled,
		Workers:         n.Workers,
		QueueSize:       n.QueueSize,
		RatePerSec:      n.RatePerSec,
		RetryMax:        n.RetryMax,
		RetryBase:       dur("notifier.retry_base", n.RetryBase, 500*time.Millisecond),
		RetryMaxDelay:   dur("notifier.retry_max_delay", n.RetryMaxDelay, 10*time.Second),
		DedupWindow:     dur("notifier.dedup_window", n.DedupWindow, 0),
		DedupMaxEntries: n.DedupMaxEntries,
		PersistDedup:    n.PersistDedup,
	}
	if n.RetryMax < 0 {
		errs = append(errs, errors.New("notifier.retry_max: must be >= 0"))
	}

	rt.Limits = domain.DefaultLimits()
	if v := c.Study.MinCapacity; v != 0 {
		rt.Limits.MinCapacity = v
	}
	if v := c.Study.MaxCapacity; v != 0 {
		rt.Limits.MaxCapacity = v
	}
	if v := c.Study.MinStartMembers; v != 0 {
		rt.Limits.MinStartMembers = v
	}
	if v := c.Study.MaxActivePerMonth; v != 0 {
		rt.Limits.MaxActivePerMonth = v
	}
	if err := rt.Limits.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("study: %w", err))
	}

	o := c.Ops
	rt.Ops = ops.Config{
		Enabled:       o.Enabled,
		Addr:          strings.TrimSpace(o.Addr),
		Token:         strings.TrimSpace(o.Token),
		AllowInsecure: o.AllowInsecure,
		Metrics:       o.Metrics,
		Pprof:         o.Pprof,
		ReadTimeout:   dur("ops.read_timeout", o.ReadTimeout, 10*time.Second),
		// 0 keeps /debug/pprof/profile usable.
		WriteTimeout: dur("ops.write_timeout", o.WriteTimeout, 0),
		IdleTimeout:  dur("ops.idle_timeout", o.IdleTimeout, 60*time.Second),
	}

	return rt, errors.Join(errs...)
}

// DefaultNotifier is the notifier section used when the file omits it.
func DefaultNotifier() *NotifierConfig {
	return &NotifierConfig{
		Enabled:         true,
		Workers:         2,
		QueueSize:       512,
		RatePerSec:      5,
		RetryMax:        3,
		RetryBase:       "500ms",
		RetryMaxDelay:   "10s",
		DedupWindow:     "1h",
		DedupMaxEntries: 2000,
	}
}

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault returns def for an empty or zero value.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
