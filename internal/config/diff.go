package config

import (
	"reflect"
	"sort"
	"strings"

	"recruitd/pkg/logx"
)

// restartSections are applied only at startup.
var restartSections = map[string]bool{
	"storage":     true,
	"scheduler":   true,
	"task_engine": true,
	"study":       true,
}

// SummarizeChange lists the changed sections, log-safe attrs describing
// them (tokens are reported only as set/unset) and the subset of sections
// that need a restart to take effect.
func SummarizeChange(oldCfg, newCfg *Config) (changed []string, attrs []logx.Field, restart []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if strings.TrimSpace(oldCfg.Storage.Driver) != strings.TrimSpace(newCfg.Storage.Driver) ||
		strings.TrimSpace(oldCfg.Storage.Path) != strings.TrimSpace(newCfg.Storage.Path) ||
		strings.TrimSpace(oldCfg.Storage.BusyTimeout) != strings.TrimSpace(newCfg.Storage.BusyTimeout) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.String("storage.path", strings.TrimSpace(newCfg.Storage.Path)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		sc := newCfg.Scheduler
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", sc.Enabled == nil || *sc.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(sc.Timezone)),
			logx.Int("scheduler.alert_days", sc.AlertDays),
			logx.Bool("scheduler.boundary_transitions", sc.BoundaryTransitions == nil || *sc.BoundaryTransitions),
			logx.String("scheduler.sweep", strings.TrimSpace(sc.Sweep)),
		)
	}

	if oldCfg.TaskEngine != newCfg.TaskEngine {
		changed = append(changed, "task_engine")
		te := newCfg.TaskEngine
		attrs = append(attrs,
			logx.Int("task_engine.workers", te.Workers),
			logx.Int("task_engine.queue_size", te.QueueSize),
			logx.String("task_engine.default_timeout", strings.TrimSpace(te.DefaultTimeout)),
		)
	}

	// A nil section means the runtime defaults.
	oldN, newN := oldCfg.Notifier, newCfg.Notifier
	if oldN == nil {
		oldN = DefaultNotifier()
	}
	if newN == nil {
		newN = DefaultNotifier()
	}
	if *oldN != *newN {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.enabled", newN.Enabled),
			logx.Int("notifier.rate_per_sec", newN.RatePerSec),
			logx.Int("notifier.retry_max", newN.RetryMax),
			logx.String("notifier.dedup_window", strings.TrimSpace(newN.DedupWindow)),
			logx.Bool("notifier.persist_dedup", newN.PersistDedup),
		)
	}

	if oldCfg.Study != newCfg.Study {
		changed = append(changed, "study")
		attrs = append(attrs,
			logx.Int("study.min_capacity", newCfg.Study.MinCapacity),
			logx.Int("study.max_capacity", newCfg.Study.MaxCapacity),
			logx.Int("study.max_active_per_month", newCfg.Study.MaxActivePerMonth),
		)
	}

	if opsChanged(oldCfg.Ops, newCfg.Ops) {
		changed = append(changed, "ops")
		attrs = append(attrs,
			logx.Bool("ops.enabled", newCfg.Ops.Enabled),
			logx.String("ops.addr", strings.TrimSpace(newCfg.Ops.Addr)),
			logx.Bool("ops.token_set", strings.TrimSpace(newCfg.Ops.Token) != ""),
			logx.Bool("ops.metrics", newCfg.Ops.Metrics),
			logx.Bool("ops.pprof", newCfg.Ops.Pprof),
		)
	}

	sort.Strings(changed)
	for _, s := range changed {
		if restartSections[s] {
			restart = append(restart, s)
		}
	}
	return changed, attrs, restart
}

func opsChanged(a, b OpsConfig) bool {
	ta, tb := strings.TrimSpace(a.Token), strings.TrimSpace(b.Token)
	a.Token, b.Token = "", ""
	return a != b || ta != tb
}
