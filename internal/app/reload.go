package app

import (
	"context"
	"strings"
	"time"

	"recruitd/internal/config"
	"recruitd/pkg/logx"
)

// reloadLoop applies hot-reloadable sections (logging, notifier, ops) as the
// config file changes. Other sections only log that a restart is needed.
func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()

	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			// Only the newest pending config matters.
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						cfg = newer
					}
				default:
					drained = true
				}
			}
			a.apply(ctx, last, cfg)
			last = cfg
		}
	}
}

func (a *App) apply(ctx context.Context, prev, next *config.Config) {
	rt, err := next.Resolve()
	if err != nil {
		a.log.Warn("reloaded config invalid; keeping previous", logx.Err(err))
		return
	}
	changed, attrs, restart := config.SummarizeChange(prev, next)
	if len(changed) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if len(restart) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.String("sections", strings.Join(restart, ",")))
	}

	for _, s := range changed {
		switch s {
		case "logging":
			if a.opt.logLevel != "" {
				rt.Logging.Level = a.opt.logLevel
			}
			a.logs.Apply(rt.Logging)
		case "notifier":
			wasOn := a.notif.Enabled()
			a.notif.Apply(rt.Notifier)
			switch {
			case wasOn && !rt.Notifier.Enabled:
				stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				a.notif.Stop(stopCtx)
				cancel()
				a.log.Info("notifier disabled via config")
			case !wasOn && rt.Notifier.Enabled:
				a.notif.Start(ctx)
				a.log.Info("notifier enabled via config")
			}
		case "ops":
			a.ops.Reconfigure(ctx, rt.Ops)
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(changed, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}
