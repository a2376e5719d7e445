package lifecycle

import (
	"context"
	"time"

	"recruitd/internal/storage"
	"recruitd/pkg/logx"
)

const catchUpTimeout = 10 * time.Second

// Listener keeps registry timers in step with committed schedule changes.
// Attach it with storage.Store.OnCommit(l.OnScheduleChange).
type Listener struct {
	mgr  *Manager
	exec *Executor
	log  logx.Logger
}

// NewListener returns a listener for mgr. When exec is set and boundary
// transitions are on, an update that moves a boundary into the past is
// applied to the studies at once instead of waiting for the sweep.
func NewListener(mgr *Manager, exec *Executor, log logx.Logger) *Listener {
	return &Listener{mgr: mgr, exec: exec, log: log.With(logx.String("comp", "lifecycle"))}
}

// OnScheduleChange re-registers or cancels the changed schedule's timers.
// Failures are logged; the change is already committed.
func (l *Listener) OnScheduleChange(c storage.ScheduleChange) {
	s := c.Schedule
	switch c.Op {
	case storage.ChangeCreate, storage.ChangeUpdate:
		if _, err := l.mgr.Register(s); err != nil {
			l.log.Error("schedule timer registration failed",
				logx.ScheduleID(s.ID),
				logx.String("op", string(c.Op)),
				logx.Err(err),
			)
		}
		if c.Op == storage.ChangeUpdate {
			l.catchUp(c)
		}
	case storage.ChangeDelete:
		l.mgr.CancelSchedule(s.ID)
	default:
		l.log.Warn("unknown schedule change", logx.String("op", string(c.Op)), logx.ScheduleID(s.ID))
	}
}

func (l *Listener) catchUp(c storage.ScheduleChange) {
	if l.exec == nil || !l.mgr.Config().BoundaryTransitions {
		return
	}
	now := l.exec.clock.Now()
	if !c.Schedule.RecruitmentEnded(now) && !c.Schedule.StudyEnded(now) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), catchUpTimeout)
	defer cancel()
	n, err := l.exec.Converge(ctx, c.Schedule)
	if err != nil {
		l.log.Error("schedule catch-up failed", logx.ScheduleID(c.Schedule.ID), logx.Err(err))
		return
	}
	if n > 0 {
		l.log.Info("schedule edit applied past boundaries", logx.ScheduleID(c.Schedule.ID), logx.Int("studies", n))
	}
}
