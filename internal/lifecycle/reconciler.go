package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"recruitd/internal/domain"
	"recruitd/internal/task/timer"
	"recruitd/pkg/logx"
)

const defaultPageSize = 200

// ReconcileSource lists schedules for reconciliation.
type ReconcileSource interface {
	FindSchedulesWithFutureStudyEnd(ctx context.Context, now time.Time, afterID int64, limit int) ([]domain.Schedule, error)
	FindSchedulesWithOverdueStudies(ctx context.Context, now time.Time) ([]domain.Schedule, error)
}

// ReconcileResult summarises one reconciliation pass.
type ReconcileResult struct {
	Schedules int `json:"schedules"`
	Timers    int `json:"timers"`
	CaughtUp  int `json:"caught_up"`
	Failed    int `json:"failed"`
}

// Reconciler rebuilds in-memory timers from storage.
type Reconciler struct {
	src      ReconcileSource
	mgr      *Manager
	exec     *Executor
	clock    timer.Clock
	log      logx.Logger
	metrics  *Metrics
	pageSize int
}

func NewReconciler(src ReconcileSource, mgr *Manager, exec *Executor, clock timer.Clock, log logx.Logger, metrics *Metrics) *Reconciler {
	if clock == nil {
		clock = timer.Real()
	}
	return &Reconciler{
		src:      src,
		mgr:      mgr,
		exec:     exec,
		clock:    clock,
		log:      log.With(logx.String("comp", "reconciler")),
		metrics:  metrics,
		pageSize: defaultPageSize,
	}
}

// Run registers every schedule whose study has not ended yet and, when
// boundary transitions are enabled, converges studies whose boundaries
// passed while the process was down. Per-schedule failures are logged and
// counted; only listing failures abort the pass.
func (r *Reconciler) Run(ctx context.Context) (ReconcileResult, error) {
	var res ReconcileResult
	now := r.clock.Now()

	var after int64
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		page, err := r.src.FindSchedulesWithFutureStudyEnd(ctx, now, after, r.pageSize)
		if err != nil {
			return res, fmt.Errorf("list schedules: %w", err)
		}
		if len(page) == 0 {
			break
		}
		for _, sch := range page {
			n, err := r.mgr.Register(sch)
			if err != nil {
				res.Failed++
				r.log.Error("schedule registration failed", logx.ScheduleID(sch.ID), logx.Err(err))
				continue
			}
			res.Schedules++
			res.Timers += n
		}
		after = page[len(page)-1].ID
		if len(page) < r.pageSize {
			break
		}
	}

	if r.mgr.Config().BoundaryTransitions {
		n, err := r.Sweep(ctx)
		res.CaughtUp = n
		if err != nil {
			r.log.Error("catch-up transitions failed", logx.Err(err))
		}
	}

	r.log.Info("timers reconciled",
		logx.Int("schedules", res.Schedules),
		logx.Int("timers", res.Timers),
		logx.Int("caught_up", res.CaughtUp),
		logx.Int("failed", res.Failed),
	)
	return res, nil
}

// Sweep converges every schedule with studies left behind by a missed
// boundary. It is safe to run at any time; it returns how many schedules had
// studies change.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	list, err := r.src.FindSchedulesWithOverdueStudies(ctx, r.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("list overdue schedules: %w", err)
	}
	caught := 0
	var errs []error
	for _, sch := range list {
		n, err := r.exec.Converge(ctx, sch)
		if err != nil {
			errs = append(errs, fmt.Errorf("schedule %d: %w", sch.ID, err))
		}
		if n > 0 {
			caught++
			r.metrics.incCaughtUp()
			r.log.Info("schedule converged", logx.ScheduleID(sch.ID), logx.Int("studies", n))
		}
	}
	return caught, errors.Join(errs...)
}
