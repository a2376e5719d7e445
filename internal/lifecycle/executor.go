package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"recruitd/internal/domain"
	"recruitd/internal/eventbus"
	"recruitd/internal/task/timer"
	"recruitd/pkg/logx"
)

const (
	// Real timers never fire early, but the wall clock read at execution
	// can trail the monotonic deadline slightly.
	earlyTolerance = time.Second
	saveAttempts   = 3
)

// ScheduleSource is the persistence the executor reads and writes.
type ScheduleSource interface {
	LoadSchedule(ctx context.Context, id int64) (domain.Schedule, error)
	LoadStudiesByScheduleID(ctx context.Context, scheduleID int64) ([]*domain.Study, error)
	LoadStudy(ctx context.Context, id int64) (*domain.Study, error)
	SaveStudy(ctx context.Context, s *domain.Study) error
}

// Executor runs fired timers. Every run re-reads the schedule, so a timer
// that outlived an edit or a delete does nothing.
type Executor struct {
	src     ScheduleSource
	bus     eventbus.Bus
	clock   timer.Clock
	cfg     Config
	log     logx.Logger
	metrics *Metrics
}

func NewExecutor(src ScheduleSource, bus eventbus.Bus, clock timer.Clock, cfg Config, log logx.Logger, metrics *Metrics) *Executor {
	if clock == nil {
		clock = timer.Real()
	}
	return &Executor{
		src:     src,
		bus:     bus,
		clock:   clock,
		cfg:     cfg,
		log:     log.With(logx.String("comp", "lifecycle")),
		metrics: metrics,
	}
}

// Execute handles one fired timer of the given kind.
func (e *Executor) Execute(ctx context.Context, scheduleID int64, kind Kind) error {
	sch, err := e.src.LoadSchedule(ctx, scheduleID)
	if errors.Is(err, domain.ErrNotFound) {
		e.stale(scheduleID, kind, "schedule deleted")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load schedule %d: %w", scheduleID, err)
	}

	now := e.clock.Now()
	due, ok := e.applicable(sch, kind, now)
	if !ok {
		e.stale(scheduleID, kind, "schedule dates changed")
		return nil
	}

	switch kind {
	case KindRecruitmentStarted:
		e.publish(RecruitmentStarted{ScheduleRef: newRef(sch, due), RecruitEndDate: sch.RecruitEndDate})
	case KindRecruitmentEndingSoon:
		e.publish(RecruitmentEndingSoon{ScheduleRef: newRef(sch, due), RecruitEndDate: sch.RecruitEndDate})
	case KindStudyEndingSoon:
		e.publish(StudyEndingSoon{ScheduleRef: newRef(sch, due), StudyEndDate: sch.StudyEndDate})
	case KindRecruitmentClose, KindStudyComplete:
		_, err := e.transition(ctx, sch, kind, now)
		return err
	default:
		return fmt.Errorf("unknown timer kind %q", kind)
	}
	return nil
}

// Converge applies every boundary transition whose instant has passed for
// the schedule. It returns how many studies changed.
func (e *Executor) Converge(ctx context.Context, sch domain.Schedule) (int, error) {
	now := e.clock.Now()
	changed := 0
	if sch.RecruitmentEnded(now) {
		n, err := e.transition(ctx, sch, KindRecruitmentClose, now)
		changed += n
		if err != nil {
			return changed, err
		}
	}
	if sch.StudyEnded(now) {
		n, err := e.transition(ctx, sch, KindStudyComplete, now)
		changed += n
		if err != nil {
			return changed, err
		}
	}
	return changed, nil
}

// applicable reports whether kind is still due for the schedule as stored
// now, and returns the instant it was due at.
func (e *Executor) applicable(sch domain.Schedule, kind Kind, now time.Time) (time.Time, bool) {
	alert := e.cfg.alert()
	var due, until time.Time
	switch kind {
	case KindRecruitmentStarted:
		due, until = sch.RecruitStartDate, sch.RecruitEndDate
	case KindRecruitmentEndingSoon:
		due, until = sch.RecruitEndDate.Add(-alert), sch.RecruitEndDate
	case KindStudyEndingSoon:
		due, until = sch.StudyEndDate.Add(-alert), sch.StudyEndDate
	case KindRecruitmentClose:
		due = sch.RecruitEndDate
	case KindStudyComplete:
		due = sch.StudyEndDate
	default:
		return time.Time{}, true
	}
	if now.Add(earlyTolerance).Before(due) {
		return due, false
	}
	if !until.IsZero() && !now.Before(until) {
		return due, false
	}
	return due, true
}

func (e *Executor) publish(ev Event) {
	ref := ev.Ref()
	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Type: ev.Topic(), Time: e.clock.Now(), Data: ev})
	}
	e.metrics.incPublished(ev.Topic())
	e.log.Info("lifecycle event published",
		logx.String("topic", ev.Topic()),
		logx.ScheduleID(ref.ScheduleID),
		logx.TrackID(ref.TrackID),
		logx.Int("month", int(ref.Month)),
		logx.Time("at", ref.At),
	)
}

// transition closes recruiting studies of the schedule and, for
// KindStudyComplete, completes the ones in progress.
func (e *Executor) transition(ctx context.Context, sch domain.Schedule, kind Kind, now time.Time) (int, error) {
	studies, err := e.src.LoadStudiesByScheduleID(ctx, sch.ID)
	if err != nil {
		return 0, fmt.Errorf("load studies of schedule %d: %w", sch.ID, err)
	}
	changed := 0
	var errs []error
	for _, s := range studies {
		ok, err := e.apply(ctx, s, kind, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("study %d: %w", s.ID, err))
			continue
		}
		if ok {
			changed++
		}
	}
	if changed > 0 {
		e.log.Info("studies transitioned",
			logx.ScheduleID(sch.ID),
			logx.String("kind", string(kind)),
			logx.Int("studies", changed),
		)
	}
	return changed, errors.Join(errs...)
}

// apply transitions one study, re-reading it after a lost optimistic-lock
// race. It reports whether the study changed.
func (e *Executor) apply(ctx context.Context, s *domain.Study, kind Kind, now time.Time) (bool, error) {
	for attempt := 1; ; attempt++ {
		to, changed := step(s, kind, now)
		if !changed {
			return false, nil
		}
		err := e.src.SaveStudy(ctx, s)
		if err == nil {
			e.metrics.incTransition(string(to))
			e.log.Debug("study transitioned",
				logx.StudyID(s.ID),
				logx.String("to", string(to)),
			)
			return true, nil
		}
		if !errors.Is(err, domain.ErrStudyConflict) || attempt >= saveAttempts {
			return false, err
		}
		fresh, lerr := e.src.LoadStudy(ctx, s.ID)
		if errors.Is(lerr, domain.ErrNotFound) {
			return false, nil
		}
		if lerr != nil {
			return false, lerr
		}
		s = fresh
	}
}

func step(s *domain.Study, kind Kind, now time.Time) (domain.Progress, bool) {
	if s.CloseRecruitment(now) {
		return domain.ProgressRecruitingClosed, true
	}
	if kind == KindStudyComplete && s.Progress == domain.ProgressInProgress {
		if err := s.Complete(now); err == nil {
			return domain.ProgressCompleted, true
		}
	}
	return s.Progress, false
}

func (e *Executor) stale(scheduleID int64, kind Kind, why string) {
	e.metrics.incStale(kind)
	e.log.Debug("timer execution skipped",
		logx.ScheduleID(scheduleID),
		logx.String("kind", string(kind)),
		logx.String("reason", why),
	)
}
