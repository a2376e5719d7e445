// Package schedule is the application boundary for schedule administration.
// Every mutation validates the schedule against its siblings inside the
// transaction that writes it; the lifecycle listener picks the change up
// after commit.
package schedule

import (
	"context"
	"fmt"

	"recruitd/internal/domain"
	"recruitd/internal/storage"
	"recruitd/internal/task/timer"
	"recruitd/pkg/logx"
)

type Service struct {
	store *storage.Store
	clock timer.Clock
	log   logx.Logger
}

func New(store *storage.Store, clock timer.Clock, log logx.Logger) *Service {
	if clock == nil {
		clock = timer.Real()
	}
	return &Service{store: store, clock: clock, log: log.With(logx.String("comp", "schedule"))}
}

func (s *Service) Get(ctx context.Context, id int64) (domain.Schedule, error) {
	return s.store.LoadSchedule(ctx, id)
}

func (s *Service) ListByTrack(ctx context.Context, trackID int64) ([]domain.Schedule, error) {
	return s.store.SchedulesByTrack(ctx, trackID)
}

// Create stores a new schedule for its track and month.
func (s *Service) Create(ctx context.Context, actor domain.Actor, sch domain.Schedule) (domain.Schedule, error) {
	sch.ID = 0
	err := requireAdmin(actor)
	if err == nil {
		err = s.store.WithTx(ctx, func(tx *storage.Tx) error {
			if _, err := tx.LoadTrack(ctx, sch.TrackID); err != nil {
				return err
			}
			siblings, err := tx.SchedulesByTrack(ctx, sch.TrackID)
			if err != nil {
				return err
			}
			if err := sch.ValidateAgainstSiblings(siblings); err != nil {
				return err
			}
			return tx.CreateSchedule(ctx, &sch)
		})
	}
	s.audit(ctx, actor, "schedule.create", fmt.Sprintf("track:%d month:%d", sch.TrackID, sch.Month), err)
	if err != nil {
		return domain.Schedule{}, err
	}
	s.log.Info("schedule created",
		logx.ScheduleID(sch.ID),
		logx.TrackID(sch.TrackID),
		logx.Int("month", int(sch.Month)),
	)
	return sch, nil
}

// Update replaces the schedule's dates. Track and month are fixed once
// created; zero values in sch keep the stored ones.
func (s *Service) Update(ctx context.Context, actor domain.Actor, sch domain.Schedule) (domain.Schedule, error) {
	err := requireAdmin(actor)
	if err == nil {
		err = s.store.WithTx(ctx, func(tx *storage.Tx) error {
			cur, err := tx.LoadSchedule(ctx, sch.ID)
			if err != nil {
				return err
			}
			if sch.TrackID == 0 {
				sch.TrackID = cur.TrackID
			}
			if sch.Month == 0 {
				sch.Month = cur.Month
			}
			if sch.TrackID != cur.TrackID || sch.Month != cur.Month {
				return domain.ErrScheduleTrackImmutable
			}
			siblings, err := tx.SchedulesByTrack(ctx, sch.TrackID)
			if err != nil {
				return err
			}
			if err := sch.ValidateAgainstSiblings(siblings); err != nil {
				return err
			}
			return tx.UpdateSchedule(ctx, sch)
		})
	}
	s.audit(ctx, actor, "schedule.update", fmt.Sprintf("schedule:%d", sch.ID), err)
	if err != nil {
		return domain.Schedule{}, err
	}
	s.log.Info("schedule updated", logx.ScheduleID(sch.ID))
	return sch, nil
}

// Delete removes a schedule no study references.
func (s *Service) Delete(ctx context.Context, actor domain.Actor, id int64) error {
	err := requireAdmin(actor)
	if err == nil {
		err = s.store.WithTx(ctx, func(tx *storage.Tx) error {
			n, err := tx.CountStudiesBySchedule(ctx, id)
			if err != nil {
				return err
			}
			if n > 0 {
				return domain.ErrScheduleInUse
			}
			return tx.DeleteSchedule(ctx, id)
		})
	}
	s.audit(ctx, actor, "schedule.delete", fmt.Sprintf("schedule:%d", id), err)
	if err == nil {
		s.log.Info("schedule deleted", logx.ScheduleID(id))
	}
	return err
}

func requireAdmin(actor domain.Actor) error {
	if !actor.Admin {
		return domain.ErrAdminOnly
	}
	return nil
}

func (s *Service) audit(ctx context.Context, actor domain.Actor, action, target string, err error) {
	e := storage.AuditEntry{At: s.clock.Now(), ActorID: actor.UserID, Action: action, Target: target, OK: err == nil}
	if err != nil {
		e.Error = err.Error()
	}
	if aerr := s.store.AppendAudit(ctx, e); aerr != nil {
		s.log.Warn("audit append failed", logx.String("action", action), logx.Err(aerr))
	}
}
