package study

import (
	"context"
	"errors"
	"fmt"
	"time"

	"recruitd/internal/domain"
	"recruitd/internal/storage"
	"recruitd/internal/task/timer"
	"recruitd/pkg/logx"
)

type Service struct {
	store  *storage.Store
	clock  timer.Clock
	limits domain.Limits
	log    logx.Logger
}

func New(store *storage.Store, clock timer.Clock, limits domain.Limits, log logx.Logger) *Service {
	if clock == nil {
		clock = timer.Real()
	}
	return &Service{store: store, clock: clock, limits: limits, log: log.With(logx.String("comp", "study"))}
}

func (s *Service) Limits() domain.Limits { return s.limits }

// Get returns a study with its tags.
func (s *Service) Get(ctx context.Context, id int64) (*domain.Study, error) {
	return s.store.LoadStudy(ctx, id)
}

// Members lists the study's recruitments, leader first.
func (s *Service) Members(ctx context.Context, id int64) ([]domain.Recruitment, error) {
	return s.store.ListRecruitments(ctx, id)
}

// Create opens a recruiting study on the schedule with the actor as leader.
func (s *Service) Create(ctx context.Context, actor domain.Actor, scheduleID int64, info domain.StudyInfo) (*domain.Study, error) {
	info, err := info.Normalize(s.limits)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()

	var st *domain.Study
	err = s.store.WithTx(ctx, func(tx *storage.Tx) error {
		sch, err := tx.LoadSchedule(ctx, scheduleID)
		if err != nil {
			return err
		}
		if err := s.checkMember(ctx, tx, actor.UserID, sch, now); err != nil {
			return err
		}
		if sch.RecruitmentEnded(now) {
			return domain.ErrStudyAlreadyFinishToRecruit
		}

		st = domain.NewStudy(actor.UserID, sch, info, now)
		if err := tx.InsertStudy(ctx, st); err != nil {
			return err
		}
		return tx.InsertRecruitment(ctx, &domain.Recruitment{
			StudyID:   st.ID,
			UserID:    actor.UserID,
			Status:    domain.RecruitmentActive,
			Leader:    true,
			CreatedAt: now,
		})
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("study created",
		logx.StudyID(st.ID),
		logx.ScheduleID(scheduleID),
		logx.Int64("leader_id", actor.UserID),
	)
	return st, nil
}

// Participate joins the actor to a recruiting study. Joining counts toward
// capacity immediately.
func (s *Service) Participate(ctx context.Context, actor domain.Actor, studyID int64) error {
	now := s.clock.Now()
	err := s.store.WithTx(ctx, func(tx *storage.Tx) error {
		st, err := tx.LoadStudy(ctx, studyID)
		if err != nil {
			return err
		}
		sch, err := tx.LoadSchedule(ctx, st.ScheduleID)
		if err != nil {
			return err
		}
		if _, err := tx.ActiveRecruitment(ctx, studyID, actor.UserID); err == nil {
			return domain.ErrAlreadyApplied
		} else if !errors.Is(err, domain.ErrNotApplied) {
			return err
		}
		if err := s.checkMember(ctx, tx, actor.UserID, sch, now); err != nil {
			return err
		}
		if err := st.CheckParticipate(now, sch); err != nil {
			return err
		}
		if err := s.addMember(ctx, tx, st, now, domain.ProgressRecruiting); err != nil {
			return err
		}
		return tx.InsertRecruitment(ctx, &domain.Recruitment{
			StudyID: studyID, UserID: actor.UserID, Status: domain.RecruitmentActive, CreatedAt: now,
		})
	})
	if err != nil {
		return err
	}
	s.log.Debug("study joined", logx.StudyID(studyID), logx.UserID(actor.UserID))
	return nil
}

// ForceJoin adds userID to the study on an administrator's behalf. The user
// must still be enrolled in the study's track and not graduated. It skips the
// current-month and monthly-limit guards, honours capacity, and works after
// recruitment closed.
func (s *Service) ForceJoin(ctx context.Context, actor domain.Actor, studyID, userID int64) error {
	err := s.admin(actor)
	if err == nil {
		now := s.clock.Now()
		err = s.store.WithTx(ctx, func(tx *storage.Tx) error {
			st, err := tx.LoadStudy(ctx, studyID)
			if err != nil {
				return err
			}
			if err := st.CheckForceJoin(); err != nil {
				return err
			}
			if _, err := s.checkTrack(ctx, tx, userID, st.TrackID, now); err != nil {
				return err
			}
			if err := s.addMember(ctx, tx, st, now, domain.ProgressRecruiting, domain.ProgressRecruitingClosed); err != nil {
				return err
			}
			return tx.InsertRecruitment(ctx, &domain.Recruitment{
				StudyID: studyID, UserID: userID, Status: domain.RecruitmentActive, CreatedAt: now,
			})
		})
	}
	s.audit(ctx, actor, "study.force_join", fmt.Sprintf("study:%d user:%d", studyID, userID), err)
	return err
}

// Withdraw removes the actor's active recruitment while the study recruits.
func (s *Service) Withdraw(ctx context.Context, actor domain.Actor, studyID int64) error {
	now := s.clock.Now()
	return s.store.WithTx(ctx, func(tx *storage.Tx) error {
		st, err := tx.LoadStudy(ctx, studyID)
		if err != nil {
			return err
		}
		if err := st.CheckWithdraw(actor.UserID); err != nil {
			return err
		}
		rec, err := tx.ActiveRecruitment(ctx, studyID, actor.UserID)
		if err != nil {
			return err
		}
		if err := tx.DeleteRecruitment(ctx, rec.ID); err != nil {
			return err
		}
		ok, err := tx.RemoveMember(ctx, studyID, now)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrStudyConflict
		}
		return nil
	})
}

// CloseRecruitment closes a recruiting study early. Closing an already
// closed study succeeds without change.
func (s *Service) CloseRecruitment(ctx context.Context, actor domain.Actor, studyID int64) error {
	err := s.mutate(ctx, actor, studyID, func(st *domain.Study, now time.Time) (bool, error) {
		return st.CloseRecruitment(now), nil
	})
	if actor.Admin {
		s.audit(ctx, actor, "study.close", fmt.Sprintf("study:%d", studyID), err)
	}
	return err
}

// Start moves a closed study in progress once enough members joined.
func (s *Service) Start(ctx context.Context, actor domain.Actor, studyID int64) error {
	return s.mutate(ctx, actor, studyID, func(st *domain.Study, now time.Time) (bool, error) {
		return true, st.Start(s.limits.MinStartMembers, now)
	})
}

func (s *Service) Complete(ctx context.Context, actor domain.Actor, studyID int64) error {
	return s.mutate(ctx, actor, studyID, func(st *domain.Study, now time.Time) (bool, error) {
		return true, st.Complete(now)
	})
}

func (s *Service) Approve(ctx context.Context, actor domain.Actor, studyID int64) error {
	err := s.admin(actor)
	if err == nil {
		err = s.mutate(ctx, actor, studyID, func(st *domain.Study, now time.Time) (bool, error) {
			return true, st.Approve(now)
		})
	}
	s.audit(ctx, actor, "study.approve", fmt.Sprintf("study:%d", studyID), err)
	return err
}

// Reject records the rejection and marks every active recruitment rejected.
func (s *Service) Reject(ctx context.Context, actor domain.Actor, studyID int64) error {
	err := s.admin(actor)
	if err == nil {
		now := s.clock.Now()
		err = s.store.WithTx(ctx, func(tx *storage.Tx) error {
			st, err := tx.LoadStudy(ctx, studyID)
			if err != nil {
				return err
			}
			if err := st.Reject(now); err != nil {
				return err
			}
			if _, err := tx.RejectRecruitments(ctx, studyID); err != nil {
				return err
			}
			return tx.SaveStudy(ctx, st)
		})
	}
	s.audit(ctx, actor, "study.reject", fmt.Sprintf("study:%d", studyID), err)
	return err
}

// UpdateInfo replaces the study's content fields and tags.
func (s *Service) UpdateInfo(ctx context.Context, actor domain.Actor, studyID int64, info domain.StudyInfo) error {
	info, err := info.Normalize(s.limits)
	if err != nil {
		return err
	}
	now := s.clock.Now()
	return s.store.WithTx(ctx, func(tx *storage.Tx) error {
		st, err := tx.LoadStudy(ctx, studyID)
		if err != nil {
			return err
		}
		if err := authorize(actor, st); err != nil {
			return err
		}
		if err := st.UpdateInfo(info, now); err != nil {
			return err
		}
		if err := tx.SaveStudy(ctx, st); err != nil {
			return err
		}
		return tx.SetStudyTags(ctx, studyID, st.Tags)
	})
}

// Delete removes the study with its recruitments.
func (s *Service) Delete(ctx context.Context, actor domain.Actor, studyID int64) error {
	err := s.store.WithTx(ctx, func(tx *storage.Tx) error {
		st, err := tx.LoadStudy(ctx, studyID)
		if err != nil {
			return err
		}
		if err := authorize(actor, st); err != nil {
			return err
		}
		if err := st.CheckDelete(); err != nil {
			return err
		}
		return tx.DeleteStudy(ctx, studyID)
	})
	if actor.Admin {
		s.audit(ctx, actor, "study.delete", fmt.Sprintf("study:%d", studyID), err)
	}
	return err
}

// mutate loads the study, authorizes the actor as leader or admin, applies
// fn and saves the study when fn reports a change.
func (s *Service) mutate(ctx context.Context, actor domain.Actor, studyID int64, fn func(*domain.Study, time.Time) (bool, error)) error {
	now := s.clock.Now()
	return s.store.WithTx(ctx, func(tx *storage.Tx) error {
		st, err := tx.LoadStudy(ctx, studyID)
		if err != nil {
			return err
		}
		if err := authorize(actor, st); err != nil {
			return err
		}
		changed, err := fn(st, now)
		if err != nil || !changed {
			return err
		}
		return tx.SaveStudy(ctx, st)
	})
}

// checkMember applies the guards every regular member action shares: the
// user's track is current, matches the schedule, the schedule is the track's
// current month and the user is below the monthly limit.
func (s *Service) checkMember(ctx context.Context, tx *storage.Tx, userID int64, sch domain.Schedule, now time.Time) error {
	track, err := s.checkTrack(ctx, tx, userID, sch.TrackID, now)
	if err != nil {
		return err
	}

	siblings, err := tx.SchedulesByTrack(ctx, track.ID)
	if err != nil {
		return err
	}
	if cur, ok := domain.CurrentMonth(siblings, now); !ok || cur != sch.Month {
		return domain.ErrStudyMonthIsNotCurrentMonth
	}

	n, err := tx.CountActiveRecruitments(ctx, userID, track.ID, sch.Month)
	if err != nil {
		return err
	}
	if n >= s.limits.MaxActivePerMonth {
		return domain.ErrMaxStudyExceeded
	}
	return nil
}

// checkTrack requires userID to be enrolled in trackID and not graduated.
func (s *Service) checkTrack(ctx context.Context, tx *storage.Tx, userID, trackID int64, now time.Time) (domain.Track, error) {
	track, err := tx.TrackOfUser(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Track{}, domain.ErrTrackMismatch
	}
	if err != nil {
		return domain.Track{}, err
	}
	if track.Status(now) == domain.TrackGraduated {
		return domain.Track{}, domain.ErrGraduatedStudentCantRecruitOfficialStudy
	}
	if track.ID != trackID {
		return domain.Track{}, domain.ErrTrackMismatch
	}
	return track, nil
}

// addMember bumps the member count with the capacity guard in the UPDATE
// itself. When the guard refuses, the study is re-read to report why.
func (s *Service) addMember(ctx context.Context, tx *storage.Tx, st *domain.Study, now time.Time, allowed ...domain.Progress) error {
	ok, err := tx.AddMember(ctx, st.ID, now, allowed...)
	if err != nil || ok {
		return err
	}
	fresh, err := tx.LoadStudy(ctx, st.ID)
	if err != nil {
		return err
	}
	if err := fresh.CheckForceJoin(); err != nil {
		return err
	}
	return domain.ErrStudyConflict
}

func authorize(actor domain.Actor, st *domain.Study) error {
	if actor.Admin || st.IsLeader(actor.UserID) {
		return nil
	}
	return domain.ErrNotStudyLeader
}

func (s *Service) admin(actor domain.Actor) error {
	if !actor.Admin {
		return domain.ErrAdminOnly
	}
	return nil
}

func (s *Service) audit(ctx context.Context, actor domain.Actor, action, target string, err error) {
	e := storage.AuditEntry{
		At:      s.clock.Now(),
		ActorID: actor.UserID,
		Action:  action,
		Target:  target,
		OK:      err == nil,
	}
	if err != nil {
		e.Error = err.Error()
	}
	if aerr := s.store.AppendAudit(ctx, e); aerr != nil {
		s.log.Warn("audit append failed", logx.String("action", action), logx.Err(aerr))
	}
}
