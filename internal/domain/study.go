package domain

import "time"

// Progress is the study's position on the main lifecycle path.
type Progress string

const (
	ProgressRecruiting       Progress = "RECRUITING"
	ProgressRecruitingClosed Progress = "RECRUITING_CLOSED"
	ProgressInProgress       Progress = "IN_PROGRESS"
	ProgressCompleted        Progress = "COMPLETED"
)

// Decision is the administrative verdict, reachable only from
// RECRUITING_CLOSED and orthogonal to Progress.
type Decision string

const (
	DecisionPending  Decision = "PENDING"
	DecisionApproved Decision = "APPROVED"
	DecisionRejected Decision = "REJECTED"
)

type Budget string

const (
	BudgetNone Budget = "NONE"
	BudgetBook Budget = "BOOK"
	BudgetMeal Budget = "MEAL"
	BudgetRoom Budget = "ROOM"
	BudgetEtc  Budget = "ETC"
)

// Study is one recruiting/running group bound to a schedule and a track.
// MemberCount mirrors the number of ACTIVE recruitments, the leader's included.
type Study struct {
	ID              int64
	Name            string
	LeaderID        int64
	TrackID         int64
	ScheduleID      int64
	Description     string
	Progress        Progress
	Decision        Decision
	Capacity        int
	MemberCount     int
	Budget          Budget
	BudgetExplain   string
	Plan            [4]string
	ExternalChatURL string
	ReferenceURL    string
	Tags            []string
	// Version increases on every persisted change (optimistic locking).
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewStudy creates a recruiting study with its leader as the first member.
// info must already be normalized.
func NewStudy(leaderID int64, sch Schedule, info StudyInfo, now time.Time) *Study {
	s := &Study{
		LeaderID:    leaderID,
		TrackID:     sch.TrackID,
		ScheduleID:  sch.ID,
		Progress:    ProgressRecruiting,
		Decision:    DecisionPending,
		MemberCount: 1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.setInfo(info)
	return s
}

// Status renders progress and decision as one label, e.g.
// "RECRUITING_CLOSED/APPROVED".
func (s *Study) Status() string {
	if s.Decision == "" || s.Decision == DecisionPending {
		return string(s.Progress)
	}
	return string(s.Progress) + "/" + string(s.Decision)
}

func (s *Study) IsLeader(userID int64) bool { return s.LeaderID == userID }

// CheckParticipate validates a regular join at now against the study's
// schedule. The recruit window check mirrors the boundary timer so a join
// racing the close is refused either way.
func (s *Study) CheckParticipate(now time.Time, sch Schedule) error {
	if s.Progress != ProgressRecruiting {
		return ErrStudyNotRecruiting
	}
	if sch.RecruitmentEnded(now) {
		return ErrStudyAlreadyFinishToRecruit
	}
	return s.checkRoom()
}

// CheckForceJoin validates an administrative join. Unlike a regular join it
// is allowed after recruitment closed, but never once the study started.
func (s *Study) CheckForceJoin() error {
	switch s.Progress {
	case ProgressInProgress, ProgressCompleted:
		return ErrCannotForceJoinInProgressOrCompleted
	case ProgressRecruiting, ProgressRecruitingClosed:
	default:
		return ErrStudyNotRecruiting
	}
	if s.Decision == DecisionRejected {
		return ErrStudyRejected
	}
	return s.checkRoom()
}

func (s *Study) checkRoom() error {
	if s.MemberCount >= s.Capacity {
		return ErrStudyCapacityFull
	}
	return nil
}

// CheckWithdraw validates userID leaving the study.
func (s *Study) CheckWithdraw(userID int64) error {
	if s.IsLeader(userID) {
		return ErrLeaderCannotLeave
	}
	if s.Progress != ProgressRecruiting {
		return ErrRecruitmentCancelNotAllowedStudyNotRecruiting
	}
	return nil
}

// CloseRecruitment moves RECRUITING to RECRUITING_CLOSED. It reports whether
// anything changed; closing a study that is already past recruiting is a no-op.
func (s *Study) CloseRecruitment(now time.Time) bool {
	if s.Progress != ProgressRecruiting {
		return false
	}
	s.Progress = ProgressRecruitingClosed
	s.UpdatedAt = now
	return true
}

// Start moves RECRUITING_CLOSED to IN_PROGRESS once at least minMembers joined.
func (s *Study) Start(minMembers int, now time.Time) error {
	if s.Progress != ProgressRecruitingClosed {
		return ErrStudyMustBeRecruitingClosedToStart
	}
	if s.Decision == DecisionRejected {
		return ErrStudyRejected
	}
	if s.MemberCount < minMembers {
		return ErrStudyCannotStartDueToNotEnoughMember
	}
	s.Progress = ProgressInProgress
	s.UpdatedAt = now
	return nil
}

// Complete moves IN_PROGRESS to COMPLETED.
func (s *Study) Complete(now time.Time) error {
	if s.Progress != ProgressInProgress {
		return ErrStudyMustBeInProgressToComplete
	}
	s.Progress = ProgressCompleted
	s.UpdatedAt = now
	return nil
}

func (s *Study) Approve(now time.Time) error { return s.decide(DecisionApproved, now) }

// Reject records the rejection. The caller marks the study's active
// recruitments REJECTED; MemberCount drops to zero accordingly.
func (s *Study) Reject(now time.Time) error {
	if err := s.decide(DecisionRejected, now); err != nil {
		return err
	}
	s.MemberCount = 0
	return nil
}

func (s *Study) decide(d Decision, now time.Time) error {
	if s.Progress != ProgressRecruitingClosed || s.Decision != DecisionPending {
		return ErrStudyMustBeClosedToApprove
	}
	s.Decision = d
	s.UpdatedAt = now
	return nil
}

// CheckModify validates that content fields may still change.
func (s *Study) CheckModify() error {
	switch {
	case s.Progress == ProgressInProgress || s.Progress == ProgressCompleted:
		return ErrStudyCannotModifyInProgressOrCompleted
	case s.Decision == DecisionApproved || s.Decision == DecisionRejected:
		return ErrStudyCannotModifyAfterDetermined
	}
	return nil
}

// UpdateInfo replaces the content fields. info must already be normalized.
func (s *Study) UpdateInfo(info StudyInfo, now time.Time) error {
	if err := s.CheckModify(); err != nil {
		return err
	}
	if info.Capacity < s.MemberCount {
		return ErrStudyCapacityCannotBeLessThanCurrent
	}
	s.setInfo(info)
	s.UpdatedAt = now
	return nil
}

// CheckDelete validates hard deletion.
func (s *Study) CheckDelete() error {
	if s.Decision == DecisionApproved {
		return ErrStudyCantDeleteStatusApproved
	}
	if s.Progress == ProgressInProgress || s.Progress == ProgressCompleted {
		return ErrStudyCannotModifyInProgressOrCompleted
	}
	return nil
}

func (s *Study) setInfo(info StudyInfo) {
	s.Name = info.Name
	s.Description = info.Description
	s.Capacity = info.Capacity
	s.Budget = info.Budget
	s.BudgetExplain = info.BudgetExplain
	s.Plan = info.Plan
	s.ExternalChatURL = info.ExternalChatURL
	s.ReferenceURL = info.ReferenceURL
	s.Tags = append([]string(nil), info.Tags...)
}
