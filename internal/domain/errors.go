package domain

import (
	"errors"
	"fmt"
)

// RuleError is a named domain-rule violation. Instances are sentinels and are
// compared with errors.Is.
type RuleError struct {
	Code    string
	Message string
}

func (e *RuleError) Error() string { return e.Message }

func rule(code, msg string) *RuleError { return &RuleError{Code: code, Message: msg} }

// AsRule extracts the RuleError from err, if any.
func AsRule(err error) (*RuleError, bool) {
	var re *RuleError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// ErrNotFound is returned (wrapped) by repositories for missing records.
var ErrNotFound = errors.New("not found")

var (
	// Study progress.
	ErrStudyMustBeRecruitingClosedToStart   = rule("StudyMustBeRecruitingClosedToStart", "study must be closed for recruitment before it can start")
	ErrStudyCannotStartDueToNotEnoughMember = rule("StudyCannotStartDueToNotEnoughMember", "study does not have enough members to start")
	ErrStudyMustBeInProgressToComplete      = rule("StudyMustBeInProgressToComplete", "study must be in progress to complete")
	ErrStudyRejected                        = rule("StudyRejected", "study was rejected")

	// Decision.
	ErrStudyMustBeClosedToApprove = rule("StudyMustBeClosedToApprove", "study must be closed for recruitment and undecided to approve or reject")

	// Membership.
	ErrStudyNotRecruiting                            = rule("StudyNotRecruiting", "study is not recruiting")
	ErrStudyAlreadyFinishToRecruit                   = rule("StudyAlreadyFinishToRecruit", "recruitment window has already ended")
	ErrStudyCapacityFull                             = rule("StudyCapacityFull", "study is full")
	ErrAlreadyApplied                                = rule("AlreadyApplied", "user already applied to this study")
	ErrCannotForceJoinInProgressOrCompleted          = rule("CannotForceJoinInProgressOrCompleted", "cannot force join a study in progress or completed")
	ErrLeaderCannotLeave                             = rule("LeaderCannotLeave", "study leader cannot leave the study")
	ErrRecruitmentCancelNotAllowedStudyNotRecruiting = rule("RecruitmentCancelNotAllowedStudyNotRecruiting", "recruitment can only be cancelled while the study is recruiting")
	ErrNotApplied                                    = rule("NotApplied", "user has no active recruitment in this study")

	// Editing and deletion.
	ErrStudyCannotModifyInProgressOrCompleted = rule("StudyCannotModifyInProgressOrCompleted", "study in progress or completed cannot be modified")
	ErrStudyCannotModifyAfterDetermined       = rule("StudyCannotModifyAfterDetermined", "study cannot be modified after approval or rejection")
	ErrStudyCapacityCannotBeLessThanCurrent   = rule("StudyCapacityCannotBeLessThanCurrent", "capacity cannot be lower than the current member count")
	ErrStudyCantDeleteStatusApproved          = rule("StudyCantDeleteStatusApproved", "approved study cannot be deleted")
	ErrStudyConflict                          = rule("StudyConflict", "study was modified concurrently")

	// Cross-entity guards.
	ErrGraduatedStudentCantRecruitOfficialStudy = rule("GraduatedStudentCantRecruitOfficialStudy", "graduated students cannot join or create studies")
	ErrTrackMismatch                            = rule("TrackMismatch", "user track does not match the study track")
	ErrStudyMonthIsNotCurrentMonth              = rule("StudyMonthIsNotCurrentMonth", "schedule month is not the track's current month")
	ErrMaxStudyExceeded                         = rule("MaxStudyExceeded", "user already holds the maximum number of active studies this month")
	ErrNotStudyLeader                           = rule("NotStudyLeader", "only the study leader may do this")
	ErrAdminOnly                                = rule("AdminOnly", "administrator privileges required")

	// Schedules.
	ErrInvalidSchedule        = rule("InvalidSchedule", "schedule dates must satisfy recruitStart < recruitEnd < studyEnd")
	ErrInvalidMonth           = rule("InvalidMonth", "month must be between 1 and 6")
	ErrScheduleMonthTaken     = rule("ScheduleMonthAlreadyExists", "track already has a schedule for this month")
	ErrScheduleOverlap        = rule("ScheduleOverlapsSibling", "schedule overlaps a sibling schedule of the same track")
	ErrScheduleInUse          = rule("ScheduleInUse", "schedule is referenced by studies")
	ErrScheduleTrackImmutable = rule("ScheduleTrackImmutable", "schedule track and month cannot change")

	// Fields.
	ErrInvalidStudyField = rule("InvalidStudyField", "invalid study field")
)

// FieldError reports one invalid input field. It unwraps to
// ErrInvalidStudyField.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string { return fmt.Sprintf("%s: %s", e.Field, e.Reason) }

func (e *FieldError) Unwrap() error { return ErrInvalidStudyField }

// FieldErrors aggregates every field problem of one input.
type FieldErrors []*FieldError

func (fe FieldErrors) Error() string {
	if len(fe) == 1 {
		return fe[0].Error()
	}
	msg := fmt.Sprintf("%d invalid fields: ", len(fe))
	for i, e := range fe {
		if i > 0 {
			msg += "; "
		}
		msg += e.Error()
	}
	return msg
}

func (fe FieldErrors) Unwrap() []error {
	out := make([]error, len(fe))
	for i, e := range fe {
		out[i] = e
	}
	return out
}
