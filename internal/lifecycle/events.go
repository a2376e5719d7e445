package lifecycle

import (
	"time"

	"github.com/google/uuid"

	"recruitd/internal/domain"
)

// Kind names a timer job.
type Kind string

const (
	KindRecruitmentStarted    Kind = "recruitment_started"
	KindRecruitmentEndingSoon Kind = "recruitment_ending_soon"
	KindStudyEndingSoon       Kind = "study_ending_soon"
	// Boundary kinds drive study transitions instead of publishing.
	KindRecruitmentClose Kind = "recruitment_close"
	KindStudyComplete    Kind = "study_complete"
)

// Boundary reports whether k transitions studies.
func (k Kind) Boundary() bool { return k == KindRecruitmentClose || k == KindStudyComplete }

const (
	TopicRecruitmentStarted    = "recruitment.started"
	TopicRecruitmentEndingSoon = "recruitment.ending_soon"
	TopicStudyEndingSoon       = "study.ending_soon"
)

// Topics lists the lifecycle topics in firing order.
func Topics() []string {
	return []string{TopicRecruitmentStarted, TopicRecruitmentEndingSoon, TopicStudyEndingSoon}
}

// ScheduleRef identifies the schedule an event is about. At is the instant
// the event was due, derived from the schedule dates.
type ScheduleRef struct {
	EventID    uuid.UUID    `json:"event_id"`
	ScheduleID int64        `json:"schedule_id"`
	TrackID    int64        `json:"track_id"`
	Month      domain.Month `json:"month"`
	At         time.Time    `json:"at"`
}

// Event is one of RecruitmentStarted, RecruitmentEndingSoon or
// StudyEndingSoon.
type Event interface {
	Topic() string
	Ref() ScheduleRef
	lifecycleEvent()
}

type RecruitmentStarted struct {
	ScheduleRef
	RecruitEndDate time.Time `json:"recruit_end_date"`
}

type RecruitmentEndingSoon struct {
	ScheduleRef
	RecruitEndDate time.Time `json:"recruit_end_date"`
}

type StudyEndingSoon struct {
	ScheduleRef
	StudyEndDate time.Time `json:"study_end_date"`
}

func (RecruitmentStarted) Topic() string    { return TopicRecruitmentStarted }
func (RecruitmentEndingSoon) Topic() string { return TopicRecruitmentEndingSoon }
func (StudyEndingSoon) Topic() string       { return TopicStudyEndingSoon }

func (e RecruitmentStarted) Ref() ScheduleRef    { return e.ScheduleRef }
func (e RecruitmentEndingSoon) Ref() ScheduleRef { return e.ScheduleRef }
func (e StudyEndingSoon) Ref() ScheduleRef       { return e.ScheduleRef }

func (RecruitmentStarted) lifecycleEvent()    {}
func (RecruitmentEndingSoon) lifecycleEvent() {}
func (StudyEndingSoon) lifecycleEvent()       {}

func newRef(sch domain.Schedule, at time.Time) ScheduleRef {
	return ScheduleRef{
		EventID:    uuid.New(),
		ScheduleID: sch.ID,
		TrackID:    sch.TrackID,
		Month:      sch.Month,
		At:         at,
	}
}
