package domain

import "time"

type RecruitmentStatus string

const (
	RecruitmentActive   RecruitmentStatus = "ACTIVE"
	RecruitmentRejected RecruitmentStatus = "REJECTED"
)

// Recruitment is a user's membership record in a study. Joining counts
// toward capacity immediately; there is no leader approval step.
type Recruitment struct {
	ID        int64             `json:"id"`
	StudyID   int64             `json:"study_id"`
	UserID    int64             `json:"user_id"`
	Status    RecruitmentStatus `json:"status"`
	Leader    bool              `json:"leader"`
	CreatedAt time.Time         `json:"created_at"`
}

func (r Recruitment) Active() bool { return r.Status == RecruitmentActive }
