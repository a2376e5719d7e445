package domain

import "time"

type TrackStatus string

const (
	TrackEnrolled  TrackStatus = "ENROLLED"
	TrackGraduated TrackStatus = "GRADUATED"
)

// Track is an enrollment cohort. It is owned outside this service and only
// read here.
type Track struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
}

// Status is GRADUATED once now reaches the track's end date.
func (t Track) Status(now time.Time) TrackStatus {
	if now.Before(t.EndDate) {
		return TrackEnrolled
	}
	return TrackGraduated
}

// Month is the ordinal position (1..6) of a schedule inside its track.
type Month int

const (
	MinMonth Month = 1
	MaxMonth Month = 6
)

func (m Month) Valid() bool { return m >= MinMonth && m <= MaxMonth }
