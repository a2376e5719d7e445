package domain

import (
	"fmt"
	"sort"
	"time"
)

// Schedule is the recruitment/study window for one ordinal month of a track.
type Schedule struct {
	ID               int64     `json:"id"`
	TrackID          int64     `json:"track_id"`
	Month            Month     `json:"month"`
	RecruitStartDate time.Time `json:"recruit_start_date"`
	RecruitEndDate   time.Time `json:"recruit_end_date"`
	StudyEndDate     time.Time `json:"study_end_date"`
}

// Validate checks the schedule on its own.
func (s Schedule) Validate() error {
	if !s.Month.Valid() {
		return ErrInvalidMonth
	}
	if !s.RecruitStartDate.Before(s.RecruitEndDate) || !s.RecruitEndDate.Before(s.StudyEndDate) {
		return ErrInvalidSchedule
	}
	return nil
}

// ValidateAgainstSiblings checks s against the other schedules of its track.
// Entries with s's own ID or another track are ignored, so callers may pass
// the full list when editing.
func (s Schedule) ValidateAgainstSiblings(siblings []Schedule) error {
	if err := s.Validate(); err != nil {
		return err
	}
	for _, o := range siblings {
		if o.TrackID != s.TrackID || (s.ID != 0 && o.ID == s.ID) {
			continue
		}
		switch {
		case o.Month == s.Month:
			return ErrScheduleMonthTaken
		case o.Month < s.Month && o.StudyEndDate.After(s.RecruitStartDate):
			return fmt.Errorf("%w: month %d ends after month %d starts recruiting", ErrScheduleOverlap, o.Month, s.Month)
		case o.Month > s.Month && s.StudyEndDate.After(o.RecruitStartDate):
			return fmt.Errorf("%w: month %d ends after month %d starts recruiting", ErrScheduleOverlap, s.Month, o.Month)
		}
	}
	return nil
}

// RecruitmentOpen reports whether now lies in [RecruitStartDate, RecruitEndDate).
func (s Schedule) RecruitmentOpen(now time.Time) bool {
	return !now.Before(s.RecruitStartDate) && now.Before(s.RecruitEndDate)
}

// RecruitmentEnded reports whether the recruit window has elapsed.
func (s Schedule) RecruitmentEnded(now time.Time) bool { return !now.Before(s.RecruitEndDate) }

// StudyEnded reports whether the study window has elapsed.
func (s Schedule) StudyEnded(now time.Time) bool { return !now.Before(s.StudyEndDate) }

// CurrentMonth returns the track's current ordinal month: the latest schedule
// whose recruitment has started by now. ok is false before the first one.
func CurrentMonth(schedules []Schedule, now time.Time) (Month, bool) {
	sorted := append([]Schedule(nil), schedules...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Month < sorted[j].Month })

	var cur Month
	for _, s := range sorted {
		if now.Before(s.RecruitStartDate) {
			break
		}
		cur = s.Month
	}
	return cur, cur != 0
}
