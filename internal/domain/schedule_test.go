package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(n int) time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n) }

func sched(id int64, month Month, rs, re, se int) Schedule {
	return Schedule{ID: id, TrackID: 1, Month: month, RecruitStartDate: day(rs), RecruitEndDate: day(re), StudyEndDate: day(se)}
}

func TestScheduleValidate(t *testing.T) {
	tests := []struct {
		name string
		s    Schedule
		want error
	}{
		{"ok", sched(1, 1, 0, 5, 30), nil},
		{"start equals end", sched(1, 1, 5, 5, 30), ErrInvalidSchedule},
		{"recruit end after study end", sched(1, 1, 0, 31, 30), ErrInvalidSchedule},
		{"study end equals recruit end", sched(1, 1, 0, 5, 5), ErrInvalidSchedule},
		{"month zero", sched(1, 0, 0, 5, 30), ErrInvalidMonth},
		{"month seven", sched(1, 7, 0, 5, 30), ErrInvalidMonth},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.s.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestValidateAgainstSiblings(t *testing.T) {
	siblings := []Schedule{
		sched(1, 1, 0, 5, 30),
		sched(3, 3, 60, 65, 90),
		{ID: 9, TrackID: 2, Month: 2, RecruitStartDate: day(0), RecruitEndDate: day(1), StudyEndDate: day(200)},
	}

	require.NoError(t, sched(0, 2, 30, 35, 60).ValidateAgainstSiblings(siblings), "touching boundaries are allowed")
	assert.ErrorIs(t, sched(0, 1, 100, 105, 130).ValidateAgainstSiblings(siblings), ErrScheduleMonthTaken)
	assert.ErrorIs(t, sched(0, 2, 29, 35, 60).ValidateAgainstSiblings(siblings), ErrScheduleOverlap, "starts before month 1 ends")
	assert.ErrorIs(t, sched(0, 2, 30, 35, 61).ValidateAgainstSiblings(siblings), ErrScheduleOverlap, "ends after month 3 starts")
	assert.ErrorIs(t, sched(0, 4, 10, 15, 20).ValidateAgainstSiblings(siblings), ErrScheduleOverlap, "non-adjacent months are checked too")

	// Editing month 1 in place ignores its own stored row.
	require.NoError(t, sched(1, 1, 1, 6, 31).ValidateAgainstSiblings(siblings))
}

func TestCurrentMonth(t *testing.T) {
	all := []Schedule{sched(3, 3, 60, 65, 90), sched(1, 1, 0, 5, 30), sched(2, 2, 30, 35, 60)}

	_, ok := CurrentMonth(all, day(-1))
	assert.False(t, ok)

	m, ok := CurrentMonth(all, day(0))
	require.True(t, ok)
	assert.Equal(t, Month(1), m)

	m, _ = CurrentMonth(all, day(40))
	assert.Equal(t, Month(2), m)

	m, _ = CurrentMonth(all, day(400))
	assert.Equal(t, Month(3), m)
}

func TestScheduleWindows(t *testing.T) {
	s := sched(1, 1, 0, 5, 30)
	assert.False(t, s.RecruitmentOpen(day(-1)))
	assert.True(t, s.RecruitmentOpen(day(0)))
	assert.False(t, s.RecruitmentOpen(day(5)))
	assert.True(t, s.RecruitmentEnded(day(5)))
	assert.False(t, s.StudyEnded(day(29)))
	assert.True(t, s.StudyEnded(day(30)))
}

func TestTrackStatus(t *testing.T) {
	tr := Track{EndDate: day(10)}
	assert.Equal(t, TrackEnrolled, tr.Status(day(9)))
	assert.Equal(t, TrackGraduated, tr.Status(day(10)))
}
