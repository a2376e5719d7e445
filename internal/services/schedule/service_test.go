package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recruitd/internal/domain"
	"recruitd/internal/storage"
	"recruitd/internal/task/timer"
	"recruitd/pkg/logx"
)

const day = 24 * time.Hour

var (
	t0    = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	admin = domain.Actor{UserID: 1, Admin: true}
)

func setup(t *testing.T) (*Service, *storage.Store, domain.Track, *[]storage.ScheduleChange) {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: ":memory:"}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	tr := domain.Track{Name: "backend", StartDate: t0, EndDate: t0.Add(180 * day)}
	require.NoError(t, st.CreateTrack(context.Background(), &tr))

	var changes []storage.ScheduleChange
	st.OnCommit(func(c storage.ScheduleChange) { changes = append(changes, c) })
	return New(st, timer.NewFake(t0), logx.Nop()), st, tr, &changes
}

func month(trackID int64, m domain.Month, startDay, recruitDays, studyDays int) domain.Schedule {
	start := t0.Add(time.Duration(startDay) * day)
	return domain.Schedule{
		TrackID:          trackID,
		Month:            m,
		RecruitStartDate: start,
		RecruitEndDate:   start.Add(time.Duration(recruitDays) * day),
		StudyEndDate:     start.Add(time.Duration(studyDays) * day),
	}
}

func TestCreateValidatesAgainstSiblings(t *testing.T) {
	ctx := context.Background()
	svc, _, tr, changes := setup(t)

	m1, err := svc.Create(ctx, admin, month(tr.ID, 1, 0, 7, 28))
	require.NoError(t, err)
	require.NotZero(t, m1.ID)

	_, err = svc.Create(ctx, admin, month(tr.ID, 2, 27, 7, 28))
	assert.ErrorIs(t, err, domain.ErrScheduleOverlap)

	m2, err := svc.Create(ctx, admin, month(tr.ID, 2, 28, 7, 28))
	require.NoError(t, err)

	_, err = svc.Create(ctx, admin, month(tr.ID, 2, 100, 7, 28))
	assert.ErrorIs(t, err, domain.ErrScheduleMonthTaken)

	_, err = svc.Create(ctx, admin, month(tr.ID, 3, 60, 7, 5))
	assert.ErrorIs(t, err, domain.ErrInvalidSchedule)

	_, err = svc.Create(ctx, admin, month(tr.ID, 7, 200, 7, 28))
	assert.ErrorIs(t, err, domain.ErrInvalidMonth)

	_, err = svc.Create(ctx, domain.Actor{UserID: 5}, month(tr.ID, 3, 60, 7, 28))
	assert.ErrorIs(t, err, domain.ErrAdminOnly)

	_, err = svc.Create(ctx, admin, month(tr.ID+100, 1, 0, 7, 28))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.Len(t, *changes, 2)
	assert.Equal(t, m1.ID, (*changes)[0].Schedule.ID)
	assert.Equal(t, m2.ID, (*changes)[1].Schedule.ID)
	assert.Equal(t, storage.ChangeCreate, (*changes)[1].Op)
}

func TestUpdateKeepsOrdering(t *testing.T) {
	ctx := context.Background()
	svc, _, tr, changes := setup(t)

	m1, err := svc.Create(ctx, admin, month(tr.ID, 1, 0, 7, 28))
	require.NoError(t, err)
	m2, err := svc.Create(ctx, admin, month(tr.ID, 2, 28, 7, 28))
	require.NoError(t, err)

	stretched := m1
	stretched.StudyEndDate = m1.StudyEndDate.Add(day)
	_, err = svc.Update(ctx, admin, stretched)
	assert.ErrorIs(t, err, domain.ErrScheduleOverlap, "month 1 may not run into month 2")

	moved := m1
	moved.Month = 3
	_, err = svc.Update(ctx, admin, moved)
	assert.ErrorIs(t, err, domain.ErrScheduleTrackImmutable)

	shorter := domain.Schedule{ID: m1.ID, RecruitStartDate: m1.RecruitStartDate, RecruitEndDate: m1.RecruitEndDate, StudyEndDate: m1.StudyEndDate.Add(-day)}
	got, err := svc.Update(ctx, admin, shorter)
	require.NoError(t, err)
	assert.Equal(t, domain.Month(1), got.Month)
	assert.Equal(t, tr.ID, got.TrackID)

	stored, err := svc.Get(ctx, m1.ID)
	require.NoError(t, err)
	assert.Equal(t, got, stored)

	require.Len(t, *changes, 3)
	last := (*changes)[2]
	assert.Equal(t, storage.ChangeUpdate, last.Op)
	assert.Equal(t, got, last.Schedule)

	list, err := svc.ListByTrack(ctx, tr.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, m2.ID, list[1].ID)
}

func TestDeleteRefusesReferencedSchedule(t *testing.T) {
	ctx := context.Background()
	svc, st, tr, changes := setup(t)

	m1, err := svc.Create(ctx, admin, month(tr.ID, 1, 0, 7, 28))
	require.NoError(t, err)
	s := domain.NewStudy(2, m1, domain.StudyInfo{Name: "s", Description: "d", Capacity: 4, Budget: domain.BudgetNone}, t0)
	require.NoError(t, st.InsertStudy(ctx, s))

	assert.ErrorIs(t, svc.Delete(ctx, admin, m1.ID), domain.ErrScheduleInUse)

	require.NoError(t, st.WithTx(ctx, func(tx *storage.Tx) error { return tx.DeleteStudy(ctx, s.ID) }))
	require.NoError(t, svc.Delete(ctx, admin, m1.ID))

	last := (*changes)[len(*changes)-1]
	assert.Equal(t, storage.ChangeDelete, last.Op)
	assert.Equal(t, m1.ID, last.Schedule.ID)

	assert.ErrorIs(t, svc.Delete(ctx, admin, m1.ID), domain.ErrNotFound)

	entries, err := st.RecentAudit(ctx, 20)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	for _, e := range entries {
		assert.True(t, e.At.Equal(t0), "audit stamped by the service clock: %s", e.At)
	}
}
