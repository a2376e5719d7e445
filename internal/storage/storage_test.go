package storage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recruitd/internal/domain"
	"recruitd/pkg/logx"
)

var base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func openTest(t *testing.T) *Store {
	t.Helper()
	st, err := Open(Config{Path: ":memory:"}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func seedTrack(t *testing.T, st *Store) domain.Track {
	t.Helper()
	tr := domain.Track{Name: "backend", StartDate: base.AddDate(0, -1, 0), EndDate: base.AddDate(0, 6, 0)}
	require.NoError(t, st.CreateTrack(context.Background(), &tr))
	return tr
}

func seedSchedule(t *testing.T, st *Store, trackID int64, month domain.Month, offsetDays int) domain.Schedule {
	t.Helper()
	start := base.AddDate(0, 0, offsetDays)
	sch := domain.Schedule{
		TrackID:          trackID,
		Month:            month,
		RecruitStartDate: start,
		RecruitEndDate:   start.AddDate(0, 0, 7),
		StudyEndDate:     start.AddDate(0, 0, 28),
	}
	require.NoError(t, st.WithTx(context.Background(), func(tx *Tx) error {
		return tx.CreateSchedule(context.Background(), &sch)
	}))
	return sch
}

func seedStudy(t *testing.T, st *Store, sch domain.Schedule, capacity int) *domain.Study {
	t.Helper()
	s := domain.NewStudy(1, sch, domain.StudyInfo{
		Name: "study", Description: "desc", Capacity: capacity, Budget: domain.BudgetNone, Tags: []string{"go", "db"},
	}, base)
	require.NoError(t, st.InsertStudy(context.Background(), s))
	require.NoError(t, st.InsertRecruitment(context.Background(), &domain.Recruitment{
		StudyID: s.ID, UserID: 1, Status: domain.RecruitmentActive, Leader: true, CreatedAt: base,
	}))
	return s
}

func TestScheduleRoundTripAndHooks(t *testing.T) {
	ctx := context.Background()
	st := openTest(t)
	tr := seedTrack(t, st)

	var mu sync.Mutex
	var seen []ScheduleChange
	st.OnCommit(func(c ScheduleChange) {
		mu.Lock()
		seen = append(seen, c)
		mu.Unlock()
	})

	sch := seedSchedule(t, st, tr.ID, 1, 0)
	require.NotZero(t, sch.ID)

	got, err := st.LoadSchedule(ctx, sch.ID)
	require.NoError(t, err)
	assert.Equal(t, sch, got)

	sch.StudyEndDate = sch.StudyEndDate.AddDate(0, 0, 1)
	require.NoError(t, st.WithTx(ctx, func(tx *Tx) error { return tx.UpdateSchedule(ctx, sch) }))
	require.NoError(t, st.WithTx(ctx, func(tx *Tx) error { return tx.DeleteSchedule(ctx, sch.ID) }))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 3)
	assert.Equal(t, ChangeCreate, seen[0].Op)
	assert.Equal(t, ChangeUpdate, seen[1].Op)
	assert.True(t, seen[1].Schedule.StudyEndDate.Equal(sch.StudyEndDate))
	assert.Equal(t, ChangeDelete, seen[2].Op)
	assert.Equal(t, sch.ID, seen[2].Schedule.ID)

	_, err = st.LoadSchedule(ctx, sch.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRolledBackChangesAreNotReported(t *testing.T) {
	ctx := context.Background()
	st := openTest(t)
	tr := seedTrack(t, st)

	var calls atomic.Int32
	st.OnCommit(func(ScheduleChange) { calls.Add(1) })

	boom := errors.New("boom")
	err := st.WithTx(ctx, func(tx *Tx) error {
		sch := domain.Schedule{TrackID: tr.ID, Month: 1, RecruitStartDate: base, RecruitEndDate: base.Add(time.Hour), StudyEndDate: base.Add(2 * time.Hour)}
		if err := tx.CreateSchedule(ctx, &sch); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Zero(t, calls.Load())

	list, err := st.SchedulesByTrack(ctx, tr.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestHookPanicDoesNotFailCommit(t *testing.T) {
	st := openTest(t)
	tr := seedTrack(t, st)
	st.OnCommit(func(ScheduleChange) { panic("listener bug") })
	sch := seedSchedule(t, st, tr.ID, 1, 0)
	assert.NotZero(t, sch.ID)
}

func TestDuplicateMonthMapsToRuleError(t *testing.T) {
	ctx := context.Background()
	st := openTest(t)
	tr := seedTrack(t, st)
	seedSchedule(t, st, tr.ID, 2, 0)

	err := st.WithTx(ctx, func(tx *Tx) error {
		dup := domain.Schedule{TrackID: tr.ID, Month: 2, RecruitStartDate: base, RecruitEndDate: base.Add(time.Hour), StudyEndDate: base.Add(2 * time.Hour)}
		return tx.CreateSchedule(ctx, &dup)
	})
	assert.ErrorIs(t, err, domain.ErrScheduleMonthTaken)
}

func TestFindSchedulesWithFutureStudyEndPages(t *testing.T) {
	ctx := context.Background()
	st := openTest(t)
	tr := seedTrack(t, st)
	past := seedSchedule(t, st, tr.ID, 1, -60)
	var future []int64
	for m := domain.Month(2); m <= 5; m++ {
		future = append(future, seedSchedule(t, st, tr.ID, m, int(m)*30).ID)
	}

	var got []int64
	var after int64
	for {
		page, err := st.FindSchedulesWithFutureStudyEnd(ctx, base, after, 3)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		for _, s := range page {
			got = append(got, s.ID)
		}
		after = page[len(page)-1].ID
	}
	assert.Equal(t, future, got)
	assert.NotContains(t, got, past.ID)
}

func TestStudyPersistenceAndOptimisticLock(t *testing.T) {
	ctx := context.Background()
	st := openTest(t)
	tr := seedTrack(t, st)
	sch := seedSchedule(t, st, tr.ID, 1, 0)
	s := seedStudy(t, st, sch, 4)

	loaded, err := st.LoadStudy(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"go", "db"}, loaded.Tags)
	assert.Equal(t, int64(1), loaded.Version)
	assert.Equal(t, domain.ProgressRecruiting, loaded.Progress)

	other, err := st.LoadStudy(ctx, s.ID)
	require.NoError(t, err)

	loaded.CloseRecruitment(base)
	require.NoError(t, st.SaveStudy(ctx, loaded))
	assert.Equal(t, int64(2), loaded.Version)

	other.Name = "stale write"
	assert.ErrorIs(t, st.SaveStudy(ctx, other), domain.ErrStudyConflict)

	missing := &domain.Study{ID: 999, Version: 1}
	assert.ErrorIs(t, st.SaveStudy(ctx, missing), domain.ErrNotFound)

	list, err := st.LoadStudiesByScheduleID(ctx, sch.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, domain.ProgressRecruitingClosed, list[0].Progress)
}

func TestConcurrentJoinsNeverExceedCapacity(t *testing.T) {
	ctx := context.Background()
	st := openTest(t)
	tr := seedTrack(t, st)
	sch := seedSchedule(t, st, tr.ID, 1, 0)
	s := seedStudy(t, st, sch, 5)

	var joined atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(user int64) {
			defer wg.Done()
			err := st.WithTx(ctx, func(tx *Tx) error {
				ok, err := tx.AddMember(ctx, s.ID, base)
				if err != nil || !ok {
					return domain.ErrStudyCapacityFull
				}
				return tx.InsertRecruitment(ctx, &domain.Recruitment{
					StudyID: s.ID, UserID: user, Status: domain.RecruitmentActive, CreatedAt: base,
				})
			})
			if err == nil {
				joined.Add(1)
			}
		}(int64(100 + i))
	}
	wg.Wait()

	assert.Equal(t, int32(4), joined.Load())
	got, err := st.LoadStudy(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.MemberCount)

	recs, err := st.ListRecruitments(ctx, s.ID)
	require.NoError(t, err)
	assert.Len(t, recs, 5)
	assert.True(t, recs[0].Leader)
}

func TestAddMemberRespectsProgress(t *testing.T) {
	ctx := context.Background()
	st := openTest(t)
	tr := seedTrack(t, st)
	sch := seedSchedule(t, st, tr.ID, 1, 0)
	s := seedStudy(t, st, sch, 5)

	s.CloseRecruitment(base)
	require.NoError(t, st.SaveStudy(ctx, s))

	ok, err := st.AddMember(ctx, s.ID, base)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = st.AddMember(ctx, s.ID, base, domain.ProgressRecruiting, domain.ProgressRecruitingClosed)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRecruitmentRules(t *testing.T) {
	ctx := context.Background()
	st := openTest(t)
	tr := seedTrack(t, st)
	sch := seedSchedule(t, st, tr.ID, 1, 0)
	s := seedStudy(t, st, sch, 5)

	err := st.InsertRecruitment(ctx, &domain.Recruitment{StudyID: s.ID, UserID: 1, Status: domain.RecruitmentActive, CreatedAt: base})
	assert.ErrorIs(t, err, domain.ErrAlreadyApplied)

	rec := domain.Recruitment{StudyID: s.ID, UserID: 7, Status: domain.RecruitmentActive, CreatedAt: base}
	require.NoError(t, st.InsertRecruitment(ctx, &rec))

	n, err := st.CountActiveRecruitments(ctx, 7, tr.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = st.CountActiveRecruitments(ctx, 7, tr.ID, 2)
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := st.ActiveRecruitment(ctx, s.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)

	rejected, err := st.RejectRecruitments(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rejected)

	_, err = st.ActiveRecruitment(ctx, s.ID, 7)
	assert.ErrorIs(t, err, domain.ErrNotApplied)
}

func TestDeleteStudyCascades(t *testing.T) {
	ctx := context.Background()
	st := openTest(t)
	tr := seedTrack(t, st)
	sch := seedSchedule(t, st, tr.ID, 1, 0)
	s := seedStudy(t, st, sch, 5)

	n, err := st.CountStudiesBySchedule(ctx, sch.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, st.WithTx(ctx, func(tx *Tx) error { return tx.DeleteStudy(ctx, s.ID) }))
	_, err = st.LoadStudy(ctx, s.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	recs, err := st.ListRecruitments(ctx, s.ID)
	require.NoError(t, err)
	assert.Empty(t, recs)

	tag, err := st.EnsureTag(ctx, "go")
	require.NoError(t, err)
	assert.NotZero(t, tag.ID, "tags outlive the studies that used them")
}

func TestOverdueScheduleQuery(t *testing.T) {
	ctx := context.Background()
	st := openTest(t)
	tr := seedTrack(t, st)
	sch := seedSchedule(t, st, tr.ID, 1, -10)
	seedStudy(t, st, sch, 5)

	list, err := st.FindSchedulesWithOverdueStudies(ctx, base)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, sch.ID, list[0].ID)

	list, err = st.FindSchedulesWithOverdueStudies(ctx, base.AddDate(0, 0, -5))
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestTrackOfUser(t *testing.T) {
	ctx := context.Background()
	st := openTest(t)
	tr := seedTrack(t, st)
	require.NoError(t, st.EnrollUser(ctx, 42, tr.ID))

	got, err := st.TrackOfUser(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, tr.ID, got.ID)
	assert.True(t, got.EndDate.Equal(tr.EndDate))

	_, err = st.TrackOfUser(ctx, 43)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAuditAndDedup(t *testing.T) {
	ctx := context.Background()
	st := openTest(t)

	require.NoError(t, st.AppendAudit(ctx, AuditEntry{ActorID: 9, Action: "study.approve", Target: "study:1", OK: true, At: base}))
	require.NoError(t, st.AppendAudit(ctx, AuditEntry{ActorID: 9, Action: "study.reject", Target: "study:2", Error: "nope", At: base.Add(time.Minute)}))

	entries, err := st.RecentAudit(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "study.reject", entries[0].Action)
	assert.Equal(t, "nope", entries[0].Error)
	assert.False(t, entries[0].OK)
	assert.True(t, entries[1].OK)
	assert.NotEmpty(t, entries[1].ID)

	_, ok, err := st.GetDedup(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	until := base.Add(time.Hour)
	require.NoError(t, st.PutDedup(ctx, "k", until))
	got, ok, err := st.GetDedup(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, got.Equal(until))
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "postgres", Path: "x"}, logx.Nop())
	assert.Error(t, err)
	_, err = Open(Config{}, logx.Nop())
	assert.Error(t, err)
}
