package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recruitd/internal/domain"
	"recruitd/internal/eventbus"
	"recruitd/internal/storage"
	"recruitd/internal/task/engine"
	"recruitd/internal/task/scheduler"
	"recruitd/internal/task/timer"
	"recruitd/pkg/logx"
)

const day = 24 * time.Hour

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type harness struct {
	clock  *timer.Fake
	store  *storage.Store
	bus    eventbus.Bus
	events <-chan eventbus.Event
	reg    *scheduler.Registry
	exec   *Executor
	mgr    *Manager
	rec    *Reconciler
}

func openStore(t *testing.T) *storage.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: ":memory:"}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// newHarness wires the lifecycle stack the way the daemon does, with a fake
// clock and inline dispatch. The listener is attached to the store's commit
// hooks only when listen is set.
func newHarness(t *testing.T, st *storage.Store, clock *timer.Fake, cfg Config, listen bool) *harness {
	t.Helper()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(64, Topics()...)
	t.Cleanup(unsub)

	m := NewMetrics(prometheus.NewRegistry())
	reg := scheduler.NewRegistry(clock, engine.Inline{}, logx.Nop())
	exec := NewExecutor(st, bus, clock, cfg, logx.Nop(), m)
	mgr := NewManager(reg, exec, cfg, logx.Nop())
	if listen {
		st.OnCommit(NewListener(mgr, exec, logx.Nop()).OnScheduleChange)
	}
	return &harness{
		clock:  clock,
		store:  st,
		bus:    bus,
		events: ch,
		reg:    reg,
		exec:   exec,
		mgr:    mgr,
		rec:    NewReconciler(st, mgr, exec, clock, logx.Nop(), m),
	}
}

func (h *harness) drain() []eventbus.Event {
	var out []eventbus.Event
	for {
		select {
		case ev := <-h.events:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func topics(evs []eventbus.Event) []string {
	out := make([]string, len(evs))
	for i, ev := range evs {
		out[i] = ev.Type
	}
	return out
}

func seedTrack(t *testing.T, st *storage.Store) domain.Track {
	t.Helper()
	tr := domain.Track{Name: "backend", StartDate: t0.Add(-30 * day), EndDate: t0.Add(180 * day)}
	require.NoError(t, st.CreateTrack(context.Background(), &tr))
	return tr
}

func createSchedule(t *testing.T, st *storage.Store, sch *domain.Schedule) {
	t.Helper()
	require.NoError(t, st.WithTx(context.Background(), func(tx *storage.Tx) error {
		return tx.CreateSchedule(context.Background(), sch)
	}))
}

func seedStudy(t *testing.T, st *storage.Store, sch domain.Schedule, members int) *domain.Study {
	t.Helper()
	s := domain.NewStudy(1, sch, domain.StudyInfo{Name: "s", Description: "d", Capacity: 5, Budget: domain.BudgetNone}, t0)
	s.MemberCount = members
	require.NoError(t, st.InsertStudy(context.Background(), s))
	return s
}

func TestAlertScenarioFiresThreeEventsInOrder(t *testing.T) {
	st := openStore(t)
	clock := timer.NewFake(t0)
	h := newHarness(t, st, clock, Config{AlertDays: 3}, true)
	tr := seedTrack(t, st)

	sch := domain.Schedule{TrackID: tr.ID, Month: 1, RecruitStartDate: t0.Add(day), RecruitEndDate: t0.Add(4 * day), StudyEndDate: t0.Add(30 * day)}
	createSchedule(t, st, &sch)

	snap := h.reg.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, string(KindRecruitmentStarted), snap[0].Kind)
	assert.Equal(t, t0.Add(day), snap[0].FireAt)
	assert.Equal(t, string(KindRecruitmentEndingSoon), snap[1].Kind)
	assert.Equal(t, t0.Add(day), snap[1].FireAt)
	assert.Equal(t, string(KindStudyEndingSoon), snap[2].Kind)
	assert.Equal(t, t0.Add(27*day), snap[2].FireAt)

	assert.Equal(t, 2, clock.Advance(day))
	evs := h.drain()
	assert.Equal(t, []string{TopicRecruitmentStarted, TopicRecruitmentEndingSoon}, topics(evs))
	started, ok := evs[0].Data.(RecruitmentStarted)
	require.True(t, ok)
	assert.Equal(t, sch.ID, started.ScheduleID)
	assert.Equal(t, tr.ID, started.TrackID)
	assert.Equal(t, domain.Month(1), started.Month)
	assert.Equal(t, t0.Add(day), started.At)

	assert.Zero(t, clock.Advance(25*day))
	assert.Empty(t, h.drain())

	assert.Equal(t, 1, clock.Advance(day))
	evs = h.drain()
	require.Equal(t, []string{TopicStudyEndingSoon}, topics(evs))
	ending := evs[0].Data.(StudyEndingSoon)
	assert.Equal(t, t0.Add(27*day), ending.At)
	assert.Equal(t, sch.StudyEndDate, ending.StudyEndDate)

	assert.Zero(t, clock.Advance(30*day))
	assert.Empty(t, h.drain())
	assert.Zero(t, h.reg.Len())
}

func TestUpdateReplacesTimers(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	clock := timer.NewFake(t0)
	h := newHarness(t, st, clock, Config{AlertDays: 3}, true)
	tr := seedTrack(t, st)

	sch := domain.Schedule{TrackID: tr.ID, Month: 1, RecruitStartDate: t0.Add(day), RecruitEndDate: t0.Add(10 * day), StudyEndDate: t0.Add(30 * day)}
	createSchedule(t, st, &sch)
	require.Equal(t, 3, h.reg.Len())

	moved := sch
	moved.RecruitStartDate = t0.Add(2 * day)
	moved.RecruitEndDate = t0.Add(12 * day)
	require.NoError(t, st.WithTx(ctx, func(tx *storage.Tx) error { return tx.UpdateSchedule(ctx, moved) }))

	snap := h.reg.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, t0.Add(2*day), snap[0].FireAt)
	assert.Equal(t, t0.Add(9*day), snap[1].FireAt)

	assert.Zero(t, clock.Advance(day), "the first registration's timers are gone")
	assert.Empty(t, h.drain())

	assert.Equal(t, 1, clock.Advance(day))
	assert.Equal(t, []string{TopicRecruitmentStarted}, topics(h.drain()))
}

func TestDeleteCancelsTimers(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	clock := timer.NewFake(t0)
	h := newHarness(t, st, clock, Config{AlertDays: 3, BoundaryTransitions: true}, true)
	tr := seedTrack(t, st)

	sch := domain.Schedule{TrackID: tr.ID, Month: 1, RecruitStartDate: t0.Add(day), RecruitEndDate: t0.Add(4 * day), StudyEndDate: t0.Add(30 * day)}
	createSchedule(t, st, &sch)
	require.Equal(t, 5, h.reg.Len())

	require.NoError(t, st.WithTx(ctx, func(tx *storage.Tx) error { return tx.DeleteSchedule(ctx, sch.ID) }))
	assert.Zero(t, h.reg.Len())
	assert.Zero(t, clock.Pending())
	clock.Advance(60 * day)
	assert.Empty(t, h.drain())
}

func TestExecuteIsNoOpWhenScheduleMissingOrMoved(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	clock := timer.NewFake(t0)
	h := newHarness(t, st, clock, Config{AlertDays: 3}, false)
	tr := seedTrack(t, st)

	require.NoError(t, h.exec.Execute(ctx, 404, KindRecruitmentStarted))

	sch := domain.Schedule{TrackID: tr.ID, Month: 1, RecruitStartDate: t0.Add(day), RecruitEndDate: t0.Add(4 * day), StudyEndDate: t0.Add(30 * day)}
	createSchedule(t, st, &sch)

	// Fired for the old dates, but the schedule now starts tomorrow.
	require.NoError(t, h.exec.Execute(ctx, sch.ID, KindRecruitmentStarted))
	// Study already over: no ending-soon any more.
	clock.Advance(31 * day)
	require.NoError(t, h.exec.Execute(ctx, sch.ID, KindStudyEndingSoon))
	assert.Empty(t, h.drain())
}

func TestBoundaryTimersDriveStudies(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	clock := timer.NewFake(t0)
	_ = newHarness(t, st, clock, Config{AlertDays: 3, BoundaryTransitions: true}, true)
	tr := seedTrack(t, st)

	sch := domain.Schedule{TrackID: tr.ID, Month: 1, RecruitStartDate: t0.Add(-day), RecruitEndDate: t0.Add(4 * day), StudyEndDate: t0.Add(30 * day)}
	createSchedule(t, st, &sch)
	running := seedStudy(t, st, sch, 2)
	idle := seedStudy(t, st, sch, 1)

	clock.Advance(4 * day)
	got, err := st.LoadStudy(ctx, running.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProgressRecruitingClosed, got.Progress)

	require.NoError(t, got.Start(2, clock.Now()))
	require.NoError(t, st.SaveStudy(ctx, got))

	clock.Advance(26 * day)
	got, err = st.LoadStudy(ctx, running.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProgressCompleted, got.Progress)

	other, err := st.LoadStudy(ctx, idle.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProgressRecruitingClosed, other.Progress, "never started, so never completed")
}

func TestRestartReconcileMatchesLiveRegistration(t *testing.T) {
	st := openStore(t)
	clock := timer.NewFake(t0)
	cfg := Config{AlertDays: 3, BoundaryTransitions: true}
	live := newHarness(t, st, clock, cfg, true)
	tr := seedTrack(t, st)

	for m := domain.Month(1); m <= 4; m++ {
		start := t0.Add(time.Duration(int(m)-2) * 30 * day)
		sch := domain.Schedule{TrackID: tr.ID, Month: m, RecruitStartDate: start, RecruitEndDate: start.Add(7 * day), StudyEndDate: start.Add(30 * day)}
		createSchedule(t, st, &sch)
	}
	want := live.reg.Snapshot()
	require.NotEmpty(t, want)
	live.reg.Teardown()

	restarted := newHarness(t, st, clock, cfg, false)
	restarted.rec.pageSize = 2
	res, err := restarted.rec.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Schedules, "month 1 ended before now")
	assert.Equal(t, len(want), res.Timers)
	assert.Equal(t, want, restarted.reg.Snapshot())
}

func TestReconcileCatchesUpMissedClose(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	clock := timer.NewFake(t0)
	tr := seedTrack(t, st)

	sch := domain.Schedule{TrackID: tr.ID, Month: 1, RecruitStartDate: t0.Add(-10 * day), RecruitEndDate: t0.Add(-2 * day), StudyEndDate: t0.Add(20 * day)}
	createSchedule(t, st, &sch)
	s := seedStudy(t, st, sch, 2)

	off := newHarness(t, st, clock, Config{AlertDays: 3}, false)
	res, err := off.rec.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.CaughtUp, "boundary transitions disabled")

	on := newHarness(t, st, clock, Config{AlertDays: 3, BoundaryTransitions: true}, false)
	res, err = on.rec.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Schedules)
	assert.Equal(t, 1, res.CaughtUp)

	got, err := st.LoadStudy(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProgressRecruitingClosed, got.Progress)

	n, err := on.rec.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "already converged")
}

func TestEditIntoPastClosesImmediately(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	clock := timer.NewFake(t0)
	newHarness(t, st, clock, Config{AlertDays: 3, BoundaryTransitions: true}, true)
	tr := seedTrack(t, st)

	sch := domain.Schedule{TrackID: tr.ID, Month: 1, RecruitStartDate: t0.Add(-2 * day), RecruitEndDate: t0.Add(4 * day), StudyEndDate: t0.Add(30 * day)}
	createSchedule(t, st, &sch)
	s := seedStudy(t, st, sch, 2)

	sch.RecruitEndDate = t0.Add(-time.Hour)
	require.NoError(t, st.WithTx(ctx, func(tx *storage.Tx) error { return tx.UpdateSchedule(ctx, sch) }))

	got, err := st.LoadStudy(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProgressRecruitingClosed, got.Progress, "no sweep needed")
}

func TestEditWithoutBoundaryTransitionsLeavesStudies(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	clock := timer.NewFake(t0)
	newHarness(t, st, clock, Config{AlertDays: 3}, true)
	tr := seedTrack(t, st)

	sch := domain.Schedule{TrackID: tr.ID, Month: 1, RecruitStartDate: t0.Add(-2 * day), RecruitEndDate: t0.Add(4 * day), StudyEndDate: t0.Add(30 * day)}
	createSchedule(t, st, &sch)
	s := seedStudy(t, st, sch, 2)

	sch.RecruitEndDate = t0.Add(-time.Hour)
	require.NoError(t, st.WithTx(ctx, func(tx *storage.Tx) error { return tx.UpdateSchedule(ctx, sch) }))

	got, err := st.LoadStudy(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProgressRecruiting, got.Progress)
}
