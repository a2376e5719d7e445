package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recruitd/internal/domain"
	"recruitd/internal/lifecycle"
	"recruitd/internal/notifier"
	"recruitd/internal/task/scheduler"
	"recruitd/internal/task/timer"
)

const day = 24 * time.Hour

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type collect struct {
	mu  sync.Mutex
	got []notifier.Notification
}

func (c *collect) Dispatch(_ context.Context, n notifier.Notification) error {
	c.mu.Lock()
	c.got = append(c.got, n)
	c.mu.Unlock()
	return nil
}

func (c *collect) topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.got))
	for _, n := range c.got {
		out = append(out, n.Topic)
	}
	return out
}

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "recruitd.json")
	body := fmt.Sprintf(`{
  "logging": {"level": "error"},
  "storage": {"driver": "sqlite", "path": %q},
  "scheduler": {"sweep": "off"},
  "notifier": {"enabled": true, "workers": 1, "queue_size": 16, "rate_per_sec": 50,
    "retry_max": 0, "retry_base": "10ms", "retry_max_delay": "10ms",
    "dedup_window": "1h", "dedup_max_entries": 100}
}`, filepath.Join(dir, "recruitd.db"))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

type timerKey struct {
	kind string
	at   int64
}

func keys(list []scheduler.TimerInfo) []timerKey {
	out := make([]timerKey, 0, len(list))
	for _, ti := range list {
		out = append(out, timerKey{ti.Kind, ti.FireAt.Unix()})
	}
	return out
}

func TestAppLifecycleEndToEnd(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)
	clock := timer.NewFake(t0)
	out := &collect{}

	a, err := NewApp(cfgPath, WithClock(clock), WithDispatcher(out), WithSystemdNotify(false))
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))

	ctx := context.Background()
	tr := domain.Track{Name: "backend", StartDate: t0, EndDate: t0.Add(180 * day)}
	require.NoError(t, a.Store().CreateTrack(ctx, &tr))

	start := t0.Add(day)
	_, err = a.Schedules().Create(ctx, domain.Actor{UserID: 1, Admin: true}, domain.Schedule{
		TrackID:          tr.ID,
		Month:            1,
		RecruitStartDate: start,
		RecruitEndDate:   start.Add(7 * day),
		StudyEndDate:     start.Add(28 * day),
	})
	require.NoError(t, err)

	before := keys(a.Timers())
	assert.ElementsMatch(t, []timerKey{
		{string(lifecycle.KindRecruitmentStarted), start.Unix()},
		{string(lifecycle.KindRecruitmentEndingSoon), start.Add(4 * day).Unix()},
		{string(lifecycle.KindRecruitmentClose), start.Add(7 * day).Unix()},
		{string(lifecycle.KindStudyEndingSoon), start.Add(25 * day).Unix()},
		{string(lifecycle.KindStudyComplete), start.Add(28 * day).Unix()},
	}, before)

	clock.Advance(day)
	require.Eventually(t, func() bool {
		return len(out.topics()) == 1
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{lifecycle.TopicRecruitmentStarted}, out.topics())
	assert.Len(t, a.Timers(), 4)

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Stop(stopCtx, StopAppStop))
	assert.Empty(t, a.Timers())

	// A restart rebuilds the same remaining timers from storage.
	b, err := NewApp(cfgPath, WithClock(clock), WithDispatcher(&collect{}), WithSystemdNotify(false))
	require.NoError(t, err)
	require.NoError(t, b.Start(context.Background()))
	assert.ElementsMatch(t, before[1:], keys(b.Timers()))
	require.NoError(t, b.Stop(stopCtx, StopAppStop))
}

func TestNewAppRejectsBadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "recruitd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  driver: postgres\n"), 0o600))
	_, err := NewApp(path, WithSystemdNotify(false))
	assert.ErrorContains(t, err, "storage.driver")

	_, err = NewApp(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}
