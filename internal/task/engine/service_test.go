package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recruitd/internal/eventbus"
	"recruitd/pkg/logx"
)

func startEngine(t *testing.T, cfg Config) (*Service, eventbus.Bus) {
	t.Helper()
	bus := eventbus.New()
	cfg.Enabled = true
	s := New(cfg, logx.Nop(), bus)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s, bus
}

func TestEnqueueRunsTask(t *testing.T) {
	s, bus := startEngine(t, Config{Workers: 2, QueueSize: 4})
	events, unsub := bus.Subscribe(8, "task.finished")
	defer unsub()

	done := make(chan struct{})
	require.NoError(t, s.Enqueue(Task{Name: "hello", Run: func(ctx context.Context) error {
		close(done)
		return nil
	}}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run")
	}
	select {
	case e := <-events:
		assert.Equal(t, "hello", e.Data.(TaskEvent).Name)
	case <-time.After(2 * time.Second):
		t.Fatal("no task.finished event")
	}
}

func TestPanicBecomesFailure(t *testing.T) {
	s, bus := startEngine(t, Config{Workers: 1, QueueSize: 4})
	events, unsub := bus.Subscribe(8, "task.failed")
	defer unsub()

	require.NoError(t, s.Enqueue(Task{Name: "bad", Run: func(ctx context.Context) error { panic("oops") }}))

	select {
	case e := <-events:
		assert.Contains(t, e.Data.(TaskEvent).Error, "panic: oops")
	case <-time.After(2 * time.Second):
		t.Fatal("no task.failed event")
	}

	// The worker survives.
	ran := make(chan struct{})
	require.NoError(t, s.Enqueue(Task{Name: "after", Run: func(ctx context.Context) error { close(ran); return nil }}))
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("worker died after panic")
	}
}

func TestTasksRunOnce(t *testing.T) {
	s, _ := startEngine(t, Config{Workers: 1, QueueSize: 4})
	var calls atomic.Int32
	done := make(chan struct{})
	require.NoError(t, s.Enqueue(Task{Name: "fails", Run: func(ctx context.Context) error {
		calls.Add(1)
		close(done)
		return errors.New("permanent")
	}}))
	<-done
	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 1, calls.Load())
}

func TestQueueFull(t *testing.T) {
	s, _ := startEngine(t, Config{Workers: 1, QueueSize: 1})

	block := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, s.Enqueue(Task{Name: "block", Run: func(ctx context.Context) error {
		close(started)
		<-block
		return nil
	}}))
	<-started
	require.NoError(t, s.Enqueue(Task{Name: "queued", Run: func(ctx context.Context) error { return nil }}))

	err := s.Enqueue(Task{Name: "overflow", Run: func(ctx context.Context) error { return nil }})
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.EqualValues(t, 1, s.Snapshot().DroppedQueueFull)
	close(block)
}

func TestLateTasks(t *testing.T) {
	s, _ := startEngine(t, Config{Workers: 1, QueueSize: 4, MaxQueueDelay: 20 * time.Millisecond})

	block := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, s.Enqueue(Task{Name: "block", Run: func(ctx context.Context) error {
		close(started)
		<-block
		return nil
	}}))
	<-started

	var dropped atomic.Bool
	kept := make(chan struct{})
	require.NoError(t, s.Enqueue(Task{Name: "plain", Run: func(ctx context.Context) error {
		dropped.Store(true)
		return nil
	}}))
	require.NoError(t, s.Enqueue(Task{Name: "schedule.recruitment.started", KeepWhenLate: true, Run: func(ctx context.Context) error {
		close(kept)
		return nil
	}}))

	time.Sleep(60 * time.Millisecond)
	close(block)

	select {
	case <-kept:
	case <-time.After(2 * time.Second):
		t.Fatal("late task marked KeepWhenLate was dropped")
	}
	assert.False(t, dropped.Load(), "plain late task must be dropped")
	snap := s.Snapshot()
	assert.EqualValues(t, 1, snap.DroppedStale)
	assert.EqualValues(t, 1, snap.RanLate)
}

func TestConcurrencyKeySerializes(t *testing.T) {
	s, _ := startEngine(t, Config{Workers: 4, QueueSize: 16})

	var running, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		require.NoError(t, s.Enqueue(Task{Name: "sched", ConcurrencyKey: "schedule:7", Run: func(ctx context.Context) error {
			defer wg.Done()
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			return nil
		}}))
	}
	wg.Wait()
	assert.EqualValues(t, 1, peak.Load())
	assert.Zero(t, s.keys.size())
}

func TestEnqueueStates(t *testing.T) {
	disabled := New(Config{}, logx.Nop(), nil)
	assert.ErrorIs(t, disabled.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }}), ErrDisabled)

	stopped := New(Config{Enabled: true}, logx.Nop(), nil)
	assert.ErrorIs(t, stopped.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }}), ErrStopped)

	assert.ErrorIs(t, stopped.Enqueue(Task{Name: "x"}), ErrInvalid)
	assert.ErrorIs(t, stopped.Enqueue(Task{Run: func(context.Context) error { return nil }}), ErrInvalid)
}

func TestInlineRunsSynchronously(t *testing.T) {
	var got error
	in := Inline{OnError: func(_ Task, err error) { got = err }}

	ran := false
	require.NoError(t, in.Enqueue(Task{Name: "x", Run: func(context.Context) error { ran = true; return nil }}))
	assert.True(t, ran)

	require.NoError(t, in.Enqueue(Task{Name: "y", Run: func(context.Context) error { return errors.New("nope") }}))
	assert.EqualError(t, got, "nope")
	assert.ErrorIs(t, in.Enqueue(Task{Name: "z"}), ErrInvalid)
}
