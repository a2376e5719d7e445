package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"recruitd/internal/task/engine"
	"recruitd/internal/task/timer"
	"recruitd/pkg/logx"
)

// Registry owns every armed one-shot timer, keyed by schedule id.
//
// Operations on one schedule id are serialized by that id's slot lock;
// different ids only contend on the short map lookup. Each slot carries a
// generation counter bumped by every Register and Cancel, so a callback whose
// clock timer already fired but lost the race is recognised and dropped.
// Callbacks never run the work themselves: they hand it to the Enqueuer
// outside any registry lock.
type Registry struct {
	clock   timer.Clock
	tasks   Enqueuer
	log     logx.Logger
	metrics *Metrics
	timeout time.Duration

	mu     sync.Mutex
	slots  map[int64]*slot
	closed bool

	armed atomic.Int64
}

type slot struct {
	mu    sync.Mutex
	gen   uint64
	dead  bool
	timer []*armedTimer
}

type armedTimer struct {
	kind   string
	fireAt time.Time
	handle timer.Handle
}

type RegistryOption func(*Registry)

func WithMetrics(m *Metrics) RegistryOption { return func(r *Registry) { r.metrics = m } }

// WithTaskTimeout bounds each dispatched timer job.
func WithTaskTimeout(d time.Duration) RegistryOption { return func(r *Registry) { r.timeout = d } }

func NewRegistry(clock timer.Clock, tasks Enqueuer, log logx.Logger, opts ...RegistryOption) *Registry {
	if clock == nil {
		clock = timer.Real()
	}
	if tasks == nil {
		tasks = engine.Inline{}
	}
	r := &Registry{
		clock: clock,
		tasks: tasks,
		log:   log.With(logx.String("comp", "scheduler")),
		slots: map[int64]*slot{},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register replaces every timer armed for scheduleID with timers. Only timers
// whose FireAt is strictly after the clock's now are armed; past-due ones are
// skipped and never run. It returns how many timers were armed.
func (r *Registry) Register(scheduleID int64, timers []Timer) (int, error) {
	sl, err := r.acquire(scheduleID)
	if err != nil {
		return 0, err
	}
	defer sl.mu.Unlock()

	r.stopLocked(sl)
	sl.gen++
	gen := sl.gen

	now := r.clock.Now()
	for _, t := range timers {
		if t.Run == nil {
			continue
		}
		if !t.FireAt.After(now) {
			r.metrics.incPastDue(t.Kind)
			r.log.Debug("timer skipped: past due",
				logx.ScheduleID(scheduleID),
				logx.String("kind", t.Kind),
				logx.Time("fire_at", t.FireAt),
			)
			continue
		}
		at := &armedTimer{kind: t.Kind, fireAt: t.FireAt}
		at.handle = r.clock.AfterFunc(t.FireAt.Sub(now), r.callback(scheduleID, sl, gen, at, t.Run))
		sl.timer = append(sl.timer, at)
		if r.log.Enabled(logx.LevelDebug) {
			r.log.Debug("timer armed",
				logx.ScheduleID(scheduleID),
				logx.String("kind", t.Kind),
				logx.Time("fire_at", t.FireAt),
				logx.String("in", humanize.RelTime(t.FireAt, now, "ago", "from now")),
			)
		}
	}

	n := len(sl.timer)
	r.addArmed(n)
	if n == 0 {
		r.dropLocked(scheduleID, sl)
	}
	return n, nil
}

// Cancel stops every timer armed for scheduleID. It returns how many were
// stopped; cancelling an unknown id is a no-op.
func (r *Registry) Cancel(scheduleID int64) int {
	r.mu.Lock()
	sl := r.slots[scheduleID]
	r.mu.Unlock()
	if sl == nil {
		return 0
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.dead {
		return 0
	}
	n := r.stopLocked(sl)
	sl.gen++
	r.dropLocked(scheduleID, sl)
	return n
}

// Teardown cancels everything and refuses further registrations.
func (r *Registry) Teardown() int {
	r.mu.Lock()
	r.closed = true
	slots := make([]*slot, 0, len(r.slots))
	for id, sl := range r.slots {
		slots = append(slots, sl)
		delete(r.slots, id)
	}
	r.mu.Unlock()

	total := 0
	for _, sl := range slots {
		sl.mu.Lock()
		total += r.stopLocked(sl)
		sl.gen++
		sl.dead = true
		sl.mu.Unlock()
	}
	r.log.Info("timers torn down", logx.Int("cancelled", total))
	return total
}

// Len returns the number of armed timers.
func (r *Registry) Len() int { return int(r.armed.Load()) }

// Snapshot lists armed timers ordered by fire time.
func (r *Registry) Snapshot() []TimerInfo {
	r.mu.Lock()
	ids := make([]int64, 0, len(r.slots))
	slots := make([]*slot, 0, len(r.slots))
	for id, sl := range r.slots {
		ids = append(ids, id)
		slots = append(slots, sl)
	}
	r.mu.Unlock()

	var out []TimerInfo
	for i, sl := range slots {
		sl.mu.Lock()
		if !sl.dead {
			for _, at := range sl.timer {
				out = append(out, TimerInfo{ScheduleID: ids[i], Kind: at.kind, FireAt: at.fireAt})
			}
		}
		sl.mu.Unlock()
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].FireAt.Equal(out[j].FireAt) {
			return out[i].ScheduleID < out[j].ScheduleID
		}
		return out[i].FireAt.Before(out[j].FireAt)
	})
	return out
}

// acquire returns the locked slot for id, creating it if needed.
func (r *Registry) acquire(id int64) (*slot, error) {
	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return nil, ErrRegistryClosed
		}
		sl := r.slots[id]
		if sl == nil {
			sl = &slot{}
			r.slots[id] = sl
		}
		r.mu.Unlock()

		sl.mu.Lock()
		if !sl.dead {
			return sl, nil
		}
		// Removed between lookup and lock; retry with a fresh slot.
		sl.mu.Unlock()
	}
}

// stopLocked stops and forgets every armed timer of sl. Call with sl.mu held.
func (r *Registry) stopLocked(sl *slot) int {
	n := len(sl.timer)
	for _, at := range sl.timer {
		at.handle.Stop()
	}
	sl.timer = nil
	r.addArmed(-n)
	return n
}

// dropLocked unlinks an empty slot from the map. Call with sl.mu held.
func (r *Registry) dropLocked(id int64, sl *slot) {
	sl.dead = true
	r.mu.Lock()
	if r.slots[id] == sl {
		delete(r.slots, id)
	}
	r.mu.Unlock()
}

func (r *Registry) addArmed(delta int) {
	if delta == 0 {
		return
	}
	r.metrics.setArmed(int(r.armed.Add(int64(delta))))
}

func (r *Registry) callback(id int64, sl *slot, gen uint64, at *armedTimer, run func(context.Context) error) func() {
	return func() {
		sl.mu.Lock()
		if sl.dead || sl.gen != gen || !sl.forget(at) {
			sl.mu.Unlock()
			r.metrics.incStale(at.kind)
			r.log.Debug("timer callback discarded: superseded", logx.ScheduleID(id), logx.String("kind", at.kind))
			return
		}
		r.addArmed(-1)
		if len(sl.timer) == 0 {
			r.dropLocked(id, sl)
		}
		sl.mu.Unlock()

		r.metrics.incFired(at.kind)
		err := r.tasks.Enqueue(engine.Task{
			Name:           "schedule." + at.kind,
			Timeout:        r.timeout,
			ConcurrencyKey: fmt.Sprintf("schedule:%d", id),
			Run:            run,
			// The slot already forgot this timer, so a dropped task would never fire again.
			KeepWhenLate: true,
		})
		if err != nil {
			r.metrics.incDispatchError()
			r.log.Error("timer dispatch failed",
				logx.ScheduleID(id),
				logx.String("kind", at.kind),
				logx.Err(err),
			)
		}
	}
}

func (sl *slot) forget(at *armedTimer) bool {
	for i, cur := range sl.timer {
		if cur == at {
			sl.timer = append(sl.timer[:i], sl.timer[i+1:]...)
			return true
		}
	}
	return false
}
