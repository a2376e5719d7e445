package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"recruitd/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue chan queuedTask) {
	for {
		// A closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case t := <-queue:
			s.inFlight.Add(1)
			s.execOne(ctx, t)
			s.inFlight.Add(-1)
		}
	}
}

func (s *Service) execOne(ctx context.Context, qt queuedTask) {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	unlock := s.keys.lock(qt.task.ConcurrencyKey)
	defer unlock()

	start := time.Now()
	queueDelay := max(start.Sub(qt.enqueuedAt), 0)

	late := cfg.MaxQueueDelay > 0 && queueDelay > cfg.MaxQueueDelay
	if late && qt.task.KeepWhenLate {
		s.ranLate.Add(1)
		s.log.Warn("task running late",
			logx.String("task", qt.task.Name),
			logx.Duration("queue_delay", queueDelay),
			logx.Duration("max_queue_delay", cfg.MaxQueueDelay),
		)
	} else if late {
		s.droppedStale.Add(1)
		s.publish("task.dropped", start, TaskEvent{ID: qt.task.ID, Name: qt.task.Name, Started: start, QueueDelay: queueDelay, Error: "stale_queue_delay"})
		s.warn.Warn(s.log, "stale", "task dropped: stale queue",
			logx.String("task", qt.task.Name),
			logx.Duration("queue_delay", queueDelay),
			logx.Uint64("dropped_stale", s.droppedStale.Load()),
		)
		s.record(HistoryItem{ID: qt.task.ID, Name: qt.task.Name, Started: start, QueueDelay: queueDelay, Error: "stale_queue_delay"}, cfg.HistorySize)
		return
	}

	s.publish("task.started", start, TaskEvent{ID: qt.task.ID, Name: qt.task.Name, Started: start, QueueDelay: queueDelay})
	err := s.run(ctx, qt)
	dur := time.Since(start)
	s.executed.Add(1)

	item := HistoryItem{ID: qt.task.ID, Name: qt.task.Name, Started: start, QueueDelay: queueDelay, Duration: dur}
	if err != nil {
		s.failed.Add(1)
		item.Error = err.Error()
		s.log.Warn("task.failed", logx.String("task", qt.task.Name), logx.Err(err), logx.Duration("queue_delay", queueDelay), logx.Duration("dur", dur))
		s.publish("task.failed", time.Now(), TaskEvent{ID: qt.task.ID, Name: qt.task.Name, Started: start, QueueDelay: queueDelay, Duration: dur, Error: item.Error})
	} else {
		s.log.Debug("task.completed", logx.String("task", qt.task.Name), logx.Duration("queue_delay", queueDelay), logx.Duration("dur", dur))
		s.publish("task.finished", time.Now(), TaskEvent{ID: qt.task.ID, Name: qt.task.Name, Started: start, QueueDelay: queueDelay, Duration: dur})
	}
	s.record(item, cfg.HistorySize)
}

// run executes the task once, converting a panic into an error so one bad
// task cannot kill a worker.
func (s *Service) run(ctx context.Context, qt queuedTask) (err error) {
	runCtx := ctx
	if qt.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, qt.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("task.panic", logx.String("task", qt.task.Name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	return qt.task.Run(runCtx)
}
