package scheduler

import (
	"context"
	"errors"
	"time"

	"recruitd/internal/task/engine"
)

var (
	ErrRegistryClosed = errors.New("scheduler: registry closed")
	ErrNameRequired   = errors.New("scheduler: name required")
)

// Enqueuer accepts fired work. *engine.Service and engine.Inline satisfy it.
type Enqueuer interface {
	Enqueue(t engine.Task) error
}

// Timer is one absolute-instant job for a schedule.
type Timer struct {
	// Kind labels the timer in logs, metrics and snapshots.
	Kind   string
	FireAt time.Time
	Run    func(ctx context.Context) error
}

// TimerInfo describes an armed timer.
type TimerInfo struct {
	ScheduleID int64     `json:"schedule_id"`
	Kind       string    `json:"kind"`
	FireAt     time.Time `json:"fire_at"`
}

// CronInfo describes a periodic job.
type CronInfo struct {
	Name string    `json:"name"`
	Spec string    `json:"spec"`
	Next time.Time `json:"next"`
	Prev time.Time `json:"prev"`
}
