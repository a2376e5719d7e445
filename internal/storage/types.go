package storage

import (
	"errors"
	"time"

	"recruitd/internal/domain"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage. Driver must be "sqlite" (the default); Path may
// be ":memory:" for a throwaway database.
type Config struct {
	Driver      string        `json:"driver"`
	Path        string        `json:"path"`
	BusyTimeout time.Duration `json:"-"`
}

// AuditEntry records one administrative action.
type AuditEntry struct {
	ID      string
	At      time.Time
	ActorID int64
	Action  string
	Target  string
	OK      bool
	Error   string
	Meta    string
}

type ChangeOp string

const (
	ChangeCreate ChangeOp = "create"
	ChangeUpdate ChangeOp = "update"
	ChangeDelete ChangeOp = "delete"
)

// ScheduleChange describes a committed schedule mutation. For deletes
// Schedule holds the row as it was before removal.
type ScheduleChange struct {
	Op       ChangeOp
	Schedule domain.Schedule
}

// CommitHook observes committed schedule changes.
type CommitHook func(ScheduleChange)
