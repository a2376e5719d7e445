package notifier

import (
	"context"
	"time"

	"recruitd/internal/domain"
	"recruitd/internal/lifecycle"
	"recruitd/pkg/logx"
)

// Config controls the relay pipeline.
type Config struct {
	Enabled         bool          `json:"enabled"`
	Workers         int           `json:"workers"`
	QueueSize       int           `json:"queue_size"`
	RatePerSec      int           `json:"rate_per_sec"`
	RetryMax        int           `json:"retry_max"`
	RetryBase       time.Duration `json:"-"`
	RetryMaxDelay   time.Duration `json:"-"`
	DedupWindow     time.Duration `json:"-"`
	DedupMaxEntries int           `json:"dedup_max_entries"`
	PersistDedup    bool          `json:"persist_dedup"`
}

// Notification is the rendered form of one lifecycle event.
type Notification struct {
	Topic      string          `json:"topic"`
	Key        string          `json:"key"`
	ScheduleID int64           `json:"schedule_id"`
	TrackID    int64           `json:"track_id"`
	Month      domain.Month    `json:"month"`
	At         time.Time       `json:"at"`
	Text       string          `json:"text"`
	Event      lifecycle.Event `json:"-"`
}

// Dispatcher delivers notifications to recipients.
type Dispatcher interface {
	Dispatch(ctx context.Context, n Notification) error
}

// DedupStore persists suppression windows. *storage.Store implements it.
type DedupStore interface {
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)
}

// LogDispatcher logs every notification instead of delivering it.
type LogDispatcher struct {
	Log logx.Logger
}

func (d LogDispatcher) Dispatch(_ context.Context, n Notification) error {
	d.Log.Info("notification",
		logx.String("topic", n.Topic),
		logx.ScheduleID(n.ScheduleID),
		logx.TrackID(n.TrackID),
		logx.Int("month", int(n.Month)),
		logx.String("text", n.Text),
	)
	return nil
}

type HistoryItem struct {
	At    time.Time `json:"at"`
	Topic string    `json:"topic"`
	Text  string    `json:"text"`
}

// NotificationEvent is published on the bus for relay outcomes
// (notifier.queued, notifier.sent, notifier.failed, notifier.deduped,
// notifier.dropped).
type NotificationEvent struct {
	Topic      string    `json:"topic"`
	ScheduleID int64     `json:"schedule_id"`
	Key        string    `json:"key"`
	At         time.Time `json:"at"`
	Error      string    `json:"error,omitempty"`
}
