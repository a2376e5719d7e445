package config

// Config is the daemon configuration file (JSON or YAML).
//
// All durations are Go duration strings ("500ms", "10s", "1m").
type Config struct {
	Logging    LoggingConfig    `json:"logging"`
	Storage    StorageConfig    `json:"storage"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	TaskEngine TaskEngineConfig `json:"task_engine"`

	// Notifier defaults to enabled when the section is omitted.
	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Study    StudyConfig     `json:"study"`
	Ops      OpsConfig       `json:"ops"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	JSON    bool        `json:"json,omitempty"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the persistence backend. Only "sqlite" is supported.
//
//	"storage": { "driver": "sqlite", "path": "./recruitd.db", "busy_timeout": "5s" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// SchedulerConfig controls lifecycle timers and the boundary sweep.
//
// Enabled and BoundaryTransitions are pointers so an omitted key keeps the
// default (on) while an explicit false is honored.
type SchedulerConfig struct {
	Enabled             *bool  `json:"enabled,omitempty"`
	Timezone            string `json:"timezone,omitempty"`
	AlertDays           int    `json:"alert_days,omitempty"`
	BoundaryTransitions *bool  `json:"boundary_transitions,omitempty"`
	// Sweep is the periodic boundary sweep ("@every 10m", a cron expression,
	// or "off").
	Sweep string `json:"sweep,omitempty"`
}

// TaskEngineConfig controls the worker pool timer callbacks run on.
//
// Defaults: workers 2, queue_size 256, default_timeout 30s,
// max_queue_delay 0s (disabled), history_size 200.
type TaskEngineConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	MaxQueueDelay  string `json:"max_queue_delay,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
}

type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
	PersistDedup    bool   `json:"persist_dedup,omitempty"`
}

// StudyConfig overrides the study size and participation limits. Zero keeps
// the built-in default.
type StudyConfig struct {
	MinCapacity       int `json:"min_capacity,omitempty"`
	MaxCapacity       int `json:"max_capacity,omitempty"`
	MinStartMembers   int `json:"min_start_members,omitempty"`
	MaxActivePerMonth int `json:"max_active_per_month,omitempty"`
}

// OpsConfig controls the operator HTTP endpoint.
//
// Prefer a loopback Addr. A non-loopback bind needs a token or allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:9470"
	Token         string `json:"token,omitempty"` // do not log
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Metrics       bool   `json:"metrics"`
	Pprof         bool   `json:"pprof"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}
