package lifecycle

import (
	"context"
	"time"

	"recruitd/internal/domain"
	"recruitd/internal/task/scheduler"
	"recruitd/pkg/logx"
)

const DefaultAlertDays = 3

// Config controls which timers a schedule gets.
type Config struct {
	// AlertDays is how long before recruitEnd and studyEnd the ending-soon
	// events fire.
	AlertDays int
	// BoundaryTransitions adds timers at recruitEnd (close recruitment) and
	// studyEnd (complete studies).
	BoundaryTransitions bool
}

func (c Config) alert() time.Duration {
	days := c.AlertDays
	if days <= 0 {
		days = DefaultAlertDays
	}
	return time.Duration(days) * 24 * time.Hour
}

// Runner executes a fired timer. *Executor implements it.
type Runner interface {
	Execute(ctx context.Context, scheduleID int64, kind Kind) error
}

// Manager owns the mapping from schedule dates to registry timers.
type Manager struct {
	reg *scheduler.Registry
	run Runner
	cfg Config
	log logx.Logger
}

func NewManager(reg *scheduler.Registry, run Runner, cfg Config, log logx.Logger) *Manager {
	return &Manager{reg: reg, run: run, cfg: cfg, log: log.With(logx.String("comp", "lifecycle"))}
}

// Plan returns every timer a schedule with the given dates needs, past ones
// included; the registry drops those that are not in the future.
func (m *Manager) Plan(scheduleID int64, recruitStart, recruitEnd, studyEnd time.Time) []scheduler.Timer {
	alert := m.cfg.alert()
	timers := []scheduler.Timer{
		m.timer(scheduleID, KindRecruitmentStarted, recruitStart),
		m.timer(scheduleID, KindRecruitmentEndingSoon, recruitEnd.Add(-alert)),
		m.timer(scheduleID, KindStudyEndingSoon, studyEnd.Add(-alert)),
	}
	if m.cfg.BoundaryTransitions {
		timers = append(timers,
			m.timer(scheduleID, KindRecruitmentClose, recruitEnd),
			m.timer(scheduleID, KindStudyComplete, studyEnd),
		)
	}
	return timers
}

func (m *Manager) timer(scheduleID int64, kind Kind, at time.Time) scheduler.Timer {
	run := m.run
	return scheduler.Timer{
		Kind:   string(kind),
		FireAt: at,
		Run: func(ctx context.Context) error {
			return run.Execute(ctx, scheduleID, kind)
		},
	}
}

// RegisterSchedule replaces every timer of the schedule with the ones its
// current dates call for. It returns how many were armed.
func (m *Manager) RegisterSchedule(scheduleID int64, recruitStart, recruitEnd, studyEnd time.Time) (int, error) {
	n, err := m.reg.Register(scheduleID, m.Plan(scheduleID, recruitStart, recruitEnd, studyEnd))
	if err != nil {
		return 0, err
	}
	m.log.Debug("schedule timers registered", logx.ScheduleID(scheduleID), logx.Int("armed", n))
	return n, nil
}

// Register is RegisterSchedule for a loaded schedule.
func (m *Manager) Register(s domain.Schedule) (int, error) {
	return m.RegisterSchedule(s.ID, s.RecruitStartDate, s.RecruitEndDate, s.StudyEndDate)
}

// CancelSchedule removes every timer of the schedule.
func (m *Manager) CancelSchedule(scheduleID int64) int {
	n := m.reg.Cancel(scheduleID)
	if n > 0 {
		m.log.Debug("schedule timers cancelled", logx.ScheduleID(scheduleID), logx.Int("cancelled", n))
	}
	return n
}

func (m *Manager) Config() Config { return m.cfg }
