package scheduler

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"recruitd/internal/task/engine"
	"recruitd/pkg/logx"
)

const maxStartupSpread = 30 * time.Second

// Cron triggers periodic jobs into an Enqueuer. Jobs added before Start are
// kept and registered when it runs.
type Cron struct {
	mu sync.Mutex

	log   logx.Logger
	tz    string
	loc   *time.Location
	tasks Enqueuer

	parser cron.Parser
	c      *cron.Cron
	jobs   []*cronJob
}

type cronJob struct {
	name    string
	spec    ParsedSpec
	timeout time.Duration
	run     func(ctx context.Context) error
	entryID cron.EntryID
}

// NewCron builds a periodic trigger. tz is an IANA zone name; empty means Local.
func NewCron(tz string, tasks Enqueuer, log logx.Logger) *Cron {
	if tasks == nil {
		tasks = engine.Inline{}
	}
	return &Cron{
		log:   log.With(logx.String("comp", "cron")),
		tz:    strings.TrimSpace(tz),
		tasks: tasks,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Add registers (or replaces, by name) a periodic job. See ParseSchedule for
// the accepted spec forms.
func (s *Cron) Add(name, spec string, timeout time.Duration, run func(ctx context.Context) error) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrNameRequired
	}
	ps, err := ParseSchedule(spec)
	if err != nil {
		return err
	}
	if ps.Kind == SpecCron {
		if _, err := s.parser.Parse(ps.Cron); err != nil {
			return fmt.Errorf("cron %q: %w", ps.Cron, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
	j := &cronJob{name: name, spec: ps, timeout: timeout, run: run}
	s.jobs = append(s.jobs, j)
	if s.c != nil {
		s.scheduleLocked(j)
	}
	s.log.Debug("periodic job registered", logx.String("name", name), logx.String("spec", ps.String()))
	return nil
}

// Remove unregisters a job by name.
func (s *Cron) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(strings.TrimSpace(name))
}

func (s *Cron) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.loc = s.loadLocation()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for _, j := range s.jobs {
		s.scheduleLocked(j)
	}
	s.c.Start()
	s.log.Info("cron started", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.jobs)))
}

// Stop halts triggering. Running trigger functions are waited for until ctx
// is done; work already handed to the Enqueuer is not affected.
func (s *Cron) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	for _, j := range s.jobs {
		j.entryID = 0
	}
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

// Entries lists registered jobs with their next/previous trigger times.
func (s *Cron) Entries() []CronInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CronInfo, 0, len(s.jobs))
	for _, j := range s.jobs {
		it := CronInfo{Name: j.name, Spec: j.spec.String()}
		if s.c != nil && j.entryID != 0 {
			e := s.c.Entry(j.entryID)
			it.Next, it.Prev = e.Next, e.Prev
		}
		out = append(out, it)
	}
	return out
}

func (s *Cron) removeLocked(name string) bool {
	for i, j := range s.jobs {
		if j.name != name {
			continue
		}
		if s.c != nil && j.entryID != 0 {
			s.c.Remove(j.entryID)
		}
		s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
		return true
	}
	return false
}

func (s *Cron) scheduleLocked(j *cronJob) {
	trigger := cron.FuncJob(func() {
		err := s.tasks.Enqueue(engine.Task{Name: "cron." + j.name, Timeout: j.timeout, Run: j.run, ConcurrencyKey: "cron:" + j.name})
		if err != nil {
			s.log.Warn("periodic job failed to enqueue", logx.String("name", j.name), logx.Err(err))
		}
	})

	if j.spec.Kind == SpecInterval {
		j.entryID = s.c.Schedule(intervalWithSpread(j.spec.Every, time.Now().In(s.loc), j.name), trigger)
		return
	}
	id, err := s.c.AddJob(j.spec.Cron, trigger)
	if err != nil {
		s.log.Error("periodic job register failed", logx.String("name", j.name), logx.Err(err))
		return
	}
	j.entryID = id
}

func (s *Cron) loadLocation() *time.Location {
	if s.tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(s.tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", s.tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// spreadSchedule delays only the first run of an interval job by a
// name-derived jitter, so jobs registered together do not fire together.
type spreadSchedule struct {
	base  cron.Schedule
	first time.Time
}

func (s *spreadSchedule) Next(t time.Time) time.Time {
	if t.Before(s.first) {
		return s.first
	}
	return s.base.Next(t)
}

func intervalWithSpread(every time.Duration, now time.Time, name string) cron.Schedule {
	base := cron.Every(every)
	spread := min(every, maxStartupSpread)
	if spread <= 0 {
		return base
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	rng := rand.New(rand.NewSource(int64(h.Sum64()) ^ now.UnixNano()))
	return &spreadSchedule{base: base, first: now.Add(every + time.Duration(rng.Int63n(int64(spread))))}
}
