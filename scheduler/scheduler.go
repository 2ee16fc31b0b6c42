// Package scheduler drives cron-triggered plum.EventLoop.CreateTask calls,
// adapted from the teacher's modules/scheduler package: its
// SchedulerOption/CatchUpConfig shape and its use of robfig/cron/v3 for
// expression parsing are kept; the generic JobExecutor/ExtendedJobStore/
// ExecutionStore persistence machinery (built for a general job-execution
// product, not a single-process-engine scheduler) is trimmed down to what
// plum/scheduler actually needs: launch a registered ProcessImpl on each
// firing of its cron schedule.
package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/plumgo/plum"
	"github.com/plumgo/plum/classloader"
)

// Job declares one cron-triggered process launch.
type Job struct {
	Name      string
	Cron      string
	ClassName string
	Inputs    map[string]any
	// CatchUp replays firings missed while the scheduler was not running
	// (bounded by CatchUpWindow), matching the teacher's CatchUpConfig.
	CatchUp bool
}

// CatchUpConfig bounds how much missed-firing replay a Start performs,
// grounded on the teacher's modules/scheduler/catchup.go.
type CatchUpConfig struct {
	Enabled         bool
	MaxCatchUpTasks int
	CatchUpWindow   time.Duration
}

// SchedulerOption configures a Scheduler at construction time, matching the
// teacher's functional-options shape (modules/scheduler/config.go).
type SchedulerOption func(*Scheduler)

// WithCatchUp enables catch-up replay with the given bound.
func WithCatchUp(cfg CatchUpConfig) SchedulerOption {
	return func(s *Scheduler) { s.catchUp = cfg }
}

// WithLogger attaches a diagnostic logger.
func WithLogger(logger plum.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = logger }
}

// entry pairs a Job with its parsed cron.Schedule and last-fired time.
type entry struct {
	job      Job
	schedule cron.Schedule
	lastRun  time.Time
}

// Scheduler launches Processes on loop whenever a registered Job's cron
// expression fires. It owns no goroutine of its own beyond the one started
// by Start; firing is driven by robfig/cron's internal ticker, but the
// actual plum.EventLoop.CreateTask call happens synchronously from that
// ticker callback, matching the single-writer discipline the rest of this
// engine relies on (EventLoop itself is safe for concurrent CreateTask
// calls; Tick is expected to be driven from one goroutine).
type Scheduler struct {
	loop    *plum.EventLoop
	classes *classloader.ClassLoader
	logger  plum.Logger
	catchUp CatchUpConfig

	cronScheduler *cron.Cron

	mu      sync.Mutex
	entries map[string]*entry
}

// New returns a Scheduler that launches processes on loop, resolving
// ClassName via classes.
func New(loop *plum.EventLoop, classes *classloader.ClassLoader, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		loop:          loop,
		classes:       classes,
		logger:        plum.NoopLogger(),
		entries:       make(map[string]*entry),
		cronScheduler: cron.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddJob registers job, parsing its cron expression immediately so a bad
// expression is reported at registration time rather than at the first
// missed firing.
func (s *Scheduler) AddJob(job Job) error {
	schedule, err := cron.ParseStandard(job.Cron)
	if err != nil {
		return fmt.Errorf("scheduler: parsing cron for job %q: %w", job.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[job.Name]; exists {
		return fmt.Errorf("scheduler: job %q already registered", job.Name)
	}
	e := &entry{job: job, schedule: schedule, lastRun: timeNow()}
	s.entries[job.Name] = e

	s.cronScheduler.Schedule(schedule, cron.FuncJob(func() { s.fire(job.Name) }))
	return nil
}

// RemoveJob stops firing job and drops its entry. It does not affect
// processes already launched.
func (s *Scheduler) RemoveJob(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, name)
}

// Start begins firing registered jobs on their schedules. If a job has
// CatchUp set and catch-up is enabled on the Scheduler, Start first replays
// firings missed since the job's lastRun (seeded at AddJob time), bounded by
// CatchUpWindow and MaxCatchUpTasks.
func (s *Scheduler) Start() {
	if s.catchUp.Enabled {
		s.runCatchUp()
	}
	s.cronScheduler.Start()
}

// Stop halts future firings; in-flight launches already handed to the loop
// are unaffected.
func (s *Scheduler) Stop() {
	ctx := s.cronScheduler.Stop()
	<-ctx.Done()
}

func (s *Scheduler) runCatchUp() {
	now := timeNow()
	window := s.catchUp.CatchUpWindow
	if window <= 0 {
		return
	}

	s.mu.Lock()
	jobs := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		if e.job.CatchUp {
			jobs = append(jobs, e)
		}
	}
	s.mu.Unlock()

	for _, e := range jobs {
		since := now.Add(-window)
		if e.lastRun.After(since) {
			since = e.lastRun
		}
		missed := 0
		for t := e.schedule.Next(since); !t.After(now) && missed < maxInt(s.catchUp.MaxCatchUpTasks, 1); t = e.schedule.Next(t) {
			s.fire(e.job.Name)
			missed++
		}
	}
}

func (s *Scheduler) fire(name string) {
	s.mu.Lock()
	e, ok := s.entries[name]
	if ok {
		e.lastRun = timeNow()
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	impl, err := s.classes.Resolve(e.job.ClassName)
	if err != nil {
		s.logger.Error("scheduler: resolving class", "job", name, "class_name", e.job.ClassName, "err", err)
		return
	}
	processImpl, ok := impl.(plum.ProcessImpl)
	if !ok {
		s.logger.Error("scheduler: resolved class is not a ProcessImpl", "job", name, "class_name", e.job.ClassName)
		return
	}

	if _, err := s.loop.CreateTask(processImpl, e.job.Inputs, ""); err != nil {
		s.logger.Error("scheduler: launching process", "job", name, "err", err)
	}
}

var timeNow = time.Now

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
