package scheduler

import (
	"fmt"
	"testing"
	"time"

	"github.com/cucumber/godog"

	"github.com/plumgo/plum"
	"github.com/plumgo/plum/classloader"
)

// catchUpBDDContext drives the catch-up feature scenarios, grounded on the
// teacher's scheduler_module_bdd_test.go SchedulerBDDTestContext shape,
// trimmed to the one behavior this package still needs godog coverage for:
// bounded replay of missed cron firings.
type catchUpBDDContext struct {
	loop     *plum.EventLoop
	classes  *classloader.ClassLoader
	sched    *Scheduler
	jobName  string
	launched map[string]int
}

func (c *catchUpBDDContext) reset() {
	c.loop = plum.NewEventLoop()
	c.classes = classloader.New()
	c.launched = make(map[string]int)
	c.classes.MustRegister("noop", func() (any, error) { return noopImpl{}, nil })
}

func (c *catchUpBDDContext) aSchedulerWithCatchUpEnabledAndAWindowOf(window string) error {
	c.reset()
	d, err := time.ParseDuration(window)
	if err != nil {
		return err
	}
	c.sched = New(c.loop, c.classes, WithCatchUp(CatchUpConfig{
		Enabled: true, MaxCatchUpTasks: 1000, CatchUpWindow: d,
	}))
	return nil
}

func (c *catchUpBDDContext) aSchedulerWithCatchUpEnabledAWindowOfAndMaxTasksOf(window string, maxTasks int) error {
	c.reset()
	d, err := time.ParseDuration(window)
	if err != nil {
		return err
	}
	c.sched = New(c.loop, c.classes, WithCatchUp(CatchUpConfig{
		Enabled: true, MaxCatchUpTasks: maxTasks, CatchUpWindow: d,
	}))
	return nil
}

func (c *catchUpBDDContext) aCatchUpJobScheduledEveryMinuteThatLastRanMinutesAgo(name string, minutesAgo int) error {
	c.jobName = name
	if err := c.sched.AddJob(Job{Name: name, Cron: "* * * * *", ClassName: "noop", CatchUp: true}); err != nil {
		return err
	}
	c.sched.entries[name].lastRun = timeNow().Add(-time.Duration(minutesAgo) * time.Minute)
	return nil
}

func (c *catchUpBDDContext) aJobScheduledEveryMinuteWithCatchUpDisabledThatLastRanMinutesAgo(name string, minutesAgo int) error {
	c.jobName = name
	if err := c.sched.AddJob(Job{Name: name, Cron: "* * * * *", ClassName: "noop", CatchUp: false}); err != nil {
		return err
	}
	c.sched.entries[name].lastRun = timeNow().Add(-time.Duration(minutesAgo) * time.Minute)
	return nil
}

func (c *catchUpBDDContext) theSchedulerStarts() error {
	before := len(c.loop.Monitor().PIDs())
	c.sched.runCatchUp()
	c.launched[c.jobName] = len(c.loop.Monitor().PIDs()) - before
	return nil
}

func (c *catchUpBDDContext) theJobShouldHaveLaunchedAtLeastProcesses(name string, n int) error {
	if c.launched[name] < n {
		return fmt.Errorf("job %q launched %d processes, want at least %d", name, c.launched[name], n)
	}
	return nil
}

func (c *catchUpBDDContext) theJobShouldHaveLaunchedAtMostProcesses(name string, n int) error {
	if c.launched[name] > n {
		return fmt.Errorf("job %q launched %d processes, want at most %d", name, c.launched[name], n)
	}
	return nil
}

func (c *catchUpBDDContext) theJobShouldHaveLaunchedNoProcesses(name string) error {
	if c.launched[name] != 0 {
		return fmt.Errorf("job %q launched %d processes, want 0", name, c.launched[name])
	}
	return nil
}

func TestCatchUpBDD(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: func(s *godog.ScenarioContext) {
			ctx := &catchUpBDDContext{}

			s.Given(`^a scheduler with catch-up enabled and a window of "([^"]*)"$`, ctx.aSchedulerWithCatchUpEnabledAndAWindowOf)
			s.Given(`^a scheduler with catch-up enabled, a window of "([^"]*)" and max tasks of (\d+)$`, ctx.aSchedulerWithCatchUpEnabledAWindowOfAndMaxTasksOf)
			s.Given(`^a catch-up job "([^"]*)" scheduled every minute that last ran (\d+) minutes ago$`, ctx.aCatchUpJobScheduledEveryMinuteThatLastRanMinutesAgo)
			s.Given(`^a job "([^"]*)" scheduled every minute with catch-up disabled that last ran (\d+) minutes ago$`, ctx.aJobScheduledEveryMinuteWithCatchUpDisabledThatLastRanMinutesAgo)
			s.When(`^the scheduler starts$`, ctx.theSchedulerStarts)
			s.Then(`^the job "([^"]*)" should have launched at least (\d+) processes$`, ctx.theJobShouldHaveLaunchedAtLeastProcesses)
			s.Then(`^the job "([^"]*)" should have launched at most (\d+) processes$`, ctx.theJobShouldHaveLaunchedAtMostProcesses)
			s.Then(`^the job "([^"]*)" should have launched no processes$`, ctx.theJobShouldHaveLaunchedNoProcesses)
		},
		Options: &godog.Options{
			Format:   "progress",
			Paths:    []string{"features/catchup.feature"},
			TestingT: t,
			Strict:   true,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
