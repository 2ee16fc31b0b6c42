package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/plumgo/plum"
	"github.com/plumgo/plum/classloader"
)

type noopImpl struct{}

func (noopImpl) Define(spec *plum.ProcessSpec)                  {}
func (noopImpl) Run(proc *plum.Process) (plum.ProcessOutcome, error) { return plum.StopRun(), nil }

func newTestScheduler(t *testing.T) (*Scheduler, *plum.EventLoop, *classloader.ClassLoader) {
	t.Helper()
	loop := plum.NewEventLoop()
	classes := classloader.New()
	classes.MustRegister("noop", func() (any, error) { return noopImpl{}, nil })
	return New(loop, classes), loop, classes
}

func TestAddJobRejectsBadCron(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	err := s.AddJob(Job{Name: "bad", Cron: "not a cron expression", ClassName: "noop"})
	require.Error(t, err)
}

func TestAddJobRejectsDuplicateName(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	require.NoError(t, s.AddJob(Job{Name: "j1", Cron: "@every 1m", ClassName: "noop"}))
	err := s.AddJob(Job{Name: "j1", Cron: "@every 1m", ClassName: "noop"})
	require.Error(t, err)
}

func TestFireLaunchesProcess(t *testing.T) {
	s, loop, _ := newTestScheduler(t)
	require.NoError(t, s.AddJob(Job{Name: "j1", Cron: "@every 1m", ClassName: "noop", Inputs: map[string]any{"a": 1}}))

	before := len(loop.Monitor().PIDs())
	s.fire("j1")
	after := len(loop.Monitor().PIDs())
	require.Equal(t, before+1, after)
}

func TestFireUnknownJobIsNoop(t *testing.T) {
	s, loop, _ := newTestScheduler(t)
	before := len(loop.Monitor().PIDs())
	s.fire("missing")
	require.Equal(t, before, len(loop.Monitor().PIDs()))
}

func TestFireUnresolvableClassLogsAndSkips(t *testing.T) {
	s, loop, _ := newTestScheduler(t)
	require.NoError(t, s.AddJob(Job{Name: "j1", Cron: "@every 1m", ClassName: "does-not-exist"}))

	before := len(loop.Monitor().PIDs())
	s.fire("j1")
	require.Equal(t, before, len(loop.Monitor().PIDs()))
}

func TestRunCatchUpReplaysMissedFirings(t *testing.T) {
	s, loop, _ := newTestScheduler(t)
	s.catchUp = CatchUpConfig{Enabled: true, MaxCatchUpTasks: 5, CatchUpWindow: time.Hour}

	require.NoError(t, s.AddJob(Job{Name: "j1", Cron: "@every 1m", ClassName: "noop", CatchUp: true}))
	s.entries["j1"].lastRun = timeNow().Add(-10 * time.Minute)

	before := len(loop.Monitor().PIDs())
	s.runCatchUp()
	after := len(loop.Monitor().PIDs())
	require.Greater(t, after, before)
}

func TestRemoveJobStopsFutureFirings(t *testing.T) {
	s, loop, _ := newTestScheduler(t)
	require.NoError(t, s.AddJob(Job{Name: "j1", Cron: "@every 1m", ClassName: "noop"}))
	s.RemoveJob("j1")

	before := len(loop.Monitor().PIDs())
	s.fire("j1")
	require.Equal(t, before, len(loop.Monitor().PIDs()))
}
