package plum

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// dummyProcess runs once and stops with no outputs, grounded on spec.md
// scenario 1.
type dummyProcess struct{}

func (dummyProcess) Define(spec *ProcessSpec) {}

func (dummyProcess) Run(proc *Process) (ProcessOutcome, error) {
	return StopRun(), nil
}

func TestDummyProcessRun(t *testing.T) {
	loop := NewEventLoop()
	var history []ProcessState

	proc, err := loop.CreateTask(&observedImpl{inner: dummyProcess{}, history: &history}, nil, "")
	require.NoError(t, err)

	result, err := loop.RunUntilComplete(context.Background(), proc.Future())
	require.NoError(t, err)
	require.Equal(t, map[string]any{}, result)
	require.Equal(t, []ProcessState{StateCreated, StateRunning, StateStopped}, history)
}

// observedImpl wraps another ProcessImpl and records every state entered via
// the on* hooks, for asserting state-history expectations without exposing
// Process internals to the test.
type observedImpl struct {
	inner   ProcessImpl
	history *[]ProcessState
}

func (o *observedImpl) Define(spec *ProcessSpec) { o.inner.Define(spec) }
func (o *observedImpl) Run(proc *Process) (ProcessOutcome, error) {
	return o.inner.Run(proc)
}
func (o *observedImpl) OnCreate() { *o.history = append(*o.history, StateCreated) }
func (o *observedImpl) OnRun()    { o.recordIfNew(StateRunning) }
func (o *observedImpl) OnWait(WaitOn) {
	*o.history = append(*o.history, StateWaiting)
}
func (o *observedImpl) OnStop(string) {
	*o.history = append(*o.history, StateStopped)
}
func (o *observedImpl) OnFail(error) {
	*o.history = append(*o.history, StateFailed)
}

func (o *observedImpl) recordIfNew(s ProcessState) {
	h := *o.history
	if len(h) > 0 && h[len(h)-1] == s {
		return
	}
	*o.history = append(h, s)
}

// checkpointProcess waits on an immediately-ready Checkpoint once before
// stopping, grounded on spec.md scenario 2.
type checkpointProcess struct{}

func (checkpointProcess) Define(spec *ProcessSpec) {}

func (checkpointProcess) Run(proc *Process) (ProcessOutcome, error) {
	return WaitThen(NewCheckpoint(), "finish"), nil
}

func TestCheckpointRoundTrip(t *testing.T) {
	loop := NewEventLoop()
	var history []ProcessState

	impl := &observedImpl{inner: checkpointProcess{}, history: &history}
	impl2 := impl
	proc, err := loop.CreateTask(impl2, nil, "")
	require.NoError(t, err)
	proc.RegisterContinuation("finish", func(p *Process, wo WaitOn) (ProcessOutcome, error) {
		return StopRun(), nil
	})

	result, err := loop.RunUntilComplete(context.Background(), proc.Future())
	require.NoError(t, err)
	require.Equal(t, map[string]any{}, result)
	require.Equal(t, []ProcessState{
		StateCreated, StateRunning, StateWaiting, StateRunning, StateStopped,
	}, history)
}

// dummyProcessWithOutput declares dynamic I/O and emits a single dynamic
// output, grounded on spec.md scenario 3.
type dummyProcessWithOutput struct{}

func (dummyProcessWithOutput) Define(spec *ProcessSpec) {
	_ = spec.DynamicInput(nil)
	_ = spec.DynamicOutput(nil)
}

func (dummyProcessWithOutput) Run(proc *Process) (ProcessOutcome, error) {
	if err := proc.Out("default", 5); err != nil {
		return ProcessOutcome{}, err
	}
	return StopRun(), nil
}

func TestDynamicOutput(t *testing.T) {
	loop := NewEventLoop()
	bus := loop.Monitor().Bus()

	var emittedBody any
	bus.StartListening(func(_ *EventBus, _ string, body any) {
		emittedBody = body
	}, "process.*.emitted")

	proc, err := loop.CreateTask(dummyProcessWithOutput{}, map[string]any{"a": 1}, "")
	require.NoError(t, err)

	result, err := loop.RunUntilComplete(context.Background(), proc.Future())
	require.NoError(t, err)
	require.Equal(t, map[string]any{"default": 5}, result)
	require.Equal(t, map[string]any{"port": "default", "value": 5, "dynamic": true}, emittedBody)
}

// waitForSignalProcess waits on a process event forever (until aborted),
// grounded on spec.md scenario 4.
type waitForSignalProcess struct{}

func (waitForSignalProcess) Define(spec *ProcessSpec) {}

func (waitForSignalProcess) Run(proc *Process) (ProcessOutcome, error) {
	return WaitThen(NewWaitOnProcessEvent(proc.Task.Loop().Monitor().Bus(), "", "signal"), "finish"), nil
}

func TestAbortWaitingProcess(t *testing.T) {
	loop := NewEventLoop()
	var history []ProcessState
	impl := &observedImpl{inner: waitForSignalProcess{}, history: &history}

	proc, err := loop.CreateTask(impl, nil, "")
	require.NoError(t, err)
	proc.RegisterContinuation("finish", func(p *Process, wo WaitOn) (ProcessOutcome, error) {
		return StopRun(), nil
	})

	for proc.WaitFuture() == nil {
		loop.Tick()
	}
	require.Equal(t, StateWaiting, proc.State())

	waitFuture := proc.WaitFuture()
	require.NotNil(t, waitFuture)

	require.NoError(t, proc.Abort("user"))
	loop.Tick()

	require.Equal(t, StateStopped, proc.State())
	aborted, msg := proc.Aborted()
	require.True(t, aborted)
	require.Equal(t, "user", msg)
	require.True(t, waitFuture.Cancelled())
	require.Equal(t, 1, countOccurrences(history, StateStopped))
}

func countOccurrences(history []ProcessState, s ProcessState) int {
	n := 0
	for _, h := range history {
		if h == s {
			n++
		}
	}
	return n
}

// failingProcess raises during Run, grounded on spec.md scenario 5.
type failingProcess struct{}

func (failingProcess) Define(spec *ProcessSpec) {}

func (failingProcess) Run(proc *Process) (ProcessOutcome, error) {
	return ProcessOutcome{}, errBoom
}

var errBoom = errors.New("boom")

func TestExceptionInRun(t *testing.T) {
	loop := NewEventLoop()
	var history []ProcessState
	destroyed := false
	stopped := false

	impl := &failObservedImpl{
		observedImpl: observedImpl{inner: failingProcess{}, history: &history},
		onDestroy:    func() { destroyed = true },
	}
	impl.onStopOverride = func() { stopped = true }

	proc, err := loop.CreateTask(impl, nil, "")
	require.NoError(t, err)

	_, err = loop.RunUntilComplete(context.Background(), proc.Future())
	require.ErrorIs(t, err, errBoom)
	require.Equal(t, StateFailed, proc.State())
	require.ErrorIs(t, proc.FailureError(), errBoom)
	require.False(t, stopped)
	require.True(t, destroyed)
}

type failObservedImpl struct {
	observedImpl
	onDestroy      func()
	onStopOverride func()
}

func (f *failObservedImpl) OnStop(msg string) {
	f.onStopOverride()
	f.observedImpl.OnStop(msg)
}

func (f *failObservedImpl) OnDestroy() { f.onDestroy() }

// TestWildcardEventDispatch is spec.md scenario 6.
func TestWildcardEventDispatch(t *testing.T) {
	bus := NewEventBus()

	var l1Deliveries, l2Deliveries []string
	bus.StartListening(func(_ *EventBus, event string, _ any) {
		l1Deliveries = append(l1Deliveries, event)
	}, "process.*.finish")
	bus.StartListening(func(_ *EventBus, event string, _ any) {
		l2Deliveries = append(l2Deliveries, event)
	}, "process.pid-a.*")

	bus.EventOccurred("process.pid-a.finish", nil)
	require.Equal(t, []string{"process.pid-a.finish"}, l1Deliveries)
	require.Equal(t, []string{"process.pid-a.finish"}, l2Deliveries)

	bus.EventOccurred("process.pid-b.finish", nil)
	require.Equal(t, []string{"process.pid-a.finish", "process.pid-b.finish"}, l1Deliveries)
	require.Equal(t, []string{"process.pid-a.finish"}, l2Deliveries)
}

// TestFutureCancelAfterSetResult is the boundary behavior from spec.md §8.
func TestFutureCancelAfterSetResult(t *testing.T) {
	loop := NewEventLoop()
	f := NewFuture(loop)
	require.NoError(t, f.SetResult(42))
	require.False(t, f.Cancel())
}

// TestDoneCallbackOnAlreadyDoneFuture checks the callback is scheduled on
// the next loop drain rather than run inline.
func TestDoneCallbackOnAlreadyDoneFuture(t *testing.T) {
	loop := NewEventLoop()
	f := NewFuture(loop)
	require.NoError(t, f.SetResult("x"))

	called := false
	f.AddDoneCallback(func(*Future) { called = true })
	require.False(t, called, "callback must not fire before the next Tick drains it")

	loop.Tick()
	require.True(t, called)
}

// TestRequiredOutputEnforced checks the invariant that every required
// output must have a value once a process reaches STOPPED.
type missingOutputProcess struct{}

func (missingOutputProcess) Define(spec *ProcessSpec) {
	_ = spec.Output(Port{Name: "result"})
}

func (missingOutputProcess) Run(proc *Process) (ProcessOutcome, error) {
	return StopRun(), nil
}

func TestRequiredOutputEnforced(t *testing.T) {
	loop := NewEventLoop()
	proc, err := loop.CreateTask(missingOutputProcess{}, nil, "")
	require.NoError(t, err)

	_, err = loop.RunUntilComplete(context.Background(), proc.Future())
	require.ErrorIs(t, err, ErrInvalidInput)
	require.Equal(t, StateFailed, proc.State())
}

// TestPersistenceRoundTrip is scenario 2's checkpoint/persistence contract:
// a process saved mid-WAITING and reloaded into a fresh Process/EventLoop
// (simulating a process restart) must resume and finish with the same
// output as an uninterrupted run.
func TestPersistenceRoundTrip(t *testing.T) {
	ctx := context.Background()

	baseLoop := NewEventLoop()
	baseProc, err := baseLoop.CreateTask(checkpointProcess{}, nil, "the-pid")
	require.NoError(t, err)
	baseProc.RegisterContinuation("finish", func(p *Process, wo WaitOn) (ProcessOutcome, error) {
		return StopRun(), nil
	})
	baseResult, err := baseLoop.RunUntilComplete(ctx, baseProc.Future())
	require.NoError(t, err)

	loop1 := NewEventLoop()
	proc, err := loop1.CreateTask(checkpointProcess{}, nil, "the-pid")
	require.NoError(t, err)
	proc.RegisterContinuation("finish", func(p *Process, wo WaitOn) (ProcessOutcome, error) {
		return StopRun(), nil
	})
	for proc.State() != StateWaiting {
		loop1.Tick()
	}
	require.Equal(t, StateWaiting, proc.State())

	bundle := NewBundle()
	require.NoError(t, proc.SaveInstanceState(bundle, "checkpointProcess"))

	waitOnLoader := func(className string, b *Bundle) (WaitOn, error) {
		if className != "plum.Checkpoint" {
			return nil, ErrClassNotFound
		}
		c := &Checkpoint{}
		if err := c.LoadInstanceState(b); err != nil {
			return nil, err
		}
		return c, nil
	}

	loop2 := NewEventLoop()
	resumed, err := NewProcess(bundle.GetString("pid"), checkpointProcess{}, nil, loop2.Monitor().Bus(), nil)
	require.NoError(t, err)
	resumed.RegisterContinuation("finish", func(p *Process, wo WaitOn) (ProcessOutcome, error) {
		return StopRun(), nil
	})
	require.NoError(t, LoadProcessState(resumed, bundle, waitOnLoader))
	require.Equal(t, StateWaiting, resumed.State())

	require.NoError(t, loop2.Insert(resumed))
	require.NoError(t, resumed.SetFuture(NewFuture(loop2)))

	resumedResult, err := loop2.RunUntilComplete(ctx, resumed.Future())
	require.NoError(t, err)
	require.Equal(t, baseResult, resumedResult)
	require.Equal(t, StateStopped, resumed.State())
}

func TestSpecSealIdempotent(t *testing.T) {
	spec := NewProcessSpec()
	spec.Seal()
	spec.Seal()
	require.True(t, spec.Sealed())
	require.ErrorIs(t, spec.Input(Port{Name: "x"}), ErrSpecSealed)
}

func TestMonitorRegisterDeregisterRoundTrip(t *testing.T) {
	loop := NewEventLoop()
	before := loop.Monitor().PIDs()

	proc, err := loop.CreateTask(dummyProcess{}, nil, "")
	require.NoError(t, err)
	_, ok := loop.Monitor().Get(proc.PID())
	require.True(t, ok)

	_, err = loop.RunUntilComplete(context.Background(), proc.Future())
	require.NoError(t, err)

	_, ok = loop.Monitor().Get(proc.PID())
	require.False(t, ok)
	require.ElementsMatch(t, before, loop.Monitor().PIDs())
}
