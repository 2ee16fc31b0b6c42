package plum

// StepOutcome is what a Task's Step returns to tell the loop what to do
// next. plumpy's engine used a method-return protocol (return a WaitOn,
// return a Terminated namedtuple, or raise) to signal this; a tagged sum
// type makes the three outcomes explicit at the call site instead of
// relying on isinstance checks, per the redesign guidance for this port.
type StepOutcome struct {
	kind     stepKind
	waitOn   WaitOn
	callback func(*Future)
	result   any
	err      error
}

type stepKind int

const (
	stepContinue stepKind = iota
	stepWait
	stepDone
	stepFail
)

// Continue tells the loop this task wants to tick again next sweep.
func Continue() StepOutcome { return StepOutcome{kind: stepContinue} }

// Wait pauses ticking until on's future resolves, then invokes cb (which
// may be nil) before resuming ticking.
func Wait(on WaitOn, cb func(*Future)) StepOutcome {
	return StepOutcome{kind: stepWait, waitOn: on, callback: cb}
}

// Done finishes the task successfully with result.
func Done(result any) StepOutcome { return StepOutcome{kind: stepDone, result: result} }

// Fail finishes the task with err.
func Fail(err error) StepOutcome { return StepOutcome{kind: stepFail, err: err} }

// Stepper is implemented by the work a Task performs on every tick.
type Stepper interface {
	Step() StepOutcome
}

// tickingObject is both Ticking and loopInsertable: the full identity an
// EventLoop tracks in its ticking set and loop-membership bookkeeping. A
// bare *Task satisfies it directly; a type that embeds Task and overrides
// insertInto/removeFrom (like *Process) satisfies it through its own
// methods instead of the embedded ones, which is exactly the distinction
// Task needs to get right: its internal start/stop/remove calls must use
// the outermost identity, never its own embedded LoopObject, or they will
// silently miss the EventLoop's ticking-set entry for that identity and
// bypass any override (e.g. Process's monitor deregistration).
type tickingObject interface {
	Ticking
	loopInsertable
}

// Task drives a Stepper to completion on an EventLoop, resolving a Future
// with its final result or error. Grounded on plumpy's loop.object.Task.
type Task struct {
	LoopObject

	self         tickingObject
	stepper      Stepper
	future       *Future
	waitOnFuture *Future
	waitCallback func(*Future)
}

// NewTask wraps stepper in a Task. The returned Task is not yet inserted
// into any loop. If stepper is itself a tickingObject (as an embedding
// type like *Process is, once it overrides insertInto/removeFrom), Task
// uses it as its own identity for loop bookkeeping instead of its embedded
// LoopObject.
func NewTask(stepper Stepper) *Task {
	t := &Task{LoopObject: NewLoopObject(), stepper: stepper}
	if self, ok := stepper.(tickingObject); ok {
		t.self = self
	} else {
		t.self = t
	}
	return t
}

// SetFuture attaches the Future this task will resolve. Returns
// ErrFutureAlreadySet if one is already attached.
func (t *Task) SetFuture(f *Future) error {
	if t.future != nil {
		return ErrFutureAlreadySet
	}
	t.future = f
	return nil
}

// Future returns the future this task resolves, or nil if none is set.
func (t *Task) Future() *Future { return t.future }

// WaitFuture returns the future backing the WaitOn this task is currently
// suspended on, or nil if it is not currently waiting. Exposed so a caller
// (e.g. Process.Abort) can cancel the wait out from under the task.
func (t *Task) WaitFuture() *Future { return t.waitOnFuture }

// Tick runs one step. If the future backing this task was cancelled
// externally, the task removes itself from the loop instead of stepping.
func (t *Task) Tick() {
	if t.future != nil && t.future.Cancelled() {
		t.Loop().Remove(t.self)
		return
	}

	outcome := t.stepper.Step()
	switch outcome.kind {
	case stepContinue:
		// stay ticking
	case stepWait:
		t.waitCallback = outcome.callback
		t.waitOnFuture = outcome.waitOn.GetFuture(t.Loop())
		t.waitOnFuture.AddDoneCallback(t.onWaitDone)
		t.Loop().StopTicking(t.self)
	case stepDone:
		if t.future != nil {
			t.future.SetResult(outcome.result)
		}
		t.Loop().Remove(t.self)
	case stepFail:
		if t.future != nil {
			t.future.SetException(outcome.err)
		}
		t.Loop().Remove(t.self)
	}
}

func (t *Task) onWaitDone(f *Future) {
	if t.waitCallback != nil {
		cb := t.waitCallback
		t.waitCallback = nil
		cb(f)
	}
	t.waitOnFuture = nil
	if t.Loop() != nil {
		t.Loop().StartTicking(t.self)
	}
}

// Play resumes ticking. It is a no-op if the task is not inserted into a
// loop or is already ticking.
func (t *Task) Play() {
	if t.Loop() != nil {
		t.Loop().StartTicking(t.self)
	}
}

// Pause stops ticking without removing the task from its loop.
func (t *Task) Pause() {
	if t.Loop() != nil {
		t.Loop().StopTicking(t.self)
	}
}

// IsPlaying reports whether the task is currently ticking.
func (t *Task) IsPlaying() bool {
	return t.Loop() != nil && t.Loop().IsTicking(t.self)
}
