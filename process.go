package plum

import (
	"fmt"
)

// ProcessState is one of the five states a Process can occupy.
type ProcessState int

const (
	StateCreated ProcessState = iota
	StateRunning
	StateWaiting
	StateStopped
	StateFailed
)

func (s ProcessState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateWaiting:
		return "waiting"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ProcessOutcome is what a continuation returns to tell the process state
// machine what to do next: stop (with whatever outputs were emitted along
// the way) or wait on something and resume at a named continuation.
type ProcessOutcome struct {
	wait         bool
	waitOn       WaitOn
	continuation string
}

// StopRun finishes the process successfully.
func StopRun() ProcessOutcome { return ProcessOutcome{} }

// WaitThen suspends the process on, resuming at the continuation registered
// under name when on is satisfied. An empty name means "stop after this
// wait resolves" rather than running another continuation.
func WaitThen(on WaitOn, name string) ProcessOutcome {
	return ProcessOutcome{wait: true, waitOn: on, continuation: name}
}

// Continuation is a unit of process logic resumable by stable string id —
// the Go replacement for resolving a bound method by name via reflection.
// wo is nil for the process's initial run continuation, and the WaitOn that
// just completed for every continuation reached through WaitThen.
type Continuation func(proc *Process, wo WaitOn) (ProcessOutcome, error)

// ProcessImpl is the behavior a concrete process type supplies. Define
// declares the spec's ports; Run is the initial continuation, registered
// automatically under runContinuationName.
type ProcessImpl interface {
	Define(spec *ProcessSpec)
	Run(proc *Process) (ProcessOutcome, error)
}

const runContinuationName = "run"

// Optional lifecycle hooks a ProcessImpl may additionally implement. Unlike
// the source engine, these are pure extensions: Process always performs its
// own bookkeeping for each entry action itself (logging before the hook,
// event emission after it), invoking the hook if present in between, so
// there is no base-call contract for callers to honor or forget.
type onCreateHook interface{ OnCreate() }
type onStartHook interface{ OnStart() }
type onRunHook interface{ OnRun() }
type onWaitHook interface{ OnWait(wo WaitOn) }
type onResumeHook interface{ OnResume() }
type onFinishHook interface{ OnFinish() }
type onStopHook interface{ OnStop(abortMsg string) }
type onAbortHook interface{ OnAbort(msg string) }
type onFailHook interface{ OnFail(err error) }
type onDestroyHook interface{ OnDestroy() }
type onOutputEmittedHook interface {
	OnOutputEmitted(port string, value any, dynamic bool)
}

// Process is the domain state machine the engine exists to run: a single
// CREATED→RUNNING→(WAITING↔RUNNING)*→STOPPED|FAILED life cycle, driven one
// step per EventLoop tick. Grounded on plumpy's process_states.py.
type Process struct {
	Task

	pid    string
	impl   ProcessImpl
	spec   *ProcessSpec
	bus    *EventBus
	logger Logger

	state ProcessState

	rawInputs map[string]any
	inputs    map[string]any

	outputs     map[string]any
	outputOrder []string

	continuations map[string]Continuation

	// RUNNING
	currentContinuation string
	pendingWaitOn       WaitOn // the WaitOn most recently returned by a continuation

	// WAITING
	waitOn           WaitOn
	waitContinuation string

	aborted  bool
	abortMsg string
	failErr  error
}

// NewProcess constructs a Process in the CREATED state: it validates
// rawInputs against the spec impl declares and fires on_create. bus may be
// nil, which disables lifecycle event emission.
func NewProcess(pid string, impl ProcessImpl, rawInputs map[string]any, bus *EventBus, logger Logger) (*Process, error) {
	spec := NewProcessSpec()
	impl.Define(spec)

	p := &Process{
		impl:          impl,
		pid:           pid,
		spec:          spec,
		bus:           bus,
		logger:        logOrNoop(logger),
		rawInputs:     rawInputs,
		outputs:       make(map[string]any),
		continuations: make(map[string]Continuation),
	}
	p.Task = *NewTask(p)
	p.RegisterContinuation(runContinuationName, func(proc *Process, _ WaitOn) (ProcessOutcome, error) {
		return proc.impl.Run(proc)
	})

	if err := p.enterCreated(); err != nil {
		return nil, err
	}
	return p, nil
}

// PID returns the process's stable identifier.
func (p *Process) PID() string { return p.pid }

// State returns the current state.
func (p *Process) State() ProcessState { return p.state }

// Spec returns the process's port declarations.
func (p *Process) Spec() *ProcessSpec { return p.spec }

// Outputs returns the outputs emitted so far, keyed by port name.
func (p *Process) Outputs() map[string]any {
	out := make(map[string]any, len(p.outputs))
	for k, v := range p.outputs {
		out[k] = v
	}
	return out
}

// RawInputs returns the raw, unvalidated inputs the process was created
// with.
func (p *Process) RawInputs() map[string]any { return p.rawInputs }

// Aborted reports whether Abort was called.
func (p *Process) Aborted() (bool, string) { return p.aborted, p.abortMsg }

// FailureError returns the error that moved the process to FAILED, or nil.
func (p *Process) FailureError() error { return p.failErr }

// RegisterContinuation makes fn resumable by name, for use as the second
// element of WaitThen. Must be called before any WaitThen referencing name
// is reached — in practice, right after CreateTask or NewProcess returns,
// before the loop first ticks the process.
func (p *Process) RegisterContinuation(name string, fn Continuation) {
	p.continuations[name] = fn
}

func (p *Process) emit(name string, body any) {
	if p.bus == nil {
		return
	}
	p.bus.EventOccurred(fmt.Sprintf("process.%s.%s", p.pid, name), body)
}

// Out emits value on port, validating against the spec and dynamic-output
// policy. Grounded on the out(port, value) contract in §4.5.
func (p *Process) Out(port string, value any) error {
	def, declared := p.spec.Outputs()[port]
	dynamic := false
	if !declared {
		if !p.spec.HasDynamicOutput() {
			return ErrUnknownPort
		}
		dynamic = true
	} else if _, already := p.outputs[port]; already {
		return ErrPortSet
	}

	if def != nil && def.Validate != nil {
		if valid, msg := def.Validate(value); !valid {
			return fmt.Errorf("%w: %s", ErrInvalidInput, msg)
		}
	}

	if _, exists := p.outputs[port]; !exists {
		p.outputOrder = append(p.outputOrder, port)
	}
	p.outputs[port] = value

	if h, ok := p.impl.(onOutputEmittedHook); ok {
		h.OnOutputEmitted(port, value, dynamic)
	}
	p.emit("emitted", map[string]any{"port": port, "value": value, "dynamic": dynamic})
	return nil
}

// missingRequiredOutputs returns the names of every declared required
// output port with no value yet, enforcing §8's "every required output has
// a value once STOPPED is reached" invariant.
func (p *Process) missingRequiredOutputs() []string {
	var missing []string
	for name, def := range p.spec.Outputs() {
		if !def.Required {
			continue
		}
		if _, has := p.outputs[name]; !has {
			missing = append(missing, name)
		}
	}
	return missing
}

// Abort moves the process directly to STOPPED with aborted=true. Legal from
// CREATED, RUNNING, or WAITING; cancels the held wait's future if the
// process was waiting.
func (p *Process) Abort(msg string) error {
	switch p.state {
	case StateStopped, StateFailed:
		return ErrAlreadyTerminal
	}

	if p.state == StateWaiting {
		if wf := p.WaitFuture(); wf != nil {
			wf.Cancel()
		}
	}

	p.aborted = true
	p.abortMsg = msg
	return p.enterStopped(p.state)
}

// Step implements Stepper: exactly one state's execute action per call,
// matching §4.5's "within a tick each task advances by at most one step."
func (p *Process) Step() StepOutcome {
	switch p.state {
	case StateCreated:
		if err := p.enterRunning(StateCreated); err != nil {
			return p.fail(err)
		}
		return Continue()

	case StateRunning:
		cont, ok := p.continuations[p.currentContinuation]
		if !ok {
			return p.fail(fmt.Errorf("plum: no continuation registered for %q", p.currentContinuation))
		}
		outcome, err := cont(p, p.pendingWaitOn)
		p.pendingWaitOn = nil
		if err != nil {
			return p.fail(err)
		}
		if outcome.wait {
			if err := p.enterWaiting(outcome.waitOn, outcome.continuation); err != nil {
				return p.fail(err)
			}
			return Continue()
		}
		if err := p.enterStopped(StateRunning); err != nil {
			return p.fail(err)
		}
		return Continue()

	case StateWaiting:
		return Wait(p.waitOn, p.onWaitDone)

	case StateStopped:
		p.terminate()
		return Done(p.Outputs())

	case StateFailed:
		p.terminate()
		return Fail(p.failErr)

	default:
		return p.fail(fmt.Errorf("plum: %w: unknown state %v", ErrIllegalTransition, p.state))
	}
}

func (p *Process) fail(err error) StepOutcome {
	p.failErr = err
	_ = p.enterFailed()
	return Continue()
}

func (p *Process) enterCreated() error {
	p.state = StateCreated
	p.logger.Debug("entering state", "pid", p.pid, "state", p.state)

	if ok, msg := p.spec.Validate(p.rawInputs); !ok {
		return fmt.Errorf("%w: %s", ErrInvalidInput, msg)
	}
	p.inputs = p.rawInputs

	if h, ok := p.impl.(onCreateHook); ok {
		h.OnCreate()
	}
	return nil
}

// insertInto shadows the embedded LoopObject's hook so registering with the
// loop also registers with its ProcessMonitor, matching §4.6: lifecycle
// hooks register on CREATED (here, on insertion) and deregister on
// STOPPED/FAILED (here, on removal, see removeFrom).
func (p *Process) insertInto(l *EventLoop) error {
	if err := p.LoopObject.onLoopInserted(l); err != nil {
		return err
	}
	if l.Monitor() != nil {
		l.Monitor().register(p)
	}
	return nil
}

func (p *Process) removeFrom(l *EventLoop) error {
	if l.Monitor() != nil {
		l.Monitor().deregister(p)
	}
	return p.LoopObject.onLoopRemoved()
}

func (p *Process) enterRunning(prev ProcessState) error {
	p.state = StateRunning
	p.logger.Debug("entering state", "pid", p.pid, "state", p.state)

	switch prev {
	case StateCreated:
		p.currentContinuation = runContinuationName
		if h, ok := p.impl.(onStartHook); ok {
			h.OnStart()
		}
		p.emit("start", nil)
	case StateWaiting:
		if h, ok := p.impl.(onResumeHook); ok {
			h.OnResume()
		}
		p.emit("resume", nil)
	case StateRunning:
		// resuming into the same running continuation, nothing to announce
	default:
		return fmt.Errorf("%w: cannot enter RUNNING from %v", ErrIllegalTransition, prev)
	}

	if h, ok := p.impl.(onRunHook); ok {
		h.OnRun()
	}
	p.emit("run", nil)
	return nil
}

func (p *Process) enterWaiting(wo WaitOn, continuation string) error {
	p.state = StateWaiting
	p.waitOn = wo
	p.waitContinuation = continuation
	p.logger.Debug("entering state", "pid", p.pid, "state", p.state)

	if h, ok := p.impl.(onWaitHook); ok {
		h.OnWait(wo)
	}
	p.emit("wait", nil)
	return nil
}

func (p *Process) onWaitDone(f *Future) {
	wo := p.waitOn
	name := p.waitContinuation
	p.waitOn = nil

	if f.Cancelled() {
		// Abort cancels the wait future directly and has already driven the
		// process to STOPPED; there is no continuation left to resume.
		return
	}

	if name == "" {
		if err := p.enterStopped(StateWaiting); err != nil {
			p.fail(err)
		}
		return
	}
	p.currentContinuation = name
	p.pendingWaitOn = wo
	if err := p.enterRunning(StateWaiting); err != nil {
		p.fail(err)
	}
}

func (p *Process) enterStopped(prev ProcessState) error {
	if !p.aborted {
		if missing := p.missingRequiredOutputs(); len(missing) > 0 {
			return fmt.Errorf("%w: missing required outputs: %v", ErrInvalidInput, missing)
		}
	}

	p.state = StateStopped
	p.logger.Debug("entering state", "pid", p.pid, "state", p.state)

	if p.aborted {
		if h, ok := p.impl.(onAbortHook); ok {
			h.OnAbort(p.abortMsg)
		}
		p.emit("abort", map[string]any{"msg": p.abortMsg})
	} else if prev == StateRunning || prev == StateWaiting {
		// STOPPED is reachable from WAITING directly when a wait's
		// continuation name is empty (stop once the wait resolves, without
		// running another continuation first).
		if h, ok := p.impl.(onFinishHook); ok {
			h.OnFinish()
		}
		p.emit("finish", nil)
	} else {
		return fmt.Errorf("%w: cannot enter STOPPED from %v", ErrIllegalTransition, prev)
	}

	if h, ok := p.impl.(onStopHook); ok {
		h.OnStop(p.abortMsg)
	}
	p.emit("stop", map[string]any{"aborted": p.aborted, "msg": p.abortMsg})
	return nil
}

func (p *Process) enterFailed() error {
	p.state = StateFailed
	p.logger.Debug("entering state", "pid", p.pid, "state", p.state)

	func() {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("panic entering failed state", "pid", p.pid, "panic", r)
			}
		}()
		if h, ok := p.impl.(onFailHook); ok {
			h.OnFail(p.failErr)
		}
	}()
	p.emit("fail", map[string]any{"error": p.failErr.Error()})
	return nil
}

func (p *Process) terminate() {
	if h, ok := p.impl.(onDestroyHook); ok {
		h.OnDestroy()
	}
	p.emit("destroy", nil)
}

// SaveInstanceState writes this process's state into bundle, following the
// wire format in §6: class_name, pid, state, raw_inputs, outputs, exc_info,
// and a state_data sub-bundle with whatever the current state needs to
// resume. className identifies the concrete ProcessImpl for a ClassLoader.
func (p *Process) SaveInstanceState(bundle *Bundle, className string) error {
	bundle.Set(ClassNameKey, className)
	bundle.Set("pid", p.pid)
	bundle.Set("state", int(p.state))
	bundle.Set("raw_inputs", p.rawInputs)
	bundle.Set("outputs", p.Outputs())
	if p.failErr != nil {
		bundle.Set("exc_info", []any{fmt.Sprintf("%T", p.failErr), p.failErr.Error(), nil})
	} else {
		bundle.Set("exc_info", nil)
	}

	stateData := NewBundle()
	switch p.state {
	case StateRunning:
		stateData.Set("exec_func", p.currentContinuation)
	case StateWaiting:
		waitBundle := NewBundle()
		if err := p.waitOn.SaveInstanceState(waitBundle); err != nil {
			return err
		}
		stateData.Set("wait_on", waitBundle)
		stateData.Set("callback", p.waitContinuation)
	case StateStopped:
		stateData.Set("abort", p.aborted)
		stateData.Set("abort_msg", p.abortMsg)
	}
	bundle.Set("state_data", stateData)
	return nil
}

// LoadProcessState restores p's state from bundle, previously produced by
// SaveInstanceState. waitOnLoader resolves a saved WaitOn's class_name back
// into a live WaitOn — required only when the bundle's state is WAITING.
func LoadProcessState(p *Process, bundle *Bundle, waitOnLoader func(className string, bundle *Bundle) (WaitOn, error)) error {
	p.pid = bundle.GetString("pid")
	if raw, ok := bundle.Get("raw_inputs"); ok {
		if m, ok := raw.(map[string]any); ok {
			p.rawInputs = m
			p.inputs = m
		}
	}
	if outs, ok := bundle.Get("outputs"); ok {
		if m, ok := outs.(map[string]any); ok {
			p.outputs = make(map[string]any, len(m))
			for k, v := range m {
				p.outputs[k] = v
				p.outputOrder = append(p.outputOrder, k)
			}
		}
	}
	if excRaw, ok := bundle.Get("exc_info"); ok && excRaw != nil {
		if triple, ok := excRaw.([]any); ok && len(triple) >= 2 {
			if msg, ok := triple[1].(string); ok && msg != "" {
				p.failErr = fmt.Errorf("%s", msg)
			}
		}
	}

	stateVal, _ := bundle.Get("state")
	stateInt, _ := stateVal.(int)
	p.state = ProcessState(stateInt)

	stateData, _ := bundle.GetBundle("state_data")
	switch p.state {
	case StateRunning:
		if stateData != nil {
			p.currentContinuation = stateData.GetString("exec_func")
		}
	case StateWaiting:
		if stateData == nil {
			return fmt.Errorf("plum: waiting process bundle missing state_data")
		}
		waitBundle, _ := stateData.GetBundle("wait_on")
		if waitBundle == nil {
			return fmt.Errorf("plum: waiting process bundle missing wait_on")
		}
		if waitOnLoader == nil {
			return ErrClassNotFound
		}
		wo, err := waitOnLoader(waitBundle.ClassName(), waitBundle)
		if err != nil {
			return err
		}
		p.waitOn = wo
		p.waitContinuation = stateData.GetString("callback")
	case StateStopped:
		if stateData != nil {
			p.aborted, _ = firstBool(stateData.Get("abort"))
			p.abortMsg = stateData.GetString("abort_msg")
		}
	}
	return nil
}

func firstBool(v any, ok bool) (bool, bool) {
	if !ok {
		return false, false
	}
	b, isBool := v.(bool)
	return b, isBool
}
