package plum

import (
	"fmt"
	"sync"
)

// WaitOn is a reified suspension condition: something a Process can wait
// on other than simply running to completion. Grounded on plumpy's
// WaitOn/wait.py, redesigned around a Future instead of a threading.Event
// so that waiting integrates with the EventLoop rather than blocking a
// thread.
type WaitOn interface {
	// GetFuture returns a Future, scheduled on loop, that resolves when this
	// WaitOn is done. Calling it more than once returns the same Future.
	GetFuture(loop *EventLoop) *Future

	// IsDone reports whether Done has already been called.
	IsDone() bool

	// Outcome returns the (success, message) pair recorded by Done. Valid
	// only once IsDone is true.
	Outcome() (bool, string)

	// ClassName is the stable identifier a ClassLoader uses to reconstruct
	// this WaitOn from a Bundle.
	ClassName() string

	// SaveInstanceState writes enough state into bundle to reconstruct this
	// WaitOn later. Returns ErrUnsupported if this WaitOn cannot be saved.
	SaveInstanceState(bundle *Bundle) error

	// LoadInstanceState restores state previously written by
	// SaveInstanceState. Returns ErrUnsupported if this WaitOn cannot be
	// loaded.
	LoadInstanceState(bundle *Bundle) error
}

// WaitOnBase implements the done/outcome/future bookkeeping shared by every
// WaitOn; concrete wait-on types embed it and only need to implement
// ClassName and whatever drives them to Done.
type WaitOnBase struct {
	mu      sync.Mutex
	done    bool
	success bool
	msg     string
	future  *Future
}

// GetFuture lazily creates the backing Future on first call and resolves it
// immediately if this WaitOn is already done.
func (w *WaitOnBase) GetFuture(loop *EventLoop) *Future {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.future == nil {
		w.future = NewFuture(loop)
		if w.done {
			w.future.SetResult(outcome{w.success, w.msg})
		}
	}
	return w.future
}

type outcome struct {
	success bool
	msg     string
}

// IsDone reports whether Done has been called.
func (w *WaitOnBase) IsDone() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.done
}

// Outcome returns the recorded (success, message) pair.
func (w *WaitOnBase) Outcome() (bool, string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.success, w.msg
}

// Done records the outcome and resolves the backing future, if one has been
// requested. It panics if called more than once, matching plumpy's
// "Cannot call done more than once" assertion.
func (w *WaitOnBase) Done(success bool, msg string) {
	w.mu.Lock()
	if w.done {
		w.mu.Unlock()
		panic("plum: WaitOn.Done called more than once")
	}
	w.done = true
	w.success = success
	w.msg = msg
	future := w.future
	w.mu.Unlock()

	if future != nil {
		future.SetResult(outcome{success, msg})
	}
}

// saveOutcome/loadOutcome are the common Bundle fields every WaitOn that
// supports persistence writes, mirroring WaitOn.OUTCOME in the source
// engine.
func (w *WaitOnBase) saveOutcome(bundle *Bundle, className string) {
	bundle.Set(ClassNameKey, className)
	if w.IsDone() {
		success, msg := w.Outcome()
		outcomeBundle := NewBundle()
		outcomeBundle.Set("success", success)
		outcomeBundle.Set("msg", msg)
		bundle.Set("outcome", outcomeBundle)
	}
}

func (w *WaitOnBase) loadOutcome(bundle *Bundle) {
	if ob, ok := bundle.GetBundle("outcome"); ok {
		success, _ := ob.Get("success")
		msg := ob.GetString("msg")
		w.done = true
		w.success, _ = success.(bool)
		w.msg = msg
	}
}

// Unsavable is embedded by WaitOn implementations that cannot be
// checkpointed — typically because they hold a reference (a live socket, an
// in-process channel) that has no meaningful representation in a Bundle.
// Grounded on plumpy's Unsavable mixin.
type Unsavable struct{}

func (Unsavable) SaveInstanceState(*Bundle) error { return ErrUnsupported }
func (Unsavable) LoadInstanceState(*Bundle) error { return ErrUnsupported }

// Checkpoint is a WaitOn that is already done the instant it is created —
// used by a Process that wants to yield control back to the loop for one
// tick without waiting on anything external.
type Checkpoint struct {
	WaitOnBase
}

// NewCheckpoint returns a WaitOn that resolves immediately.
func NewCheckpoint() *Checkpoint {
	c := &Checkpoint{}
	c.Done(true, "")
	return c
}

func (c *Checkpoint) ClassName() string { return "plum.Checkpoint" }

func (c *Checkpoint) SaveInstanceState(bundle *Bundle) error {
	c.saveOutcome(bundle, c.ClassName())
	return nil
}

func (c *Checkpoint) LoadInstanceState(bundle *Bundle) error {
	c.loadOutcome(bundle)
	return nil
}

// WaitOnEvent waits for a single matching event on an EventBus. It cannot
// be saved: the EventBus reference it holds has no durable representation.
//
// The source engine's equivalent unsubscribes with
// emitter.stop_listening(self._event) — passing the event string where a
// listener was expected, which is a bug (stop_listening expects the
// listener callback as its first argument). This port keeps the
// Subscription handle returned by StartListening instead, so cleanup always
// removes exactly the one registration it made.
type WaitOnEvent struct {
	WaitOnBase
	Unsavable

	emitter       *EventBus
	event         string
	sub           *Subscription
	receivedEvent string
	receivedBody  any
}

// NewWaitOnEvent starts listening on emitter for event and returns the
// WaitOn that resolves the first time it fires.
func NewWaitOnEvent(emitter *EventBus, event string) *WaitOnEvent {
	w := &WaitOnEvent{emitter: emitter, event: event}
	w.sub = emitter.StartListening(w.onEvent, event)
	return w
}

func (w *WaitOnEvent) onEvent(_ *EventBus, event string, body any) {
	w.receivedEvent = event
	w.receivedBody = body
	w.sub.StopListening()
	w.Done(true, "")
}

// ReceivedEvent returns the event string and body that satisfied this wait.
func (w *WaitOnEvent) ReceivedEvent() (string, any) {
	return w.receivedEvent, w.receivedBody
}

func (w *WaitOnEvent) ClassName() string { return "plum.WaitOnEvent" }

// WaitOnProcessEvent waits for a lifecycle event from a process, or from
// any process if pid is "*". Grounded on plumpy's WaitOnProcessEvent, which
// is just a WaitOnEvent subscribed to "process.{pid}.{event}".
type WaitOnProcessEvent struct {
	*WaitOnEvent
}

// NewWaitOnProcessEvent subscribes to process.<pid>.<event> on emitter, pid
// and event default to "*" (any) when empty.
func NewWaitOnProcessEvent(emitter *EventBus, pid, event string) *WaitOnProcessEvent {
	if pid == "" {
		pid = "*"
	}
	if event == "" {
		event = "*"
	}
	return &WaitOnProcessEvent{WaitOnEvent: NewWaitOnEvent(emitter, fmt.Sprintf("process.%s.%s", pid, event))}
}

func (w *WaitOnProcessEvent) ClassName() string { return "plum.WaitOnProcessEvent" }
