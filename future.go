package plum

import (
	"context"
	"fmt"
	"sync"
)

// FutureState is the lifecycle of a Future.
type FutureState int

const (
	FuturePending FutureState = iota
	FutureCancelled
	FutureFinished
)

func (s FutureState) String() string {
	switch s {
	case FuturePending:
		return "pending"
	case FutureCancelled:
		return "cancelled"
	case FutureFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// DoneCallback is invoked exactly once, in registration order, when a
// Future transitions to cancelled or finished. It always runs via the
// owning loop's CallSoon, never synchronously from SetResult/SetException,
// so a callback can never observe a half-updated Future.
type DoneCallback func(f *Future)

// Future represents the eventual result of an asynchronous operation,
// scheduled on a single EventLoop. Grounded on plumpy's loop.futures.Future,
// which wraps a concurrent.futures.Future and replays its callbacks through
// loop.call_soon rather than firing them inline.
type Future struct {
	loop *EventLoop

	mu        sync.Mutex
	done      chan struct{}
	state     FutureState
	result    any
	err       error
	callbacks []DoneCallback
}

// NewFuture creates a Future owned by loop. loop must not be nil.
func NewFuture(loop *EventLoop) *Future {
	if loop == nil {
		panic("plum: NewFuture requires a non-nil loop")
	}
	return &Future{loop: loop, state: FuturePending, done: make(chan struct{})}
}

// Loop returns the EventLoop this future is scheduled on.
func (f *Future) Loop() *EventLoop { return f.loop }

// Done reports whether the future has been cancelled or has a result/error.
func (f *Future) Done() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state != FuturePending
}

// Cancelled reports whether the future was cancelled.
func (f *Future) Cancelled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state == FutureCancelled
}

// Cancel transitions a pending future to cancelled and wakes waiters. It is
// a no-op (returns false) if the future is already done.
func (f *Future) Cancel() bool {
	f.mu.Lock()
	if f.state != FuturePending {
		f.mu.Unlock()
		return false
	}
	f.state = FutureCancelled
	f.err = ErrCancelled
	cbs := f.snapshotCallbacksLocked()
	close(f.done)
	f.mu.Unlock()
	f.scheduleCallbacks(cbs)
	return true
}

// SetResult marks the future finished with result. Returns ErrAlreadyDone
// if the future was already cancelled or finished.
func (f *Future) SetResult(result any) error {
	f.mu.Lock()
	if f.state != FuturePending {
		f.mu.Unlock()
		return ErrAlreadyDone
	}
	f.state = FutureFinished
	f.result = result
	cbs := f.snapshotCallbacksLocked()
	close(f.done)
	f.mu.Unlock()
	f.scheduleCallbacks(cbs)
	return nil
}

// SetException marks the future finished with err as its exception. Returns
// ErrAlreadyDone if the future was already cancelled or finished.
func (f *Future) SetException(err error) error {
	f.mu.Lock()
	if f.state != FuturePending {
		f.mu.Unlock()
		return ErrAlreadyDone
	}
	f.state = FutureFinished
	f.err = err
	cbs := f.snapshotCallbacksLocked()
	close(f.done)
	f.mu.Unlock()
	f.scheduleCallbacks(cbs)
	return nil
}

func (f *Future) snapshotCallbacksLocked() []DoneCallback {
	out := make([]DoneCallback, len(f.callbacks))
	copy(out, f.callbacks)
	return out
}

func (f *Future) scheduleCallbacks(cbs []DoneCallback) {
	for _, cb := range cbs {
		cb := cb
		f.loop.CallSoon(func() { cb(f) })
	}
}

// AddDoneCallback registers cb to run (via the loop) once the future is
// done. If the future is already done, cb is scheduled immediately instead
// of being appended.
func (f *Future) AddDoneCallback(cb DoneCallback) {
	f.mu.Lock()
	if f.state == FuturePending {
		f.callbacks = append(f.callbacks, cb)
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()
	f.loop.CallSoon(func() { cb(f) })
}

// Result blocks until the future is done and returns its result, or an
// error (ErrCancelled, or whatever SetException recorded). If ctx is
// cancelled first, ErrTimeout is returned instead of blocking forever, and
// the future itself is left pending for a later waiter.
func (f *Future) Result(ctx context.Context) (any, error) {
	select {
	case <-f.done:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == FutureCancelled {
		return nil, ErrCancelled
	}
	return f.result, f.err
}
