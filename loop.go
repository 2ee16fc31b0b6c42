package plum

import (
	"context"
	"runtime"
	"sync"

	"github.com/google/uuid"
)

// EventLoop is a single-threaded, cooperative scheduler. Every Process and
// Task it owns runs its step synchronously inside EventLoop.Tick; nothing
// in this package spawns a goroutine to advance ticking objects, so
// ticking objects never need their own synchronization. Grounded on
// plumpy's event loop object model (loop/object.py, loop/futures.py).
type EventLoop struct {
	mu sync.Mutex

	logger Logger

	// tickingOrder preserves insertion order for the ticking set; tickingSet
	// gives O(1) membership checks. A ticking object can be removed mid-sweep
	// (e.g. a task pausing itself), so Tick always iterates a snapshot.
	tickingOrder []Ticking
	tickingSet   map[Ticking]bool

	deferred []func()

	monitor *ProcessMonitor
}

// NewEventLoop creates an empty, idle EventLoop.
func NewEventLoop() *EventLoop {
	l := &EventLoop{
		tickingSet: make(map[Ticking]bool),
		logger:     noopLogger{},
	}
	l.monitor = newProcessMonitor(l)
	return l
}

// SetLogger attaches a diagnostic logger; nil restores the no-op logger.
func (l *EventLoop) SetLogger(logger Logger) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logger = logOrNoop(logger)
}

// Monitor returns the loop's ProcessMonitor.
func (l *EventLoop) Monitor() *ProcessMonitor { return l.monitor }

// CallSoon queues fn on the deferred queue, which Tick drains both before
// and after its sweep over ticking objects: fn queued during a sweep runs
// once that sweep completes, and fn queued outside a Tick runs at the start
// of the next one. This is how Future callbacks and
// cross-object notifications are delivered, so they never run reentrantly
// from inside another object's step.
func (l *EventLoop) CallSoon(fn func()) {
	l.mu.Lock()
	l.deferred = append(l.deferred, fn)
	l.mu.Unlock()
}

// StartTicking adds t to the ticking set if it is not already present.
func (l *EventLoop) StartTicking(t Ticking) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.tickingSet[t] {
		return
	}
	l.tickingSet[t] = true
	l.tickingOrder = append(l.tickingOrder, t)
}

// StopTicking removes t from the ticking set; it is a no-op if t is not
// ticking. The entry is left in tickingOrder and filtered out lazily on the
// next sweep, so StopTicking never needs to scan the full slice.
func (l *EventLoop) StopTicking(t Ticking) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.tickingSet, t)
}

// IsTicking reports whether t is currently in the ticking set.
func (l *EventLoop) IsTicking(t Ticking) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tickingSet[t]
}

// Tick drains the deferred queue, runs one tick of every currently-ticking
// object in insertion order, then drains the deferred queue again so that
// callbacks scheduled during this sweep (e.g. a Future resolving) are
// visible to the next Tick rather than silently delayed two cycles.
func (l *EventLoop) Tick() {
	l.drainDeferred()

	l.mu.Lock()
	snapshot := make([]Ticking, 0, len(l.tickingOrder))
	live := l.tickingOrder[:0]
	seen := make(map[Ticking]bool, len(l.tickingOrder))
	for _, t := range l.tickingOrder {
		// A task stopped and restarted before this sweep filtered it out
		// appears twice; keep only its first (original) position.
		if l.tickingSet[t] && !seen[t] {
			seen[t] = true
			snapshot = append(snapshot, t)
			live = append(live, t)
		}
	}
	l.tickingOrder = live
	l.mu.Unlock()

	for _, t := range snapshot {
		if l.IsTicking(t) {
			t.Tick()
		}
	}

	l.drainDeferred()
}

func (l *EventLoop) drainDeferred() {
	for {
		l.mu.Lock()
		if len(l.deferred) == 0 {
			l.mu.Unlock()
			return
		}
		fn := l.deferred[0]
		l.deferred = l.deferred[1:]
		l.mu.Unlock()
		fn()
	}
}

// Insert registers obj with the loop, calling its on-loop-inserted hook. If
// obj also implements Ticking, it begins ticking immediately.
func (l *EventLoop) Insert(obj loopInsertable) error {
	if err := obj.insertInto(l); err != nil {
		return err
	}
	if t, ok := obj.(Ticking); ok {
		l.StartTicking(t)
	}
	return nil
}

// Remove deregisters obj, stopping its ticking first if applicable.
func (l *EventLoop) Remove(obj loopInsertable) error {
	if t, ok := obj.(Ticking); ok {
		l.StopTicking(t)
	}
	return obj.removeFrom(l)
}

// loopInsertable is implemented by LoopObject embedders; it is unexported
// because the hooks are loop bookkeeping, not public API.
type loopInsertable interface {
	insertInto(*EventLoop) error
	removeFrom(*EventLoop) error
}

func (o *LoopObject) insertInto(l *EventLoop) error { return o.onLoopInserted(l) }
func (o *LoopObject) removeFrom(l *EventLoop) error { return o.onLoopRemoved() }

// CreateTask constructs a Process from impl and rawInputs, inserts it into
// the loop, attaches a fresh Future as its task future, and returns it. If
// pid is empty a uuid is generated. Mirrors
// create_task(ProcessClass, inputs=None, pid=None) in §4.3.
func (l *EventLoop) CreateTask(impl ProcessImpl, rawInputs map[string]any, pid string) (*Process, error) {
	if pid == "" {
		pid = uuid.New().String()
	}
	proc, err := NewProcess(pid, impl, rawInputs, l.monitor.Bus(), l.logger)
	if err != nil {
		return nil, err
	}
	if err := l.Insert(proc); err != nil {
		return nil, err
	}
	if err := proc.SetFuture(NewFuture(l)); err != nil {
		return nil, err
	}
	return proc, nil
}

// RunUntilComplete ticks the loop until future is done or ctx is cancelled,
// then returns its result. This is the synchronous entry point tests and
// simple callers use instead of driving Tick themselves.
func (l *EventLoop) RunUntilComplete(ctx context.Context, future *Future) (any, error) {
	for !future.Done() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		l.Tick()
		runtime.Gosched()
	}
	return future.Result(ctx)
}
