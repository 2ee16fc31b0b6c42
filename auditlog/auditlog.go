// Package auditlog subscribes to an EventBus's wildcard pattern and logs
// every event that flows through it via the ambient Logger. Adapted from
// the teacher's modules/eventlogger package: its Config field names and
// buffered/flush-interval shape are kept, its multi-output-target registry
// (console/file/syslog fan-out, per-target level filtering) is trimmed down
// to the one thing this engine needs — an audit trail of process lifecycle
// events going through the structured Logger already wired into the rest of
// the engine, not a standalone log-shipping product.
package auditlog

import (
	"sync"
	"time"

	"github.com/plumgo/plum"
)

// Config configures a Logger's buffering and filtering, grounded on
// eventlogger.EventLoggerConfig.
type Config struct {
	// Enabled turns logging on or off without unsubscribing.
	Enabled bool
	// Pattern is the EventBus pattern subscribed to; "#" (the default when
	// empty) matches every plum event.
	Pattern string
	// EventTypeFilters, if non-empty, restricts logging to these exact
	// event names (the wildcard subscription still receives everything;
	// filtering happens before logging).
	EventTypeFilters []string
	// BufferSize bounds the async event queue; 0 means synchronous logging
	// (every EventOccurred call logs inline before returning).
	BufferSize int
	// FlushInterval is accepted for parity with the teacher's config shape
	// but has no effect here: Logger has no internal buffer to flush, since
	// every queued event is logged as soon as its worker goroutine can run.
	FlushInterval time.Duration
}

// DefaultConfig matches eventlogger's defaults.
func DefaultConfig() Config {
	return Config{Enabled: true, Pattern: "#", BufferSize: 100}
}

// Logger subscribes to an EventBus and logs every matching event through a
// plum.Logger. Construct with New and call Start to begin subscribing;
// Stop unsubscribes and, for an async Logger, drains the queue.
type Logger struct {
	bus    *plum.EventBus
	logger plum.Logger
	cfg    Config

	filters map[string]bool

	mu     sync.Mutex
	sub    *plum.Subscription
	queue  chan loggedEvent
	done   chan struct{}
	closed bool
}

type loggedEvent struct {
	name string
	body any
}

// New returns a Logger that will log bus events through logger once
// started.
func New(bus *plum.EventBus, logger plum.Logger, cfg Config) *Logger {
	if logger == nil {
		logger = plum.NoopLogger()
	}
	var filters map[string]bool
	if len(cfg.EventTypeFilters) > 0 {
		filters = make(map[string]bool, len(cfg.EventTypeFilters))
		for _, f := range cfg.EventTypeFilters {
			filters[f] = true
		}
	}
	return &Logger{bus: bus, logger: logger, cfg: cfg, filters: filters}
}

// Start subscribes to the configured pattern. If BufferSize > 0, events are
// logged from a background worker goroutine so EventOccurred callers are
// never slowed down by logging I/O; otherwise logging happens inline on the
// EventBus delivery goroutine.
func (l *Logger) Start() {
	if !l.cfg.Enabled {
		return
	}
	pattern := l.cfg.Pattern
	if pattern == "" {
		pattern = "#"
	}

	if l.cfg.BufferSize > 0 {
		l.queue = make(chan loggedEvent, l.cfg.BufferSize)
		l.done = make(chan struct{})
		go l.drain()
	}

	l.sub = l.bus.StartListening(l.onEvent, pattern)
	l.logger.Info("auditlog: started", "pattern", pattern)
}

// Stop unsubscribes and, for an async Logger, waits for the queue to drain.
func (l *Logger) Stop() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	sub := l.sub
	l.mu.Unlock()

	if sub != nil {
		sub.StopListening()
	}
	if l.queue != nil {
		close(l.queue)
		<-l.done
	}
	l.logger.Info("auditlog: stopped")
}

func (l *Logger) onEvent(_ *plum.EventBus, name string, body any) {
	if l.filters != nil && !l.filters[name] {
		return
	}
	if l.queue == nil {
		l.log(name, body)
		return
	}
	select {
	case l.queue <- loggedEvent{name: name, body: body}:
	default:
		l.logger.Warn("auditlog: buffer full, dropping event", "event", name)
	}
}

func (l *Logger) drain() {
	defer close(l.done)
	for ev := range l.queue {
		l.log(ev.name, ev.body)
	}
}

func (l *Logger) log(name string, body any) {
	l.logger.Debug("event", "name", name, "body", body)
}
