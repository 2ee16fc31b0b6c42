// Package health reports liveness/readiness for a running plum EventLoop,
// adapted from the teacher's health package (health/interfaces.go,
// health/aggregator.go) and trimmed from a general-purpose multi-checker
// aggregator (continuous monitoring, history, callbacks, thresholds) down to
// the one thing an engine needs to expose: is the loop alive, and is it
// ready to accept more work.
package health

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/plumgo/plum"
)

// Status mirrors the teacher's HealthStatus enum.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
)

// Report is the result of a single Aggregator.Check call.
type Report struct {
	Status        Status            `json:"status"`
	Timestamp     time.Time         `json:"timestamp"`
	Live          bool              `json:"live"`
	Ready         bool              `json:"ready"`
	ProcessCount  int               `json:"process_count"`
	FailedCount   int               `json:"failed_count"`
	Message       string            `json:"message,omitempty"`
	ProcessStates map[string]string `json:"process_states,omitempty"`
}

// Checker is implemented by anything Aggregator can fold into a Report in
// addition to the loop's own process census; grounded on the teacher's
// HealthChecker interface, trimmed to the one method an engine-level check
// actually needs.
type Checker interface {
	Check(ctx context.Context) error
	Name() string
}

// Aggregator reports on a single EventLoop's liveness and readiness. Unlike
// the teacher's HealthAggregator, which registers arbitrary named checks,
// an Aggregator is always scoped to one loop; extra Checkers (e.g. a
// persistence backend ping) are added with Register and folded into the
// overall status verdict, matching the teacher's "critical check fails the
// whole aggregate" rule.
//
// The loop's ProcessMonitor deregisters a process on the first Tick after
// it reaches StateFailed or StateStopped (the same Tick that resolves its
// future), so once a caller has seen that future complete, the failed pid
// is already gone from monitor.PIDs() by the time Check runs.
// Aggregator listens on the monitor's bus instead of relying on registry
// membership surviving to the next Check, and keeps its own running totals.
type Aggregator struct {
	loop           *plum.EventLoop
	maxFailedRatio float64
	extra          []Checker

	totalCreated atomic.Int64
	totalFailed  atomic.Int64
}

// NewAggregator returns an Aggregator over loop. maxFailedRatio is the
// fraction of processes the loop has ever created allowed to have failed
// before readiness flips to false; 0 means any failure makes the loop
// not-ready.
func NewAggregator(loop *plum.EventLoop, maxFailedRatio float64) *Aggregator {
	a := &Aggregator{loop: loop, maxFailedRatio: maxFailedRatio}
	bus := loop.Monitor().Bus()
	bus.StartListening(func(_ *plum.EventBus, _ string, _ any) {
		a.totalCreated.Add(1)
	}, "monitor.process_created")
	bus.StartListening(func(_ *plum.EventBus, _ string, _ any) {
		a.totalFailed.Add(1)
	}, "monitor.process_failed")
	return a
}

// Register adds an extra Checker (e.g. a persistence or scheduler backend)
// whose failure marks the aggregate status critical.
func (a *Aggregator) Register(c Checker) {
	a.extra = append(a.extra, c)
}

// Check runs the loop's own census plus every registered extra Checker and
// returns the aggregated Report. Liveness is always true once the
// Aggregator exists (the process hosting the loop is, definitionally,
// alive to answer); readiness reflects the failed-process ratio and every
// extra Checker passing.
func (a *Aggregator) Check(ctx context.Context) *Report {
	monitor := a.loop.Monitor()
	pids := monitor.PIDs()

	report := &Report{
		Status:        StatusHealthy,
		Timestamp:     timeNow(),
		Live:          true,
		Ready:         true,
		ProcessCount:  len(pids),
		ProcessStates: make(map[string]string, len(pids)),
	}

	for _, pid := range pids {
		mp, ok := monitor.Get(pid)
		if !ok {
			continue
		}
		proc, ok := mp.(*plum.Process)
		if !ok {
			continue
		}
		report.ProcessStates[pid] = proc.State().String()
	}

	failed := int(a.totalFailed.Load())
	report.FailedCount = failed

	if total := a.totalCreated.Load(); total > 0 {
		ratio := float64(failed) / float64(total)
		if ratio > a.maxFailedRatio {
			report.Ready = false
			report.Status = StatusCritical
			report.Message = "too many failed processes"
		} else if failed > 0 {
			report.Status = StatusWarning
		}
	}

	for _, c := range a.extra {
		if err := c.Check(ctx); err != nil {
			report.Ready = false
			report.Status = StatusCritical
			report.Message = c.Name() + ": " + err.Error()
		}
	}

	return report
}

// IsLive always reports true for a constructed Aggregator; kept as its own
// method (rather than folded into Check) so callers wiring a liveness probe
// endpoint don't need to run the full, possibly more expensive, readiness
// census.
func (a *Aggregator) IsLive() bool { return true }

// IsReady runs Check and returns only the readiness verdict, for callers
// that only care about the boolean (e.g. a readiness probe handler).
func (a *Aggregator) IsReady(ctx context.Context) bool {
	return a.Check(ctx).Ready
}

var timeNow = time.Now
