// Package remote defines the wire payloads and interfaces for the optional
// remote process-status contract described in spec.md §6. No broker client
// ships here — Non-goals exclude concrete transport bindings — but the
// payload shapes and the CloudEvents envelope they travel in are grounded on
// original_source/plum/rmq/status.py (StatusRequester/StatusSubscriber's
// JSON bodies) and the teacher's own observer_cloudevents.go convention of
// wrapping domain payloads as CloudEvents.
package remote

import (
	"context"
	"encoding/json"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/plumgo/plum"
)

// Event types used for the CloudEvents envelope's Type field.
const (
	EventTypeStatusRequest  = "io.plumgo.plum.status.request"
	EventTypeStatusResponse = "io.plumgo.plum.status.response"
)

// ProcessStatus is the per-process entry in a StatusResponse, grounded on
// StatusSubscriber._get_status in the original.
type ProcessStatus struct {
	PID          string `json:"pid"`
	State        string `json:"state"`
	Playing      bool   `json:"playing"`
	WaitingOn    string `json:"waiting_on,omitempty"`
	CreationTime string `json:"creation_time,omitempty"`
}

// StatusRequest is the (empty-bodied, in the original) broadcast asking every
// listening process manager to report its status. CorrelationID lets a
// requester match replies the way StatusRequester used pika's correlation_id.
type StatusRequest struct {
	CorrelationID string `json:"correlation_id"`
}

// StatusResponse is the reply body, keyed by pid, grounded on status_encode's
// {"procs": {...}} shape plus add_host_info's host metadata.
type StatusResponse struct {
	CorrelationID string                   `json:"correlation_id"`
	Host          string                   `json:"host,omitempty"`
	Processes     map[string]ProcessStatus `json:"procs"`
}

// StatusOf builds a ProcessStatus snapshot for proc, for a Publisher to
// include in a StatusResponse.
func StatusOf(proc *plum.Process) ProcessStatus {
	return ProcessStatus{
		PID:     proc.PID(),
		State:   proc.State().String(),
		Playing: proc.IsPlaying(),
	}
}

// Publisher sends a status envelope to whatever transport an adapter binds
// it to (a message broker, a log sink, a test channel). No implementation
// ships in this module.
type Publisher interface {
	Publish(ctx context.Context, event cloudevents.Event) error
}

// StatusResponder answers a StatusRequest for every process it knows about,
// typically backed by a plum.ProcessMonitor.
type StatusResponder interface {
	Respond(ctx context.Context, req StatusRequest) (StatusResponse, error)
}

// MonitorResponder implements StatusResponder over a single
// plum.ProcessMonitor, the Go shape of StatusSubscriber bound to a
// process_manager in the original.
type MonitorResponder struct {
	Monitor *plum.ProcessMonitor
	Host    string
}

// Respond builds a StatusResponse enumerating every process the monitor
// currently tracks.
func (m *MonitorResponder) Respond(_ context.Context, req StatusRequest) (StatusResponse, error) {
	procs := make(map[string]ProcessStatus)
	for _, pid := range m.Monitor.PIDs() {
		mp, ok := m.Monitor.Get(pid)
		if !ok {
			continue
		}
		if proc, ok := mp.(*plum.Process); ok {
			procs[pid] = StatusOf(proc)
		}
	}
	return StatusResponse{
		CorrelationID: req.CorrelationID,
		Host:          m.Host,
		Processes:     procs,
	}, nil
}

// NewStatusRequestEvent wraps req as a CloudEvent, ready for a Publisher.
func NewStatusRequestEvent(req StatusRequest) (cloudevents.Event, error) {
	return newEvent(EventTypeStatusRequest, req)
}

// NewStatusResponseEvent wraps resp as a CloudEvent, ready for a Publisher.
func NewStatusResponseEvent(resp StatusResponse) (cloudevents.Event, error) {
	return newEvent(EventTypeStatusResponse, resp)
}

func newEvent(eventType string, payload any) (cloudevents.Event, error) {
	event := cloudevents.NewEvent()
	event.SetType(eventType)
	event.SetSource("plum")
	event.SetTime(time.Now())
	data, err := json.Marshal(payload)
	if err != nil {
		return event, err
	}
	if err := event.SetData(cloudevents.ApplicationJSON, json.RawMessage(data)); err != nil {
		return event, err
	}
	return event, nil
}
