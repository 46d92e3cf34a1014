// Package events defines the pluggable sink the runtime emits lifecycle
// events through. Components never log directly for observable transitions;
// they emit, and the wiring decides where events go.
package events

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"
)

// Event names emitted by the runtime. Grouped by component.
const (
	AgentRegistered    = "agentRegistered"
	AgentUnregistered  = "agentUnregistered"
	AgentStatusChanged = "agentStatusChanged"
	AgentCrashed       = "agentCrashed"
	HeartbeatMissed    = "heartbeatMissed"

	MessageQueued    = "messageQueued"
	MessageDelivered = "messageDelivered"
	MessageExpired   = "messageExpired"
	DeliveryFailed   = "deliveryFailed"
	HandlerError     = "handlerError"

	TaskCreated     = "taskCreated"
	TaskClaimed     = "taskClaimed"
	TaskStarted     = "taskStarted"
	TaskCompleted   = "taskCompleted"
	TaskFailed      = "taskFailed"
	TaskRetrying    = "taskRetrying"
	TaskReleased    = "taskReleased"
	TaskCancelled   = "taskCancelled"
	TaskUnblocked   = "taskUnblocked"
	ClaimTimeout    = "claimTimeout"
	ProgressTimeout = "progressTimeout"

	ProgressReported        = "progressReported"
	MilestoneCreated        = "milestoneCreated"
	MilestoneStatusChanged  = "milestoneStatusChanged"
	RemoteProgressReceived  = "remoteProgressReceived"

	PlanCreated        = "planCreated"
	PlanUpdated        = "planUpdated"
	ItemAdded          = "itemAdded"
	ItemUpdated        = "itemUpdated"
	ItemDeleted        = "itemDeleted"
	ItemAssigned       = "itemAssigned"
	StatusUpdated      = "statusUpdated"
	ConflictDetected   = "conflictDetected"
	OperationRecorded  = "operationRecorded"
	OperationApplied   = "operationApplied"
	PlanRestored       = "planRestored"
)

// Event is one emitted lifecycle notification.
type Event struct {
	Name   string
	Time   time.Time
	Fields map[string]any
}

// Sink receives emitted events. Implementations must not block; sinks are
// called while component locks may be held.
type Sink interface {
	Emit(e Event)
}

// Emit builds an event and sends it to the sink, tolerating a nil sink.
func Emit(s Sink, name string, fields map[string]any) {
	if s == nil {
		return
	}
	s.Emit(Event{Name: name, Time: time.Now(), Fields: fields})
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) Emit(Event) {}

// LogSink writes events through a standard logger.
type LogSink struct {
	Logger *log.Logger
}

func (s LogSink) Emit(e Event) {
	if s.Logger == nil {
		return
	}
	if len(e.Fields) == 0 {
		s.Logger.Printf("event %s", e.Name)
		return
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%s=%v", k, e.Fields[k])
	}
	s.Logger.Printf("event %s: %s", e.Name, b.String())
}

// CaptureSink records events for assertions in tests.
type CaptureSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *CaptureSink) Emit(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

// Events returns a copy of everything captured so far.
func (s *CaptureSink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

// Count returns how many events with the given name were captured.
func (s *CaptureSink) Count(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.Name == name {
			n++
		}
	}
	return n
}

// Last returns the most recent event with the given name, or a zero Event.
func (s *CaptureSink) Last(name string) (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].Name == name {
			return s.events[i], true
		}
	}
	return Event{}, false
}
