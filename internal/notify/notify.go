// Package notify delivers assignment lifecycle events to external channels.
// Emission never blocks the caller and delivery is never awaited.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventType names an assignment lifecycle event.
type EventType string

const (
	EventAssigned   EventType = "assignment.assigned"
	EventReassigned EventType = "assignment.reassigned"
	EventCompleted  EventType = "assignment.completed"
	EventCancelled  EventType = "assignment.cancelled"
)

// Event is one lifecycle notification.
type Event struct {
	ID              string    `json:"id"`
	Type            EventType `json:"type"`
	AssignmentID    string    `json:"assignment_id"`
	WorkItemID      string    `json:"work_item_id"`
	AgentID         string    `json:"agent_id"`
	PreviousAgentID string    `json:"previous_agent_id,omitempty"`
	Reason          string    `json:"reason,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// NewEvent stamps an id and time on a new event.
func NewEvent(t EventType, assignmentID, workItemID, agentID string, at time.Time) *Event {
	return &Event{
		ID:           uuid.NewString(),
		Type:         t,
		AssignmentID: assignmentID,
		WorkItemID:   workItemID,
		AgentID:      agentID,
		OccurredAt:   at,
	}
}

// FormatEvent renders a one-line human message for chat sinks.
func FormatEvent(e *Event) string {
	var b strings.Builder
	switch e.Type {
	case EventAssigned:
		fmt.Fprintf(&b, "Work item %s assigned to %s", e.WorkItemID, e.AgentID)
	case EventReassigned:
		fmt.Fprintf(&b, "Work item %s reassigned from %s to %s", e.WorkItemID, e.PreviousAgentID, e.AgentID)
	case EventCompleted:
		fmt.Fprintf(&b, "Work item %s completed by %s", e.WorkItemID, e.AgentID)
	case EventCancelled:
		fmt.Fprintf(&b, "Assignment of work item %s to %s cancelled", e.WorkItemID, e.AgentID)
	default:
		fmt.Fprintf(&b, "%s: work item %s, agent %s", e.Type, e.WorkItemID, e.AgentID)
	}
	if e.Reason != "" {
		fmt.Fprintf(&b, " (%s)", e.Reason)
	}
	return b.String()
}

// Emitter accepts events without waiting for delivery.
type Emitter interface {
	Emit(e *Event)
}

// Nop discards events.
type Nop struct{}

func (Nop) Emit(*Event) {}

// Sink delivers events to one destination.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, e *Event) error
	Close() error
}

// Dispatcher queues events and fans them out to every sink from a single
// background worker.
type Dispatcher struct {
	sinks   []Sink
	queue   chan *Event
	timeout time.Duration
	logger  *zap.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewDispatcher starts a dispatcher with a queue of size buffer.
func NewDispatcher(buffer int, logger *zap.Logger, sinks ...Sink) *Dispatcher {
	if buffer < 1 {
		buffer = 1
	}
	d := &Dispatcher{
		sinks:   sinks,
		queue:   make(chan *Event, buffer),
		timeout: 5 * time.Second,
		logger:  logger,
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

// Emit enqueues e, dropping it with a warning when the queue is full or
// the dispatcher is closed.
func (d *Dispatcher) Emit(e *Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.queue <- e:
	default:
		d.logger.Warn("notification queue full, event dropped",
			zap.String("type", string(e.Type)), zap.String("assignment", e.AssignmentID))
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for e := range d.queue {
		d.deliver(e)
	}
}

func (d *Dispatcher) deliver(e *Event) {
	for _, s := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		if err := s.Deliver(ctx, e); err != nil {
			d.logger.Warn("notification delivery failed",
				zap.String("sink", s.Name()), zap.String("type", string(e.Type)), zap.Error(err))
		}
		cancel()
	}
}

// Close stops accepting events, drains the queue and closes every sink.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	<-d.done
	for _, s := range d.sinks {
		if err := s.Close(); err != nil {
			d.logger.Error("sink close failed", zap.String("sink", s.Name()), zap.Error(err))
		}
	}
	return nil
}

// LogSink writes events to the logger.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink backed by logger.
func NewLogSink(logger *zap.Logger) *LogSink { return &LogSink{logger: logger} }

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(_ context.Context, e *Event) error {
	s.logger.Info("assignment event",
		zap.String("type", string(e.Type)),
		zap.String("assignment", e.AssignmentID),
		zap.String("work_item", e.WorkItemID),
		zap.String("agent", e.AgentID))
	return nil
}

func (s *LogSink) Close() error { return nil }
