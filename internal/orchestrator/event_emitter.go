package orchestrator

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kelvinyan1/aime-reproduction/internal/logging"
	"github.com/kelvinyan1/aime-reproduction/pkg/models"
)

// DefaultEventBuffer is the emitter buffer size when none is configured.
const DefaultEventBuffer = 256

// emitWait is how long Emit waits for a full buffer before dropping.
const emitWait = 100 * time.Millisecond

// EventEmitter handles event emission for the orchestrator.
// It provides a simple, thread-safe way to emit events to subscribers.
type EventEmitter struct {
	events       chan Event
	droppedCount atomic.Uint64
	runID        atomic.Value
	log          *logrus.Entry

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// NewEventEmitter creates a new EventEmitter with the given buffer size.
func NewEventEmitter(bufferSize int) *EventEmitter {
	if bufferSize <= 0 {
		bufferSize = DefaultEventBuffer
	}
	e := &EventEmitter{
		events: make(chan Event, bufferSize),
		log:    logging.For("events"),
	}
	e.runID.Store("")
	return e
}

// Emit sends an event to the events channel.
// If the channel is full, it tries with a timeout before dropping the event.
func (e *EventEmitter) Emit(event Event) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return
	}
	if event.RunID == "" {
		event.RunID = e.runID.Load().(string)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case e.events <- event:
		return
	default:
	}

	timer := time.NewTimer(emitWait)
	defer timer.Stop()
	select {
	case e.events <- event:
	case <-timer.C:
		count := e.droppedCount.Add(1)
		if count%10 == 1 {
			e.log.WithFields(logrus.Fields{"dropped": count, "type": event.Type}).Warn("event channel full, dropping events")
		}
	}
}

// StepObserver returns a hook for agents that emits agent_step events.
func (e *EventEmitter) StepObserver() func(agentID, taskID string, step models.Step) {
	return func(agentID, taskID string, step models.Step) {
		s := step
		e.Emit(Event{
			Type:    EventAgentStep,
			TaskID:  taskID,
			AgentID: agentID,
			Step:    &s,
		})
	}
}

// DroppedCount returns the total number of events that have been dropped.
func (e *EventEmitter) DroppedCount() uint64 {
	return e.droppedCount.Load()
}

// Events returns a read-only channel of events.
func (e *EventEmitter) Events() <-chan Event {
	return e.events
}

// Close closes the events channel. Later Emit calls are ignored.
func (e *EventEmitter) Close() {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		close(e.events)
		e.mu.Unlock()
	})
}

func (e *EventEmitter) setRunID(id string) {
	e.runID.Store(id)
}
