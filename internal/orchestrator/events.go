// Package orchestrator is the public facade over the dispatcher: one entry
// point that wires the shim, the supervisor, the status store, the
// provisioner, the scheduler, and the merge coordinator.
package orchestrator

import (
	"time"

	"github.com/sambaleuk/crossroads/internal/merge"
	"github.com/sambaleuk/crossroads/internal/scheduler"
	"github.com/sambaleuk/crossroads/pkg/models"
)

// EventType represents the kind of a facade event.
type EventType string

const (
	// EventPhaseChanged indicates the session phase changed.
	EventPhaseChanged EventType = "phase_changed"
	// EventProgress carries a progress snapshot.
	EventProgress EventType = "progress"
	// EventSlotUpdated indicates a slot's state changed.
	EventSlotUpdated EventType = "slot_updated"
	// EventSlotOutput carries one chunk of agent output.
	EventSlotOutput EventType = "slot_output"
	// EventSlotTerminated indicates a slot's process exited.
	EventSlotTerminated EventType = "slot_terminated"
	// EventSlotDivergence indicates a slot exited 0 with incomplete stories.
	EventSlotDivergence EventType = "slot_divergence"
	// EventMergeCompleted carries the merge coordinator's result.
	EventMergeCompleted EventType = "merge_completed"
	// EventCompleted indicates the whole dispatch finished.
	EventCompleted EventType = "completed"
	// EventError carries a surfaced failure.
	EventError EventType = "error"
)

// Event is one entry in the facade's event stream.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// RequestID identifies the dispatch the event belongs to.
	RequestID string
	// Phase is set for phase_changed events.
	Phase models.SessionPhase
	// Progress is set for progress events.
	Progress scheduler.Progress
	// Slot is set for slot_updated events.
	Slot models.SlotInfo
	// SlotNumber is set for slot_output, slot_terminated, and
	// slot_divergence events.
	SlotNumber int
	// Chunk is set for slot_output events.
	Chunk string
	// ExitCode is set for slot_terminated events.
	ExitCode int
	// StuckStories is set for slot_divergence events.
	StuckStories []string
	// MergeResult is set for merge_completed events.
	MergeResult *merge.Result
	// Err is set for error events.
	Err error
	// Message provides additional context.
	Message string
	// Timestamp is when the event occurred.
	Timestamp time.Time
}

// EventEmitter provides a buffered, non-blocking event channel.
type EventEmitter struct {
	events chan Event
}

// NewEventEmitter creates an EventEmitter with the given buffer size.
func NewEventEmitter(bufferSize int) *EventEmitter {
	return &EventEmitter{
		events: make(chan Event, bufferSize),
	}
}

// Emit sends an event. If the channel is full, the event is dropped rather
// than blocking the dispatcher.
func (e *EventEmitter) Emit(event Event) {
	event.Timestamp = time.Now()
	select {
	case e.events <- event:
	default:
	}
}

// Events returns the read-only event channel for subscribers.
func (e *EventEmitter) Events() <-chan Event {
	return e.events
}

// Close closes the event channel.
func (e *EventEmitter) Close() {
	close(e.events)
}
