package scheduler

import "github.com/sambaleuk/crossroads/pkg/models"

// Progress is a point-in-time summary of dispatch progress.
type Progress struct {
	// CurrentLayer is the index of the layer being worked.
	CurrentLayer int
	// TotalLayers is the number of topological layers.
	TotalLayers int
	// SlotsLaunched is how many slots have been launched so far.
	SlotsLaunched int
	// TotalSlots is the number of slot assignments.
	TotalSlots int
	// StoriesComplete is how many stories are complete.
	StoriesComplete int
	// TotalStories is the total story count.
	TotalStories int
	// Message is a human-readable progress note.
	Message string
}

// Callbacks is the scheduler's outward notification surface. Callbacks are
// invoked from Start's goroutine and from the scheduler's event loop;
// OnSlotOutput is invoked from the supervisor's per-process delivery
// goroutine. Implementations must not block.
type Callbacks struct {
	// OnPhase fires when the session phase changes.
	OnPhase func(phase models.SessionPhase)
	// OnProgress fires on notable progress.
	OnProgress func(p Progress)
	// OnSlotUpdate fires when a slot's lifecycle or state changes.
	OnSlotUpdate func(slot models.SlotInfo)
	// OnSlotOutput fires for each output chunk from a slot's agent.
	OnSlotOutput func(slot int, chunk string)
	// OnSlotTerminated fires when a slot's process exits.
	OnSlotTerminated func(slot int, exitCode int)
	// OnDivergence fires when a slot's loop script exited 0 but some of its
	// stories are not complete in the status document.
	OnDivergence func(slot int, stuckStories []string)
	// OnError fires for surfaced failures.
	OnError func(err error)
}

// loopEvent is one message in the scheduler's event loop. Exactly one field
// group is populated, selected by kind.
type loopEvent struct {
	kind loopEventKind

	// storyID for eventStoryCompleted.
	storyID string

	// layerIndex and nextStories for eventLayerCompleted.
	layerIndex  int
	nextStories []string

	// slot and exitCode for eventSlotTerminated.
	slot     int
	exitCode int
}

type loopEventKind int

const (
	eventStoryCompleted loopEventKind = iota
	eventLayerCompleted
	eventAllComplete
	eventSlotTerminated
	eventStop
)
