package scheduler

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/sambaleuk/crossroads/internal/config"
	"github.com/sambaleuk/crossroads/internal/status"
	"github.com/sambaleuk/crossroads/pkg/models"
)

func newBareScheduler() *Scheduler {
	return New(config.Default(), nil, nil, nil, nil, Callbacks{}, NopLogger())
}

func diamondPRD() *models.PRD {
	return &models.PRD{Name: "feature", Stories: []*models.Story{
		{ID: "C", Title: "c"},
		{ID: "A", Title: "a", DependsOn: []string{"C"}},
		{ID: "B", Title: "b", DependsOn: []string{"C"}},
		{ID: "D", Title: "d", DependsOn: []string{"A", "B"}},
	}}
}

func TestCheckCoverageMissingSlot(t *testing.T) {
	s := newBareScheduler()
	session := &models.Session{
		PRD: diamondPRD(),
		Assignments: []models.SlotAssignment{
			{Slot: 1, Agent: models.AgentClaude, Action: models.ActionImplement, StoryIDs: []string{"C", "A"}},
			// B and D unowned.
		},
	}

	err := s.checkCoverage(session)
	if !errors.Is(err, ErrNoSlotForStory) {
		t.Fatalf("expected ErrNoSlotForStory, got %v", err)
	}
}

func TestCheckCoverageDuplicateOwnership(t *testing.T) {
	s := newBareScheduler()
	session := &models.Session{
		PRD: diamondPRD(),
		Assignments: []models.SlotAssignment{
			{Slot: 1, Agent: models.AgentClaude, Action: models.ActionImplement, StoryIDs: []string{"C", "A", "B"}},
			{Slot: 2, Agent: models.AgentCodex, Action: models.ActionImplement, StoryIDs: []string{"B", "D"}},
		},
	}

	if err := s.checkCoverage(session); err == nil {
		t.Fatal("expected error for doubly-owned story")
	}
}

func TestCheckCoverageComplete(t *testing.T) {
	s := newBareScheduler()
	session := &models.Session{
		PRD: diamondPRD(),
		Assignments: []models.SlotAssignment{
			{Slot: 1, Agent: models.AgentClaude, Action: models.ActionImplement, StoryIDs: []string{"C", "A"}},
			{Slot: 2, Agent: models.AgentCodex, Action: models.ActionImplement, StoryIDs: []string{"B", "D"}},
		},
	}

	if err := s.checkCoverage(session); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFirstIncompleteLayer(t *testing.T) {
	s := newBareScheduler()
	doc := &status.Document{
		Layers: [][]string{{"C"}, {"A", "B"}, {"D"}},
		Stories: map[string]*status.StoryTrack{
			"C": {ID: "C", Status: models.StoryStatusComplete},
			"A": {ID: "A", Status: models.StoryStatusComplete},
			"B": {ID: "B", Status: models.StoryStatusReady},
			"D": {ID: "D", Status: models.StoryStatusBlocked},
		},
	}

	if got := s.firstIncompleteLayer(doc); got != 1 {
		t.Errorf("firstIncompleteLayer = %d, want 1", got)
	}
}

func TestLayerOf(t *testing.T) {
	layers := [][]string{{"C"}, {"A", "B"}, {"D"}}
	if got := layerOf(layers, "B"); got != 1 {
		t.Errorf("layerOf(B) = %d, want 1", got)
	}
	if got := layerOf(layers, "missing"); got != -1 {
		t.Errorf("layerOf(missing) = %d, want -1", got)
	}
}

func TestWatcherEmitsCompletionEvents(t *testing.T) {
	store := status.NewStore(filepath.Join(t.TempDir(), status.Dir, status.FileName))
	prd := &models.PRD{Name: "feature", Stories: []*models.Story{
		{ID: "US-001", Title: "one"},
		{ID: "US-002", Title: "two", DependsOn: []string{"US-001"}},
	}}
	if _, err := store.Initialise("session-1", prd, false); err != nil {
		t.Fatalf("initialise: %v", err)
	}

	var events []loopEvent
	w := newWatcher(store, time.Second,
		func(ev loopEvent) { events = append(events, ev) },
		func(err error) { t.Fatalf("fatal: %v", err) },
		func(string, ...interface{}) {})

	// Nothing complete yet.
	w.scan()
	if len(events) != 0 {
		t.Fatalf("premature events: %v", events)
	}

	if err := store.Transition("US-001", models.StoryStatusComplete, ""); err != nil {
		t.Fatalf("transition: %v", err)
	}
	w.scan()

	if len(events) != 2 {
		t.Fatalf("events = %d, want storyCompleted + layerCompleted", len(events))
	}
	if events[0].kind != eventStoryCompleted || events[0].storyID != "US-001" {
		t.Errorf("first event = %+v", events[0])
	}
	if events[1].kind != eventLayerCompleted || events[1].layerIndex != 0 {
		t.Errorf("second event = %+v", events[1])
	}
	if len(events[1].nextStories) != 1 || events[1].nextStories[0] != "US-002" {
		t.Errorf("next stories = %v", events[1].nextStories)
	}

	// Repeated scans are quiet: the seen-set dedupes.
	w.scan()
	if len(events) != 2 {
		t.Fatalf("duplicate events after rescan: %d", len(events))
	}

	if err := store.Transition("US-002", models.StoryStatusComplete, ""); err != nil {
		t.Fatalf("transition: %v", err)
	}
	w.scan()

	last := events[len(events)-1]
	if last.kind != eventAllComplete {
		t.Errorf("last event = %+v, want allComplete", last)
	}
}

func TestWatcherSeenWindowBounded(t *testing.T) {
	w := newWatcher(nil, time.Second, func(loopEvent) {}, func(error) {}, func(string, ...interface{}) {})
	for i := 0; i < seenWindow+100; i++ {
		w.remember(fmt.Sprintf("US-%d", i))
	}
	if len(w.seen) > seenWindow {
		t.Errorf("seen set grew to %d, cap is %d", len(w.seen), seenWindow)
	}
}
