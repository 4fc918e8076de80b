package orchestrator

import (
	"errors"
	"testing"

	"github.com/sambaleuk/crossroads/internal/config"
	"github.com/sambaleuk/crossroads/pkg/models"
)

func TestDispatchRejectsUnknownMode(t *testing.T) {
	o := New(config.Default())
	defer o.Close()

	if _, err := o.Dispatch(Request{Mode: "batch"}); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestDispatchPRDRequiresPRD(t *testing.T) {
	o := New(config.Default())
	defer o.Close()

	if _, err := o.Dispatch(Request{Mode: ModePRD, RepoPath: t.TempDir()}); err == nil {
		t.Fatal("expected error for missing PRD")
	}
}

func TestDispatchPRDRejectsInvalidPRD(t *testing.T) {
	o := New(config.Default())
	defer o.Close()

	prd := &models.PRD{Name: "broken"} // no stories
	_, err := o.Dispatch(Request{
		Mode:     ModePRD,
		RepoPath: t.TempDir(),
		PRD:      prd,
		Assignments: []models.SlotAssignment{
			{Slot: 1, Agent: models.AgentClaude, StoryIDs: []string{"US-001"}},
		},
	})
	if err == nil {
		t.Fatal("expected validation error")
	}
}

func TestDispatchPRDRequiresRepository(t *testing.T) {
	o := New(config.Default())
	defer o.Close()

	prd := &models.PRD{Name: "feature", Stories: []*models.Story{{ID: "US-001", Title: "one"}}}
	_, err := o.Dispatch(Request{
		Mode:     ModePRD,
		RepoPath: t.TempDir(), // no .git marker
		PRD:      prd,
		Assignments: []models.SlotAssignment{
			{Slot: 1, Agent: models.AgentClaude, StoryIDs: []string{"US-001"}},
		},
	})
	if err == nil {
		t.Fatal("expected error for non-repository path")
	}
}

func TestDispatchSingleValidation(t *testing.T) {
	o := New(config.Default())
	defer o.Close()

	if _, err := o.Dispatch(Request{Mode: ModeSingle, Path: t.TempDir()}); err == nil {
		t.Fatal("expected error for missing instruction")
	}
	if _, err := o.Dispatch(Request{Mode: ModeSingle, Instruction: "do it"}); err == nil {
		t.Fatal("expected error for missing path")
	}
	if _, err := o.Dispatch(Request{Mode: ModeSingle, Agent: "clippy", Path: t.TempDir(), Instruction: "x"}); err == nil {
		t.Fatal("expected error for unknown agent")
	}
}

func TestCancelAndStatusUnknownRequest(t *testing.T) {
	o := New(config.Default())
	defer o.Close()

	if err := o.Cancel("nope"); !errors.Is(err, ErrUnknownRequest) {
		t.Errorf("Cancel = %v, want ErrUnknownRequest", err)
	}
	if _, err := o.Status("nope"); !errors.Is(err, ErrUnknownRequest) {
		t.Errorf("Status = %v, want ErrUnknownRequest", err)
	}
	if _, err := o.Wait("nope"); !errors.Is(err, ErrUnknownRequest) {
		t.Errorf("Wait = %v, want ErrUnknownRequest", err)
	}
}

func TestEventEmitterDropsWhenFull(t *testing.T) {
	e := NewEventEmitter(1)
	e.Emit(Event{Type: EventProgress})
	e.Emit(Event{Type: EventProgress}) // dropped, must not block

	select {
	case ev := <-e.Events():
		if ev.Type != EventProgress {
			t.Errorf("event = %+v", ev)
		}
	default:
		t.Error("no event buffered")
	}
}
