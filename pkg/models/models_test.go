package models

import (
	"reflect"
	"testing"
)

func TestPRDValidate(t *testing.T) {
	tests := []struct {
		name    string
		prd     PRD
		wantErr bool
	}{
		{
			name: "valid",
			prd: PRD{Name: "feature", Stories: []*Story{
				{ID: "US-001", Title: "one", Priority: PriorityHigh, Complexity: 2},
				{ID: "US-002", Title: "two", DependsOn: []string{"US-001"}},
			}},
		},
		{
			name:    "no stories",
			prd:     PRD{Name: "feature"},
			wantErr: true,
		},
		{
			name: "duplicate id",
			prd: PRD{Name: "feature", Stories: []*Story{
				{ID: "US-001", Title: "one"},
				{ID: "US-001", Title: "again"},
			}},
			wantErr: true,
		},
		{
			name: "unknown prerequisite",
			prd: PRD{Name: "feature", Stories: []*Story{
				{ID: "US-001", Title: "one", DependsOn: []string{"US-404"}},
			}},
			wantErr: true,
		},
		{
			name: "bad priority",
			prd: PRD{Name: "feature", Stories: []*Story{
				{ID: "US-001", Title: "one", Priority: "urgent"},
			}},
			wantErr: true,
		},
		{
			name: "complexity out of range",
			prd: PRD{Name: "feature", Stories: []*Story{
				{ID: "US-001", Title: "one", Complexity: 9},
			}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.prd.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPRDFilteredPreservesEdges(t *testing.T) {
	prd := &PRD{Name: "feature", Stories: []*Story{
		{ID: "US-001", Title: "one"},
		{ID: "US-002", Title: "two", DependsOn: []string{"US-001"}},
		{ID: "US-003", Title: "three", DependsOn: []string{"US-002"}},
	}}

	filtered := prd.Filtered([]string{"US-003"})
	if len(filtered.Stories) != 1 {
		t.Fatalf("expected 1 story, got %d", len(filtered.Stories))
	}
	// The edge to US-002 stays even though US-002 is filtered out.
	if !reflect.DeepEqual(filtered.Stories[0].DependsOn, []string{"US-002"}) {
		t.Errorf("dependency edges not preserved: %v", filtered.Stories[0].DependsOn)
	}
}

func TestSlotAssignmentNaming(t *testing.T) {
	a := SlotAssignment{
		Slot:     2,
		Agent:    AgentClaude,
		Action:   ActionImplement,
		StoryIDs: []string{"US-004", "US-007", "US-009"},
	}

	if got, want := a.DirectoryName(), "slot-2-claude-us-004-us-007"; got != want {
		t.Errorf("DirectoryName() = %q, want %q", got, want)
	}
	if got, want := a.BranchName(), "xroads/slot-2-claude-us-004-us-007"; got != want {
		t.Errorf("BranchName() = %q, want %q", got, want)
	}
}

func TestSlotAssignmentValidate(t *testing.T) {
	a := SlotAssignment{Slot: 0, Agent: AgentClaude, StoryIDs: []string{"US-001"}}
	if err := a.Validate(); err == nil {
		t.Error("expected error for slot 0")
	}

	a = SlotAssignment{Slot: 1, Agent: "cursor", StoryIDs: []string{"US-001"}}
	if err := a.Validate(); err == nil {
		t.Error("expected error for unknown agent")
	}

	a = SlotAssignment{Slot: 1, Agent: AgentCodex, StoryIDs: []string{"US-001"}}
	if err := a.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if a.Action != ActionImplement {
		t.Errorf("empty action not defaulted, got %q", a.Action)
	}
}

func TestStoryStatusValid(t *testing.T) {
	valid := []StoryStatus{
		StoryStatusPending, StoryStatusBlocked, StoryStatusReady,
		StoryStatusInProgress, StoryStatusComplete, StoryStatusFailed,
	}
	for _, s := range valid {
		if !s.Valid() {
			t.Errorf("%q should be valid", s)
		}
	}
	if StoryStatus("done").Valid() {
		t.Error("\"done\" should be invalid")
	}
}

func TestSessionSlotFor(t *testing.T) {
	session := &Session{
		Assignments: []SlotAssignment{
			{Slot: 1, Agent: AgentClaude, StoryIDs: []string{"US-001"}},
			{Slot: 2, Agent: AgentCodex, StoryIDs: []string{"US-002", "US-003"}},
		},
	}

	if a := session.SlotFor("US-003"); a == nil || a.Slot != 2 {
		t.Errorf("SlotFor(US-003) = %+v, want slot 2", a)
	}
	if a := session.SlotFor("US-404"); a != nil {
		t.Errorf("SlotFor(US-404) = %+v, want nil", a)
	}
}
