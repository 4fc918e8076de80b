package prdfile

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/sambaleuk/crossroads/pkg/models"
)

const yamlPRD = `name: checkout-flow
description: New checkout flow
author: pm
stories:
  - id: US-001
    title: Cart summary
    priority: high
    complexity: 2
  - id: US-002
    title: Payment step
    priority: critical
    complexity: 3
    depends_on: [US-001]
slots:
  - slot: 1
    agent: claude
    action: implement
    story_ids: [US-001, US-002]
`

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeTemp(t, "prd.yaml", yamlPRD)

	prd, slots, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if prd.Name != "checkout-flow" || len(prd.Stories) != 2 {
		t.Errorf("prd = %+v", prd)
	}
	if !reflect.DeepEqual(prd.Stories[1].DependsOn, []string{"US-001"}) {
		t.Errorf("depends_on = %v", prd.Stories[1].DependsOn)
	}
	if len(slots) != 1 || slots[0].Agent != models.AgentClaude {
		t.Errorf("slots = %+v", slots)
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeTemp(t, "prd.json", `{
  "name": "feature",
  "stories": [
    {"id": "US-001", "title": "one"}
  ]
}`)

	prd, slots, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if prd.Name != "feature" || len(prd.Stories) != 1 {
		t.Errorf("prd = %+v", prd)
	}
	if slots != nil {
		t.Errorf("slots = %v, want none", slots)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := writeTemp(t, "prd.yaml", "name: broken\nstories: []\n")
	if _, _, err := Load(path); err == nil {
		t.Fatal("expected validation error for empty story list")
	}

	path = writeTemp(t, "prd.txt", "whatever")
	if _, _, err := Load(path); err == nil {
		t.Fatal("expected error for unsupported extension")
	}
}

func TestDefaultAssignmentsRoundRobin(t *testing.T) {
	prd := &models.PRD{Name: "feature", Stories: []*models.Story{
		{ID: "US-001", Title: "a"},
		{ID: "US-002", Title: "b"},
		{ID: "US-003", Title: "c"},
		{ID: "US-004", Title: "d"},
		{ID: "US-005", Title: "e"},
	}}

	assignments := DefaultAssignments(prd, 2, models.AgentClaude)
	if len(assignments) != 2 {
		t.Fatalf("assignments = %d, want 2", len(assignments))
	}
	if !reflect.DeepEqual(assignments[0].StoryIDs, []string{"US-001", "US-003", "US-005"}) {
		t.Errorf("slot 1 stories = %v", assignments[0].StoryIDs)
	}
	if !reflect.DeepEqual(assignments[1].StoryIDs, []string{"US-002", "US-004"}) {
		t.Errorf("slot 2 stories = %v", assignments[1].StoryIDs)
	}
}

func TestDefaultAssignmentsCapsAtStoryCount(t *testing.T) {
	prd := &models.PRD{Name: "feature", Stories: []*models.Story{
		{ID: "US-001", Title: "only"},
	}}

	assignments := DefaultAssignments(prd, 6, models.AgentGemini)
	if len(assignments) != 1 {
		t.Errorf("assignments = %d, want 1 for a single story", len(assignments))
	}
}
