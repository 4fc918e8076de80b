// Package prdfile loads PRD documents and slot assignments from disk.
package prdfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sambaleuk/crossroads/pkg/models"
)

// File is the on-disk shape of a dispatch description: a PRD plus an
// optional slot map.
type File struct {
	models.PRD `yaml:",inline"`
	// Slots optionally maps slots to agents and stories. When absent,
	// DefaultAssignments distributes stories round-robin.
	Slots []models.SlotAssignment `json:"slots,omitempty" yaml:"slots,omitempty"`
}

// Load reads a PRD file (.yaml, .yml, or .json) and returns the PRD and any
// embedded slot assignments.
func Load(path string) (*models.PRD, []models.SlotAssignment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read prd file: %w", err)
	}

	var f File
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, nil, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return nil, nil, fmt.Errorf("unsupported prd file extension %q", filepath.Ext(path))
	}

	prd := f.PRD
	if err := prd.Validate(); err != nil {
		return nil, nil, err
	}
	for i := range f.Slots {
		if err := f.Slots[i].Validate(); err != nil {
			return nil, nil, err
		}
	}
	return &prd, f.Slots, nil
}

// DefaultAssignments distributes the PRD's stories over count slots
// round-robin, all driven by the given agent kind. Stories keep document
// order, which tends to group related work.
func DefaultAssignments(prd *models.PRD, count int, agent models.AgentKind) []models.SlotAssignment {
	if count < 1 {
		count = 1
	}
	if count > len(prd.Stories) {
		count = len(prd.Stories)
	}

	assignments := make([]models.SlotAssignment, count)
	for i := range assignments {
		assignments[i] = models.SlotAssignment{
			Slot:   i + 1,
			Agent:  agent,
			Action: models.ActionImplement,
		}
	}
	for i, story := range prd.Stories {
		slot := i % count
		assignments[slot].StoryIDs = append(assignments[slot].StoryIDs, story.ID)
	}
	return assignments
}
