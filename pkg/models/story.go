package models

import "fmt"

// StoryStatus represents the lifecycle state of a user story.
// The string values are the on-disk protocol values shared with agents.
type StoryStatus string

const (
	// StoryStatusPending indicates the story has not been scheduled yet.
	StoryStatusPending StoryStatus = "pending"
	// StoryStatusBlocked indicates at least one prerequisite is incomplete.
	StoryStatusBlocked StoryStatus = "blocked"
	// StoryStatusReady indicates all prerequisites are complete.
	StoryStatusReady StoryStatus = "ready"
	// StoryStatusInProgress indicates an agent is working on the story.
	StoryStatusInProgress StoryStatus = "in-progress"
	// StoryStatusComplete indicates the story finished successfully.
	StoryStatusComplete StoryStatus = "complete"
	// StoryStatusFailed indicates the story failed.
	StoryStatusFailed StoryStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s StoryStatus) Valid() bool {
	switch s {
	case StoryStatusPending, StoryStatusBlocked, StoryStatusReady,
		StoryStatusInProgress, StoryStatusComplete, StoryStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal returns true if the status is a final state.
func (s StoryStatus) Terminal() bool {
	return s == StoryStatusComplete || s == StoryStatusFailed
}

// Priority represents the business priority of a story.
type Priority string

const (
	// PriorityCritical is the highest priority.
	PriorityCritical Priority = "critical"
	// PriorityHigh is above-normal priority.
	PriorityHigh Priority = "high"
	// PriorityMedium is normal priority.
	PriorityMedium Priority = "medium"
	// PriorityLow is the lowest priority.
	PriorityLow Priority = "low"
)

// Valid returns true if the priority is a known value.
func (p Priority) Valid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	default:
		return false
	}
}

// Story is an atomic unit of work with a stable ID and declared prerequisites.
type Story struct {
	// ID is the stable short identifier, e.g. "US-001".
	ID string `json:"id" yaml:"id"`
	// Title is the short description of the story.
	Title string `json:"title" yaml:"title"`
	// Description provides detailed information about the story.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// Priority is the business priority.
	Priority Priority `json:"priority" yaml:"priority"`
	// Complexity is an estimate from 1 (trivial) to 5 (hard).
	Complexity int `json:"complexity" yaml:"complexity"`
	// AcceptanceCriteria defines the criteria for completion.
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty" yaml:"acceptance_criteria,omitempty"`
	// DependsOn lists story IDs that must complete before this story.
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	// Status is the persisted lifecycle state.
	Status StoryStatus `json:"status,omitempty" yaml:"status,omitempty"`
}

// Validate checks the story's fields for internal consistency.
func (s *Story) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("story has empty id")
	}
	if s.Title == "" {
		return fmt.Errorf("story %s has empty title", s.ID)
	}
	if s.Priority != "" && !s.Priority.Valid() {
		return fmt.Errorf("story %s has invalid priority %q", s.ID, s.Priority)
	}
	if s.Complexity != 0 && (s.Complexity < 1 || s.Complexity > 5) {
		return fmt.Errorf("story %s has complexity %d outside 1-5", s.ID, s.Complexity)
	}
	if s.Status != "" && !s.Status.Valid() {
		return fmt.Errorf("story %s has invalid status %q", s.ID, s.Status)
	}
	return nil
}
