package models

import "time"

// SessionPhase represents the overall state of an orchestration run.
type SessionPhase string

const (
	// PhaseIdle indicates no dispatch is active.
	PhaseIdle SessionPhase = "idle"
	// PhaseProvisioning indicates slot working copies are being realised.
	PhaseProvisioning SessionPhase = "provisioning"
	// PhaseValidating indicates working copies are being checked.
	PhaseValidating SessionPhase = "validating"
	// PhaseLaunching indicates the first layer is being launched.
	PhaseLaunching SessionPhase = "launching"
	// PhaseMonitoring indicates agents are running and being watched.
	PhaseMonitoring SessionPhase = "monitoring"
	// PhaseCompleted indicates all work finished.
	PhaseCompleted SessionPhase = "completed"
	// PhaseFailed indicates the session failed.
	PhaseFailed SessionPhase = "failed"
)

// Session is the root record of one orchestration run.
type Session struct {
	// ID is a fresh UUID minted at start.
	ID string `json:"id"`
	// PRD is the requirements document being dispatched.
	PRD *PRD `json:"prd"`
	// Assignments is the slot assignment map.
	Assignments []SlotAssignment `json:"assignments"`
	// Layers holds story IDs grouped by topological depth.
	Layers [][]string `json:"layers"`
	// RepoPath is the repository the session runs against.
	RepoPath string `json:"repo_path"`
	// StatusPath is the absolute path to the shared status document.
	StatusPath string `json:"status_path"`
	// BaseBranch is the branch slot branches merge back into.
	BaseBranch string `json:"base_branch"`
	// Phase is the session's current phase.
	Phase SessionPhase `json:"phase"`
	// StartedAt is when the session was created.
	StartedAt time.Time `json:"started_at"`
	// CompletedAt is when the session reached a terminal phase.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// SlotFor returns the assignment owning the given story, or nil.
func (s *Session) SlotFor(storyID string) *SlotAssignment {
	for i := range s.Assignments {
		for _, id := range s.Assignments[i].StoryIDs {
			if id == storyID {
				return &s.Assignments[i]
			}
		}
	}
	return nil
}
