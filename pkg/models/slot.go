package models

import (
	"fmt"
	"strings"
)

// AgentKind identifies one of the interactive CLI coding agents.
type AgentKind string

const (
	// AgentClaude is the Claude Code CLI.
	AgentClaude AgentKind = "claude"
	// AgentCodex is the Codex CLI.
	AgentCodex AgentKind = "codex"
	// AgentGemini is the Gemini CLI.
	AgentGemini AgentKind = "gemini"
	// AgentOpencode is the opencode CLI.
	AgentOpencode AgentKind = "opencode"
)

// Valid returns true if the agent kind is a known value.
func (a AgentKind) Valid() bool {
	switch a {
	case AgentClaude, AgentCodex, AgentGemini, AgentOpencode:
		return true
	default:
		return false
	}
}

// ActionKind identifies the role a slot's agent plays.
type ActionKind string

const (
	// ActionImplement builds the assigned stories.
	ActionImplement ActionKind = "implement"
	// ActionTest writes and runs tests for the assigned stories.
	ActionTest ActionKind = "test"
	// ActionReview reviews work produced by other slots.
	ActionReview ActionKind = "review"
	// ActionDocument writes documentation for the assigned stories.
	ActionDocument ActionKind = "document"
)

// Valid returns true if the action kind is a known value.
func (a ActionKind) Valid() bool {
	switch a {
	case ActionImplement, ActionTest, ActionReview, ActionDocument:
		return true
	default:
		return false
	}
}

// SlotLifecycle represents the state of a worker slot.
type SlotLifecycle string

const (
	// SlotPending indicates the slot has not been provisioned.
	SlotPending SlotLifecycle = "pending"
	// SlotWorktreeReady indicates the working copy has been provisioned. A
	// slot whose copy then fails validation moves to SlotFailed.
	SlotWorktreeReady SlotLifecycle = "worktree_ready"
	// SlotLaunching indicates the agent process is being started.
	SlotLaunching SlotLifecycle = "launching"
	// SlotRunning indicates the agent process is alive.
	SlotRunning SlotLifecycle = "running"
	// SlotCompleted indicates the loop script exited with code 0.
	SlotCompleted SlotLifecycle = "completed"
	// SlotFailed indicates provisioning, launch, or the loop script failed.
	SlotFailed SlotLifecycle = "failed"
)

// Active returns true if the slot may own a live process.
func (l SlotLifecycle) Active() bool {
	return l == SlotLaunching || l == SlotRunning
}

// SlotAssignment maps a slot number to an agent, a role, and the stories the
// slot owns. This is caller input, fixed for the life of a session.
type SlotAssignment struct {
	// Slot is the small positive slot number (typically 1-6).
	Slot int `json:"slot" yaml:"slot"`
	// Agent is the CLI agent kind driving this slot.
	Agent AgentKind `json:"agent" yaml:"agent"`
	// Action is the role the agent plays.
	Action ActionKind `json:"action" yaml:"action"`
	// StoryIDs lists the stories owned by this slot.
	StoryIDs []string `json:"story_ids" yaml:"story_ids"`
	// Skills lists role-specific skill prompts loaded into the brief.
	Skills []string `json:"skills,omitempty" yaml:"skills,omitempty"`
}

// Validate checks the assignment fields.
func (a *SlotAssignment) Validate() error {
	if a.Slot < 1 {
		return fmt.Errorf("slot number %d must be positive", a.Slot)
	}
	if !a.Agent.Valid() {
		return fmt.Errorf("slot %d has unknown agent kind %q", a.Slot, a.Agent)
	}
	if a.Action == "" {
		a.Action = ActionImplement
	}
	if !a.Action.Valid() {
		return fmt.Errorf("slot %d has unknown action kind %q", a.Slot, a.Action)
	}
	if len(a.StoryIDs) == 0 {
		return fmt.Errorf("slot %d has no assigned stories", a.Slot)
	}
	return nil
}

// DirectoryName returns the deterministic worktree directory name for the
// assignment: slot-<n>-<agent>-<firstTwoStoryIdsLowercased>.
func (a *SlotAssignment) DirectoryName() string {
	ids := a.StoryIDs
	if len(ids) > 2 {
		ids = ids[:2]
	}
	suffix := strings.ToLower(strings.Join(ids, "-"))
	return fmt.Sprintf("slot-%d-%s-%s", a.Slot, a.Agent, suffix)
}

// BranchName returns the branch the slot commits to: xroads/<directoryName>.
func (a *SlotAssignment) BranchName() string {
	return "xroads/" + a.DirectoryName()
}

// SlotInfo is the scheduler's view of a slot: the assignment plus runtime
// state. Only the scheduler mutates it.
type SlotInfo struct {
	// Assignment is the caller-supplied slot assignment.
	Assignment SlotAssignment `json:"assignment"`
	// Path is the absolute path to the slot's working copy.
	Path string `json:"path,omitempty"`
	// Branch is the branch the working copy is checked out on.
	Branch string `json:"branch,omitempty"`
	// ProcessID is the opaque supervisor handle of the live process, if any.
	ProcessID string `json:"process_id,omitempty"`
	// Lifecycle is the slot's current state.
	Lifecycle SlotLifecycle `json:"lifecycle"`
	// ExitCode is the loop script's exit code once terminated.
	ExitCode *int `json:"exit_code,omitempty"`
	// LastError holds the most recent failure message, if any.
	LastError string `json:"last_error,omitempty"`
}
