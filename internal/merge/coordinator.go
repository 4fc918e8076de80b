// Package merge plans and executes the integration of slot branches back
// into the base branch, with optional automated resolution of trivial
// conflicts.
package merge

import (
	"fmt"

	"github.com/sambaleuk/crossroads/internal/git"
	"github.com/sambaleuk/crossroads/pkg/models"
)

// StepState classifies a planned merge step.
type StepState string

const (
	// StepReady means the dry run predicted a clean merge.
	StepReady StepState = "ready"
	// StepBlocked means the dry run predicted conflicts.
	StepBlocked StepState = "blocked"
)

// PlanStep is one branch's entry in a merge plan.
type PlanStep struct {
	// Slot is the slot number that produced the branch.
	Slot int
	// Branch is the slot branch to merge.
	Branch string
	// State is ready or blocked.
	State StepState
	// PredictedConflicts lists the paths the dry run flagged.
	PredictedConflicts []string
}

// Plan is the per-branch conflict prediction for a set of slot branches.
type Plan struct {
	// BaseBranch is the branch everything merges into.
	BaseBranch string
	// Steps is one entry per completed slot, in slot order.
	Steps []PlanStep
}

// Conflict records a branch that could not be merged.
type Conflict struct {
	// Branch is the conflicting branch.
	Branch string
	// Files lists the conflicted paths.
	Files []string
}

// Result is the outcome of executing a merge plan.
type Result struct {
	// Success is true when no conflicts were recorded.
	Success bool
	// MergedBranches lists branches merged into the base, in order.
	MergedBranches []string
	// Conflicts lists branches that failed, with their conflicted files.
	Conflicts []Conflict
	// RolledBack is true when an in-progress merge was aborted.
	RolledBack bool
	// Resolved lists files fixed by automated three-way resolution.
	Resolved []string
}

// Coordinator merges completed slot branches into the base branch.
type Coordinator struct {
	repo       git.Runner
	baseBranch string

	debugLog func(format string, args ...interface{})
}

// NewCoordinator creates a coordinator targeting the given base branch.
func NewCoordinator(repo git.Runner, baseBranch string) *Coordinator {
	return &Coordinator{
		repo:       repo,
		baseBranch: baseBranch,
		debugLog:   func(format string, args ...interface{}) {},
	}
}

// SetDebugLog sets the debug logging function.
func (c *Coordinator) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		c.debugLog = fn
	}
}

// PlanMerges dry-runs each completed slot's branch onto the base branch and
// records the predicted conflict set. The repository is left exactly as
// found: the dry run merges without committing, then resets or aborts.
func (c *Coordinator) PlanMerges(slots []models.SlotInfo) (*Plan, error) {
	root := c.repo.RepoPath()
	if err := c.repo.Checkout(root, c.baseBranch); err != nil {
		return nil, fmt.Errorf("checkout base branch %s: %w", c.baseBranch, err)
	}

	plan := &Plan{BaseBranch: c.baseBranch}
	for _, slot := range slots {
		if slot.Lifecycle != models.SlotCompleted {
			continue
		}
		step := PlanStep{Slot: slot.Assignment.Slot, Branch: slot.Branch, State: StepReady}

		conflicts, err := c.repo.DryRunMerge(root, slot.Branch)
		if err != nil {
			return nil, fmt.Errorf("dry-run merge of %s: %w", slot.Branch, err)
		}
		if len(conflicts) > 0 {
			step.State = StepBlocked
			step.PredictedConflicts = conflicts
			c.debugLog("[merge] %s predicted conflicts: %v", slot.Branch, conflicts)
		}
		plan.Steps = append(plan.Steps, step)
	}
	return plan, nil
}

// Execute runs the plan's ready steps as real merges, sequentially. On the
// first conflict the in-progress merge is aborted and execution stops; the
// default path never attempts resolution.
func (c *Coordinator) Execute(plan *Plan) (*Result, error) {
	return c.execute(plan, false)
}

// ExecuteWithResolution runs the plan like Execute, but on conflict attempts
// automated three-way resolution of each conflicted file before giving up.
// Resolution is strictly opt-in.
func (c *Coordinator) ExecuteWithResolution(plan *Plan) (*Result, error) {
	return c.execute(plan, true)
}

func (c *Coordinator) execute(plan *Plan, resolve bool) (*Result, error) {
	root := c.repo.RepoPath()
	if err := c.repo.Checkout(root, plan.BaseBranch); err != nil {
		return nil, fmt.Errorf("checkout base branch %s: %w", plan.BaseBranch, err)
	}

	result := &Result{}
	for _, step := range plan.Steps {
		if step.State != StepReady {
			result.Conflicts = append(result.Conflicts, Conflict{
				Branch: step.Branch,
				Files:  step.PredictedConflicts,
			})
			continue
		}

		message := fmt.Sprintf("Merge %s into %s", step.Branch, plan.BaseBranch)
		err := c.repo.Merge(root, step.Branch, git.MergeOptions{
			Commit:      true,
			FastForward: false,
			Message:     message,
		})
		if err == nil {
			result.MergedBranches = append(result.MergedBranches, step.Branch)
			c.debugLog("[merge] merged %s", step.Branch)
			continue
		}

		files, listErr := c.repo.ConflictedFiles(root)
		if listErr != nil {
			files = nil
		}

		if resolve {
			resolved, ok := c.resolveConflicts(root, files)
			if ok {
				if commitErr := c.repo.Commit(root, message, false); commitErr == nil {
					result.MergedBranches = append(result.MergedBranches, step.Branch)
					result.Resolved = append(result.Resolved, resolved...)
					c.debugLog("[merge] merged %s after resolving %v", step.Branch, resolved)
					continue
				}
			}
		}

		result.Conflicts = append(result.Conflicts, Conflict{Branch: step.Branch, Files: files})
		if abortErr := c.repo.AbortMerge(root); abortErr != nil {
			return result, fmt.Errorf("abort merge of %s: %w", step.Branch, abortErr)
		}
		result.RolledBack = true
		break
	}

	result.Success = len(result.Conflicts) == 0
	return result, nil
}

// resolveConflicts attempts three-way resolution of every conflicted file.
// Returns the resolved paths and whether all files were handled.
func (c *Coordinator) resolveConflicts(root string, files []string) ([]string, bool) {
	var resolved []string
	for _, file := range files {
		ancestor, _ := c.repo.ShowFile(root, ":1", file)
		ours, oursErr := c.repo.ShowFile(root, ":2", file)
		theirs, theirsErr := c.repo.ShowFile(root, ":3", file)
		if oursErr != nil || theirsErr != nil {
			return resolved, false
		}

		content, kind := Resolve(ancestor, ours, theirs)
		if kind == Unresolvable {
			c.debugLog("[merge] %s needs human resolution", file)
			return resolved, false
		}

		if err := writeResolved(root, file, content); err != nil {
			return resolved, false
		}
		if err := c.repo.Stage(root, file); err != nil {
			return resolved, false
		}
		resolved = append(resolved, file)
	}
	return resolved, true
}
