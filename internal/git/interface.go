// Package git is the capability surface over the repository tool. All
// repository access in the orchestrator goes through this package; no other
// component invokes git directly.
package git

// MergeOptions controls how a merge is performed.
type MergeOptions struct {
	// Commit creates the merge commit on success. When false the merge
	// result is left staged (--no-commit).
	Commit bool
	// FastForward permits fast-forward merges. When false --no-ff is used.
	FastForward bool
	// Message is the merge commit message, if Commit is set.
	Message string
}

// WorktreeOperations defines the interface for working-copy management.
type WorktreeOperations interface {
	// CreateWorkingCopy creates a lightweight working copy at path bound to
	// a new branch forked from the current HEAD. Fails with ErrPathExists
	// if path is already taken.
	CreateWorkingCopy(branch, path string) error
	// AddWorkingCopyFromBranch creates a working copy at path reusing an
	// existing branch.
	AddWorkingCopyFromBranch(branch, path string) error
	// ListWorkingCopies enumerates the paths of all registered working copies.
	ListWorkingCopies() ([]string, error)
	// RemoveWorkingCopy force-removes the working copy at path.
	RemoveWorkingCopy(path string) error
	// PruneWorkingCopies clears stale working-copy registrations.
	PruneWorkingCopies() error
}

// BranchOperations defines the interface for branch management.
type BranchOperations interface {
	// BranchExists returns true if the named local branch exists.
	BranchExists(name string) (bool, error)
	// DeleteBranch deletes the named branch, forcing if requested.
	DeleteBranch(name string, force bool) error
	// Checkout switches the working copy at dir to the named branch.
	Checkout(dir, branch string) error
}

// InspectOperations defines read-only queries against a working copy.
type InspectOperations interface {
	// CurrentBranch returns the branch checked out at dir.
	CurrentBranch(dir string) (string, error)
	// HeadCommit returns the commit SHA at dir's HEAD.
	HeadCommit(dir string) (string, error)
	// ConflictedFiles lists paths with unmerged index entries at dir.
	ConflictedFiles(dir string) ([]string, error)
	// IsRepository reports whether dir is the top of a git checkout (the
	// .git presence marker exists in dir itself; parent directories are not
	// searched).
	IsRepository(dir string) bool
	// MergeBase returns the common ancestor commit of two refs.
	MergeBase(dir, ref1, ref2 string) (string, error)
	// ShowFile returns the contents of a file at a specific ref.
	ShowFile(dir, ref, path string) (string, error)
}

// MergeOperations defines merge, abort, and reset.
type MergeOperations interface {
	// Merge merges branch into the branch checked out at dir.
	Merge(dir, branch string, opts MergeOptions) error
	// AbortMerge aborts an in-progress merge at dir.
	AbortMerge(dir string) error
	// ResetHard hard-resets dir to the given ref.
	ResetHard(dir, ref string) error
	// DryRunMerge probes whether branch merges cleanly into dir's branch,
	// leaving no residue. Returns the predicted conflicted paths, empty on
	// a clean merge.
	DryRunMerge(dir, branch string) ([]string, error)
}

// IndexOperations defines staging-area manipulation.
type IndexOperations interface {
	// Stage stages the given file at dir.
	Stage(dir, file string) error
	// Commit commits staged changes at dir with the given message.
	Commit(dir, message string, allowEmpty bool) error
	// IsTracked reports whether file is tracked in dir's index.
	IsTracked(dir, file string) (bool, error)
	// RemoveFromIndex removes file from dir's index, keeping it on disk.
	RemoveFromIndex(dir, file string) error
}

// Runner is the complete shim interface. Consumers should prefer the focused
// interfaces when possible.
type Runner interface {
	WorktreeOperations
	BranchOperations
	InspectOperations
	MergeOperations
	IndexOperations
	// RepoPath returns the repository root the runner is bound to.
	RepoPath() string
	// Run executes an arbitrary git command at dir (repo root if empty).
	Run(dir string, args ...string) (string, error)
}
