package git

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotARepository indicates the target directory is not a git repository.
var ErrNotARepository = errors.New("not a git repository")

// ErrPathNotFound indicates a path the operation requires does not exist.
var ErrPathNotFound = errors.New("path not found")

// ErrPathExists indicates the target path for a new working copy is taken.
var ErrPathExists = errors.New("path already exists")

// CommandError reports a git command that exited non-zero. It carries the
// exit code and captured stderr so callers can decide what to do; the shim
// itself never retries.
type CommandError struct {
	// Args is the git argument vector that failed.
	Args []string
	// ExitCode is the command's exit status.
	ExitCode int
	// Stderr is the captured error output.
	Stderr string
}

// Error implements the error interface.
func (e *CommandError) Error() string {
	return fmt.Sprintf("git %s: exit %d: %s", strings.Join(e.Args, " "), e.ExitCode, strings.TrimSpace(e.Stderr))
}

// IsConflict reports whether the failure output looks like a merge conflict.
func (e *CommandError) IsConflict() bool {
	out := strings.ToLower(e.Stderr)
	return strings.Contains(out, "conflict") || strings.Contains(out, "automatic merge failed")
}
