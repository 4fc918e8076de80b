package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	cmdexec "github.com/sambaleuk/crossroads/internal/exec"
)

// DefaultCommandTimeout bounds each git invocation.
const DefaultCommandTimeout = 60 * time.Second

// ExecRunner implements Runner by shelling out to git. Command execution is
// serialised: no two commands touch the repository concurrently.
type ExecRunner struct {
	repoPath string
	runner   cmdexec.CommandRunner
	timeout  time.Duration
	mu       sync.Mutex
}

// NewRunner creates a runner bound to the repository at repoPath.
func NewRunner(repoPath string) *ExecRunner {
	return &ExecRunner{
		repoPath: repoPath,
		runner:   cmdexec.NewRunner(),
		timeout:  DefaultCommandTimeout,
	}
}

// NewRunnerWith creates a runner with a custom command runner (for testing).
func NewRunnerWith(repoPath string, runner cmdexec.CommandRunner) *ExecRunner {
	return &ExecRunner{
		repoPath: repoPath,
		runner:   runner,
		timeout:  DefaultCommandTimeout,
	}
}

// SetCommandTimeout overrides the per-command deadline.
func (r *ExecRunner) SetCommandTimeout(d time.Duration) {
	if d > 0 {
		r.timeout = d
	}
}

// RepoPath returns the repository root the runner is bound to.
func (r *ExecRunner) RepoPath() string {
	return r.repoPath
}

// run executes one git command under the serialisation lock and the
// per-command deadline. A non-zero exit surfaces as *CommandError, except
// that "not a git repository" and "No such file or directory" output are
// reported as ErrNotARepository and ErrPathNotFound.
func (r *ExecRunner) run(dir string, args ...string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if dir == "" {
		dir = r.repoPath
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	out, err := r.runner.Run(ctx, dir, "git", args...)
	if err != nil {
		code := cmdexec.ExitCode(err)
		stderr := string(out)
		switch {
		case strings.Contains(stderr, "not a git repository"):
			return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), ErrNotARepository)
		case strings.Contains(stderr, "No such file or directory"):
			return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), ErrPathNotFound)
		default:
			return "", &CommandError{Args: args, ExitCode: code, Stderr: stderr}
		}
	}
	return strings.TrimSpace(string(out)), nil
}

// Run executes an arbitrary git command at dir.
func (r *ExecRunner) Run(dir string, args ...string) (string, error) {
	return r.run(dir, args...)
}

// CreateWorkingCopy creates a working copy at path on a new branch forked
// from the current HEAD.
func (r *ExecRunner) CreateWorkingCopy(branch, path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("create working copy at %s: %w", path, ErrPathExists)
	}
	_, err := r.run("", "worktree", "add", path, "-b", branch)
	return err
}

// AddWorkingCopyFromBranch creates a working copy at path reusing an
// existing branch.
func (r *ExecRunner) AddWorkingCopyFromBranch(branch, path string) error {
	_, err := r.run("", "worktree", "add", path, branch)
	return err
}

// ListWorkingCopies enumerates registered working-copy paths.
func (r *ExecRunner) ListWorkingCopies() ([]string, error) {
	out, err := r.run("", "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, line := range strings.Split(out, "\n") {
		if rest, ok := strings.CutPrefix(line, "worktree "); ok {
			paths = append(paths, rest)
		}
	}
	return paths, nil
}

// RemoveWorkingCopy force-removes the working copy at path.
func (r *ExecRunner) RemoveWorkingCopy(path string) error {
	_, err := r.run("", "worktree", "remove", "--force", path)
	return err
}

// PruneWorkingCopies clears stale working-copy registrations.
func (r *ExecRunner) PruneWorkingCopies() error {
	_, err := r.run("", "worktree", "prune")
	return err
}

// BranchExists returns true if the named local branch exists.
func (r *ExecRunner) BranchExists(name string) (bool, error) {
	_, err := r.run("", "show-ref", "--verify", "--quiet", "refs/heads/"+name)
	if err != nil {
		var cmdErr *CommandError
		// Exit code 1 means the branch doesn't exist (not an error).
		if errors.As(err, &cmdErr) && cmdErr.ExitCode == 1 {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// DeleteBranch deletes the named branch.
func (r *ExecRunner) DeleteBranch(name string, force bool) error {
	flag := "-d"
	if force {
		flag = "-D"
	}
	_, err := r.run("", "branch", flag, name)
	return err
}

// Checkout switches the working copy at dir to the named branch.
func (r *ExecRunner) Checkout(dir, branch string) error {
	_, err := r.run(dir, "checkout", branch)
	return err
}

// CurrentBranch returns the branch checked out at dir.
func (r *ExecRunner) CurrentBranch(dir string) (string, error) {
	return r.run(dir, "rev-parse", "--abbrev-ref", "HEAD")
}

// HeadCommit returns the commit SHA at dir's HEAD.
func (r *ExecRunner) HeadCommit(dir string) (string, error) {
	return r.run(dir, "rev-parse", "HEAD")
}

// ConflictedFiles lists paths with unmerged index entries at dir.
func (r *ExecRunner) ConflictedFiles(dir string) ([]string, error) {
	out, err := r.run(dir, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// IsRepository reports whether dir itself holds the .git marker; parent
// directories are not searched. Both a .git
// directory (main checkout) and a .git file (linked working copy) count.
func (r *ExecRunner) IsRepository(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil
}

// MergeBase returns the common ancestor commit of two refs.
func (r *ExecRunner) MergeBase(dir, ref1, ref2 string) (string, error) {
	return r.run(dir, "merge-base", ref1, ref2)
}

// ShowFile returns the contents of a file at a specific ref.
func (r *ExecRunner) ShowFile(dir, ref, path string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if dir == "" {
		dir = r.repoPath
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	// CombinedOutput would mix stderr into file content; capture stdout only.
	out, err := r.runner.Run(ctx, dir, "sh", "-c",
		fmt.Sprintf("git show %s 2>/dev/null", shellQuote(ref+":"+path)))
	if err != nil {
		return "", &CommandError{Args: []string{"show", ref + ":" + path}, ExitCode: cmdexec.ExitCode(err), Stderr: string(out)}
	}
	return string(out), nil
}

// Merge merges branch into the branch checked out at dir.
func (r *ExecRunner) Merge(dir, branch string, opts MergeOptions) error {
	args := []string{"merge"}
	if !opts.Commit {
		args = append(args, "--no-commit")
	}
	if !opts.FastForward {
		args = append(args, "--no-ff")
	}
	if opts.Commit && opts.Message != "" {
		args = append(args, "-m", opts.Message)
	}
	args = append(args, branch)
	_, err := r.run(dir, args...)
	return err
}

// AbortMerge aborts an in-progress merge at dir.
func (r *ExecRunner) AbortMerge(dir string) error {
	_, err := r.run(dir, "merge", "--abort")
	return err
}

// ResetHard hard-resets dir to the given ref.
func (r *ExecRunner) ResetHard(dir, ref string) error {
	_, err := r.run(dir, "reset", "--hard", ref)
	return err
}

// DryRunMerge probes whether branch merges cleanly into dir's checked-out
// branch without leaving residue: merge --no-commit --no-ff, then hard-reset
// to the pre-merge commit on success or abort on conflict.
func (r *ExecRunner) DryRunMerge(dir, branch string) ([]string, error) {
	head, err := r.HeadCommit(dir)
	if err != nil {
		return nil, err
	}

	mergeErr := r.Merge(dir, branch, MergeOptions{Commit: false, FastForward: false})
	if mergeErr == nil {
		// Clean: discard the staged merge result.
		if err := r.ResetHard(dir, head); err != nil {
			return nil, fmt.Errorf("reset after dry-run merge: %w", err)
		}
		return nil, nil
	}

	var cmdErr *CommandError
	if !errors.As(mergeErr, &cmdErr) || !cmdErr.IsConflict() {
		return nil, mergeErr
	}

	conflicts, listErr := r.ConflictedFiles(dir)
	if abortErr := r.AbortMerge(dir); abortErr != nil {
		// A failed abort leaves the working copy dirty; force it clean.
		if resetErr := r.ResetHard(dir, head); resetErr != nil {
			return conflicts, fmt.Errorf("abort dry-run merge: %w", abortErr)
		}
	}
	if listErr != nil {
		return nil, listErr
	}
	return conflicts, nil
}

// Stage stages the given file at dir.
func (r *ExecRunner) Stage(dir, file string) error {
	_, err := r.run(dir, "add", file)
	return err
}

// Commit commits staged changes at dir.
func (r *ExecRunner) Commit(dir, message string, allowEmpty bool) error {
	args := []string{"commit", "-m", message}
	if allowEmpty {
		args = append(args, "--allow-empty")
	}
	_, err := r.run(dir, args...)
	return err
}

// IsTracked reports whether file is tracked in dir's index.
func (r *ExecRunner) IsTracked(dir, file string) (bool, error) {
	_, err := r.run(dir, "ls-files", "--error-unmatch", file)
	if err != nil {
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) && cmdErr.ExitCode == 1 {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// RemoveFromIndex removes file from dir's index, keeping it on disk.
func (r *ExecRunner) RemoveFromIndex(dir, file string) error {
	_, err := r.run(dir, "rm", "--cached", "--ignore-unmatch", file)
	return err
}

// shellQuote wraps s in single quotes for use in a sh -c command line.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Verify ExecRunner implements Runner at compile time.
var _ Runner = (*ExecRunner)(nil)
