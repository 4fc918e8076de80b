package exec

import (
	"context"
	"errors"
	"os/exec"
)

// ExecRunner implements CommandRunner using os/exec.
type ExecRunner struct{}

// NewRunner creates a new ExecRunner.
func NewRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run executes a command and returns combined stdout/stderr output.
func (r *ExecRunner) Run(ctx context.Context, workDir string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if workDir != "" {
		cmd.Dir = workDir
	}
	return cmd.CombinedOutput()
}

// RunShell executes a shell command through "sh -c".
func (r *ExecRunner) RunShell(ctx context.Context, workDir string, command string) ([]byte, error) {
	return r.Run(ctx, workDir, "sh", "-c", command)
}

// LookPath searches PATH for an executable.
func (r *ExecRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

// Exists checks if a file exists at the given path.
func (r *ExecRunner) Exists(ctx context.Context, workDir string, path string) bool {
	cmd := exec.CommandContext(ctx, "test", "-e", path)
	if workDir != "" {
		cmd.Dir = workDir
	}
	return cmd.Run() == nil
}

// ExitCode extracts the process exit code from an error returned by Run.
// Returns 0 for nil, -1 if the error carries no exit status. Any error with
// an ExitCode method qualifies, which covers *exec.ExitError and test fakes.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ec interface{ ExitCode() int }
	if errors.As(err, &ec) {
		return ec.ExitCode()
	}
	return -1
}

// Verify ExecRunner implements CommandRunner at compile time.
var _ CommandRunner = (*ExecRunner)(nil)
