// Package pty supervises interactive child processes attached to
// pseudo-terminals. The agents it runs detect the absence of a controlling
// terminal and either refuse to start or buffer their output, so plain pipes
// are not an option.
package pty

import (
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/creack/pty"
	"github.com/google/uuid"
)

// DefaultKillGrace is how long Terminate waits between SIGTERM and SIGKILL.
const DefaultKillGrace = 2 * time.Second

// defaultWinsize is the terminal geometry presented to children.
var defaultWinsize = pty.Winsize{Rows: 40, Cols: 120}

// OutputFunc receives one burst of decoded child output.
type OutputFunc func(chunk string)

// TerminateFunc receives the child's exit code, exactly once, after the last
// output callback has returned.
type TerminateFunc func(exitCode int)

// LaunchSpec describes a child process to launch.
type LaunchSpec struct {
	// Executable is the program to run (resolved via PATH if relative).
	Executable string
	// Args is the argument vector, excluding the program name.
	Args []string
	// Dir is the working directory. Must exist.
	Dir string
	// Env is the complete environment applied wholesale; the caller merges.
	Env []string
	// OnOutput is invoked for each output burst, in order.
	OnOutput OutputFunc
	// OnTerminate is invoked once after the child exits.
	OnTerminate TerminateFunc
}

// process tracks one supervised child.
type process struct {
	id   string
	cmd  *exec.Cmd
	ptmx *os.File

	// deliver is the single-threaded callback queue for this process.
	deliver chan func()

	mu         sync.Mutex
	terminated bool
	exitCode   int
}

// reapedWindow bounds how many terminated processes stay queryable.
const reapedWindow = 1000

// Supervisor launches and tracks PTY-attached child processes. Output for a
// single process is delivered strictly in order; callbacks for distinct
// processes are independent. Terminated processes stay queryable (for
// IsRunning and the AlreadyTerminated error) inside a bounded recent window.
type Supervisor struct {
	mu          sync.Mutex
	procs       map[string]*process
	reapedOrder []string
	killGrace   time.Duration
}

// NewSupervisor creates an empty supervisor.
func NewSupervisor() *Supervisor {
	return &Supervisor{
		procs:     make(map[string]*process),
		killGrace: DefaultKillGrace,
	}
}

// SetKillGrace overrides the SIGTERM-to-SIGKILL grace period.
func (s *Supervisor) SetKillGrace(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d > 0 {
		s.killGrace = d
	}
}

// Launch starts a child on a fresh pseudo-terminal and returns its opaque
// process ID. The child's stdin, stdout, and stderr are all bound to the
// slave side; output is read from the master and handed to spec.OnOutput.
func (s *Supervisor) Launch(spec LaunchSpec) (string, error) {
	if info, err := os.Stat(spec.Dir); err != nil || !info.IsDir() {
		return "", fmt.Errorf("%s: %w", spec.Dir, ErrWorkingDirectoryNotFound)
	}

	path := spec.Executable
	if !strings.Contains(path, "/") {
		resolved, err := exec.LookPath(path)
		if err != nil {
			return "", fmt.Errorf("%s: %w", spec.Executable, ErrExecutableNotFound)
		}
		path = resolved
	} else if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%s: %w", spec.Executable, ErrExecutableNotFound)
	}

	cmd := exec.Command(path, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env

	ptmx, err := pty.StartWithSize(cmd, &defaultWinsize)
	if err != nil {
		return "", &LaunchError{Reason: "allocate pty", Err: err}
	}

	p := &process{
		id:      uuid.New().String()[:8],
		cmd:     cmd,
		ptmx:    ptmx,
		deliver: make(chan func(), 256),
	}

	s.mu.Lock()
	s.procs[p.id] = p
	s.mu.Unlock()

	// Delivery loop: runs every callback for this process on one goroutine,
	// in enqueue order. The terminate callback is enqueued last, so it runs
	// after the final output callback has returned.
	go func() {
		for fn := range p.deliver {
			fn()
		}
	}()

	go s.readLoop(p, spec.OnOutput, spec.OnTerminate)

	return p.id, nil
}

// readLoop pumps master-side output into the delivery queue until the child
// exits, then reaps it and enqueues the terminate callback.
func (s *Supervisor) readLoop(p *process, onOutput OutputFunc, onTerminate TerminateFunc) {
	buf := make([]byte, 4096)
	var carry []byte // incomplete trailing rune from the previous read

	for {
		n, err := p.ptmx.Read(buf)
		if n > 0 && onOutput != nil {
			data := append(carry, buf[:n]...)
			carry = nil

			// Hold back an incomplete trailing rune so a multibyte
			// character split across reads is not mangled.
			if cut := incompleteTail(data); cut > 0 {
				carry = append(carry, data[len(data)-cut:]...)
				data = data[:len(data)-cut]
			}

			if len(data) > 0 {
				chunk := strings.ToValidUTF8(string(data), "�")
				p.deliver <- func() { onOutput(chunk) }
			}
		}
		if err != nil {
			// EIO is the normal master-side read error once the child
			// closes the slave; anything else ends the loop the same way.
			break
		}
	}

	if len(carry) > 0 && onOutput != nil {
		chunk := strings.ToValidUTF8(string(carry), "�")
		p.deliver <- func() { onOutput(chunk) }
	}

	exitCode := 0
	if err := p.cmd.Wait(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
			if exitCode < 0 {
				// Killed by signal: report a synthetic non-zero code.
				exitCode = 128
				if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
					exitCode = 128 + int(status.Signal())
				}
			}
		} else {
			exitCode = -1
		}
	}

	p.mu.Lock()
	p.terminated = true
	p.exitCode = exitCode
	p.mu.Unlock()

	p.ptmx.Close()

	if onTerminate != nil {
		p.deliver <- func() { onTerminate(exitCode) }
	}
	close(p.deliver)

	s.mu.Lock()
	s.reapedOrder = append(s.reapedOrder, p.id)
	if len(s.reapedOrder) > reapedWindow {
		delete(s.procs, s.reapedOrder[0])
		s.reapedOrder = s.reapedOrder[1:]
	}
	s.mu.Unlock()
}

// incompleteTail returns how many bytes at the end of data form the start of
// an incomplete UTF-8 sequence, or 0 if data ends on a rune boundary.
func incompleteTail(data []byte) int {
	for i := 1; i <= 4 && i <= len(data); i++ {
		b := data[len(data)-i]
		if utf8.RuneStart(b) {
			if utf8.Valid(data[len(data)-i:]) {
				return 0
			}
			return i
		}
	}
	return 0
}

// SendInput writes text to the child's terminal, appending a newline if the
// text does not already end with one.
func (s *Supervisor) SendInput(processID, text string) error {
	s.mu.Lock()
	p, ok := s.procs[processID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: %w", processID, ErrProcessNotFound)
	}

	p.mu.Lock()
	terminated := p.terminated
	p.mu.Unlock()
	if terminated {
		return fmt.Errorf("%s: %w", processID, ErrAlreadyTerminated)
	}

	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	if _, err := p.ptmx.WriteString(text); err != nil {
		return fmt.Errorf("write to process %s: %w", processID, err)
	}
	return nil
}

// IsRunning reports whether the process with the given ID is still alive.
func (s *Supervisor) IsRunning(processID string) bool {
	s.mu.Lock()
	p, ok := s.procs[processID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.terminated
}

// List returns the IDs of all live processes, sorted.
func (s *Supervisor) List() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.procs))
	for id, p := range s.procs {
		p.mu.Lock()
		live := !p.terminated
		p.mu.Unlock()
		if live {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Terminate shuts the process down: closes the master so the child's next
// write fails, sends SIGTERM, and escalates to SIGKILL after the grace
// period if the child ignores it. The read loop reaps the child and fires
// the terminate callback as usual.
func (s *Supervisor) Terminate(processID string) error {
	s.mu.Lock()
	p, ok := s.procs[processID]
	grace := s.killGrace
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: %w", processID, ErrProcessNotFound)
	}

	p.mu.Lock()
	alreadyDone := p.terminated
	p.mu.Unlock()
	if alreadyDone {
		return nil
	}

	p.ptmx.Close()
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Signal(syscall.SIGTERM)
	}

	go func() {
		deadline := time.After(grace)
		tick := time.NewTicker(50 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-deadline:
				if p.cmd.Process != nil {
					_ = p.cmd.Process.Kill()
				}
				return
			case <-tick.C:
				p.mu.Lock()
				done := p.terminated
				p.mu.Unlock()
				if done {
					return
				}
			}
		}
	}()

	return nil
}

// TerminateAll terminates every live process.
func (s *Supervisor) TerminateAll() {
	for _, id := range s.List() {
		_ = s.Terminate(id)
	}
}
