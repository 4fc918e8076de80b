package pty

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// collector gathers callback invocations with their relative order.
type collector struct {
	mu       sync.Mutex
	chunks   []string
	sequence []string
	exitCode int
	done     chan struct{}
}

func newCollector() *collector {
	return &collector{done: make(chan struct{})}
}

func (c *collector) onOutput(chunk string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chunks = append(c.chunks, chunk)
	c.sequence = append(c.sequence, "output")
}

func (c *collector) onTerminate(exitCode int) {
	c.mu.Lock()
	c.exitCode = exitCode
	c.sequence = append(c.sequence, "terminate")
	c.mu.Unlock()
	close(c.done)
}

func (c *collector) wait(t *testing.T) {
	t.Helper()
	select {
	case <-c.done:
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for terminate callback")
	}
}

func (c *collector) output() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.Join(c.chunks, "")
}

func TestLaunchCapturesOutput(t *testing.T) {
	s := NewSupervisor()
	c := newCollector()

	_, err := s.Launch(LaunchSpec{
		Executable:  "sh",
		Args:        []string{"-c", "echo hello-crossroads"},
		Dir:         t.TempDir(),
		Env:         []string{"PATH=/usr/bin:/bin"},
		OnOutput:    c.onOutput,
		OnTerminate: c.onTerminate,
	})
	if err != nil {
		t.Fatalf("launch: %v", err)
	}

	c.wait(t)
	if c.exitCode != 0 {
		t.Errorf("exit code = %d, want 0", c.exitCode)
	}
	if !strings.Contains(c.output(), "hello-crossroads") {
		t.Errorf("output = %q", c.output())
	}
}

func TestTerminateCallbackIsStrictlyLast(t *testing.T) {
	s := NewSupervisor()
	c := newCollector()

	_, err := s.Launch(LaunchSpec{
		Executable:  "sh",
		Args:        []string{"-c", "printf one; printf two; printf three"},
		Dir:         t.TempDir(),
		Env:         []string{"PATH=/usr/bin:/bin"},
		OnOutput:    c.onOutput,
		OnTerminate: c.onTerminate,
	})
	if err != nil {
		t.Fatalf("launch: %v", err)
	}

	c.wait(t)
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sequence) == 0 || c.sequence[len(c.sequence)-1] != "terminate" {
		t.Errorf("sequence = %v, terminate must be last", c.sequence)
	}
	for _, entry := range c.sequence[:len(c.sequence)-1] {
		if entry == "terminate" {
			t.Errorf("terminate delivered more than once: %v", c.sequence)
		}
	}
}

func TestExitCodePropagated(t *testing.T) {
	s := NewSupervisor()
	c := newCollector()

	_, err := s.Launch(LaunchSpec{
		Executable:  "sh",
		Args:        []string{"-c", "exit 3"},
		Dir:         t.TempDir(),
		Env:         []string{"PATH=/usr/bin:/bin"},
		OnTerminate: c.onTerminate,
	})
	if err != nil {
		t.Fatalf("launch: %v", err)
	}

	c.wait(t)
	if c.exitCode != 3 {
		t.Errorf("exit code = %d, want 3", c.exitCode)
	}
}

func TestSendInput(t *testing.T) {
	s := NewSupervisor()
	c := newCollector()

	id, err := s.Launch(LaunchSpec{
		Executable:  "sh",
		Args:        []string{"-c", "read line; echo got:$line"},
		Dir:         t.TempDir(),
		Env:         []string{"PATH=/usr/bin:/bin"},
		OnOutput:    c.onOutput,
		OnTerminate: c.onTerminate,
	})
	if err != nil {
		t.Fatalf("launch: %v", err)
	}

	// The newline is appended by SendInput.
	if err := s.SendInput(id, "ping"); err != nil {
		t.Fatalf("send input: %v", err)
	}

	c.wait(t)
	if !strings.Contains(c.output(), "got:ping") {
		t.Errorf("output = %q", c.output())
	}
}

func TestSendInputAfterExit(t *testing.T) {
	s := NewSupervisor()
	c := newCollector()

	id, err := s.Launch(LaunchSpec{
		Executable:  "true",
		Dir:         t.TempDir(),
		Env:         []string{"PATH=/usr/bin:/bin"},
		OnTerminate: c.onTerminate,
	})
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	c.wait(t)

	err = s.SendInput(id, "anyone there")
	if !errors.Is(err, ErrAlreadyTerminated) {
		t.Errorf("expected ErrAlreadyTerminated, got %v", err)
	}
	if s.IsRunning(id) {
		t.Error("IsRunning = true after exit")
	}
}

func TestSendInputUnknownProcess(t *testing.T) {
	s := NewSupervisor()
	err := s.SendInput("nope", "hello")
	if !errors.Is(err, ErrProcessNotFound) {
		t.Errorf("expected ErrProcessNotFound, got %v", err)
	}
}

func TestLaunchErrors(t *testing.T) {
	s := NewSupervisor()

	_, err := s.Launch(LaunchSpec{
		Executable: "definitely-not-a-real-binary-xyz",
		Dir:        t.TempDir(),
	})
	if !errors.Is(err, ErrExecutableNotFound) {
		t.Errorf("expected ErrExecutableNotFound, got %v", err)
	}

	_, err = s.Launch(LaunchSpec{
		Executable: "sh",
		Dir:        "/definitely/not/a/dir",
	})
	if !errors.Is(err, ErrWorkingDirectoryNotFound) {
		t.Errorf("expected ErrWorkingDirectoryNotFound, got %v", err)
	}
}

func TestTerminateStubbornChild(t *testing.T) {
	s := NewSupervisor()
	s.SetKillGrace(200 * time.Millisecond)
	c := newCollector()

	// The child ignores SIGTERM; the supervisor must escalate.
	id, err := s.Launch(LaunchSpec{
		Executable:  "sh",
		Args:        []string{"-c", "trap '' TERM; while true; do sleep 1; done"},
		Dir:         t.TempDir(),
		Env:         []string{"PATH=/usr/bin:/bin"},
		OnTerminate: c.onTerminate,
	})
	if err != nil {
		t.Fatalf("launch: %v", err)
	}

	if !s.IsRunning(id) {
		t.Fatal("process should be running")
	}
	if err := s.Terminate(id); err != nil {
		t.Fatalf("terminate: %v", err)
	}

	c.wait(t)
	if c.exitCode == 0 {
		t.Errorf("exit code = %d, want non-zero for killed child", c.exitCode)
	}
	if s.IsRunning(id) {
		t.Error("IsRunning = true after termination")
	}
}

func TestListOnlyLiveProcesses(t *testing.T) {
	s := NewSupervisor()
	c := newCollector()

	id, err := s.Launch(LaunchSpec{
		Executable:  "true",
		Dir:         t.TempDir(),
		Env:         []string{"PATH=/usr/bin:/bin"},
		OnTerminate: c.onTerminate,
	})
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	c.wait(t)

	for _, live := range s.List() {
		if live == id {
			t.Errorf("terminated process %s still listed", id)
		}
	}
}

func TestIncompleteTail(t *testing.T) {
	// "é" is 0xC3 0xA9; a split read must hold the lead byte back.
	data := []byte("abc\xc3")
	if got := incompleteTail(data); got != 1 {
		t.Errorf("incompleteTail = %d, want 1", got)
	}
	if got := incompleteTail([]byte("abc")); got != 0 {
		t.Errorf("incompleteTail(ascii) = %d, want 0", got)
	}
	if got := incompleteTail([]byte("ab\xc3\xa9")); got != 0 {
		t.Errorf("incompleteTail(complete rune) = %d, want 0", got)
	}
}
