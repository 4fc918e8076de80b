package orchestrator

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/sambaleuk/crossroads/internal/pty"
	"github.com/sambaleuk/crossroads/pkg/models"
)

// dispatchSingle launches one agent against one path, bypassing the
// scheduler entirely. chat mode sends no instruction; quick mode is single
// with the agent's own defaults.
func (o *Orchestrator) dispatchSingle(req Request) (*DispatchResult, error) {
	if req.Agent == "" {
		req.Agent = models.AgentClaude
	}
	if !req.Agent.Valid() {
		return nil, fmt.Errorf("unknown agent kind %q", req.Agent)
	}
	if req.Path == "" {
		return nil, fmt.Errorf("%s mode requires a path", req.Mode)
	}
	if info, err := os.Stat(req.Path); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%s: %w", req.Path, pty.ErrWorkingDirectoryNotFound)
	}
	if (req.Mode == ModeSingle || req.Mode == ModeQuick) && req.Instruction == "" {
		return nil, fmt.Errorf("%s mode requires an instruction", req.Mode)
	}

	supervisor := pty.NewSupervisor()
	supervisor.SetKillGrace(o.cfg.Supervisor.KillGrace)

	d := &dispatch{
		id:         uuid.New().String()[:8],
		mode:       req.Mode,
		supervisor: supervisor,
		done:       make(chan struct{}),
	}

	command := o.cfg.Agents.Command(req.Agent)
	processID, err := supervisor.Launch(pty.LaunchSpec{
		Executable: command,
		Dir:        req.Path,
		Env:        os.Environ(),
		OnOutput: func(chunk string) {
			o.emitter.Emit(Event{Type: EventSlotOutput, RequestID: d.id, SlotNumber: 1, Chunk: chunk})
		},
		OnTerminate: func(exitCode int) {
			o.emitter.Emit(Event{Type: EventSlotTerminated, RequestID: d.id, SlotNumber: 1, ExitCode: exitCode})
			o.emitter.Emit(Event{Type: EventCompleted, RequestID: d.id})
			close(d.done)
		},
	})
	if err != nil {
		return nil, err
	}
	d.processID = processID

	o.mu.Lock()
	o.dispatches[d.id] = d
	o.mu.Unlock()

	if req.Instruction != "" && req.Mode != ModeChat {
		// Give the agent a moment to draw its prompt before the first input.
		wait := o.cfg.Scheduler.ReadinessWait
		instruction := req.Instruction
		go func() {
			time.Sleep(wait)
			if err := supervisor.SendInput(processID, instruction); err != nil {
				o.emitter.Emit(Event{Type: EventError, RequestID: d.id, Err: err, Message: err.Error()})
			}
		}()
	}

	return &DispatchResult{RequestID: d.id}, nil
}
