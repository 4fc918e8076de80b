package orchestrator

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sambaleuk/crossroads/internal/config"
	"github.com/sambaleuk/crossroads/internal/git"
	"github.com/sambaleuk/crossroads/internal/merge"
	"github.com/sambaleuk/crossroads/internal/provision"
	"github.com/sambaleuk/crossroads/internal/pty"
	"github.com/sambaleuk/crossroads/internal/scheduler"
	"github.com/sambaleuk/crossroads/internal/state"
	"github.com/sambaleuk/crossroads/internal/status"
	"github.com/sambaleuk/crossroads/pkg/models"
)

// Mode selects what a dispatch does.
type Mode string

const (
	// ModeSingle launches exactly one agent against one path with one
	// instruction, bypassing the scheduler.
	ModeSingle Mode = "single"
	// ModePRD runs the full dependency-layered dispatch.
	ModePRD Mode = "prd"
	// ModeChat launches one interactive agent with no instruction.
	ModeChat Mode = "chat"
	// ModeQuick launches like single (one agent, one path, one instruction);
	// no iteration budget of its own is applied.
	ModeQuick Mode = "quick"
)

// ErrUnknownRequest indicates no dispatch with the given ID exists.
var ErrUnknownRequest = errors.New("unknown request")

// Request describes one dispatch.
type Request struct {
	// Mode selects the dispatch shape.
	Mode Mode
	// RepoPath is the repository to operate on.
	RepoPath string
	// PRD is required in prd mode.
	PRD *models.PRD
	// Assignments maps slots to agents and stories; required in prd mode.
	Assignments []models.SlotAssignment
	// Resume reuses an existing status document when set.
	Resume bool
	// AutoResolve enables automated three-way conflict resolution during
	// the final merge.
	AutoResolve bool

	// Agent is the agent kind for single/chat/quick mode.
	Agent models.AgentKind
	// Path is the working directory for single/chat/quick mode.
	Path string
	// Instruction is the single instruction for single/quick mode.
	Instruction string
}

// DispatchResult identifies a started dispatch.
type DispatchResult struct {
	// RequestID identifies the dispatch for Cancel/Status/Wait.
	RequestID string
	// SessionID is the orchestration session UUID (prd mode).
	SessionID string
}

// StatusSnapshot is a point-in-time view of a dispatch.
type StatusSnapshot struct {
	// RequestID identifies the dispatch.
	RequestID string
	// Mode is the dispatch mode.
	Mode Mode
	// Phase is the session phase (prd mode).
	Phase models.SessionPhase
	// Slots is the slot table snapshot (prd mode).
	Slots []models.SlotInfo
	// Running indicates whether a single-mode process is alive.
	Running bool
}

// dispatch tracks one in-flight request.
type dispatch struct {
	id         string
	mode       Mode
	sched      *scheduler.Scheduler
	supervisor *pty.Supervisor
	session    *models.Session
	processID  string

	done        chan struct{}
	mergeResult *merge.Result
	finalErr    error
}

// Orchestrator is the single public entry point for callers.
type Orchestrator struct {
	cfg     *config.Config
	emitter *EventEmitter

	mu         sync.Mutex
	dispatches map[string]*dispatch
}

// New creates an orchestrator with the given configuration.
func New(cfg *config.Config) *Orchestrator {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Orchestrator{
		cfg:        cfg,
		emitter:    NewEventEmitter(256),
		dispatches: make(map[string]*dispatch),
	}
}

// Events returns the facade's event stream.
func (o *Orchestrator) Events() <-chan Event {
	return o.emitter.Events()
}

// Dispatch starts a run described by the request and returns immediately.
// Completion is signalled on the event stream; Wait blocks for it.
func (o *Orchestrator) Dispatch(req Request) (*DispatchResult, error) {
	switch req.Mode {
	case ModePRD:
		return o.dispatchPRD(req)
	case ModeSingle, ModeChat, ModeQuick:
		return o.dispatchSingle(req)
	default:
		return nil, fmt.Errorf("unknown dispatch mode %q", req.Mode)
	}
}

// dispatchPRD wires the full pipeline and starts the scheduler.
func (o *Orchestrator) dispatchPRD(req Request) (*DispatchResult, error) {
	if req.PRD == nil {
		return nil, fmt.Errorf("prd mode requires a PRD")
	}
	if err := req.PRD.Validate(); err != nil {
		return nil, fmt.Errorf("invalid PRD: %w", err)
	}
	if len(req.Assignments) == 0 {
		return nil, fmt.Errorf("prd mode requires slot assignments")
	}

	repo := git.NewRunner(req.RepoPath)
	repo.SetCommandTimeout(o.cfg.Git.CommandTimeout)
	if !repo.IsRepository(req.RepoPath) {
		return nil, fmt.Errorf("%s: %w", req.RepoPath, git.ErrNotARepository)
	}

	baseBranch, err := repo.CurrentBranch(req.RepoPath)
	if err != nil {
		return nil, fmt.Errorf("derive base branch: %w", err)
	}

	session := &models.Session{
		ID:          uuid.New().String(),
		PRD:         req.PRD,
		Assignments: req.Assignments,
		RepoPath:    req.RepoPath,
		StatusPath:  status.Path(req.RepoPath),
		BaseBranch:  baseBranch,
		Phase:       models.PhaseIdle,
		StartedAt:   time.Now().UTC(),
	}

	logger := scheduler.NewDebugLoggerForRepo(req.RepoPath)

	store := status.NewStore(session.StatusPath)
	store.SetDebugLog(logger.Log)

	supervisor := pty.NewSupervisor()
	supervisor.SetKillGrace(o.cfg.Supervisor.KillGrace)

	provisioner := provision.New(repo, o.cfg.Git.WorktreeBaseDir)
	provisioner.SetDebugLog(logger.Log)

	d := &dispatch{
		id:         uuid.New().String()[:8],
		mode:       ModePRD,
		supervisor: supervisor,
		session:    session,
		done:       make(chan struct{}),
	}

	callbacks := scheduler.Callbacks{
		OnPhase: func(phase models.SessionPhase) {
			o.emitter.Emit(Event{Type: EventPhaseChanged, RequestID: d.id, Phase: phase})
		},
		OnProgress: func(p scheduler.Progress) {
			o.emitter.Emit(Event{Type: EventProgress, RequestID: d.id, Progress: p, Message: p.Message})
		},
		OnSlotUpdate: func(slot models.SlotInfo) {
			o.emitter.Emit(Event{Type: EventSlotUpdated, RequestID: d.id, Slot: slot, SlotNumber: slot.Assignment.Slot})
		},
		OnSlotOutput: func(slot int, chunk string) {
			o.emitter.Emit(Event{Type: EventSlotOutput, RequestID: d.id, SlotNumber: slot, Chunk: chunk})
		},
		OnSlotTerminated: func(slot int, exitCode int) {
			o.emitter.Emit(Event{Type: EventSlotTerminated, RequestID: d.id, SlotNumber: slot, ExitCode: exitCode})
		},
		OnDivergence: func(slot int, stuck []string) {
			o.emitter.Emit(Event{Type: EventSlotDivergence, RequestID: d.id, SlotNumber: slot, StuckStories: stuck,
				Message: fmt.Sprintf("slot %d exited 0 with incomplete stories", slot)})
		},
		OnError: func(err error) {
			o.emitter.Emit(Event{Type: EventError, RequestID: d.id, Err: err, Message: err.Error()})
		},
	}

	d.sched = scheduler.New(o.cfg, repo, store, supervisor, provisioner, callbacks, logger)

	o.mu.Lock()
	o.dispatches[d.id] = d
	o.mu.Unlock()

	if err := d.sched.Start(session, req.Resume); err != nil {
		o.mu.Lock()
		delete(o.dispatches, d.id)
		o.mu.Unlock()
		return nil, err
	}

	go o.awaitPRD(d, repo, req.AutoResolve, logger)

	return &DispatchResult{RequestID: d.id, SessionID: session.ID}, nil
}

// awaitPRD waits for the scheduler, persists the outcome, and runs the
// merge coordinator when the session completed.
func (o *Orchestrator) awaitPRD(d *dispatch, repo git.Runner, autoResolve bool, logger *scheduler.DebugLogger) {
	<-d.sched.Done()
	defer close(d.done)
	defer logger.Close()

	phase := d.sched.Phase()
	slots := d.sched.Slots()

	o.persist(d, slots)

	if phase == models.PhaseCompleted {
		coordinator := merge.NewCoordinator(repo, d.session.BaseBranch)
		coordinator.SetDebugLog(logger.Log)

		plan, err := coordinator.PlanMerges(slots)
		if err != nil {
			d.finalErr = fmt.Errorf("plan merges: %w", err)
			o.emitter.Emit(Event{Type: EventError, RequestID: d.id, Err: d.finalErr, Message: d.finalErr.Error()})
		} else {
			var result *merge.Result
			if autoResolve {
				result, err = coordinator.ExecuteWithResolution(plan)
			} else {
				result, err = coordinator.Execute(plan)
			}
			if err != nil {
				d.finalErr = fmt.Errorf("execute merges: %w", err)
				o.emitter.Emit(Event{Type: EventError, RequestID: d.id, Err: d.finalErr, Message: d.finalErr.Error()})
			} else {
				d.mergeResult = result
				o.emitter.Emit(Event{Type: EventMergeCompleted, RequestID: d.id, MergeResult: result})
			}
		}
	}

	o.emitter.Emit(Event{Type: EventCompleted, RequestID: d.id, Phase: phase})
}

// persist records the session and slot outcomes in the run-history DB.
// History is best-effort; failures are surfaced as events, not fatal.
func (o *Orchestrator) persist(d *dispatch, slots []models.SlotInfo) {
	db, err := state.OpenProject(d.session.RepoPath)
	if err != nil {
		o.emitter.Emit(Event{Type: EventError, RequestID: d.id, Err: err, Message: "open run history: " + err.Error()})
		return
	}
	defer db.Close()

	rec := &state.SessionRecord{
		ID:          d.session.ID,
		PRDName:     d.session.PRD.Name,
		RepoPath:    d.session.RepoPath,
		BaseBranch:  d.session.BaseBranch,
		Phase:       d.sched.Phase(),
		StartedAt:   d.session.StartedAt,
		CompletedAt: d.session.CompletedAt,
	}
	if err := db.RecordSession(rec); err != nil {
		o.emitter.Emit(Event{Type: EventError, RequestID: d.id, Err: err, Message: err.Error()})
		return
	}
	for _, slot := range slots {
		res := &state.SlotResult{
			SessionID: d.session.ID,
			Slot:      slot.Assignment.Slot,
			Agent:     slot.Assignment.Agent,
			Action:    slot.Assignment.Action,
			Branch:    slot.Branch,
			Lifecycle: slot.Lifecycle,
			ExitCode:  slot.ExitCode,
			LastError: slot.LastError,
		}
		if err := db.RecordSlotResult(res); err != nil {
			o.emitter.Emit(Event{Type: EventError, RequestID: d.id, Err: err, Message: err.Error()})
		}
	}
}

// Cancel terminates a dispatch. Completed work is preserved.
func (o *Orchestrator) Cancel(requestID string) error {
	o.mu.Lock()
	d, ok := o.dispatches[requestID]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: %w", requestID, ErrUnknownRequest)
	}

	switch d.mode {
	case ModePRD:
		d.sched.StopAll()
	default:
		if d.processID != "" {
			return d.supervisor.Terminate(d.processID)
		}
	}
	return nil
}

// Status returns a snapshot of a dispatch.
func (o *Orchestrator) Status(requestID string) (*StatusSnapshot, error) {
	o.mu.Lock()
	d, ok := o.dispatches[requestID]
	o.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", requestID, ErrUnknownRequest)
	}

	snap := &StatusSnapshot{RequestID: d.id, Mode: d.mode}
	switch d.mode {
	case ModePRD:
		snap.Phase = d.sched.Phase()
		snap.Slots = d.sched.Slots()
	default:
		snap.Running = d.processID != "" && d.supervisor.IsRunning(d.processID)
	}
	return snap, nil
}

// Wait blocks until the dispatch finishes and returns the merge result
// (prd mode, nil when merging was skipped) and any terminal error.
func (o *Orchestrator) Wait(requestID string) (*merge.Result, error) {
	o.mu.Lock()
	d, ok := o.dispatches[requestID]
	o.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", requestID, ErrUnknownRequest)
	}

	<-d.done
	return d.mergeResult, d.finalErr
}

// Close releases the orchestrator and its event stream.
func (o *Orchestrator) Close() {
	o.emitter.Close()
}
