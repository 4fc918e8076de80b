// Package scheduler is the dependency-layered dispatcher: it launches
// stories across a fixed pool of worker slots in topological-layer order,
// reacting to completions recorded in the shared status document.
package scheduler

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sambaleuk/crossroads/internal/config"
	"github.com/sambaleuk/crossroads/internal/git"
	"github.com/sambaleuk/crossroads/internal/provision"
	"github.com/sambaleuk/crossroads/internal/pty"
	"github.com/sambaleuk/crossroads/internal/status"
	"github.com/sambaleuk/crossroads/pkg/models"
)

// ErrNoSlotForStory indicates a story is not owned by any slot assignment.
var ErrNoSlotForStory = errors.New("story has no assigned slot")

// ErrAlreadyStarted indicates Start was called twice on one scheduler.
var ErrAlreadyStarted = errors.New("scheduler already started")

// Scheduler drives one orchestration session. All slot-table and phase
// mutations happen on its event loop; outward calls to the store, the
// supervisor, and the provisioner are the only suspension points.
type Scheduler struct {
	cfg         *config.Config
	repo        git.Runner
	store       *status.Store
	supervisor  *pty.Supervisor
	provisioner *provision.Provisioner
	callbacks   Callbacks
	logger      *DebugLogger

	mu           sync.Mutex
	session      *models.Session
	slots        map[int]*models.SlotInfo
	phase        models.SessionPhase
	currentLayer int
	launched     int

	events chan loopEvent
	watch  *watcher
	done   chan struct{}
	once   sync.Once
}

// New creates a scheduler. The callbacks may have nil members.
func New(cfg *config.Config, repo git.Runner, store *status.Store, supervisor *pty.Supervisor, provisioner *provision.Provisioner, callbacks Callbacks, logger *DebugLogger) *Scheduler {
	if logger == nil {
		logger = NopLogger()
	}
	return &Scheduler{
		cfg:         cfg,
		repo:        repo,
		store:       store,
		supervisor:  supervisor,
		provisioner: provisioner,
		callbacks:   callbacks,
		logger:      logger,
		phase:       models.PhaseIdle,
		slots:       make(map[int]*models.SlotInfo),
		events:      make(chan loopEvent, 64),
		done:        make(chan struct{}),
	}
}

// Start validates the session, provisions the slots, and launches the first
// incomplete layer. It returns once monitoring has begun; completion is
// signalled via Done and the callbacks.
func (s *Scheduler) Start(session *models.Session, resume bool) error {
	s.mu.Lock()
	if s.session != nil {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.session = session
	s.mu.Unlock()

	doc, err := s.store.Initialise(session.ID, session.PRD, resume)
	if err != nil {
		s.fail(fmt.Errorf("initialise status document: %w", err))
		return err
	}
	session.Layers = doc.Layers
	s.progress(fmt.Sprintf("computed %d layers", len(doc.Layers)))

	if err := s.checkCoverage(session); err != nil {
		s.fail(err)
		return err
	}

	s.setPhase(models.PhaseProvisioning)
	usable := 0
	for _, a := range session.Assignments {
		info := &models.SlotInfo{Assignment: a, Lifecycle: models.SlotPending}
		s.mu.Lock()
		s.slots[a.Slot] = info
		s.mu.Unlock()

		result, err := s.provisioner.Provision(session, a)
		if err != nil {
			s.slotFailed(info, fmt.Errorf("provision slot %d: %w", a.Slot, err))
			continue
		}
		info.Path = result.Path
		info.Branch = result.Branch
		info.Lifecycle = models.SlotWorktreeReady
		s.emitSlot(info)
		usable++
	}

	s.setPhase(models.PhaseValidating)
	for _, info := range s.slotList() {
		if info.Lifecycle != models.SlotWorktreeReady {
			continue
		}
		if err := s.provisioner.Validate(info.Path); err != nil {
			s.slotFailed(info, fmt.Errorf("validate slot %d: %w", info.Assignment.Slot, err))
			usable--
		}
	}
	if usable == 0 {
		err := fmt.Errorf("no usable slots after provisioning")
		s.fail(err)
		return err
	}

	s.watch = newWatcher(s.store, s.cfg.Scheduler.PollInterval,
		func(ev loopEvent) { s.post(ev) },
		func(err error) { s.fail(fmt.Errorf("status document unreadable: %w", err)) },
		s.logger.Log)
	s.watch.start()

	s.setPhase(models.PhaseLaunching)
	start := s.firstIncompleteLayer(doc)
	s.mu.Lock()
	s.currentLayer = start
	s.mu.Unlock()
	if err := s.store.SetCurrentLayer(start); err != nil {
		s.logger.Log("[scheduler] set current layer: %v", err)
	}
	s.launchLayer(start)

	s.setPhase(models.PhaseMonitoring)
	go s.loop()
	return nil
}

// checkCoverage verifies every story belongs to exactly one slot.
func (s *Scheduler) checkCoverage(session *models.Session) error {
	owner := make(map[string]int)
	for i := range session.Assignments {
		a := &session.Assignments[i]
		if err := a.Validate(); err != nil {
			return err
		}
		for _, id := range a.StoryIDs {
			if prev, dup := owner[id]; dup {
				return fmt.Errorf("story %s assigned to both slot %d and slot %d", id, prev, a.Slot)
			}
			owner[id] = a.Slot
		}
	}
	for _, story := range session.PRD.Stories {
		if _, ok := owner[story.ID]; !ok {
			return fmt.Errorf("%w: %s", ErrNoSlotForStory, story.ID)
		}
	}
	return nil
}

// firstIncompleteLayer returns the index of the first layer with an
// incomplete story, so resumed sessions skip finished work.
func (s *Scheduler) firstIncompleteLayer(doc *status.Document) int {
	for i := range doc.Layers {
		if !doc.LayerComplete(i) {
			return i
		}
	}
	if len(doc.Layers) == 0 {
		return 0
	}
	return len(doc.Layers) - 1
}

// loop is the scheduler's single-threaded event loop.
func (s *Scheduler) loop() {
	for {
		select {
		case <-s.done:
			return
		case ev := <-s.events:
			switch ev.kind {
			case eventStoryCompleted:
				s.handleStoryCompleted(ev.storyID)
			case eventLayerCompleted:
				s.handleLayerCompleted(ev.layerIndex)
			case eventAllComplete:
				s.handleAllComplete()
			case eventSlotTerminated:
				s.handleSlotTerminated(ev.slot, ev.exitCode)
			case eventStop:
				s.handleStop()
				return
			}
		}
	}
}

// post enqueues an event into the loop, dropping it if the session is done.
func (s *Scheduler) post(ev loopEvent) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *Scheduler) handleStoryCompleted(storyID string) {
	s.logger.Log("[scheduler] story %s complete", storyID)
	// Re-read from disk so agents peeking at the document observe ready
	// rather than blocked for unblocked children.
	if err := s.store.RefreshAndUnblock(); err != nil {
		s.surfaceError(fmt.Errorf("refresh status after %s: %w", storyID, err))
	}
	s.progress(fmt.Sprintf("story %s complete", storyID))
}

func (s *Scheduler) handleLayerCompleted(layerIndex int) {
	next := layerIndex + 1
	s.logger.Log("[scheduler] layer %d complete, advancing to %d", layerIndex, next)

	s.mu.Lock()
	s.currentLayer = next
	s.mu.Unlock()

	if err := s.store.SetCurrentLayer(next); err != nil {
		s.surfaceError(fmt.Errorf("advance layer: %w", err))
	}
	s.launchLayer(next)
}

func (s *Scheduler) handleAllComplete() {
	s.logger.Log("[scheduler] all stories complete")
	// Loop scripts normally exit on their own once their stories are done;
	// any stragglers must not keep writing while branches get merged.
	for _, info := range s.slotList() {
		if info.ProcessID != "" {
			if err := s.supervisor.Terminate(info.ProcessID); err != nil {
				s.logger.Log("[scheduler] terminate slot %d: %v", info.Assignment.Slot, err)
			}
		}
	}
	s.finish(models.PhaseCompleted)
}

func (s *Scheduler) handleSlotTerminated(slotNum, exitCode int) {
	s.mu.Lock()
	info := s.slots[slotNum]
	s.mu.Unlock()
	if info == nil {
		return
	}

	info.ProcessID = ""
	info.ExitCode = &exitCode
	if exitCode == 0 {
		info.Lifecycle = models.SlotCompleted
	} else {
		info.Lifecycle = models.SlotFailed
		info.LastError = fmt.Sprintf("loop script exited with code %d", exitCode)
	}
	s.logger.Log("[scheduler] slot %d terminated: exit=%d lifecycle=%s", slotNum, exitCode, info.Lifecycle)
	s.emitSlot(info)
	if s.callbacks.OnSlotTerminated != nil {
		s.callbacks.OnSlotTerminated(slotNum, exitCode)
	}

	// A slot can exit 0 while its stories are stuck; the status document is
	// authoritative, so surface the divergence instead of hiding it.
	if exitCode == 0 {
		if stuck := s.stuckStories(info); len(stuck) > 0 {
			s.logger.Log("[scheduler] slot %d diverged: exited 0 with incomplete stories %v", slotNum, stuck)
			if s.callbacks.OnDivergence != nil {
				s.callbacks.OnDivergence(slotNum, stuck)
			}
		}
	}

	s.maybeFinish()
}

// stuckStories returns the slot's stories that are not complete in the
// status document.
func (s *Scheduler) stuckStories(info *models.SlotInfo) []string {
	doc, err := s.store.Document()
	if err != nil {
		return nil
	}
	var stuck []string
	for _, id := range info.Assignment.StoryIDs {
		track, ok := doc.Stories[id]
		if !ok || track.Status != models.StoryStatusComplete {
			stuck = append(stuck, id)
		}
	}
	return stuck
}

// maybeFinish transitions the session to a terminal phase once no slot is
// live and no future launch can happen.
func (s *Scheduler) maybeFinish() {
	s.mu.Lock()
	anyLive := false
	anyPendingFuture := false
	cur := s.currentLayer
	layers := s.session.Layers
	for _, info := range s.slots {
		if info.Lifecycle.Active() {
			anyLive = true
		}
	}
	if !anyLive {
		for _, info := range s.slots {
			if info.Lifecycle != models.SlotPending && info.Lifecycle != models.SlotWorktreeReady {
				continue
			}
			// A not-yet-launched slot only matters if it owns stories in a
			// layer we have not reached.
			for _, id := range info.Assignment.StoryIDs {
				if layerOf(layers, id) > cur {
					anyPendingFuture = true
				}
			}
		}
	}
	s.mu.Unlock()

	if anyLive || anyPendingFuture {
		return
	}

	doc, err := s.store.Document()
	if err != nil {
		s.fail(fmt.Errorf("read status at shutdown: %w", err))
		return
	}
	if doc.AllComplete() {
		s.finish(models.PhaseCompleted)
	} else {
		s.finish(models.PhaseFailed)
	}
}

// layerOf returns the layer index containing the story, or -1.
func layerOf(layers [][]string, storyID string) int {
	for i, layer := range layers {
		for _, id := range layer {
			if id == storyID {
				return i
			}
		}
	}
	return -1
}

func (s *Scheduler) handleStop() {
	s.logger.Log("[scheduler] stop requested")
	for _, info := range s.slotList() {
		if info.ProcessID != "" {
			if err := s.supervisor.Terminate(info.ProcessID); err != nil {
				s.logger.Log("[scheduler] terminate slot %d: %v", info.Assignment.Slot, err)
			}
		}
	}
	if s.watch != nil {
		s.watch.stop()
	}
	s.setPhase(models.PhaseIdle)
	s.closeDone()
}

// StopAll cancels the dispatch: every live agent process is terminated and
// the watcher stopped. Completed work stays in the status document.
func (s *Scheduler) StopAll() {
	s.post(loopEvent{kind: eventStop})
}

// finish moves the session to a terminal phase.
func (s *Scheduler) finish(phase models.SessionPhase) {
	if s.watch != nil {
		s.watch.stop()
	}
	now := time.Now().UTC()
	s.mu.Lock()
	if s.session != nil {
		s.session.CompletedAt = &now
	}
	s.mu.Unlock()
	s.setPhase(phase)
	s.closeDone()
}

// fail surfaces err and moves the session to failed.
func (s *Scheduler) fail(err error) {
	s.surfaceError(err)
	s.finish(models.PhaseFailed)
}

func (s *Scheduler) closeDone() {
	s.once.Do(func() { close(s.done) })
}

// Done is closed when the session reaches a terminal phase or is stopped.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

// Phase returns the session's current phase.
func (s *Scheduler) Phase() models.SessionPhase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Slots returns a snapshot of the slot table, ordered by slot number.
func (s *Scheduler) Slots() []models.SlotInfo {
	var out []models.SlotInfo
	for _, info := range s.slotList() {
		out = append(out, *info)
	}
	return out
}

func (s *Scheduler) slotList() []*models.SlotInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	nums := make([]int, 0, len(s.slots))
	for n := range s.slots {
		nums = append(nums, n)
	}
	sort.Ints(nums)

	out := make([]*models.SlotInfo, 0, len(nums))
	for _, n := range nums {
		out = append(out, s.slots[n])
	}
	return out
}

func (s *Scheduler) setPhase(phase models.SessionPhase) {
	s.mu.Lock()
	s.phase = phase
	if s.session != nil {
		s.session.Phase = phase
	}
	s.mu.Unlock()

	s.logger.Log("[scheduler] phase -> %s", phase)
	if s.callbacks.OnPhase != nil {
		s.callbacks.OnPhase(phase)
	}
}

func (s *Scheduler) emitSlot(info *models.SlotInfo) {
	if s.callbacks.OnSlotUpdate != nil {
		s.callbacks.OnSlotUpdate(*info)
	}
}

func (s *Scheduler) slotFailed(info *models.SlotInfo, err error) {
	info.Lifecycle = models.SlotFailed
	info.LastError = err.Error()
	s.logger.Log("[scheduler] %v", err)
	s.emitSlot(info)
	s.surfaceError(err)
}

func (s *Scheduler) surfaceError(err error) {
	if s.callbacks.OnError != nil {
		s.callbacks.OnError(err)
	}
}

// progress emits a progress snapshot with the given message.
func (s *Scheduler) progress(message string) {
	if s.callbacks.OnProgress == nil {
		return
	}

	s.mu.Lock()
	cur := s.currentLayer
	totalLayers := 0
	totalStories := 0
	if s.session != nil {
		totalLayers = len(s.session.Layers)
		totalStories = len(s.session.PRD.Stories)
	}
	launched := s.launched
	totalSlots := len(s.slots)
	s.mu.Unlock()

	complete := 0
	if doc, err := s.store.Document(); err == nil {
		complete = doc.CompleteCount()
	}

	s.callbacks.OnProgress(Progress{
		CurrentLayer:    cur,
		TotalLayers:     totalLayers,
		SlotsLaunched:   launched,
		TotalSlots:      totalSlots,
		StoriesComplete: complete,
		TotalStories:    totalStories,
		Message:         message,
	})
}
