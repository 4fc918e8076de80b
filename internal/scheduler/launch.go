package scheduler

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sambaleuk/crossroads/internal/pty"
	"github.com/sambaleuk/crossroads/pkg/models"
)

// launchLayer launches every slot whose assigned stories intersect the given
// layer and whose lifecycle allows a launch. Slots already running keep
// going: their loop scripts pick up newly unblocked stories from prd.json on
// their own.
func (s *Scheduler) launchLayer(layerIndex int) {
	s.mu.Lock()
	var layer []string
	if s.session != nil && layerIndex < len(s.session.Layers) {
		layer = s.session.Layers[layerIndex]
	}
	s.mu.Unlock()
	if len(layer) == 0 {
		return
	}

	inLayer := make(map[string]bool, len(layer))
	for _, id := range layer {
		inLayer[id] = true
	}

	for _, info := range s.slotList() {
		owns := false
		for _, id := range info.Assignment.StoryIDs {
			if inLayer[id] {
				owns = true
				break
			}
		}
		if !owns {
			continue
		}
		if info.Lifecycle == models.SlotRunning || info.Lifecycle == models.SlotCompleted ||
			info.Lifecycle == models.SlotLaunching {
			continue
		}

		info.Lifecycle = models.SlotLaunching
		s.emitSlot(info)

		if err := s.launchSlot(info); err != nil {
			s.slotFailed(info, fmt.Errorf("launch slot %d: %w", info.Assignment.Slot, err))
			continue
		}

		info.Lifecycle = models.SlotRunning
		s.mu.Lock()
		s.launched++
		s.mu.Unlock()
		s.emitSlot(info)
		s.progress(fmt.Sprintf("slot %d launched for layer %d", info.Assignment.Slot, layerIndex))
	}
}

// launchSlot starts one slot's loop script under the PTY supervisor.
func (s *Scheduler) launchSlot(info *models.SlotInfo) error {
	s.mu.Lock()
	session := s.session
	s.mu.Unlock()

	// Refresh the brief and filtered PRD; provisioning is idempotent and a
	// relaunch after failure should see current instructions.
	if _, err := s.provisioner.Provision(session, info.Assignment); err != nil {
		return err
	}

	script, err := s.resolveLoopScript(info.Assignment.Agent)
	if err != nil {
		return err
	}

	slotNum := info.Assignment.Slot
	processID, err := s.supervisor.Launch(pty.LaunchSpec{
		Executable: script,
		Args: []string{
			strconv.Itoa(s.cfg.Scripts.MaxIterations),
			strconv.Itoa(s.cfg.Scripts.SleepSeconds),
		},
		Dir: info.Path,
		Env: s.slotEnv(session, info),
		OnOutput: func(chunk string) {
			if s.callbacks.OnSlotOutput != nil {
				s.callbacks.OnSlotOutput(slotNum, chunk)
			}
		},
		OnTerminate: func(exitCode int) {
			s.post(loopEvent{kind: eventSlotTerminated, slot: slotNum, exitCode: exitCode})
		},
	})
	if err != nil {
		return err
	}
	info.ProcessID = processID

	for _, id := range info.Assignment.StoryIDs {
		if err := s.store.AssignSlot(id, slotNum); err != nil {
			s.logger.Log("[scheduler] assign %s to slot %d: %v", id, slotNum, err)
		}
	}
	return nil
}

// resolveLoopScript locates the loop script for an agent kind. Search order:
// configured paths, the repository's .crossroads/scripts directory, then the
// user data directory.
func (s *Scheduler) resolveLoopScript(agent models.AgentKind) (string, error) {
	name := fmt.Sprintf("%s-loop.sh", agent)

	paths := append([]string{}, s.cfg.Scripts.SearchPaths...)
	paths = append(paths, filepath.Join(s.repo.RepoPath(), ".crossroads", "scripts"))
	if data := os.Getenv("XDG_DATA_HOME"); data != "" {
		paths = append(paths, filepath.Join(data, "crossroads", "scripts"))
	} else if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".local", "share", "crossroads", "scripts"))
	}

	for _, dir := range paths {
		candidate := filepath.Join(dir, name)
		info, err := os.Stat(candidate)
		if err != nil || info.IsDir() {
			continue
		}
		if info.Mode()&0o111 == 0 {
			continue
		}
		return candidate, nil
	}
	return "", fmt.Errorf("loop script %s: %w", name, pty.ErrExecutableNotFound)
}

// slotEnv builds the child environment: the parent environment plus the
// orchestrator-scoped variables.
func (s *Scheduler) slotEnv(session *models.Session, info *models.SlotInfo) []string {
	a := info.Assignment
	env := os.Environ()
	env = append(env,
		"CROSSROADS_SESSION_ID="+session.ID,
		"CROSSROADS_AGENT_TYPE="+string(a.Agent),
		"CROSSROADS_BRANCH="+info.Branch,
		"CROSSROADS_ACTION_TYPE="+string(a.Action),
		"CROSSROADS_ASSIGNED_STORIES="+strings.Join(a.StoryIDs, ","),
		"CROSSROADS_LOADED_SKILLS="+strings.Join(a.Skills, ","),
		"CROSSROADS_SLOT="+strconv.Itoa(a.Slot),
		"CROSSROADS_WORKTREE="+info.Path,
		"CROSSROADS_REPO="+s.repo.RepoPath(),
		"CROSSROADS_STATUS_FILE="+s.store.Path(),
	)
	return env
}
