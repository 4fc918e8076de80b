// Package provision realises per-slot working copies: isolated checkouts
// with the agent brief, the filtered PRD, and ignore entries in place.
package provision

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sambaleuk/crossroads/internal/git"
	"github.com/sambaleuk/crossroads/pkg/models"
)

// ScratchFiles are the per-slot files written into each working copy. They
// are local coordination artefacts and must never surface in merges.
var ScratchFiles = []string{"AGENT.md", "prd.json", "progress.txt"}

// ScratchDirs are the per-slot scratch directories added to the ignore list.
var ScratchDirs = []string{".xroads-backup/", ".xroads-logs/"}

// Result describes a provisioned slot working copy.
type Result struct {
	// Path is the working copy's absolute path.
	Path string
	// Branch is the branch the working copy is bound to.
	Branch string
	// Reused is true when an existing valid working copy was kept.
	Reused bool
}

// Provisioner creates ready-to-launch working copies for slot assignments.
// Paths and branch names are deterministic, so repeated runs reuse existing
// artefacts where safe.
type Provisioner struct {
	repo    git.Runner
	baseDir string

	debugLog func(format string, args ...interface{})
}

// New creates a provisioner. baseDir is where working copies live; if empty,
// a "worktrees" directory inside the repository's .crossroads directory is
// used.
func New(repo git.Runner, baseDir string) *Provisioner {
	if baseDir == "" {
		baseDir = filepath.Join(repo.RepoPath(), ".crossroads", "worktrees")
	}
	return &Provisioner{
		repo:     repo,
		baseDir:  baseDir,
		debugLog: func(format string, args ...interface{}) {},
	}
}

// SetDebugLog sets the debug logging function.
func (p *Provisioner) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		p.debugLog = fn
	}
}

// BaseDir returns the directory working copies are created under.
func (p *Provisioner) BaseDir() string {
	return p.baseDir
}

// PathFor returns the deterministic working-copy path for an assignment.
func (p *Provisioner) PathFor(a models.SlotAssignment) string {
	return filepath.Join(p.baseDir, a.DirectoryName())
}

// Provision realises the working copy for one slot assignment: reuse a valid
// existing checkout, or clear stale state and create a fresh one, then write
// the brief, the filtered PRD, and the ignore entries.
//
// Repository failures during creation are fatal; failures writing artefacts
// or ignore entries are logged and degrade gracefully.
func (p *Provisioner) Provision(session *models.Session, a models.SlotAssignment) (*Result, error) {
	path := p.PathFor(a)
	branch := a.BranchName()

	reused, err := p.ensureWorkingCopy(branch, path)
	if err != nil {
		return nil, err
	}

	if err := p.writeArtefacts(session, a, path); err != nil {
		p.debugLog("[provision] slot %d: artefact write degraded: %v", a.Slot, err)
	}
	if err := p.ensureIgnored(path); err != nil {
		p.debugLog("[provision] slot %d: ignore update degraded: %v", a.Slot, err)
	}

	return &Result{Path: path, Branch: branch, Reused: reused}, nil
}

// ensureWorkingCopy makes the checkout at path exist on the given branch.
func (p *Provisioner) ensureWorkingCopy(branch, path string) (reused bool, err error) {
	if info, statErr := os.Stat(path); statErr == nil && info.IsDir() && p.repo.IsRepository(path) {
		p.debugLog("[provision] reusing working copy at %s", path)
		return true, nil
	}

	// A bare directory without the presence marker is a leftover from a
	// partial run; clear it before recreating.
	if err := os.RemoveAll(path); err != nil {
		return false, fmt.Errorf("remove stale directory %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("create worktree base directory: %w", err)
	}

	exists, err := p.repo.BranchExists(branch)
	if err != nil {
		return false, fmt.Errorf("check branch %s: %w", branch, err)
	}
	if exists {
		// Prior failed run left the branch behind.
		p.debugLog("[provision] deleting leftover branch %s", branch)
		if err := p.repo.DeleteBranch(branch, true); err != nil {
			return false, fmt.Errorf("delete leftover branch %s: %w", branch, err)
		}
		if err := p.repo.PruneWorkingCopies(); err != nil {
			return false, fmt.Errorf("prune working copies: %w", err)
		}
	}

	if err := p.repo.CreateWorkingCopy(branch, path); err != nil {
		return false, fmt.Errorf("create working copy: %w", err)
	}
	return false, nil
}

// writeArtefacts writes AGENT.md, prd.json, and progress.txt into the
// working copy. progress.txt is not overwritten if already present.
func (p *Provisioner) writeArtefacts(session *models.Session, a models.SlotAssignment, path string) error {
	brief := BuildBrief(session, a)
	if err := os.WriteFile(filepath.Join(path, "AGENT.md"), []byte(brief), 0o644); err != nil {
		return fmt.Errorf("write AGENT.md: %w", err)
	}

	filtered := session.PRD.Filtered(a.StoryIDs)
	prdData, err := EncodePRD(filtered)
	if err != nil {
		return fmt.Errorf("encode filtered prd: %w", err)
	}
	if err := os.WriteFile(filepath.Join(path, "prd.json"), prdData, 0o644); err != nil {
		return fmt.Errorf("write prd.json: %w", err)
	}

	progressPath := filepath.Join(path, "progress.txt")
	if _, err := os.Stat(progressPath); errors.Is(err, os.ErrNotExist) {
		header := fmt.Sprintf("# Slot %d progress log\n", a.Slot)
		if err := os.WriteFile(progressPath, []byte(header), 0o644); err != nil {
			return fmt.Errorf("write progress.txt: %w", err)
		}
	}
	return nil
}

// ensureIgnored appends the scratch files to the working copy's ignore file,
// untracks any that were previously committed, and commits the ignore change
// (allow-empty) so the scratch files never surface in later merges.
func (p *Provisioner) ensureIgnored(path string) error {
	ignorePath := filepath.Join(path, ".gitignore")
	existing, err := os.ReadFile(ignorePath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("read ignore file: %w", err)
	}

	have := make(map[string]bool)
	for _, line := range strings.Split(string(existing), "\n") {
		have[strings.TrimSpace(line)] = true
	}

	var missing []string
	for _, entry := range append(append([]string{}, ScratchFiles...), ScratchDirs...) {
		if !have[entry] {
			missing = append(missing, entry)
		}
	}

	if len(missing) > 0 {
		content := string(existing)
		if content != "" && !strings.HasSuffix(content, "\n") {
			content += "\n"
		}
		content += strings.Join(missing, "\n") + "\n"
		if err := os.WriteFile(ignorePath, []byte(content), 0o644); err != nil {
			return fmt.Errorf("write ignore file: %w", err)
		}
	}

	for _, file := range ScratchFiles {
		tracked, err := p.repo.IsTracked(path, file)
		if err != nil {
			return fmt.Errorf("check tracked %s: %w", file, err)
		}
		if tracked {
			if err := p.repo.RemoveFromIndex(path, file); err != nil {
				return fmt.Errorf("untrack %s: %w", file, err)
			}
		}
	}

	if err := p.repo.Stage(path, ".gitignore"); err != nil {
		return fmt.Errorf("stage ignore file: %w", err)
	}
	if err := p.repo.Commit(path, "chore: ignore slot scratch files", true); err != nil {
		return fmt.Errorf("commit ignore change: %w", err)
	}
	return nil
}

// Validate checks that a provisioned path is a genuine checkout.
func (p *Provisioner) Validate(path string) error {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("working copy missing at %s", path)
	}
	if !p.repo.IsRepository(path) {
		return fmt.Errorf("working copy at %s has no repository marker", path)
	}
	return nil
}

// Orphans returns provisioned directories under the base dir that are not in
// keep. Used by cleanup to find leftovers from prior runs.
func (p *Provisioner) Orphans(keep map[string]bool) ([]string, error) {
	entries, err := os.ReadDir(p.baseDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read worktree base dir: %w", err)
	}

	var orphans []string
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), "slot-") {
			continue
		}
		full := filepath.Join(p.baseDir, entry.Name())
		if !keep[full] {
			orphans = append(orphans, full)
		}
	}
	return orphans, nil
}

// RemoveOrphan removes one orphaned working copy and prunes registrations.
func (p *Provisioner) RemoveOrphan(path string) error {
	if err := p.repo.RemoveWorkingCopy(path); err != nil {
		// Fall back to a plain directory removal when the registration is
		// already gone.
		if rmErr := os.RemoveAll(path); rmErr != nil {
			return fmt.Errorf("remove orphan %s: %w", path, err)
		}
	}
	return p.repo.PruneWorkingCopies()
}
