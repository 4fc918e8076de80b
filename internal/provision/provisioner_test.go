package provision

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sambaleuk/crossroads/internal/git"
	"github.com/sambaleuk/crossroads/pkg/models"
)

// fakeRepo simulates the shim against a real temp directory: creating a
// working copy makes the directory and drops a .git marker file.
type fakeRepo struct {
	git.Runner

	repoPath  string
	branches  map[string]bool
	deleted   []string
	pruned    int
	created   []string
	tracked   map[string]bool
	untracked []string
	commits   []string
}

func newFakeRepo(repoPath string) *fakeRepo {
	return &fakeRepo{
		repoPath: repoPath,
		branches: make(map[string]bool),
		tracked:  make(map[string]bool),
	}
}

func (f *fakeRepo) RepoPath() string { return f.repoPath }

func (f *fakeRepo) IsRepository(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil
}

func (f *fakeRepo) BranchExists(name string) (bool, error) {
	return f.branches[name], nil
}

func (f *fakeRepo) DeleteBranch(name string, force bool) error {
	delete(f.branches, name)
	f.deleted = append(f.deleted, name)
	return nil
}

func (f *fakeRepo) PruneWorkingCopies() error {
	f.pruned++
	return nil
}

func (f *fakeRepo) CreateWorkingCopy(branch, path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(path, ".git"), []byte("gitdir: elsewhere\n"), 0o644); err != nil {
		return err
	}
	f.branches[branch] = true
	f.created = append(f.created, branch)
	return nil
}

func (f *fakeRepo) IsTracked(dir, file string) (bool, error) {
	return f.tracked[file], nil
}

func (f *fakeRepo) RemoveFromIndex(dir, file string) error {
	f.untracked = append(f.untracked, file)
	return nil
}

func (f *fakeRepo) Stage(dir, file string) error { return nil }

func (f *fakeRepo) Commit(dir, message string, allowEmpty bool) error {
	f.commits = append(f.commits, message)
	return nil
}

func testSession(t *testing.T) (*models.Session, models.SlotAssignment) {
	t.Helper()

	prd := &models.PRD{Name: "feature", Stories: []*models.Story{
		{ID: "US-001", Title: "one"},
		{ID: "US-002", Title: "two", DependsOn: []string{"US-001"}},
	}}
	a := models.SlotAssignment{
		Slot: 1, Agent: models.AgentClaude, Action: models.ActionImplement,
		StoryIDs: []string{"US-001", "US-002"},
	}
	session := &models.Session{
		ID:          "session-1",
		PRD:         prd,
		Assignments: []models.SlotAssignment{a},
		StatusPath:  "/repo/.crossroads/status.json",
	}
	return session, a
}

func TestProvisionCreatesWorkingCopy(t *testing.T) {
	base := t.TempDir()
	repo := newFakeRepo(base)
	p := New(repo, filepath.Join(base, "worktrees"))

	session, a := testSession(t)
	result, err := p.Provision(session, a)
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	if result.Reused {
		t.Error("fresh provision reported as reused")
	}
	if result.Branch != "xroads/slot-1-claude-us-001-us-002" {
		t.Errorf("branch = %s", result.Branch)
	}

	for _, file := range ScratchFiles {
		if _, err := os.Stat(filepath.Join(result.Path, file)); err != nil {
			t.Errorf("%s not written: %v", file, err)
		}
	}

	ignore, err := os.ReadFile(filepath.Join(result.Path, ".gitignore"))
	if err != nil {
		t.Fatalf("read ignore: %v", err)
	}
	for _, entry := range append(append([]string{}, ScratchFiles...), ScratchDirs...) {
		if !strings.Contains(string(ignore), entry) {
			t.Errorf("ignore file missing %s", entry)
		}
	}
	if len(repo.commits) != 1 {
		t.Errorf("commits = %v, want the ignore commit", repo.commits)
	}
}

func TestProvisionReusesValidWorkingCopy(t *testing.T) {
	base := t.TempDir()
	repo := newFakeRepo(base)
	p := New(repo, filepath.Join(base, "worktrees"))

	session, a := testSession(t)
	first, err := p.Provision(session, a)
	if err != nil {
		t.Fatalf("first provision: %v", err)
	}

	// Simulate agent progress; reuse must not clobber it.
	progress := filepath.Join(first.Path, "progress.txt")
	if err := os.WriteFile(progress, []byte("did things\n"), 0o644); err != nil {
		t.Fatalf("write progress: %v", err)
	}

	second, err := p.Provision(session, a)
	if err != nil {
		t.Fatalf("second provision: %v", err)
	}
	if !second.Reused {
		t.Error("valid working copy not reused")
	}
	if len(repo.created) != 1 {
		t.Errorf("created %d working copies, want 1", len(repo.created))
	}

	data, _ := os.ReadFile(progress)
	if string(data) != "did things\n" {
		t.Errorf("progress.txt overwritten: %q", data)
	}
}

func TestProvisionClearsStaleDirectory(t *testing.T) {
	base := t.TempDir()
	repo := newFakeRepo(base)
	p := New(repo, filepath.Join(base, "worktrees"))

	session, a := testSession(t)

	// A directory without the presence marker is leftover junk.
	stale := p.PathFor(a)
	if err := os.MkdirAll(stale, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(stale, "junk"), []byte("x"), 0o644); err != nil {
		t.Fatalf("junk: %v", err)
	}

	result, err := p.Provision(session, a)
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	if result.Reused {
		t.Error("stale directory must not be reused")
	}
	if _, err := os.Stat(filepath.Join(result.Path, "junk")); err == nil {
		t.Error("stale contents survived")
	}
}

func TestProvisionDeletesLeftoverBranch(t *testing.T) {
	base := t.TempDir()
	repo := newFakeRepo(base)
	repo.branches["xroads/slot-1-claude-us-001-us-002"] = true

	p := New(repo, filepath.Join(base, "worktrees"))
	session, a := testSession(t)

	if _, err := p.Provision(session, a); err != nil {
		t.Fatalf("provision: %v", err)
	}
	if len(repo.deleted) != 1 {
		t.Errorf("deleted = %v, want the leftover branch", repo.deleted)
	}
	if repo.pruned == 0 {
		t.Error("stale registrations not pruned")
	}
}

func TestProvisionUntracksScratchFiles(t *testing.T) {
	base := t.TempDir()
	repo := newFakeRepo(base)
	repo.tracked["AGENT.md"] = true

	p := New(repo, filepath.Join(base, "worktrees"))
	session, a := testSession(t)

	if _, err := p.Provision(session, a); err != nil {
		t.Fatalf("provision: %v", err)
	}
	if len(repo.untracked) != 1 || repo.untracked[0] != "AGENT.md" {
		t.Errorf("untracked = %v, want [AGENT.md]", repo.untracked)
	}
}

func TestBuildBriefContents(t *testing.T) {
	session, a := testSession(t)
	brief := BuildBrief(session, a)

	for _, want := range []string{
		"US-001", "US-002",
		"Prerequisites: US-001",
		session.StatusPath,
		"blocking commands",
		"Rename the temporary file onto the document",
	} {
		if !strings.Contains(brief, want) {
			t.Errorf("brief missing %q", want)
		}
	}
}

func TestFilteredPRDWritten(t *testing.T) {
	base := t.TempDir()
	repo := newFakeRepo(base)
	p := New(repo, filepath.Join(base, "worktrees"))

	session, _ := testSession(t)
	// Give the slot only one of the two stories.
	a := models.SlotAssignment{Slot: 2, Agent: models.AgentCodex, Action: models.ActionTest, StoryIDs: []string{"US-002"}}

	result, err := p.Provision(session, a)
	if err != nil {
		t.Fatalf("provision: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(result.Path, "prd.json"))
	if err != nil {
		t.Fatalf("read prd.json: %v", err)
	}
	if strings.Contains(string(data), `"US-001"`) && !strings.Contains(string(data), "depends_on") {
		t.Errorf("prd.json should reference US-001 only as a dependency edge")
	}
	if !strings.Contains(string(data), `"US-002"`) {
		t.Error("prd.json missing the slot's own story")
	}
}
