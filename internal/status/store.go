package status

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sambaleuk/crossroads/internal/graph"
	"github.com/sambaleuk/crossroads/pkg/models"
)

// ErrNoDocument indicates no status document exists on disk yet.
var ErrNoDocument = errors.New("status document does not exist")

// ErrDecodeFailed indicates the document could not be parsed even after the
// torn-read retry.
var ErrDecodeFailed = errors.New("status document decode failed")

// decodeRetryDelay is how long to wait before reparsing a torn file.
const decodeRetryDelay = 100 * time.Millisecond

// Dir is the name of the coordination directory inside the repository.
const Dir = ".crossroads"

// FileName is the name of the status document.
const FileName = "status.json"

// Path returns the canonical status document location for a repository.
func Path(repoPath string) string {
	return filepath.Join(repoPath, Dir, FileName)
}

// Store maintains the status document under the atomic-rename discipline.
// Two writers touch the file: this process and the agents. The store never
// writes from a stale snapshot; every mutation is read-modify-write.
type Store struct {
	path string

	mu sync.Mutex
	// cached is the last document this process wrote or read.
	cached *Document
	// cachedMod is the file modification stamp the cache corresponds to.
	cachedMod time.Time

	debugLog func(format string, args ...interface{})
}

// NewStore creates a store for the document at path.
func NewStore(path string) *Store {
	return &Store{
		path:     path,
		debugLog: func(format string, args ...interface{}) {},
	}
}

// SetDebugLog sets the debug logging function.
func (s *Store) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		s.debugLog = fn
	}
}

// Path returns the document location.
func (s *Store) Path() string {
	return s.path
}

// Initialise computes layers from the PRD and writes the initial document.
// Stories with no prerequisites start ready, the rest blocked. If
// resumeIfExists is set and a valid document is already on disk, it is
// reused verbatim.
func (s *Store) Initialise(sessionID string, prd *models.PRD, resumeIfExists bool) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if resumeIfExists {
		if doc, err := s.loadLocked(true); err == nil {
			s.debugLog("[status] resuming existing document for %q (%d stories)", doc.PRDName, len(doc.Stories))
			return doc.Clone(), nil
		}
	}

	g := graph.New()
	if err := g.Build(prd.Stories); err != nil {
		return nil, err
	}
	layers, err := g.Layers()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	doc := &Document{
		SessionID:    sessionID,
		PRDName:      prd.Name,
		StartedAt:    now,
		UpdatedAt:    now,
		CurrentLayer: 0,
		Layers:       layers,
		Stories:      make(map[string]*StoryTrack, len(prd.Stories)),
	}
	for _, story := range prd.Stories {
		state := models.StoryStatusReady
		if len(story.DependsOn) > 0 {
			state = models.StoryStatusBlocked
		}
		doc.Stories[story.ID] = &StoryTrack{
			ID:        story.ID,
			Status:    state,
			DependsOn: append([]string(nil), story.DependsOn...),
		}
	}

	if err := s.writeLocked(doc); err != nil {
		return nil, err
	}
	s.debugLog("[status] initialised document: %d stories, %d layers", len(doc.Stories), len(layers))
	return doc.Clone(), nil
}

// Document returns a snapshot of the current document.
func (s *Store) Document() (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.loadLocked(false)
	if err != nil {
		return nil, err
	}
	return doc.Clone(), nil
}

// Transition moves a story to a new state. On first entry to in-progress the
// start stamp is recorded; on complete, the completion stamp. Unblocking of
// dependents runs in the same write.
func (s *Store) Transition(storyID string, newState models.StoryStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.loadLocked(false)
	if err != nil {
		return err
	}
	track, ok := doc.Stories[storyID]
	if !ok {
		return fmt.Errorf("unknown story %s", storyID)
	}

	now := time.Now().UTC()
	track.Status = newState
	switch newState {
	case models.StoryStatusInProgress:
		if track.StartedAt == nil {
			track.StartedAt = &now
		}
	case models.StoryStatusComplete:
		if track.CompletedAt == nil {
			track.CompletedAt = &now
		}
	}
	if errMsg != "" {
		track.LastError = &errMsg
	}

	s.unblockLocked(doc)
	return s.writeLocked(doc)
}

// AssignSlot records which slot owns a story.
func (s *Store) AssignSlot(storyID string, slot int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.loadLocked(false)
	if err != nil {
		return err
	}
	track, ok := doc.Stories[storyID]
	if !ok {
		return fmt.Errorf("unknown story %s", storyID)
	}
	track.AssignedToSlot = slot
	return s.writeLocked(doc)
}

// SetCurrentLayer advances the current layer index.
func (s *Store) SetCurrentLayer(layer int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.loadLocked(false)
	if err != nil {
		return err
	}
	doc.CurrentLayer = layer
	return s.writeLocked(doc)
}

// Unblock flips every blocked story whose prerequisites are all complete to
// ready. Idempotent: repeated calls without intervening transitions are
// no-ops after the first.
func (s *Store) Unblock() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.loadLocked(false)
	if err != nil {
		return err
	}
	if !s.unblockLocked(doc) {
		return nil
	}
	return s.writeLocked(doc)
}

// RefreshAndUnblock forces a reread from disk, then runs the unblock pass.
// The scheduler calls this after agents (external writers) modify the file.
func (s *Store) RefreshAndUnblock() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.loadLocked(true)
	if err != nil {
		return err
	}
	if !s.unblockLocked(doc) {
		return nil
	}
	return s.writeLocked(doc)
}

// unblockLocked applies the unblock rule to doc. Returns true if any story
// changed state.
func (s *Store) unblockLocked(doc *Document) bool {
	changed := false
	for id, track := range doc.Stories {
		if track.Status != models.StoryStatusBlocked {
			continue
		}
		satisfied := true
		for _, dep := range track.DependsOn {
			depTrack, ok := doc.Stories[dep]
			if !ok || depTrack.Status != models.StoryStatusComplete {
				satisfied = false
				break
			}
		}
		if satisfied {
			track.Status = models.StoryStatusReady
			changed = true
			s.debugLog("[status] unblocked %s", id)
		}
	}
	return changed
}

// ReadyStories returns the IDs of stories in state ready.
func (s *Store) ReadyStories() ([]string, error) {
	return s.storiesIn(models.StoryStatusReady)
}

// BlockedStories returns the IDs of stories in state blocked.
func (s *Store) BlockedStories() ([]string, error) {
	return s.storiesIn(models.StoryStatusBlocked)
}

func (s *Store) storiesIn(state models.StoryStatus) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.loadLocked(false)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, layer := range doc.Layers {
		for _, id := range layer {
			if track, ok := doc.Stories[id]; ok && track.Status == state {
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}

// PrerequisitesSatisfied reports whether every prerequisite of the story is
// complete.
func (s *Store) PrerequisitesSatisfied(storyID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.loadLocked(false)
	if err != nil {
		return false, err
	}
	track, ok := doc.Stories[storyID]
	if !ok {
		return false, fmt.Errorf("unknown story %s", storyID)
	}
	for _, dep := range track.DependsOn {
		depTrack, ok := doc.Stories[dep]
		if !ok || depTrack.Status != models.StoryStatusComplete {
			return false, nil
		}
	}
	return true, nil
}

// ProgressRatio returns completed stories over total, in [0, 1].
func (s *Store) ProgressRatio() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.loadLocked(false)
	if err != nil {
		return 0, err
	}
	if len(doc.Stories) == 0 {
		return 0, nil
	}
	return float64(doc.CompleteCount()) / float64(len(doc.Stories)), nil
}

// loadLocked returns the current document, consulting the monotonic cache:
// if the file on disk is not newer than the cached stamp, the cache is
// returned. force bypasses the cache entirely. Assumes the lock is held.
func (s *Store) loadLocked(force bool) (*Document, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoDocument
		}
		return nil, fmt.Errorf("stat status document: %w", err)
	}

	if !force && s.cached != nil && !info.ModTime().After(s.cachedMod) {
		return s.cached, nil
	}

	doc, err := s.readDisk()
	if err != nil {
		return nil, err
	}
	s.cached = doc
	s.cachedMod = info.ModTime()
	return doc, nil
}

// readDisk reads and decodes the file, retrying once on decode failure to
// tolerate a torn read racing an external writer's rename.
func (s *Store) readDisk() (*Document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read status document: %w", err)
	}
	doc, err := Decode(data)
	if err == nil {
		return doc, nil
	}

	s.debugLog("[status] decode failed, retrying after %s: %v", decodeRetryDelay, err)
	time.Sleep(decodeRetryDelay)

	data, err = os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read status document: %w", err)
	}
	doc, err = Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	return doc, nil
}

// writeLocked serialises doc to a sibling temp file, fsyncs, and renames it
// onto the target. The live file is never truncated in place. The in-process
// cache is refreshed from the written document. Assumes the lock is held.
func (s *Store) writeLocked(doc *Document) error {
	now := time.Now().UTC()
	// UpdatedAt may advance but must not regress.
	if now.After(doc.UpdatedAt) {
		doc.UpdatedAt = now
	}

	data, err := doc.Encode()
	if err != nil {
		return fmt.Errorf("encode status document: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create status directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".status-*.json")
	if err != nil {
		return fmt.Errorf("create temp status file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp status file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp status file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp status file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename status file: %w", err)
	}

	s.cached = doc
	if info, err := os.Stat(s.path); err == nil {
		s.cachedMod = info.ModTime()
	}
	return nil
}
