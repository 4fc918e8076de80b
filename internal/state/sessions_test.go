package state

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/sambaleuk/crossroads/pkg/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), ".crossroads", "state.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSessionRoundTrip(t *testing.T) {
	db := openTestDB(t)

	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	completed := started.Add(42 * time.Minute)
	rec := &SessionRecord{
		ID:          "11111111-2222-3333-4444-555555555555",
		PRDName:     "checkout-flow",
		RepoPath:    "/work/shop",
		BaseBranch:  "main",
		Phase:       models.PhaseCompleted,
		StartedAt:   started,
		CompletedAt: &completed,
	}
	if err := db.RecordSession(rec); err != nil {
		t.Fatalf("record: %v", err)
	}

	got, err := db.LatestSession()
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if got == nil || got.ID != rec.ID || got.Phase != models.PhaseCompleted {
		t.Errorf("latest = %+v", got)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(completed) {
		t.Errorf("completedAt = %v, want %v", got.CompletedAt, completed)
	}
}

func TestLatestSessionEmpty(t *testing.T) {
	db := openTestDB(t)

	got, err := db.LatestSession()
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if got != nil {
		t.Errorf("latest = %+v, want nil", got)
	}
}

func TestSlotResults(t *testing.T) {
	db := openTestDB(t)

	rec := &SessionRecord{
		ID: "session-1", PRDName: "feature", RepoPath: "/repo",
		BaseBranch: "main", Phase: models.PhaseFailed, StartedAt: time.Now().UTC(),
	}
	if err := db.RecordSession(rec); err != nil {
		t.Fatalf("record session: %v", err)
	}

	code := 1
	results := []*SlotResult{
		{SessionID: "session-1", Slot: 1, Agent: models.AgentClaude, Action: models.ActionImplement,
			Branch: "xroads/slot-1", Lifecycle: models.SlotCompleted},
		{SessionID: "session-1", Slot: 2, Agent: models.AgentCodex, Action: models.ActionTest,
			Branch: "xroads/slot-2", Lifecycle: models.SlotFailed, ExitCode: &code, LastError: "loop script exited with code 1"},
	}
	for _, res := range results {
		if err := db.RecordSlotResult(res); err != nil {
			t.Fatalf("record slot: %v", err)
		}
	}

	got, err := db.SlotResults("session-1")
	if err != nil {
		t.Fatalf("slot results: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("results = %d, want 2", len(got))
	}
	if got[0].Slot != 1 || got[0].ExitCode != nil {
		t.Errorf("slot 1 = %+v", got[0])
	}
	if got[1].Lifecycle != models.SlotFailed || got[1].ExitCode == nil || *got[1].ExitCode != 1 {
		t.Errorf("slot 2 = %+v", got[1])
	}
}

func TestRecordSessionUpsert(t *testing.T) {
	db := openTestDB(t)

	rec := &SessionRecord{
		ID: "session-1", PRDName: "feature", RepoPath: "/repo",
		BaseBranch: "main", Phase: models.PhaseMonitoring, StartedAt: time.Now().UTC(),
	}
	if err := db.RecordSession(rec); err != nil {
		t.Fatalf("record: %v", err)
	}

	rec.Phase = models.PhaseCompleted
	if err := db.RecordSession(rec); err != nil {
		t.Fatalf("re-record: %v", err)
	}

	sessions, err := db.ListSessions(10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("sessions = %d, want 1 after upsert", len(sessions))
	}
	if sessions[0].Phase != models.PhaseCompleted {
		t.Errorf("phase = %s", sessions[0].Phase)
	}
}
