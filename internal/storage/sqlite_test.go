package storage

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open()
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent re-runs migrate and verifies nothing is applied twice.
func TestMigrationsIdempotent(t *testing.T) {
	s := openTestStore(t)

	v1, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if err := s.migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	v2, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if diff := cmp.Diff(v1, v2); diff != "" {
		t.Errorf("migrations changed (-first +second):\n%s", diff)
	}
}

// TestMigrationsOrdered verifies migrations are applied in ascending numeric order.
func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if diff := cmp.Diff([]int{1, 2}, versions); diff != "" {
		t.Errorf("versions mismatch (-want +got):\n%s", diff)
	}
}

// TestIndexesExist verifies the migrations create the journal indexes.
func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	indexes := []string{"idx_turns_created", "idx_turns_session", "idx_turns_intent", "idx_automl_jobs_queued"}
	for _, idx := range indexes {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying sqlite_master for %q: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %q not found in sqlite_master", idx)
		}
	}
}

func TestSaveAndGetTurn(t *testing.T) {
	s := openTestStore(t)

	want := Turn{
		ID:         "turn-001",
		SessionID:  "sess-1",
		Persona:    "supervisor",
		CreatedAt:  time.Now().UTC().Truncate(time.Second),
		UserText:   "show me the approval queue",
		ReplyText:  "Here is the queue.",
		ToolName:   "fetch_approval_queue",
		Intent:     "APPROVAL_QUEUE",
		Directive:  "approval-queue",
		DurationMs: 812,
	}
	if err := s.SaveTurn(want); err != nil {
		t.Fatalf("SaveTurn: %v", err)
	}

	got, err := s.GetTurn("turn-001")
	if err != nil {
		t.Fatalf("GetTurn: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("turn mismatch (-want +got):\n%s", diff)
	}
}

func TestSaveTurn_Degraded(t *testing.T) {
	s := openTestStore(t)

	if err := s.SaveTurn(Turn{ID: "t-d", SessionID: "s", Persona: "data-scientist", CreatedAt: time.Now(), Intent: "NONE", Degraded: true, Note: "timeout"}); err != nil {
		t.Fatalf("SaveTurn: %v", err)
	}
	got, err := s.GetTurn("t-d")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Degraded || got.Note != "timeout" || got.Directive != "" {
		t.Errorf("got %+v", got)
	}
}

func TestSaveTurn_DuplicateID(t *testing.T) {
	s := openTestStore(t)

	turn := Turn{ID: "dup", SessionID: "s", Persona: "supervisor", CreatedAt: time.Now(), Intent: "NONE"}
	if err := s.SaveTurn(turn); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveTurn(turn); err == nil {
		t.Error("expected error for duplicate turn id")
	}
}

func TestGetTurnNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetTurn("does-not-exist")
	if err != ErrNotFound {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestListTurns(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for j := 0; j < 10; j++ {
		turn := Turn{
			ID:        fmt.Sprintf("turn-%02d", j),
			SessionID: "s",
			Persona:   "data-scientist",
			CreatedAt: base.Add(time.Duration(j) * time.Hour),
			UserText:  fmt.Sprintf("query %d", j),
			Intent:    "SEARCH",
		}
		if err := s.SaveTurn(turn); err != nil {
			t.Fatalf("SaveTurn %d: %v", j, err)
		}
	}

	got, err := s.ListTurns(5, 0)
	if err != nil {
		t.Fatalf("ListTurns: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("got %d turns, want 5", len(got))
	}
	if got[0].ID != "turn-09" || got[4].ID != "turn-05" {
		t.Errorf("first page = %s..%s, want turn-09..turn-05", got[0].ID, got[4].ID)
	}

	page2, err := s.ListTurns(5, 5)
	if err != nil {
		t.Fatalf("ListTurns page 2: %v", err)
	}
	if len(page2) != 5 || page2[0].ID != "turn-04" {
		t.Errorf("second page starts at %v", page2)
	}

	n, err := s.CountTurns()
	if err != nil || n != 10 {
		t.Errorf("CountTurns = %d, %v; want 10", n, err)
	}
}

func TestListTurns_SameSecondNewestFirst(t *testing.T) {
	s := openTestStore(t)

	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, id := range []string{"a", "b", "c"} {
		if err := s.SaveTurn(Turn{ID: id, SessionID: "s", Persona: "supervisor", CreatedAt: at, Intent: "NONE"}); err != nil {
			t.Fatal(err)
		}
	}
	got, err := s.ListTurns(10, 0)
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, turn := range got {
		ids = append(ids, turn.ID)
	}
	if diff := cmp.Diff([]string{"c", "b", "a"}, ids); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestCountTurnsByIntent(t *testing.T) {
	s := openTestStore(t)

	intents := []string{"SEARCH", "SEARCH", "NONE", "REGISTER", "SEARCH"}
	for i, in := range intents {
		if err := s.SaveTurn(Turn{ID: fmt.Sprintf("t-%d", i), SessionID: "s", Persona: "supervisor", CreatedAt: time.Now(), Intent: in}); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.CountTurnsByIntent()
	if err != nil {
		t.Fatalf("CountTurnsByIntent: %v", err)
	}
	want := map[string]int{"SEARCH": 3, "NONE": 1, "REGISTER": 1}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("counts mismatch (-want +got):\n%s", diff)
	}
}

func TestSaveAndListJobs(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	first := Job{ID: "job-1", Platform: "sagemaker", DatasetID: "ds-01", Task: "classification", Status: "queued", QueuedAt: base}
	second := Job{ID: "job-2", TurnID: "turn-9", Platform: "vertex-ai", DatasetID: "ds-02", Task: "regression", OptimizationMetric: "rmse", Status: "queued", QueuedAt: base.Add(time.Minute)}
	for _, j := range []Job{first, second} {
		if err := s.SaveJob(j); err != nil {
			t.Fatalf("SaveJob %s: %v", j.ID, err)
		}
	}

	got, err := s.ListJobs(10)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if diff := cmp.Diff([]Job{second, first}, got); diff != "" {
		t.Errorf("jobs mismatch (-want +got):\n%s", diff)
	}
}
