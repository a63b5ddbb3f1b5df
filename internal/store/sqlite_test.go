package store

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"
)

// newTestStore creates an in-memory SQLite store for testing
func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// ============================================================================
// Store Lifecycle Tests
// ============================================================================

func TestNew(t *testing.T) {
	store, err := New(":memory:", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer store.Close()

	if store.db == nil {
		t.Error("Expected db to be initialized")
	}

	if store.logger == nil {
		t.Error("Expected logger to be initialized")
	}
}

func TestNewReopensMigratedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	first, err := New(path, logger)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := first.CreateExportRun(&ExportRun{RunID: "a", StartTime: time.Now(), Status: "running"}); err != nil {
		t.Fatalf("CreateExportRun() failed: %v", err)
	}
	first.Close()

	second, err := New(path, logger)
	if err != nil {
		t.Fatalf("second New() failed: %v", err)
	}
	defer second.Close()

	run, err := second.FindExportRun("a")
	if err != nil || run == nil {
		t.Fatalf("FindExportRun() after reopen = %v, %v", run, err)
	}
}

func TestClose(t *testing.T) {
	store, err := New(":memory:", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	err = store.Close()
	if err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	_, err = store.ListExportRuns(0)
	if err == nil {
		t.Error("Expected error when using closed store, but got nil")
	}
}

// ============================================================================
// ExportRun Tests
// ============================================================================

func TestCreateExportRun(t *testing.T) {
	store := newTestStore(t)

	run := &ExportRun{
		RunID:          "3f9c",
		StartTime:      time.Now(),
		Status:         "running",
		Step:           "enumerate",
		Invocations:    1,
		FilesProcessed: 5,
		BytesProcessed: 1024000,
		ArchivePath:    "/out/site-3f9c.archive",
	}

	err := store.CreateExportRun(run)
	if err != nil {
		t.Fatalf("CreateExportRun() failed: %v", err)
	}

	if run.ID == 0 {
		t.Error("Expected ID to be set after CreateExportRun")
	}

	retrieved, err := store.GetExportRun(run.ID)
	if err != nil {
		t.Fatalf("GetExportRun() failed: %v", err)
	}

	if retrieved.RunID != run.RunID {
		t.Errorf("RunID mismatch: got %q, want %q", retrieved.RunID, run.RunID)
	}

	if retrieved.FilesProcessed != run.FilesProcessed {
		t.Errorf("FilesProcessed mismatch: got %d, want %d", retrieved.FilesProcessed, run.FilesProcessed)
	}

	if retrieved.ArchivePath != run.ArchivePath {
		t.Errorf("ArchivePath mismatch: got %q, want %q", retrieved.ArchivePath, run.ArchivePath)
	}
}

func TestCreateExportRunDuplicateRunID(t *testing.T) {
	store := newTestStore(t)

	if err := store.CreateExportRun(&ExportRun{RunID: "dup", StartTime: time.Now()}); err != nil {
		t.Fatalf("CreateExportRun() failed: %v", err)
	}
	if err := store.CreateExportRun(&ExportRun{RunID: "dup", StartTime: time.Now()}); err == nil {
		t.Error("Expected error for duplicate run id")
	}
}

func TestUpdateExportRun(t *testing.T) {
	store := newTestStore(t)

	run := &ExportRun{RunID: "r1", StartTime: time.Now(), Status: "running", Step: "content"}
	if err := store.CreateExportRun(run); err != nil {
		t.Fatalf("CreateExportRun() failed: %v", err)
	}

	run.Status = "done"
	run.Step = "done"
	run.Invocations = 4
	run.FilesProcessed = 120
	run.SkippedCount = 2
	run.ExcludedCount = 9
	run.DatabasePath = "/out/database-r1.sql.gz"
	run.EndTime = time.Now()

	if err := store.UpdateExportRun(run); err != nil {
		t.Fatalf("UpdateExportRun() failed: %v", err)
	}

	retrieved, err := store.GetExportRun(run.ID)
	if err != nil {
		t.Fatalf("GetExportRun() failed: %v", err)
	}

	if retrieved.Status != "done" || retrieved.Invocations != 4 || retrieved.ExcludedCount != 9 {
		t.Errorf("Update not persisted: %+v", retrieved)
	}

	if retrieved.EndTime.IsZero() {
		t.Error("Expected EndTime to be set")
	}
}

func TestUpdateExportRunNotFound(t *testing.T) {
	store := newTestStore(t)

	err := store.UpdateExportRun(&ExportRun{ID: 9999, StartTime: time.Now()})
	if err == nil {
		t.Error("Expected error when updating non-existent export run")
	}
}

func TestGetExportRunNotFound(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.GetExportRun(9999); err == nil {
		t.Error("Expected error when getting non-existent export run")
	}
}

func TestFindExportRunMissing(t *testing.T) {
	store := newTestStore(t)

	run, err := store.FindExportRun("nope")
	if err != nil {
		t.Fatalf("FindExportRun() failed: %v", err)
	}
	if run != nil {
		t.Errorf("Expected nil run, got %+v", run)
	}
}

func TestListExportRunsOrdering(t *testing.T) {
	store := newTestStore(t)

	now := time.Now()
	for i, start := range []time.Time{now.Add(-2 * time.Hour), now, now.Add(-1 * time.Hour)} {
		run := &ExportRun{RunID: fmt.Sprintf("run-%d", i), StartTime: start, Status: "done"}
		if err := store.CreateExportRun(run); err != nil {
			t.Fatalf("CreateExportRun() failed: %v", err)
		}
	}

	runs, err := store.ListExportRuns(0)
	if err != nil {
		t.Fatalf("ListExportRuns() failed: %v", err)
	}

	if len(runs) != 3 {
		t.Fatalf("Expected 3 runs, got %d", len(runs))
	}

	if runs[0].RunID != "run-1" || runs[2].RunID != "run-0" {
		t.Errorf("Expected runs ordered by start_time DESC, got %s, %s, %s", runs[0].RunID, runs[1].RunID, runs[2].RunID)
	}
}

func TestListExportRunsWithLimit(t *testing.T) {
	store := newTestStore(t)

	for i := 0; i < 5; i++ {
		run := &ExportRun{RunID: fmt.Sprintf("run-%d", i), StartTime: time.Now(), Status: "done"}
		if err := store.CreateExportRun(run); err != nil {
			t.Fatalf("CreateExportRun() failed: %v", err)
		}
	}

	runs, err := store.ListExportRuns(2)
	if err != nil {
		t.Fatalf("ListExportRuns() failed: %v", err)
	}

	if len(runs) != 2 {
		t.Errorf("Expected 2 runs, got %d", len(runs))
	}
}

// ============================================================================
// SkippedFile Tests
// ============================================================================

func TestSkippedFiles(t *testing.T) {
	store := newTestStore(t)

	run := &ExportRun{RunID: "r1", StartTime: time.Now(), Status: "running"}
	if err := store.CreateExportRun(run); err != nil {
		t.Fatalf("CreateExportRun() failed: %v", err)
	}
	other := &ExportRun{RunID: "r2", StartTime: time.Now(), Status: "running"}
	if err := store.CreateExportRun(other); err != nil {
		t.Fatalf("CreateExportRun() failed: %v", err)
	}

	paths := []string{"wp-content/uploads/gone.jpg", "wp-content/plugins/locked.php"}
	for _, p := range paths {
		rec := &SkippedFile{ExportRunID: run.ID, Path: p, Size: 10, Reason: "file vanished", SkippedAt: time.Now()}
		if err := store.AddSkippedFile(rec); err != nil {
			t.Fatalf("AddSkippedFile() failed: %v", err)
		}
		if rec.ID == 0 {
			t.Error("Expected ID to be set after AddSkippedFile")
		}
	}
	if err := store.AddSkippedFile(&SkippedFile{ExportRunID: other.ID, Path: "x", SkippedAt: time.Now()}); err != nil {
		t.Fatalf("AddSkippedFile() failed: %v", err)
	}

	records, err := store.ListSkippedFiles(run.ID)
	if err != nil {
		t.Fatalf("ListSkippedFiles() failed: %v", err)
	}

	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}

	if records[0].Path != paths[0] || records[1].Path != paths[1] {
		t.Errorf("Expected insertion order, got %q, %q", records[0].Path, records[1].Path)
	}

	count, err := store.CountSkippedFiles(run.ID)
	if err != nil {
		t.Fatalf("CountSkippedFiles() failed: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected count 2, got %d", count)
	}
}
