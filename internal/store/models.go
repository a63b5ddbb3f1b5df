package store

import "time"

// ExportRun records one export from start to its terminal state. A run may
// span many invocations.
type ExportRun struct {
	ID             int64
	RunID          string // matches the run_id in the state file
	StartTime      time.Time
	EndTime        time.Time
	Status         string // "running", "paused", "done", "error"
	Step           string
	Invocations    int
	FilesProcessed int64
	BytesProcessed int64
	SkippedCount   int64
	ExcludedCount  int64
	ArchivePath    string
	DatabasePath   string
	ErrorMessage   string
}

// SkippedFile is a file the archive pass could not include.
type SkippedFile struct {
	ID          int64
	ExportRunID int64
	Path        string // archive-relative
	Size        int64
	Reason      string
	SkippedAt   time.Time
}
