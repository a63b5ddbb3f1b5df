package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BadgerOps/siteexport/internal/checkpoint"
	"github.com/BadgerOps/siteexport/internal/manifest"
	"github.com/BadgerOps/siteexport/internal/safety"
)

// Step is a stage of the export state machine.
type Step string

const (
	StepInit     Step = "init"
	StepContent  Step = "content"
	StepDatabase Step = "database"
	StepMetadata Step = "metadata"
	StepFinalize Step = "finalize"
	StepDone     Step = "done"
)

// Status values written to the status file.
const (
	StatusStarting           = "starting"
	StatusExporting          = "exporting"
	StatusExportingDatabase  = "exporting_database"
	StatusGeneratingMetadata = "generating_metadata"
	StatusFinalizing         = "finalizing"
	StatusPaused             = "paused"
	StatusResuming           = "resuming"
	StatusDone               = "done"
	statusErrorPrefix        = "error: "
)

// Working file names inside the state directory.
const (
	stateFileName    = "state.json"
	statusFileName   = "status"
	manifestFileName = "manifest.csv"
	leaseFileName    = "db.lock"
)

// Artifacts are the output files of one run. Names are generated once and
// persisted so every invocation and status check refers to the same files.
type Artifacts struct {
	Archive  string `json:"archive"`
	Database string `json:"database"` // plain dump path; the finished file may carry a compression suffix
	Metadata string `json:"metadata"`
	Log      string `json:"log"`
}

// ContentSummary describes a finished archive pass.
type ContentSummary struct {
	FilesProcessed int64 `json:"files_processed"`
	BytesProcessed int64 `json:"bytes_processed"`
	SkippedCount   int64 `json:"skipped_count"`
	ArchiveSize    int64 `json:"archive_size"`
}

// RunState is the durable state of the current export run.
type RunState struct {
	RunID        string            `json:"run_id"`
	Step         Step              `json:"step"`
	StartedAt    time.Time         `json:"started_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	Artifacts    Artifacts         `json:"artifacts"`
	DatabaseFile string            `json:"database_file,omitempty"`
	Enumeration  *manifest.Summary `json:"enumeration,omitempty"`
	Content      *ContentSummary   `json:"content,omitempty"`
	PauseReason  checkpoint.Reason `json:"pause_reason,omitempty"`
	Retries      int               `json:"retries"`
	Invocations  int               `json:"invocations"`
	HistoryID    int64             `json:"history_id,omitempty"`
	LastError    string            `json:"last_error,omitempty"`
}

// StatusInfo is the status file value and when it was written.
type StatusInfo struct {
	Value     string
	UpdatedAt time.Time
}

// IsError reports whether the status is the terminal error state.
func (s StatusInfo) IsError() bool {
	return strings.HasPrefix(s.Value, strings.TrimSpace(statusErrorPrefix))
}

// ErrorMessage returns the message of an error status.
func (s StatusInfo) ErrorMessage() string {
	return strings.TrimSpace(strings.TrimPrefix(s.Value, "error:"))
}

// InProgress reports whether the status claims an invocation is working.
func (s StatusInfo) InProgress() bool {
	switch s.Value {
	case StatusStarting, StatusExporting, StatusExportingDatabase,
		StatusGeneratingMetadata, StatusFinalizing, StatusResuming:
		return true
	}
	return false
}

func newArtifacts(outputDir string) Artifacts {
	name := func(prefix, ext string) string {
		return filepath.Join(outputDir, prefix+"-"+uuid.NewString()+ext)
	}
	return Artifacts{
		Archive:  name("site", ".archive"),
		Database: name("database", ".sql"),
		Metadata: name("metadata", ".json"),
		Log:      name("export", ".log"),
	}
}

func (e *Exporter) statePath() string    { return filepath.Join(e.stateDir, stateFileName) }
func (e *Exporter) statusPath() string   { return filepath.Join(e.stateDir, statusFileName) }
func (e *Exporter) manifestPath() string { return filepath.Join(e.stateDir, manifestFileName) }
func (e *Exporter) leasePath() string    { return filepath.Join(e.stateDir, leaseFileName) }

func (e *Exporter) loadState() (*RunState, bool, error) {
	var st RunState
	found, err := safety.ReadJSON(e.statePath(), &st)
	if err != nil {
		return nil, found, fmt.Errorf("loading run state: %w", err)
	}
	if !found {
		return nil, false, nil
	}
	return &st, true, nil
}

func (e *Exporter) saveState(st *RunState) error {
	st.UpdatedAt = e.now().UTC()
	if err := safety.WriteJSONAtomic(e.statePath(), st); err != nil {
		return fmt.Errorf("saving run state: %w", err)
	}
	return nil
}

func (e *Exporter) readStatus() (StatusInfo, error) {
	data, err := os.ReadFile(e.statusPath())
	if err != nil {
		if os.IsNotExist(err) {
			return StatusInfo{}, nil
		}
		return StatusInfo{}, fmt.Errorf("reading status: %w", err)
	}
	info, err := os.Stat(e.statusPath())
	if err != nil {
		return StatusInfo{}, fmt.Errorf("reading status: %w", err)
	}
	return StatusInfo{Value: strings.TrimSpace(string(data)), UpdatedAt: info.ModTime()}, nil
}

func (e *Exporter) writeStatus(value string) error {
	if err := safety.WriteFileAtomic(e.statusPath(), []byte(value+"\n"), 0o644); err != nil {
		return fmt.Errorf("writing status: %w", err)
	}
	return nil
}

func errorStatus(err error) string {
	msg := strings.Join(strings.Fields(err.Error()), " ")
	return statusErrorPrefix + msg
}
