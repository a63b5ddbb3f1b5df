package engine

import (
	"sync"
	"time"
)

// FileEvent records a skipped file for the recent activity log.
type FileEvent struct {
	Path   string    `json:"path"`
	Status string    `json:"status"` // "skipped"
	Error  string    `json:"error,omitempty"`
	Size   int64     `json:"size,omitempty"`
	At     time.Time `json:"at"`
}

// Progress is a snapshot of the archive pass, safe for JSON serialization.
type Progress struct {
	Step           Step        `json:"step"`
	TotalFiles     int64       `json:"total_files"`
	FilesProcessed int64       `json:"files_processed"`
	SkippedFiles   int64       `json:"skipped_files"`
	TotalBytes     int64       `json:"total_bytes"`
	BytesProcessed int64       `json:"bytes_processed"`
	Percent        float64     `json:"percent"`
	RecentEvents   []FileEvent `json:"recent_events,omitempty"`
	BytesPerSecond int64       `json:"bytes_per_second"`
	StartTime      time.Time   `json:"start_time"`
	Elapsed        string      `json:"elapsed"`
	Message        string      `json:"message,omitempty"`
}

// maxRecentEvents caps the rolling event log.
const maxRecentEvents = 20

// ExportTracker accumulates progress of the current invocation. Counters
// restored from a checkpoint carry over from earlier invocations; the rate is
// measured over this invocation only.
type ExportTracker struct {
	mu sync.Mutex

	step           Step
	totalFiles     int64
	totalBytes     int64
	filesProcessed int64
	skippedFiles   int64
	bytesProcessed int64
	bytesAtStart   int64
	startTime      time.Time
	message        string
	recentEvents   []FileEvent
}

// NewExportTracker creates a tracker starting now.
func NewExportTracker() *ExportTracker {
	return &ExportTracker{startTime: time.Now()}
}

// Snapshot returns a copy of the current progress state.
func (t *ExportTracker) Snapshot() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()

	var pct float64
	if t.totalFiles > 0 {
		pct = float64(t.filesProcessed+t.skippedFiles) / float64(t.totalFiles) * 100
		if pct > 100 {
			pct = 100
		}
	}

	recentEvents := make([]FileEvent, len(t.recentEvents))
	copy(recentEvents, t.recentEvents)

	elapsed := time.Since(t.startTime)
	var bytesPerSecond int64
	if done := t.bytesProcessed - t.bytesAtStart; elapsed > time.Second && done > 0 {
		bytesPerSecond = int64(float64(done) / elapsed.Seconds())
	}

	return Progress{
		Step:           t.step,
		TotalFiles:     t.totalFiles,
		FilesProcessed: t.filesProcessed,
		SkippedFiles:   t.skippedFiles,
		TotalBytes:     t.totalBytes,
		BytesProcessed: t.bytesProcessed,
		Percent:        pct,
		RecentEvents:   recentEvents,
		BytesPerSecond: bytesPerSecond,
		StartTime:      t.startTime,
		Elapsed:        elapsed.Truncate(time.Second).String(),
		Message:        t.message,
	}
}

// SetStep updates the current step.
func (t *ExportTracker) SetStep(step Step) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.step = step
}

// SetTotals sets the file and byte totals from the enumeration.
func (t *ExportTracker) SetTotals(totalFiles, totalBytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalFiles = totalFiles
	t.totalBytes = totalBytes
}

// Restore seeds the counters from a checkpoint.
func (t *ExportTracker) Restore(filesProcessed, skipped, bytesProcessed int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.filesProcessed = filesProcessed
	t.skippedFiles = skipped
	t.bytesProcessed = bytesProcessed
	t.bytesAtStart = bytesProcessed
}

// SetMessage sets a human-readable status message.
func (t *ExportTracker) SetMessage(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.message = msg
}

// addRecentEvent prepends an event to the rolling log. Must be called with t.mu held.
func (t *ExportTracker) addRecentEvent(ev FileEvent) {
	t.recentEvents = append([]FileEvent{ev}, t.recentEvents...)
	if len(t.recentEvents) > maxRecentEvents {
		t.recentEvents = t.recentEvents[:maxRecentEvents]
	}
}

// FileArchived counts a file written to the archive.
func (t *ExportTracker) FileArchived(contentBytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.filesProcessed++
	t.bytesProcessed += contentBytes
}

// FileSkipped counts a file that could not be archived.
func (t *ExportTracker) FileSkipped(path string, size int64, errMsg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.skippedFiles++
	t.addRecentEvent(FileEvent{Path: path, Status: "skipped", Error: errMsg, Size: size, At: time.Now().UTC()})
}
