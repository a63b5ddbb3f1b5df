// Package engine drives an export through its steps: build the manifest,
// write the archive across as many invocations as the budget requires, dump
// the database, write the metadata descriptor and finalize. All coordination
// between invocations goes through files in the state directory.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BadgerOps/siteexport/internal/archive"
	"github.com/BadgerOps/siteexport/internal/checkpoint"
	"github.com/BadgerOps/siteexport/internal/config"
	"github.com/BadgerOps/siteexport/internal/dbdump"
	"github.com/BadgerOps/siteexport/internal/filter"
	"github.com/BadgerOps/siteexport/internal/manifest"
	"github.com/BadgerOps/siteexport/internal/metadata"
	"github.com/BadgerOps/siteexport/internal/safety"
	"github.com/BadgerOps/siteexport/internal/store"
)

// Signal tells the caller what to do after Run returns.
type Signal string

const (
	// SignalContinue: a step finished but the budget is spent; invoke again soon.
	SignalContinue Signal = "continue"
	// SignalPaused: work stopped mid-step; invoke again later.
	SignalPaused Signal = "paused"
	// SignalDone: all artifacts are written.
	SignalDone Signal = "done"
	// SignalBusy: another invocation is working right now.
	SignalBusy Signal = "busy"
	// SignalError: the export failed and needs a reset.
	SignalError Signal = "error"
)

var (
	// ErrMissingArtifact means finalize found an artifact absent.
	ErrMissingArtifact = errors.New("export artifact missing")
	// ErrExportFailed is returned while the status holds a previous failure.
	ErrExportFailed = errors.New("export failed")
	// ErrStuck means a step stayed in progress past its retry allowance.
	ErrStuck = errors.New("export step stuck")
	// ErrBusy means another invocation holds the export.
	ErrBusy = errors.New("export in progress")
)

// defaultStaleAfter applies when the config leaves export.stale_after unset.
const defaultStaleAfter = 10 * time.Minute

// Outcome is the result of one invocation.
type Outcome struct {
	Signal      Signal
	Step        Step
	PauseReason checkpoint.Reason
	Report      *Report
}

// Report describes the export as seen from disk.
type Report struct {
	RunID         string             `json:"run_id,omitempty"`
	Step          Step               `json:"step,omitempty"`
	Status        string             `json:"status"`
	StatusUpdated time.Time          `json:"status_updated,omitempty"`
	StartedAt     time.Time          `json:"started_at,omitempty"`
	Artifacts     Artifacts          `json:"artifacts"`
	DatabaseFile  string             `json:"database_file,omitempty"`
	Enumeration   *manifest.Summary  `json:"enumeration,omitempty"`
	Content       *ContentSummary    `json:"content,omitempty"`
	Checkpoint    *checkpoint.Record `json:"checkpoint,omitempty"`
	PauseReason   checkpoint.Reason  `json:"pause_reason,omitempty"`
	Retries       int                `json:"retries"`
	Invocations   int                `json:"invocations"`
	LastError     string             `json:"last_error,omitempty"`
	Progress      *Progress          `json:"progress,omitempty"`
}

// Deps are the collaborators of an Exporter. Zero values get defaults.
type Deps struct {
	History   *store.Store
	Collector metadata.Collector
	Filter    *filter.Filter
	Probe     checkpoint.MemoryProbe
	Logger    *slog.Logger
	Now       func() time.Time
	Version   string
}

// Exporter runs the export state machine for one site.
type Exporter struct {
	cfg         *config.Config
	stateDir    string
	outputDir   string
	staleAfter  time.Duration
	chunkSize   int
	filter      *filter.Filter
	budget      *checkpoint.Budget
	checkpoints *checkpoint.Store
	collector   metadata.Collector
	history     *store.Store
	tracker     *ExportTracker
	logger      *slog.Logger
	now         func() time.Time
	version     string

	invocationStart time.Time
}

// NewExporter validates cfg and wires the exporter.
func NewExporter(cfg *config.Config, deps Deps) (*Exporter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	chunk, err := cfg.ChunkSizeBytes()
	if err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	e := &Exporter{
		cfg:         cfg,
		stateDir:    cfg.Export.StateDir,
		outputDir:   cfg.Export.OutputDir,
		staleAfter:  cfg.Export.StaleAfter,
		chunkSize:   chunk,
		filter:      deps.Filter,
		checkpoints: checkpoint.NewStore(cfg.Export.StateDir),
		collector:   deps.Collector,
		history:     deps.History,
		tracker:     NewExportTracker(),
		logger:      logger,
		now:         now,
		version:     deps.Version,
	}
	if e.staleAfter <= 0 {
		e.staleAfter = defaultStaleAfter
	}
	if e.filter == nil {
		e.filter = buildFilter(cfg)
	}
	if e.collector == nil {
		e.collector = &metadata.HostCollector{Version: deps.Version, OutputDir: cfg.Export.OutputDir, Logger: logger}
	}

	probe := deps.Probe
	if probe == nil && cfg.Export.MemoryFraction > 0 {
		limit, err := cfg.MemoryLimitBytes()
		if err != nil {
			return nil, err
		}
		probe, err = checkpoint.ProcessMemoryProbe(limit)
		if err != nil {
			logger.Warn("memory budget disabled", "error", err)
		}
	}
	e.budget = &checkpoint.Budget{
		MaxDuration:    cfg.Export.TimeBudget,
		MemoryFraction: cfg.Export.MemoryFraction,
		MaxFiles:       cfg.Export.MaxFilesPerRun,
		Probe:          probe,
		Now:            now,
	}
	return e, nil
}

// SetLogger replaces the logger, e.g. once the run's log artifact is known.
func (e *Exporter) SetLogger(logger *slog.Logger) {
	if logger != nil {
		e.logger = logger
	}
}

// pathForms returns the absolute form of p and, when different, its
// symlink-resolved form. Filter prefixes need both because the walk sees
// canonical paths.
func pathForms(p string) []string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return []string{p}
	}
	forms := []string{abs}
	if real, err := filepath.EvalSymlinks(abs); err == nil && real != abs {
		forms = append(forms, real)
	}
	return forms
}

func buildFilter(cfg *config.Config) *filter.Filter {
	f := filter.New(filter.Rules{})
	contentForms := pathForms(cfg.Source.ContentDir)
	for _, dir := range contentForms {
		rules := filter.DefaultRules(dir)
		for _, p := range rules.Prefixes {
			f.AddPrefix(p)
		}
		for _, p := range cfg.Exclude.Prefixes {
			if filepath.IsAbs(p) {
				f.AddPrefix(p)
				continue
			}
			f.AddPrefix(filepath.Join(dir, p))
		}
	}
	defaults := filter.DefaultRules("")
	for _, ext := range defaults.Extensions {
		f.AddExtension(ext)
	}
	for _, s := range defaults.Suffixes {
		f.AddSuffix(s)
	}
	for _, ext := range cfg.Exclude.Extensions {
		f.AddExtension(ext)
	}
	for _, dir := range []string{cfg.Export.OutputDir, cfg.Export.StateDir} {
		for _, form := range pathForms(dir) {
			f.AddPrefix(form)
		}
	}
	return f
}

// PrepareArtifacts returns the artifact paths of the current run, creating
// and persisting them when no run exists yet.
func (e *Exporter) PrepareArtifacts() (Artifacts, error) {
	st, err := e.ensureState()
	if err != nil {
		return Artifacts{}, err
	}
	return st.Artifacts, nil
}

func (e *Exporter) ensureState() (*RunState, error) {
	for _, dir := range []string{e.stateDir, e.outputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	st, found, err := e.loadState()
	if err != nil {
		return nil, err
	}
	if found && st.RunID != "" && st.Artifacts.Archive != "" {
		return st, nil
	}
	st = &RunState{
		RunID:     uuid.NewString(),
		Step:      StepInit,
		StartedAt: e.now().UTC(),
		Artifacts: newArtifacts(e.outputDir),
	}
	if err := e.saveState(st); err != nil {
		return nil, err
	}
	return st, nil
}

// Run performs one invocation: it advances the export as far as the budget
// allows and reports what the caller should do next. It is safe to call
// repeatedly with the same on-disk state.
func (e *Exporter) Run(ctx context.Context) (*Outcome, error) {
	e.invocationStart = e.now()

	st, err := e.ensureState()
	if err != nil {
		_ = e.writeStatus(errorStatus(err))
		return &Outcome{Signal: SignalError}, err
	}
	status, err := e.readStatus()
	if err != nil {
		return e.fail(st, err)
	}

	switch {
	case status.Value == StatusDone || st.Step == StepDone:
		return e.outcome(st, SignalDone, checkpoint.ReasonNone), nil
	case status.IsError():
		return e.outcome(st, SignalError, checkpoint.ReasonNone),
			fmt.Errorf("%w: %s", ErrExportFailed, status.ErrorMessage())
	case status.InProgress():
		age := e.now().Sub(status.UpdatedAt)
		if age < e.staleAfter {
			e.logger.Info("another invocation is working", "status", status.Value, "age", age.Truncate(time.Second))
			return e.outcome(st, SignalBusy, checkpoint.ReasonNone), nil
		}
		st.Retries++
		if st.Retries > e.cfg.Export.MaxRetries {
			return e.fail(st, fmt.Errorf("%w: %s made no progress for %s after %d restarts",
				ErrStuck, st.Step, age.Truncate(time.Second), st.Retries-1))
		}
		e.logger.Warn("restarting stuck step",
			"step", st.Step, "status", status.Value, "age", age.Truncate(time.Second), "attempt", st.Retries)
		if err := e.restartStep(st); err != nil {
			return e.fail(st, err)
		}
	}

	stop := e.keepAlive()
	defer stop()

	st.Invocations++
	st.PauseReason = checkpoint.ReasonNone
	if st.Enumeration != nil {
		e.tracker.SetTotals(st.Enumeration.FilesFound, st.Enumeration.TotalSize)
	}
	e.logger.Info("export invocation started", "run_id", st.RunID, "step", st.Step, "invocation", st.Invocations)

	for {
		if ctx.Err() != nil {
			return e.pause(st, checkpoint.ReasonCancelled, SignalPaused)
		}
		e.tracker.SetStep(st.Step)

		reason, err := e.runStep(ctx, st)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
				return e.pause(st, checkpoint.ReasonCancelled, SignalPaused)
			}
			return e.fail(st, err)
		}
		if reason != checkpoint.ReasonNone {
			return e.pause(st, reason, SignalPaused)
		}

		st.Retries = 0
		if err := e.saveState(st); err != nil {
			return e.fail(st, err)
		}
		if st.Step == StepDone {
			e.syncHistory(st, "done", "")
			e.logger.Info("export complete", "run_id", st.RunID, "invocations", st.Invocations)
			return e.outcome(st, SignalDone, checkpoint.ReasonNone), nil
		}
		if !e.budget.TimeLeft(e.invocationStart) {
			return e.pause(st, checkpoint.ReasonTime, SignalContinue)
		}
	}
}

// keepAlive refreshes the status file's mtime while this invocation works,
// so a step that outlasts staleAfter is still seen as live. Only a dead
// invocation stops refreshing it. The returned func stops the refresher and
// waits for it.
func (e *Exporter) keepAlive() (stop func()) {
	interval := max(e.staleAfter/4, time.Millisecond)
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				now := time.Now()
				if err := os.Chtimes(e.statusPath(), now, now); err != nil && !os.IsNotExist(err) {
					e.logger.Warn("failed to refresh status", "error", err)
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

func (e *Exporter) runStep(ctx context.Context, st *RunState) (checkpoint.Reason, error) {
	switch st.Step {
	case StepInit:
		return checkpoint.ReasonNone, e.stepInit(ctx, st)
	case StepContent:
		return e.stepContent(ctx, st)
	case StepDatabase:
		return e.stepDatabase(ctx, st)
	case StepMetadata:
		return checkpoint.ReasonNone, e.stepMetadata(ctx, st)
	case StepFinalize:
		return checkpoint.ReasonNone, e.stepFinalize(st)
	}
	return checkpoint.ReasonNone, fmt.Errorf("unknown step %q", st.Step)
}

// restartStep discards the partial work of a step abandoned mid-flight.
func (e *Exporter) restartStep(st *RunState) error {
	switch st.Step {
	case StepInit:
		return manifest.Remove(e.manifestPath())
	case StepContent:
		st.Content = nil
		return e.checkpoints.Delete()
	}
	return nil
}

func (e *Exporter) stepInit(ctx context.Context, st *RunState) error {
	if err := e.writeStatus(StatusStarting); err != nil {
		return err
	}
	if limit, err := raiseFileLimit(); err != nil {
		e.logger.Warn("could not raise open file limit", "limit", limit, "error", err)
	} else {
		e.logger.Debug("open file limit", "limit", limit)
	}
	if err := e.checkpoints.Delete(); err != nil {
		return err
	}
	e.startHistory(st)

	sum, err := manifest.Enumerate(ctx, manifest.EnumerateOptions{
		SourceDir:    e.cfg.Source.ContentDir,
		RootName:     e.cfg.RootName(),
		ManifestPath: e.manifestPath(),
		Filter:       e.filter,
		Logger:       e.logger,
	})
	if err != nil {
		return fmt.Errorf("enumerating content: %w", err)
	}
	st.Enumeration = sum
	e.tracker.SetTotals(sum.FilesFound, sum.TotalSize)
	e.logger.Info("content enumerated",
		"files", sum.FilesFound, "excluded", sum.Excluded, "bytes", sum.TotalSize,
		"errors", sum.Errors, "cached", sum.Cached)

	st.Step = StepContent
	return nil
}

func (e *Exporter) stepDatabase(ctx context.Context, st *RunState) (checkpoint.Reason, error) {
	path, ok, err := dbdump.DetectComplete(st.Artifacts.Database)
	if err != nil {
		return checkpoint.ReasonNone, fmt.Errorf("checking database dump: %w", err)
	}
	if ok {
		e.logger.Info("database dump already complete", "path", path)
		st.DatabaseFile = path
		st.Step = StepMetadata
		return checkpoint.ReasonNone, nil
	}

	if err := e.writeStatus(StatusExportingDatabase); err != nil {
		return checkpoint.ReasonNone, err
	}
	db, dialect, err := dbdump.Open(e.cfg.Database.Driver, e.cfg.Database.DSN)
	if err != nil {
		return checkpoint.ReasonNone, err
	}
	defer db.Close()

	dumper := dbdump.New(db, dialect, dbdump.Options{
		PageSize:      e.cfg.Database.PageSize,
		RowsPerInsert: e.cfg.Database.RowsPerInsert,
		Compression:   e.cfg.Database.Compression,
		LeasePath:     e.leasePath(),
		LeaseTTL:      e.cfg.Database.LeaseTTL,
		Generator:     strings.TrimSpace("siteexport " + e.version),
		Logger:        e.logger,
	})
	stats, err := dumper.Export(ctx, st.Artifacts.Database)
	if errors.Is(err, dbdump.ErrLeaseHeld) {
		// A fresh lease shows the step is alive elsewhere, so it is not stuck.
		st.Retries = 0
		e.logger.Info("database dump owned by another invocation", "detail", err)
		return checkpoint.ReasonLease, nil
	}
	if err != nil {
		return checkpoint.ReasonNone, fmt.Errorf("exporting database: %w", err)
	}

	e.logger.Info("database exported",
		"path", stats.Path, "tables", stats.Tables, "rows", stats.Rows, "bytes", stats.Bytes)
	st.DatabaseFile = stats.Path
	st.Step = StepMetadata
	return checkpoint.ReasonNone, nil
}

func (e *Exporter) stepMetadata(ctx context.Context, st *RunState) error {
	if _, err := os.Stat(st.Artifacts.Metadata); err == nil {
		e.logger.Info("metadata already written", "path", st.Artifacts.Metadata)
		st.Step = StepFinalize
		return nil
	}

	if err := e.writeStatus(StatusGeneratingMetadata); err != nil {
		return err
	}
	raw, err := e.collector.Collect(ctx, e.exportFacts(st))
	if err != nil {
		return fmt.Errorf("collecting metadata: %w", err)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return errors.New("metadata collector did not return a JSON object")
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return fmt.Errorf("formatting metadata: %w", err)
	}
	buf.WriteByte('\n')
	if err := safety.WriteFileAtomic(st.Artifacts.Metadata, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing metadata: %w", err)
	}

	st.Step = StepFinalize
	return nil
}

func (e *Exporter) exportFacts(st *RunState) metadata.Export {
	exp := metadata.Export{
		RunID:           st.RunID,
		StartedAt:       st.StartedAt,
		ContentDir:      e.cfg.Source.ContentDir,
		RootName:        e.cfg.RootName(),
		ArchiveFile:     filepath.Base(st.Artifacts.Archive),
		ArchiveFormat:   archive.FormatVersion,
		DatabaseFile:    filepath.Base(st.DatabaseFile),
		DatabaseDialect: strings.ToLower(e.cfg.Database.Driver),
	}
	if st.Enumeration != nil {
		exp.FilesFound = st.Enumeration.FilesFound
		exp.FilesExcluded = st.Enumeration.Excluded
	}
	if st.Content != nil {
		exp.FilesArchived = st.Content.FilesProcessed
		exp.FilesSkipped = st.Content.SkippedCount
		exp.BytesArchived = st.Content.BytesProcessed
	}
	return exp
}

func (e *Exporter) stepFinalize(st *RunState) error {
	if err := e.writeStatus(StatusFinalizing); err != nil {
		return err
	}
	for _, p := range []string{st.Artifacts.Archive, st.DatabaseFile, st.Artifacts.Metadata} {
		if p == "" {
			return fmt.Errorf("%w: database dump was never recorded", ErrMissingArtifact)
		}
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("%w: %s", ErrMissingArtifact, p)
		}
	}
	if err := e.checkpoints.Delete(); err != nil {
		return err
	}
	if err := manifest.Remove(e.manifestPath()); err != nil {
		return fmt.Errorf("removing manifest: %w", err)
	}
	st.Step = StepDone
	return e.writeStatus(StatusDone)
}

func (e *Exporter) pause(st *RunState, reason checkpoint.Reason, signal Signal) (*Outcome, error) {
	st.PauseReason = reason
	if err := e.writeStatus(StatusPaused); err != nil {
		return e.fail(st, err)
	}
	if err := e.saveState(st); err != nil {
		return e.fail(st, err)
	}
	e.syncHistory(st, "paused", "")
	e.logger.Info("export paused", "step", st.Step, "reason", reason, "signal", signal)
	return e.outcome(st, signal, reason), nil
}

func (e *Exporter) fail(st *RunState, err error) (*Outcome, error) {
	e.logger.Error("export failed", "step", st.Step, "error", err)
	if werr := e.writeStatus(errorStatus(err)); werr != nil {
		e.logger.Error("could not record failure", "error", werr)
	}
	st.LastError = err.Error()
	if serr := e.saveState(st); serr != nil {
		e.logger.Error("could not save run state", "error", serr)
	}
	e.syncHistory(st, "error", err.Error())
	return e.outcome(st, SignalError, checkpoint.ReasonNone), err
}

func (e *Exporter) outcome(st *RunState, signal Signal, reason checkpoint.Reason) *Outcome {
	rep := e.report(st)
	progress := e.tracker.Snapshot()
	rep.Progress = &progress
	return &Outcome{Signal: signal, Step: st.Step, PauseReason: reason, Report: rep}
}

func (e *Exporter) report(st *RunState) *Report {
	rep := &Report{}
	if status, err := e.readStatus(); err == nil {
		rep.Status = status.Value
		rep.StatusUpdated = status.UpdatedAt
	}
	if rec, found, err := e.checkpoints.Load(); err == nil && found {
		rep.Checkpoint = rec
	}
	if st == nil {
		return rep
	}
	rep.RunID = st.RunID
	rep.Step = st.Step
	rep.StartedAt = st.StartedAt
	rep.Artifacts = st.Artifacts
	rep.DatabaseFile = st.DatabaseFile
	rep.Enumeration = st.Enumeration
	rep.Content = st.Content
	rep.PauseReason = st.PauseReason
	rep.Retries = st.Retries
	rep.Invocations = st.Invocations
	rep.LastError = st.LastError
	return rep
}

// Snapshot reports the export state without doing any work.
func (e *Exporter) Snapshot() (*Report, error) {
	st, _, err := e.loadState()
	if err != nil {
		return nil, err
	}
	return e.report(st), nil
}

// Status returns the status file value.
func (e *Exporter) Status() (StatusInfo, error) {
	return e.readStatus()
}

// Reset discards the working state so the next Run starts a new export.
// Artifacts already written are left in the output directory. Without force
// it refuses while another invocation is working.
func (e *Exporter) Reset(force bool) error {
	status, err := e.readStatus()
	if err != nil {
		return err
	}
	if !force && status.InProgress() && e.now().Sub(status.UpdatedAt) < e.staleAfter {
		return fmt.Errorf("%w: status %s", ErrBusy, status.Value)
	}
	if err := manifest.Remove(e.manifestPath()); err != nil {
		return fmt.Errorf("removing manifest: %w", err)
	}
	if err := e.checkpoints.Delete(); err != nil {
		return err
	}
	for _, p := range []string{e.leasePath(), e.statePath(), e.statusPath()} {
		if err := safety.RemoveIfExists(p); err != nil {
			return fmt.Errorf("removing %s: %w", filepath.Base(p), err)
		}
	}
	e.logger.Info("export state reset", "state_dir", e.stateDir)
	return nil
}

func (e *Exporter) startHistory(st *RunState) {
	if e.history == nil || st.HistoryID != 0 {
		return
	}
	existing, err := e.history.FindExportRun(st.RunID)
	if err != nil {
		e.logger.Warn("history lookup failed", "error", err)
		return
	}
	if existing != nil {
		st.HistoryID = existing.ID
		return
	}
	run := &store.ExportRun{
		RunID:        st.RunID,
		StartTime:    st.StartedAt,
		Status:       "running",
		Step:         string(st.Step),
		Invocations:  st.Invocations,
		ArchivePath:  st.Artifacts.Archive,
		DatabasePath: st.Artifacts.Database,
	}
	if err := e.history.CreateExportRun(run); err != nil {
		e.logger.Warn("could not record export run", "error", err)
		return
	}
	st.HistoryID = run.ID
}

func (e *Exporter) syncHistory(st *RunState, status, errMsg string) {
	if e.history == nil || st.HistoryID == 0 {
		return
	}
	run, err := e.history.GetExportRun(st.HistoryID)
	if err != nil {
		e.logger.Warn("history lookup failed", "error", err)
		return
	}
	run.Status = status
	run.Step = string(st.Step)
	run.Invocations = st.Invocations
	run.ErrorMessage = errMsg
	if st.Enumeration != nil {
		run.ExcludedCount = st.Enumeration.Excluded
	}
	if st.Content != nil {
		run.FilesProcessed = st.Content.FilesProcessed
		run.BytesProcessed = st.Content.BytesProcessed
		run.SkippedCount = st.Content.SkippedCount
	} else if rec, found, err := e.checkpoints.Load(); err == nil && found {
		run.FilesProcessed = rec.FilesProcessed
		run.BytesProcessed = rec.BytesProcessed
		run.SkippedCount = rec.SkippedCount
	}
	if st.DatabaseFile != "" {
		run.DatabasePath = st.DatabaseFile
	}
	if status == "done" || status == "error" {
		run.EndTime = e.now().UTC()
	}
	if err := e.history.UpdateExportRun(run); err != nil {
		e.logger.Warn("could not update export run", "error", err)
	}
}

func (e *Exporter) recordSkip(st *RunState, entry manifest.Entry, cause error) {
	if e.history == nil || st.HistoryID == 0 {
		return
	}
	rec := &store.SkippedFile{
		ExportRunID: st.HistoryID,
		Path:        entry.RelPath,
		Size:        entry.Size,
		Reason:      cause.Error(),
		SkippedAt:   e.now().UTC(),
	}
	if err := e.history.AddSkippedFile(rec); err != nil {
		e.logger.Warn("could not record skipped file", "path", entry.RelPath, "error", err)
	}
}
