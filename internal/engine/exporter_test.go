package engine

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BadgerOps/siteexport/internal/archive"
	"github.com/BadgerOps/siteexport/internal/checkpoint"
	"github.com/BadgerOps/siteexport/internal/config"
	"github.com/BadgerOps/siteexport/internal/dbdump"
	"github.com/BadgerOps/siteexport/internal/manifest"
	"github.com/BadgerOps/siteexport/internal/metadata"
	"github.com/BadgerOps/siteexport/internal/safety"
	"github.com/BadgerOps/siteexport/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestConfig lays out a content tree, a site database and empty output
// and state directories under a temp dir. The budget is unlimited.
func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	content := filepath.Join(root, "wp-content")
	if err := os.MkdirAll(content, 0o755); err != nil {
		t.Fatal(err)
	}

	dbPath := filepath.Join(root, "site.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	for _, stmt := range []string{
		`CREATE TABLE options (name TEXT PRIMARY KEY, value TEXT)`,
		`INSERT INTO options VALUES ('siteurl', 'https://example.test'), ('blogname', 'Example')`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("seeding site db: %v", err)
		}
	}

	cfg := config.DefaultConfig()
	cfg.Source.ContentDir = content
	cfg.Export.OutputDir = filepath.Join(root, "exports")
	cfg.Export.StateDir = filepath.Join(root, "state")
	cfg.Export.TimeBudget = 0
	cfg.Export.MemoryFraction = 0
	cfg.Export.ChunkSize = "4KiB"
	cfg.Database.DSN = dbPath
	cfg.Database.Compression = "none"
	return cfg
}

func writeContent(t *testing.T, cfg *config.Config, rel string, size int) {
	t.Helper()
	p := filepath.Join(cfg.Source.ContentDir, rel)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	data := bytes.Repeat([]byte{byte('a' + len(rel)%26)}, size)
	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

var stubCollector = metadata.CollectorFunc(func(_ context.Context, exp metadata.Export) (json.RawMessage, error) {
	return json.Marshal(map[string]any{"run_id": exp.RunID, "files_archived": exp.FilesArchived})
})

func newTestExporter(t *testing.T, cfg *config.Config, deps Deps) *Exporter {
	t.Helper()
	if deps.Logger == nil {
		deps.Logger = testLogger()
	}
	if deps.Collector == nil {
		deps.Collector = stubCollector
	}
	e, err := NewExporter(cfg, deps)
	if err != nil {
		t.Fatalf("NewExporter() failed: %v", err)
	}
	return e
}

// runUntilDone invokes Run until the export finishes, failing on anything
// other than continue or paused.
func runUntilDone(t *testing.T, e *Exporter, maxInvocations int) []*Outcome {
	t.Helper()
	var outcomes []*Outcome
	for i := 0; i < maxInvocations; i++ {
		out, err := e.Run(context.Background())
		if err != nil {
			t.Fatalf("Run() invocation %d failed: %v", i+1, err)
		}
		outcomes = append(outcomes, out)
		switch out.Signal {
		case SignalDone:
			return outcomes
		case SignalContinue, SignalPaused:
		default:
			t.Fatalf("Run() invocation %d signal = %s", i+1, out.Signal)
		}
	}
	t.Fatalf("export not done after %d invocations", maxInvocations)
	return nil
}

type archivedBlock struct {
	path string
	size int64
}

func readArchive(t *testing.T, path string) []archivedBlock {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var blocks []archivedBlock
	r := archive.NewReader(f)
	for {
		b, err := r.Next()
		if errors.Is(err, io.EOF) {
			return blocks
		}
		if err != nil {
			t.Fatalf("reading archive: %v", err)
		}
		n, err := io.Copy(io.Discard, b.Content)
		if err != nil {
			t.Fatal(err)
		}
		blocks = append(blocks, archivedBlock{path: b.Header.Path(), size: n})
	}
}

func TestExportSingleInvocation(t *testing.T) {
	cfg := newTestConfig(t)
	writeContent(t, cfg, "uploads/empty.txt", 0)
	writeContent(t, cfg, "uploads/ten.txt", 10)
	writeContent(t, cfg, "uploads/big.bin", 2_000_000)
	writeContent(t, cfg, "cache/page.html", 50)

	e := newTestExporter(t, cfg, Deps{})
	outcomes := runUntilDone(t, e, 1)
	rep := outcomes[0].Report

	if rep.Enumeration.FilesFound != 3 || rep.Enumeration.Excluded != 1 {
		t.Errorf("enumeration = %+v, want 3 found, 1 excluded", rep.Enumeration)
	}
	if rep.Content.FilesProcessed != 3 || rep.Content.BytesProcessed != 2_000_010 {
		t.Errorf("content = %+v", rep.Content)
	}
	if rep.Status != StatusDone {
		t.Errorf("status = %q, want done", rep.Status)
	}

	blocks := readArchive(t, rep.Artifacts.Archive)
	if len(blocks) != 3 {
		t.Fatalf("archive has %d blocks, want 3", len(blocks))
	}
	// Blocks follow the manifest, which records files in WalkDir's
	// lexical order.
	want := []archivedBlock{
		{"wp-content/uploads/big.bin", 2_000_000},
		{"wp-content/uploads/empty.txt", 0},
		{"wp-content/uploads/ten.txt", 10},
	}
	for i := range want {
		if blocks[i] != want[i] {
			t.Errorf("block %d = %+v, want %+v", i, blocks[i], want[i])
		}
	}

	size, err := archive.Length(rep.Artifacts.Archive)
	if err != nil {
		t.Fatal(err)
	}
	if size != 3*archive.HeaderSize+2_000_010 {
		t.Errorf("archive length = %d", size)
	}

	if err := dbdump.Verify(rep.DatabaseFile); err != nil {
		t.Errorf("database dump: %v", err)
	}
	var meta map[string]any
	if found, err := safety.ReadJSON(rep.Artifacts.Metadata, &meta); !found || err != nil {
		t.Fatalf("metadata: %v, %v", found, err)
	}
	if meta["run_id"] != rep.RunID {
		t.Errorf("metadata run_id = %v, want %s", meta["run_id"], rep.RunID)
	}

	for _, name := range []string{manifestFileName, checkpoint.FileName, leaseFileName} {
		if _, err := os.Stat(filepath.Join(cfg.Export.StateDir, name)); !os.IsNotExist(err) {
			t.Errorf("%s left behind after finalize", name)
		}
	}
}

func TestExportResumesAcrossInvocations(t *testing.T) {
	cfg := newTestConfig(t)
	for i := 1; i <= 5; i++ {
		writeContent(t, cfg, fmt.Sprintf("uploads/file%d.txt", i), i*1000)
	}

	// Reference archive from an uninterrupted run.
	ref := newTestExporter(t, cfg, Deps{})
	refOut := runUntilDone(t, ref, 1)
	refBytes, err := os.ReadFile(refOut[0].Report.Artifacts.Archive)
	if err != nil {
		t.Fatal(err)
	}
	if err := ref.Reset(false); err != nil {
		t.Fatal(err)
	}

	cfg.Export.MaxFilesPerRun = 2
	e := newTestExporter(t, cfg, Deps{})

	first, err := e.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if first.Signal != SignalPaused || first.PauseReason != checkpoint.ReasonBatch {
		t.Fatalf("first invocation = %s/%s, want paused/batch", first.Signal, first.PauseReason)
	}
	rec := first.Report.Checkpoint
	if rec == nil || rec.FilesProcessed != 2 {
		t.Fatalf("checkpoint = %+v, want 2 files processed", rec)
	}
	length, err := archive.Length(first.Report.Artifacts.Archive)
	if err != nil {
		t.Fatal(err)
	}
	if rec.ArchiveWriteOffset != length {
		t.Errorf("checkpoint offset %d != archive length %d", rec.ArchiveWriteOffset, length)
	}
	status, err := e.Status()
	if err != nil || status.Value != StatusPaused {
		t.Errorf("status = %q, %v", status.Value, err)
	}
	order := manifestOrder(t, e.manifestPath())

	outcomes := runUntilDone(t, e, 5)
	last := outcomes[len(outcomes)-1].Report
	if last.Invocations != 1+len(outcomes) {
		t.Errorf("invocations = %d, want %d", last.Invocations, 1+len(outcomes))
	}
	if last.Content.FilesProcessed != 5 {
		t.Errorf("files processed = %d, want 5", last.Content.FilesProcessed)
	}

	got, err := os.ReadFile(last.Artifacts.Archive)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, refBytes) {
		t.Errorf("resumed archive (%d bytes) differs from uninterrupted archive (%d bytes)", len(got), len(refBytes))
	}

	blocks := readArchive(t, last.Artifacts.Archive)
	if len(blocks) != len(order) {
		t.Fatalf("archive has %d blocks, manifest has %d rows", len(blocks), len(order))
	}
	for i, b := range blocks {
		if b.path != order[i] {
			t.Errorf("block %d = %s, manifest row %d = %s", i, b.path, i, order[i])
		}
	}
}

// manifestOrder returns the relative paths of the manifest rows in order.
func manifestOrder(t *testing.T, path string) []string {
	t.Helper()
	r, err := manifest.OpenReader(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	var paths []string
	for {
		entry, err := r.Next()
		if errors.Is(err, io.EOF) {
			return paths
		}
		if err != nil {
			t.Fatal(err)
		}
		paths = append(paths, entry.RelPath)
	}
}

func TestExportOneFilePerInvocation(t *testing.T) {
	cfg := newTestConfig(t)
	for i := 1; i <= 3; i++ {
		writeContent(t, cfg, fmt.Sprintf("uploads/f%d.txt", i), 5000*i)
	}

	ref := newTestExporter(t, cfg, Deps{})
	refBytes, err := os.ReadFile(runUntilDone(t, ref, 1)[0].Report.Artifacts.Archive)
	if err != nil {
		t.Fatal(err)
	}
	if err := ref.Reset(false); err != nil {
		t.Fatal(err)
	}

	cfg.Export.MaxFilesPerRun = 1
	e := newTestExporter(t, cfg, Deps{})
	outcomes := runUntilDone(t, e, 10)
	// One file per invocation; the last one also runs the remaining steps.
	if len(outcomes) != 3 {
		t.Errorf("took %d invocations, want 3", len(outcomes))
	}
	got, err := os.ReadFile(outcomes[len(outcomes)-1].Report.Artifacts.Archive)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, refBytes) {
		t.Errorf("archive paused after every file (%d bytes) differs from uninterrupted archive (%d bytes)", len(got), len(refBytes))
	}
}

func TestExportTimeBudgetBetweenSteps(t *testing.T) {
	cfg := newTestConfig(t)
	writeContent(t, cfg, "uploads/a.txt", 10)
	cfg.Export.TimeBudget = time.Second

	clock := time.Now()
	now := func() time.Time {
		clock = clock.Add(2 * time.Second)
		return clock
	}
	e := newTestExporter(t, cfg, Deps{Now: now})

	out, err := e.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if out.Signal != SignalContinue || out.PauseReason != checkpoint.ReasonTime {
		t.Fatalf("outcome = %s/%s, want continue/time", out.Signal, out.PauseReason)
	}
	if out.Step != StepContent {
		t.Errorf("step = %s, want content after init", out.Step)
	}
}

func TestExportDatabaseStepSkipsCompleteDump(t *testing.T) {
	cfg := newTestConfig(t)
	writeContent(t, cfg, "uploads/a.txt", 10)
	// Any connection attempt would fail.
	cfg.Database.DSN = filepath.Join(t.TempDir(), "missing", "nowhere.db")

	e := newTestExporter(t, cfg, Deps{})
	artifacts, err := e.PrepareArtifacts()
	if err != nil {
		t.Fatal(err)
	}
	dump := []byte("-- existing dump\nCREATE TABLE t (id INTEGER);\n" + dbdump.TrailerMarker + "\n")
	if err := os.WriteFile(artifacts.Database, dump, 0o644); err != nil {
		t.Fatal(err)
	}
	before, err := os.Stat(artifacts.Database)
	if err != nil {
		t.Fatal(err)
	}

	out := runUntilDone(t, e, 1)[0]
	if out.Report.DatabaseFile != artifacts.Database {
		t.Errorf("database file = %q, want %q", out.Report.DatabaseFile, artifacts.Database)
	}
	after, err := os.Stat(artifacts.Database)
	if err != nil {
		t.Fatal(err)
	}
	if !after.ModTime().Equal(before.ModTime()) || after.Size() != before.Size() {
		t.Error("complete dump was rewritten")
	}
}

func TestExportDatabaseLeaseHeld(t *testing.T) {
	cfg := newTestConfig(t)
	writeContent(t, cfg, "uploads/a.txt", 10)

	if err := os.MkdirAll(cfg.Export.StateDir, 0o755); err != nil {
		t.Fatal(err)
	}
	now := time.Now().UTC()
	lease := dbdump.Lease{Started: now, LastUpdate: now, PID: 1}
	if err := safety.WriteJSONAtomic(filepath.Join(cfg.Export.StateDir, leaseFileName), lease); err != nil {
		t.Fatal(err)
	}

	e := newTestExporter(t, cfg, Deps{})
	out, err := e.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if out.Signal != SignalPaused || out.PauseReason != checkpoint.ReasonLease {
		t.Fatalf("outcome = %s/%s, want paused/lease", out.Signal, out.PauseReason)
	}
	if out.Step != StepDatabase {
		t.Errorf("step = %s, want database", out.Step)
	}
}

func TestRunReentry(t *testing.T) {
	t.Run("done", func(t *testing.T) {
		cfg := newTestConfig(t)
		writeContent(t, cfg, "uploads/a.txt", 10)
		e := newTestExporter(t, cfg, Deps{})
		runUntilDone(t, e, 1)

		out, err := e.Run(context.Background())
		if err != nil || out.Signal != SignalDone {
			t.Errorf("Run() after done = %v, %v", out.Signal, err)
		}
		if out.Report.Invocations != 1 {
			t.Errorf("invocations = %d, want 1", out.Report.Invocations)
		}
	})

	t.Run("error", func(t *testing.T) {
		cfg := newTestConfig(t)
		e := newTestExporter(t, cfg, Deps{})
		if _, err := e.PrepareArtifacts(); err != nil {
			t.Fatal(err)
		}
		if err := e.writeStatus("error: disk full"); err != nil {
			t.Fatal(err)
		}
		out, err := e.Run(context.Background())
		if !errors.Is(err, ErrExportFailed) || out.Signal != SignalError {
			t.Fatalf("Run() = %v, %v", out.Signal, err)
		}
		if !strings.Contains(err.Error(), "disk full") {
			t.Errorf("error %q does not carry the recorded message", err)
		}
	})

	t.Run("busy", func(t *testing.T) {
		cfg := newTestConfig(t)
		e := newTestExporter(t, cfg, Deps{})
		if _, err := e.PrepareArtifacts(); err != nil {
			t.Fatal(err)
		}
		if err := e.writeStatus(StatusExporting); err != nil {
			t.Fatal(err)
		}
		out, err := e.Run(context.Background())
		if err != nil || out.Signal != SignalBusy {
			t.Fatalf("Run() = %v, %v, want busy", out.Signal, err)
		}
		if err := e.Reset(false); !errors.Is(err, ErrBusy) {
			t.Errorf("Reset() while busy = %v, want ErrBusy", err)
		}
	})
}

func TestRunRestartsStuckStep(t *testing.T) {
	cfg := newTestConfig(t)
	for i := 1; i <= 3; i++ {
		writeContent(t, cfg, fmt.Sprintf("uploads/f%d.txt", i), 100)
	}
	cfg.Export.MaxFilesPerRun = 1
	cfg.Export.MaxRetries = 1

	e := newTestExporter(t, cfg, Deps{})
	if out, err := e.Run(context.Background()); err != nil || out.Signal != SignalPaused {
		t.Fatalf("first Run() = %v, %v", out.Signal, err)
	}

	stall := func() {
		t.Helper()
		if err := e.writeStatus(StatusExporting); err != nil {
			t.Fatal(err)
		}
		old := time.Now().Add(-time.Hour)
		if err := os.Chtimes(e.statusPath(), old, old); err != nil {
			t.Fatal(err)
		}
	}

	stall()
	out, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() over stale status: %v", err)
	}
	if out.Report.Retries != 1 {
		t.Errorf("retries = %d, want 1", out.Report.Retries)
	}
	// The content step started over, so only one file is in the archive.
	if out.Report.Checkpoint == nil || out.Report.Checkpoint.FilesProcessed != 1 {
		t.Errorf("checkpoint after restart = %+v, want 1 file", out.Report.Checkpoint)
	}

	stall()
	out, err = e.Run(context.Background())
	if !errors.Is(err, ErrStuck) || out.Signal != SignalError {
		t.Fatalf("Run() past retry limit = %v, %v, want ErrStuck", out.Signal, err)
	}
	status, _ := e.Status()
	if !status.IsError() {
		t.Errorf("status = %q, want error", status.Value)
	}
}

func TestRunLongInvocationIsNotStuck(t *testing.T) {
	cfg := newTestConfig(t)
	for i := 1; i <= 10; i++ {
		writeContent(t, cfg, fmt.Sprintf("uploads/f%02d.txt", i), 100)
	}
	cfg.Export.StaleAfter = 100 * time.Millisecond
	cfg.Export.MemoryFraction = 0.9

	// Every budget check takes 40ms, so the first invocation outlives
	// StaleAfter several times over while it stays in the content step.
	started := make(chan struct{})
	var once sync.Once
	slowMeasure := func() (uint64, uint64, error) {
		once.Do(func() { close(started) })
		time.Sleep(40 * time.Millisecond)
		return 1, 100, nil
	}
	first := newTestExporter(t, cfg, Deps{Probe: slowMeasure})

	type result struct {
		out *Outcome
		err error
	}
	firstDone := make(chan result, 1)
	go func() {
		out, err := first.Run(context.Background())
		firstDone <- result{out, err}
	}()

	<-started
	time.Sleep(150 * time.Millisecond)
	second := newTestExporter(t, cfg, Deps{Probe: func() (uint64, uint64, error) { return 1, 100, nil }})
	out, err := second.Run(context.Background())
	if err != nil || out.Signal != SignalBusy {
		t.Fatalf("concurrent Run() = %v, %v, want busy", out.Signal, err)
	}

	res := <-firstDone
	if res.err != nil || res.out.Signal != SignalDone {
		t.Fatalf("long Run() = %v, %v, want done", res.out.Signal, res.err)
	}
	if res.out.Report.Retries != 0 {
		t.Errorf("retries = %d, want 0", res.out.Report.Retries)
	}
	if blocks := readArchive(t, res.out.Report.Artifacts.Archive); len(blocks) != 10 {
		t.Errorf("archive has %d blocks, want 10", len(blocks))
	}
}

func TestRunOffsetMismatchIsFatal(t *testing.T) {
	cfg := newTestConfig(t)
	for i := 1; i <= 3; i++ {
		writeContent(t, cfg, fmt.Sprintf("uploads/f%d.txt", i), 100)
	}
	cfg.Export.MaxFilesPerRun = 1

	e := newTestExporter(t, cfg, Deps{})
	first, err := e.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	f, err := os.OpenFile(first.Report.Artifacts.Archive, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write([]byte("junk")); err != nil {
		t.Fatal(err)
	}
	f.Close()

	out, err := e.Run(context.Background())
	if !errors.Is(err, archive.ErrOffsetMismatch) || out.Signal != SignalError {
		t.Fatalf("Run() = %v, %v, want ErrOffsetMismatch", out.Signal, err)
	}
	status, _ := e.Status()
	if !status.IsError() {
		t.Errorf("status = %q, want error", status.Value)
	}
}

func TestRunMissingArtifactIsFatal(t *testing.T) {
	cfg := newTestConfig(t)
	writeContent(t, cfg, "uploads/a.txt", 10)

	var archivePath string
	removeArchive := metadata.CollectorFunc(func(_ context.Context, exp metadata.Export) (json.RawMessage, error) {
		if err := os.Remove(archivePath); err != nil {
			return nil, err
		}
		return json.RawMessage(`{"ok":true}`), nil
	})
	e := newTestExporter(t, cfg, Deps{Collector: removeArchive})
	artifacts, err := e.PrepareArtifacts()
	if err != nil {
		t.Fatal(err)
	}
	archivePath = artifacts.Archive

	out, err := e.Run(context.Background())
	if !errors.Is(err, ErrMissingArtifact) || out.Step != StepFinalize {
		t.Fatalf("Run() = %v at %s, want ErrMissingArtifact at finalize", err, out.Step)
	}
}

func TestRunRejectsNonObjectMetadata(t *testing.T) {
	cfg := newTestConfig(t)
	writeContent(t, cfg, "uploads/a.txt", 10)

	list := metadata.CollectorFunc(func(context.Context, metadata.Export) (json.RawMessage, error) {
		return json.RawMessage(`[1,2]`), nil
	})
	e := newTestExporter(t, cfg, Deps{Collector: list})
	out, err := e.Run(context.Background())
	if err == nil || out.Step != StepMetadata {
		t.Fatalf("Run() = %v at %s, want metadata failure", err, out.Step)
	}
	if _, statErr := os.Stat(out.Report.Artifacts.Metadata); !os.IsNotExist(statErr) {
		t.Error("metadata file written for invalid descriptor")
	}
}

func TestRunCancelledContext(t *testing.T) {
	cfg := newTestConfig(t)
	writeContent(t, cfg, "uploads/a.txt", 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := newTestExporter(t, cfg, Deps{})
	out, err := e.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if out.Signal != SignalPaused || out.PauseReason != checkpoint.ReasonCancelled {
		t.Errorf("outcome = %s/%s, want paused/cancelled", out.Signal, out.PauseReason)
	}

	runUntilDone(t, e, 1)
}

func TestExportRecordsHistory(t *testing.T) {
	cfg := newTestConfig(t)
	for i := 1; i <= 3; i++ {
		writeContent(t, cfg, fmt.Sprintf("uploads/f%d.txt", i), 100)
	}
	cfg.Export.MaxFilesPerRun = 1

	history, err := store.New(":memory:", testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer history.Close()

	e := newTestExporter(t, cfg, Deps{History: history})
	if _, err := e.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	// Vanishes between enumeration and archiving.
	if err := os.Remove(filepath.Join(cfg.Source.ContentDir, "uploads", "f3.txt")); err != nil {
		t.Fatal(err)
	}
	outcomes := runUntilDone(t, e, 5)
	rep := outcomes[len(outcomes)-1].Report
	if rep.Content.SkippedCount != 1 || rep.Content.FilesProcessed != 2 {
		t.Errorf("content = %+v, want 2 processed, 1 skipped", rep.Content)
	}

	runs, err := history.ListExportRuns(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Fatalf("history has %d runs, want 1", len(runs))
	}
	run := runs[0]
	if run.RunID != rep.RunID || run.Status != "done" || run.EndTime.IsZero() {
		t.Errorf("history run = %+v", run)
	}
	if run.FilesProcessed != 2 || run.SkippedCount != 1 {
		t.Errorf("history counters = %d/%d", run.FilesProcessed, run.SkippedCount)
	}

	skipped, err := history.ListSkippedFiles(run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(skipped) != 1 || skipped[0].Path != "wp-content/uploads/f3.txt" {
		t.Errorf("skipped files = %+v", skipped)
	}
}

func TestResetStartsNewRun(t *testing.T) {
	cfg := newTestConfig(t)
	writeContent(t, cfg, "uploads/a.txt", 10)

	e := newTestExporter(t, cfg, Deps{})
	first := runUntilDone(t, e, 1)[0].Report
	if err := e.Reset(false); err != nil {
		t.Fatal(err)
	}

	rep, err := e.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	if rep.RunID != "" || rep.Status != "" {
		t.Errorf("snapshot after reset = %+v", rep)
	}
	if _, err := os.Stat(first.Artifacts.Archive); err != nil {
		t.Errorf("reset removed artifact: %v", err)
	}

	second := runUntilDone(t, e, 1)[0].Report
	if second.RunID == first.RunID || second.Artifacts.Archive == first.Artifacts.Archive {
		t.Error("reset did not start a new run")
	}
}

func TestBuildFilterExcludesWorkingDirs(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Export.OutputDir = filepath.Join(cfg.Source.ContentDir, "exports")
	cfg.Exclude.Prefixes = []string{"uploads/tmp"}
	cfg.Exclude.Extensions = []string{"log"}
	f := buildFilter(cfg)

	content := pathForms(cfg.Source.ContentDir)[0]
	tests := []struct {
		path string
		want bool
	}{
		{filepath.Join(content, "exports", "site.archive"), true},
		{filepath.Join(content, "uploads", "tmp", "x.jpg"), true},
		{filepath.Join(content, "uploads", "debug.log"), true},
		{filepath.Join(content, "cache", "x.html"), true},
		{filepath.Join(content, "uploads", "photo.jpg"), false},
	}
	for _, tt := range tests {
		if got := f.IsExcluded(tt.path); got != tt.want {
			t.Errorf("IsExcluded(%s) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
