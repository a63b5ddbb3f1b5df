package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/BadgerOps/siteexport/internal/archive"
	"github.com/BadgerOps/siteexport/internal/checkpoint"
	"github.com/BadgerOps/siteexport/internal/manifest"
)

// stepContent appends manifest entries to the archive until the manifest is
// exhausted or the budget asks for a pause. A pause always leaves a
// checkpoint whose archive offset equals the archive length.
func (e *Exporter) stepContent(ctx context.Context, st *RunState) (checkpoint.Reason, error) {
	rec, resumed, err := e.checkpoints.Load()
	if err != nil {
		return checkpoint.ReasonNone, err
	}

	status := StatusExporting
	if resumed {
		status = StatusResuming
	}
	if err := e.writeStatus(status); err != nil {
		return checkpoint.ReasonNone, err
	}

	opts := archive.Options{ChunkSize: e.chunkSize, Logger: e.logger}
	var w *archive.Writer
	if resumed {
		e.logger.Info("resuming archive",
			"archive_offset", rec.ArchiveWriteOffset, "manifest_offset", rec.ManifestReadOffset,
			"files", rec.FilesProcessed)
		w, err = archive.Resume(st.Artifacts.Archive, rec.ArchiveWriteOffset, opts)
	} else {
		rec = &checkpoint.Record{}
		w, err = archive.Create(st.Artifacts.Archive, opts)
	}
	if err != nil {
		return checkpoint.ReasonNone, err
	}
	defer w.Close()

	r, err := manifest.OpenReader(e.manifestPath(), rec.ManifestReadOffset)
	if err != nil {
		return checkpoint.ReasonNone, fmt.Errorf("opening manifest: %w", err)
	}
	defer r.Close()

	e.tracker.Restore(rec.FilesProcessed, rec.SkippedCount, rec.BytesProcessed)

	processed := 0
	for {
		next := r.Offset()
		entry, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return checkpoint.ReasonNone, err
		}

		// Checked after reading so an exhausted manifest never costs a pause.
		// At least one entry per invocation so a tight budget still advances.
		if processed > 0 {
			if pause, reason := e.budget.ShouldPause(e.invocationStart, processed); pause {
				return reason, e.saveCheckpoint(st, w, next, rec)
			}
		}
		if ctx.Err() != nil {
			return checkpoint.ReasonCancelled, e.saveCheckpoint(st, w, next, rec)
		}

		res := w.AppendFile(entry)
		switch {
		case res.Success:
			content := res.BytesWritten - archive.HeaderSize
			rec.FilesProcessed++
			rec.BytesProcessed += content
			e.tracker.FileArchived(content)
		case errors.Is(res.Err, archive.ErrArchiveCorrupt):
			return checkpoint.ReasonNone, res.Err
		default:
			rec.SkippedCount++
			e.logger.Warn("skipping file", "path", entry.RelPath, "partial_bytes", res.BytesWritten, "error", res.Err)
			e.tracker.FileSkipped(entry.RelPath, entry.Size, res.Err.Error())
			e.recordSkip(st, entry, res.Err)
		}
		processed++
	}

	offset := w.Offset()
	if err := w.Close(); err != nil {
		return checkpoint.ReasonNone, err
	}
	size, err := archive.Length(st.Artifacts.Archive)
	if err != nil {
		return checkpoint.ReasonNone, err
	}
	if size != offset {
		return checkpoint.ReasonNone, fmt.Errorf("%w: writer at %d, file has %d bytes", archive.ErrOffsetMismatch, offset, size)
	}

	st.Content = &ContentSummary{
		FilesProcessed: rec.FilesProcessed,
		BytesProcessed: rec.BytesProcessed,
		SkippedCount:   rec.SkippedCount,
		ArchiveSize:    size,
	}
	if err := e.checkpoints.Delete(); err != nil {
		return checkpoint.ReasonNone, err
	}
	e.logger.Info("archive complete",
		"files", rec.FilesProcessed, "skipped", rec.SkippedCount, "bytes", rec.BytesProcessed, "archive_size", size)

	st.Step = StepDatabase
	return checkpoint.ReasonNone, nil
}

// saveCheckpoint closes the archive and records where the next invocation
// picks up. manifestOffset is the position of the first unprocessed row.
func (e *Exporter) saveCheckpoint(st *RunState, w *archive.Writer, manifestOffset int64, rec *checkpoint.Record) error {
	offset := w.Offset()
	if err := w.Close(); err != nil {
		return err
	}
	size, err := archive.Length(st.Artifacts.Archive)
	if err != nil {
		return err
	}
	if size != offset {
		return fmt.Errorf("%w: writer at %d, file has %d bytes", archive.ErrOffsetMismatch, offset, size)
	}

	rec.ArchiveWriteOffset = size
	rec.ManifestReadOffset = manifestOffset
	if err := e.checkpoints.Save(rec); err != nil {
		return err
	}
	e.tracker.SetMessage(fmt.Sprintf("paused after %d files", rec.FilesProcessed+rec.SkippedCount))
	e.logger.Info("checkpoint saved",
		"archive_offset", size, "manifest_offset", rec.ManifestReadOffset,
		"files", rec.FilesProcessed, "elapsed", e.now().Sub(e.invocationStart).Truncate(time.Millisecond))
	return nil
}
