package archive

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/BadgerOps/siteexport/internal/manifest"
	"github.com/BadgerOps/siteexport/internal/safety"
)

// DefaultChunkSize is the copy buffer used when Options.ChunkSize is unset.
const DefaultChunkSize = 512 * 1024

var (
	// ErrOffsetMismatch means the archive on disk is not the length the
	// checkpoint recorded. Resuming would duplicate or drop bytes.
	ErrOffsetMismatch = errors.New("archive length does not match checkpoint offset")
	// ErrArchiveCorrupt means a failed block could not be rolled back.
	ErrArchiveCorrupt = errors.New("archive left with a partial block")
)

// Options configures a Writer.
type Options struct {
	ChunkSize int
	Logger    *slog.Logger
}

// Result reports the outcome of one AppendFile call.
type Result struct {
	Success      bool
	BytesWritten int64 // header plus content; partial bytes when Success is false
	Err          error
}

// Writer appends blocks to an archive file. Bytes of completed blocks are
// never rewritten; a failed block is truncated away before the next one.
type Writer struct {
	f      *os.File
	path   string
	offset int64
	buf    []byte
	logger *slog.Logger
}

// Create starts a fresh archive at path, truncating any previous content.
func Create(path string, opts Options) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("creating archive: %w", err)
	}
	return newWriter(f, path, 0, opts), nil
}

// Resume reopens an existing archive and positions the writer at offset.
// The file length must equal offset exactly.
func Resume(path string, offset int64, opts Options) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening archive for resume: %w", err)
	}
	stat, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat archive: %w", err)
	}
	if stat.Size() != offset {
		_ = f.Close()
		return nil, fmt.Errorf("%w: file has %d bytes, checkpoint says %d", ErrOffsetMismatch, stat.Size(), offset)
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("seeking archive: %w", err)
	}
	return newWriter(f, path, offset, opts), nil
}

func newWriter(f *os.File, path string, offset int64, opts Options) *Writer {
	chunk := opts.ChunkSize
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		f:      f,
		path:   path,
		offset: offset,
		buf:    make([]byte, chunk),
		logger: logger,
	}
}

// Offset returns the archive length after the last completed block.
func (w *Writer) Offset() int64 {
	return w.offset
}

// Sync flushes the archive to stable storage.
func (w *Writer) Sync() error {
	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("syncing archive: %w", err)
	}
	return nil
}

// Close syncs and closes the archive file.
func (w *Writer) Close() error {
	if w.f == nil {
		return nil
	}
	syncErr := w.f.Sync()
	closeErr := w.f.Close()
	w.f = nil
	if syncErr != nil {
		return fmt.Errorf("syncing archive: %w", syncErr)
	}
	if closeErr != nil {
		return fmt.Errorf("closing archive: %w", closeErr)
	}
	return nil
}

// AppendFile writes one manifest entry as a block. The file is re-validated
// first and its current size is used. Failures are reported in the Result;
// only a failed rollback (ErrArchiveCorrupt) leaves the archive unusable.
func (w *Writer) AppendFile(entry manifest.Entry) Result {
	if err := safety.CheckArchivePath(entry.RelPath); err != nil {
		return Result{Err: err}
	}
	stat, err := os.Stat(entry.AbsPath)
	if err != nil {
		return Result{Err: fmt.Errorf("stat %s: %w", entry.AbsPath, err)}
	}
	if !stat.Mode().IsRegular() {
		return Result{Err: fmt.Errorf("%s is no longer a regular file", entry.AbsPath)}
	}

	size := stat.Size()
	if size != entry.Size {
		w.logger.Info("file size changed since enumeration",
			"path", entry.RelPath, "enumerated", entry.Size, "current", size)
	}

	hdr, err := EncodeHeader(HeaderFor(entry.RelPath, size, stat.ModTime().Unix()))
	if err != nil {
		return Result{Err: fmt.Errorf("encoding header for %s: %w", entry.RelPath, err)}
	}
	if len(hdr) != HeaderSize {
		return Result{Err: fmt.Errorf("%w: %s", ErrHeaderWidth, entry.RelPath)}
	}

	src, err := os.Open(entry.AbsPath)
	if err != nil {
		return Result{Err: fmt.Errorf("opening %s: %w", entry.AbsPath, err)}
	}
	defer func() {
		_ = src.Close()
	}()

	start := w.offset
	written, err := w.writeBlock(hdr, src, size)
	if err != nil {
		if rbErr := w.rollback(start); rbErr != nil {
			return Result{BytesWritten: written, Err: fmt.Errorf("%w: %v (after %v)", ErrArchiveCorrupt, rbErr, err)}
		}
		return Result{BytesWritten: written, Err: fmt.Errorf("copying %s: %w", entry.RelPath, err)}
	}

	w.offset = start + written
	return Result{Success: true, BytesWritten: written}
}

func (w *Writer) writeBlock(hdr []byte, src io.Reader, size int64) (int64, error) {
	var written int64
	n, err := w.f.Write(hdr)
	written += int64(n)
	if err != nil {
		return written, fmt.Errorf("writing header: %w", err)
	}

	remaining := size
	for remaining > 0 {
		chunk := w.buf
		if int64(len(chunk)) > remaining {
			chunk = chunk[:remaining]
		}
		r, err := io.ReadFull(src, chunk)
		if r > 0 {
			n, werr := w.f.Write(chunk[:r])
			written += int64(n)
			if werr != nil {
				return written, fmt.Errorf("writing content: %w", werr)
			}
		}
		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
				return written, fmt.Errorf("file shrank during copy: %d of %d bytes read", size-remaining+int64(r), size)
			}
			return written, fmt.Errorf("reading content: %w", err)
		}
		remaining -= int64(r)
	}
	return written, nil
}

func (w *Writer) rollback(start int64) error {
	if err := w.f.Truncate(start); err != nil {
		return fmt.Errorf("truncating archive: %w", err)
	}
	if _, err := w.f.Seek(start, io.SeekStart); err != nil {
		return fmt.Errorf("seeking archive: %w", err)
	}
	w.offset = start
	return nil
}

// Length returns the current size of the archive file at path.
func Length(path string) (int64, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return stat.Size(), nil
}
