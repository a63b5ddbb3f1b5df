// Package manifest holds the durable, ordered list of files to archive. The
// list is written once by Enumerate and then read sequentially, possibly
// across many processes, by seeking to a saved byte offset.
package manifest

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
)

// Entry is one row of the manifest.
type Entry struct {
	AbsPath string
	RelPath string // rooted at the logical root name, slash separated
	Size    int64
	ModTime int64 // unix seconds
}

func (e Entry) record() []string {
	return []string{
		e.AbsPath,
		e.RelPath,
		strconv.FormatInt(e.Size, 10),
		strconv.FormatInt(e.ModTime, 10),
	}
}

func parseRecord(rec []string) (Entry, error) {
	if len(rec) != 4 {
		return Entry{}, fmt.Errorf("manifest row has %d fields, want 4", len(rec))
	}
	size, err := strconv.ParseInt(rec[2], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("parsing size %q: %w", rec[2], err)
	}
	mtime, err := strconv.ParseInt(rec[3], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("parsing mtime %q: %w", rec[3], err)
	}
	return Entry{AbsPath: rec[0], RelPath: rec[1], Size: size, ModTime: mtime}, nil
}

// Writer appends entries to a partial manifest file. Commit makes it visible
// under its final name; until then a crash leaves no usable manifest behind.
type Writer struct {
	f       *os.File
	bw      *bufio.Writer
	cw      *csv.Writer
	path    string
	partial string
	count   int64
}

// NewWriter creates path+".partial" for writing.
func NewWriter(path string) (*Writer, error) {
	partial := path + ".partial"
	f, err := os.Create(partial)
	if err != nil {
		return nil, fmt.Errorf("creating manifest: %w", err)
	}
	bw := bufio.NewWriterSize(f, 64*1024)
	return &Writer{
		f:       f,
		bw:      bw,
		cw:      csv.NewWriter(bw),
		path:    path,
		partial: partial,
	}, nil
}

// Write appends one entry.
func (w *Writer) Write(e Entry) error {
	if err := w.cw.Write(e.record()); err != nil {
		return fmt.Errorf("writing manifest row: %w", err)
	}
	w.count++
	return nil
}

// Count returns the number of rows written.
func (w *Writer) Count() int64 {
	return w.count
}

// Commit flushes, syncs and renames the manifest to its final path.
func (w *Writer) Commit() error {
	w.cw.Flush()
	if err := w.cw.Error(); err != nil {
		_ = w.f.Close()
		return fmt.Errorf("flushing manifest: %w", err)
	}
	if err := w.bw.Flush(); err != nil {
		_ = w.f.Close()
		return fmt.Errorf("flushing manifest: %w", err)
	}
	if err := w.f.Sync(); err != nil {
		_ = w.f.Close()
		return fmt.Errorf("syncing manifest: %w", err)
	}
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("closing manifest: %w", err)
	}
	if err := os.Rename(w.partial, w.path); err != nil {
		return fmt.Errorf("renaming manifest: %w", err)
	}
	return nil
}

// Abort discards the partial manifest.
func (w *Writer) Abort() {
	_ = w.f.Close()
	_ = os.Remove(w.partial)
}

// Reader reads entries sequentially and reports the byte offset of the next
// unread row, which is what a checkpoint stores.
type Reader struct {
	f    *os.File
	cr   *csv.Reader
	base int64
}

// OpenReader opens the manifest at path and seeks to offset.
func OpenReader(path string, offset int64) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening manifest: %w", err)
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("seeking manifest to %d: %w", offset, err)
	}
	cr := csv.NewReader(f)
	cr.FieldsPerRecord = 4
	cr.ReuseRecord = true
	return &Reader{f: f, cr: cr, base: offset}, nil
}

// Next returns the next entry or io.EOF.
func (r *Reader) Next() (Entry, error) {
	rec, err := r.cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Entry{}, io.EOF
		}
		return Entry{}, fmt.Errorf("reading manifest at offset %d: %w", r.Offset(), err)
	}
	return parseRecord(rec)
}

// Offset is the byte position just after the last row returned by Next.
func (r *Reader) Offset() int64 {
	return r.base + r.cr.InputOffset()
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.f.Close()
}
