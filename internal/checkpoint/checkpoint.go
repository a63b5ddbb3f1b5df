// Package checkpoint persists how far the archive pass has progressed and
// decides when an invocation should stop and hand control back.
package checkpoint

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/BadgerOps/siteexport/internal/safety"
)

// FileName is the checkpoint file inside the state directory.
const FileName = "checkpoint.json"

// Version changes whenever Record or the archive format changes shape.
// Records with another version are discarded on load.
const Version = 1

// Record is the durable resume state of the archive pass.
type Record struct {
	Version            int       `json:"version"`
	ManifestReadOffset int64     `json:"manifest_read_offset"`
	ArchiveWriteOffset int64     `json:"archive_write_offset"`
	FilesProcessed     int64     `json:"files_processed"`
	BytesProcessed     int64     `json:"bytes_processed"`
	SkippedCount       int64     `json:"skipped_count"`
	LastUpdate         time.Time `json:"last_update"`
}

// Store reads and writes the checkpoint file in Dir.
type Store struct {
	Dir string
}

// NewStore returns a Store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{Dir: dir}
}

// Path returns the checkpoint file path.
func (s *Store) Path() string {
	return filepath.Join(s.Dir, FileName)
}

// Load returns the saved record. found is false when there is no checkpoint
// or when it was written by another version, in which case it is removed.
func (s *Store) Load() (rec *Record, found bool, err error) {
	var r Record
	found, err = safety.ReadJSON(s.Path(), &r)
	if err != nil || !found {
		return nil, false, err
	}
	if r.Version != Version {
		if err := s.Delete(); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}
	return &r, true, nil
}

// Save writes rec atomically, stamping version and update time.
func (s *Store) Save(rec *Record) error {
	rec.Version = Version
	rec.LastUpdate = time.Now().UTC()
	if err := safety.WriteJSONAtomic(s.Path(), rec); err != nil {
		return fmt.Errorf("saving checkpoint: %w", err)
	}
	return nil
}

// Delete removes the checkpoint. A missing checkpoint is not an error.
func (s *Store) Delete() error {
	if err := safety.RemoveIfExists(s.Path()); err != nil {
		return fmt.Errorf("deleting checkpoint: %w", err)
	}
	return nil
}
