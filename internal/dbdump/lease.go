package dbdump

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/BadgerOps/siteexport/internal/safety"
)

// ErrLeaseHeld means another dumper holds a fresh lease.
var ErrLeaseHeld = errors.New("database export lease held by another run")

// Lease is the on-disk ownership record of a running dump.
type Lease struct {
	Started    time.Time `json:"started"`
	LastUpdate time.Time `json:"last_update"`
	PID        int       `json:"pid"`
}

// leaseFile guards one dump. Staleness is judged by wall-clock age only; a
// reclaimed lease cannot fence out a writer that was merely slow.
type leaseFile struct {
	path   string
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
	held   *Lease
}

func (l *leaseFile) read() (*Lease, bool, error) {
	var lease Lease
	found, err := safety.ReadJSON(l.path, &lease)
	if err != nil {
		return nil, found, err
	}
	return &lease, found, nil
}

// Acquire takes the lease, reclaiming it when the holder made no progress
// for longer than the TTL.
func (l *leaseFile) Acquire() error {
	existing, found, err := l.read()
	if err != nil && found {
		// Unparseable lease: a writer crashed mid-write. Treat as abandoned.
		l.logger.Warn("discarding unreadable database lease", "path", l.path, "error", err)
		if err := safety.RemoveIfExists(l.path); err != nil {
			return fmt.Errorf("removing unreadable lease: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("reading lease: %w", err)
	} else if found {
		age := l.now().Sub(existing.LastUpdate)
		if age < l.ttl {
			return fmt.Errorf("%w (pid %d, updated %s ago)", ErrLeaseHeld, existing.PID, age.Truncate(time.Second))
		}
		l.logger.Warn("reclaiming stale database lease",
			"pid", existing.PID, "last_update", existing.LastUpdate, "age", age.Truncate(time.Second))
		if err := safety.RemoveIfExists(l.path); err != nil {
			return fmt.Errorf("removing stale lease: %w", err)
		}
	}

	now := l.now().UTC()
	lease := &Lease{Started: now, LastUpdate: now, PID: os.Getpid()}
	data, err := json.Marshal(lease)
	if err != nil {
		return fmt.Errorf("marshaling lease: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%w (created concurrently)", ErrLeaseHeld)
		}
		return fmt.Errorf("creating lease: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(l.path)
		return fmt.Errorf("writing lease: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(l.path)
		return fmt.Errorf("closing lease: %w", err)
	}
	l.held = lease
	return nil
}

// Heartbeat records progress so other runs do not reclaim the lease.
func (l *leaseFile) Heartbeat() error {
	if l.held == nil {
		return nil
	}
	l.held.LastUpdate = l.now().UTC()
	return safety.WriteJSONAtomic(l.path, l.held)
}

// Release removes the lease if this run holds it.
func (l *leaseFile) Release() error {
	if l.held == nil {
		return nil
	}
	l.held = nil
	return safety.RemoveIfExists(l.path)
}
