package checkpoint

import (
	"fmt"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// Reason explains why an invocation paused.
type Reason string

const (
	ReasonNone      Reason = ""
	ReasonTime      Reason = "time"
	ReasonMemory    Reason = "memory"
	ReasonBatch     Reason = "batch"
	ReasonLease     Reason = "lease"
	ReasonCancelled Reason = "cancelled"
)

// MemoryProbe reports current memory use and the limit it is measured against.
type MemoryProbe func() (used, limit uint64, err error)

// Budget is the per-invocation resource allowance. Zero fields disable the
// corresponding check.
type Budget struct {
	MaxDuration    time.Duration
	MemoryFraction float64
	MaxFiles       int
	Probe          MemoryProbe
	Now            func() time.Time
}

// ShouldPause reports whether work should stop now, given when the current
// invocation started and how many files it has handled.
func (b *Budget) ShouldPause(startedAt time.Time, filesSinceBatch int) (bool, Reason) {
	if b.MaxFiles > 0 && filesSinceBatch >= b.MaxFiles {
		return true, ReasonBatch
	}
	if b.MaxDuration > 0 && b.now().Sub(startedAt) >= b.MaxDuration {
		return true, ReasonTime
	}
	if b.MemoryFraction > 0 && b.Probe != nil {
		used, limit, err := b.Probe()
		if err == nil && limit > 0 && float64(used) >= b.MemoryFraction*float64(limit) {
			return true, ReasonMemory
		}
	}
	return false, ReasonNone
}

// TimeLeft reports whether the time budget still allows starting more work.
func (b *Budget) TimeLeft(startedAt time.Time) bool {
	return b.MaxDuration <= 0 || b.now().Sub(startedAt) < b.MaxDuration
}

func (b *Budget) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

// ProcessMemoryProbe measures this process's resident set size. When limit
// is zero, total system memory is used as the limit.
func ProcessMemoryProbe(limit uint64) (MemoryProbe, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("inspecting own process: %w", err)
	}
	return func() (uint64, uint64, error) {
		info, err := proc.MemoryInfo()
		if err != nil {
			return 0, 0, err
		}
		l := limit
		if l == 0 {
			vm, err := mem.VirtualMemory()
			if err != nil {
				return 0, 0, err
			}
			l = vm.Total
		}
		return info.RSS, l, nil
	}, nil
}
