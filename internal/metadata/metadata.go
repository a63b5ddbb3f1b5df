// Package metadata produces the JSON descriptor that accompanies an export.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
)

// Export carries the facts of one export run into the descriptor.
type Export struct {
	RunID           string    `json:"run_id"`
	StartedAt       time.Time `json:"started_at"`
	ContentDir      string    `json:"content_dir"`
	RootName        string    `json:"root_name"`
	ArchiveFile     string    `json:"archive_file"`
	ArchiveFormat   int       `json:"archive_format_version"`
	DatabaseFile    string    `json:"database_file"`
	DatabaseDialect string    `json:"database_dialect"`
	FilesFound      int64     `json:"files_found"`
	FilesExcluded   int64     `json:"files_excluded"`
	FilesArchived   int64     `json:"files_archived"`
	FilesSkipped    int64     `json:"files_skipped"`
	BytesArchived   int64     `json:"bytes_archived"`
}

// Collector builds the descriptor. The result must be a JSON object.
type Collector interface {
	Collect(ctx context.Context, exp Export) (json.RawMessage, error)
}

// CollectorFunc adapts a function to Collector.
type CollectorFunc func(ctx context.Context, exp Export) (json.RawMessage, error)

// Collect calls f.
func (f CollectorFunc) Collect(ctx context.Context, exp Export) (json.RawMessage, error) {
	return f(ctx, exp)
}

// HostCollector describes the export together with the machine it ran on.
type HostCollector struct {
	Version   string
	OutputDir string
	Logger    *slog.Logger
}

type hostInfo struct {
	Hostname        string `json:"hostname"`
	OS              string `json:"os"`
	Platform        string `json:"platform,omitempty"`
	PlatformVersion string `json:"platform_version,omitempty"`
	KernelVersion   string `json:"kernel_version,omitempty"`
	Arch            string `json:"arch"`
	Virtualization  string `json:"virtualization,omitempty"`
}

type diskInfo struct {
	Path        string  `json:"path"`
	Total       uint64  `json:"total"`
	Free        uint64  `json:"free"`
	UsedPercent float64 `json:"used_percent"`
}

type document struct {
	Generator struct {
		Name      string `json:"name"`
		Version   string `json:"version"`
		GoVersion string `json:"go_version"`
	} `json:"generator"`
	CreatedAt time.Time `json:"created_at"`
	Export    Export    `json:"export"`
	Host      *hostInfo `json:"host,omitempty"`
	Disk      *diskInfo `json:"output_disk,omitempty"`
}

// Collect gathers host and disk facts. Facts the platform cannot report are
// left out rather than failing the export.
func (c *HostCollector) Collect(ctx context.Context, exp Export) (json.RawMessage, error) {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var doc document
	doc.Generator.Name = "siteexport"
	doc.Generator.Version = c.Version
	doc.Generator.GoVersion = runtime.Version()
	doc.CreatedAt = time.Now().UTC()
	doc.Export = exp

	if info, err := host.InfoWithContext(ctx); err == nil {
		doc.Host = &hostInfo{
			Hostname:        info.Hostname,
			OS:              info.OS,
			Platform:        info.Platform,
			PlatformVersion: info.PlatformVersion,
			KernelVersion:   info.KernelVersion,
			Arch:            runtime.GOARCH,
			Virtualization:  info.VirtualizationSystem,
		}
	} else {
		logger.Warn("host info unavailable", "error", err)
	}

	if c.OutputDir != "" {
		if du, err := disk.UsageWithContext(ctx, c.OutputDir); err == nil {
			doc.Disk = &diskInfo{Path: du.Path, Total: du.Total, Free: du.Free, UsedPercent: du.UsedPercent}
		} else {
			logger.Warn("disk usage unavailable", "path", c.OutputDir, "error", err)
		}
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshaling metadata: %w", err)
	}
	return data, nil
}
