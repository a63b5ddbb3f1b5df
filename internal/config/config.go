package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration
type Config struct {
	Source   SourceConfig   `yaml:"source"`
	Export   ExportConfig   `yaml:"export"`
	Exclude  ExcludeConfig  `yaml:"exclude"`
	Database DatabaseConfig `yaml:"database"`
	History  HistoryConfig  `yaml:"history"`
}

// SourceConfig describes the content tree being exported
type SourceConfig struct {
	ContentDir string `yaml:"content_dir"`
	// RootName prefixes every archived path. Defaults to the base name of
	// ContentDir.
	RootName string `yaml:"root_name"`
}

// ExportConfig holds artifact locations and the per-invocation budget
type ExportConfig struct {
	OutputDir      string        `yaml:"output_dir"`
	StateDir       string        `yaml:"state_dir"`
	TimeBudget     time.Duration `yaml:"time_budget"`
	MemoryLimit    string        `yaml:"memory_limit"`
	MemoryFraction float64       `yaml:"memory_fraction"`
	MaxFilesPerRun int           `yaml:"max_files_per_run"`
	ChunkSize      string        `yaml:"chunk_size"`
	StaleAfter     time.Duration `yaml:"stale_after"`
	MaxRetries     int           `yaml:"max_retries"`
}

// ExcludeConfig adds to the built-in exclusion rules
type ExcludeConfig struct {
	Prefixes   []string `yaml:"prefixes"`
	Extensions []string `yaml:"extensions"`
}

// DatabaseConfig holds database dump settings
type DatabaseConfig struct {
	Driver        string        `yaml:"driver"`
	DSN           string        `yaml:"dsn"`
	PageSize      int           `yaml:"page_size"`
	RowsPerInsert int           `yaml:"rows_per_insert"`
	Compression   string        `yaml:"compression"`
	LeaseTTL      time.Duration `yaml:"lease_ttl"`
}

// HistoryConfig locates the export history database
type HistoryConfig struct {
	DBPath string `yaml:"db_path"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Source: SourceConfig{
			ContentDir: "/var/www/html/wp-content",
		},
		Export: ExportConfig{
			OutputDir:      "/var/lib/siteexport/exports",
			StateDir:       "/var/lib/siteexport/state",
			TimeBudget:     25 * time.Second,
			MemoryFraction: 0.8,
			ChunkSize:      "512KiB",
			StaleAfter:     10 * time.Minute,
			MaxRetries:     3,
		},
		Database: DatabaseConfig{
			Driver:        "sqlite",
			PageSize:      1000,
			RowsPerInsert: 100,
			Compression:   "gzip",
			LeaseTTL:      5 * time.Minute,
		},
	}
}

// Load reads a config file from the given path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// FindConfigFile searches for a config file in standard locations
func FindConfigFile() (string, error) {
	searchPaths := []string{
		"siteexport.yaml",
		"/etc/siteexport/siteexport.yaml",
	}

	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths,
			filepath.Join(home, ".config", "siteexport", "siteexport.yaml"),
		)
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", searchPaths)
}

// Validate reports every problem with the configuration at once
func (c *Config) Validate() error {
	var errs []error

	if c.Source.ContentDir == "" {
		errs = append(errs, errors.New("source.content_dir is required"))
	}
	if c.Export.OutputDir == "" {
		errs = append(errs, errors.New("export.output_dir is required"))
	}
	if c.Export.StateDir == "" {
		errs = append(errs, errors.New("export.state_dir is required"))
	}
	if c.Export.TimeBudget < 0 {
		errs = append(errs, errors.New("export.time_budget must not be negative"))
	}
	if c.Export.StaleAfter < 0 {
		errs = append(errs, errors.New("export.stale_after must not be negative"))
	}
	// A budgeted invocation must yield well before the next trigger could
	// declare it stuck.
	if c.Export.TimeBudget > 0 && c.Export.StaleAfter > 0 && c.Export.TimeBudget >= c.Export.StaleAfter {
		errs = append(errs, fmt.Errorf("export.time_budget %s must be shorter than export.stale_after %s",
			c.Export.TimeBudget, c.Export.StaleAfter))
	}
	if c.Export.MemoryFraction < 0 || c.Export.MemoryFraction > 1 {
		errs = append(errs, fmt.Errorf("export.memory_fraction %v must be between 0 and 1", c.Export.MemoryFraction))
	}
	if _, err := c.MemoryLimitBytes(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.ChunkSizeBytes(); err != nil {
		errs = append(errs, err)
	}
	if c.Export.MaxRetries < 0 {
		errs = append(errs, errors.New("export.max_retries must not be negative"))
	}

	switch strings.ToLower(c.Database.Driver) {
	case "sqlite", "sqlite3", "postgres", "postgresql":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not supported (sqlite, postgres)", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	switch strings.ToLower(c.Database.Compression) {
	case "", "none", "gzip", "zstd", "lz4", "xz":
	default:
		errs = append(errs, fmt.Errorf("database.compression %q is not supported (none, gzip, zstd, lz4, xz)", c.Database.Compression))
	}

	return errors.Join(errs...)
}

// RootName returns the archive path prefix
func (c *Config) RootName() string {
	if c.Source.RootName != "" {
		return c.Source.RootName
	}
	return filepath.Base(filepath.Clean(c.Source.ContentDir))
}

// MemoryLimitBytes parses export.memory_limit. Zero means use total system
// memory.
func (c *Config) MemoryLimitBytes() (uint64, error) {
	if strings.TrimSpace(c.Export.MemoryLimit) == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(c.Export.MemoryLimit)
	if err != nil {
		return 0, fmt.Errorf("export.memory_limit: %w", err)
	}
	return n, nil
}

// ChunkSizeBytes parses export.chunk_size
func (c *Config) ChunkSizeBytes() (int, error) {
	if strings.TrimSpace(c.Export.ChunkSize) == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(c.Export.ChunkSize)
	if err != nil {
		return 0, fmt.Errorf("export.chunk_size: %w", err)
	}
	if n < 4096 || n > 64<<20 {
		return 0, fmt.Errorf("export.chunk_size %s must be between 4KiB and 64MiB", c.Export.ChunkSize)
	}
	return int(n), nil
}

// HistoryPath returns the history database path, defaulting into the state
// directory
func (c *Config) HistoryPath() string {
	if c.History.DBPath != "" {
		return c.History.DBPath
	}
	return filepath.Join(c.Export.StateDir, "history.db")
}
