package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/BadgerOps/siteexport/internal/config"
	"github.com/BadgerOps/siteexport/internal/engine"
	"github.com/BadgerOps/siteexport/internal/store"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgPath   string
	stateDir  string
	logLevel  string
	logFormat string
	quiet     bool
	globalCfg *config.Config
	logger    *slog.Logger

	// Global components
	globalStore *store.Store
)

// openHistory opens the export history database. History is optional: a
// failure is logged and the export runs without it.
func openHistory() *store.Store {
	if globalStore != nil {
		return globalStore
	}
	path := globalCfg.HistoryPath()
	if err := os.MkdirAll(globalCfg.Export.StateDir, 0o755); err != nil {
		logger.Warn("history disabled", "error", err)
		return nil
	}
	st, err := store.New(path, logger)
	if err != nil {
		logger.Warn("history disabled", "path", path, "error", err)
		return nil
	}
	globalStore = st
	return st
}

// newExporter builds the exporter for the loaded config
func newExporter(withHistory bool) (*engine.Exporter, error) {
	if globalCfg == nil {
		return nil, fmt.Errorf("config not loaded")
	}
	deps := engine.Deps{Logger: logger, Version: version}
	if withHistory {
		deps.History = openHistory()
	}
	exp, err := engine.NewExporter(globalCfg, deps)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize exporter: %w", err)
	}
	return exp, nil
}

// closeStore closes the global store connection
func closeStore() {
	if globalStore != nil {
		if err := globalStore.Close(); err != nil {
			logger.Error("failed to close store", "error", err)
		}
		globalStore = nil
	}
}

// NewRootCmd creates and returns the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "siteexport",
		Short: "Resumable export of a web site's content tree and database",
		Long: `siteexport packs a site's content directory into a single streaming archive,
dumps its SQL database and writes a metadata descriptor. Work is split across
short invocations: each one does as much as its time and memory budget allows,
checkpoints, and exits. Run it repeatedly (cron, a systemd timer, or --loop)
until it reports done.`,
		Example: `  siteexport export
  siteexport export --loop --interval 10s
  siteexport status
  siteexport verify --list
  siteexport history --limit 5
  siteexport reset`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(os.Stderr)

			if shouldSkipConfig(cmd.Name()) {
				return nil
			}

			if cfgPath == "" {
				var err error
				cfgPath, err = config.FindConfigFile()
				if err != nil && cmd.Name() != "init" {
					logger.Warn("config file not found, using defaults", "error", err)
				}
			}

			if cfgPath != "" {
				var err error
				globalCfg, err = config.Load(cfgPath)
				if err != nil {
					return fmt.Errorf("failed to load config: %w", err)
				}
			} else {
				globalCfg = config.DefaultConfig()
			}

			// Override with command-line flags if provided
			if stateDir != "" {
				globalCfg.Export.StateDir = stateDir
			}

			if !quiet {
				logger.Debug("config loaded", "path", cfgPath, "state_dir", globalCfg.Export.StateDir)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			closeStore()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (auto-discovered if not specified)")
	cmd.PersistentFlags().StringVar(&stateDir, "state-dir", "", "override state directory")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text or json)")
	cmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")

	cmd.AddCommand(
		newExportCmd(),
		newStatusCmd(),
		newVerifyCmd(),
		newHistoryCmd(),
		newResetCmd(),
		newConfigCmd(),
	)

	return cmd
}

// setupLogging initializes the slog logger based on flags
func setupLogging(w io.Writer) {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	if quiet && level < slog.LevelError {
		level = slog.LevelError
	}

	var handler slog.Handler
	if strings.ToLower(logFormat) == "json" {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	}

	logger = slog.New(handler)
	slog.SetDefault(logger)
}

// shouldSkipConfig checks if a command should skip config loading
func shouldSkipConfig(cmdName string) bool {
	skipConfigCmds := map[string]bool{
		"help":    true,
		"version": true,
	}
	return skipConfigCmds[cmdName]
}
