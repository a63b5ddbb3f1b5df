package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/BadgerOps/siteexport/internal/engine"
)

var (
	exportRestart  bool
	exportLoop     bool
	exportInterval time.Duration
)

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Advance the export by one invocation",
		Long: `Advance the export as far as the configured budget allows, then exit.

Each invocation resumes from the state directory. Run the command again until
it reports done; --loop keeps invoking in-process, waiting --interval after a
pause. A failed export stays failed until 'siteexport reset' or --restart.

Exit status is non-zero only when the export has failed.`,
		Example: `  siteexport export
  siteexport export --loop --interval 10s
  siteexport export --restart`,
		RunE: exportRun,
	}

	cmd.Flags().BoolVar(&exportRestart, "restart", false, "discard the current run's working state and start a new export")
	cmd.Flags().BoolVar(&exportLoop, "loop", false, "keep invoking until the export is done or fails")
	cmd.Flags().DurationVar(&exportInterval, "interval", 5*time.Second, "wait between invocations in --loop mode after a pause")

	return cmd
}

func exportRun(cmd *cobra.Command, args []string) error {
	exp, err := newExporter(true)
	if err != nil {
		return err
	}

	if exportRestart {
		if err := exp.Reset(false); err != nil {
			return fmt.Errorf("failed to reset export: %w", err)
		}
	}

	artifacts, err := exp.PrepareArtifacts()
	if err != nil {
		return fmt.Errorf("failed to prepare export: %w", err)
	}

	logFile := &lumberjack.Logger{
		Filename:   artifacts.Log,
		MaxSize:    100, // MB
		MaxBackups: 3,
	}
	defer logFile.Close()
	setupLogging(io.MultiWriter(os.Stderr, logFile))
	exp.SetLogger(logger)

	return runInvocations(cmd.Context(), exp, cmd.OutOrStdout())
}

func runInvocations(ctx context.Context, exp *engine.Exporter, out io.Writer) error {
	for {
		outcome, err := exp.Run(ctx)
		printOutcome(out, outcome)
		if err != nil {
			return fmt.Errorf("export failed: %w", err)
		}

		var wait time.Duration
		switch outcome.Signal {
		case engine.SignalDone:
			return nil
		case engine.SignalContinue:
			if !exportLoop {
				return nil
			}
		case engine.SignalPaused, engine.SignalBusy:
			if !exportLoop {
				return nil
			}
			wait = exportInterval
		default:
			return fmt.Errorf("export failed at step %s", outcome.Step)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func printOutcome(w io.Writer, o *engine.Outcome) {
	if quiet || o == nil {
		return
	}
	rep := o.Report
	line := fmt.Sprintf("%s at step %s", o.Signal, o.Step)
	if o.PauseReason != "" {
		line += fmt.Sprintf(" (%s)", o.PauseReason)
	}
	if rep != nil && rep.Progress != nil && rep.Progress.TotalFiles > 0 {
		p := rep.Progress
		line += fmt.Sprintf(": %d/%d files, %s of %s",
			p.FilesProcessed+p.SkippedFiles, p.TotalFiles,
			humanize.IBytes(uint64(p.BytesProcessed)), humanize.IBytes(uint64(p.TotalBytes)))
	}
	fmt.Fprintln(w, line)

	if o.Signal == engine.SignalDone && rep != nil {
		fmt.Fprintf(w, "  Archive:  %s\n", rep.Artifacts.Archive)
		fmt.Fprintf(w, "  Database: %s\n", rep.DatabaseFile)
		fmt.Fprintf(w, "  Metadata: %s\n", rep.Artifacts.Metadata)
	}
}
