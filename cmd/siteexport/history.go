package main

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/BadgerOps/siteexport/internal/store"
)

var (
	historyLimit int
	historyRunID string
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List past export runs",
		Long: `List export runs recorded in the history database, newest first. With
--run, show the files that run had to skip.`,
		Example: `  siteexport history
  siteexport history --limit 5
  siteexport history --run 3f9c2a1e-...`,
		RunE: historyRunCmd,
	}

	cmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of runs to show (0 for all)")
	cmd.Flags().StringVar(&historyRunID, "run", "", "show skipped files of this run ID")

	return cmd
}

func historyRunCmd(cmd *cobra.Command, args []string) error {
	st := openHistory()
	if st == nil {
		return fmt.Errorf("history database unavailable at %s", globalCfg.HistoryPath())
	}

	out := cmd.OutOrStdout()
	if historyRunID != "" {
		run, err := st.FindExportRun(historyRunID)
		if err != nil {
			return fmt.Errorf("failed to look up run: %w", err)
		}
		if run == nil {
			return fmt.Errorf("run %s not found", historyRunID)
		}
		skipped, err := st.ListSkippedFiles(run.ID)
		if err != nil {
			return fmt.Errorf("failed to list skipped files: %w", err)
		}
		renderSkipped(out, run, skipped)
		return nil
	}

	runs, err := st.ListExportRuns(historyLimit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	renderRuns(out, runs)
	return nil
}

func renderRuns(w io.Writer, runs []store.ExportRun) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No export runs recorded")
		return
	}

	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(table.StyleLight)
	tbl.AppendHeader(table.Row{"Run", "Started", "Duration", "Status", "Step", "Files", "Size", "Skipped", "Invocations"})

	for _, r := range runs {
		duration := "-"
		if !r.EndTime.IsZero() {
			duration = r.EndTime.Sub(r.StartTime).Round(time.Second).String()
		}
		status := r.Status
		if r.ErrorMessage != "" {
			status += ": " + r.ErrorMessage
		}
		tbl.AppendRow(table.Row{
			shortID(r.RunID),
			r.StartTime.Local().Format("2006-01-02 15:04"),
			duration,
			status,
			r.Step,
			humanize.Comma(r.FilesProcessed),
			humanize.IBytes(uint64(r.BytesProcessed)),
			r.SkippedCount,
			r.Invocations,
		})
	}
	tbl.Render()
}

func renderSkipped(w io.Writer, run *store.ExportRun, files []store.SkippedFile) {
	if len(files) == 0 {
		fmt.Fprintf(w, "Run %s skipped no files\n", run.RunID)
		return
	}

	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(table.StyleLight)
	tbl.SetTitle("Skipped files of " + run.RunID)
	tbl.AppendHeader(table.Row{"Path", "Size", "Reason"})
	for _, f := range files {
		tbl.AppendRow(table.Row{f.Path, humanize.IBytes(uint64(f.Size)), f.Reason})
	}
	tbl.AppendFooter(table.Row{fmt.Sprintf("Total: %d", len(files)), "", ""})
	tbl.Render()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
