package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/BadgerOps/siteexport/internal/engine"
)

var statusJSON bool

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Display the state of the current export",
		Long: `Display the current export: step, status line, progress counters, the
resume checkpoint and the artifact paths. Nothing is modified.`,
		Example: `  siteexport status
  siteexport status --json`,
		RunE: statusRun,
	}

	cmd.Flags().BoolVar(&statusJSON, "json", false, "print the report as JSON")

	return cmd
}

func statusRun(cmd *cobra.Command, args []string) error {
	exp, err := newExporter(false)
	if err != nil {
		return err
	}
	rep, err := exp.Snapshot()
	if err != nil {
		return fmt.Errorf("failed to read export state: %w", err)
	}

	out := cmd.OutOrStdout()
	if statusJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}
	renderStatus(out, rep)
	return nil
}

func renderStatus(w io.Writer, rep *engine.Report) {
	if rep.RunID == "" {
		fmt.Fprintln(w, "No export in progress")
		return
	}

	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(table.StyleLight)
	tbl.SetTitle("Export " + rep.RunID)

	status := rep.Status
	if status == "" {
		status = "not started"
	}
	if !rep.StatusUpdated.IsZero() {
		status += " (" + humanize.Time(rep.StatusUpdated) + ")"
	}
	tbl.AppendRow(table.Row{"Step", rep.Step})
	tbl.AppendRow(table.Row{"Status", status})
	tbl.AppendRow(table.Row{"Started", humanize.Time(rep.StartedAt)})
	tbl.AppendRow(table.Row{"Invocations", rep.Invocations})
	if rep.PauseReason != "" {
		tbl.AppendRow(table.Row{"Pause reason", rep.PauseReason})
	}
	if rep.Retries > 0 {
		tbl.AppendRow(table.Row{"Retries", rep.Retries})
	}

	if e := rep.Enumeration; e != nil {
		tbl.AppendSeparator()
		tbl.AppendRow(table.Row{"Files found", humanize.Comma(e.FilesFound)})
		tbl.AppendRow(table.Row{"Excluded", humanize.Comma(e.Excluded)})
		tbl.AppendRow(table.Row{"Content size", humanize.IBytes(uint64(e.TotalSize))})
	}
	switch {
	case rep.Content != nil:
		tbl.AppendRow(table.Row{"Archived", fmt.Sprintf("%s files, %s", humanize.Comma(rep.Content.FilesProcessed), humanize.IBytes(uint64(rep.Content.BytesProcessed)))})
		tbl.AppendRow(table.Row{"Skipped", humanize.Comma(rep.Content.SkippedCount)})
	case rep.Checkpoint != nil:
		c := rep.Checkpoint
		tbl.AppendRow(table.Row{"Archived", fmt.Sprintf("%s files, %s", humanize.Comma(c.FilesProcessed), humanize.IBytes(uint64(c.BytesProcessed)))})
		tbl.AppendRow(table.Row{"Skipped", humanize.Comma(c.SkippedCount)})
		tbl.AppendRow(table.Row{"Checkpoint", fmt.Sprintf("archive %s, manifest offset %d, %s",
			humanize.IBytes(uint64(c.ArchiveWriteOffset)), c.ManifestReadOffset, humanize.Time(c.LastUpdate))})
	}

	tbl.AppendSeparator()
	tbl.AppendRow(table.Row{"Archive", rep.Artifacts.Archive})
	database := rep.DatabaseFile
	if database == "" {
		database = rep.Artifacts.Database + " (pending)"
	}
	tbl.AppendRow(table.Row{"Database", database})
	tbl.AppendRow(table.Row{"Metadata", rep.Artifacts.Metadata})
	tbl.AppendRow(table.Row{"Log", rep.Artifacts.Log})
	if rep.LastError != "" {
		tbl.AppendSeparator()
		tbl.AppendRow(table.Row{"Last error", rep.LastError})
	}

	tbl.Render()
}
