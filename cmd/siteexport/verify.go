package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/BadgerOps/siteexport/internal/archive"
	"github.com/BadgerOps/siteexport/internal/dbdump"
	"github.com/BadgerOps/siteexport/internal/safety"
)

var verifyList bool

func newVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify [PATH...]",
		Short: "Check the framing of an archive and the completeness of a dump",
		Long: `Walk an archive block by block and report truncation or malformed headers,
and check that a database dump (plain or compressed) ends with its completion
trailer. Without arguments the artifacts of the current export are checked.`,
		Example: `  siteexport verify
  siteexport verify --list /var/lib/siteexport/exports/site-1234.archive
  siteexport verify /var/lib/siteexport/exports/database-1234.sql.zst`,
		RunE: verifyRun,
	}

	cmd.Flags().BoolVar(&verifyList, "list", false, "list every archived file")

	return cmd
}

func verifyRun(cmd *cobra.Command, args []string) error {
	paths := args
	if len(paths) == 0 {
		exp, err := newExporter(false)
		if err != nil {
			return err
		}
		rep, err := exp.Snapshot()
		if err != nil {
			return fmt.Errorf("failed to read export state: %w", err)
		}
		if rep.RunID == "" {
			return errors.New("no export in progress; pass the artifact paths")
		}
		paths = append(paths, rep.Artifacts.Archive)
		if rep.DatabaseFile != "" {
			paths = append(paths, rep.DatabaseFile)
		}
	}

	out := cmd.OutOrStdout()
	var failed int
	for _, p := range paths {
		var err error
		if isDumpPath(p) {
			err = dbdump.Verify(p)
			if err == nil {
				fmt.Fprintf(out, "%s: dump complete\n", p)
			}
		} else {
			var sum *archiveSummary
			sum, err = verifyArchive(p, out, verifyList)
			if err == nil {
				fmt.Fprintf(out, "%s: %s files, %s content, %s total\n", p,
					humanize.Comma(sum.Blocks), humanize.IBytes(uint64(sum.ContentBytes)), humanize.IBytes(uint64(sum.Length)))
			}
		}
		if err != nil {
			failed++
			fmt.Fprintf(out, "%s: FAILED: %v\n", p, err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d artifacts failed verification", failed, len(paths))
	}
	return nil
}

func isDumpPath(p string) bool {
	for _, suffix := range []string{".sql", ".sql.gz", ".sql.zst", ".sql.lz4", ".sql.xz"} {
		if strings.HasSuffix(p, suffix) {
			return true
		}
	}
	return false
}

type archiveSummary struct {
	Blocks       int64
	ContentBytes int64
	Length       int64
}

// verifyArchive reads every block of the archive at path. With list set,
// the blocks are written to w as a table.
func verifyArchive(path string, w io.Writer, list bool) (*archiveSummary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var tbl table.Writer
	if list {
		tbl = table.NewWriter()
		tbl.SetOutputMirror(w)
		tbl.SetStyle(table.StyleLight)
		tbl.AppendHeader(table.Row{"Offset", "Path", "Size", "Modified"})
	}

	sum := &archiveSummary{}
	r := archive.NewReader(f)
	for {
		b, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", sum.Blocks+1, err)
		}
		if err := safety.CheckArchivePath(b.Header.Path()); err != nil {
			return nil, fmt.Errorf("block %d: %w", sum.Blocks+1, err)
		}
		n, err := io.Copy(io.Discard, b.Content)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", b.Header.Path(), err)
		}
		if n != b.Header.Size {
			return nil, fmt.Errorf("%w: %s has %d of %d bytes", archive.ErrTruncated, b.Header.Path(), n, b.Header.Size)
		}
		sum.Blocks++
		sum.ContentBytes += n
		if list {
			tbl.AppendRow(table.Row{
				b.Offset,
				b.Header.Path(),
				humanize.IBytes(uint64(b.Header.Size)),
				time.Unix(b.Header.MTime, 0).UTC().Format(time.RFC3339),
			})
		}
	}
	sum.Length = r.Offset()
	if list {
		tbl.AppendFooter(table.Row{"", fmt.Sprintf("Total: %d files", sum.Blocks), humanize.IBytes(uint64(sum.ContentBytes)), ""})
		tbl.Render()
	}
	return sum, nil
}
