package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var resetForce bool

func newResetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Discard the current export's working state",
		Long: `Remove the run state, status, checkpoint, manifest and database lease so the
next 'siteexport export' starts a new run. Artifacts already written to the
output directory are kept.

Refuses while another invocation is working unless --force is given.`,
		Example: `  siteexport reset
  siteexport reset --force`,
		RunE: resetRun,
	}

	cmd.Flags().BoolVar(&resetForce, "force", false, "reset even if an invocation appears to be running")

	return cmd
}

func resetRun(cmd *cobra.Command, args []string) error {
	exp, err := newExporter(false)
	if err != nil {
		return err
	}
	if err := exp.Reset(resetForce); err != nil {
		return fmt.Errorf("failed to reset export: %w", err)
	}
	if !quiet {
		fmt.Fprintln(cmd.OutOrStdout(), "Export state reset")
	}
	return nil
}
