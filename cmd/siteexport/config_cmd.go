package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/BadgerOps/siteexport/internal/config"
)

var configInitForce bool

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage siteexport configuration. Subcommands show the effective configuration
or write a starter file.`,
		Example: `  siteexport config show
  siteexport config init /etc/siteexport/siteexport.yaml`,
	}

	cmd.AddCommand(
		newConfigShowCmd(),
		newConfigInitCmd(),
	)

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		Long: `Display the current configuration in YAML format. If a config file
is loaded, shows the loaded configuration with any command-line overrides
applied, followed by any validation problems.`,
		Example: `  siteexport config show
  siteexport config show --config /etc/siteexport/siteexport.yaml`,
		RunE: configShowRun,
	}

	return cmd
}

func configShowRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	data, err := yaml.Marshal(globalCfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Current Configuration:")
	fmt.Fprintln(out, "======================")
	fmt.Fprintln(out, string(data))

	if err := globalCfg.Validate(); err != nil {
		fmt.Fprintf(out, "Problems:\n%v\n", err)
	}
	return nil
}

func newConfigInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init [PATH]",
		Short: "Write a starter configuration file",
		Long: `Write the default configuration to PATH (siteexport.yaml when omitted).
Edit database.dsn and source.content_dir before the first export.`,
		Example: `  siteexport config init
  siteexport config init /etc/siteexport/siteexport.yaml --force`,
		Args: cobra.MaximumNArgs(1),
		RunE: configInitRun,
	}

	cmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing file")

	return cmd
}

func configInitRun(cmd *cobra.Command, args []string) error {
	path := "siteexport.yaml"
	if len(args) == 1 {
		path = args[0]
	}
	if _, err := os.Stat(path); err == nil && !configInitForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	data, err := yaml.Marshal(config.DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if !quiet {
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	}
	return nil
}
