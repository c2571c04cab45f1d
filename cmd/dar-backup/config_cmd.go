package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
		Long: `Inspect dar-backup configuration. Values come from the config file, then
DAR_BACKUP_DIR and DAR_BACKUP_D_DIR, then command-line flags.`,
		Example: `  dar-backup config show
  dar-backup config show --config /etc/dar-backup/dar-backup.yaml`,
	}

	cmd.AddCommand(
		newConfigShowCmd(),
	)

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		Long: `Display the effective configuration in YAML format, with environment and
command-line overrides applied.`,
		Args: cobra.NoArgs,
		RunE: configShowRun,
	}

	return cmd
}

func configShowRun(cmd *cobra.Command, args []string) error {
	log := slog.Default()

	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	log.Debug("showing configuration")

	data, err := yaml.Marshal(globalCfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	fmt.Println("Current Configuration:")
	fmt.Println("======================")
	fmt.Println(string(data))

	return nil
}
