package main

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/BadgerOps/darbackup/internal/catalog"
	"github.com/BadgerOps/darbackup/internal/definition"
	"github.com/BadgerOps/darbackup/internal/engine"
	"github.com/BadgerOps/darbackup/internal/safety"
)

var (
	runType        string
	runDefinitions []string
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Take a FULL, DIFF or INCR backup",
		Long: `Take one backup of each named definition. A DIFF needs a FULL of the same
definition in the catalog and an INCR needs a FULL or DIFF; otherwise the run
fails with a chain error before anything is archived.

Several definitions given with repeated -d flags run concurrently. Each run
is a single attempt and the exit status reports the first failure.`,
		Example: `  dar-backup run -t FULL
  dar-backup run --type DIFF --backup-definition home
  dar-backup run -t INCR -d home -d etc`,
		Args: cobra.NoArgs,
		RunE: runRun,
	}

	cmd.Flags().StringVarP(&runType, "type", "t", "", "backup type: FULL, DIFF or INCR")
	cmd.Flags().StringArrayVarP(&runDefinitions, "backup-definition", "d", nil,
		"definition to back up, repeatable (default \""+definition.DefaultName+"\")")
	_ = cmd.MarkFlagRequired("type")

	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	log := slog.Default()

	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}
	if globalManager == nil {
		return fmt.Errorf("backup manager not initialized")
	}

	identity, err := safety.CurrentIdentity()
	if err != nil {
		return fmt.Errorf("%w: %w", engine.ErrInvalidRequest, err)
	}

	t, err := catalog.ParseBackupType(runType)
	if err != nil {
		return fmt.Errorf("%w: %w", engine.ErrInvalidRequest, err)
	}

	defs := runDefinitions
	if len(defs) == 0 {
		defs = []string{definition.DefaultName}
	}

	ctx := commandContext(cmd)

	log.Info("backup requested", "type", t, "definitions", defs, "backup_dir", globalCfg.Paths.BackupDir)

	reports := make([]*engine.Report, len(defs))
	errs := make([]error, len(defs))

	// Runs are independent; one failing definition does not cancel the others.
	var g errgroup.Group
	for i, name := range defs {
		g.Go(func() error {
			reports[i], errs[i] = globalManager.Run(ctx, engine.RunRequest{
				Identity:       identity,
				Type:           t,
				Definition:     name,
				BackupDir:      globalCfg.Paths.BackupDir,
				DefinitionsDir: globalCfg.Paths.DefinitionsDir,
			})
			return nil
		})
	}
	_ = g.Wait()

	for i, rep := range reports {
		if rep == nil {
			fmt.Printf("%-20s FAILED  %v\n", defs[i], errs[i])
			continue
		}
		rec := rep.Record
		fmt.Printf("%-20s %-6s %s  %d slice(s), %s, %s\n",
			rec.Definition,
			rec.Type,
			rec.ArchiveBase,
			rep.Slices,
			humanize.IBytes(uint64(rep.TotalSize)),
			rep.Duration.Round(time.Millisecond),
		)
	}

	return errors.Join(errs...)
}
