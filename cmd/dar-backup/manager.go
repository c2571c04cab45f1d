package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/BadgerOps/darbackup/internal/archiver"
	"github.com/BadgerOps/darbackup/internal/artifact"
	"github.com/BadgerOps/darbackup/internal/catalog"
	"github.com/BadgerOps/darbackup/internal/definition"
	"github.com/BadgerOps/darbackup/internal/engine"
)

var (
	listDefinition string
	listType       string
	listLimit      int
)

func newManagerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manager",
		Short: "Manage the backup catalog",
		Long: `Create, list and audit the catalog that records every archive in the
backup directory.`,
		Example: `  dar-backup manager create-db
  dar-backup manager list --definition home
  dar-backup manager audit
  dar-backup manager contents home_FULL_2026-10-17`,
	}

	cmd.AddCommand(
		newManagerCreateDBCmd(),
		newManagerListCmd(),
		newManagerAuditCmd(),
		newManagerContentsCmd(),
	)

	return cmd
}

func newManagerCreateDBCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create-db",
		Short: "Create the catalog database",
		Long: `Create the catalog database in the backup directory. Running it again
leaves an existing catalog and its records untouched.`,
		Args: cobra.NoArgs,
		RunE: managerCreateDBRun,
	}
}

func managerCreateDBRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	st, err := catalog.CreateOrOpen(globalCfg.Paths.BackupDir, globalCfg.Catalog.Name, logger)
	if err != nil {
		return fmt.Errorf("failed to create catalog: %w", err)
	}
	defer st.Close()

	if st.Created() {
		fmt.Printf("Created catalog %s\n", st.Path())
	} else {
		fmt.Printf("Catalog %s already exists\n", st.Path())
	}
	return nil
}

func newManagerListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List catalog records",
		Long:  `List catalog records in chain order, oldest first.`,
		Example: `  dar-backup manager list
  dar-backup manager list --definition home --type DIFF`,
		Args: cobra.NoArgs,
		RunE: managerListRun,
	}

	cmd.Flags().StringVar(&listDefinition, "definition", "", "only records of this definition")
	cmd.Flags().StringVar(&listType, "type", "", "only records of this type (FULL, DIFF, INCR)")
	cmd.Flags().IntVar(&listLimit, "limit", 0, "maximum number of records (0 for all)")

	return cmd
}

func managerListRun(cmd *cobra.Command, args []string) error {
	if globalManager == nil {
		return fmt.Errorf("backup manager not initialized")
	}

	filter := catalog.ListFilter{Definition: listDefinition, Limit: listLimit}
	if listType != "" {
		t, err := catalog.ParseBackupType(listType)
		if err != nil {
			return fmt.Errorf("%w: %w", engine.ErrInvalidRequest, err)
		}
		filter.Type = t
	}

	st, err := globalManager.OpenExisting(globalCfg.Paths.BackupDir)
	if errors.Is(err, engine.ErrNoCatalog) {
		fmt.Printf("No catalog in %s.\n", globalCfg.Paths.BackupDir)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open catalog: %w", err)
	}
	records, err := st.List(commandContext(cmd), filter)
	if err != nil {
		return err
	}

	if len(records) == 0 {
		fmt.Println("No records found.")
		return nil
	}

	fmt.Printf("%-36s %-16s %-5s %-19s %6s %10s  %s\n", "Ref", "Definition", "Type", "Created", "Slices", "Size", "Antecedent")
	fmt.Println(strings.Repeat("-", 120))
	for _, rec := range records {
		antecedent := rec.AntecedentRef
		if antecedent == "" {
			antecedent = "-"
		}
		fmt.Printf("%-36s %-16s %-5s %-19s %6d %10s  %s\n",
			rec.Ref,
			rec.Definition,
			rec.Type,
			rec.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			rec.SliceCount,
			humanize.IBytes(uint64(rec.TotalSize)),
			antecedent,
		)
	}
	return nil
}

func newManagerAuditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Cross-check the catalog against the backup directory",
		Long: `Validate every chain in the catalog and compare the records with the slice
files on disk. Reports records with missing slices and archives that were
written but never recorded. Nothing is changed; the command fails when
anything needs reconciling.`,
		Args: cobra.NoArgs,
		RunE: managerAuditRun,
	}
}

func managerAuditRun(cmd *cobra.Command, args []string) error {
	log := slog.Default()

	if globalManager == nil {
		return fmt.Errorf("backup manager not initialized")
	}

	report, err := globalManager.Audit(commandContext(cmd), globalCfg.Paths.BackupDir)
	if err != nil {
		return err
	}
	log.Info("audit finished", "definitions", report.Definitions, "records", report.Records)

	fmt.Printf("Audited %d record(s) of %d definition(s) in %s\n", report.Records, report.Definitions, report.BackupDir)
	for _, v := range report.Violations {
		fmt.Printf("  chain    %-16s %s %s: %s\n", v.Definition, v.Type, v.Ref, v.Reason)
	}
	for _, m := range report.Missing {
		fmt.Printf("  missing  %s (%s): %s\n", m.Record.ArchiveBase, m.Record.Ref, m.Reason)
	}
	for _, o := range report.Orphans {
		fmt.Printf("  orphan   %s: %d slice(s), %s, not in catalog\n", o.Base, len(o.Slices), humanize.IBytes(uint64(o.TotalSize)))
	}

	if report.Clean() {
		fmt.Println("Catalog and backup directory agree.")
		return nil
	}
	return fmt.Errorf("audit found %d issue(s)", len(report.Violations)+len(report.Missing)+len(report.Orphans))
}

func newManagerContentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "contents ARCHIVE",
		Short: "List the files in a native archive",
		Long: `List the members of an archive written by the native engine. ARCHIVE is
the base name, for example home_FULL_2026-10-17. Archives written by dar are
listed with "dar -l" instead.`,
		Args: cobra.ExactArgs(1),
		RunE: managerContentsRun,
	}
}

func managerContentsRun(cmd *cobra.Command, args []string) error {
	if globalManager == nil {
		return fmt.Errorf("backup manager not initialized")
	}
	native, ok := globalManager.Engine().(*archiver.Native)
	if !ok {
		return fmt.Errorf("contents needs archiver.engine %q, configured engine is %q",
			archiver.EngineNative, globalManager.Engine().Name())
	}

	base := args[0]
	ext := globalCfg.Archiver.Extension
	name, ok := artifact.ParseName(artifact.SliceName(base, 1, ext), ext)
	if !ok {
		return fmt.Errorf("%w: %q is not an archive base name", engine.ErrInvalidRequest, base)
	}

	// The compression is not recorded in the archive, so it comes from the
	// definition the archive was made from.
	def, err := definition.NewStore(globalCfg.Paths.DefinitionsDir).Resolve(name.Definition)
	if err != nil {
		return err
	}

	entries, err := native.List(commandContext(cmd), globalCfg.Paths.BackupDir, base, ext, def.Compression)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Dir {
			fmt.Printf("%10s  %s  %s/\n", "-", e.ModTime.Local().Format("2006-01-02 15:04"), e.Name)
			continue
		}
		fmt.Printf("%10s  %s  %s\n", humanize.IBytes(uint64(e.Size)), e.ModTime.Local().Format("2006-01-02 15:04"), e.Name)
	}
	return nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if cmd != nil && cmd.Context() != nil {
		return cmd.Context()
	}
	return context.Background()
}
