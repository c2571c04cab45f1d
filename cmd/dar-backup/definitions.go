package main

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/BadgerOps/darbackup/internal/definition"
)

func newDefinitionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "definitions",
		Short: "Inspect backup definitions",
		Long: `Backup definitions are files in the definitions directory, one option per
line, naming what a backup covers. The file name is the definition name.`,
		Example: `  dar-backup definitions list
  dar-backup definitions show home
  dar-backup definitions init`,
	}

	cmd.AddCommand(
		newDefinitionsListCmd(),
		newDefinitionsShowCmd(),
		newDefinitionsInitCmd(),
	)

	return cmd
}

func newDefinitionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List definitions and whether they parse",
		Args:  cobra.NoArgs,
		RunE:  definitionsListRun,
	}
}

func definitionsListRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	defs := definition.NewStore(globalCfg.Paths.DefinitionsDir)
	names, err := defs.List()
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Printf("No definitions in %s.\n", defs.Dir())
		return nil
	}

	fmt.Printf("%-20s %-8s %-10s %10s  %s\n", "Definition", "Valid", "Compress", "Slice", "Roots")
	fmt.Println(strings.Repeat("-", 70))
	for _, name := range names {
		d, err := defs.Resolve(name)
		if err != nil {
			fmt.Printf("%-20s %-8s %v\n", name, "no", err)
			continue
		}
		slice := "-"
		if d.SliceSize > 0 {
			slice = humanize.IBytes(uint64(d.SliceSize))
		}
		fmt.Printf("%-20s %-8s %-10s %10s  %s\n", name, "yes", d.Compression, slice, strings.Join(d.Roots, ", "))
	}
	return nil
}

func newDefinitionsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [NAME]",
		Short: "Show the options a definition passes to the archiver",
		Args:  cobra.MaximumNArgs(1),
		RunE:  definitionsShowRun,
	}
}

func definitionsShowRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	name := definition.DefaultName
	if len(args) == 1 {
		name = args[0]
	}

	d, err := definition.NewStore(globalCfg.Paths.DefinitionsDir).Resolve(name)
	if err != nil {
		return err
	}

	fmt.Printf("Definition:  %s\n", d.Name)
	fmt.Printf("File:        %s\n", d.Path)
	fmt.Printf("Roots:       %s\n", strings.Join(d.Roots, ", "))
	if len(d.Prunes) > 0 {
		fmt.Printf("Pruned:      %s\n", strings.Join(d.Prunes, ", "))
	}
	fmt.Printf("Compression: %s\n", d.Compression)
	if d.SliceSize > 0 {
		fmt.Printf("Slice size:  %s\n", humanize.IBytes(uint64(d.SliceSize)))
	}
	fmt.Printf("Arguments:   %s\n", strings.Join(d.Args(), " "))
	return nil
}

func newDefinitionsInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write the default definition if it does not exist",
		Args:  cobra.NoArgs,
		RunE:  definitionsInitRun,
	}
}

func definitionsInitRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	path, created, err := definition.NewStore(globalCfg.Paths.DefinitionsDir).WriteDefault()
	if err != nil {
		return err
	}
	if created {
		fmt.Printf("Wrote default definition %s\n", path)
	} else {
		fmt.Printf("Default definition %s already exists\n", path)
	}
	return nil
}
