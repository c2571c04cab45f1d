package main

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/BadgerOps/darbackup/internal/catalog"
)

var statusDefinition string

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Display the backup chain of each definition",
		Long: `Display, per definition, the number of archives in the catalog, their
total size, the latest FULL, DIFF and INCR, and which backup types the
chain accepts next.

Definitions that only exist in the catalog are marked as unconfigured.`,
		Example: `  dar-backup status
  dar-backup status --definition home`,
		Args: cobra.NoArgs,
		RunE: statusRun,
	}

	cmd.Flags().StringVar(&statusDefinition, "definition", "", "only show this definition")

	return cmd
}

func statusRun(cmd *cobra.Command, args []string) error {
	log := slog.Default()

	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}
	if globalManager == nil {
		return fmt.Errorf("backup manager not initialized")
	}

	statuses, err := globalManager.Status(commandContext(cmd), globalCfg.Paths.BackupDir, globalCfg.Paths.DefinitionsDir)
	if err != nil {
		return err
	}
	log.Debug("status request", "definitions", len(statuses))

	now := time.Now()
	printed := 0
	for _, st := range statuses {
		if statusDefinition != "" && st.Definition != statusDefinition {
			continue
		}
		if printed == 0 {
			fmt.Println("Backup Chains")
			fmt.Println("=============")
			fmt.Println("")
			fmt.Printf("%-20s %8s %10s %-14s %-14s %-14s %s\n", "Definition", "Archives", "Size", "Last FULL", "Last DIFF", "Last INCR", "Next")
			fmt.Println(strings.Repeat("-", 100))
		}
		printed++

		name := st.Definition
		if !st.Configured {
			name += " (unconfigured)"
		}
		allowed := make([]string, 0, len(st.Allowed))
		for _, t := range st.Allowed {
			allowed = append(allowed, t.String())
		}

		fmt.Printf("%-20s %8d %10s %-14s %-14s %-14s %s\n",
			name,
			st.Records,
			humanize.IBytes(uint64(st.TotalSize)),
			lastSeen(st.LastFull, now),
			lastSeen(st.LastDiff, now),
			lastSeen(st.LastIncr, now),
			strings.Join(allowed, ","),
		)
	}

	if printed == 0 {
		fmt.Println("No definitions found matching criteria")
		return nil
	}
	fmt.Println("")
	return nil
}

// lastSeen renders the age of a record, or "never".
func lastSeen(rec *catalog.Record, now time.Time) string {
	if rec == nil {
		return "never"
	}
	return humanize.RelTime(rec.CreatedAt, now, "ago", "from now")
}
