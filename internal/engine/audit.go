package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"github.com/BadgerOps/darbackup/internal/artifact"
	"github.com/BadgerOps/darbackup/internal/catalog"
	"github.com/BadgerOps/darbackup/internal/chain"
)

// ChainViolation is a record that breaks its definition's chain.
type ChainViolation struct {
	Definition string
	Ref        string
	Type       catalog.BackupType
	Reason     string
}

// MissingArchive is a catalog record whose slices are not all on disk.
type MissingArchive struct {
	Record catalog.Record
	Found  int
	Reason string
}

// OrphanArchive is a group of slice files without a catalog record, for
// instance the output of a run that failed with CatalogWriteFailed.
type OrphanArchive struct {
	Base      string
	Slices    []string
	TotalSize int64
}

// AuditReport compares a backup directory with its catalog.
type AuditReport struct {
	BackupDir   string
	Definitions int
	Records     int
	Violations  []ChainViolation
	Missing     []MissingArchive
	Orphans     []OrphanArchive
}

// Clean reports whether the audit found nothing to reconcile.
func (r *AuditReport) Clean() bool {
	return len(r.Violations) == 0 && len(r.Missing) == 0 && len(r.Orphans) == 0
}

// Audit checks every chain in the catalog of backupDir and cross-checks the
// slice files on disk. It never modifies the catalog or the archives, and
// never creates a catalog: without one, every archive on disk is an orphan.
func (m *BackupManager) Audit(ctx context.Context, backupDir string) (*AuditReport, error) {
	store, err := m.OpenExisting(backupDir)
	if err != nil && !errors.Is(err, ErrNoCatalog) {
		return nil, err
	}
	ext := m.extension()

	var defs []string
	if store != nil {
		if defs, err = store.Definitions(ctx); err != nil {
			return nil, err
		}
	}

	report := &AuditReport{BackupDir: backupDir, Definitions: len(defs)}
	known := make(map[string]bool)

	for _, def := range defs {
		records, err := store.List(ctx, catalog.ListFilter{Definition: def})
		if err != nil {
			return nil, err
		}
		report.Records += len(records)

		for _, v := range chain.Validate(records) {
			report.Violations = append(report.Violations, ChainViolation{
				Definition: def,
				Ref:        v.Record.Ref,
				Type:       v.Record.Type,
				Reason:     v.Reason,
			})
		}

		for _, rec := range records {
			known[rec.ArchiveBase] = true
			if missing := checkSlices(backupDir, ext, rec); missing != nil {
				report.Missing = append(report.Missing, *missing)
			}
		}
	}

	orphans, err := findOrphans(backupDir, ext, known)
	if err != nil {
		return nil, err
	}
	report.Orphans = orphans

	m.logger.Info("audit completed",
		"backup_dir", backupDir,
		"records", report.Records,
		"violations", len(report.Violations),
		"missing", len(report.Missing),
		"orphans", len(report.Orphans),
	)
	return report, nil
}

func checkSlices(dir, ext string, rec catalog.Record) *MissingArchive {
	set, err := artifact.Enumerate(dir, rec.ArchiveBase, ext)
	if err != nil {
		return &MissingArchive{Record: rec, Reason: err.Error()}
	}
	if err := set.Validate(); err != nil {
		return &MissingArchive{Record: rec, Found: set.Count(), Reason: err.Error()}
	}
	if set.Count() != rec.SliceCount {
		return &MissingArchive{
			Record: rec,
			Found:  set.Count(),
			Reason: fmt.Sprintf("catalog lists %d slice(s), %d on disk", rec.SliceCount, set.Count()),
		}
	}
	return nil
}

func findOrphans(dir, ext string, known map[string]bool) ([]OrphanArchive, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading backup directory: %w", err)
	}

	groups := make(map[string]*OrphanArchive)
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		name, ok := artifact.ParseName(e.Name(), ext)
		if !ok || known[name.Base()] {
			continue
		}
		g, ok := groups[name.Base()]
		if !ok {
			g = &OrphanArchive{Base: name.Base()}
			groups[name.Base()] = g
		}
		g.Slices = append(g.Slices, e.Name())
		if info, err := e.Info(); err == nil {
			g.TotalSize += info.Size()
		}
	}

	orphans := make([]OrphanArchive, 0, len(groups))
	for _, g := range groups {
		sort.Strings(g.Slices)
		orphans = append(orphans, *g)
	}
	sort.Slice(orphans, func(i, j int) bool { return orphans[i].Base < orphans[j].Base })
	return orphans, nil
}
