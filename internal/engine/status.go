package engine

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/BadgerOps/darbackup/internal/catalog"
	"github.com/BadgerOps/darbackup/internal/definition"
)

// ChainStatus summarizes one definition's chain.
type ChainStatus struct {
	Definition string
	// Configured is false for definitions that only exist in the catalog.
	Configured bool
	Records    int
	TotalSize  int64
	LastFull   *catalog.Record
	LastDiff   *catalog.Record
	LastIncr   *catalog.Record
	// Allowed lists the backup types the chain currently accepts.
	Allowed []catalog.BackupType
}

// LastBackup returns the newest record of any type, or nil.
func (s *ChainStatus) LastBackup() *catalog.Record {
	var last *catalog.Record
	for _, r := range []*catalog.Record{s.LastFull, s.LastDiff, s.LastIncr} {
		if r != nil && (last == nil || !r.CreatedAt.Before(last.CreatedAt)) {
			last = r
		}
	}
	return last
}

// Age is the time since the newest record, or zero without records.
func (s *ChainStatus) Age(now time.Time) time.Duration {
	if last := s.LastBackup(); last != nil {
		return now.Sub(last.CreatedAt)
	}
	return 0
}

// Status reports the chain of every definition in the definitions directory
// and in the catalog of backupDir. A backup directory without a catalog has
// no records and is left untouched.
func (m *BackupManager) Status(ctx context.Context, backupDir, definitionsDir string) ([]ChainStatus, error) {
	store, err := m.OpenExisting(backupDir)
	if err != nil && !errors.Is(err, ErrNoCatalog) {
		return nil, err
	}

	configured, err := definition.NewStore(definitionsDir).List()
	if err != nil {
		return nil, err
	}
	var cataloged []string
	if store != nil {
		if cataloged, err = store.Definitions(ctx); err != nil {
			return nil, err
		}
	}

	byName := make(map[string]*ChainStatus)
	for _, name := range configured {
		byName[name] = &ChainStatus{Definition: name, Configured: true}
	}
	for _, name := range cataloged {
		if _, ok := byName[name]; !ok {
			byName[name] = &ChainStatus{Definition: name}
		}
	}

	statuses := make([]ChainStatus, 0, len(byName))
	for _, st := range byName {
		var records []catalog.Record
		if store != nil {
			if records, err = store.List(ctx, catalog.ListFilter{Definition: st.Definition}); err != nil {
				return nil, err
			}
		}
		for i := range records {
			rec := &records[i]
			st.Records++
			st.TotalSize += rec.TotalSize
			switch rec.Type {
			case catalog.TypeFull:
				st.LastFull = rec
			case catalog.TypeDiff:
				st.LastDiff = rec
			case catalog.TypeIncr:
				st.LastIncr = rec
			}
		}
		st.Allowed = []catalog.BackupType{catalog.TypeFull}
		if st.LastFull != nil {
			st.Allowed = append(st.Allowed, catalog.TypeDiff, catalog.TypeIncr)
		}
		statuses = append(statuses, *st)
	}

	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Definition < statuses[j].Definition })
	return statuses, nil
}
