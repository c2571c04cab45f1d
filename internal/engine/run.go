package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/BadgerOps/darbackup/internal/archiver"
	"github.com/BadgerOps/darbackup/internal/artifact"
	"github.com/BadgerOps/darbackup/internal/catalog"
	"github.com/BadgerOps/darbackup/internal/chain"
	"github.com/BadgerOps/darbackup/internal/definition"
	"github.com/BadgerOps/darbackup/internal/safety"
)

// RunRequest is one backup invocation.
type RunRequest struct {
	Identity       safety.Identity
	Type           catalog.BackupType
	Definition     string // empty means definition.DefaultName
	BackupDir      string
	DefinitionsDir string
}

// Report summarizes a successful run.
type Report struct {
	Record    *catalog.Record
	Slices    int
	TotalSize int64
	Engine    string
	Output    string
	Duration  time.Duration
	Progress  RunProgress
}

// run carries the state of one invocation through the state machine.
type run struct {
	m       *BackupManager
	req     RunRequest
	tracker *RunTracker
	base    string
}

func (r *run) failf(kind Kind, err error) *RunError {
	from := r.tracker.fail(kind, err.Error())
	re := &RunError{
		Kind:       kind,
		State:      from,
		Definition: r.req.Definition,
		Type:       r.req.Type,
		Base:       r.base,
		Err:        err,
	}
	r.m.logRunError(re)
	return re
}

// Run takes one backup. It is a single attempt: every failure is returned as
// a *RunError and nothing is retried. The identity is checked before any
// file is read or written.
func (m *BackupManager) Run(ctx context.Context, req RunRequest) (*Report, error) {
	if req.Definition == "" {
		req.Definition = definition.DefaultName
	}
	r := &run{m: m, req: req, tracker: newRunTracker(req.Definition, m.now)}

	// Idle -> IdentityChecked
	if err := req.Identity.Check(); err != nil {
		return nil, r.failf(KindForbidden, err)
	}
	r.tracker.advance(StateIdentityChecked, "")

	t, err := catalog.ParseBackupType(string(req.Type))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	r.req.Type = t
	if req.BackupDir == "" || req.DefinitionsDir == "" {
		return nil, fmt.Errorf("%w: backup and definitions directories are required", ErrInvalidRequest)
	}

	// IdentityChecked -> DefinitionResolved
	def, err := definition.NewStore(req.DefinitionsDir).Resolve(req.Definition)
	if err != nil {
		if errors.Is(err, definition.ErrNotFound) {
			return nil, r.failf(KindDefinitionNotFound, err)
		}
		return nil, r.failf(KindDefinitionInvalid, err)
	}
	r.req.Definition = def.Name
	r.tracker.advance(StateDefinitionResolved, def.Path)

	release, err := m.locker.Acquire(ctx, req.BackupDir, def.Name)
	if err != nil {
		return nil, r.failf(KindCatalogUnavailable, err)
	}
	defer release()

	store, err := m.Store(req.BackupDir)
	if err != nil {
		return nil, r.failf(KindCatalogUnavailable, err)
	}

	// DefinitionResolved -> ChainValidated
	cc, err := chain.Resolve(ctx, store, def.Name, t)
	if err != nil {
		if errors.Is(err, chain.ErrChainBroken) {
			return nil, r.failf(KindChainBroken, err)
		}
		return nil, r.failf(KindCatalogUnavailable, err)
	}
	r.tracker.advance(StateChainValidated, cc.AntecedentRef())

	// Archive names carry the local calendar day; the catalog keeps UTC.
	now := m.now()
	startedAt := now.UTC()
	r.base = artifact.BaseName(def.Name, t, now)
	ext := m.extension()

	existing, err := artifact.Enumerate(req.BackupDir, r.base, ext)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, r.failf(KindArchiveFailed, err)
	}
	if existing != nil && existing.Count() > 0 {
		return nil, r.failf(KindArchiveFailed,
			fmt.Errorf("%w: %d slice(s) of %s in %s", ErrArtifactExists, existing.Count(), r.base, req.BackupDir))
	}

	areq := archiver.Request{
		Definition:         def,
		Type:               t,
		Dir:                req.BackupDir,
		Base:               r.base,
		Extension:          ext,
		ExcludeCacheTagged: m.opts.ExcludeCacheTagged,
	}
	if a := cc.Antecedent; a != nil {
		areq.Antecedent = &archiver.Antecedent{
			Ref:       a.Ref,
			Type:      a.Type,
			Base:      a.ArchiveBase,
			Template:  artifact.Template(req.BackupDir, a.ArchiveBase),
			CreatedAt: a.CreatedAt,
		}
	}

	// ChainValidated -> ArchiveRunning
	r.tracker.advance(StateArchiveRunning, r.base)
	m.logger.Info("starting backup",
		"definition", def.Name,
		"type", t,
		"archive", r.base,
		"antecedent", cc.AntecedentRef(),
		"engine", m.engine.Name(),
	)

	result, err := m.engine.Run(ctx, areq)
	if err != nil {
		m.discardPartial(req.BackupDir, r.base, ext)
		return nil, r.failf(KindArchiveFailed, err)
	}

	set, err := artifact.Enumerate(req.BackupDir, r.base, ext)
	if err != nil {
		return nil, r.failf(KindArchiveFailed, err)
	}
	if err := set.Expect(result.Slices); err != nil {
		m.discardPartial(req.BackupDir, r.base, ext)
		return nil, r.failf(KindArchiveFailed, err)
	}

	rec := &catalog.Record{
		Definition:    def.Name,
		Type:          t,
		Date:          now.Format(artifact.DateLayout),
		CreatedAt:     startedAt,
		ArchiveBase:   r.base,
		SliceCount:    set.Count(),
		TotalSize:     set.TotalSize,
		AntecedentRef: cc.AntecedentRef(),
		Engine:        m.engine.Name(),
		Slices:        set.CatalogSlices(),
	}

	// ArchiveRunning -> CatalogUpdated
	if err := store.Append(ctx, rec); err != nil {
		return nil, r.failf(KindCatalogWriteFailed, err)
	}
	r.tracker.advance(StateCatalogUpdated, rec.Ref)

	// CatalogUpdated -> Done
	r.tracker.advance(StateDone, "")
	m.logger.Info("backup completed",
		"definition", def.Name,
		"type", t,
		"ref", rec.Ref,
		"slices", rec.SliceCount,
		"size", humanize.IBytes(uint64(rec.TotalSize)),
		"duration", result.Duration,
	)

	return &Report{
		Record:    rec,
		Slices:    rec.SliceCount,
		TotalSize: rec.TotalSize,
		Engine:    result.Engine,
		Output:    result.Output,
		Duration:  m.now().Sub(r.tracker.startTime),
		Progress:  r.tracker.Snapshot(),
	}, nil
}

// discardPartial removes the slices a failed archive step left behind. No
// slice of base existed when the run lock was taken, so every one found here
// belongs to this run; removing them lets a retry reuse the name.
func (m *BackupManager) discardPartial(dir, base, ext string) {
	set, err := artifact.Enumerate(dir, base, ext)
	if err != nil || set.Count() == 0 {
		return
	}
	for _, sl := range set.Slices {
		if err := os.Remove(sl.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			m.logger.Warn("failed to remove partial slice", "path", sl.Path, "error", err)
		}
	}
	m.logger.Info("removed partial archive", "archive", base, "slices", set.Count())
}
