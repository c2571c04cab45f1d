package engine

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BadgerOps/darbackup/internal/archiver"
	"github.com/BadgerOps/darbackup/internal/artifact"
	"github.com/BadgerOps/darbackup/internal/catalog"
	"github.com/BadgerOps/darbackup/internal/runlock"
)

// StoreOpener opens the catalog of a backup directory.
type StoreOpener func(backupDir string) (*catalog.Store, error)

// Options are the installation-wide settings of a BackupManager.
type Options struct {
	// CatalogName is the database file inside each backup directory.
	CatalogName string
	// Extension of slice files; empty means "dar".
	Extension string
	// ExcludeCacheTagged asks the engine to skip tagged cache directories
	// even when the definition does not.
	ExcludeCacheTagged bool
	// LockTimeout bounds the wait for a concurrent run of the same
	// definition; zero waits until the context is done.
	LockTimeout time.Duration
}

// BackupManager runs backups and answers chain queries. It keeps one catalog
// handle per backup directory so in-process runs share its write discipline.
type BackupManager struct {
	engine archiver.Engine
	opts   Options
	logger *slog.Logger
	locker *runlock.Locker
	now    func() time.Time

	openStore StoreOpener

	mu     sync.Mutex
	stores map[string]*catalog.Store
}

// NewBackupManager creates a BackupManager around the archiving engine.
func NewBackupManager(engine archiver.Engine, opts Options, logger *slog.Logger) *BackupManager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &BackupManager{
		engine: engine,
		opts:   opts,
		logger: logger,
		locker: runlock.New(),
		now:    time.Now,
		stores: make(map[string]*catalog.Store),
	}
	m.locker.Timeout = opts.LockTimeout
	m.openStore = func(backupDir string) (*catalog.Store, error) {
		return catalog.CreateOrOpen(backupDir, opts.CatalogName, logger)
	}
	return m
}

// SetStoreOpener replaces how catalogs are opened.
func (m *BackupManager) SetStoreOpener(f StoreOpener) {
	m.openStore = f
}

// SetClock replaces the time source used for record timestamps and names.
func (m *BackupManager) SetClock(now func() time.Time) {
	m.now = now
}

// Engine returns the archiving engine.
func (m *BackupManager) Engine() archiver.Engine {
	return m.engine
}

func storeKey(backupDir string) string {
	if abs, err := filepath.Abs(backupDir); err == nil {
		return abs
	}
	return backupDir
}

// Store returns the cached catalog of backupDir, opening it on first use.
// The backup directory and database are created when absent.
func (m *BackupManager) Store(backupDir string) (*catalog.Store, error) {
	key := storeKey(backupDir)

	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.stores[key]; ok {
		return st, nil
	}
	st, err := m.openStore(key)
	if err != nil {
		return nil, err
	}
	m.stores[key] = st
	return st, nil
}

// OpenExisting returns the catalog of backupDir like Store, but fails with
// ErrNoCatalog instead of creating a directory or database. Readers use it.
func (m *BackupManager) OpenExisting(backupDir string) (*catalog.Store, error) {
	key := storeKey(backupDir)

	m.mu.Lock()
	st, ok := m.stores[key]
	m.mu.Unlock()
	if ok {
		return st, nil
	}

	path := filepath.Join(key, m.catalogName())
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoCatalog, path)
		}
		return nil, fmt.Errorf("checking catalog: %w", err)
	}
	return m.Store(backupDir)
}

// Close closes every catalog opened by the manager.
func (m *BackupManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for key, st := range m.stores {
		if err := st.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(m.stores, key)
	}
	return errors.Join(errs...)
}

func (m *BackupManager) catalogName() string {
	if m.opts.CatalogName == "" {
		return catalog.DefaultName
	}
	return m.opts.CatalogName
}

func (m *BackupManager) extension() string {
	if m.opts.Extension == "" {
		return artifact.DefaultExtension
	}
	return m.opts.Extension
}

func (m *BackupManager) logRunError(err *RunError) {
	attrs := []any{
		"definition", err.Definition,
		"type", err.Type,
		"kind", err.Kind,
		"state", err.State,
		"error", err.Err,
	}
	if err.Kind == KindCatalogWriteFailed {
		m.logger.Error("archive written but not recorded in catalog; reconcile manually",
			append(attrs, "archive", err.Base)...)
		return
	}
	m.logger.Error(fmt.Sprintf("backup failed: %s", err.Kind), attrs...)
}
