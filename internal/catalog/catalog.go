package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// DefaultName is the catalog file created inside a backup directory.
const DefaultName = "dar-backup.db"

var (
	// ErrNoRecord is returned by queries that found no matching record.
	ErrNoRecord = errors.New("no matching backup record")
	// ErrWriteFailed wraps every failure of Append. Nothing was committed.
	ErrWriteFailed = errors.New("catalog write failed")
	// ErrStaleAntecedent means a newer qualifying record was committed after
	// the caller resolved its chain state.
	ErrStaleAntecedent = errors.New("antecedent is no longer the latest qualifying record")
	// ErrNonMonotonic means the record is older than the definition's latest record.
	ErrNonMonotonic = errors.New("record timestamp precedes latest record for definition")
)

// Store is the SQLite-backed catalog of one backup directory.
type Store struct {
	db      *sql.DB
	logger  *slog.Logger
	path    string
	created bool
}

// CreateOrOpen opens the catalog inside backupDir, creating the directory and
// database when absent. Existing records are never touched.
func CreateOrOpen(backupDir, name string, logger *slog.Logger) (*Store, error) {
	if name == "" {
		name = DefaultName
	}
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}
	return Open(filepath.Join(backupDir, name), logger)
}

// Open opens (or creates) the catalog database at dbPath and runs migrations.
// ":memory:" yields a private in-memory catalog.
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	created := dbPath == ":memory:"
	if !created {
		if _, err := os.Stat(dbPath); errors.Is(err, os.ErrNotExist) {
			created = true
		}
	}

	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	// A single connection serialises every reader and writer of this handle;
	// BEGIN IMMEDIATE plus busy_timeout covers other processes.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping catalog: %w", err)
	}

	s := &Store{
		db:      db,
		logger:  logger,
		path:    dbPath,
		created: created,
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if created {
		logger.Info("catalog created", "path", dbPath)
	} else {
		logger.Debug("catalog opened", "path", dbPath)
	}
	return s, nil
}

func dsn(path string) string {
	if path == ":memory:" {
		return path
	}
	return "file:" + path + "?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate"
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Created reports whether this call to Open created the database file.
func (s *Store) Created() bool { return s.created }

// Close closes the database connection
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close catalog: %w", err)
	}
	return nil
}

// ============================================================================
// Append
// ============================================================================

// Append commits rec and its slices in one transaction. Inside the same
// transaction it re-checks that rec.AntecedentRef is still the latest record
// qualifying for rec.Type and that rec is not older than the definition's
// latest record. On success rec.ID, rec.Ref and rec.CreatedAt are set.
func (s *Store) Append(ctx context.Context, rec *Record) error {
	if err := s.append(ctx, rec); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	s.logger.Info("catalog record appended",
		"ref", rec.Ref,
		"definition", rec.Definition,
		"type", rec.Type,
		"slices", rec.SliceCount,
	)
	return nil
}

func (s *Store) append(ctx context.Context, rec *Record) error {
	if rec.Definition == "" {
		return fmt.Errorf("record has no definition")
	}
	if _, err := ParseBackupType(string(rec.Type)); err != nil {
		return err
	}
	if rec.ArchiveBase == "" {
		return fmt.Errorf("record has no archive base name")
	}
	if rec.Ref == "" {
		rec.Ref = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.Date == "" {
		rec.Date = rec.CreatedAt.Format(time.DateOnly)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var latest sql.NullInt64
	err = tx.QueryRowContext(ctx,
		"SELECT MAX(created_at) FROM backups WHERE definition = ?", rec.Definition,
	).Scan(&latest)
	if err != nil {
		return fmt.Errorf("failed to read latest timestamp: %w", err)
	}
	if latest.Valid && rec.CreatedAt.UnixNano() < latest.Int64 {
		return fmt.Errorf("%w: %s < %s", ErrNonMonotonic,
			rec.CreatedAt.Format(time.RFC3339Nano),
			time.Unix(0, latest.Int64).UTC().Format(time.RFC3339Nano))
	}

	if types := AntecedentTypes(rec.Type); types != nil {
		current, err := latestOf(ctx, tx, rec.Definition, types)
		if err != nil {
			if errors.Is(err, ErrNoRecord) {
				return fmt.Errorf("%w: %s has no %s antecedent", ErrStaleAntecedent, rec.Type, joinTypes(types))
			}
			return err
		}
		if current.Ref != rec.AntecedentRef {
			return fmt.Errorf("%w: expected %s, latest is %s", ErrStaleAntecedent, rec.AntecedentRef, current.Ref)
		}
	} else if rec.AntecedentRef != "" {
		return fmt.Errorf("%s record cannot have an antecedent", rec.Type)
	}

	const insertBackup = `
		INSERT INTO backups (
			ref, definition, type, backup_date, created_at, archive_base,
			slice_count, total_size, antecedent_ref, engine
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := tx.ExecContext(ctx, insertBackup,
		rec.Ref, rec.Definition, string(rec.Type), rec.Date, rec.CreatedAt.UnixNano(),
		rec.ArchiveBase, rec.SliceCount, rec.TotalSize, nullString(rec.AntecedentRef), rec.Engine,
	)
	if err != nil {
		return fmt.Errorf("failed to insert backup record: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	const insertSlice = `
		INSERT INTO backup_slices (backup_id, slice_index, name, size) VALUES (?, ?, ?, ?)
	`
	for _, sl := range rec.Slices {
		if _, err := tx.ExecContext(ctx, insertSlice, id, sl.Index, sl.Name, sl.Size); err != nil {
			return fmt.Errorf("failed to insert slice %s: %w", sl.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit backup record: %w", err)
	}
	rec.ID = id
	return nil
}

// ============================================================================
// Chain queries
// ============================================================================

// LatestFull returns the most recent FULL record of definition.
func (s *Store) LatestFull(ctx context.Context, definition string) (*Record, error) {
	return latestOf(ctx, s.db, definition, []BackupType{TypeFull})
}

// LatestFullOrDiff returns the most recent FULL or DIFF record of definition.
// Equal timestamps are ordered by insertion.
func (s *Store) LatestFullOrDiff(ctx context.Context, definition string) (*Record, error) {
	return latestOf(ctx, s.db, definition, []BackupType{TypeFull, TypeDiff})
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

const selectColumns = `
	SELECT id, ref, definition, type, backup_date, created_at, archive_base,
	       slice_count, total_size, antecedent_ref, engine
	FROM backups
`

func latestOf(ctx context.Context, q queryer, definition string, types []BackupType) (*Record, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(types)), ",")
	query := selectColumns + " WHERE definition = ? AND type IN (" + placeholders + ")" +
		" ORDER BY created_at DESC, id DESC LIMIT 1"

	args := []any{definition}
	for _, t := range types {
		args = append(args, string(t))
	}

	rec, err := scanRecord(q.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoRecord
		}
		return nil, fmt.Errorf("failed to query latest %s record: %w", joinTypes(types), err)
	}
	return rec, nil
}

// ============================================================================
// Listing
// ============================================================================

// Get retrieves a record and its slices by reference id.
func (s *Store) Get(ctx context.Context, ref string) (*Record, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx, selectColumns+" WHERE ref = ?", ref))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: ref %s", ErrNoRecord, ref)
		}
		return nil, fmt.Errorf("failed to query backup record: %w", err)
	}

	rec.Slices, err = s.slices(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// List returns records in chain order (oldest first, insertion order on ties).
func (s *Store) List(ctx context.Context, filter ListFilter) ([]Record, error) {
	query := selectColumns
	var (
		where []string
		args  []any
	)
	if filter.Definition != "" {
		where = append(where, "definition = ?")
		args = append(args, filter.Definition)
	}
	if filter.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(filter.Type))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query backup records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan backup record: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating backup records: %w", err)
	}
	return records, nil
}

// Slices returns the slice rows of the record with the given reference id.
func (s *Store) Slices(ctx context.Context, ref string) ([]Slice, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, "SELECT id FROM backups WHERE ref = ?", ref).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: ref %s", ErrNoRecord, ref)
		}
		return nil, fmt.Errorf("failed to query backup record: %w", err)
	}
	return s.slices(ctx, id)
}

func (s *Store) slices(ctx context.Context, backupID int64) ([]Slice, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT slice_index, name, size FROM backup_slices WHERE backup_id = ? ORDER BY slice_index",
		backupID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query slices: %w", err)
	}
	defer rows.Close()

	var slices []Slice
	for rows.Next() {
		var sl Slice
		if err := rows.Scan(&sl.Index, &sl.Name, &sl.Size); err != nil {
			return nil, fmt.Errorf("failed to scan slice: %w", err)
		}
		slices = append(slices, sl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating slices: %w", err)
	}
	return slices, nil
}

// Definitions returns the distinct definition names present in the catalog.
func (s *Store) Definitions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT definition FROM backups ORDER BY definition")
	if err != nil {
		return nil, fmt.Errorf("failed to query definitions: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan definition: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating definitions: %w", err)
	}
	return names, nil
}

// Count returns the number of records, optionally for one definition.
func (s *Store) Count(ctx context.Context, definition string) (int, error) {
	query := "SELECT COUNT(*) FROM backups"
	var args []any
	if definition != "" {
		query += " WHERE definition = ?"
		args = append(args, definition)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count backup records: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		rec        Record
		typ        string
		createdAt  int64
		antecedent sql.NullString
	)
	err := row.Scan(
		&rec.ID, &rec.Ref, &rec.Definition, &typ, &rec.Date, &createdAt,
		&rec.ArchiveBase, &rec.SliceCount, &rec.TotalSize, &antecedent, &rec.Engine,
	)
	if err != nil {
		return nil, err
	}
	rec.Type = BackupType(typ)
	rec.CreatedAt = time.Unix(0, createdAt).UTC()
	rec.AntecedentRef = antecedent.String
	return &rec, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func joinTypes(types []BackupType) string {
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = string(t)
	}
	return strings.Join(parts, "-or-")
}
