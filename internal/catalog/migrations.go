package catalog

import (
	"fmt"
)

// migrate runs all pending migrations
func (s *Store) migrate() error {
	createMigrationsTableSQL := `
		CREATE TABLE IF NOT EXISTS migrations (
			id INTEGER PRIMARY KEY,
			version INTEGER NOT NULL UNIQUE,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
	`

	if _, err := s.db.Exec(createMigrationsTableSQL); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var currentVersion int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	s.logger.Debug("catalog schema version", "version", currentVersion)

	migrations := []struct {
		version int
		sql     string
	}{
		{
			version: 1,
			sql: `
				CREATE TABLE backups (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					ref TEXT NOT NULL UNIQUE,
					definition TEXT NOT NULL,
					type TEXT NOT NULL CHECK (type IN ('FULL', 'DIFF', 'INCR')),
					backup_date TEXT NOT NULL,
					created_at INTEGER NOT NULL,
					archive_base TEXT NOT NULL UNIQUE,
					slice_count INTEGER NOT NULL,
					total_size INTEGER NOT NULL DEFAULT 0,
					antecedent_ref TEXT,
					FOREIGN KEY(antecedent_ref) REFERENCES backups(ref)
				);

				CREATE INDEX idx_backups_definition
					ON backups(definition, type, created_at, id);
			`,
		},
		{
			version: 2,
			sql: `
				CREATE TABLE backup_slices (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					backup_id INTEGER NOT NULL,
					slice_index INTEGER NOT NULL,
					name TEXT NOT NULL UNIQUE,
					size INTEGER NOT NULL DEFAULT 0,
					UNIQUE(backup_id, slice_index),
					FOREIGN KEY(backup_id) REFERENCES backups(id)
				);
			`,
		},
		{
			version: 3,
			sql: `
				ALTER TABLE backups ADD COLUMN engine TEXT NOT NULL DEFAULT '';
			`,
		},
	}

	for _, mig := range migrations {
		if mig.version > currentVersion {
			s.logger.Info("running catalog migration", "version", mig.version)

			if err := s.runMigration(mig.version, mig.sql); err != nil {
				return fmt.Errorf("failed to run migration %d: %w", mig.version, err)
			}
		}
	}

	return nil
}

// runMigration executes a migration and records it
func (s *Store) runMigration(version int, sql string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Another process may have applied it while we waited for the write lock.
	var applied int
	if err := tx.QueryRow("SELECT COUNT(*) FROM migrations WHERE version = ?", version).Scan(&applied); err != nil {
		return fmt.Errorf("failed to check migration state: %w", err)
	}
	if applied > 0 {
		return nil
	}

	if _, err := tx.Exec(sql); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}

	if _, err := tx.Exec("INSERT INTO migrations (version) VALUES (?)", version); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration transaction: %w", err)
	}

	return nil
}
