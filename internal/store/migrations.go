package store

import (
	"fmt"
)

// migrate runs all pending migrations
func (s *Store) migrate() error {
	// Create migrations table if it doesn't exist
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

	s.logger.Debug("Current history schema version", "version", currentVersion)

	migrations := []struct {
		version int
		sql     string
	}{
		{
			version: 1,
			sql: `
				CREATE TABLE export_runs (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					run_id TEXT NOT NULL UNIQUE,
					start_time DATETIME NOT NULL,
					end_time DATETIME,
					status TEXT DEFAULT 'running',
					step TEXT,
					invocations INTEGER DEFAULT 0,
					files_processed INTEGER DEFAULT 0,
					bytes_processed INTEGER DEFAULT 0,
					skipped_count INTEGER DEFAULT 0,
					excluded_count INTEGER DEFAULT 0,
					archive_path TEXT,
					database_path TEXT,
					error_message TEXT
				);

				CREATE TABLE skipped_files (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					export_run_id INTEGER NOT NULL,
					path TEXT NOT NULL,
					size INTEGER DEFAULT 0,
					reason TEXT,
					skipped_at DATETIME NOT NULL,
					FOREIGN KEY(export_run_id) REFERENCES export_runs(id)
				);
			`,
		},
		{
			version: 2,
			sql: `
				CREATE INDEX idx_skipped_files_run ON skipped_files(export_run_id);
				CREATE INDEX idx_export_runs_start ON export_runs(start_time);
			`,
		},
	}

	for _, mig := range migrations {
		if mig.version > currentVersion {
			s.logger.Debug("Running migration", "version", mig.version)

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
