// Package store keeps the export history: one row per export run and the
// files each run had to skip.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed persistence
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New creates a new Store, opening the SQLite database and running migrations
func New(dbPath string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps :memory: databases and writers consistent.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger,
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Debug("History store initialized", "path", dbPath)
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// ============================================================================
// ExportRun Operations
// ============================================================================

const exportRunColumns = `
	id, run_id, start_time, end_time, status, step, invocations,
	files_processed, bytes_processed, skipped_count, excluded_count,
	archive_path, database_path, error_message
`

func scanExportRun(scan func(...any) error) (*ExportRun, error) {
	run := &ExportRun{}
	err := scan(
		&run.ID, &run.RunID, &run.StartTime, &run.EndTime, &run.Status, &run.Step,
		&run.Invocations, &run.FilesProcessed, &run.BytesProcessed, &run.SkippedCount,
		&run.ExcludedCount, &run.ArchivePath, &run.DatabasePath, &run.ErrorMessage,
	)
	return run, err
}

// CreateExportRun inserts a new ExportRun and sets its ID
func (s *Store) CreateExportRun(run *ExportRun) error {
	const query = `
		INSERT INTO export_runs (
			run_id, start_time, end_time, status, step, invocations,
			files_processed, bytes_processed, skipped_count, excluded_count,
			archive_path, database_path, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.Exec(
		query,
		run.RunID, run.StartTime, run.EndTime, run.Status, run.Step, run.Invocations,
		run.FilesProcessed, run.BytesProcessed, run.SkippedCount, run.ExcludedCount,
		run.ArchivePath, run.DatabasePath, run.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to insert export run: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	run.ID = id
	return nil
}

// UpdateExportRun updates an existing ExportRun by ID
func (s *Store) UpdateExportRun(run *ExportRun) error {
	const query = `
		UPDATE export_runs SET
			start_time = ?, end_time = ?, status = ?, step = ?, invocations = ?,
			files_processed = ?, bytes_processed = ?, skipped_count = ?, excluded_count = ?,
			archive_path = ?, database_path = ?, error_message = ?
		WHERE id = ?
	`

	result, err := s.db.Exec(
		query,
		run.StartTime, run.EndTime, run.Status, run.Step, run.Invocations,
		run.FilesProcessed, run.BytesProcessed, run.SkippedCount, run.ExcludedCount,
		run.ArchivePath, run.DatabasePath, run.ErrorMessage, run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update export run: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("export run not found: %d", run.ID)
	}

	return nil
}

// GetExportRun retrieves an ExportRun by ID
func (s *Store) GetExportRun(id int64) (*ExportRun, error) {
	query := "SELECT " + exportRunColumns + " FROM export_runs WHERE id = ?"

	run, err := scanExportRun(s.db.QueryRow(query, id).Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("export run not found: %d", id)
		}
		return nil, fmt.Errorf("failed to query export run: %w", err)
	}

	return run, nil
}

// FindExportRun retrieves the ExportRun for a run ID. It returns nil, nil
// when the run has not been recorded.
func (s *Store) FindExportRun(runID string) (*ExportRun, error) {
	query := "SELECT " + exportRunColumns + " FROM export_runs WHERE run_id = ?"

	run, err := scanExportRun(s.db.QueryRow(query, runID).Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query export run: %w", err)
	}

	return run, nil
}

// ListExportRuns returns the most recent runs first
func (s *Store) ListExportRuns(limit int) ([]ExportRun, error) {
	query := "SELECT " + exportRunColumns + " FROM export_runs ORDER BY start_time DESC, id DESC"
	var args []interface{}

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query export runs: %w", err)
	}
	defer rows.Close()

	var runs []ExportRun
	for rows.Next() {
		run, err := scanExportRun(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan export run: %w", err)
		}
		runs = append(runs, *run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating export runs: %w", err)
	}

	return runs, nil
}

// ============================================================================
// SkippedFile Operations
// ============================================================================

// AddSkippedFile records a file the archive pass skipped
func (s *Store) AddSkippedFile(rec *SkippedFile) error {
	const query = `
		INSERT INTO skipped_files (export_run_id, path, size, reason, skipped_at)
		VALUES (?, ?, ?, ?, ?)
	`

	result, err := s.db.Exec(query, rec.ExportRunID, rec.Path, rec.Size, rec.Reason, rec.SkippedAt)
	if err != nil {
		return fmt.Errorf("failed to add skipped file: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	rec.ID = id
	return nil
}

// ListSkippedFiles returns the skipped files of a run in the order they
// were recorded
func (s *Store) ListSkippedFiles(exportRunID int64) ([]SkippedFile, error) {
	const query = `
		SELECT id, export_run_id, path, size, reason, skipped_at
		FROM skipped_files WHERE export_run_id = ? ORDER BY id
	`

	rows, err := s.db.Query(query, exportRunID)
	if err != nil {
		return nil, fmt.Errorf("failed to query skipped files: %w", err)
	}
	defer rows.Close()

	var records []SkippedFile
	for rows.Next() {
		rec := SkippedFile{}
		if err := rows.Scan(&rec.ID, &rec.ExportRunID, &rec.Path, &rec.Size, &rec.Reason, &rec.SkippedAt); err != nil {
			return nil, fmt.Errorf("failed to scan skipped file: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating skipped files: %w", err)
	}

	return records, nil
}

// CountSkippedFiles returns how many files a run skipped
func (s *Store) CountSkippedFiles(exportRunID int64) (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM skipped_files WHERE export_run_id = ?", exportRunID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count skipped files: %w", err)
	}
	return count, nil
}
