package dbdump

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect knows how to describe and quote one database engine.
type Dialect interface {
	Name() string
	ListTables(ctx context.Context, db *sql.DB) ([]string, error)
	CreateTable(ctx context.Context, db *sql.DB, table string) (string, error)
	QuoteIdent(name string) string
	QuoteString(s string) string
	QuoteBytes(b []byte) string
	Preamble() []string
	Postamble() []string
}

// Open connects to the database and returns the matching dialect.
func Open(driver, dsn string) (*sql.DB, Dialect, error) {
	var dialect Dialect
	var driverName string
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		dialect, driverName = SQLite{}, "sqlite"
	case "postgres", "postgresql":
		dialect, driverName = Postgres{}, "postgres"
	default:
		return nil, nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, dialect, nil
}

func quoteDoubled(s string, q string) string {
	return q + strings.ReplaceAll(s, q, q+q) + q
}

// SQLite reads table definitions from sqlite_master.
type SQLite struct{}

func (SQLite) Name() string { return "sqlite" }

func (SQLite) ListTables(ctx context.Context, db *sql.DB) ([]string, error) {
	const query = `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite\_%' ESCAPE '\'
		ORDER BY name
	`
	return queryStrings(ctx, db, query)
}

func (SQLite) CreateTable(ctx context.Context, db *sql.DB, table string) (string, error) {
	const query = "SELECT sql FROM sqlite_master WHERE type = 'table' AND name = ?"
	var stmt string
	if err := db.QueryRowContext(ctx, query, table).Scan(&stmt); err != nil {
		return "", fmt.Errorf("failed to read definition of %s: %w", table, err)
	}
	return terminate(stmt), nil
}

func (SQLite) QuoteIdent(name string) string { return quoteDoubled(name, `"`) }

func (SQLite) QuoteString(s string) string { return quoteDoubled(s, "'") }

func (SQLite) QuoteBytes(b []byte) string { return "X'" + hex.EncodeToString(b) + "'" }

func (SQLite) Preamble() []string {
	return []string{"PRAGMA foreign_keys=OFF;", "BEGIN TRANSACTION;"}
}

func (SQLite) Postamble() []string {
	return []string{"COMMIT;", "PRAGMA foreign_keys=ON;"}
}

// Postgres synthesizes table definitions from information_schema.
type Postgres struct{}

func (Postgres) Name() string { return "postgres" }

func (Postgres) ListTables(ctx context.Context, db *sql.DB) ([]string, error) {
	const query = `
		SELECT table_name FROM information_schema.tables
		WHERE table_schema = current_schema() AND table_type = 'BASE TABLE'
		ORDER BY table_name
	`
	return queryStrings(ctx, db, query)
}

func (p Postgres) CreateTable(ctx context.Context, db *sql.DB, table string) (string, error) {
	const columnsQuery = `
		SELECT column_name, data_type, character_maximum_length, is_nullable, column_default
		FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1
		ORDER BY ordinal_position
	`
	const pkQuery = `
		SELECT kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
		WHERE tc.table_schema = current_schema() AND tc.table_name = $1
		  AND tc.constraint_type = 'PRIMARY KEY'
		ORDER BY kcu.ordinal_position
	`

	rows, err := db.QueryContext(ctx, columnsQuery, table)
	if err != nil {
		return "", fmt.Errorf("failed to query columns of %s: %w", table, err)
	}
	defer rows.Close()

	var defs []string
	for rows.Next() {
		var (
			name, dataType, nullable string
			maxLen                   sql.NullInt64
			def                      sql.NullString
		)
		if err := rows.Scan(&name, &dataType, &maxLen, &nullable, &def); err != nil {
			return "", fmt.Errorf("failed to scan column of %s: %w", table, err)
		}
		col := p.QuoteIdent(name) + " " + dataType
		if maxLen.Valid {
			col += fmt.Sprintf("(%d)", maxLen.Int64)
		}
		if nullable == "NO" {
			col += " NOT NULL"
		}
		if def.Valid {
			col += " DEFAULT " + def.String
		}
		defs = append(defs, "  "+col)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("error iterating columns of %s: %w", table, err)
	}
	if len(defs) == 0 {
		return "", fmt.Errorf("table %s has no columns", table)
	}

	pk, err := queryStrings(ctx, db, pkQuery, table)
	if err != nil {
		return "", err
	}
	if len(pk) > 0 {
		quoted := make([]string, len(pk))
		for i, c := range pk {
			quoted[i] = p.QuoteIdent(c)
		}
		defs = append(defs, "  PRIMARY KEY ("+strings.Join(quoted, ", ")+")")
	}

	return fmt.Sprintf("CREATE TABLE %s (\n%s\n);", p.QuoteIdent(table), strings.Join(defs, ",\n")), nil
}

func (Postgres) QuoteIdent(name string) string { return quoteDoubled(name, `"`) }

func (Postgres) QuoteString(s string) string {
	// NUL is not representable in postgres text values.
	return quoteDoubled(strings.ReplaceAll(s, "\x00", ""), "'")
}

func (Postgres) QuoteBytes(b []byte) string { return `'\x` + hex.EncodeToString(b) + "'::bytea" }

func (Postgres) Preamble() []string {
	return []string{
		"SET client_encoding = 'UTF8';",
		"SET standard_conforming_strings = on;",
		"SET check_function_bodies = false;",
		"SET session_replication_role = replica;",
	}
}

func (Postgres) Postamble() []string {
	return []string{"SET session_replication_role = DEFAULT;"}
}

func queryStrings(ctx context.Context, db *sql.DB, query string, args ...any) ([]string, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}

func terminate(stmt string) string {
	stmt = strings.TrimSpace(stmt)
	if !strings.HasSuffix(stmt, ";") {
		stmt += ";"
	}
	return stmt
}
