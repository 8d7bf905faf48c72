// Package sqlite implements storage.Repository on SQLite via modernc.org's
// pure-Go driver. Intended for local development and offline inspection of a
// snapshot; the production schema lives in Postgres.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Oliver-Sheaky/wahapedia-sql-import/internal/catalog"
	"github.com/Oliver-Sheaky/wahapedia-sql-import/internal/storage"
)

func init() {
	storage.Register("sqlite", New)
}

// timeLayout stores markers as sortable text. SQLite has no timestamp type;
// MAX() over this layout compares lexicographically, which matches
// chronological order.
const timeLayout = "2006-01-02 15:04:05"

// Repo implements storage.Repository for SQLite.
type Repo struct {
	db *sql.DB
}

// New opens (creating when needed) the database file named by cfg.DSN.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

// EnsureSchema creates the managed tables when missing. Idempotent.
func (r *Repo) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements() {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (r *Repo) MaxLastUpdate(ctx context.Context) (*time.Time, error) {
	var max sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT MAX(last_update) FROM last_update`).Scan(&max)
	if err != nil {
		return nil, fmt.Errorf("max last_update: %w", err)
	}
	if !max.Valid {
		return nil, nil
	}
	t, err := time.ParseInLocation(timeLayout, max.String, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("max last_update: parse %q: %w", max.String, err)
	}
	return &t, nil
}

func (r *Repo) RecordLastUpdate(ctx context.Context, marker time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO last_update (last_update) VALUES (?)`,
		marker.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("record last_update: %w", err)
	}
	return nil
}

func (r *Repo) SelectKeys(ctx context.Context, table, column string) ([]string, error) {
	if !catalog.KnownTable(table) {
		return nil, fmt.Errorf("select keys: unknown table %q", table)
	}

	q := fmt.Sprintf(`SELECT DISTINCT %s FROM %s WHERE %s IS NOT NULL`,
		sqlIdent(column), sqlIdent(table), sqlIdent(column))
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("select keys %s.%s: %w", table, column, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("select keys %s.%s: scan: %w", table, column, err)
		}
		out = append(out, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("select keys %s.%s: %w", table, column, err)
	}
	return out, nil
}

func (r *Repo) CountRows(ctx context.Context, table string) (int64, error) {
	if !catalog.KnownTable(table) {
		return 0, fmt.Errorf("count rows: unknown table %q", table)
	}

	var n int64
	q := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, sqlIdent(table))
	if err := r.db.QueryRowContext(ctx, q).Scan(&n); err != nil {
		return 0, fmt.Errorf("count rows %s: %w", table, err)
	}
	return n, nil
}

// UpsertRows merges rows by the entity key using INSERT ... ON CONFLICT.
func (r *Repo) UpsertRows(ctx context.Context, e catalog.Entity, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}

	chunk := rowsPerBatch(len(e.Columns))
	for start := 0; start < len(rows); start += chunk {
		end := start + chunk
		if end > len(rows) {
			end = len(rows)
		}
		sqlText, args := buildUpsertSQL(e, rows[start:end])
		if _, err := r.db.ExecContext(ctx, sqlText, args...); err != nil {
			return fmt.Errorf("upsert %s: %w", e.Table, err)
		}
	}
	return nil
}

// DeleteByKeys deletes rows matching the key list. SQLite has no array
// parameters, so the list is issued as chunked IN (...) statements inside one
// transaction, keeping the whole delete atomic.
func (r *Repo) DeleteByKeys(ctx context.Context, table, column string, keys []string) (int64, error) {
	if !catalog.KnownTable(table) {
		return 0, fmt.Errorf("delete by keys: unknown table %q", table)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("delete by keys %s: %w", table, err)
	}
	defer tx.Rollback()

	var total int64
	const chunk = 5000
	for start := 0; start < len(keys); start += chunk {
		end := start + chunk
		if end > len(keys) {
			end = len(keys)
		}
		sqlText, args := buildDeleteSQL(table, column, keys[start:end])
		res, err := tx.ExecContext(ctx, sqlText, args...)
		if err != nil {
			return 0, fmt.Errorf("delete by keys %s.%s: %w", table, column, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("delete by keys %s.%s: %w", table, column, err)
		}
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("delete by keys %s: %w", table, err)
	}
	return total, nil
}

// rowsPerBatch caps a multi-row insert below SQLite's default variable limit.
func rowsPerBatch(columns int) int {
	const maxParams = 30000
	n := maxParams / columns
	if n < 1 {
		n = 1
	}
	return n
}
