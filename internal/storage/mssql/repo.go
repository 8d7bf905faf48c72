// Package mssql implements storage.Repository on Microsoft SQL Server.
//
// SQL Server has no multi-row ON CONFLICT equivalent that fits this schema,
// so the upsert runs per row inside a transaction: UPDATE first, INSERT when
// nothing matched. Throughput is secondary here; the export is a few tens of
// thousands of rows.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/microsoft/go-mssqldb"

	"github.com/Oliver-Sheaky/wahapedia-sql-import/internal/catalog"
	"github.com/Oliver-Sheaky/wahapedia-sql-import/internal/storage"
)

func init() {
	storage.Register("mssql", New)
}

// Repo implements storage.Repository for SQL Server.
type Repo struct {
	db *sql.DB
}

// New opens a connection pool and validates connectivity.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(8)

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
	var max sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT MAX(last_update) FROM last_update`).Scan(&max)
	if err != nil {
		return nil, fmt.Errorf("max last_update: %w", err)
	}
	if !max.Valid {
		return nil, nil
	}
	u := max.Time.UTC()
	return &u, nil
}

func (r *Repo) RecordLastUpdate(ctx context.Context, marker time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO last_update (last_update) VALUES (@p1)`, marker.UTC())
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
		mssqlIdent(column), mssqlIdent(table), mssqlIdent(column))
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
	q := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, mssqlIdent(table))
	if err := r.db.QueryRowContext(ctx, q).Scan(&n); err != nil {
		return 0, fmt.Errorf("count rows %s: %w", table, err)
	}
	return n, nil
}

// UpsertRows merges rows by the entity key: UPDATE, then INSERT on a miss.
// One transaction per call so a failed batch leaves nothing half-applied.
func (r *Repo) UpsertRows(ctx context.Context, e catalog.Entity, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", e.Table, err)
	}
	defer tx.Rollback()

	updateSQL := buildUpdateSQL(e)
	insertSQL := buildInsertIfAbsentSQL(e)

	for _, row := range rows {
		matched := false
		if updateSQL != "" {
			res, err := tx.ExecContext(ctx, updateSQL, updateArgs(e, row)...)
			if err != nil {
				return fmt.Errorf("upsert %s: update: %w", e.Table, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("upsert %s: update: %w", e.Table, err)
			}
			matched = n > 0
		}
		if matched {
			continue
		}
		if _, err := tx.ExecContext(ctx, insertSQL, insertArgs(row)...); err != nil {
			return fmt.Errorf("upsert %s: insert: %w", e.Table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("upsert %s: %w", e.Table, err)
	}
	return nil
}

// DeleteByKeys deletes rows matching the key list using chunked IN (...)
// statements inside one transaction. Chunks stay under the 2100-parameter
// request limit.
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
	const chunk = 2000
	for start := 0; start < len(keys); start += chunk {
		end := start + chunk
		if end > len(keys) {
			end = len(keys)
		}
		q, args := buildDeleteSQL(table, column, keys[start:end])
		res, err := tx.ExecContext(ctx, q, args...)
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
