// Package postgres implements storage.Repository on PostgreSQL via pgx.
// This is the primary backend; the schema lives in a Supabase-hosted
// Postgres in production, but nothing here is Supabase-specific.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Oliver-Sheaky/wahapedia-sql-import/internal/catalog"
	"github.com/Oliver-Sheaky/wahapedia-sql-import/internal/storage"
)

func init() {
	storage.Register("postgres", New)
}

// Repo implements storage.Repository for Postgres.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a Postgres-backed Repo and validates connectivity.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Repo{pool: pool}, nil
}

// Close closes the connection pool.
func (r *Repo) Close() {
	r.pool.Close()
}

// EnsureSchema creates the managed tables when missing. Idempotent.
func (r *Repo) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements() {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// MaxLastUpdate returns the newest recorded freshness marker, nil when the
// marker table is empty.
func (r *Repo) MaxLastUpdate(ctx context.Context) (*time.Time, error) {
	var max *time.Time
	err := r.pool.QueryRow(ctx,
		`SELECT MAX(last_update) FROM last_update`).Scan(&max)
	if err != nil {
		return nil, fmt.Errorf("max last_update: %w", err)
	}
	if max == nil {
		return nil, nil
	}
	u := max.UTC()
	return &u, nil
}

// RecordLastUpdate appends a freshness marker.
func (r *Repo) RecordLastUpdate(ctx context.Context, marker time.Time) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO last_update (last_update) VALUES ($1)`, marker.UTC())
	if err != nil {
		return fmt.Errorf("record last_update: %w", err)
	}
	return nil
}

// SelectKeys returns the distinct non-null values of one key column.
func (r *Repo) SelectKeys(ctx context.Context, table, column string) ([]string, error) {
	if !catalog.KnownTable(table) {
		return nil, fmt.Errorf("select keys: unknown table %q", table)
	}

	q := fmt.Sprintf(`SELECT DISTINCT %s FROM %s WHERE %s IS NOT NULL`,
		pgIdent(column), pgIdent(table), pgIdent(column))
	rows, err := r.pool.Query(ctx, q)
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
	q := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, pgIdent(table))
	if err := r.pool.QueryRow(ctx, q).Scan(&n); err != nil {
		return 0, fmt.Errorf("count rows %s: %w", table, err)
	}
	return n, nil
}

// UpsertRows merges rows by the entity key using INSERT ... ON CONFLICT.
// Batches stay under the wire protocol's parameter ceiling.
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
		sql, args := buildUpsertSQL(e, rows[start:end])
		if _, err := r.pool.Exec(ctx, sql, args...); err != nil {
			return fmt.Errorf("upsert %s: %w", e.Table, err)
		}
	}
	return nil
}

// DeleteByKeys deletes every row whose column matches one of keys in a single
// set-membership statement. The key list travels as one array parameter, so
// even tens of thousands of keys stay inside statement-size limits.
func (r *Repo) DeleteByKeys(ctx context.Context, table, column string, keys []string) (int64, error) {
	if !catalog.KnownTable(table) {
		return 0, fmt.Errorf("delete by keys: unknown table %q", table)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	q := fmt.Sprintf(`DELETE FROM %s WHERE %s = ANY($1)`, pgIdent(table), pgIdent(column))
	cmd, err := r.pool.Exec(ctx, q, keys)
	if err != nil {
		return 0, fmt.Errorf("delete by keys %s.%s: %w", table, column, err)
	}
	return cmd.RowsAffected(), nil
}

// rowsPerBatch caps a multi-row insert below the 65535-parameter protocol
// limit, with headroom.
func rowsPerBatch(columns int) int {
	const maxParams = 60000
	n := maxParams / columns
	if n < 1 {
		n = 1
	}
	return n
}
