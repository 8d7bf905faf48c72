// Package storage defines the narrow store surface the ingestion engine
// drives, plus a registry of backend factories. Backends register themselves
// from init() in their own packages ("postgres", "sqlite", "mssql").
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Oliver-Sheaky/wahapedia-sql-import/internal/catalog"
)

// Config is the minimal configuration needed to open a Repository.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is
//     backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// Repository is the backend-agnostic store surface for one import run.
//
// IMPORTANT: This interface is intentionally minimal and focused on the
// operations the ingestion engine needs. Each backend implements these
// semantics in its own idiomatic way (Postgres ON CONFLICT, SQLite upsert,
// SQL Server update-then-insert).
type Repository interface {
	// Close releases backend resources. Treat as "call once" at shutdown.
	Close()

	// EnsureSchema creates the managed tables and indexes when missing.
	// It never drops or alters existing data.
	EnsureSchema(ctx context.Context) error

	// MaxLastUpdate returns the newest recorded freshness marker, or nil
	// when none has been recorded yet.
	MaxLastUpdate(ctx context.Context) (*time.Time, error)

	// RecordLastUpdate appends a freshness marker. Markers are append-only;
	// the maximum ever recorded is what MaxLastUpdate reads back.
	RecordLastUpdate(ctx context.Context, marker time.Time) error

	// SelectKeys returns the distinct non-null values of one key column.
	//
	// Edge cases:
	//   - An empty table yields an empty slice, not an error.
	SelectKeys(ctx context.Context, table string, column string) ([]string, error)

	// CountRows returns the current row count of one catalog table.
	CountRows(ctx context.Context, table string) (int64, error)

	// UpsertRows merges rows into the entity's table by its declared key:
	// existing keys are updated column by column, new keys are inserted.
	// Stamped entities additionally get their last-modified column set on
	// every write. Rows are aligned to e.TargetColumns().
	UpsertRows(ctx context.Context, e catalog.Entity, rows [][]any) error

	// DeleteByKeys deletes every row whose column matches one of keys, in
	// one set-membership operation, and returns the number deleted.
	//
	// Errors:
	//   - Refuses any table that catalog.KnownTable does not recognize.
	//
	// Edge cases:
	//   - An empty key list is a no-op returning 0.
	DeleteByKeys(ctx context.Context, table string, column string, keys []string) (int64, error)
}

type factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a backend under a kind (e.g. "postgres", "sqlite").
//
// When to use:
//   - Call Register from an init() function in a backend package.
//
// Panics:
//   - If kind is empty.
//   - If f is nil.
//   - If kind is already registered. This is intentional to fail fast and
//     avoid ambiguous backend selection.
func Register(kind string, f factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}

	factories[kind] = f
}

// New constructs a Repository using the registered backend factory.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or unsupported.
//   - Returns whatever error the registered factory returns.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing storage.Kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage.kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}

// Kinds lists the registered backend kinds, for error messages and help text.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()

	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
