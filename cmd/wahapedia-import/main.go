// Command wahapedia-import syncs the Wahapedia CSV export into a relational
// database.
//
// Configuration comes from the environment (optionally seeded from a .env
// file); flags override env values. A typical run:
//
//	wahapedia-import -storage sqlite -dsn wahapedia.db
//
// Exit codes:
//   - 0: import completed, or the update gate found nothing newer.
//   - 1: the run aborted partway (fetch or store failure).
//   - 2: configuration/initialization error.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/Oliver-Sheaky/wahapedia-sql-import/internal/catalog"
	"github.com/Oliver-Sheaky/wahapedia-sql-import/internal/config"
	"github.com/Oliver-Sheaky/wahapedia-sql-import/internal/fetch"
	"github.com/Oliver-Sheaky/wahapedia-sql-import/internal/ingest"
	"github.com/Oliver-Sheaky/wahapedia-sql-import/internal/metrics"
	"github.com/Oliver-Sheaky/wahapedia-sql-import/internal/metrics/datadog"
	"github.com/Oliver-Sheaky/wahapedia-sql-import/internal/storage"

	// register all storage backends with the factory.
	_ "github.com/Oliver-Sheaky/wahapedia-sql-import/internal/storage/mssql"
	_ "github.com/Oliver-Sheaky/wahapedia-sql-import/internal/storage/postgres"
	_ "github.com/Oliver-Sheaky/wahapedia-sql-import/internal/storage/sqlite"
)

// backendCloser is the minimal interface used to manage a metrics backend.
type backendCloser interface {
	metrics.Backend
	Close() error
}

// deps are external seams for testability. Unit tests inject a fake repo
// opener and fetcher; main wires the real ones.
type deps struct {
	Stdout io.Writer
	Stderr io.Writer

	OpenRepo       func(ctx context.Context, cfg storage.Config) (storage.Repository, error)
	NewFetcher     func(baseURL string, opts fetch.Options) ingest.Fetcher
	BackendFactory func(ctx context.Context, jobName string, tags []string) (backendCloser, error)
}

func main() {
	code := run(context.Background(), os.Args[1:], deps{
		Stdout:   os.Stdout,
		Stderr:   os.Stderr,
		OpenRepo: storage.New,
		NewFetcher: func(baseURL string, opts fetch.Options) ingest.Fetcher {
			return fetch.New(baseURL, opts)
		},
		BackendFactory: func(ctx context.Context, jobName string, tags []string) (backendCloser, error) {
			return datadog.NewBackend(ctx, datadog.Options{
				JobName: jobName,
				Tags:    tags,
			})
		},
	})
	os.Exit(code)
}

func run(ctx context.Context, args []string, d deps) int {
	if d.Stdout == nil {
		d.Stdout = io.Discard
	}
	if d.Stderr == nil {
		d.Stderr = io.Discard
	}

	fs := flag.NewFlagSet("wahapedia-import", flag.ContinueOnError)
	fs.SetOutput(d.Stderr)

	var (
		envFile     = fs.String("env", "", "path to a .env file (default: ./.env if present)")
		baseURL     = fs.String("base-url", "", "export root URL (overrides env CSV_BASE_URL)")
		storageKind = fs.String("storage", "", "storage backend: postgres, sqlite or mssql (overrides env STORAGE_KIND)")
		dsn         = fs.String("dsn", "", "database connection string (overrides env DSN)")
		datePolicy  = fs.String("date-policy", "", "bad export dates: reject or null (overrides env DATE_POLICY)")
		force       = fs.Bool("force", false, "import even when the remote snapshot is not newer")
		validate    = fs.Bool("validate", false, "validate the configuration and exit")
		verbose     = fs.Bool("v", false, "enable verbose logs")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintln(d.Stderr, err.Error())
		return 2
	}

	// Flags override env.
	if *baseURL != "" {
		cfg.BaseURL = *baseURL
	}
	if *storageKind != "" {
		cfg.StorageKind = *storageKind
	}
	if *dsn != "" {
		cfg.DSN = *dsn
	}
	if *datePolicy != "" {
		cfg.DatePolicy = *datePolicy
	}
	if *force {
		cfg.Force = true
	}
	if *verbose {
		cfg.Verbose = true
	}

	issues := config.Validate(cfg)
	for _, iss := range issues {
		fmt.Fprintf(d.Stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasError(issues) {
		return 2
	}
	if *validate {
		fmt.Fprintln(d.Stdout, "configuration is valid")
		return 0
	}

	policy, err := ingest.ParseDatePolicy(cfg.DatePolicy)
	if err != nil {
		fmt.Fprintln(d.Stderr, err.Error())
		return 2
	}

	logger := log.New(d.Stderr, "", log.LstdFlags)

	if cfg.MetricsBackend == "datadog" {
		tags := append(datadog.ParseTagsCSV(cfg.MetricsTags), "tool:wahapedia_import")
		backend, err := d.BackendFactory(ctx, cfg.JobName, tags)
		if err != nil {
			logger.Printf("metrics: datadog backend init failed: %v; metrics disabled", err)
		} else {
			metrics.SetBackend(backend)
			defer func() {
				if err := backend.Close(); err != nil {
					logger.Printf("metrics: close/flush error: %v", err)
				}
			}()
		}
	}

	repo, err := d.OpenRepo(ctx, storage.Config{Kind: cfg.StorageKind, DSN: cfg.DSN})
	if err != nil {
		fmt.Fprintf(d.Stderr, "open storage: %v\n", err)
		return 2
	}
	defer repo.Close()

	if err := repo.EnsureSchema(ctx); err != nil {
		fmt.Fprintf(d.Stderr, "ensure schema: %v\n", err)
		return 2
	}

	var fetchLogger fetch.Logger
	if cfg.Verbose {
		fetchLogger = logger
	}
	fetcher := d.NewFetcher(cfg.BaseURL, fetch.Options{
		Timeout: cfg.FetchTimeout,
		Delay:   cfg.FetchDelay,
		Logger:  fetchLogger,
	})

	engine := ingest.New(repo, fetcher, ingest.Options{
		DatePolicy: policy,
		Force:      cfg.Force,
		Logger:     logger,
	})

	start := time.Now()
	rep, err := engine.Run(ctx)
	for _, line := range rep.Lines() {
		fmt.Fprintln(d.Stdout, line)
	}
	if err != nil {
		return 1
	}

	if rep.Outcome == ingest.OutcomeCompleted {
		printCounts(ctx, d.Stdout, logger, repo)
	}
	if cfg.Verbose {
		logger.Printf("finished in %s", time.Since(start).Truncate(time.Millisecond))
	}
	return 0
}

// printCounts reports the stored row count per table after a completed run.
func printCounts(ctx context.Context, w io.Writer, logger *log.Logger, repo storage.Repository) {
	for _, e := range catalog.Entities() {
		n, err := repo.CountRows(ctx, e.Table)
		if err != nil {
			logger.Printf("count %s: %v", e.Table, err)
			continue
		}
		fmt.Fprintf(w, "table=%s stored=%d\n", e.Table, n)
	}
}
