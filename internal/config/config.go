// Package config loads importer settings from the environment.
//
// All settings come from environment variables, optionally seeded from a
// .env file via godotenv. Flags on the importer binary override env values;
// that precedence is handled in cmd, not here.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the importer needs for one run.
type Config struct {
	// BaseURL is the export root, e.g. "http://wahapedia.ru/wh40k10ed/".
	BaseURL string

	// StorageKind selects the storage backend: "postgres", "sqlite" or
	// "mssql". DSN is the backend-specific connection string.
	StorageKind string
	DSN         string

	// DatePolicy controls how unparseable export dates are handled:
	// "reject" drops the row, "null" stores NULL.
	DatePolicy string

	// Force imports even when the remote marker is not newer than the
	// recorded one.
	Force bool

	// FetchDelay spaces consecutive download requests. FetchTimeout bounds
	// one request.
	FetchDelay   time.Duration
	FetchTimeout time.Duration

	// MetricsBackend selects the metrics sink: "datadog" or "none".
	// MetricsTags is a comma-separated extra tag list (e.g. "env:prod").
	MetricsBackend string
	MetricsTags    string
	JobName        string

	Verbose bool
}

// Defaults used when the corresponding env var is unset.
const (
	DefaultBaseURL     = "http://wahapedia.ru/wh40k10ed/"
	DefaultStorageKind = "postgres"
	DefaultDatePolicy  = "reject"
	DefaultJobName     = "wahapedia_import"
)

// Load reads configuration from the environment. When envFile is non-empty
// the file is loaded first; values already present in the environment win,
// matching godotenv semantics.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return Config{}, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	} else {
		// Best effort: a .env in the working directory is optional.
		_ = godotenv.Load()
	}

	cfg := Config{
		BaseURL:        envOr("CSV_BASE_URL", DefaultBaseURL),
		StorageKind:    envOr("STORAGE_KIND", DefaultStorageKind),
		DSN:            os.Getenv("DSN"),
		DatePolicy:     envOr("DATE_POLICY", DefaultDatePolicy),
		MetricsBackend: envOr("METRICS_BACKEND", "none"),
		MetricsTags:    os.Getenv("METRICS_TAGS"),
		JobName:        envOr("METRICS_JOB_NAME", DefaultJobName),
	}

	var err error
	if cfg.Force, err = envBool("FORCE_IMPORT"); err != nil {
		return Config{}, err
	}
	if cfg.Verbose, err = envBool("VERBOSE"); err != nil {
		return Config{}, err
	}
	if cfg.FetchDelay, err = envDuration("FETCH_DELAY"); err != nil {
		return Config{}, err
	}
	if cfg.FetchTimeout, err = envDuration("FETCH_TIMEOUT"); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Severity classifies a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue describes one validation finding.
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

// Validate reports configuration problems. Errors make the config unusable;
// warnings flag values that are probably mistakes but do not block a run.
func Validate(cfg Config) []Issue {
	var issues []Issue

	if cfg.BaseURL == "" {
		issues = append(issues, Issue{SeverityError, "CSV_BASE_URL", "must not be empty"})
	}

	switch cfg.StorageKind {
	case "postgres", "sqlite", "mssql":
	case "":
		issues = append(issues, Issue{SeverityError, "STORAGE_KIND", "must not be empty"})
	default:
		issues = append(issues, Issue{SeverityError, "STORAGE_KIND",
			fmt.Sprintf("unknown backend %q (want postgres, sqlite or mssql)", cfg.StorageKind)})
	}

	if cfg.DSN == "" {
		issues = append(issues, Issue{SeverityError, "DSN", "must not be empty"})
	}

	switch cfg.DatePolicy {
	case "reject", "null":
	default:
		issues = append(issues, Issue{SeverityError, "DATE_POLICY",
			fmt.Sprintf("unknown policy %q (want reject or null)", cfg.DatePolicy)})
	}

	switch cfg.MetricsBackend {
	case "datadog", "none", "":
	default:
		issues = append(issues, Issue{SeverityWarning, "METRICS_BACKEND",
			fmt.Sprintf("unknown backend %q; metrics will be disabled", cfg.MetricsBackend)})
	}
	if cfg.MetricsBackend == "datadog" && os.Getenv("DD_API_KEY") == "" {
		issues = append(issues, Issue{SeverityWarning, "DD_API_KEY",
			"not set; Datadog submissions will fail"})
	}

	if cfg.FetchDelay < 0 {
		issues = append(issues, Issue{SeverityError, "FETCH_DELAY", "must not be negative"})
	}
	if cfg.FetchTimeout < 0 {
		issues = append(issues, Issue{SeverityError, "FETCH_TIMEOUT", "must not be negative"})
	}
	return issues
}

// HasError reports whether any issue has error severity.
func HasError(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parse %s=%q: %w", key, v, err)
	}
	return b, nil
}

func envDuration(key string) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s=%q: %w", key, v, err)
	}
	return d, nil
}
