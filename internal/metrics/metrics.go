// Package metrics is a minimal metrics facade for the importer.
//
// Core packages emit counters and histograms through package-level functions
// and never depend on a vendor SDK. A process wires a concrete Backend at
// startup (see metrics/datadog); until then every call is a no-op.
package metrics

import "sync"

// Labels are free-form metric labels. Backends decide which labels they
// understand for which metric and ignore the rest.
type Labels map[string]string

// Backend is the minimal sink interface.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

// Metric names emitted by the importer.
const (
	// ImportStepTotal counts entity steps by step name and status (ok/error).
	ImportStepTotal = "import_step_total"

	// ImportStepDurationSeconds observes per-step wall time.
	ImportStepDurationSeconds = "import_step_duration_seconds"

	// ImportRowsTotal counts rows by kind:
	// inserted, updated, replaced, rejected, duplicate.
	ImportRowsTotal = "import_rows_total"

	// HTTP fetch metrics, labeled by status code.
	HTTPRequestsTotal          = "import_http_requests_total"
	HTTPErrorsTotal            = "import_http_errors_total"
	HTTPRequestDurationSeconds = "import_http_request_duration_seconds"
	HTTPDownloadBytes          = "import_http_download_bytes"
)

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs the process-wide metrics backend.
func SetBackend(b Backend) {
	if b == nil {
		b = nopBackend{}
	}
	mu.Lock()
	backend = b
	mu.Unlock()
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// IncCounter increments a counter on the installed backend.
func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

// ObserveHistogram records a histogram sample on the installed backend.
func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// Flush forces the installed backend to submit buffered metrics.
func Flush() error {
	return current().Flush()
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }
