package ingest

import (
	"fmt"
	"strings"
	"time"

	"github.com/Oliver-Sheaky/wahapedia-sql-import/internal/catalog"
	"github.com/Oliver-Sheaky/wahapedia-sql-import/internal/parser/csv"
)

// MarkerLayout is the timestamp layout of the export freshness marker.
// Wahapedia publishes it without a zone; it is read as UTC.
const MarkerLayout = "2006-01-02 15:04:05"

// Decision is the update gate's verdict for one run.
type Decision string

const (
	DecisionProceed Decision = "proceed"
	DecisionSkip    Decision = "skip"
)

// ParseMarker parses a freshness marker string in UTC.
func ParseMarker(s string) (time.Time, error) {
	t, err := time.ParseInLocation(MarkerLayout, strings.TrimSpace(s), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse freshness marker %q: %w", s, err)
	}
	return t, nil
}

// MarkerFromTable extracts the freshness marker from the decoded marker file.
//
// Edge cases:
//   - The file carries exactly one data row; extra rows are ignored and the
//     first one wins.
//   - A missing row or an unparseable value is an error: without a marker the
//     gate cannot run, so the whole run is fatal.
func MarkerFromTable(t *csv.Table) (time.Time, error) {
	if len(t.Records) == 0 {
		return time.Time{}, fmt.Errorf("%s: no marker row", catalog.MarkerFile)
	}
	return ParseMarker(t.Field(t.Records[0], catalog.MarkerColumn))
}

// Decide is the update gate: SKIP when a marker is already recorded and the
// incoming one is not strictly newer, PROCEED otherwise.
//
// recorded is nil when the store has never completed a run.
func Decide(recorded *time.Time, incoming time.Time) Decision {
	if recorded != nil && !incoming.After(*recorded) {
		return DecisionSkip
	}
	return DecisionProceed
}
