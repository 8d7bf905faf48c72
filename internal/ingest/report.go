package ingest

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Outcome is how a run ended. Every run ends in exactly one of these; there
// is no silent partial success.
type Outcome string

const (
	// OutcomeSkipped means the update gate found no newer data.
	OutcomeSkipped Outcome = "skipped"

	// OutcomeCompleted means every entity step ran and the marker was
	// recorded. Row-level rejections do not prevent this outcome.
	OutcomeCompleted Outcome = "completed"

	// OutcomeAborted means a structural failure (fetch, store) stopped the
	// run before the marker was recorded.
	OutcomeAborted Outcome = "aborted"
)

// RejectReason classifies a row-scoped rejection.
type RejectReason string

const (
	// ReasonMalformedLine is a line the csv reader could not parse at all.
	ReasonMalformedLine RejectReason = "malformed_line"

	// ReasonBadDate is a date field that matched no accepted shape.
	ReasonBadDate RejectReason = "bad_date"

	// ReasonBadInt is a non-numeric value in an ordinal column.
	ReasonBadInt RejectReason = "bad_int"

	// ReasonEmptyKey is a blank field inside the entity's logical key.
	ReasonEmptyKey RejectReason = "empty_key"

	// ReasonDanglingRef is a foreign key that resolves to no known row.
	ReasonDanglingRef RejectReason = "dangling_ref"
)

// Reject is one rejected row. Line is the 1-based data record ordinal when
// known, 0 when the rejection happened after record identity was lost.
type Reject struct {
	Line   int
	Reason RejectReason
	Field  string
	Value  string
}

// EntityReport is the outcome summary for one entity step.
type EntityReport struct {
	Table string

	// Read counts raw data records decoded from the export.
	Read int

	// Inserted and Updated apply to independent/central entities.
	Inserted int
	Updated  int

	// Replaced counts rows written through parent-scoped replacement, and
	// Cleared the old rows deleted ahead of them.
	Replaced int
	Cleared  int64

	// Duplicates counts rows collapsed by the deduplicator.
	Duplicates int

	Rejected map[RejectReason]int
}

// RejectedTotal sums rejections across reasons.
func (r EntityReport) RejectedTotal() int {
	n := 0
	for _, c := range r.Rejected {
		n += c
	}
	return n
}

func (r *EntityReport) addRejects(rejects []Reject) {
	if len(rejects) == 0 {
		return
	}
	if r.Rejected == nil {
		r.Rejected = make(map[RejectReason]int)
	}
	for _, rej := range rejects {
		r.Rejected[rej.Reason]++
	}
}

// Report is the full run outcome summary.
type Report struct {
	Outcome Outcome
	Marker  time.Time
	Err     error

	// Entities holds one report per completed or attempted entity step, in
	// ingestion order. Empty when the gate skipped.
	Entities []EntityReport
}

// RejectedTotal sums rejections across every entity step.
func (r Report) RejectedTotal() int {
	n := 0
	for _, e := range r.Entities {
		n += e.RejectedTotal()
	}
	return n
}

// Summary renders the one-line outcome the CLI prints last.
func (r Report) Summary() string {
	switch r.Outcome {
	case OutcomeSkipped:
		return "skipped (up to date)"
	case OutcomeAborted:
		return fmt.Sprintf("aborted (%v)", r.Err)
	default:
		if n := r.RejectedTotal(); n > 0 {
			return fmt.Sprintf("completed with %d rejected rows", n)
		}
		return "completed"
	}
}

// Lines renders one log line per entity step plus the summary line.
func (r Report) Lines() []string {
	out := make([]string, 0, len(r.Entities)+1)
	for _, e := range r.Entities {
		var b strings.Builder
		fmt.Fprintf(&b, "table=%s read=%d", e.Table, e.Read)
		if e.Inserted > 0 || e.Updated > 0 {
			fmt.Fprintf(&b, " inserted=%d updated=%d", e.Inserted, e.Updated)
		}
		if e.Replaced > 0 || e.Cleared > 0 {
			fmt.Fprintf(&b, " replaced=%d cleared=%d", e.Replaced, e.Cleared)
		}
		if e.Duplicates > 0 {
			fmt.Fprintf(&b, " duplicates=%d", e.Duplicates)
		}
		if len(e.Rejected) > 0 {
			reasons := make([]string, 0, len(e.Rejected))
			for reason, c := range e.Rejected {
				reasons = append(reasons, fmt.Sprintf("%s:%d", reason, c))
			}
			sort.Strings(reasons)
			fmt.Fprintf(&b, " rejected=%s", strings.Join(reasons, ","))
		}
		out = append(out, b.String())
	}
	out = append(out, r.Summary())
	return out
}
