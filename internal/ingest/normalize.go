package ingest

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Oliver-Sheaky/wahapedia-sql-import/internal/catalog"
	"github.com/Oliver-Sheaky/wahapedia-sql-import/internal/parser/csv"
)

// Row is one canonical row: values aligned index-for-index with the entity's
// TargetColumns. Values are string, bool, int64, or nil.
type Row []any

// DatePolicy decides what happens to a date field that matches no accepted
// shape. Empty dates are always stored as NULL regardless of policy.
type DatePolicy string

const (
	// DateReject rejects the whole row. This is the default: an errata date
	// that silently turns into NULL is a data loss nobody notices.
	DateReject DatePolicy = "reject"

	// DateNull stores NULL for the field and keeps the row.
	DateNull DatePolicy = "null"
)

// ParseDatePolicy validates a policy string from config.
func ParseDatePolicy(s string) (DatePolicy, error) {
	switch DatePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", DateReject:
		return DateReject, nil
	case DateNull:
		return DateNull, nil
	}
	return "", fmt.Errorf("unknown date policy %q (want %q or %q)", s, DateReject, DateNull)
}

// exportDateLayout is the day-first shape dates arrive in. A trailing time
// component is accepted and discarded.
const exportDateLayout = "02.01.2006"

// Normalizer converts raw decoded records into canonical rows.
type Normalizer struct {
	policy DatePolicy
}

// NewNormalizer builds a Normalizer. An empty policy means DateReject.
func NewNormalizer(policy DatePolicy) Normalizer {
	if policy == "" {
		policy = DateReject
	}
	return Normalizer{policy: policy}
}

// Rows normalizes every record of one decoded export for one entity.
//
// Per record it reconciles source headers to target columns, converts typed
// fields, substitutes defaults for blank required foreign keys, and checks
// that every key field is populated. A record failing any of these becomes a
// Reject instead of a Row; the rest of the batch is unaffected.
func (n Normalizer) Rows(e catalog.Entity, t *csv.Table) ([]Row, []Reject) {
	// src[i] is the record index feeding target column i, or -1 when the
	// export carries neither the source nor the target name.
	src := make([]int, len(e.Columns))
	for i, col := range e.Columns {
		ix := t.Index(col.SourceName())
		if ix < 0 && col.Source != "" {
			ix = t.Index(col.Name)
		}
		src[i] = ix
	}

	keyIx := keyIndexes(e)

	rows := make([]Row, 0, len(t.Records))
	var rejects []Reject

record:
	for ri, rec := range t.Records {
		line := ri + 1
		row := make(Row, len(e.Columns))

		for i, col := range e.Columns {
			raw := ""
			if ix := src[i]; ix >= 0 && ix < len(rec) {
				raw = rec[ix]
			}

			switch col.Type {
			case catalog.TypeBool:
				row[i] = strings.EqualFold(raw, "true")
			case catalog.TypeInt:
				if raw == "" {
					row[i] = nil
					break
				}
				v, err := strconv.ParseInt(raw, 10, 64)
				if err != nil {
					rejects = append(rejects, Reject{Line: line, Reason: ReasonBadInt, Field: col.Name, Value: raw})
					continue record
				}
				row[i] = v
			case catalog.TypeDate:
				if raw == "" {
					row[i] = nil
					break
				}
				iso, err := normalizeDate(raw)
				if err != nil {
					if n.policy == DateNull {
						row[i] = nil
						break
					}
					rejects = append(rejects, Reject{Line: line, Reason: ReasonBadDate, Field: col.Name, Value: raw})
					continue record
				}
				row[i] = iso
			default:
				row[i] = raw
			}
		}

		for _, ref := range e.Refs {
			ix := targetIndex(e, ref.Column)
			if s, _ := row[ix].(string); s == "" {
				switch {
				case ref.Default != "":
					row[ix] = ref.Default
				case ref.Optional:
					row[ix] = nil
				}
			}
		}

		for _, ix := range keyIx {
			if emptyKeyField(row[ix]) {
				rejects = append(rejects, Reject{Line: line, Reason: ReasonEmptyKey, Field: e.Columns[ix].Name})
				continue record
			}
		}

		rows = append(rows, row)
	}
	return rows, rejects
}

// normalizeDate converts a day-first export date to year-month-day, dropping
// any time component.
func normalizeDate(raw string) (string, error) {
	datePart, _, _ := strings.Cut(raw, " ")
	d, err := time.Parse(exportDateLayout, datePart)
	if err != nil {
		return "", err
	}
	return d.Format("2006-01-02"), nil
}

func emptyKeyField(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

// targetIndex returns the position of a target column within the entity's
// column list. The catalog is static and unit-tested, so a miss is a
// programming error.
func targetIndex(e catalog.Entity, name string) int {
	for i, c := range e.Columns {
		if c.Name == name {
			return i
		}
	}
	panic(fmt.Sprintf("ingest: entity %s has no column %s", e.Table, name))
}

func keyIndexes(e catalog.Entity) []int {
	out := make([]int, len(e.Key))
	for i, k := range e.Key {
		out[i] = targetIndex(e, k)
	}
	return out
}
