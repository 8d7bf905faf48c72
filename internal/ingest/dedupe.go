package ingest

import (
	"fmt"
	"strings"

	"github.com/Oliver-Sheaky/wahapedia-sql-import/internal/catalog"
)

// Dedupe collapses rows sharing the entity's logical key to one row each,
// keeping the last-seen version in source order. A duplicate overwrites the
// earlier row in place, so first-seen ordering is preserved.
//
// Runs after normalization (key fields are canonical) and after filtering
// (rows compared here will all reach the store).
func Dedupe(e catalog.Entity, rows []Row) ([]Row, int) {
	keyIx := keyIndexes(e)

	out := rows[:0]
	seen := make(map[string]int, len(rows))
	dropped := 0

	for _, row := range rows {
		k := keyOf(row, keyIx)
		if pos, ok := seen[k]; ok {
			out[pos] = row
			dropped++
			continue
		}
		seen[k] = len(out)
		out = append(out, row)
	}
	return out, dropped
}

// keyOf renders the key fields of a row as one comparable string. Unit
// separator keeps composite parts from colliding ("a"+"bc" vs "ab"+"c").
func keyOf(row Row, keyIx []int) string {
	if len(keyIx) == 1 {
		return keyField(row[keyIx[0]])
	}
	parts := make([]string, len(keyIx))
	for i, ix := range keyIx {
		parts[i] = keyField(row[ix])
	}
	return strings.Join(parts, "\x1f")
}

func keyField(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case int64:
		return fmt.Sprintf("%d", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
