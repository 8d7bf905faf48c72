package ingest

import "github.com/Oliver-Sheaky/wahapedia-sql-import/internal/catalog"

// KeySet tracks the valid key values per entity table, combining keys already
// in the store with keys introduced earlier in the same run. The integrity
// filter checks foreign keys against this, so order matters: an entity's keys
// must be added before any entity referencing it is filtered.
type KeySet map[string]map[string]struct{}

// NewKeySet returns an empty key set.
func NewKeySet() KeySet { return make(KeySet) }

// Add records one valid key for a table.
func (s KeySet) Add(table, key string) {
	m, ok := s[table]
	if !ok {
		m = make(map[string]struct{})
		s[table] = m
	}
	m[key] = struct{}{}
}

// AddAll records a batch of valid keys for a table.
func (s KeySet) AddAll(table string, keys []string) {
	for _, k := range keys {
		s.Add(table, k)
	}
}

// Has reports whether a key is valid for a table.
func (s KeySet) Has(table, key string) bool {
	_, ok := s[table][key]
	return ok
}

// Len returns how many keys a table holds.
func (s KeySet) Len(table string) int { return len(s[table]) }

// Filter drops rows carrying a foreign key that resolves to no known row.
//
// NULL reference fields pass: an optional reference normalized to NULL has
// nothing to resolve. Non-empty values must resolve even on optional
// references; a present-but-dangling id means the export and the store
// disagree, and storing it would break the referential invariant.
func Filter(e catalog.Entity, rows []Row, keys KeySet) ([]Row, []Reject) {
	if len(e.Refs) == 0 {
		return rows, nil
	}

	refIx := make([]int, len(e.Refs))
	for i, ref := range e.Refs {
		refIx[i] = targetIndex(e, ref.Column)
	}

	kept := rows[:0]
	var rejects []Reject

row:
	for _, row := range rows {
		for i, ref := range e.Refs {
			v, ok := row[refIx[i]].(string)
			if !ok || v == "" {
				continue
			}
			if !keys.Has(ref.Table, v) {
				rejects = append(rejects, Reject{Reason: ReasonDanglingRef, Field: ref.Column, Value: v})
				continue row
			}
		}
		kept = append(kept, row)
	}
	return kept, rejects
}
