// Package csv decodes Wahapedia snapshot exports: pipe-delimited text,
// UTF-8 (optionally with a BOM), first row naming the columns.
package csv

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Delimiter is the field separator used by every export file.
const Delimiter = '|'

// Table is one decoded snapshot: a header and raw records aligned to it.
//
// Records never contain typed values; every field is the raw export text,
// trimmed, with missing trailing fields present as empty strings. Typing is
// the normalizer's job.
type Table struct {
	Columns []string
	Records [][]string

	colIx map[string]int
}

// Index returns the position of a source column, or -1 when the export did
// not carry it.
func (t *Table) Index(column string) int {
	if ix, ok := t.colIx[column]; ok {
		return ix
	}
	return -1
}

// Field returns the raw text of one field by source column name. Missing
// columns read as empty.
func (t *Table) Field(record []string, column string) string {
	ix := t.Index(column)
	if ix < 0 || ix >= len(record) {
		return ""
	}
	return record[ix]
}

// Decode reads one snapshot from r.
//
// Shape handling:
//   - A UTF-8 BOM on the stream is stripped via an encoding transform.
//   - Header names are trimmed; empty header cells (the trailing delimiter
//     Wahapedia appends to every line) are dropped along with their fields.
//   - Records shorter than the header are padded with empty strings; longer
//     records are truncated to the header width.
//
// Malformed lines that the csv reader rejects outright are reported through
// onErr (line number, error) and skipped; they never abort the decode.
func Decode(r io.Reader, onErr func(line int, err error)) (*Table, error) {
	dec := unicode.UTF8.NewDecoder()
	cr := csv.NewReader(transform.NewReader(r, unicode.BOMOverride(dec)))
	cr.Comma = Delimiter
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	line := 0
	readRec := func() ([]string, error) {
		line++
		return cr.Read()
	}

	hdr, err := readRec()
	if err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("empty snapshot")
		}
		return nil, fmt.Errorf("read header: %w", err)
	}

	// keep[i] is the target slot for source field i, or -1 for dropped
	// (empty-named) header cells.
	keep := make([]int, len(hdr))
	t := &Table{colIx: make(map[string]int)}
	for i, h := range hdr {
		h = strings.TrimSpace(h)
		if h == "" {
			keep[i] = -1
			continue
		}
		keep[i] = len(t.Columns)
		t.colIx[h] = len(t.Columns)
		t.Columns = append(t.Columns, h)
	}
	if len(t.Columns) == 0 {
		return nil, fmt.Errorf("snapshot header has no columns")
	}

	for {
		rec, err := readRec()
		if err == io.EOF {
			return t, nil
		}
		if err != nil {
			if onErr != nil {
				onErr(line, fmt.Errorf("csv read: %w", err))
			}
			continue
		}

		row := make([]string, len(t.Columns))
		for i, v := range rec {
			if i >= len(keep) {
				break
			}
			tix := keep[i]
			if tix < 0 {
				continue
			}
			if hasEdgeSpace(v) {
				v = strings.TrimSpace(v)
			}
			row[tix] = v
		}
		t.Records = append(t.Records, row)
	}
}

// hasEdgeSpace reports whether s starts or ends with ASCII whitespace,
// letting the hot loop skip TrimSpace allocations for clean fields.
func hasEdgeSpace(s string) bool {
	if s == "" {
		return false
	}
	switch s[0] {
	case ' ', '\t', '\n', '\r':
		return true
	}
	switch s[len(s)-1] {
	case ' ', '\t', '\n', '\r':
		return true
	}
	return false
}
