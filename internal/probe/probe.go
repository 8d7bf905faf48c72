// Package probe inspects a Wahapedia export without touching a database.
//
// It answers two questions ahead of a real import run:
//   - Does every export file still carry the headers the importer expects?
//     Wahapedia occasionally renames or adds columns between editions; the
//     header check surfaces that before rows start getting rejected.
//   - Which CSV links does the export index page actually advertise?
//
// All checks are read-only and best effort: a file that fails to download
// is reported, never fatal to the probe itself.
package probe

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/Oliver-Sheaky/wahapedia-sql-import/internal/catalog"
	"github.com/Oliver-Sheaky/wahapedia-sql-import/internal/parser/csv"
)

// Fetcher supplies one export file body.
type Fetcher interface {
	Fetch(ctx context.Context, file string) ([]byte, error)
}

// FileReport describes one export file's header check.
type FileReport struct {
	File  string
	Table string

	// Err is set when the file could not be fetched or decoded. The
	// header fields are empty in that case.
	Err error

	// Missing lists expected columns the export no longer carries.
	// Extra lists export headers the importer does not know about; extra
	// columns are harmless (they are ignored on import) but worth seeing.
	Missing []string
	Extra   []string

	Records int
}

// OK reports whether the file downloaded, decoded and carried every
// expected column.
func (r FileReport) OK() bool {
	return r.Err == nil && len(r.Missing) == 0
}

// Line renders the report the way the CLI prints it.
func (r FileReport) Line() string {
	var b strings.Builder
	fmt.Fprintf(&b, "file=%s table=%s", r.File, r.Table)
	if r.Err != nil {
		fmt.Fprintf(&b, " error=%q", r.Err.Error())
		return b.String()
	}
	fmt.Fprintf(&b, " records=%d", r.Records)
	if len(r.Missing) > 0 {
		fmt.Fprintf(&b, " missing=%s", strings.Join(r.Missing, ","))
	}
	if len(r.Extra) > 0 {
		fmt.Fprintf(&b, " extra=%s", strings.Join(r.Extra, ","))
	}
	if r.OK() {
		b.WriteString(" ok")
	}
	return b.String()
}

// CheckHeaders fetches every export file and compares its header against
// the expected column set. The marker file is checked too. Reports come
// back in ingestion order.
func CheckHeaders(ctx context.Context, f Fetcher) []FileReport {
	reports := []FileReport{checkMarker(ctx, f)}
	for _, e := range catalog.Entities() {
		reports = append(reports, checkEntity(ctx, f, e))
	}
	return reports
}

func checkMarker(ctx context.Context, f Fetcher) FileReport {
	rep := FileReport{File: catalog.MarkerFile, Table: catalog.MarkerTable}

	t, err := decode(ctx, f, catalog.MarkerFile)
	if err != nil {
		rep.Err = err
		return rep
	}
	rep.Records = len(t.Records)

	if t.Index(catalog.MarkerColumn) < 0 {
		rep.Missing = []string{catalog.MarkerColumn}
	}
	for _, col := range t.Columns {
		if col != catalog.MarkerColumn {
			rep.Extra = append(rep.Extra, col)
		}
	}
	if rep.Err == nil && rep.Records == 0 {
		rep.Err = fmt.Errorf("marker file has no rows")
	}
	return rep
}

func checkEntity(ctx context.Context, f Fetcher, e catalog.Entity) FileReport {
	rep := FileReport{File: e.File, Table: e.Table}

	t, err := decode(ctx, f, e.File)
	if err != nil {
		rep.Err = err
		return rep
	}
	rep.Records = len(t.Records)

	// A column satisfies the check under either its export name or its
	// target name, matching what normalization accepts.
	known := make(map[string]bool, 2*len(e.Columns))
	for _, c := range e.Columns {
		known[c.SourceName()] = true
		known[c.Name] = true

		if t.Index(c.SourceName()) < 0 && t.Index(c.Name) < 0 {
			rep.Missing = append(rep.Missing, c.SourceName())
		}
	}
	for _, col := range t.Columns {
		if !known[col] {
			rep.Extra = append(rep.Extra, col)
		}
	}
	return rep
}

func decode(ctx context.Context, f Fetcher, file string) (*csv.Table, error) {
	body, err := f.Fetch(ctx, file)
	if err != nil {
		return nil, err
	}
	return csv.Decode(bytes.NewReader(body), nil)
}

// DiscoverCSVLinks parses an export index page and returns every .csv href
// in document order, deduplicated.
func DiscoverCSVLinks(r io.Reader) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var links []string
	seen := map[string]bool{}
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if !strings.HasSuffix(strings.ToLower(href), ".csv") {
			return
		}
		if seen[href] {
			return
		}
		seen[href] = true
		links = append(links, href)
	})
	return links, nil
}

// MissingFiles returns the export files the importer needs that the given
// link list does not advertise. Links are matched on their final path
// segment, so absolute and relative hrefs both count.
func MissingFiles(links []string) []string {
	have := make(map[string]bool, len(links))
	for _, l := range links {
		if ix := strings.LastIndexByte(l, '/'); ix >= 0 {
			l = l[ix+1:]
		}
		have[l] = true
	}

	var missing []string
	if !have[catalog.MarkerFile] {
		missing = append(missing, catalog.MarkerFile)
	}
	for _, e := range catalog.Entities() {
		if !have[e.File] {
			missing = append(missing, e.File)
		}
	}
	sort.Strings(missing)
	return missing
}
