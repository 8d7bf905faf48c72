// Package ingest is the ingestion engine: it gates a run on the snapshot's
// freshness marker, normalizes and filters every entity's rows, collapses
// duplicates, and applies the result to the store in dependency order.
package ingest

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/Oliver-Sheaky/wahapedia-sql-import/internal/catalog"
	"github.com/Oliver-Sheaky/wahapedia-sql-import/internal/metrics"
	"github.com/Oliver-Sheaky/wahapedia-sql-import/internal/parser/csv"
	"github.com/Oliver-Sheaky/wahapedia-sql-import/internal/storage"
)

// Logger is the minimal logging interface used by the engine.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// Fetcher supplies one export file body. *fetch.Client satisfies this
// interface; tests inject a map-backed fake.
type Fetcher interface {
	Fetch(ctx context.Context, file string) ([]byte, error)
}

// Options tunes an Engine.
type Options struct {
	// DatePolicy governs malformed date fields. Empty means DateReject.
	DatePolicy DatePolicy

	// Force bypasses the update gate and applies the snapshot regardless
	// of the recorded marker. Safe to repeat: upserts and parent-scoped
	// replacement are idempotent.
	Force bool

	Logger Logger
}

// Engine runs one import: marker gate, then every entity in catalog order,
// then the marker record. Strictly sequential; later entities validate
// foreign keys against earlier steps' results.
type Engine struct {
	repo  storage.Repository
	fetch Fetcher
	norm  Normalizer
	force bool
	logf  func(format string, v ...any)
}

// New builds an Engine. repo and fetcher are required.
func New(repo storage.Repository, fetcher Fetcher, opts Options) *Engine {
	logf := func(string, ...any) {}
	if opts.Logger != nil {
		logf = opts.Logger.Printf
	}
	return &Engine{
		repo:  repo,
		fetch: fetcher,
		norm:  NewNormalizer(opts.DatePolicy),
		force: opts.Force,
		logf:  logf,
	}
}

// Run executes one full import and returns its outcome summary.
//
// The returned Report is never nil. A non-nil error always pairs with
// Outcome == OutcomeAborted and means the freshness marker was NOT recorded,
// so the next run will retry the same snapshot. Row-level rejections are
// counted in the report and never produce an error.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	rep := &Report{}

	marker, err := e.fetchMarker(ctx)
	if err != nil {
		return e.abort(rep, err)
	}
	rep.Marker = marker

	recorded, err := e.repo.MaxLastUpdate(ctx)
	if err != nil {
		return e.abort(rep, fmt.Errorf("read recorded marker: %w", err))
	}
	if d := Decide(recorded, marker); d == DecisionSkip && !e.force {
		e.logf("stage=gate decision=skip marker=%s recorded=%s",
			marker.Format(MarkerLayout), recorded.Format(MarkerLayout))
		rep.Outcome = OutcomeSkipped
		return rep, nil
	}
	e.logf("stage=gate decision=proceed marker=%s", marker.Format(MarkerLayout))

	keys, err := e.seedKeys(ctx)
	if err != nil {
		return e.abort(rep, err)
	}

	for _, ent := range catalog.Entities() {
		start := time.Now()
		er, err := e.runEntity(ctx, ent, keys)
		rep.Entities = append(rep.Entities, er)

		status := "ok"
		if err != nil {
			status = "error"
		}
		lbl := metrics.Labels{"step": ent.Table, "status": status}
		metrics.IncCounter(metrics.ImportStepTotal, 1, lbl)
		metrics.ObserveHistogram(metrics.ImportStepDurationSeconds, time.Since(start).Seconds(), lbl)

		if err != nil {
			return e.abort(rep, fmt.Errorf("%s: %w", ent.Table, err))
		}
	}

	if err := e.repo.RecordLastUpdate(ctx, marker); err != nil {
		return e.abort(rep, fmt.Errorf("record marker: %w", err))
	}

	rep.Outcome = OutcomeCompleted
	return rep, nil
}

func (e *Engine) abort(rep *Report, err error) (*Report, error) {
	rep.Outcome = OutcomeAborted
	rep.Err = err
	return rep, err
}

func (e *Engine) fetchMarker(ctx context.Context) (time.Time, error) {
	body, err := e.fetch.Fetch(ctx, catalog.MarkerFile)
	if err != nil {
		return time.Time{}, fmt.Errorf("fetch %s: %w", catalog.MarkerFile, err)
	}
	tbl, err := csv.Decode(bytes.NewReader(body), nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("decode %s: %w", catalog.MarkerFile, err)
	}
	return MarkerFromTable(tbl)
}

// seedKeys loads the store's current key sets for every upserted entity, so
// the integrity filter sees keys from prior runs as valid reference targets.
// Keys introduced during this run are added as each step completes.
func (e *Engine) seedKeys(ctx context.Context) (KeySet, error) {
	keys := NewKeySet()
	for _, ent := range catalog.Entities() {
		if !ent.Stamped() {
			continue
		}
		ids, err := e.repo.SelectKeys(ctx, ent.Table, ent.Key[0])
		if err != nil {
			return nil, fmt.Errorf("select keys %s: %w", ent.Table, err)
		}
		keys.AddAll(ent.Table, ids)
	}
	return keys, nil
}

func (e *Engine) runEntity(ctx context.Context, ent catalog.Entity, keys KeySet) (EntityReport, error) {
	er := EntityReport{Table: ent.Table}
	start := time.Now()

	body, err := e.fetch.Fetch(ctx, ent.File)
	if err != nil {
		return er, fmt.Errorf("fetch %s: %w", ent.File, err)
	}

	var malformed []Reject
	tbl, err := csv.Decode(bytes.NewReader(body), func(line int, derr error) {
		malformed = append(malformed, Reject{Line: line, Reason: ReasonMalformedLine})
		e.logf("stage=decode file=%s line=%d err=%v", ent.File, line, derr)
	})
	if err != nil {
		return er, fmt.Errorf("decode %s: %w", ent.File, err)
	}
	er.Read = len(tbl.Records)
	er.addRejects(malformed)

	rows, rejects := e.norm.Rows(ent, tbl)
	er.addRejects(rejects)

	rows, rejects = Filter(ent, rows, keys)
	er.addRejects(rejects)

	rows, er.Duplicates = Dedupe(ent, rows)

	switch ent.Kind {
	case catalog.KindChild, catalog.KindJunction:
		err = e.replaceByParent(ctx, ent, rows, &er)
	default:
		err = e.upsertByKey(ctx, ent, rows, keys, &er)
	}
	if err != nil {
		return er, err
	}

	e.logf("stage=ingest table=%s read=%d inserted=%d updated=%d replaced=%d cleared=%d duplicates=%d rejected=%d duration=%s",
		ent.Table, er.Read, er.Inserted, er.Updated, er.Replaced, er.Cleared,
		er.Duplicates, er.RejectedTotal(), time.Since(start).Truncate(time.Millisecond))
	emitRowMetrics(ent.Table, er)
	return er, nil
}

// upsertByKey applies an independent/central entity: merge by primary key,
// never delete. Inserted vs updated is decided by key-set membership, which
// keeps the split backend-independent.
func (e *Engine) upsertByKey(ctx context.Context, ent catalog.Entity, rows []Row, keys KeySet, er *EntityReport) error {
	ix := targetIndex(ent, ent.Key[0])
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		id, _ := row[ix].(string)
		if keys.Has(ent.Table, id) {
			er.Updated++
		} else {
			er.Inserted++
		}
		ids = append(ids, id)
	}

	if len(rows) > 0 {
		if err := e.repo.UpsertRows(ctx, ent, toStoreRows(rows)); err != nil {
			return fmt.Errorf("upsert: %w", err)
		}
	}
	keys.AddAll(ent.Table, ids)
	return nil
}

// replaceByParent applies a child/junction entity: clear every owning parent
// present in the batch with one set-membership delete, then write the new
// row set. The write still merges by composite key, so a retry after a
// partial failure cannot raise a constraint violation.
func (e *Engine) replaceByParent(ctx context.Context, ent catalog.Entity, rows []Row, er *EntityReport) error {
	ix := targetIndex(ent, ent.ParentKey)
	parents := make([]string, 0, len(rows))
	seen := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		p, _ := row[ix].(string)
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		parents = append(parents, p)
	}

	if len(parents) > 0 {
		n, err := e.repo.DeleteByKeys(ctx, ent.Table, ent.ParentKey, parents)
		if err != nil {
			return fmt.Errorf("clear parents: %w", err)
		}
		er.Cleared = n
	}

	if len(rows) > 0 {
		if err := e.repo.UpsertRows(ctx, ent, toStoreRows(rows)); err != nil {
			return fmt.Errorf("insert: %w", err)
		}
	}
	er.Replaced = len(rows)
	return nil
}

func toStoreRows(rows []Row) [][]any {
	out := make([][]any, len(rows))
	for i, r := range rows {
		out[i] = r
	}
	return out
}

func emitRowMetrics(table string, er EntityReport) {
	counts := map[string]int{
		"inserted":  er.Inserted,
		"updated":   er.Updated,
		"replaced":  er.Replaced,
		"duplicate": er.Duplicates,
		"rejected":  er.RejectedTotal(),
	}
	for kind, n := range counts {
		if n == 0 {
			continue
		}
		metrics.IncCounter(metrics.ImportRowsTotal, float64(n), metrics.Labels{"entity": table, "kind": kind})
	}
}
