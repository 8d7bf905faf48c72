package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/Oliver-Sheaky/wahapedia-sql-import/internal/catalog"
)

// fakeFetcher serves export bodies from a map.
type fakeFetcher struct {
	files  map[string]string
	errFor map[string]error
}

func (f *fakeFetcher) Fetch(_ context.Context, file string) ([]byte, error) {
	if err := f.errFor[file]; err != nil {
		return nil, err
	}
	body, ok := f.files[file]
	if !ok {
		return nil, fmt.Errorf("no such file %s", file)
	}
	return []byte(body), nil
}

// fakeRepo is an in-memory Repository keyed the same way the engine keys
// rows, so idempotence and replacement assertions read actual final state.
type fakeRepo struct {
	rows    map[string]map[string]Row
	markers []time.Time

	upsertErr map[string]error
	deleteErr map[string]error
	recordErr error

	// writes logs table names in call order, marker appended as "marker".
	writes []string
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{rows: make(map[string]map[string]Row)}
}

func (r *fakeRepo) Close() {}

func (r *fakeRepo) EnsureSchema(context.Context) error { return nil }

func (r *fakeRepo) CountRows(_ context.Context, table string) (int64, error) {
	return int64(len(r.rows[table])), nil
}

func (r *fakeRepo) MaxLastUpdate(context.Context) (*time.Time, error) {
	var max *time.Time
	for i := range r.markers {
		if max == nil || r.markers[i].After(*max) {
			max = &r.markers[i]
		}
	}
	return max, nil
}

func (r *fakeRepo) RecordLastUpdate(_ context.Context, marker time.Time) error {
	if r.recordErr != nil {
		return r.recordErr
	}
	r.markers = append(r.markers, marker)
	r.writes = append(r.writes, "marker")
	return nil
}

func (r *fakeRepo) SelectKeys(_ context.Context, table, column string) ([]string, error) {
	ent, ok := catalog.ByTable(table)
	if !ok {
		return nil, fmt.Errorf("unknown table %s", table)
	}
	ix := targetIndex(ent, column)
	seen := make(map[string]struct{})
	var out []string
	for _, row := range r.rows[table] {
		if v, ok := row[ix].(string); ok && v != "" {
			if _, dup := seen[v]; !dup {
				seen[v] = struct{}{}
				out = append(out, v)
			}
		}
	}
	return out, nil
}

func (r *fakeRepo) UpsertRows(_ context.Context, e catalog.Entity, rows [][]any) error {
	if err := r.upsertErr[e.Table]; err != nil {
		return err
	}
	m := r.rows[e.Table]
	if m == nil {
		m = make(map[string]Row)
		r.rows[e.Table] = m
	}
	keyIx := keyIndexes(e)
	for _, row := range rows {
		m[keyOf(row, keyIx)] = Row(row)
	}
	r.writes = append(r.writes, e.Table)
	return nil
}

func (r *fakeRepo) DeleteByKeys(_ context.Context, table, column string, keys []string) (int64, error) {
	if !catalog.KnownTable(table) {
		return 0, fmt.Errorf("unknown table %s", table)
	}
	if err := r.deleteErr[table]; err != nil {
		return 0, err
	}
	ent, _ := catalog.ByTable(table)
	ix := targetIndex(ent, column)
	in := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		in[k] = struct{}{}
	}
	var n int64
	for k, row := range r.rows[table] {
		if v, _ := row[ix].(string); v != "" {
			if _, hit := in[v]; hit {
				delete(r.rows[table], k)
				n++
			}
		}
	}
	return n, nil
}

func (r *fakeRepo) count(table string) int { return len(r.rows[table]) }

func (r *fakeRepo) field(t *testing.T, table string, key []any, column string) any {
	t.Helper()
	ent := mustEntity(t, table)
	row, ok := r.rows[table][keyOf(key, keyIndexes(ent))]
	if !ok {
		t.Fatalf("%s: no row with key %v", table, key)
	}
	return row[targetIndex(ent, column)]
}

// headerFor renders the export header line for an entity, source vocabulary,
// with Wahapedia's trailing delimiter.
func headerFor(e catalog.Entity) string {
	parts := make([]string, len(e.Columns))
	for i, c := range e.Columns {
		parts[i] = c.SourceName()
	}
	return strings.Join(parts, "|") + "|\n"
}

// snapshotFiles builds a full snapshot of header-only exports plus the
// marker. Tests append data lines to the files they care about.
func snapshotFiles(marker string) map[string]string {
	files := map[string]string{
		catalog.MarkerFile: "last_update|\n" + marker + "|\n",
	}
	for _, e := range catalog.Entities() {
		files[e.File] = headerFor(e)
	}
	return files
}

func addLine(files map[string]string, file, line string) {
	files[file] += line + "\n"
}

func runEngine(t *testing.T, repo *fakeRepo, files map[string]string, opts Options) (*Report, error) {
	t.Helper()
	eng := New(repo, &fakeFetcher{files: files}, opts)
	return eng.Run(context.Background())
}

// baseSnapshot is a small but fully linked snapshot: one faction, one
// source, one stratagem, one datasheet with keywords, one junction row.
func baseSnapshot(marker string) map[string]string {
	files := snapshotFiles(marker)
	addLine(files, "Factions.csv", "AC|Adeptus Custodes|http://wahapedia.ru/AC|")
	addLine(files, "Factions.csv", "UN|Unaligned Forces||")
	addLine(files, "Source.csv", "000000012|Balance Dataslate|dataslate|10th|1.0|09.07.2025||")
	addLine(files, "Stratagems.csv", "S1|AC|Avenge The Fallen|Battle Tactic|1||Any|Fight|text|Shield Host|")
	addLine(files, "Datasheets.csv", "D1|Custodian Guard|AC|000000012||Battleline|||false||||||")
	addLine(files, "Datasheets_keywords.csv", "D1|Infantry||false|")
	addLine(files, "Datasheets_keywords.csv", "D1|Imperium||true|")
	addLine(files, "Datasheets_stratagems.csv", "D1|S1|")
	return files
}

func TestRunCompletesAndRecordsMarker(t *testing.T) {
	repo := newFakeRepo()
	rep, err := runEngine(t, repo, baseSnapshot("2025-07-09 10:00:00"), Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Outcome != OutcomeCompleted {
		t.Fatalf("outcome = %s", rep.Outcome)
	}
	if len(repo.markers) != 1 || !repo.markers[0].Equal(time.Date(2025, 7, 9, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("markers = %v", repo.markers)
	}
	if got := repo.count("factions"); got != 2 {
		t.Errorf("factions = %d, want 2", got)
	}
	if got := repo.count("datasheets_keywords"); got != 2 {
		t.Errorf("keywords = %d, want 2", got)
	}
	if got := repo.field(t, "datasheets", []any{"D1"}, "name"); got != "Custodian Guard" {
		t.Errorf("datasheet name = %v", got)
	}
	// the marker write is last, after every entity step
	if len(repo.writes) == 0 || repo.writes[len(repo.writes)-1] != "marker" {
		t.Errorf("writes = %v, want marker last", repo.writes)
	}
	if rep.RejectedTotal() != 0 {
		t.Errorf("rejected = %d, want 0", rep.RejectedTotal())
	}
}

func TestGateSkipsStaleMarker(t *testing.T) {
	repo := newFakeRepo()
	repo.markers = []time.Time{time.Date(2025, 7, 9, 10, 0, 0, 0, time.UTC)}

	rep, err := runEngine(t, repo, baseSnapshot("2025-07-09 10:00:00"), Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Outcome != OutcomeSkipped {
		t.Fatalf("outcome = %s", rep.Outcome)
	}
	if len(rep.Entities) != 0 {
		t.Errorf("entity steps ran on skip: %v", rep.Entities)
	}
	if repo.count("factions") != 0 || len(repo.writes) != 0 {
		t.Errorf("skip must be a no-op, writes=%v", repo.writes)
	}
}

func TestGateOrdering(t *testing.T) {
	repo := newFakeRepo()

	// m1 then m2 proceeds both times
	if rep, err := runEngine(t, repo, baseSnapshot("2025-07-01 00:00:00"), Options{}); err != nil || rep.Outcome != OutcomeCompleted {
		t.Fatalf("m1: outcome=%v err=%v", rep.Outcome, err)
	}
	if rep, err := runEngine(t, repo, baseSnapshot("2025-07-09 00:00:00"), Options{}); err != nil || rep.Outcome != OutcomeCompleted {
		t.Fatalf("m2: outcome=%v err=%v", rep.Outcome, err)
	}

	// m1 again is stale
	rep, err := runEngine(t, repo, baseSnapshot("2025-07-01 00:00:00"), Options{})
	if err != nil || rep.Outcome != OutcomeSkipped {
		t.Fatalf("stale m1: outcome=%v err=%v", rep.Outcome, err)
	}
}

func TestForceBypassesGate(t *testing.T) {
	repo := newFakeRepo()
	files := baseSnapshot("2025-07-09 10:00:00")

	if _, err := runEngine(t, repo, files, Options{}); err != nil {
		t.Fatalf("first run: %v", err)
	}
	rep, err := runEngine(t, repo, files, Options{Force: true})
	if err != nil {
		t.Fatalf("forced run: %v", err)
	}
	if rep.Outcome != OutcomeCompleted {
		t.Errorf("outcome = %s, want completed", rep.Outcome)
	}
}

func TestIdempotence(t *testing.T) {
	repo := newFakeRepo()
	files := baseSnapshot("2025-07-09 10:00:00")

	rep1, err := runEngine(t, repo, files, Options{})
	if err != nil {
		t.Fatalf("run 1: %v", err)
	}
	counts := map[string]int{}
	for table := range repo.rows {
		counts[table] = repo.count(table)
	}

	rep2, err := runEngine(t, repo, files, Options{Force: true})
	if err != nil {
		t.Fatalf("run 2: %v", err)
	}
	for table, want := range counts {
		if got := repo.count(table); got != want {
			t.Errorf("%s: count %d after rerun, want %d", table, got, want)
		}
	}

	// everything inserted the first time is an update the second time
	for i, er := range rep2.Entities {
		if er.Inserted != 0 {
			t.Errorf("%s: rerun inserted %d rows", er.Table, er.Inserted)
		}
		if er.Updated != rep1.Entities[i].Inserted {
			t.Errorf("%s: rerun updated=%d, first-run inserted=%d", er.Table, er.Updated, rep1.Entities[i].Inserted)
		}
	}
}

func TestChildFullReplacement(t *testing.T) {
	repo := newFakeRepo()

	run1 := baseSnapshot("2025-07-01 00:00:00")
	addLine(run1, "Datasheets_abilities.csv", "D1|1||6\"|Ability A|text||")
	addLine(run1, "Datasheets_abilities.csv", "D1|2||6\"|Ability B|text||")
	addLine(run1, "Datasheets_abilities.csv", "D1|3||6\"|Ability C|text||")
	if _, err := runEngine(t, repo, run1, Options{}); err != nil {
		t.Fatalf("run 1: %v", err)
	}
	if got := repo.count("datasheets_abilities"); got != 3 {
		t.Fatalf("after run 1: %d rows, want 3", got)
	}

	run2 := baseSnapshot("2025-07-09 00:00:00")
	addLine(run2, "Datasheets_abilities.csv", "D1|2||6\"|Ability B|text||")
	addLine(run2, "Datasheets_abilities.csv", "D1|4||6\"|Ability D|text||")
	rep, err := runEngine(t, repo, run2, Options{})
	if err != nil {
		t.Fatalf("run 2: %v", err)
	}
	if got := repo.count("datasheets_abilities"); got != 2 {
		t.Fatalf("after run 2: %d rows, want exactly {B,D}", got)
	}
	if got := repo.field(t, "datasheets_abilities", []any{"D1", int64(2)}, "name"); got != "Ability B" {
		t.Errorf("line 2 = %v", got)
	}
	if got := repo.field(t, "datasheets_abilities", []any{"D1", int64(4)}, "name"); got != "Ability D" {
		t.Errorf("line 4 = %v", got)
	}

	var er *EntityReport
	for i := range rep.Entities {
		if rep.Entities[i].Table == "datasheets_abilities" {
			er = &rep.Entities[i]
		}
	}
	if er == nil || er.Replaced != 2 || er.Cleared != 3 {
		t.Errorf("report = %+v, want replaced=2 cleared=3", er)
	}
}

func TestUntouchedParentKeepsChildren(t *testing.T) {
	repo := newFakeRepo()

	run1 := baseSnapshot("2025-07-01 00:00:00")
	addLine(run1, "Datasheets.csv", "D2|Blade Champion|AC|000000012||Character|||false||||||")
	addLine(run1, "Datasheets_keywords.csv", "D2|Character||false|")
	if _, err := runEngine(t, repo, run1, Options{}); err != nil {
		t.Fatalf("run 1: %v", err)
	}

	// run 2 carries keyword rows for D1 only; D2's set must survive
	run2 := baseSnapshot("2025-07-09 00:00:00")
	addLine(run2, "Datasheets.csv", "D2|Blade Champion|AC|000000012||Character|||false||||||")
	if _, err := runEngine(t, repo, run2, Options{}); err != nil {
		t.Fatalf("run 2: %v", err)
	}
	if got := repo.field(t, "datasheets_keywords", []any{"D2", "Character"}, "keyword"); got != "Character" {
		t.Errorf("D2 keyword gone: %v", got)
	}
}

func TestOrphanFiltering(t *testing.T) {
	repo := newFakeRepo()
	files := baseSnapshot("2025-07-09 10:00:00")
	addLine(files, "Datasheets_keywords.csv", "D9|Orphan||false|")

	rep, err := runEngine(t, repo, files, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, er := range rep.Entities {
		if er.Table == "datasheets_keywords" {
			if er.Rejected[ReasonDanglingRef] != 1 {
				t.Errorf("rejected = %v, want one dangling_ref", er.Rejected)
			}
		}
	}
	if got := repo.count("datasheets_keywords"); got != 2 {
		t.Errorf("keywords = %d, orphan must be absent", got)
	}
}

func TestDefaultSubstitutionStored(t *testing.T) {
	repo := newFakeRepo()
	files := baseSnapshot("2025-07-09 10:00:00")
	addLine(files, "Datasheets.csv", "D3|Agent of the Imperium|||||||false||||||")

	if _, err := runEngine(t, repo, files, Options{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := repo.field(t, "datasheets", []any{"D3"}, "faction_id"); got != catalog.DefaultFactionID {
		t.Errorf("faction_id = %v, want %s", got, catalog.DefaultFactionID)
	}
	if got := repo.field(t, "datasheets", []any{"D3"}, "source_id"); got != catalog.DefaultSourceID {
		t.Errorf("source_id = %v, want %s", got, catalog.DefaultSourceID)
	}
}

func TestInsertedVsUpdatedCounts(t *testing.T) {
	repo := newFakeRepo()
	if _, err := runEngine(t, repo, baseSnapshot("2025-07-01 00:00:00"), Options{}); err != nil {
		t.Fatalf("seed run: %v", err)
	}

	files := baseSnapshot("2025-07-09 00:00:00")
	addLine(files, "Factions.csv", "TS|Thousand Sons||")
	rep, err := runEngine(t, repo, files, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	er := rep.Entities[0]
	if er.Table != "factions" || er.Inserted != 1 || er.Updated != 2 {
		t.Errorf("factions report = %+v, want inserted=1 updated=2", er)
	}
}

func TestFetchFailureAborts(t *testing.T) {
	repo := newFakeRepo()
	files := baseSnapshot("2025-07-09 10:00:00")
	eng := New(repo, &fakeFetcher{
		files:  files,
		errFor: map[string]error{"Datasheets.csv": errors.New("boom")},
	}, Options{})

	rep, err := eng.Run(context.Background())
	if err == nil {
		t.Fatal("want error")
	}
	if rep.Outcome != OutcomeAborted {
		t.Errorf("outcome = %s", rep.Outcome)
	}
	if len(repo.markers) != 0 {
		t.Errorf("marker recorded on abort: %v", repo.markers)
	}
	// entities before the failing one are applied; the run stops there
	if repo.count("factions") == 0 {
		t.Error("earlier steps should have applied")
	}
	if repo.count("datasheets") != 0 {
		t.Error("failing step must not apply")
	}
}

func TestStoreFailureAborts(t *testing.T) {
	repo := newFakeRepo()
	repo.upsertErr = map[string]error{"stratagems": errors.New("constraint violation")}

	rep, err := runEngine(t, repo, baseSnapshot("2025-07-09 10:00:00"), Options{})
	if err == nil {
		t.Fatal("want error")
	}
	if rep.Outcome != OutcomeAborted || !strings.Contains(rep.Summary(), "aborted") {
		t.Errorf("outcome = %s summary = %q", rep.Outcome, rep.Summary())
	}
	if len(repo.markers) != 0 {
		t.Errorf("marker recorded on abort: %v", repo.markers)
	}
}

func TestLateJunctionFailureLeavesMarkerUnrecorded(t *testing.T) {
	repo := newFakeRepo()
	repo.upsertErr = map[string]error{"datasheets_leader": errors.New("boom")}

	files := baseSnapshot("2025-07-09 10:00:00")
	addLine(files, "Datasheets_leader.csv", "D1|D1|")
	if _, err := runEngine(t, repo, files, Options{}); err == nil {
		t.Fatal("want error")
	}
	if len(repo.markers) != 0 {
		t.Errorf("marker recorded despite junction failure: %v", repo.markers)
	}

	// the retried run is not gated away
	repo.upsertErr = nil
	rep, err := runEngine(t, repo, files, Options{})
	if err != nil || rep.Outcome != OutcomeCompleted {
		t.Fatalf("retry: outcome=%v err=%v", rep.Outcome, err)
	}
}

func TestCompositeDedupReported(t *testing.T) {
	repo := newFakeRepo()
	files := baseSnapshot("2025-07-09 10:00:00")
	addLine(files, "Datasheets_options.csv", "D1|3|*|first|")
	addLine(files, "Datasheets_options.csv", "D1|3|*|second|")

	rep, err := runEngine(t, repo, files, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := repo.field(t, "datasheets_options", []any{"D1", int64(3)}, "description"); got != "second" {
		t.Errorf("surviving row = %v, want the later one", got)
	}
	for _, er := range rep.Entities {
		if er.Table == "datasheets_options" && er.Duplicates != 1 {
			t.Errorf("duplicates = %d, want 1", er.Duplicates)
		}
	}
}

func TestReportSummary(t *testing.T) {
	rep := Report{Outcome: OutcomeCompleted}
	if rep.Summary() != "completed" {
		t.Errorf("Summary = %q", rep.Summary())
	}
	rep.Entities = []EntityReport{{Table: "factions", Rejected: map[RejectReason]int{ReasonEmptyKey: 2}}}
	if rep.Summary() != "completed with 2 rejected rows" {
		t.Errorf("Summary = %q", rep.Summary())
	}
	if got := (Report{Outcome: OutcomeSkipped}).Summary(); got != "skipped (up to date)" {
		t.Errorf("Summary = %q", got)
	}
}
