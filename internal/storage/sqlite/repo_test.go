package sqlite

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Oliver-Sheaky/wahapedia-sql-import/internal/catalog"
	"github.com/Oliver-Sheaky/wahapedia-sql-import/internal/storage"
)

func entity(t *testing.T, table string) catalog.Entity {
	t.Helper()
	e, ok := catalog.ByTable(table)
	if !ok {
		t.Fatalf("unknown entity %s", table)
	}
	return e
}

func openRepo(t *testing.T) storage.Repository {
	t.Helper()
	repo, err := New(context.Background(), storage.Config{
		Kind: "sqlite",
		DSN:  filepath.Join(t.TempDir(), "wahapedia.db"),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(repo.Close)
	if err := repo.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	return repo
}

func TestMarkerRoundTrip(t *testing.T) {
	repo := openRepo(t)
	ctx := context.Background()

	got, err := repo.MaxLastUpdate(ctx)
	if err != nil {
		t.Fatalf("MaxLastUpdate: %v", err)
	}
	if got != nil {
		t.Fatalf("empty store marker = %v, want nil", got)
	}

	m1 := time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)
	m2 := time.Date(2025, 7, 9, 10, 0, 0, 0, time.UTC)
	for _, m := range []time.Time{m2, m1} {
		if err := repo.RecordLastUpdate(ctx, m); err != nil {
			t.Fatalf("RecordLastUpdate: %v", err)
		}
	}

	got, err = repo.MaxLastUpdate(ctx)
	if err != nil {
		t.Fatalf("MaxLastUpdate: %v", err)
	}
	if got == nil || !got.Equal(m2) {
		t.Errorf("max marker = %v, want %v", got, m2)
	}
}

func TestUpsertInsertsThenUpdates(t *testing.T) {
	repo := openRepo(t)
	ctx := context.Background()
	e := entity(t, "factions")

	rows := [][]any{
		{"AC", "Adeptus Custodes", ""},
		{"TS", "Thousand Sons", ""},
	}
	if err := repo.UpsertRows(ctx, e, rows); err != nil {
		t.Fatalf("UpsertRows: %v", err)
	}

	keys, err := repo.SelectKeys(ctx, "factions", "id")
	if err != nil {
		t.Fatalf("SelectKeys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("keys = %v", keys)
	}

	// same key again must update in place, not duplicate
	rows[0][1] = "Adeptus Custodes (revised)"
	if err := repo.UpsertRows(ctx, e, rows); err != nil {
		t.Fatalf("UpsertRows again: %v", err)
	}
	keys, err = repo.SelectKeys(ctx, "factions", "id")
	if err != nil {
		t.Fatalf("SelectKeys: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("rerun grew the table: %v", keys)
	}

	n, err := repo.CountRows(ctx, "factions")
	if err != nil {
		t.Fatalf("CountRows: %v", err)
	}
	if n != 2 {
		t.Errorf("CountRows = %d, want 2", n)
	}
	if _, err := repo.CountRows(ctx, "no_such_table"); err == nil {
		t.Error("CountRows must refuse unknown tables")
	}
}

func TestDeleteByKeys(t *testing.T) {
	repo := openRepo(t)
	ctx := context.Background()
	e := entity(t, "datasheets_keywords")

	rows := [][]any{
		{"D1", "Infantry", "", false},
		{"D1", "Imperium", "", true},
		{"D2", "Vehicle", "", false},
	}
	if err := repo.UpsertRows(ctx, e, rows); err != nil {
		t.Fatalf("UpsertRows: %v", err)
	}

	n, err := repo.DeleteByKeys(ctx, "datasheets_keywords", "datasheet_id", []string{"D1"})
	if err != nil {
		t.Fatalf("DeleteByKeys: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted = %d, want 2", n)
	}

	keys, err := repo.SelectKeys(ctx, "datasheets_keywords", "datasheet_id")
	if err != nil {
		t.Fatalf("SelectKeys: %v", err)
	}
	if len(keys) != 1 || keys[0] != "D2" {
		t.Errorf("remaining parents = %v, want [D2]", keys)
	}
}

func TestDeleteByKeysRefusesUnknownTable(t *testing.T) {
	repo := openRepo(t)
	if _, err := repo.DeleteByKeys(context.Background(), "users; DROP TABLE factions", "id", []string{"x"}); err == nil {
		t.Fatal("want error for unknown table")
	}
}

func TestDeleteByKeysEmptyList(t *testing.T) {
	repo := openRepo(t)
	n, err := repo.DeleteByKeys(context.Background(), "factions", "id", nil)
	if err != nil || n != 0 {
		t.Errorf("empty delete = %d, %v", n, err)
	}
}

func TestBuildUpsertSQLJunction(t *testing.T) {
	sql, args := buildUpsertSQL(entity(t, "datasheets_stratagems"), [][]any{{"D1", "S1"}})
	if !strings.Contains(sql, `ON CONFLICT ("datasheet_id", "stratagem_id") DO NOTHING;`) {
		t.Errorf("junction upsert:\n%s", sql)
	}
	if len(args) != 2 {
		t.Errorf("args = %v", args)
	}
}

func TestBuildDeleteSQL(t *testing.T) {
	sql, args := buildDeleteSQL("datasheets_keywords", "datasheet_id", []string{"a", "b"})
	if sql != `DELETE FROM "datasheets_keywords" WHERE "datasheet_id" IN (?, ?);` {
		t.Errorf("sql = %s", sql)
	}
	if len(args) != 2 || args[1] != "b" {
		t.Errorf("args = %v", args)
	}
}

func TestSchemaStatementsCoverEveryEntity(t *testing.T) {
	stmts := schemaStatements()
	if len(stmts) != len(catalog.Entities())+1 {
		t.Fatalf("statements = %d", len(stmts))
	}
	for _, e := range catalog.Entities() {
		found := false
		for _, s := range stmts {
			if strings.Contains(s, sqlIdent(e.Table)) {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("no DDL for %s", e.Table)
		}
	}
}
