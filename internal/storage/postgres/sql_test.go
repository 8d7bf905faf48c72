package postgres

import (
	"strings"
	"testing"

	"github.com/Oliver-Sheaky/wahapedia-sql-import/internal/catalog"
)

func entity(t *testing.T, table string) catalog.Entity {
	t.Helper()
	e, ok := catalog.ByTable(table)
	if !ok {
		t.Fatalf("unknown entity %s", table)
	}
	return e
}

func TestBuildCreateTableSQL(t *testing.T) {
	sql := buildCreateTableSQL(entity(t, "datasheets"))

	for _, want := range []string{
		`CREATE TABLE IF NOT EXISTS "datasheets"`,
		`"id" TEXT NOT NULL`,
		`"virtual" BOOLEAN NOT NULL DEFAULT FALSE`,
		`"date_imported" TIMESTAMPTZ NOT NULL DEFAULT now()`,
		`PRIMARY KEY ("id")`,
		`FOREIGN KEY ("faction_id") REFERENCES "factions" ("id")`,
		`FOREIGN KEY ("source_id") REFERENCES "source" ("id")`,
	} {
		if !strings.Contains(sql, want) {
			t.Errorf("DDL missing %q:\n%s", want, sql)
		}
	}
}

func TestBuildCreateTableSQLCompositeKey(t *testing.T) {
	sql := buildCreateTableSQL(entity(t, "datasheets_wargear"))
	if !strings.Contains(sql, `PRIMARY KEY ("datasheet_id", "line", "line_in_wargear")`) {
		t.Errorf("composite primary key missing:\n%s", sql)
	}
	if strings.Contains(sql, "date_imported") {
		t.Errorf("child tables carry no last-modified stamp:\n%s", sql)
	}
}

func TestSchemaStatementsMarkerFirst(t *testing.T) {
	stmts := schemaStatements()
	if len(stmts) != len(catalog.Entities())+1 {
		t.Fatalf("statements = %d", len(stmts))
	}
	if !strings.Contains(stmts[0], "last_update") {
		t.Errorf("marker table not first: %s", stmts[0])
	}
}

func TestBuildUpsertSQLStamped(t *testing.T) {
	e := entity(t, "factions")
	sql, args := buildUpsertSQL(e, [][]any{
		{"AC", "Adeptus Custodes", ""},
		{"TS", "Thousand Sons", ""},
	})

	for _, want := range []string{
		`INSERT INTO "factions" ("id", "name", "link") VALUES ($1, $2, $3), ($4, $5, $6)`,
		`ON CONFLICT ("id") DO UPDATE SET "name" = EXCLUDED."name", "link" = EXCLUDED."link", "date_imported" = now();`,
	} {
		if !strings.Contains(sql, want) {
			t.Errorf("upsert missing %q:\n%s", want, sql)
		}
	}
	if len(args) != 6 || args[3] != "TS" {
		t.Errorf("args = %v", args)
	}
}

func TestBuildUpsertSQLChild(t *testing.T) {
	e := entity(t, "datasheets_keywords")
	sql, _ := buildUpsertSQL(e, [][]any{{"D1", "Infantry", "", false}})

	if !strings.Contains(sql, `ON CONFLICT ("datasheet_id", "keyword") DO UPDATE SET "model" = EXCLUDED."model", "is_faction_keyword" = EXCLUDED."is_faction_keyword";`) {
		t.Errorf("child upsert conflict clause wrong:\n%s", sql)
	}
	if strings.Contains(sql, "date_imported") {
		t.Errorf("child upsert must not touch the stamp:\n%s", sql)
	}
}

func TestBuildUpsertSQLJunctionDoesNothing(t *testing.T) {
	e := entity(t, "datasheets_stratagems")
	sql, _ := buildUpsertSQL(e, [][]any{{"D1", "S1"}})
	if !strings.Contains(sql, `ON CONFLICT ("datasheet_id", "stratagem_id") DO NOTHING;`) {
		t.Errorf("junction upsert:\n%s", sql)
	}
}

func TestRowsPerBatch(t *testing.T) {
	if got := rowsPerBatch(14); got != 60000/14 {
		t.Errorf("rowsPerBatch(14) = %d", got)
	}
	if got := rowsPerBatch(100000); got != 1 {
		t.Errorf("rowsPerBatch huge = %d, want 1", got)
	}
}

func TestPgIdent(t *testing.T) {
	if got := pgIdent(`weird"name`); got != `"weird""name"` {
		t.Errorf("pgIdent = %s", got)
	}
}
