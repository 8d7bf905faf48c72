package mssql

import (
	"reflect"
	"strings"
	"testing"

	"github.com/Oliver-Sheaky/wahapedia-sql-import/internal/catalog"
)

func mustEntity(t *testing.T, table string) catalog.Entity {
	t.Helper()
	e, ok := catalog.ByTable(table)
	if !ok {
		t.Fatalf("unknown table %q", table)
	}
	return e
}

func TestBuildCreateTableSQL(t *testing.T) {
	e := mustEntity(t, "datasheets_keywords")
	sql := buildCreateTableSQL(e)

	for _, want := range []string{
		"IF OBJECT_ID('datasheets_keywords', 'U') IS NULL CREATE TABLE [datasheets_keywords]",
		"[datasheet_id] NVARCHAR(450) NOT NULL",
		"[keyword] NVARCHAR(450) NOT NULL",
		"[model] NVARCHAR(MAX)",
		"[is_faction_keyword] BIT NOT NULL DEFAULT 0",
		"PRIMARY KEY ([datasheet_id], [keyword])",
		"FOREIGN KEY ([datasheet_id]) REFERENCES [datasheets] ([id])",
	} {
		if !strings.Contains(sql, want) {
			t.Errorf("DDL missing %q:\n%s", want, sql)
		}
	}
	if strings.Contains(sql, catalog.StampColumn) {
		t.Errorf("child table should not carry a stamp column:\n%s", sql)
	}
}

func TestBuildCreateTableSQLStamped(t *testing.T) {
	sql := buildCreateTableSQL(mustEntity(t, "factions"))
	if want := "[date_imported] DATETIME2 NOT NULL DEFAULT SYSUTCDATETIME()"; !strings.Contains(sql, want) {
		t.Errorf("DDL missing %q:\n%s", want, sql)
	}
}

func TestSchemaStatementsMarkerFirst(t *testing.T) {
	stmts := schemaStatements()
	if len(stmts) != len(catalog.Entities())+1 {
		t.Fatalf("got %d statements, want %d", len(stmts), len(catalog.Entities())+1)
	}
	if !strings.Contains(stmts[0], "CREATE TABLE last_update") {
		t.Errorf("first statement should create the marker table: %s", stmts[0])
	}
}

func TestBuildUpdateSQL(t *testing.T) {
	e := mustEntity(t, "factions")
	got := buildUpdateSQL(e)
	want := "UPDATE [factions] SET [name] = @p1, [link] = @p2, [date_imported] = SYSUTCDATETIME() WHERE [id] = @p3;"
	if got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}

	args := updateArgs(e, []any{"AC", "Adeptus Custodes", "link"})
	if want := []any{"Adeptus Custodes", "link", "AC"}; !reflect.DeepEqual(args, want) {
		t.Errorf("args = %v, want %v", args, want)
	}
}

func TestBuildUpdateSQLCompositeKey(t *testing.T) {
	e := mustEntity(t, "datasheets_keywords")
	got := buildUpdateSQL(e)
	want := "UPDATE [datasheets_keywords] SET [model] = @p1, [is_faction_keyword] = @p2 WHERE [datasheet_id] = @p3 AND [keyword] = @p4;"
	if got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}

	args := updateArgs(e, []any{"D1", "INFANTRY", "", false})
	if want := []any{"", false, "D1", "INFANTRY"}; !reflect.DeepEqual(args, want) {
		t.Errorf("args = %v, want %v", args, want)
	}
}

func TestBuildUpdateSQLJunctionEmpty(t *testing.T) {
	if got := buildUpdateSQL(mustEntity(t, "datasheets_stratagems")); got != "" {
		t.Errorf("junction with only key columns should have no update: %s", got)
	}
}

func TestBuildInsertIfAbsentSQL(t *testing.T) {
	got := buildInsertIfAbsentSQL(mustEntity(t, "datasheets_stratagems"))
	want := "IF NOT EXISTS (SELECT 1 FROM [datasheets_stratagems] WHERE [datasheet_id] = @p1 AND [stratagem_id] = @p2) " +
		"INSERT INTO [datasheets_stratagems] ([datasheet_id], [stratagem_id]) VALUES (@p1, @p2);"
	if got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}
}

func TestBuildInsertIfAbsentSQLProbeReusesKeyParams(t *testing.T) {
	got := buildInsertIfAbsentSQL(mustEntity(t, "factions"))
	want := "IF NOT EXISTS (SELECT 1 FROM [factions] WHERE [id] = @p1) " +
		"INSERT INTO [factions] ([id], [name], [link]) VALUES (@p1, @p2, @p3);"
	if got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}
}

func TestBuildDeleteSQL(t *testing.T) {
	sql, args := buildDeleteSQL("datasheets_keywords", "datasheet_id", []string{"D1", "D2"})
	want := "DELETE FROM [datasheets_keywords] WHERE [datasheet_id] IN (@p1, @p2);"
	if sql != want {
		t.Errorf("got:\n%s\nwant:\n%s", sql, want)
	}
	if want := []any{"D1", "D2"}; !reflect.DeepEqual(args, want) {
		t.Errorf("args = %v, want %v", args, want)
	}
}

func TestMssqlIdent(t *testing.T) {
	if got := mssqlIdent("weird]name"); got != "[weird]]name]" {
		t.Errorf("got %q", got)
	}
}
