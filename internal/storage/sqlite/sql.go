package sqlite

import (
	"fmt"
	"strings"

	"github.com/Oliver-Sheaky/wahapedia-sql-import/internal/catalog"
)

func sqlIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// sqlType maps catalog types onto SQLite affinities. Dates stay TEXT in
// year-month-day form, which sorts and compares correctly.
func sqlType(t catalog.ColType) string {
	switch t {
	case catalog.TypeBool, catalog.TypeInt:
		return "INTEGER"
	default:
		return "TEXT"
	}
}

func schemaStatements() []string {
	out := []string{
		`CREATE TABLE IF NOT EXISTS last_update (last_update TEXT NOT NULL);`,
	}
	for _, e := range catalog.Entities() {
		out = append(out, buildCreateTableSQL(e))
	}
	return out
}

func buildCreateTableSQL(e catalog.Entity) string {
	key := make(map[string]bool, len(e.Key))
	for _, k := range e.Key {
		key[k] = true
	}

	defs := make([]string, 0, len(e.Columns)+len(e.Refs)+2)
	for _, c := range e.Columns {
		var b strings.Builder
		b.WriteString(sqlIdent(c.Name))
		b.WriteString(" ")
		b.WriteString(sqlType(c.Type))
		if key[c.Name] {
			b.WriteString(" NOT NULL")
		} else if c.Type == catalog.TypeBool {
			b.WriteString(" NOT NULL DEFAULT 0")
		}
		defs = append(defs, b.String())
	}

	if e.Stamped() {
		defs = append(defs, sqlIdent(catalog.StampColumn)+" TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP")
	}

	pk := make([]string, len(e.Key))
	for i, k := range e.Key {
		pk[i] = sqlIdent(k)
	}
	defs = append(defs, "PRIMARY KEY ("+strings.Join(pk, ", ")+")")

	for _, ref := range e.Refs {
		target, _ := catalog.ByTable(ref.Table)
		defs = append(defs, fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s)",
			sqlIdent(ref.Column), sqlIdent(ref.Table), sqlIdent(target.Key[0])))
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s);",
		sqlIdent(e.Table), strings.Join(defs, ", "))
}

// buildUpsertSQL constructs one multi-row INSERT ... ON CONFLICT statement.
// Same conflict rules as the Postgres backend: update non-key columns, or DO
// NOTHING when the whole row is the key.
func buildUpsertSQL(e catalog.Entity, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(sqlIdent(e.Table))
	b.WriteString(" (")
	for i, c := range e.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(sqlIdent(c.Name))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(e.Columns))
	placeholders := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(e.Columns)), ", ") + ")"
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholders)
		args = append(args, row...)
	}

	b.WriteString(" ON CONFLICT (")
	for i, k := range e.Key {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(sqlIdent(k))
	}
	b.WriteString(")")

	updates := updateColumns(e)
	if len(updates) == 0 {
		b.WriteString(" DO NOTHING;")
		return b.String(), args
	}

	b.WriteString(" DO UPDATE SET ")
	for i, c := range updates {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(sqlIdent(c))
		b.WriteString(" = excluded.")
		b.WriteString(sqlIdent(c))
	}
	if e.Stamped() {
		b.WriteString(", ")
		b.WriteString(sqlIdent(catalog.StampColumn))
		b.WriteString(" = CURRENT_TIMESTAMP")
	}
	b.WriteString(";")
	return b.String(), args
}

func buildDeleteSQL(table, column string, keys []string) (string, []any) {
	var b strings.Builder
	b.WriteString("DELETE FROM ")
	b.WriteString(sqlIdent(table))
	b.WriteString(" WHERE ")
	b.WriteString(sqlIdent(column))
	b.WriteString(" IN (")

	args := make([]any, len(keys))
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("?")
		args[i] = k
	}
	b.WriteString(");")
	return b.String(), args
}

func updateColumns(e catalog.Entity) []string {
	key := make(map[string]bool, len(e.Key))
	for _, k := range e.Key {
		key[k] = true
	}
	var out []string
	for _, c := range e.Columns {
		if !key[c.Name] {
			out = append(out, c.Name)
		}
	}
	return out
}
