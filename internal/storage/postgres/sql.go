package postgres

import (
	"fmt"
	"strings"

	"github.com/Oliver-Sheaky/wahapedia-sql-import/internal/catalog"
)

// pgIdent returns a double-quoted identifier, escaping embedded quotes.
func pgIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func pgType(t catalog.ColType) string {
	switch t {
	case catalog.TypeBool:
		return "BOOLEAN"
	case catalog.TypeInt:
		return "BIGINT"
	case catalog.TypeDate:
		return "DATE"
	default:
		return "TEXT"
	}
}

// schemaStatements renders the full managed schema: the marker table first,
// then one CREATE TABLE per entity in dependency order so foreign key
// references always point at an already-created table.
func schemaStatements() []string {
	out := []string{
		`CREATE TABLE IF NOT EXISTS last_update (last_update TIMESTAMPTZ NOT NULL);`,
	}
	for _, e := range catalog.Entities() {
		out = append(out, buildCreateTableSQL(e))
	}
	return out
}

// buildCreateTableSQL is pure and deterministic so DDL shape is unit-tested
// without a database.
func buildCreateTableSQL(e catalog.Entity) string {
	key := make(map[string]bool, len(e.Key))
	for _, k := range e.Key {
		key[k] = true
	}

	defs := make([]string, 0, len(e.Columns)+len(e.Refs)+2)
	for _, c := range e.Columns {
		var b strings.Builder
		b.WriteString(pgIdent(c.Name))
		b.WriteString(" ")
		b.WriteString(pgType(c.Type))
		if key[c.Name] {
			b.WriteString(" NOT NULL")
		} else if c.Type == catalog.TypeBool {
			b.WriteString(" NOT NULL DEFAULT FALSE")
		}
		defs = append(defs, b.String())
	}

	if e.Stamped() {
		defs = append(defs, pgIdent(catalog.StampColumn)+" TIMESTAMPTZ NOT NULL DEFAULT now()")
	}

	pk := make([]string, len(e.Key))
	for i, k := range e.Key {
		pk[i] = pgIdent(k)
	}
	defs = append(defs, "PRIMARY KEY ("+strings.Join(pk, ", ")+")")

	for _, ref := range e.Refs {
		target, _ := catalog.ByTable(ref.Table)
		defs = append(defs, fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s)",
			pgIdent(ref.Column), pgIdent(ref.Table), pgIdent(target.Key[0])))
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s);",
		pgIdent(e.Table), strings.Join(defs, ", "))
}

// buildUpsertSQL constructs one multi-row INSERT ... ON CONFLICT statement
// and its args.
//
// Conflict behavior by entity shape:
//   - non-key columns exist: DO UPDATE SET <non-key> = EXCLUDED.<non-key>;
//     stamped entities additionally refresh the last-modified column.
//   - every column is part of the key (pure junctions): DO NOTHING.
func buildUpsertSQL(e catalog.Entity, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgIdent(e.Table))
	b.WriteString(" (")
	for i, c := range e.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c.Name))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(e.Columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range e.Columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}

	b.WriteString(" ON CONFLICT (")
	for i, k := range e.Key {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(k))
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
		b.WriteString(pgIdent(c))
		b.WriteString(" = EXCLUDED.")
		b.WriteString(pgIdent(c))
	}
	if e.Stamped() {
		b.WriteString(", ")
		b.WriteString(pgIdent(catalog.StampColumn))
		b.WriteString(" = now()")
	}
	b.WriteString(";")
	return b.String(), args
}

// updateColumns lists the non-key columns, the ones a conflicting insert
// overwrites.
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
