package mssql

import (
	"fmt"
	"strings"

	"github.com/Oliver-Sheaky/wahapedia-sql-import/internal/catalog"
)

// mssqlIdent returns a bracket-quoted identifier, escaping ']' as ']]'.
func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// mssqlType maps catalog types onto SQL Server types. Key columns get a
// bounded NVARCHAR because MAX types cannot participate in a primary key.
func mssqlType(t catalog.ColType, inKey bool) string {
	switch t {
	case catalog.TypeBool:
		return "BIT"
	case catalog.TypeInt:
		return "BIGINT"
	case catalog.TypeDate:
		return "DATE"
	default:
		if inKey {
			return "NVARCHAR(450)"
		}
		return "NVARCHAR(MAX)"
	}
}

func schemaStatements() []string {
	out := []string{
		`IF OBJECT_ID('last_update', 'U') IS NULL CREATE TABLE last_update (last_update DATETIME2 NOT NULL);`,
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
		b.WriteString(mssqlIdent(c.Name))
		b.WriteString(" ")
		b.WriteString(mssqlType(c.Type, key[c.Name]))
		if key[c.Name] {
			b.WriteString(" NOT NULL")
		} else if c.Type == catalog.TypeBool {
			b.WriteString(" NOT NULL DEFAULT 0")
		}
		defs = append(defs, b.String())
	}

	if e.Stamped() {
		defs = append(defs, mssqlIdent(catalog.StampColumn)+" DATETIME2 NOT NULL DEFAULT SYSUTCDATETIME()")
	}

	pk := make([]string, len(e.Key))
	for i, k := range e.Key {
		pk[i] = mssqlIdent(k)
	}
	defs = append(defs, "PRIMARY KEY ("+strings.Join(pk, ", ")+")")

	for _, ref := range e.Refs {
		target, _ := catalog.ByTable(ref.Table)
		defs = append(defs, fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s)",
			mssqlIdent(ref.Column), mssqlIdent(ref.Table), mssqlIdent(target.Key[0])))
	}

	return fmt.Sprintf("IF OBJECT_ID('%s', 'U') IS NULL CREATE TABLE %s (%s);",
		e.Table, mssqlIdent(e.Table), strings.Join(defs, ", "))
}

// buildUpdateSQL renders the UPDATE half of the per-row upsert. Returns ""
// when the entity has no non-key columns (nothing to update).
//
// Parameter order: non-key values in column order, then key values.
func buildUpdateSQL(e catalog.Entity) string {
	updates := updateColumns(e)
	if len(updates) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("UPDATE ")
	b.WriteString(mssqlIdent(e.Table))
	b.WriteString(" SET ")

	p := 1
	for i, c := range updates {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s = @p%d", mssqlIdent(c), p)
		p++
	}
	if e.Stamped() {
		b.WriteString(", ")
		b.WriteString(mssqlIdent(catalog.StampColumn))
		b.WriteString(" = SYSUTCDATETIME()")
	}

	b.WriteString(" WHERE ")
	for i, k := range e.Key {
		if i > 0 {
			b.WriteString(" AND ")
		}
		fmt.Fprintf(&b, "%s = @p%d", mssqlIdent(k), p)
		p++
	}
	b.WriteString(";")
	return b.String()
}

func updateArgs(e catalog.Entity, row []any) []any {
	key := make(map[string]bool, len(e.Key))
	for _, k := range e.Key {
		key[k] = true
	}

	args := make([]any, 0, len(row))
	for i, c := range e.Columns {
		if !key[c.Name] {
			args = append(args, row[i])
		}
	}
	for _, k := range e.Key {
		args = append(args, row[keyIndex(e, k)])
	}
	return args
}

// buildInsertIfAbsentSQL renders the INSERT half. The existence probe reuses
// the key columns' value parameters by position, so args are simply the row.
func buildInsertIfAbsentSQL(e catalog.Entity) string {
	var b strings.Builder
	b.WriteString("IF NOT EXISTS (SELECT 1 FROM ")
	b.WriteString(mssqlIdent(e.Table))
	b.WriteString(" WHERE ")
	for i, k := range e.Key {
		if i > 0 {
			b.WriteString(" AND ")
		}
		fmt.Fprintf(&b, "%s = @p%d", mssqlIdent(k), keyIndex(e, k)+1)
	}
	b.WriteString(") INSERT INTO ")
	b.WriteString(mssqlIdent(e.Table))
	b.WriteString(" (")
	for i, c := range e.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(mssqlIdent(c.Name))
	}
	b.WriteString(") VALUES (")
	for i := range e.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "@p%d", i+1)
	}
	b.WriteString(");")
	return b.String()
}

func insertArgs(row []any) []any {
	out := make([]any, len(row))
	copy(out, row)
	return out
}

func buildDeleteSQL(table, column string, keys []string) (string, []any) {
	var b strings.Builder
	b.WriteString("DELETE FROM ")
	b.WriteString(mssqlIdent(table))
	b.WriteString(" WHERE ")
	b.WriteString(mssqlIdent(column))
	b.WriteString(" IN (")

	args := make([]any, len(keys))
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "@p%d", i+1)
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

func keyIndex(e catalog.Entity, name string) int {
	for i, c := range e.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}
