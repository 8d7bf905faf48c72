// Package catalog defines the fixed Wahapedia entity graph: one entry per
// exported table, in the dependency order the ingestion engine must follow.
//
// The importer targets one known export set, so nothing here is inferred
// from input; column renames, key shapes, and foreign-key defaults are all
// declared up front and unit-tested.
package catalog

// Kind classifies how the executor applies an entity's rows.
type Kind string

const (
	// KindIndependent rows are upserted by primary key and never deleted.
	KindIndependent Kind = "independent"

	// KindCentral is the datasheet table: upserted like an independent
	// entity, but it is the owning parent of every child and junction table.
	KindCentral Kind = "central"

	// KindChild rows are fully replaced per owning parent on every run that
	// includes that parent in the snapshot.
	KindChild Kind = "child"

	// KindJunction rows link two entities and follow the same parent-scoped
	// full-replacement rule as children, scoped by the first id.
	KindJunction Kind = "junction"
)

// ColType is the normalization type of a column.
type ColType string

const (
	TypeText ColType = "text"
	TypeBool ColType = "bool"
	TypeInt  ColType = "int"
	TypeDate ColType = "date"
)

// Column maps one source column to one target column.
type Column struct {
	// Name is the target (store) column name.
	Name string

	// Source is the export header name when it differs from Name.
	// Empty means the export header equals Name. Reconciliation also
	// accepts the target name itself, so exports that already ship the
	// target vocabulary keep working.
	Source string

	Type ColType
}

// Reference declares a foreign key carried by an entity.
type Reference struct {
	// Column is the target column holding the referenced id.
	Column string

	// Table is the referenced entity table.
	Table string

	// Default is substituted when the source value is empty. Empty string
	// means no substitution.
	Default string

	// Optional marks references where an empty value becomes NULL instead
	// of a default. Non-empty dangling values are still rejected.
	Optional bool
}

// Entity describes how one exported table is ingested.
type Entity struct {
	Table string
	File  string
	Kind  Kind

	// Key lists the target columns forming the logical key (simple or
	// composite). Deduplication and upserts group by these.
	Key []string

	// ParentKey is the owning-parent column for child/junction entities.
	ParentKey string

	Columns []Column
	Refs    []Reference
}

// TargetColumns returns the store column names in declaration order.
func (e Entity) TargetColumns() []string {
	out := make([]string, len(e.Columns))
	for i, c := range e.Columns {
		out[i] = c.Name
	}
	return out
}

// SourceName returns the export header expected for a column.
func (c Column) SourceName() string {
	if c.Source != "" {
		return c.Source
	}
	return c.Name
}

// Stamped reports whether the entity carries a date_imported last-modified
// column maintained by the executor.
func (e Entity) Stamped() bool {
	return e.Kind == KindIndependent || e.Kind == KindCentral
}

// Freshness marker. The marker is not an Entity: it is a single append-only
// timestamp fact with a read-max accessor, handled by the store directly.
const (
	MarkerFile   = "Last_update.csv"
	MarkerTable  = "last_update"
	MarkerColumn = "last_update"
)

// Default identifiers substituted for blank required foreign keys.
const (
	// DefaultFactionID is the Wahapedia "Unaligned Forces" faction, used
	// for faction-agnostic content exported with a blank faction_id.
	DefaultFactionID = "UN"

	// DefaultSourceID marks datasheets exported with a blank source_id.
	DefaultSourceID = "000000012"
)

// StampColumn is the last-modified column on independent/central tables.
const StampColumn = "date_imported"

func text(name string) Column         { return Column{Name: name, Type: TypeText} }
func renamed(name, src string) Column { return Column{Name: name, Source: src, Type: TypeText} }
func boolean(name string) Column      { return Column{Name: name, Type: TypeBool} }
func integer(name string) Column      { return Column{Name: name, Type: TypeInt} }
func date(name string) Column         { return Column{Name: name, Type: TypeDate} }

// entities is the dependency-ordered entity graph. The order is a
// correctness requirement: later entities validate their foreign keys
// against the results of earlier steps.
var entities = []Entity{
	{
		Table: "factions",
		File:  "Factions.csv",
		Kind:  KindIndependent,
		Key:   []string{"id"},
		Columns: []Column{
			text("id"), text("name"), text("link"),
		},
	},
	{
		Table: "source",
		File:  "Source.csv",
		Kind:  KindIndependent,
		Key:   []string{"id"},
		Columns: []Column{
			text("id"), text("name"), text("type"), text("edition"),
			text("version"), date("errata_date"), text("errata_link"),
		},
	},
	{
		Table: "stratagems",
		File:  "Stratagems.csv",
		Kind:  KindIndependent,
		Key:   []string{"id"},
		Columns: []Column{
			text("id"), text("faction_id"), text("name"), text("type"),
			text("cp_cost"), text("legend"), text("turn"), text("phase"),
			text("description"), text("detachment"),
		},
		Refs: []Reference{
			{Column: "faction_id", Table: "factions", Default: DefaultFactionID},
		},
	},
	{
		Table: "abilities",
		File:  "Abilities.csv",
		Kind:  KindIndependent,
		Key:   []string{"id"},
		Columns: []Column{
			text("id"), text("name"), text("legend"), text("faction_id"),
			text("description"),
		},
		Refs: []Reference{
			{Column: "faction_id", Table: "factions", Default: DefaultFactionID},
		},
	},
	{
		Table: "enhancements",
		File:  "Enhancements.csv",
		Kind:  KindIndependent,
		Key:   []string{"id"},
		Columns: []Column{
			text("id"), text("faction_id"), text("name"), text("legend"),
			text("description"), text("cost"), text("detachment"),
		},
		Refs: []Reference{
			{Column: "faction_id", Table: "factions", Default: DefaultFactionID},
		},
	},
	{
		Table: "detachment_abilities",
		File:  "Detachment_abilities.csv",
		Kind:  KindIndependent,
		Key:   []string{"id"},
		Columns: []Column{
			text("id"), text("faction_id"), text("name"), text("legend"),
			text("description"), text("detachment"),
		},
		Refs: []Reference{
			{Column: "faction_id", Table: "factions", Default: DefaultFactionID},
		},
	},
	{
		Table: "datasheets",
		File:  "Datasheets.csv",
		Kind:  KindCentral,
		Key:   []string{"id"},
		Columns: []Column{
			text("id"), text("name"), text("faction_id"), text("source_id"),
			text("legend"), text("role"), text("loadout"), text("transport"),
			boolean("virtual"), text("leader_head"), text("leader_footer"),
			text("damaged_w"), text("damaged_description"), text("link"),
		},
		Refs: []Reference{
			{Column: "faction_id", Table: "factions", Default: DefaultFactionID},
			{Column: "source_id", Table: "source", Default: DefaultSourceID},
		},
	},
	{
		Table:     "datasheets_abilities",
		File:      "Datasheets_abilities.csv",
		Kind:      KindChild,
		Key:       []string{"datasheet_id", "line"},
		ParentKey: "datasheet_id",
		Columns: []Column{
			text("datasheet_id"), integer("line"), text("ability_id"),
			text("model"), text("name"), text("description"), text("type"),
			text("parameter"),
		},
		Refs: []Reference{
			{Column: "datasheet_id", Table: "datasheets"},
			{Column: "ability_id", Table: "abilities", Optional: true},
		},
	},
	{
		Table:     "datasheets_keywords",
		File:      "Datasheets_keywords.csv",
		Kind:      KindChild,
		Key:       []string{"datasheet_id", "keyword"},
		ParentKey: "datasheet_id",
		Columns: []Column{
			text("datasheet_id"), text("keyword"), text("model"),
			boolean("is_faction_keyword"),
		},
		Refs: []Reference{
			{Column: "datasheet_id", Table: "datasheets"},
		},
	},
	{
		Table:     "datasheets_models",
		File:      "Datasheets_models.csv",
		Kind:      KindChild,
		Key:       []string{"datasheet_id", "line"},
		ParentKey: "datasheet_id",
		Columns: []Column{
			text("datasheet_id"), integer("line"), text("name"),
			renamed("m", "M"), renamed("t", "T"), renamed("sv", "Sv"),
			text("inv_sv"), text("inv_sv_descr"), renamed("w", "W"),
			renamed("ld", "Ld"), renamed("oc", "OC"), text("base_size"),
			text("base_size_descr"),
		},
		Refs: []Reference{
			{Column: "datasheet_id", Table: "datasheets"},
		},
	},
	{
		Table:     "datasheets_options",
		File:      "Datasheets_options.csv",
		Kind:      KindChild,
		Key:       []string{"datasheet_id", "line"},
		ParentKey: "datasheet_id",
		Columns: []Column{
			text("datasheet_id"), integer("line"), text("button"),
			text("description"),
		},
		Refs: []Reference{
			{Column: "datasheet_id", Table: "datasheets"},
		},
	},
	{
		Table:     "datasheets_wargear",
		File:      "Datasheets_wargear.csv",
		Kind:      KindChild,
		Key:       []string{"datasheet_id", "line", "line_in_wargear"},
		ParentKey: "datasheet_id",
		Columns: []Column{
			text("datasheet_id"), integer("line"), integer("line_in_wargear"),
			text("dice"), text("name"), text("description"), text("range"),
			text("type"), renamed("a", "A"), renamed("bs_ws", "BS_WS"),
			renamed("s", "S"), renamed("ap", "AP"), renamed("d", "D"),
		},
		Refs: []Reference{
			{Column: "datasheet_id", Table: "datasheets"},
		},
	},
	{
		Table:     "datasheets_unit_composition",
		File:      "Datasheets_unit_composition.csv",
		Kind:      KindChild,
		Key:       []string{"datasheet_id", "line"},
		ParentKey: "datasheet_id",
		Columns: []Column{
			text("datasheet_id"), integer("line"), text("description"),
		},
		Refs: []Reference{
			{Column: "datasheet_id", Table: "datasheets"},
		},
	},
	{
		Table:     "datasheets_models_cost",
		File:      "Datasheets_models_cost.csv",
		Kind:      KindChild,
		Key:       []string{"datasheet_id", "line"},
		ParentKey: "datasheet_id",
		Columns: []Column{
			text("datasheet_id"), integer("line"), text("description"),
			text("cost"),
		},
		Refs: []Reference{
			{Column: "datasheet_id", Table: "datasheets"},
		},
	},
	{
		Table:     "datasheets_stratagems",
		File:      "Datasheets_stratagems.csv",
		Kind:      KindJunction,
		Key:       []string{"datasheet_id", "stratagem_id"},
		ParentKey: "datasheet_id",
		Columns: []Column{
			text("datasheet_id"), text("stratagem_id"),
		},
		Refs: []Reference{
			{Column: "datasheet_id", Table: "datasheets"},
			{Column: "stratagem_id", Table: "stratagems"},
		},
	},
	{
		Table:     "datasheets_enhancements",
		File:      "Datasheets_enhancements.csv",
		Kind:      KindJunction,
		Key:       []string{"datasheet_id", "enhancement_id"},
		ParentKey: "datasheet_id",
		Columns: []Column{
			text("datasheet_id"), text("enhancement_id"),
		},
		Refs: []Reference{
			{Column: "datasheet_id", Table: "datasheets"},
			{Column: "enhancement_id", Table: "enhancements"},
		},
	},
	{
		Table:     "datasheets_detachment_abilities",
		File:      "Datasheets_detachment_abilities.csv",
		Kind:      KindJunction,
		Key:       []string{"datasheet_id", "detachment_ability_id"},
		ParentKey: "datasheet_id",
		Columns: []Column{
			text("datasheet_id"), text("detachment_ability_id"),
		},
		Refs: []Reference{
			{Column: "datasheet_id", Table: "datasheets"},
			{Column: "detachment_ability_id", Table: "detachment_abilities"},
		},
	},
	{
		Table:     "datasheets_leader",
		File:      "Datasheets_leader.csv",
		Kind:      KindJunction,
		Key:       []string{"datasheet_id", "attached_datasheet_id"},
		ParentKey: "datasheet_id",
		Columns: []Column{
			renamed("datasheet_id", "leader_id"),
			renamed("attached_datasheet_id", "attached_id"),
		},
		Refs: []Reference{
			{Column: "datasheet_id", Table: "datasheets"},
			{Column: "attached_datasheet_id", Table: "datasheets"},
		},
	},
}

// Entities returns the entity graph in ingestion order.
func Entities() []Entity {
	out := make([]Entity, len(entities))
	copy(out, entities)
	return out
}

// ByTable looks up an entity by its store table name.
func ByTable(table string) (Entity, bool) {
	for _, e := range entities {
		if e.Table == table {
			return e, true
		}
	}
	return Entity{}, false
}

// ByFile looks up an entity by its export file name.
func ByFile(file string) (Entity, bool) {
	for _, e := range entities {
		if e.File == file {
			return e, true
		}
	}
	return Entity{}, false
}

// KnownTable reports whether table is part of the managed schema, including
// the freshness marker table. The bulk delete helper refuses any table this
// does not know about.
func KnownTable(table string) bool {
	if table == MarkerTable {
		return true
	}
	_, ok := ByTable(table)
	return ok
}

// Files returns every export file the importer fetches, marker first, then
// entity files in ingestion order.
func Files() []string {
	out := make([]string, 0, len(entities)+1)
	out = append(out, MarkerFile)
	for _, e := range entities {
		out = append(out, e.File)
	}
	return out
}
