package catalog

import (
	"testing"
)

func TestEntitiesOrder(t *testing.T) {
	// Later entities must only reference tables that appear earlier
	// (self-references excepted: datasheets_leader points back at
	// datasheets, which precedes it).
	seen := map[string]bool{}
	for _, e := range Entities() {
		for _, ref := range e.Refs {
			if ref.Table == e.Table {
				continue
			}
			if !seen[ref.Table] {
				t.Errorf("entity %s references %s before it is loaded", e.Table, ref.Table)
			}
		}
		seen[e.Table] = true
	}
}

func TestEntityShapes(t *testing.T) {
	for _, e := range Entities() {
		if len(e.Key) == 0 {
			t.Errorf("entity %s has no key", e.Table)
		}

		cols := map[string]bool{}
		for _, c := range e.Columns {
			if cols[c.Name] {
				t.Errorf("entity %s declares column %s twice", e.Table, c.Name)
			}
			cols[c.Name] = true
		}

		for _, k := range e.Key {
			if !cols[k] {
				t.Errorf("entity %s key column %s not declared", e.Table, k)
			}
		}
		for _, ref := range e.Refs {
			if !cols[ref.Column] {
				t.Errorf("entity %s ref column %s not declared", e.Table, ref.Column)
			}
		}

		switch e.Kind {
		case KindChild, KindJunction:
			if e.ParentKey == "" {
				t.Errorf("entity %s (%s) has no parent key", e.Table, e.Kind)
			}
			if !cols[e.ParentKey] {
				t.Errorf("entity %s parent key %s not declared", e.Table, e.ParentKey)
			}
		case KindIndependent, KindCentral:
			if e.ParentKey != "" {
				t.Errorf("entity %s (%s) should not have a parent key", e.Table, e.Kind)
			}
			if len(e.Key) != 1 {
				t.Errorf("entity %s should have a single-column key, got %v", e.Table, e.Key)
			}
		default:
			t.Errorf("entity %s has unknown kind %q", e.Table, e.Kind)
		}
	}
}

func TestByFileCoversAllFiles(t *testing.T) {
	files := Files()
	if files[0] != MarkerFile {
		t.Fatalf("Files()[0] = %q, want marker file first", files[0])
	}
	for _, f := range files[1:] {
		if _, ok := ByFile(f); !ok {
			t.Errorf("ByFile(%q) not found", f)
		}
	}
}

func TestKnownTable(t *testing.T) {
	cases := []struct {
		table string
		want  bool
	}{
		{"factions", true},
		{"datasheets", true},
		{"datasheets_wargear", true},
		{"last_update", true},
		{"users", false},
		{"", false},
		{"datasheets; DROP TABLE factions", false},
	}
	for _, tc := range cases {
		if got := KnownTable(tc.table); got != tc.want {
			t.Errorf("KnownTable(%q) = %v, want %v", tc.table, got, tc.want)
		}
	}
}

func TestRenamedColumns(t *testing.T) {
	leader, ok := ByTable("datasheets_leader")
	if !ok {
		t.Fatal("datasheets_leader not in catalog")
	}
	if got := leader.Columns[0].SourceName(); got != "leader_id" {
		t.Errorf("leader source column = %q, want leader_id", got)
	}
	if got := leader.Columns[1].SourceName(); got != "attached_id" {
		t.Errorf("attached source column = %q, want attached_id", got)
	}

	models, _ := ByTable("datasheets_models")
	renames := map[string]string{}
	for _, c := range models.Columns {
		if c.Source != "" {
			renames[c.Source] = c.Name
		}
	}
	for src, want := range map[string]string{
		"M": "m", "T": "t", "Sv": "sv", "W": "w", "Ld": "ld", "OC": "oc",
	} {
		if renames[src] != want {
			t.Errorf("models rename %s = %q, want %q", src, renames[src], want)
		}
	}
}

func TestStamped(t *testing.T) {
	for _, e := range Entities() {
		want := e.Kind == KindIndependent || e.Kind == KindCentral
		if e.Stamped() != want {
			t.Errorf("entity %s Stamped() = %v, want %v", e.Table, e.Stamped(), want)
		}
	}
}
