package schema

import "sort"

// Diff is the three ordered operation groups the spec requires (§4.3 step
// 4): pre-ops (constraint drops), ops (column/table changes), post-ops
// (constraint adds, indexes). Constraints refer to columns that may be
// added or dropped in the main group, so they must be dropped before and
// added after.
type Diff struct {
	PreOps  []string
	Ops     []string
	PostOps []string
}

// Statements concatenates the three groups in the required order, ready to
// execute sequentially.
func (d Diff) Statements() []string {
	out := make([]string, 0, len(d.PreOps)+len(d.Ops)+len(d.PostOps))
	out = append(out, d.PreOps...)
	out = append(out, d.Ops...)
	out = append(out, d.PostOps...)
	return out
}

// Compute diffs old against next, the desired schema.
func Compute(old, next Schema) Diff {
	var d Diff

	oldNames := sortedTableNames(old)
	nextNames := sortedTableNames(next)

	oldSet := toSet(oldNames)
	nextSet := toSet(nextNames)

	// Added tables: full CREATE, plus their foreign keys and indexes land
	// in post-ops since the referenced table may itself be newly added in
	// this same diff.
	for _, name := range nextNames {
		if !oldSet[name] {
			t := next.Tables[name]
			d.Ops = append(d.Ops, CreateTableSQL(t))
			for _, fk := range t.ForeignKeys {
				d.PostOps = append(d.PostOps, ForeignKeySQL(t, fk))
			}
			for _, ix := range t.Indexes {
				d.PostOps = append(d.PostOps, CreateIndexSQL(ix))
			}
		}
	}

	// Removed tables: drop constraints/indexes first (pre-ops), then DROP
	// TABLE (ops).
	for _, name := range oldNames {
		if !nextSet[name] {
			t := old.Tables[name]
			for _, fk := range t.ForeignKeys {
				d.PreOps = append(d.PreOps, DropForeignKeySQL(t, fk))
			}
			for _, ix := range t.Indexes {
				d.PreOps = append(d.PreOps, DropIndexSQL(ix))
			}
			d.Ops = append(d.Ops, DropTableSQL(name))
		}
	}

	// Retained tables: per-column and per-constraint diff.
	for _, name := range nextNames {
		if !oldSet[name] {
			continue
		}
		oldTable := old.Tables[name]
		nextTable := next.Tables[name]
		diffRetainedTable(&d, oldTable, nextTable)
	}

	return d
}

func diffRetainedTable(d *Diff, oldTable, nextTable Table) {
	oldCols := columnSet(oldTable)
	nextCols := columnSet(nextTable)

	for _, c := range nextTable.Columns {
		if prev, ok := oldCols[c.Name]; !ok {
			d.Ops = append(d.Ops, AddColumnSQL(nextTable.Name, c))
		} else if prev.SQLType != c.SQLType || prev.Nullable != c.Nullable {
			// ALTER COLUMN: drop then re-add is the conservative,
			// constraint-ordering-safe approach the spec's three-group
			// scheme exists for.
			d.Ops = append(d.Ops, DropColumnSQL(nextTable.Name, c.Name))
			d.Ops = append(d.Ops, AddColumnSQL(nextTable.Name, c))
		}
	}
	for _, c := range oldTable.Columns {
		if _, ok := nextCols[c.Name]; !ok {
			d.Ops = append(d.Ops, DropColumnSQL(oldTable.Name, c.Name))
		}
	}

	oldFKs := fkSet(oldTable)
	nextFKs := fkSet(nextTable)
	for _, fk := range oldTable.ForeignKeys {
		if _, ok := nextFKs[fk.Column]; !ok {
			d.PreOps = append(d.PreOps, DropForeignKeySQL(oldTable, fk))
		}
	}
	for _, fk := range nextTable.ForeignKeys {
		if _, ok := oldFKs[fk.Column]; !ok {
			d.PostOps = append(d.PostOps, ForeignKeySQL(nextTable, fk))
		}
	}

	oldIdx := idxSet(oldTable)
	nextIdx := idxSet(nextTable)
	for _, ix := range oldTable.Indexes {
		if _, ok := nextIdx[ix.Name]; !ok {
			d.PreOps = append(d.PreOps, DropIndexSQL(ix))
		}
	}
	for _, ix := range nextTable.Indexes {
		if _, ok := oldIdx[ix.Name]; !ok {
			d.PostOps = append(d.PostOps, CreateIndexSQL(ix))
		}
	}
}

func sortedTableNames(s Schema) []string {
	names := make([]string, 0, len(s.Tables))
	for n := range s.Tables {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func toSet(names []string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

func columnSet(t Table) map[string]Column {
	m := make(map[string]Column, len(t.Columns))
	for _, c := range t.Columns {
		m[c.Name] = c
	}
	return m
}

func fkSet(t Table) map[string]ForeignKey {
	m := make(map[string]ForeignKey, len(t.ForeignKeys))
	for _, fk := range t.ForeignKeys {
		m[fk.Column] = fk
	}
	return m
}

func idxSet(t Table) map[string]Index {
	m := make(map[string]Index, len(t.Indexes))
	for _, ix := range t.Indexes {
		m[ix.Name] = ix
	}
	return m
}
