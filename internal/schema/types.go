// Package schema implements the schema differ and migration store (C3):
// computing the desired SQL schema from the entity registry, diffing it
// against the last recorded cumulative schema, emitting migration files, and
// applying pending migrations to a target namespace tracked by content hash.
//
// Grounded on the original's zara.utilities.database.migrater (Migration,
// ModelChange, AddField/RemoveField, hash-based change detection against a
// saved "previous models" state) and the teacher's
// system/platform/migrations/migrations.go (embed + apply-in-order idiom,
// generalized here to per-namespace content-hash tracking).
package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/meridianhq/apprt/internal/entity"
)

// Column is the SQL-facing shape of a field descriptor.
type Column struct {
	Name       string
	SQLType    string
	Nullable   bool
	PrimaryKey bool
	Unique     bool
}

// ForeignKey describes a has-one relationship's column constraint.
type ForeignKey struct {
	Column           string
	ReferencedTable  string
	ReferencedColumn string
}

// Index describes an index emitted for a field marked Index (or Unique,
// which PostgreSQL already indexes implicitly via the constraint, so Index
// entries here are only for explicitly-indexed non-unique fields).
type Index struct {
	Name   string
	Table  string
	Column string
}

// Table is the desired shape of one SQL table.
type Table struct {
	Name        string
	Columns     []Column
	ForeignKeys []ForeignKey
	Indexes     []Index
}

// Schema is the full desired (or previously recorded) database shape,
// keyed by table name.
type Schema struct {
	Tables map[string]Table
}

// NewSchema returns an empty schema.
func NewSchema() Schema {
	return Schema{Tables: make(map[string]Table)}
}

// sqlType maps a logical field type to its PostgreSQL representation, per
// the spec's logical->SQL table in §4.3.
func sqlType(f entity.FieldDescriptor) string {
	switch f.Type {
	case entity.TypeString:
		n := f.MaxLen
		if n <= 0 {
			n = 255
		}
		return fmt.Sprintf("VARCHAR(%d)", n)
	case entity.TypeInteger:
		if f.AutoIncrement {
			return "SERIAL PRIMARY KEY"
		}
		return "INTEGER"
	case entity.TypeFloat:
		return "FLOAT"
	case entity.TypeBoolean:
		return "BOOLEAN"
	case entity.TypeTimestamp:
		return "TIMESTAMP"
	case entity.TypeEnum:
		return enumTypeName(f)
	default:
		return "TEXT"
	}
}

func enumTypeName(f entity.FieldDescriptor) string {
	// The spec names the SQL type after the enum "E"; we derive a stable
	// per-field type name since the descriptor has no separate enum-type
	// identity of its own.
	return strings.ToLower(f.Name) + "_enum"
}

// Desired computes the desired Schema from every entity registered in r.
func Desired(r *entity.Registry) Schema {
	s := NewSchema()
	for _, name := range r.Names() {
		d, _ := r.Get(name)
		qualified, _ := r.Table(name)
		table := Table{Name: qualified}
		for _, f := range d.Fields {
			table.Columns = append(table.Columns, Column{
				Name:       f.Name,
				SQLType:    sqlType(f),
				Nullable:   f.Nullable && !f.PrimaryKey,
				PrimaryKey: f.PrimaryKey,
				Unique:     f.Unique,
			})
			if f.Index && !f.Unique {
				table.Indexes = append(table.Indexes, Index{
					Name:   fmt.Sprintf("ix_%s_%s", d.Name, f.Name),
					Table:  d.Name,
					Column: f.Name,
				})
			}
		}
		for _, rel := range d.Relations {
			if rel.Kind == entity.HasOne || rel.Kind == entity.OwnsOne {
				col := rel.Name + "_id"
				refTable, err := r.Table(rel.Target)
				if err != nil {
					refTable = rel.Target
				}
				table.ForeignKeys = append(table.ForeignKeys, ForeignKey{
					Column:           col,
					ReferencedTable:  refTable,
					ReferencedColumn: "id",
				})
			}
		}
		sort.Slice(table.Indexes, func(i, j int) bool { return table.Indexes[i].Name < table.Indexes[j].Name })
		s.Tables[qualified] = table
	}
	return s
}

// CreateTableSQL renders a CREATE TABLE statement for t.
func CreateTableSQL(t Table) string {
	var cols []string
	for _, c := range t.Columns {
		def := c.Name + " " + c.SQLType
		if strings.Contains(c.SQLType, "SERIAL PRIMARY KEY") {
			cols = append(cols, def)
			continue
		}
		if !c.Nullable {
			def += " NOT NULL"
		}
		if c.PrimaryKey {
			def += " PRIMARY KEY"
		} else if c.Unique {
			def += " UNIQUE"
		}
		cols = append(cols, def)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", t.Name, strings.Join(cols, ", "))
}

// ForeignKeySQL renders an ALTER TABLE statement adding a foreign key
// constraint.
func ForeignKeySQL(t Table, fk ForeignKey) string {
	constraint := fmt.Sprintf("fk_%s_%s", t.Name, fk.Column)
	return fmt.Sprintf(
		"ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)",
		t.Name, constraint, fk.Column, fk.ReferencedTable, fk.ReferencedColumn,
	)
}

// DropForeignKeySQL renders the inverse of ForeignKeySQL, used in the pre-ops
// group when a constraint must be dropped before column changes.
func DropForeignKeySQL(t Table, fk ForeignKey) string {
	constraint := fmt.Sprintf("fk_%s_%s", t.Name, fk.Column)
	return fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT IF EXISTS %s", t.Name, constraint)
}

// CreateIndexSQL renders a CREATE INDEX statement.
func CreateIndexSQL(ix Index) string {
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", ix.Name, ix.Table, ix.Column)
}

// DropIndexSQL renders the inverse of CreateIndexSQL.
func DropIndexSQL(ix Index) string {
	return fmt.Sprintf("DROP INDEX IF EXISTS %s", ix.Name)
}

// AddColumnSQL renders an ADD COLUMN statement.
func AddColumnSQL(table string, c Column) string {
	def := c.Name + " " + c.SQLType
	if !c.Nullable {
		def += " NOT NULL"
	}
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", table, def)
}

// DropColumnSQL renders a DROP COLUMN statement.
func DropColumnSQL(table, column string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", table, column)
}

// DropTableSQL renders a DROP TABLE statement.
func DropTableSQL(table string) string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s", table)
}
