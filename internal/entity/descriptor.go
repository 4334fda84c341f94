// Package entity implements the declarative schema layer (C2): entity
// classes, field descriptors, and relationship descriptors, registered at
// startup and consulted by the schema differ (internal/schema) and the ORM
// (internal/orm).
//
// The original Python runtime reflects class annotations at runtime to
// discover fields (zara.utilities.database.base.Model._get_fields walking
// cls.mro()). Per the spec's own design notes, a statically typed target
// should use hand-written builder objects instead of reflection, so entity
// descriptors here are built by fluent constructors and registered
// explicitly rather than discovered from struct tags.
package entity

import "fmt"

// FieldType is the logical type of a field descriptor, independent of its
// eventual SQL representation (see internal/schema for the SQL mapping).
type FieldType int

const (
	TypeString FieldType = iota
	TypeInteger
	TypeFloat
	TypeBoolean
	TypeTimestamp
	TypeEnum
)

func (t FieldType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeInteger:
		return "integer"
	case TypeFloat:
		return "float"
	case TypeBoolean:
		return "boolean"
	case TypeTimestamp:
		return "timestamp"
	case TypeEnum:
		return "enum"
	default:
		return "unknown"
	}
}

// Validator checks a field value, returning a ValidationFailure-shaped error
// (nil if the value is acceptable).
type Validator func(value any) error

// DefaultFactory produces a zero-argument default value for a field that
// has none set explicitly.
type DefaultFactory func() any

// FieldDescriptor describes one column of an entity.
type FieldDescriptor struct {
	Name          string
	Type          FieldType
	MaxLen        int // 0 means "use the type's default length" (255 for strings)
	PrimaryKey    bool
	AutoIncrement bool
	Unique        bool
	Nullable      bool
	Index         bool
	Private       bool
	EnumValues    []string
	Default       DefaultFactory
	Validate      Validator
}

// FieldBuilder builds a FieldDescriptor fluently, mirroring the vocabulary of
// the original's Required[T]/Optional[T]/AutoIncrement/PrimaryKey[T] field
// markers without relying on generics-as-reflection.
type FieldBuilder struct {
	d FieldDescriptor
}

func newField(name string, t FieldType) *FieldBuilder {
	return &FieldBuilder{d: FieldDescriptor{Name: name, Type: t, Nullable: true}}
}

// String starts a string field descriptor, defaulting to nullable and no
// explicit length (MaxLen 0, which the schema's logical->SQL mapping turns
// into VARCHAR(255)).
func String(name string) *FieldBuilder { return newField(name, TypeString) }

// Integer starts an integer field descriptor.
func Integer(name string) *FieldBuilder { return newField(name, TypeInteger) }

// Float starts a float field descriptor.
func Float(name string) *FieldBuilder { return newField(name, TypeFloat) }

// Boolean starts a boolean field descriptor.
func Boolean(name string) *FieldBuilder { return newField(name, TypeBoolean) }

// Timestamp starts a timestamp field descriptor.
func Timestamp(name string) *FieldBuilder { return newField(name, TypeTimestamp) }

// Enum starts an enum field descriptor with a finite set of allowed values.
func Enum(name string, values ...string) *FieldBuilder {
	b := newField(name, TypeEnum)
	b.d.EnumValues = values
	return b
}

// PrimaryKey marks this field as the entity's primary key.
func (b *FieldBuilder) PrimaryKey() *FieldBuilder {
	b.d.PrimaryKey = true
	b.d.Nullable = false
	return b
}

// AutoIncrement marks an integer primary key as database-assigned
// (SERIAL PRIMARY KEY); mutually exclusive with an Id-57 assigned key.
func (b *FieldBuilder) AutoIncrement() *FieldBuilder {
	b.d.AutoIncrement = true
	b.d.Type = TypeInteger
	return b
}

// Required marks the field non-nullable.
func (b *FieldBuilder) Required() *FieldBuilder {
	b.d.Nullable = false
	return b
}

// Optional marks the field nullable (the default for builders other than
// PrimaryKey).
func (b *FieldBuilder) Optional() *FieldBuilder {
	b.d.Nullable = true
	return b
}

// MaxLen sets a string field's maximum length.
func (b *FieldBuilder) MaxLen(n int) *FieldBuilder {
	b.d.MaxLen = n
	return b
}

// Unique marks the field as carrying a uniqueness constraint.
func (b *FieldBuilder) Unique() *FieldBuilder {
	b.d.Unique = true
	return b
}

// Index marks the field as carrying a non-unique index.
func (b *FieldBuilder) Index() *FieldBuilder {
	b.d.Index = true
	return b
}

// Private excludes the field from the default projection (to_dict).
func (b *FieldBuilder) Private() *FieldBuilder {
	b.d.Private = true
	return b
}

// DefaultValue sets a fixed default value, wrapped in a zero-argument
// factory for uniformity with DefaultFunc.
func (b *FieldBuilder) DefaultValue(v any) *FieldBuilder {
	b.d.Default = func() any { return v }
	return b
}

// DefaultFunc sets a default-value factory, mirroring the original's
// Default(callable) marker (e.g. datetime.now).
func (b *FieldBuilder) DefaultFunc(f DefaultFactory) *FieldBuilder {
	b.d.Default = f
	return b
}

// WithValidator attaches a validator predicate.
func (b *FieldBuilder) WithValidator(v Validator) *FieldBuilder {
	b.d.Validate = v
	return b
}

// Build finalizes the descriptor.
func (b *FieldBuilder) Build() FieldDescriptor {
	return b.d
}

// RelationKind is the variant of a relationship descriptor.
type RelationKind int

const (
	HasOne RelationKind = iota
	HasMany
	OwnsOne
)

// RelationDescriptor describes a relationship to another entity.
type RelationDescriptor struct {
	Name    string
	Kind    RelationKind
	Target  string // target entity name
	OrderBy string // for HasMany: optional ordering column
	Limit   int    // for HasMany: 0 means unlimited
}

// Rel builds a relationship descriptor.
func Rel(name string, kind RelationKind, target string) RelationDescriptor {
	return RelationDescriptor{Name: name, Kind: kind, Target: target}
}

// OrderedBy sets a HasMany relationship's ordering column.
func (r RelationDescriptor) OrderedBy(column string) RelationDescriptor {
	r.OrderBy = column
	return r
}

// Limited caps a HasMany relationship's fetch size.
func (r RelationDescriptor) Limited(n int) RelationDescriptor {
	r.Limit = n
	return r
}

// Descriptor is the full declarative shape of one entity: its table name,
// whether it lives in the shared public namespace, its ordered field list
// (mixins first, per the spec's "mixin contributed fields... merged in
// declaration order" design note), and its relationships.
type Descriptor struct {
	Name      string
	Public    bool
	Fields    []FieldDescriptor
	Relations []RelationDescriptor
}

// PrimaryKeyField returns the name of the entity's primary key field.
func (d Descriptor) PrimaryKeyField() (string, error) {
	for _, f := range d.Fields {
		if f.PrimaryKey {
			return f.Name, nil
		}
	}
	return "", fmt.Errorf("entity: %s declares no primary key field", d.Name)
}

// Field looks up a field descriptor by name.
func (d Descriptor) Field(name string) (FieldDescriptor, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDescriptor{}, false
}

// Relation looks up a relationship descriptor by name.
func (d Descriptor) Relation(name string) (RelationDescriptor, bool) {
	for _, r := range d.Relations {
		if r.Name == name {
			return r, true
		}
	}
	return RelationDescriptor{}, false
}
