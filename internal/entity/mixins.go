package entity

// Mixins model the original's reusable field bundles (audit timestamps,
// soft-delete, id) as composable descriptor-producing functions rather than
// as a base class walked via mro(). Entities compose these explicitly in
// declaration order, which is how the spec's "mixins contributing fields"
// design note asks the registry to merge them: "in declaration order when
// enumerating fields".

// IDMixin returns the Id-57 primary key field shared by every non-
// auto-increment entity.
func IDMixin() []FieldDescriptor {
	return []FieldDescriptor{
		String("id").PrimaryKey().MaxLen(30).Build(),
	}
}

// AutoIncrementIDMixin returns an auto-increment integer primary key, for
// entities that opt out of Id-57 (rare; most entities use IDMixin).
func AutoIncrementIDMixin() []FieldDescriptor {
	return []FieldDescriptor{
		Integer("id").PrimaryKey().AutoIncrement().Build(),
	}
}

// TimestampsMixin returns created_at/updated_at fields.
func TimestampsMixin() []FieldDescriptor {
	return []FieldDescriptor{
		Timestamp("created_at").Required().Build(),
		Timestamp("updated_at").Required().Build(),
	}
}

// SoftDeleteMixin returns the deleted_at field the spec calls out as the
// application-level model of row soft-delete ("never destroyed at the type
// level... modelled by a deleted_at timestamp field").
func SoftDeleteMixin() []FieldDescriptor {
	return []FieldDescriptor{
		Timestamp("deleted_at").Optional().Index().Build(),
	}
}

// Compose concatenates field lists in order, the Go equivalent of the
// registry merging mixin-contributed fields before subclass fields.
func Compose(groups ...[]FieldDescriptor) []FieldDescriptor {
	var out []FieldDescriptor
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}
