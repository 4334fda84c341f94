// Package orm implements entity CRUD, relationship materialisation, and
// dict projection (C4): insert/update/fetch/fetch_many/first_or_create
// against entity descriptors (internal/entity), with change tracking and
// audit-event emission on create/update.
//
// Grounded on the original's zara.utilities.database.base.Model (dynamic
// `_values` dict, `changed_fields` dirty tracking, `as_dict` private-field
// filtering) and the teacher's internal/app/storage/postgres/store.go
// (parameterized raw SQL, RETURNING id, duplicate-key string sniffing).
// Since entities here are descriptor-driven rather than distinct Go struct
// types, an Instance plays the role the original's dynamically-typed model
// instances play: a descriptor plus a values map.
package orm

import "github.com/meridianhq/apprt/internal/entity"

// Instance is one row's in-memory representation: the descriptor it was
// built from, its current field values, which fields are dirty (changed
// since the last load/save), and any relationships materialised onto it by
// fetch_many's include list.
type Instance struct {
	Desc            entity.Descriptor
	values          map[string]any
	dirty           map[string]struct{}
	loadedRelations map[string]any
}

// NewInstance builds an instance from values, applying descriptor defaults
// for any field left unset.
func NewInstance(desc entity.Descriptor, values map[string]any) *Instance {
	v := make(map[string]any, len(values)+len(desc.Fields))
	for k, val := range values {
		v[k] = val
	}
	for _, f := range desc.Fields {
		if _, ok := v[f.Name]; ok {
			continue
		}
		if f.Default != nil {
			v[f.Name] = f.Default()
		}
	}
	return &Instance{
		Desc:            desc,
		values:          v,
		dirty:           make(map[string]struct{}),
		loadedRelations: make(map[string]any),
	}
}

// Get returns a field's current value, or nil if unset.
func (i *Instance) Get(name string) any { return i.values[name] }

// Set assigns a field value and marks it dirty. Unknown field names are
// ignored (mirrors the original's set() only tracking declared fields).
func (i *Instance) Set(name string, value any) {
	if _, ok := i.Desc.Field(name); !ok {
		return
	}
	i.values[name] = value
	i.dirty[name] = struct{}{}
}

// ID returns the value of the entity's primary key field, or nil if the
// descriptor declares none or it is unset.
func (i *Instance) ID() any {
	pk, err := i.Desc.PrimaryKeyField()
	if err != nil {
		return nil
	}
	return i.values[pk]
}

// DirtyFields returns the names of fields changed since the last clear, in
// descriptor field order (deterministic SQL statement generation).
func (i *Instance) DirtyFields() []string {
	var out []string
	for _, f := range i.Desc.Fields {
		if _, ok := i.dirty[f.Name]; ok {
			out = append(out, f.Name)
		}
	}
	return out
}

func (i *Instance) clearDirty() {
	i.dirty = make(map[string]struct{})
}

// Relation returns a previously materialised relationship value (*Instance
// for has-one/owns-one, []*Instance for has-many), or nil if not loaded.
func (i *Instance) Relation(name string) any { return i.loadedRelations[name] }

func (i *Instance) setRelation(name string, value any) { i.loadedRelations[name] = value }

// ToDict projects the instance into a plain mapping, omitting private
// fields unless includePrivate is set, and recursively projecting any
// materialised relationships. The original's to_dict returns an ordered
// mapping (Python dicts preserve insertion order); a Go map has no
// intrinsic order, so callers that need field order for deterministic
// output should iterate Desc.Fields directly rather than range over the
// result.
func (i *Instance) ToDict(includePrivate bool) map[string]any {
	out := make(map[string]any, len(i.Desc.Fields)+len(i.loadedRelations))
	for _, f := range i.Desc.Fields {
		if f.Private && !includePrivate {
			continue
		}
		out[f.Name] = i.values[f.Name]
	}
	for name, rel := range i.loadedRelations {
		switch v := rel.(type) {
		case *Instance:
			out[name] = v.ToDict(includePrivate)
		case []*Instance:
			list := make([]map[string]any, len(v))
			for idx, inst := range v {
				list[idx] = inst.ToDict(includePrivate)
			}
			out[name] = list
		}
	}
	return out
}
