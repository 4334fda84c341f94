package orm

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/meridianhq/apprt/internal/ambient"
	"github.com/meridianhq/apprt/internal/apperr"
	"github.com/meridianhq/apprt/internal/dbhandle"
	"github.com/meridianhq/apprt/internal/entity"
	"github.com/meridianhq/apprt/internal/idgen"
)

// Executor is the slice of *dbhandle.Handle the ORM actually needs. Defined
// here (rather than importing dbhandle.Handle directly as a concrete type)
// so the ORM consults whatever handle C1's ambient context carries, exactly
// as spec §4.4 describes ("ORM operations... consult C1").
type Executor interface {
	Execute(ctx context.Context, query string, params []any, opts dbhandle.ExecOptions) (*dbhandle.Result, error)
}

func executorFrom(ctx context.Context) (Executor, error) {
	db := ambient.DBFrom(ctx)
	if db == nil {
		return nil, apperr.Internal("orm: no database handle installed in ambient context")
	}
	exec, ok := db.(Executor)
	if !ok {
		return nil, apperr.Internal("orm: ambient database handle does not support execution")
	}
	return exec, nil
}

// ORM performs CRUD, relationship materialisation, and audit-event
// emission against entities registered in an entity.Registry.
type ORM struct {
	registry        *entity.Registry
	auditEntityName string
}

// New builds an ORM backed by registry. auditEntityName is the entity name
// that insert/update must never emit audit events for (spec's own audit
// listener persists its own row via C4 and must not recurse); see
// DESIGN.md's Open Question decision on recursion guards.
func New(registry *entity.Registry, auditEntityName string) *ORM {
	return &ORM{registry: registry, auditEntityName: auditEntityName}
}

// Insert builds an INSERT ... RETURNING <pk> statement from inst's current
// values, honouring descriptor defaults for unset fields, assigns the
// returned id, clears the dirty set, and emits a create AuditEvent unless
// inst's entity is the audit entity itself or public (spec §4.4 invariant:
// "an entity known to be public must not emit audit events").
func (o *ORM) Insert(ctx context.Context, inst *Instance) error {
	exec, err := executorFrom(ctx)
	if err != nil {
		return err
	}

	desc := inst.Desc
	pk, err := desc.PrimaryKeyField()
	if err != nil {
		return err
	}
	pkField, _ := desc.Field(pk)

	if !pkField.AutoIncrement {
		if v, ok := inst.values[pk]; !ok || v == nil || v == "" {
			inst.values[pk] = idgen.New()
		}
	}

	var columns, placeholders []string
	var params []any
	n := 1
	for _, f := range desc.Fields {
		if f.AutoIncrement {
			continue
		}
		columns = append(columns, f.Name)
		placeholders = append(placeholders, fmt.Sprintf("$%d", n))
		params = append(params, inst.values[f.Name])
		n++
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		desc.Name, strings.Join(columns, ", "), strings.Join(placeholders, ", "), pk,
	)

	res, err := exec.Execute(ctx, query, params, dbhandle.ExecOptions{Fetch: true, Public: desc.Public})
	if err != nil {
		return mapWriteError(err)
	}
	defer res.Rows.Close()

	if !res.Rows.Next() {
		return apperr.Internal("orm: insert into %s returned no row", desc.Name)
	}
	var returned any
	if err := res.Rows.Scan(&returned); err != nil {
		return err
	}
	if err := res.Rows.Err(); err != nil {
		return err
	}
	inst.values[pk] = convertScanned(pkField, returned)
	inst.clearDirty()

	o.emitAudit(ctx, "create", inst)
	return nil
}

// Update is a no-op when inst has no dirty fields. Otherwise it builds an
// UPDATE ... WHERE <pk> = $n statement from the dirty set, clears it, and
// emits an update AuditEvent.
func (o *ORM) Update(ctx context.Context, inst *Instance) error {
	dirty := inst.DirtyFields()
	if len(dirty) == 0 {
		return nil
	}

	exec, err := executorFrom(ctx)
	if err != nil {
		return err
	}

	desc := inst.Desc
	pk, err := desc.PrimaryKeyField()
	if err != nil {
		return err
	}

	var sets []string
	var params []any
	n := 1
	for _, name := range dirty {
		sets = append(sets, fmt.Sprintf("%s = $%d", name, n))
		params = append(params, inst.values[name])
		n++
	}
	params = append(params, inst.values[pk])

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = $%d", desc.Name, strings.Join(sets, ", "), pk, n)

	if _, err := exec.Execute(ctx, query, params, dbhandle.ExecOptions{Public: desc.Public}); err != nil {
		return mapWriteError(err)
	}
	inst.clearDirty()

	o.emitAudit(ctx, "update", inst)
	return nil
}

// Fetch runs SELECT <fields> FROM <table> WHERE <filters> LIMIT 1 and
// returns a hydrated instance with an empty dirty set, or ResourceNotFound.
func (o *ORM) Fetch(ctx context.Context, desc entity.Descriptor, filters map[string]any) (*Instance, error) {
	exec, err := executorFrom(ctx)
	if err != nil {
		return nil, err
	}

	fields := fieldNames(desc)
	where, params := whereClause(filters, 1)

	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(fields, ", "), desc.Name)
	if where != "" {
		query += " WHERE " + where
	}
	query += " LIMIT 1"

	res, err := exec.Execute(ctx, query, params, dbhandle.ExecOptions{Fetch: true, Public: desc.Public})
	if err != nil {
		return nil, err
	}
	defer res.Rows.Close()

	if !res.Rows.Next() {
		return nil, apperr.ResourceNotFound("%s not found for given filters", desc.Name)
	}
	inst, err := scanRowFields(desc, fields, res.Rows)
	if err != nil {
		return nil, err
	}
	return inst, res.Rows.Err()
}

// FetchManyOptions configures a fetch_many call. Fields empty means all
// descriptor fields; Limit <= 0 means unlimited.
type FetchManyOptions struct {
	Fields  []string
	Include []string
	OrderBy string
	Limit   int
	Filters map[string]any
}

// FetchMany runs SELECT <fields> FROM <table> WHERE ... ORDER BY ... LIMIT
// ..., then materialises any relationships named in opts.Include.
func (o *ORM) FetchMany(ctx context.Context, desc entity.Descriptor, opts FetchManyOptions) ([]*Instance, error) {
	exec, err := executorFrom(ctx)
	if err != nil {
		return nil, err
	}

	fields := opts.Fields
	if len(fields) == 0 {
		fields = fieldNames(desc)
	}
	where, params := whereClause(opts.Filters, 1)

	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(fields, ", "), desc.Name)
	if where != "" {
		query += " WHERE " + where
	}
	if opts.OrderBy != "" {
		query += " ORDER BY " + opts.OrderBy
	}
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}

	res, err := exec.Execute(ctx, query, params, dbhandle.ExecOptions{Fetch: true, Public: desc.Public})
	if err != nil {
		return nil, err
	}
	defer res.Rows.Close()

	var out []*Instance
	for res.Rows.Next() {
		inst, err := scanRowFields(desc, fields, res.Rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	if err := res.Rows.Err(); err != nil {
		return nil, err
	}

	for _, rel := range opts.Include {
		if err := o.materialize(ctx, desc, out, rel); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// FirstOrCreate fetches by filters; if no row matches, inserts an instance
// built from filters. Returns the instance and whether it was created.
func (o *ORM) FirstOrCreate(ctx context.Context, desc entity.Descriptor, filters map[string]any) (*Instance, bool, error) {
	inst, err := o.Fetch(ctx, desc, filters)
	if err == nil {
		return inst, false, nil
	}

	appErr, ok := err.(*apperr.Error)
	if !ok || appErr.Kind != apperr.KindResourceNotFound {
		return nil, false, err
	}

	inst = NewInstance(desc, filters)
	if err := o.Insert(ctx, inst); err != nil {
		return nil, false, err
	}
	return inst, true, nil
}

// materialize loads a single relationship for every instance in rows.
func (o *ORM) materialize(ctx context.Context, desc entity.Descriptor, rows []*Instance, relName string) error {
	rel, ok := desc.Relation(relName)
	if !ok {
		return fmt.Errorf("orm: %s declares no relation %q", desc.Name, relName)
	}
	targetDesc, ok := o.registry.Get(rel.Target)
	if !ok {
		return fmt.Errorf("orm: relation target %q is not registered", rel.Target)
	}

	switch rel.Kind {
	case entity.HasOne, entity.OwnsOne:
		for _, row := range rows {
			fk := row.Get(relName + "_id")
			if fk == nil {
				continue
			}
			target, err := o.Fetch(ctx, targetDesc, map[string]any{"id": fk})
			if err != nil {
				return err
			}
			row.setRelation(relName, target)
		}
	case entity.HasMany:
		for _, row := range rows {
			targets, err := o.FetchMany(ctx, targetDesc, FetchManyOptions{
				Filters: map[string]any{desc.Name + "_id": row.ID()},
				OrderBy: rel.OrderBy,
				Limit:   rel.Limit,
			})
			if err != nil {
				return err
			}
			row.setRelation(relName, targets)
		}
	}
	return nil
}

// emitAudit dispatches an AuditEvent on the ambient event bus, per spec
// §4.4/§4.9, skipping the audit entity itself (recursion guard) and public
// entities (spec's explicit invariant).
func (o *ORM) emitAudit(ctx context.Context, action string, inst *Instance) {
	if inst.Desc.Name == o.auditEntityName {
		return
	}
	if inst.Desc.Public {
		return
	}
	bus := ambient.EventBusFrom(ctx)
	if bus == nil {
		return
	}
	// Principal is captured here, not re-derived at delivery time: the bus
	// delivers on its own background context (§5, the delivery loop is not
	// the request's context), so anything ambient-context-scoped - unlike
	// the retained *pipeline.Request object itself - must be read out now.
	bus.Dispatch("AuditEvent", map[string]any{
		"model":     inst,
		"request":   ambient.RequestFrom(ctx),
		"principal": ambient.PrincipalFrom(ctx),
		"meta": map[string]any{
			"action":      action,
			"object_type": inst.Desc.Name,
			"tenant":      ambient.TenantFrom(ctx),
		},
	})
}

func mapWriteError(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "duplicate key value violates unique constraint") {
		return apperr.DuplicateResource("duplicate resource: %v", err)
	}
	return err
}

func fieldNames(desc entity.Descriptor) []string {
	out := make([]string, len(desc.Fields))
	for i, f := range desc.Fields {
		out[i] = f.Name
	}
	return out
}

func whereClause(filters map[string]any, startAt int) (string, []any) {
	if len(filters) == 0 {
		return "", nil
	}
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var clauses []string
	var params []any
	n := startAt
	for _, k := range keys {
		clauses = append(clauses, fmt.Sprintf("%s = $%d", k, n))
		params = append(params, filters[k])
		n++
	}
	return strings.Join(clauses, " AND "), params
}

func scanRowFields(desc entity.Descriptor, fields []string, rows *sql.Rows) (*Instance, error) {
	raw := make([]any, len(fields))
	ptrs := make([]any, len(fields))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}

	values := make(map[string]any, len(fields))
	for i, name := range fields {
		fd, ok := desc.Field(name)
		if !ok {
			values[name] = raw[i]
			continue
		}
		values[name] = convertScanned(fd, raw[i])
	}
	inst := NewInstance(desc, values)
	inst.clearDirty()
	return inst, nil
}

// convertScanned normalises a driver-returned value (lib/pq frequently
// hands back []byte for text-shaped columns scanned into interface{}) to
// the Go type matching the field's logical type.
func convertScanned(fd entity.FieldDescriptor, raw any) any {
	if raw == nil {
		return nil
	}
	switch fd.Type {
	case entity.TypeString, entity.TypeEnum:
		switch v := raw.(type) {
		case []byte:
			return string(v)
		case string:
			return v
		default:
			return fmt.Sprintf("%v", v)
		}
	case entity.TypeInteger:
		switch v := raw.(type) {
		case int64:
			return v
		case []byte:
			n, _ := strconv.ParseInt(string(v), 10, 64)
			return n
		default:
			return v
		}
	case entity.TypeFloat:
		switch v := raw.(type) {
		case float64:
			return v
		case []byte:
			f, _ := strconv.ParseFloat(string(v), 64)
			return f
		default:
			return v
		}
	case entity.TypeBoolean:
		switch v := raw.(type) {
		case bool:
			return v
		case []byte:
			b, _ := strconv.ParseBool(string(v))
			return b
		default:
			return v
		}
	case entity.TypeTimestamp:
		switch v := raw.(type) {
		case time.Time:
			return v
		case []byte:
			t, _ := time.Parse(time.RFC3339, string(v))
			return t
		case string:
			t, _ := time.Parse(time.RFC3339, v)
			return t
		default:
			return v
		}
	default:
		return raw
	}
}
