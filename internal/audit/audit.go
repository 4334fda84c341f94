// Package audit implements the audit listener (C8): an event-bus listener
// subscribed to "AuditEvent" that builds an audit trail row and persists it
// via the ORM, with the audit entity itself excluded from further auditing.
//
// Grounded in style on internal/app/httpapi/audit.go's ring-buffer
// auditLog/auditSink abstraction (pluggable sink, best-effort persistence),
// but the mechanism the spec requires is different: not a direct-SQL
// HTTP-layer sink, rather an event-bus listener that persists through C4
// exactly like any other entity, with orm.ORM's auditEntityName guard
// (internal/orm/orm.go's emitAudit) breaking the recursion this would
// otherwise cause.
package audit

import (
	"context"
	"fmt"

	"github.com/meridianhq/apprt/internal/ambient"
	"github.com/meridianhq/apprt/internal/dbhandle"
	"github.com/meridianhq/apprt/internal/entity"
	"github.com/meridianhq/apprt/internal/eventbus"
	"github.com/meridianhq/apprt/internal/orm"
	"github.com/meridianhq/apprt/pkg/logger"
)

// EntityName is the descriptor name persisted rows use; it must match the
// auditEntityName the ORM was constructed with so emitAudit's recursion
// guard recognizes it.
const EntityName = "audit_log"

// Descriptor returns the audit_log entity descriptor: a public (shared,
// not per-tenant) table, since audit trail entries should survive even if a
// tenant's own schema is later dropped and recreated.
func Descriptor() entity.Descriptor {
	return entity.Descriptor{
		Name:   EntityName,
		Public: true,
		Fields: entity.Compose(
			entity.IDMixin(),
			[]entity.FieldDescriptor{
				entity.String("event_name").Required().Build(),
				entity.String("actor_id").Optional().Build(),
				entity.Boolean("is_system").Required().DefaultValue(false).Build(),
				entity.String("object_type").Required().Build(),
				entity.String("object_id").Optional().Build(),
				entity.String("action").Required().Build(),
				entity.String("tenant").Required().Build(),
				entity.String("location").Required().DefaultValue("unknown").Build(),
				entity.Timestamp("occurred_at").Required().Build(),
			},
			entity.TimestampsMixin(),
		),
	}
}

// headerReader is the slice of *pipeline.Request the listener needs; a
// local interface (rather than importing internal/pipeline) keeps this
// package's only hard dependency on the request shape structural, the same
// pattern internal/orm uses for its Executor.
type headerReader interface {
	Header(name string) string
}

// instanceLike is the slice of *orm.Instance the listener needs from the
// event payload's "model" value.
type instanceLike interface {
	ID() any
}

// Listener persists one audit row per AuditEvent.
type Listener struct {
	orm  *orm.ORM
	pool *dbhandle.Pool
	log  *logger.Logger
}

// New returns a Listener that persists through o (which must have been
// constructed with auditEntityName == EntityName, so its own writes don't
// recurse into another AuditEvent). pool is used to acquire the listener's
// own db handle per delivered event: the bus delivers on its own lifecycle
// context (§5), never the originating request's context, so the ambient db
// handle that context carried is long gone by delivery time - the listener
// must acquire a fresh one rather than rely on whatever ctx it is handed.
func New(o *orm.ORM, pool *dbhandle.Pool, log *logger.Logger) *Listener {
	if log == nil {
		log = logger.NewDefault("audit")
	}
	return &Listener{orm: o, pool: pool, log: log}
}

// Register subscribes the listener on bus under "AuditEvent".
func (l *Listener) Register(bus *eventbus.Bus) {
	bus.Register("AuditEvent", l.handle)
}

// handle builds an audit_log row from event.Payload = {model, request,
// principal, meta{action, object_type, tenant}} per spec §4.9, and persists
// it. Since ctx here is the bus's own delivery context (never the request's),
// handle acquires its own namespace-scoped db handle from pool for the
// duration of the insert rather than looking for one already installed in
// ctx; audit_log is itself public, so emitAudit's recursion guard is what
// keeps this insert from re-dispatching another AuditEvent.
func (l *Listener) handle(ctx context.Context, e eventbus.Event) error {
	meta, _ := e.Payload["meta"].(map[string]any)
	action, _ := meta["action"].(string)
	objectType, _ := meta["object_type"].(string)
	tenant, _ := meta["tenant"].(string)

	var objectID string
	if inst, ok := e.Payload["model"].(instanceLike); ok {
		if id := inst.ID(); id != nil {
			objectID = toString(id)
		}
	}

	actorID := ""
	isSystem := true
	if principal, ok := e.Payload["principal"].(*ambient.Principal); ok && principal != nil {
		actorID = principal.ID
		isSystem = false
	}

	location := "unknown"
	if req, ok := e.Payload["request"].(headerReader); ok {
		if ip := req.Header("X-Real-IP"); ip != "" {
			location = ip
		} else if fwd := req.Header("X-Forwarded-For"); fwd != "" {
			location = fwd
		}
	}

	eventName := titleCase(objectType) + titleCase(action) + "Event"

	row := orm.NewInstance(Descriptor(), map[string]any{
		"event_name":  eventName,
		"actor_id":    actorID,
		"is_system":   isSystem,
		"object_type": objectType,
		"object_id":   objectID,
		"action":      action,
		"tenant":      tenant,
		"location":    location,
		"occurred_at": e.Timestamp,
	})

	namespace := tenant
	if namespace == "" {
		namespace = "public"
	}

	dbHandle, err := l.pool.Acquire(ctx, namespace)
	if err != nil {
		l.log.WithField("event", e.Name).WithField("error", err).Warn("audit: failed to acquire db handle")
		return err
	}

	scoped, _ := ambient.Scope(ctx, ambient.Values{DB: dbHandle, Tenant: namespace})

	insertErr := l.orm.Insert(scoped, row)
	if releaseErr := l.pool.Release(dbHandle, insertErr); insertErr == nil {
		insertErr = releaseErr
	}
	if insertErr != nil {
		l.log.WithField("event", e.Name).WithField("error", insertErr).Warn("audit: failed to persist audit row")
		return insertErr
	}
	return nil
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}

func titleCase(s string) string {
	out := []byte(s)
	upperNext := true
	dst := out[:0]
	for i := 0; i < len(out); i++ {
		c := out[i]
		if c == '_' || c == '-' {
			upperNext = true
			continue
		}
		if upperNext && c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		upperNext = false
		dst = append(dst, c)
	}
	return string(dst)
}
