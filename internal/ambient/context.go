// Package ambient threads the per-request carrier the spec calls the ambient
// context: the active database handle, the inbound request, the event bus,
// the tenant id, and the authenticated principal. It is grounded on the
// original Python runtime's contextvars-based Context class, whose
// `with context(...):` block guarantees every value is restored on every
// exit path. Go has no dynamic scoping primitive equivalent to contextvars,
// so this package follows the spec's own Design Notes guidance for threaded
// runtimes: values are carried on context.Context, derived per-frame, with a
// Scope helper that returns a restore function for the caller to defer.
package ambient

import "context"

type key int

const (
	dbKey key = iota
	requestKey
	eventBusKey
	tenantKey
	principalKey
)

// DB is the minimal surface the ambient context needs from a tenant-scoped
// database handle; see internal/dbhandle for the concrete implementation.
type DB interface {
	Namespace() string
}

// Request is the minimal surface of an inbound HTTP request the ambient
// context carries; see internal/pipeline for the concrete type.
type Request interface {
	Path() string
}

// EventBus is the minimal surface of the event bus the ambient context
// carries; see internal/eventbus for the concrete implementation.
type EventBus interface {
	Dispatch(name string, payload map[string]any)
}

// Principal is the authenticated caller, or nil when the request is
// unauthenticated.
type Principal struct {
	ID    string
	Role  string
	Token string
}

// Values bundles everything a single Scope call installs. Any field left
// nil/zero is simply not overridden (and falls back to whatever was already
// present on the parent context, if anything).
type Values struct {
	DB        DB
	Request   Request
	EventBus  EventBus
	Tenant    string
	Principal *Principal
}

// Scope derives a child context carrying values, and returns a restore
// function. Because context.Context derivation is itself immutable, "restore"
// here means "stop using the child and go back to using parent" — the
// caller MUST discard the derived context once restore is invoked. This
// mirrors the Python original's guarantee that every exit path (success or
// panic) restores the previous ambient state, expressed in Go as: callers
// must defer restore() immediately after Scope returns.
//
//	ctx, restore := ambient.Scope(ctx, ambient.Values{Tenant: "acme"})
//	defer restore()
func Scope(parent context.Context, v Values) (context.Context, func()) {
	child := parent
	if v.DB != nil {
		child = context.WithValue(child, dbKey, v.DB)
	}
	if v.Request != nil {
		child = context.WithValue(child, requestKey, v.Request)
	}
	if v.EventBus != nil {
		child = context.WithValue(child, eventBusKey, v.EventBus)
	}
	if v.Tenant != "" {
		child = context.WithValue(child, tenantKey, v.Tenant)
	}
	if v.Principal != nil {
		child = context.WithValue(child, principalKey, v.Principal)
	}
	return child, func() {}
}

// DBFrom returns the ambient database handle, or nil if none is installed.
func DBFrom(ctx context.Context) DB {
	v, _ := ctx.Value(dbKey).(DB)
	return v
}

// RequestFrom returns the ambient request, or nil if none is installed.
func RequestFrom(ctx context.Context) Request {
	v, _ := ctx.Value(requestKey).(Request)
	return v
}

// EventBusFrom returns the ambient event bus, or nil if none is installed.
func EventBusFrom(ctx context.Context) EventBus {
	v, _ := ctx.Value(eventBusKey).(EventBus)
	return v
}

// TenantFrom returns the ambient tenant id, or "" if none is installed.
func TenantFrom(ctx context.Context) string {
	v, _ := ctx.Value(tenantKey).(string)
	return v
}

// PrincipalFrom returns the ambient authenticated principal, or nil if the
// request is unauthenticated or no ambient context is installed.
func PrincipalFrom(ctx context.Context) *Principal {
	v, _ := ctx.Value(principalKey).(*Principal)
	return v
}
