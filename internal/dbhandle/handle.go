// Package dbhandle implements the tenant-scoped database handle described
// in spec §4.8: a connection (here, a transaction scoped to one request)
// plus a current-namespace label, with namespace-aware execute semantics and
// pool-level first-contact migration application.
package dbhandle

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/meridianhq/apprt/internal/schema"
	"github.com/meridianhq/apprt/pkg/metrics"
)

// Handle wraps one request's transaction and its active tenant namespace.
// Per spec §5's transaction discipline, every request executes inside one
// transaction scoped to the handle's lifetime: Handler success Commits
// before the response body is written; handler failure Rollbacks.
type Handle struct {
	tx        *sql.Tx
	namespace string
}

// Namespace returns the handle's current namespace label (satisfies
// internal/ambient.DB).
func (h *Handle) Namespace() string {
	return h.namespace
}

// ExecOptions configures one Execute call.
type ExecOptions struct {
	// Fetch requests rows back (SELECT-shaped statements); otherwise
	// Execute returns only a row-count/status.
	Fetch bool
	// Public temporarily switches to the public namespace for this
	// statement only, then switches back, per §4.8.
	Public bool
}

// Result is either a fetched row set or a plain execution status,
// depending on ExecOptions.Fetch.
type Result struct {
	Rows         *sql.Rows
	RowsAffected int64
}

// Execute runs sql against the handle's current namespace (or the public
// namespace, for the duration of this call, when opts.Public is set).
func (h *Handle) Execute(ctx context.Context, query string, params []any, opts ExecOptions) (*Result, error) {
	ns := h.namespace
	if opts.Public {
		ns = "public"
	}
	scoped := fmt.Sprintf("SET LOCAL search_path TO %s, public", pqIdent(ns))
	if _, err := h.tx.ExecContext(ctx, scoped); err != nil {
		return nil, fmt.Errorf("dbhandle: set search_path: %w", err)
	}

	if opts.Fetch {
		rows, err := h.tx.QueryContext(ctx, query, params...)
		if err != nil {
			return nil, err
		}
		return &Result{Rows: rows}, nil
	}

	res, err := h.tx.ExecContext(ctx, query, params...)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	return &Result{RowsAffected: n}, nil
}

// SetNamespace changes the handle's active namespace for subsequent
// Execute calls that don't set opts.Public.
func (h *Handle) SetNamespace(name string) {
	h.namespace = name
}

// UnsetNamespace clears the active namespace (used when releasing the
// handle back to the pool).
func (h *Handle) UnsetNamespace() {
	h.namespace = ""
}

func pqIdent(name string) string {
	out := make([]byte, 0, len(name)+2)
	out = append(out, '"')
	for i := 0; i < len(name); i++ {
		if name[i] == '"' {
			out = append(out, '"', '"')
			continue
		}
		out = append(out, name[i])
	}
	out = append(out, '"')
	return string(out)
}

// Pool owns the single shared *sql.DB connection pool and the process-wide
// "namespaces ensured" cache. Per spec §5, concurrent first-contact on the
// same namespace must serialise to avoid double-create; this is a
// sync.Map of *sync.Once keyed by namespace name, each fired at most once
// per process lifetime (§9's Open Question: migrations apply on
// first-contact per namespace, not on every acquire).
type Pool struct {
	db      *sql.DB
	store   *schema.Store
	ensured sync.Map // namespace -> *sync.Once
}

// NewPool returns a Pool backed by db, applying migrations from
// migrationsDir on first contact with each namespace.
func NewPool(db *sql.DB, migrationsDir string) *Pool {
	return &Pool{db: db, store: schema.NewStore(db, migrationsDir)}
}

// Acquire ensures namespace exists and has had pending migrations applied
// (only on this process's first contact with it), begins a transaction, and
// returns a Handle scoped to that namespace.
func (p *Pool) Acquire(ctx context.Context, namespace string) (*Handle, error) {
	onceVal, _ := p.ensured.LoadOrStore(namespace, &sync.Once{})
	once := onceVal.(*sync.Once)

	var ensureErr error
	once.Do(func() {
		ensureErr = p.store.Apply(ctx, namespace)
		metrics.RecordMigrationApplied(namespace, ensureErr)
	})
	if ensureErr != nil {
		// Allow a later Acquire to retry: without this, a transient
		// failure on first contact would wedge the namespace forever
		// since sync.Once never re-fires.
		p.ensured.Delete(namespace)
		return nil, fmt.Errorf("dbhandle: ensure namespace %s: %w", namespace, ensureErr)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("dbhandle: begin transaction: %w", err)
	}
	return &Handle{tx: tx, namespace: namespace}, nil
}

// Release commits the handle's transaction on success, or rolls it back on
// failure, then resets its namespace, per §4.8's "on release, the
// connection returns to the pool with its namespace reset."
func (p *Pool) Release(h *Handle, handlerErr error) error {
	defer h.UnsetNamespace()
	if handlerErr != nil {
		return h.tx.Rollback()
	}
	return h.tx.Commit()
}
