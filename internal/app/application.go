// Package app wires every CORE component (C1-C10) and ambient-stack
// addition (A2-A6) into one Application, grounded on the teacher's own
// application.go: a builder function that constructs services, registers
// them with a system.Manager in dependency order, and forwards
// Attach/Start/Stop/Descriptors to that manager.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/meridianhq/apprt/internal/audit"
	core "github.com/meridianhq/apprt/internal/core"
	"github.com/meridianhq/apprt/internal/config"
	"github.com/meridianhq/apprt/internal/dbhandle"
	"github.com/meridianhq/apprt/internal/entity"
	"github.com/meridianhq/apprt/internal/eventbus"
	"github.com/meridianhq/apprt/internal/orm"
	"github.com/meridianhq/apprt/internal/pipeline"
	"github.com/meridianhq/apprt/internal/router"
	"github.com/meridianhq/apprt/internal/sysroutes"
	"github.com/meridianhq/apprt/internal/system"
	"github.com/meridianhq/apprt/internal/tokenoracle"
	"github.com/meridianhq/apprt/pkg/logger"
	"github.com/meridianhq/apprt/pkg/metrics"
)

// Option customises the application at construction time.
type Option func(*options)

type options struct {
	registerEntities []entity.Descriptor
	mux              *router.Mux
	oracle           tokenoracle.Oracle
}

// WithEntities registers additional entity descriptors into the registry
// before the ORM and audit listener are constructed.
func WithEntities(descriptors ...entity.Descriptor) Option {
	return func(o *options) {
		o.registerEntities = append(o.registerEntities, descriptors...)
	}
}

// WithMux supplies a pre-built router.Mux (with routes already mounted).
// When omitted, New constructs an empty Mux; callers then mount routes on
// Application.Mux before calling Start.
func WithMux(mux *router.Mux) Option {
	return func(o *options) {
		if mux != nil {
			o.mux = mux
		}
	}
}

// WithTokenOracle supplies the C9 oracle used by callers that need bearer
// token verification (the pipeline itself does not call it directly; it is
// exposed for handlers/middleware built on top of Application).
func WithTokenOracle(oracle tokenoracle.Oracle) Option {
	return func(o *options) {
		if oracle != nil {
			o.oracle = oracle
		}
	}
}

// Application ties every CORE component together and manages their
// lifecycle through a system.Manager.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Registry *entity.Registry
	Pool     *dbhandle.Pool
	ORM      *orm.ORM
	Bus      *eventbus.Bus
	Mux      *router.Mux
	Pipeline *pipeline.Pipeline
	Audit    *audit.Listener
	Oracle   tokenoracle.Oracle

	httpService *pipeline.Service
}

// New builds a fully wired Application: entity registry (C2) with the
// audit_log entity and any caller-supplied entities registered, a migration
// store and connection pool bound to db (C3/§4.8), the ORM bound to the
// registry (C4), the event bus with the audit listener subscribed (C5/C8),
// the router and HTTP pipeline (C6/C7), and a token oracle (C9). The bus and
// the HTTP service are registered with the manager in that order, so the
// bus (which the pipeline's audit dispatch depends on) is always running
// before the HTTP server starts accepting requests.
func New(cfg *config.Config, db *sql.DB, log *logger.Logger, opts ...Option) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	resolved := options{mux: router.NewMux()}
	for _, opt := range opts {
		if opt != nil {
			opt(&resolved)
		}
	}

	registry := entity.NewRegistry()
	registry.Register(audit.Descriptor())
	for _, d := range resolved.registerEntities {
		registry.Register(d)
	}

	pool := dbhandle.NewPool(db, cfg.MigrationsDir)
	ormInstance := orm.New(registry, audit.EntityName)

	bus := eventbus.New(
		eventbus.WithPersistPath(cfg.ScheduledEventsPath),
		eventbus.WithSnapshotSchedule(cfg.SnapshotSchedule),
		eventbus.WithLogger(log),
	)

	auditListener := audit.New(ormInstance, pool, log)
	auditListener.Register(bus)

	oracle := resolved.oracle
	if oracle == nil && cfg.JWTSigningKey != "" {
		oracle = tokenoracle.NewCached(tokenoracle.NewJWTOracle(cfg.JWTSigningKey, cfg.JWTAudience, "", ""))
	}

	manager := system.NewManager()

	httpPipeline := pipeline.New(resolved.mux, pool, bus, cfg.DefaultTenant, log)

	// Operational endpoints (/healthz, /system/*, /metrics) are mounted on a
	// top-level mux ahead of the tenant pipeline, which is registered as the
	// catch-all. This keeps them reachable without tenant resolution, per
	// the operational-endpoints supplement.
	topMux := http.NewServeMux()
	sysroutes.Mount(topMux, manager)
	topMux.Handle("/metrics", metrics.Handler())
	topMux.Handle("/", httpPipeline)

	httpService := pipeline.NewService(topMux, cfg.Addr(), log)

	if err := manager.Register(bus); err != nil {
		return nil, fmt.Errorf("register event bus: %w", err)
	}
	if err := manager.Register(httpService); err != nil {
		return nil, fmt.Errorf("register http service: %w", err)
	}

	return &Application{
		manager:     manager,
		log:         log,
		Registry:    registry,
		Pool:        pool,
		ORM:         ormInstance,
		Bus:         bus,
		Mux:         resolved.mux,
		Pipeline:    httpPipeline,
		Audit:       auditListener,
		Oracle:      oracle,
		httpService: httpService,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before
// Start; the manager rejects registration afterward.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start logs any duplicate (method, path) routes on the mux, then begins
// every registered service (the event bus, then the HTTP server, then
// anything attached via Attach) in registration order.
func (a *Application) Start(ctx context.Context) error {
	for _, dup := range a.Mux.DuplicateRoutes() {
		a.log.Warnf("router: duplicate route %s; the first registration wins", dup)
	}
	return a.manager.Start(ctx)
}

// Stop stops every registered service in reverse registration order.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}

// Descriptors returns advertised service descriptors for orchestration/CLI
// introspection.
func (a *Application) Descriptors() []core.Descriptor {
	return a.manager.Descriptors()
}

// Manager exposes the underlying system.Manager, e.g. so sysroutes can
// render /system/descriptors without Application needing to re-implement
// descriptor collection.
func (a *Application) Manager() *system.Manager {
	return a.manager
}
