package pipeline

import (
	"context"
	"net/http"
	"time"

	core "github.com/meridianhq/apprt/internal/core"
	"github.com/meridianhq/apprt/pkg/logger"
	"github.com/meridianhq/apprt/pkg/metrics"
)

// Service wraps an http.Handler in an http.Server and fits the system
// manager's lifecycle contract, grounded on the teacher's internal/app/httpapi
// Service (addr/server/handler fields, ListenAndServe in a goroutine,
// graceful Shutdown on Stop). handler is usually a *Pipeline directly, or a
// top-level *http.ServeMux that mounts the operational /healthz, /system/*,
// and /metrics routes ahead of the tenant pipeline as the catch-all, per
// spec §6's "operational endpoints are not gated by tenant resolution."
type Service struct {
	addr    string
	handler http.Handler
	server  *http.Server
	log     *logger.Logger
}

// NewService returns a Service serving handler at addr, with the final
// handler instrumented by pkg/metrics exactly as the teacher's chain ends
// ("metrics wraps the final handler").
func NewService(handler http.Handler, addr string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("http")
	}
	return &Service{addr: addr, handler: handler, log: log}
}

// Name satisfies internal/system.Service.
func (s *Service) Name() string { return "http" }

// Descriptor satisfies internal/system.DescriptorProvider.
func (s *Service) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:         "http",
		Domain:       "ingress",
		Layer:        core.LayerIngress,
		Capabilities: []string{"route", "tenant-resolve", "security-headers"},
	}
}

// Start begins serving HTTP in a background goroutine. Per the teacher's
// shape, a listen error is logged rather than returned, since it surfaces
// asynchronously after Start has already reported success to the manager.
func (s *Service) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      metrics.InstrumentHandler(s.handler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Errorf("http server error: %v", err)
		}
	}()
	return nil
}

// Stop gracefully shuts the server down, honoring ctx's deadline.
func (s *Service) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
