package system

import (
	"context"
	"fmt"
	"sync"

	core "github.com/meridianhq/apprt/internal/core"
)

// Manager starts and stops a fixed set of lifecycle-managed services in
// deterministic order. Services are started in registration order; on a
// failed start, every service that already started is stopped in reverse
// order before the error is returned. Stop always runs in reverse
// registration order and collects the first error encountered while still
// attempting to stop every remaining service.
type Manager struct {
	mu        sync.Mutex
	services  []Service
	started   bool
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{}
}

// Register adds a service. It returns an error if the manager has already
// started, since start order is fixed at Start time.
func (m *Manager) Register(svc Service) error {
	if svc == nil {
		return fmt.Errorf("system: cannot register nil service")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return fmt.Errorf("system: cannot register %s after start", svc.Name())
	}
	m.services = append(m.services, svc)
	return nil
}

// Start starts every registered service in registration order. Only the
// first call has effect; subsequent calls are no-ops.
func (m *Manager) Start(ctx context.Context) error {
	var err error
	m.startOnce.Do(func() {
		m.mu.Lock()
		services := append([]Service(nil), m.services...)
		m.started = true
		m.mu.Unlock()

		started := make([]Service, 0, len(services))
		for _, svc := range services {
			if startErr := svc.Start(ctx); startErr != nil {
				err = fmt.Errorf("start %s: %w", svc.Name(), startErr)
				for i := len(started) - 1; i >= 0; i-- {
					_ = started[i].Stop(ctx)
				}
				return
			}
			started = append(started, svc)
		}
	})
	return err
}

// Stop stops every registered service in reverse registration order. Only
// the first call has effect; subsequent calls are no-ops. The first error
// encountered is returned, but every service is still given a chance to
// stop.
func (m *Manager) Stop(ctx context.Context) error {
	var first error
	m.stopOnce.Do(func() {
		m.mu.Lock()
		services := append([]Service(nil), m.services...)
		m.mu.Unlock()

		for i := len(services) - 1; i >= 0; i-- {
			if stopErr := services[i].Stop(ctx); stopErr != nil && first == nil {
				first = fmt.Errorf("stop %s: %w", services[i].Name(), stopErr)
			}
		}
	})
	return first
}

// DescriptorProviders returns the subset of registered services that
// optionally implement DescriptorProvider.
func (m *Manager) DescriptorProviders() []DescriptorProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	var providers []DescriptorProvider
	for _, svc := range m.services {
		if dp, ok := svc.(DescriptorProvider); ok {
			providers = append(providers, dp)
		}
	}
	return providers
}

// Descriptors returns descriptors for every registered service that
// advertises one, sorted for deterministic presentation.
func (m *Manager) Descriptors() []core.Descriptor {
	return CollectDescriptors(m.DescriptorProviders())
}
