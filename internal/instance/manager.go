// Package instance implements the process-wide instance manager described
// in spec.md §4.G: a registry of named, reference-counted, health-checked
// backend instances with idle reclamation.
package instance

import (
	"context"
	"sync"
	"time"

	"github.com/cyrup-ai/cylo-go/internal/backend"
	"github.com/cyrup-ai/cylo-go/internal/logging"
)

var log = logging.For("instance-manager")

const (
	// DefaultHealthCheckInterval gates how often get() re-probes an
	// instance's health before handing out its handle.
	DefaultHealthCheckInterval = 60 * time.Second

	// DefaultMaxIdleTime is the age past which cleanup_idle reclaims a
	// ref_count==0 instance.
	DefaultMaxIdleTime = 300 * time.Second

	removePollInterval = 100 * time.Millisecond
	removePollAttempts = 30
)

// Factory builds the concrete backend for a Cylo environment descriptor.
// Supplied by the executor at manager construction time so the manager
// itself stays backend-agnostic.
type Factory func(env backend.Cylo) (backend.ExecutionBackend, error)

// ManagedInstance holds a shared, immutable handle to a backend
// implementation plus the manager's own mutable bookkeeping fields, per
// spec.md §3.
type ManagedInstance struct {
	Instance backend.CyloInstance
	Backend  backend.ExecutionBackend

	lastAccessed    time.Time
	lastHealth      *backend.HealthStatus
	lastHealthCheck time.Time
	refCount        int
}

// Manager is the registry from spec.md §4.G. The zero value is not
// usable; construct with New.
type Manager struct {
	factory Factory

	healthCheckInterval time.Duration
	maxIdleTime         time.Duration

	mu        sync.RWMutex
	instances map[string]*ManagedInstance
}

// New builds a manager bound to factory, which is called once per
// register to materialize the backend for a Cylo environment.
func New(factory Factory) *Manager {
	return &Manager{
		factory:             factory,
		healthCheckInterval: DefaultHealthCheckInterval,
		maxIdleTime:         DefaultMaxIdleTime,
		instances:           make(map[string]*ManagedInstance),
	}
}

// Register validates the instance, builds its backend via the factory,
// performs a best-effort initial health check, and inserts it with
// ref_count 0. A duplicate id is InstanceConflict.
func (m *Manager) Register(ctx context.Context, inst backend.CyloInstance) error {
	id := inst.ID()

	m.mu.Lock()
	if _, exists := m.instances[id]; exists {
		m.mu.Unlock()
		return backend.NewInstanceConflict(id)
	}
	// Reserve the slot under the write lock so a concurrent Register for
	// the same id fails immediately, but build the backend (which may
	// shell out / stat files) outside the lock.
	m.instances[id] = nil
	m.mu.Unlock()

	be, err := m.factory(inst.Env)
	if err != nil {
		m.mu.Lock()
		delete(m.instances, id)
		m.mu.Unlock()
		return backend.NewInvalidConfig(string(inst.Env.Kind), err.Error())
	}

	mi := &ManagedInstance{
		Instance:     inst,
		Backend:      be,
		lastAccessed: time.Now(),
	}

	if status, herr := be.HealthCheck(ctx); herr == nil {
		s := status
		mi.lastHealth = &s
		mi.lastHealthCheck = time.Now()
	} else {
		log.WithError(herr).WithField("instance", id).Debug("initial health check failed")
	}

	m.mu.Lock()
	m.instances[id] = mi
	m.mu.Unlock()

	return nil
}

// Get returns the shared backend handle for id, refreshing health if the
// last check is stale, per spec.md §4.G.
func (m *Manager) Get(ctx context.Context, id string) (backend.ExecutionBackend, error) {
	m.mu.RLock()
	mi, ok := m.instances[id]
	m.mu.RUnlock()
	if !ok || mi == nil {
		return nil, backend.NewInstanceNotFound(id)
	}

	if time.Since(mi.lastHealthCheck) > m.healthCheckInterval {
		status, err := mi.Backend.HealthCheck(ctx)
		now := time.Now()

		m.mu.Lock()
		cur, stillPresent := m.instances[id]
		if stillPresent && cur != nil {
			cur.lastHealthCheck = now
			if err == nil {
				s := status
				cur.lastHealth = &s
			}
		}
		m.mu.Unlock()

		if err != nil {
			return nil, backend.NewBackendUnavailable(id, err.Error())
		}
		if !status.IsHealthy {
			return nil, backend.NewBackendUnavailable(id, status.Message)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.instances[id]
	if !ok || cur == nil {
		return nil, backend.NewInstanceNotFound(id)
	}
	cur.lastAccessed = time.Now()
	cur.refCount++
	return cur.Backend, nil
}

// Release decrements ref_count, saturating at 0.
func (m *Manager) Release(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mi, ok := m.instances[id]
	if !ok || mi == nil {
		return
	}
	if mi.refCount > 0 {
		mi.refCount--
	}
}

// Remove deletes id from the registry, waits briefly for any in-flight
// readers to drain, then cleans up the owned backend. Cleanup errors are
// logged and swallowed, per spec.md §4.G/§7.
func (m *Manager) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	mi, ok := m.instances[id]
	if !ok {
		m.mu.Unlock()
		return backend.NewInstanceNotFound(id)
	}
	delete(m.instances, id)
	m.mu.Unlock()

	if mi == nil {
		return nil
	}

	for i := 0; i < removePollAttempts; i++ {
		m.mu.RLock()
		refs := mi.refCount
		m.mu.RUnlock()
		if refs <= 0 {
			break
		}
		time.Sleep(removePollInterval)
	}

	if err := mi.Backend.Cleanup(ctx); err != nil {
		log.WithError(err).WithField("instance", id).Warn("cleanup failed during remove")
	}

	return nil
}

// HealthCheckAll snapshots the current id->handle list and probes each
// concurrently, per spec.md §4.G.
func (m *Manager) HealthCheckAll(ctx context.Context) map[string]backend.HealthStatus {
	m.mu.RLock()
	snapshot := make(map[string]*ManagedInstance, len(m.instances))
	for id, mi := range m.instances {
		if mi != nil {
			snapshot[id] = mi
		}
	}
	m.mu.RUnlock()

	results := make(map[string]backend.HealthStatus, len(snapshot))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for id, mi := range snapshot {
		wg.Add(1)
		go func(id string, mi *ManagedInstance) {
			defer wg.Done()
			status, err := mi.Backend.HealthCheck(ctx)
			if err != nil {
				status = backend.HealthStatus{IsHealthy: false, Message: err.Error(), LastCheck: time.Now()}
			}
			mu.Lock()
			results[id] = status
			mu.Unlock()
		}(id, mi)
	}
	wg.Wait()

	return results
}

// CleanupIdle removes every instance with ref_count==0 whose
// last_accessed is older than max_idle_time, returning the count
// reclaimed.
func (m *Manager) CleanupIdle(ctx context.Context) int {
	now := time.Now()

	m.mu.RLock()
	var stale []string
	for id, mi := range m.instances {
		if mi == nil {
			continue
		}
		if mi.refCount == 0 && now.Sub(mi.lastAccessed) > m.maxIdleTime {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()

	cleaned := 0
	for _, id := range stale {
		if err := m.Remove(ctx, id); err != nil {
			log.WithError(err).WithField("instance", id).Debug("cleanup_idle remove failed")
			continue
		}
		cleaned++
	}
	return cleaned
}

// Shutdown drains the registry and runs every owned backend's Cleanup
// concurrently. It always succeeds; individual cleanup errors are logged.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	snapshot := m.instances
	m.instances = make(map[string]*ManagedInstance)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for id, mi := range snapshot {
		if mi == nil {
			continue
		}
		wg.Add(1)
		go func(id string, mi *ManagedInstance) {
			defer wg.Done()
			if err := mi.Backend.Cleanup(ctx); err != nil {
				log.WithError(err).WithField("instance", id).Warn("cleanup failed during shutdown")
			}
		}(id, mi)
	}
	wg.Wait()
}

// Len reports the current registry size, for tests and diagnostics.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.instances)
}
