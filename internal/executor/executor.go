package executor

import (
	"context"

	"github.com/cyrup-ai/cylo-go/internal/backend"
	"github.com/cyrup-ai/cylo-go/internal/instance"
	"github.com/cyrup-ai/cylo-go/internal/logging"
	"github.com/cyrup-ai/cylo-go/internal/platform"
)

var log = logging.For("executor")

// Executor is the router described in spec.md §4.H: it holds the routing
// strategy, backend preferences, optimization config, a TTL'd platform
// cache, and the shared metrics aggregate, and delegates to an instance
// manager for the actual backend lifecycle.
type Executor struct {
	Strategy     RoutingStrategy
	Preferences  BackendPreferences
	Optimization OptimizationConfig

	cache   *platform.Cache
	metrics *Metrics
	manager *instance.Manager

	semaphores map[string]chan struct{}
}

// New builds an executor around an already-constructed instance manager
// (whose Factory knows how to turn a Cylo env into a concrete backend).
func New(mgr *instance.Manager, strategy RoutingStrategy, prefs BackendPreferences, opt OptimizationConfig) *Executor {
	sems := make(map[string]chan struct{}, len(prefs.MaxConcurrent))
	for name, max := range prefs.MaxConcurrent {
		if max > 0 {
			sems[name] = make(chan struct{}, max)
		}
	}

	return &Executor{
		Strategy:     strategy,
		Preferences:  prefs,
		Optimization: opt,
		cache:        platform.NewCache(platform.DefaultCacheDuration),
		metrics:      NewMetrics(),
		manager:      mgr,
		semaphores:   sems,
	}
}

// Metrics exposes the executor's aggregate for readers.
func (e *Executor) Metrics() *Metrics { return e.metrics }

// RefreshPlatformCache forces a recompute of the platform snapshot,
// matching spec.md §4.H's refresh_platform_cache.
func (e *Executor) RefreshPlatformCache() platform.Info {
	return e.cache.Refresh()
}

// Execute implements spec.md §4.H's top-level execute(request,
// instance_hint): use the hinted backend directly if present, otherwise
// select one under the current strategy and synthesize a fresh instance.
func (e *Executor) Execute(ctx context.Context, req backend.ExecutionRequest, hint *InstanceHint) (backend.ExecutionResult, error) {
	var inst backend.CyloInstance
	var backendName string

	if hint != nil {
		inst = hint.Instance
		backendName = backendNameForKind(inst.Env.Kind)
	} else {
		info := e.cache.Get()
		name, err := selectOptimalBackend(info, e.Strategy, e.Preferences)
		if err != nil {
			return backend.ExecutionResult{}, err
		}
		backendName = name
		inst = synthesizeInstance(name, req.Language)
	}

	return e.executeWithBackend(ctx, inst, backendName, req)
}

// executeWithBackend registers the instance (tolerating InstanceConflict
// for an already-known id), acquires the backend's concurrency slot,
// executes, then releases or removes the instance depending on the
// optimization config, per spec.md §4.H step 3.
func (e *Executor) executeWithBackend(ctx context.Context, inst backend.CyloInstance, backendName string, req backend.ExecutionRequest) (backend.ExecutionResult, error) {
	if err := e.manager.Register(ctx, inst); err != nil {
		if berr, ok := err.(*backend.Error); !ok || berr.Kind != backend.KindInstanceConflict {
			return backend.ExecutionResult{}, err
		}
	}

	if !e.acquire(backendName) {
		return backend.ExecutionResult{}, backend.NewBackendUnavailable(backendName, "concurrency limit exceeded")
	}
	defer e.release(backendName)

	be, err := e.manager.Get(ctx, inst.ID())
	if err != nil {
		return backend.ExecutionResult{}, err
	}

	result, err := be.ExecuteCode(ctx, req)

	if e.Optimization.ReuseInstances {
		e.manager.Release(inst.ID())
	} else {
		if rerr := e.manager.Remove(ctx, inst.ID()); rerr != nil {
			log.WithError(rerr).WithField("instance", inst.ID()).Warn("remove after one-shot execution failed")
		}
	}

	if err != nil {
		return backend.ExecutionResult{}, err
	}

	e.metrics.Record(backendName, result)
	return result, nil
}

func (e *Executor) acquire(backendName string) bool {
	sem, ok := e.semaphores[backendName]
	if !ok {
		return true
	}
	select {
	case sem <- struct{}{}:
		return true
	default:
		return false
	}
}

func (e *Executor) release(backendName string) {
	sem, ok := e.semaphores[backendName]
	if !ok {
		return
	}
	select {
	case <-sem:
	default:
	}
}

func backendNameForKind(kind backend.Kind) string {
	switch kind {
	case backend.KindLandLock:
		return "LandLock"
	case backend.KindFirecracker:
		return "Firecracker"
	case backend.KindApple:
		return "Apple"
	case backend.KindWindowsJob:
		return "WindowsJob"
	default:
		return string(kind)
	}
}

// HealthCheckAll, CleanupIdle and Shutdown forward to the instance
// manager, giving the executor a single facade for callers.
func (e *Executor) HealthCheckAll(ctx context.Context) map[string]backend.HealthStatus {
	return e.manager.HealthCheckAll(ctx)
}

func (e *Executor) CleanupIdle(ctx context.Context) int {
	return e.manager.CleanupIdle(ctx)
}

func (e *Executor) Shutdown(ctx context.Context) {
	e.manager.Shutdown(ctx)
}
