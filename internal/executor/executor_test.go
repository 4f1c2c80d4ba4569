package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cyrup-ai/cylo-go/internal/backend"
	"github.com/cyrup-ai/cylo-go/internal/instance"
)

type stubBackend struct {
	backend.Base
}

func (s *stubBackend) ExecuteCode(ctx context.Context, req backend.ExecutionRequest) (backend.ExecutionResult, error) {
	return backend.ExecutionResult{ExitCode: 0, Stdout: "ok"}, nil
}

func (s *stubBackend) HealthCheck(ctx context.Context) (backend.HealthStatus, error) {
	return backend.HealthStatus{IsHealthy: true}, nil
}

func (s *stubBackend) Cleanup(ctx context.Context) error { return nil }

func stubFactory(env backend.Cylo) (backend.ExecutionBackend, error) {
	return &stubBackend{Base: backend.Base{Type: string(env.Kind)}}, nil
}

func TestExecuteSynthesizesAndRunsOneShot(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	mgr := instance.New(stubFactory)
	ex := New(mgr, RoutingStrategy{Kind: Balanced}, DefaultBackendPreferences(), OptimizationConfig{ReuseInstances: false})
	ex.cache.Set(linuxInfo())

	req := backend.NewExecutionRequest("print(1)", "python")
	res, err := ex.Execute(ctx, req, nil)

	assert.NoError(err)
	assert.Equal("ok", res.Stdout)
	assert.Equal(0, mgr.Len(), "one-shot instance should be removed after execution")
}

func TestExecuteWithHintUsesHintedBackend(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	mgr := instance.New(stubFactory)
	ex := New(mgr, RoutingStrategy{Kind: Balanced}, DefaultBackendPreferences(), OptimizationConfig{ReuseInstances: true})

	hint := &InstanceHint{Instance: backend.CyloInstance{
		Env:  backend.Cylo{Kind: backend.KindLandLock, JailPath: "/tmp/x"},
		Name: "pinned",
	}}

	req := backend.NewExecutionRequest("print(1)", "python")
	res, err := ex.Execute(ctx, req, hint)

	assert.NoError(err)
	assert.Equal("ok", res.Stdout)
	assert.Equal(1, mgr.Len(), "reused instance should remain registered")
}

func TestExecuteRejectsOverCapacity(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	mgr := instance.New(stubFactory)
	prefs := DefaultBackendPreferences()
	prefs.MaxConcurrent["LandLock"] = 1
	ex := New(mgr, RoutingStrategy{Kind: Balanced}, prefs, OptimizationConfig{ReuseInstances: true})
	ex.semaphores["LandLock"] <- struct{}{} // occupy the only slot

	hint := &InstanceHint{Instance: backend.CyloInstance{
		Env:  backend.Cylo{Kind: backend.KindLandLock, JailPath: "/tmp/x"},
		Name: "pinned",
	}}
	req := backend.NewExecutionRequest("print(1)", "python")

	_, err := ex.Execute(ctx, req, hint)
	assert.Error(err)
	berr, ok := err.(*backend.Error)
	assert.True(ok)
	assert.Equal(backend.KindBackendUnavailable, berr.Kind)
}

func TestMetricsRecordedAfterExecution(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	mgr := instance.New(stubFactory)
	ex := New(mgr, RoutingStrategy{Kind: Balanced}, DefaultBackendPreferences(), OptimizationConfig{ReuseInstances: true})

	hint := &InstanceHint{Instance: backend.CyloInstance{
		Env:  backend.Cylo{Kind: backend.KindApple, Image: "alpine:3.18"},
		Name: "metrics-test",
	}}
	req := backend.NewExecutionRequest("print(1)", "python")

	_, err := ex.Execute(ctx, req, hint)
	assert.NoError(err)

	snap := ex.Metrics().Stats("Apple")
	assert.Equal(uint64(1), snap.TotalRuns)
	assert.Equal(1.0, snap.SuccessRate)
}
