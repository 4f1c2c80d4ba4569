package instance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cyrup-ai/cylo-go/internal/backend"
)

// fakeBackend is a minimal ExecutionBackend stand-in for exercising the
// manager's lifecycle without any real isolation primitive.
type fakeBackend struct {
	backend.Base
	healthy     bool
	cleanupErr  error
	cleanupHits int
}

func (f *fakeBackend) ExecuteCode(ctx context.Context, req backend.ExecutionRequest) (backend.ExecutionResult, error) {
	return backend.ExecutionResult{ExitCode: 0}, nil
}

func (f *fakeBackend) HealthCheck(ctx context.Context) (backend.HealthStatus, error) {
	return backend.HealthStatus{IsHealthy: f.healthy, LastCheck: time.Now()}, nil
}

func (f *fakeBackend) Cleanup(ctx context.Context) error {
	f.cleanupHits++
	return f.cleanupErr
}

func newFakeFactory(healthy bool) Factory {
	return func(env backend.Cylo) (backend.ExecutionBackend, error) {
		return &fakeBackend{Base: backend.Base{Type: string(env.Kind)}, healthy: healthy}, nil
	}
}

func testInstance(name string) backend.CyloInstance {
	return backend.CyloInstance{Env: backend.Cylo{Kind: backend.KindLandLock, JailPath: "/tmp"}, Name: name}
}

func TestManagerRegisterGetReleaseRemove(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	m := New(newFakeFactory(true))

	inst := testInstance("alpha")

	assert.NoError(m.Register(ctx, inst))

	err := m.Register(ctx, inst)
	assert.Error(err)
	berr, ok := err.(*backend.Error)
	assert.True(ok)
	assert.Equal(backend.KindInstanceConflict, berr.Kind)

	be, err := m.Get(ctx, inst.ID())
	assert.NoError(err)
	assert.NotNil(be)
	assert.Equal(1, m.instances[inst.ID()].refCount)

	m.Release(inst.ID())
	assert.Equal(0, m.instances[inst.ID()].refCount)

	assert.NoError(m.Remove(ctx, inst.ID()))

	_, err = m.Get(ctx, inst.ID())
	assert.Error(err)
	berr, ok = err.(*backend.Error)
	assert.True(ok)
	assert.Equal(backend.KindInstanceNotFound, berr.Kind)
}

func TestManagerGetUnhealthyIsBackendUnavailable(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	m := New(newFakeFactory(true))
	m.healthCheckInterval = 0 // force a re-check on every Get

	inst := testInstance("beta")
	assert.NoError(m.Register(ctx, inst))

	m.instances[inst.ID()].Backend.(*fakeBackend).healthy = false

	_, err := m.Get(ctx, inst.ID())
	assert.Error(err)
	berr, ok := err.(*backend.Error)
	assert.True(ok)
	assert.Equal(backend.KindBackendUnavailable, berr.Kind)
}

func TestManagerCleanupIdleRespectsRefCount(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	m := New(newFakeFactory(true))
	m.maxIdleTime = 0

	idle := testInstance("idle")
	busy := testInstance("busy")
	assert.NoError(m.Register(ctx, idle))
	assert.NoError(m.Register(ctx, busy))

	_, err := m.Get(ctx, busy.ID())
	assert.NoError(err)

	cleaned := m.CleanupIdle(ctx)
	assert.Equal(1, cleaned)
	assert.Equal(1, m.Len())

	_, err = m.Get(ctx, idle.ID())
	assert.Error(err)

	_, err = m.Get(ctx, busy.ID())
	assert.NoError(err)
}

func TestManagerHealthCheckAll(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	m := New(newFakeFactory(true))

	a := testInstance("a")
	b := testInstance("b")
	assert.NoError(m.Register(ctx, a))
	assert.NoError(m.Register(ctx, b))

	results := m.HealthCheckAll(ctx)
	assert.Len(results, 2)
	assert.True(results[a.ID()].IsHealthy)
	assert.True(results[b.ID()].IsHealthy)
}

func TestManagerShutdownRunsCleanupConcurrently(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	m := New(newFakeFactory(true))

	a := testInstance("a")
	assert.NoError(m.Register(ctx, a))
	fb := m.instances[a.ID()].Backend.(*fakeBackend)

	m.Shutdown(ctx)
	assert.Equal(1, fb.cleanupHits)
	assert.Equal(0, m.Len())
}

func TestRegisterFactoryFailureLeavesNoSlot(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	m := New(func(env backend.Cylo) (backend.ExecutionBackend, error) {
		return nil, errors.New("boom")
	})

	inst := testInstance("gamma")
	err := m.Register(ctx, inst)
	assert.Error(err)
	assert.Equal(0, m.Len())
}

func TestInitGlobalRejectsDoubleInit(t *testing.T) {
	assert := assert.New(t)

	err := InitGlobal(newFakeFactory(true))
	if err == nil {
		assert.NotNil(Global())
	}

	err = InitGlobal(newFakeFactory(true))
	assert.Error(err)
}
