//go:build !windows

package windowsjob

import (
	"context"
	"time"

	"github.com/cyrup-ai/cylo-go/internal/backend"
)

// Backend is the non-Windows stand-in: Job Objects have no equivalent
// outside Windows, so every call reports unavailable rather than trying
// a best-effort emulation.
type Backend struct {
	backend.Base
}

func New(workspaceName string, cfg backend.Config) (*Backend, error) {
	return nil, backend.NewPlatformUnsupported("WindowsJob", "windows")
}

func (b *Backend) ExecuteCode(ctx context.Context, req backend.ExecutionRequest) (backend.ExecutionResult, error) {
	return backend.Failure("WindowsJob", backend.NewPlatformUnsupported("WindowsJob", "windows").Error()), nil
}

func (b *Backend) HealthCheck(ctx context.Context) (backend.HealthStatus, error) {
	return backend.HealthStatus{IsHealthy: false, Message: "WindowsJob backend is only available on windows", LastCheck: time.Now()}, nil
}

func (b *Backend) Cleanup(ctx context.Context) error {
	return nil
}

var _ backend.ExecutionBackend = (*Backend)(nil)
