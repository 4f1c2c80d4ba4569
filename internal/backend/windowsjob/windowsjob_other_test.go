//go:build !windows

package windowsjob

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cyrup-ai/cylo-go/internal/backend"
)

func TestNewReportsPlatformUnsupportedOffWindows(t *testing.T) {
	assert := assert.New(t)

	_, err := New("cylo", backend.Config{})
	assert.Error(err)

	berr, ok := err.(*backend.Error)
	assert.True(ok)
	assert.Equal(backend.KindNotAvailable, berr.Kind)
}

func TestHealthCheckReportsUnhealthyOffWindows(t *testing.T) {
	assert := assert.New(t)

	b := &Backend{}
	status, err := b.HealthCheck(context.Background())
	assert.NoError(err)
	assert.False(status.IsHealthy)
}
