package apple

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cyrup-ai/cylo-go/internal/backend"
)

func TestNewRejectsBadImageFormat(t *testing.T) {
	assert := assert.New(t)

	_, err := New("not-an-image", backend.Config{})
	assert.Error(err)
}

func TestNewAcceptsValidImage(t *testing.T) {
	assert := assert.New(t)

	b, err := New("python:3.11-alpine", backend.Config{Name: "Apple"})
	assert.NoError(err)
	assert.Equal("python:3.11-alpine", b.Image)
	assert.Equal("Apple", b.BackendType())
}

func TestBuildContainerArgsOrdering(t *testing.T) {
	assert := assert.New(t)

	req := backend.NewExecutionRequest("print(1)", "python").
		WithTimeout(10 * time.Second).
		WithEnv("FOO", "bar")
	mem := uint64(256 * 1024 * 1024)
	req = req.WithLimits(backend.ResourceLimits{MaxMemory: &mem})

	cmd, _ := backend.CommandFor(req.Language, req.Code)
	args := buildContainerArgs("cylo-test-1", req, cmd, "python:3.11-alpine")

	assert.Equal([]string{"run", "--rm", "--name", "cylo-test-1"}, args[:4])
	assert.Contains(args, "--memory")
	assert.Contains(args, "268435456b")
	assert.Contains(args, "python:3.11-alpine")
	assert.Contains(args, "python3")
}
