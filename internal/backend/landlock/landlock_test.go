package landlock

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cyrup-ai/cylo-go/internal/backend"
)

func TestNewRejectsRelativeJailPath(t *testing.T) {
	assert := assert.New(t)

	_, err := New("relative/path", backend.Config{})
	assert.Error(err)
}

func TestNewCreatesMissingJailDir(t *testing.T) {
	assert := assert.New(t)

	dir := t.TempDir() + "/jail"
	b, err := New(dir, backend.Config{Name: "LandLock"})
	assert.NoError(err)
	assert.Equal(dir, b.JailRoot)
}

func TestShellJoinEscapesSingleQuotes(t *testing.T) {
	assert := assert.New(t)

	got := shellJoin("sh", []string{"-c", "echo it's ok"})
	assert.Contains(got, `'"'"'`)
}

func TestBuildBwrapArgsOrdering(t *testing.T) {
	assert := assert.New(t)

	req := backend.NewExecutionRequest("echo hi", "bash")
	cmd, _ := backend.CommandFor(req.Language, req.Code)
	args := buildBwrapArgs("/tmp/exec-1", req, cmd)

	assert.Equal("--bind", args[indexOf(args, "/workspace")-2])
	assert.Contains(args, "--unshare-all")
	assert.Contains(args, "--share-net")
}

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}
