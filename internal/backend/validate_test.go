package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidImageFormat(t *testing.T) {
	assert := assert.New(t)

	cases := map[string]bool{
		"python:3.11":               true,
		"rust:alpine3.20":           true,
		"registry.io/user/image:tag": true,
		"python":                    false,
		"":                          false,
		":tag":                      false,
		"image:":                    false,
		"image:tag:extra":           false,
	}

	for image, want := range cases {
		assert.Equal(want, IsValidImageFormat(image), "image %q", image)
	}
}

func TestExecutionRequestBuilders(t *testing.T) {
	assert := assert.New(t)

	req := NewExecutionRequest("print(1)", "PYTHON").
		WithInput("hello").
		WithEnv("FOO", "bar").
		WithTimeout(5_000_000_000)

	assert.Equal("python", req.Language)
	assert.Equal("hello", req.Input)
	assert.Equal("bar", req.EnvVars["FOO"])
	assert.NoError(req.Validate())
}

func TestResourceLimitsRejectZero(t *testing.T) {
	assert := assert.New(t)

	zero := uint64(0)
	limits := ResourceLimits{MaxMemory: &zero}
	assert.Error(limits.Validate())
}

func TestCommandForDispatchTable(t *testing.T) {
	assert := assert.New(t)

	cmd, ok := CommandFor("python3", "print(1)")
	assert.True(ok)
	assert.Equal("python3", cmd.Program)
	assert.Equal([]string{"-c", "print(1)"}, cmd.Args)

	_, ok = CommandFor("cobol", "IDENTIFICATION DIVISION.")
	assert.False(ok)

	_, ok = CommandFor("bash", "echo hi\x00")
	assert.False(ok, "NUL byte must fail closed")
}

func TestCyloInstanceID(t *testing.T) {
	assert := assert.New(t)

	inst := CyloInstance{Env: Cylo{Kind: KindLandLock}, Name: "default"}
	assert.Equal("landlock_default", inst.ID())
}
