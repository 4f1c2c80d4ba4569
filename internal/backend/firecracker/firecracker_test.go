package firecracker

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cyrup-ai/cylo-go/internal/backend"
)

func TestNewRejectsMissingFiles(t *testing.T) {
	assert := assert.New(t)

	_, err := New(InstallConfig{
		BinaryPath: "/nonexistent/firecracker",
		KernelPath: "/nonexistent/vmlinux",
		RootfsPath: "/nonexistent/rootfs",
	}, backend.Config{})
	assert.Error(err)
}

func TestGenerateScriptEscapesEnvAndArgs(t *testing.T) {
	assert := assert.New(t)

	cmd := backend.LanguageCommand{Program: "python3", Args: []string{"-c", "print('it''s ok')"}}
	script := generateScript(cmd, map[string]string{"FOO": "bar"}, "")

	assert.Contains(script, "export FOO=")
	assert.Contains(script, "python3")
}

func TestGenerateScriptWithStdinHeredoc(t *testing.T) {
	assert := assert.New(t)

	cmd := backend.LanguageCommand{Program: "sh", Args: []string{"-c", "cat"}}
	script := generateScript(cmd, nil, "hello\n")

	assert.Contains(script, "CYLO_STDIN")
	assert.Contains(script, "hello")
}
