package workspace

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCreateEnvironmentNamesDirLangUUID(t *testing.T) {
	assert := assert.New(t)

	p := NewTempDirProvisioner(RamdiskConfig{MountPoint: t.TempDir()})
	env, err := p.CreateEnvironment("python")
	assert.NoError(err)

	info, statErr := os.Stat(env.Path)
	assert.NoError(statErr)
	assert.True(info.IsDir())
	assert.Equal(env.Path, env.EnvVars["VIRTUAL_ENV"])

	assert.NoError(p.Cleanup(env))
	_, statErr = os.Stat(env.Path)
	assert.True(os.IsNotExist(statErr))
}

func TestCreateEnvironmentUnknownLanguageHasEmptyEnvVars(t *testing.T) {
	assert := assert.New(t)

	p := NewTempDirProvisioner(RamdiskConfig{MountPoint: t.TempDir()})
	env, err := p.CreateEnvironment("cobol")
	assert.NoError(err)
	assert.Empty(env.EnvVars)
}

func TestBasePathRejectsMissingMountPoint(t *testing.T) {
	assert := assert.New(t)

	p := NewTempDirProvisioner(RamdiskConfig{MountPoint: "/nonexistent/cylo-mount"})
	_, err := p.BasePath()
	assert.Error(err)
}
