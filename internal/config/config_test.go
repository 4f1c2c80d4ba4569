package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	assert := assert.New(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	assert.NoError(err)
	assert.Equal("balanced", cfg.Routing.Strategy)
	assert.Equal(20, cfg.Routing.MaxConcurrent["LandLock"])
}

func TestLoadParsesTOML(t *testing.T) {
	assert := assert.New(t)

	contents := `
[firecracker]
binary_path = "/usr/bin/firecracker"
kernel_path = "/var/lib/cylo/vmlinux"
rootfs_path = "/var/lib/cylo/rootfs.ext4"
vcpu_count = 2
mem_size_mib = 256

[routing]
strategy = "performance"
deny_list = ["Apple"]

[manager]
health_check_interval_secs = 30
max_idle_time_secs = 120
`
	path := filepath.Join(t.TempDir(), "cylo.toml")
	assert.NoError(os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	assert.NoError(err)
	assert.Equal("/usr/bin/firecracker", cfg.Firecracker.BinaryPath)
	assert.Equal(int64(2), cfg.Firecracker.VCPUCount)
	assert.Equal("performance", cfg.Routing.Strategy)
	assert.Equal([]string{"Apple"}, cfg.Routing.DenyList)
	assert.Equal(30*1_000_000_000, int(cfg.HealthCheckInterval))
}

func TestLoadRejectsUnknownStrategy(t *testing.T) {
	assert := assert.New(t)

	path := filepath.Join(t.TempDir(), "cylo.toml")
	assert.NoError(os.WriteFile(path, []byte("[routing]\nstrategy = \"bogus\"\n"), 0o644))

	_, err := Load(path)
	assert.Error(err)
}
