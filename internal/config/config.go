// Package config loads the TOML configuration file described in
// SPEC_FULL.md's ambient-stack expansion: per-backend installation
// paths, routing/optimization defaults, and the instance-manager
// idle/health intervals.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// TOML tables are named after the backend they configure, mirroring the
// [hypervisor.<type>] nesting convention katautils uses for its own
// per-hypervisor sections.
type fileConfig struct {
	LandLock    landlockTable    `toml:"landlock"`
	Firecracker firecrackerTable `toml:"firecracker"`
	Apple       appleTable       `toml:"apple"`
	WindowsJob  windowsJobTable  `toml:"windowsjob"`
	Routing     routingTable     `toml:"routing"`
	Manager     managerTable     `toml:"manager"`
}

type landlockTable struct {
	BubblewrapPath string `toml:"bubblewrap_path"`
	DefaultJailDir string `toml:"default_jail_dir"`
}

type firecrackerTable struct {
	BinaryPath string `toml:"binary_path"`
	KernelPath string `toml:"kernel_path"`
	RootfsPath string `toml:"rootfs_path"`
	VCPUCount  int64  `toml:"vcpu_count"`
	MemSizeMiB int64  `toml:"mem_size_mib"`

	SSHHost           string `toml:"ssh_host"`
	SSHPort           int    `toml:"ssh_port"`
	SSHUser           string `toml:"ssh_user"`
	SSHUseAgent       bool   `toml:"ssh_use_agent"`
	SSHPrivateKeyPath string `toml:"ssh_private_key_path"`
	SSHPassword       string `toml:"ssh_password"`

	// SSHTransport is "tcp" (default) or "vsock"; SSHVsockCID is only
	// meaningful for the latter.
	SSHTransport string `toml:"ssh_transport"`
	SSHVsockCID  uint32 `toml:"ssh_vsock_cid"`
}

type appleTable struct {
	CLIPath        string `toml:"cli_path"`
	DefaultImage   string `toml:"default_image"`
	MaxConcurrent  int    `toml:"max_concurrent"`
}

type windowsJobTable struct {
	DefaultWorkspaceName string `toml:"default_workspace_name"`
}

type routingTable struct {
	Strategy         string             `toml:"strategy"`
	PreferredBackend string             `toml:"preferred_backend"`
	DenyList         []string           `toml:"deny_list"`
	MaxConcurrent    map[string]int     `toml:"max_concurrent"`
	Multipliers      map[string]float64 `toml:"multipliers"`
	ReuseInstances   bool               `toml:"reuse_instances"`
}

type managerTable struct {
	HealthCheckIntervalSecs int `toml:"health_check_interval_secs"`
	MaxIdleTimeSecs         int `toml:"max_idle_time_secs"`
}

// Config is the decoded, typed view handed to the rest of the module;
// fileConfig stays private so callers never depend on the TOML shape
// directly.
type Config struct {
	LandLock    landlockTable
	Firecracker firecrackerTable
	Apple       appleTable
	WindowsJob  windowsJobTable
	Routing     routingTable

	HealthCheckInterval time.Duration
	MaxIdleTime          time.Duration
}

// Load decodes the TOML file at path. A missing file is not an error;
// Default() is returned instead, matching the "no persisted state is
// required to start" posture from spec.md §6.
func Load(path string) (Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "reading config file %q", path)
	}

	var fc fileConfig
	if _, err := toml.Decode(string(data), &fc); err != nil {
		return Config{}, errors.Wrapf(err, "parsing config file %q", path)
	}

	cfg := Default()
	cfg.LandLock = fc.LandLock
	cfg.Firecracker = fc.Firecracker
	cfg.Apple = fc.Apple
	cfg.WindowsJob = fc.WindowsJob
	cfg.Routing = fc.Routing

	if fc.Manager.HealthCheckIntervalSecs > 0 {
		cfg.HealthCheckInterval = time.Duration(fc.Manager.HealthCheckIntervalSecs) * time.Second
	}
	if fc.Manager.MaxIdleTimeSecs > 0 {
		cfg.MaxIdleTime = time.Duration(fc.Manager.MaxIdleTimeSecs) * time.Second
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Default returns the zero-config posture: every backend is probed at
// runtime rather than pre-validated, Balanced routing, 60s health
// checks, 300s idle reclamation — the defaults named throughout spec.md
// §3/§4.G.
func Default() Config {
	return Config{
		Routing: routingTable{
			Strategy:      "balanced",
			MaxConcurrent: map[string]int{"Apple": 10, "LandLock": 20, "Firecracker": 50, "WindowsJob": 20},
		},
		HealthCheckInterval: 60 * time.Second,
		MaxIdleTime:         300 * time.Second,
	}
}

// Validate rejects a routing strategy name Load can't map to a
// StrategyKind, failing fast at startup rather than at first request.
func (c Config) Validate() error {
	switch c.Routing.Strategy {
	case "", "balanced", "performance", "security", "prefer_backend", "explicit_only":
		return nil
	default:
		return fmt.Errorf("unknown routing strategy %q", c.Routing.Strategy)
	}
}
