// Package workspace models the ramdisk/tmpfs provisioning and
// per-language workspace preparation that spec.md §1 names as external
// collaborators: a Provisioner interface narrow enough for backends to
// depend on, plus a minimal temp-dir-backed implementation for exercising
// them without a real ramdisk.
package workspace

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// RamdiskConfig mirrors the collaborator config shape from spec.md §6:
// a size, a mount point, and a volume name. None of these fields are
// interpreted by the core itself.
type RamdiskConfig struct {
	SizeGB     int
	MountPoint string
	VolumeName string
}

// Environment is the per-language workspace handed back to a backend:
// a writable directory plus the environment variables that configure the
// language toolchain to operate entirely inside it.
type Environment struct {
	Language string
	Path     string
	EnvVars  map[string]string
}

// Provisioner is the collaborator interface consumed by backends:
// obtain a writable base path, then carve a per-language environment out
// of it. Concrete implementations may back this with an actual ramdisk;
// Provisioner itself does not know or care.
type Provisioner interface {
	BasePath() (string, error)
	CreateEnvironment(language string) (Environment, error)
	Cleanup(env Environment) error
}

// TempDirProvisioner is the minimal stub implementation named in
// SPEC_FULL.md's expansion: it uses the configured mount point as its
// base (the system temp directory when none is set) and names each
// environment `<lang>-<uuid>`, matching the
// original's sandbox directory-naming scheme.
type TempDirProvisioner struct {
	cfg RamdiskConfig
}

func NewTempDirProvisioner(cfg RamdiskConfig) *TempDirProvisioner {
	if cfg.MountPoint == "" {
		cfg.MountPoint = os.TempDir()
	}
	return &TempDirProvisioner{cfg: cfg}
}

func (p *TempDirProvisioner) BasePath() (string, error) {
	if _, err := os.Stat(p.cfg.MountPoint); err != nil {
		return "", errors.Wrapf(err, "mount point %q not available", p.cfg.MountPoint)
	}
	return p.cfg.MountPoint, nil
}

// CreateEnvironment creates `<base>/<lang>-<uuid>` and returns the
// language-specific env vars a backend should export before invoking the
// dispatch table's command for that language.
func (p *TempDirProvisioner) CreateEnvironment(language string) (Environment, error) {
	base, err := p.BasePath()
	if err != nil {
		return Environment{}, err
	}

	dirName := fmt.Sprintf("%s-%s", language, uuid.NewString())
	path := base + string(os.PathSeparator) + dirName

	if err := os.MkdirAll(path, 0o755); err != nil {
		return Environment{}, errors.Wrapf(err, "creating workspace dir %q", path)
	}

	return Environment{
		Language: language,
		Path:     path,
		EnvVars:  envVarsFor(language, path),
	}, nil
}

// Cleanup removes the environment's directory tree. Missing directories
// are not an error — the backend may have already removed it.
func (p *TempDirProvisioner) Cleanup(env Environment) error {
	if env.Path == "" {
		return nil
	}
	if err := os.RemoveAll(env.Path); err != nil {
		return errors.Wrapf(err, "removing workspace dir %q", env.Path)
	}
	return nil
}

// envVarsFor isolates each language's toolchain state inside path,
// matching the original's per-language helpers (create_python_venv,
// create_node_environment, create_rust_environment, create_go_environment)
// without reproducing their ramdisk-specific mechanics.
func envVarsFor(language, path string) map[string]string {
	switch language {
	case "python", "python3":
		return map[string]string{"VIRTUAL_ENV": path, "PYTHONUSERBASE": path}
	case "javascript", "js", "node":
		return map[string]string{"NPM_CONFIG_PREFIX": path, "NODE_PATH": path + "/node_modules"}
	case "rust":
		return map[string]string{"CARGO_HOME": path, "CARGO_TARGET_DIR": path + "/target"}
	case "go":
		return map[string]string{"GOPATH": path, "GOCACHE": path + "/cache"}
	default:
		return map[string]string{}
	}
}

var _ Provisioner = (*TempDirProvisioner)(nil)
