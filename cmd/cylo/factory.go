package main

import (
	"github.com/cyrup-ai/cylo-go/internal/backend"
	"github.com/cyrup-ai/cylo-go/internal/backend/apple"
	"github.com/cyrup-ai/cylo-go/internal/backend/firecracker"
	"github.com/cyrup-ai/cylo-go/internal/backend/landlock"
	"github.com/cyrup-ai/cylo-go/internal/backend/windowsjob"
	"github.com/cyrup-ai/cylo-go/internal/config"
	"github.com/cyrup-ai/cylo-go/internal/instance"
)

// buildFactory closes over the loaded configuration and returns the
// instance.Factory the manager uses to materialize a concrete backend
// for whichever Cylo environment variant execute() synthesizes or a
// caller pins via instance_hint.
func buildFactory(cfg config.Config) instance.Factory {
	return func(env backend.Cylo) (backend.ExecutionBackend, error) {
		switch env.Kind {
		case backend.KindLandLock:
			jail := env.JailPath
			if jail == "" {
				jail = cfg.LandLock.DefaultJailDir
			}
			return landlock.New(jail, backend.Config{Name: "LandLock"})

		case backend.KindFirecracker:
			install := firecracker.InstallConfig{
				BinaryPath: cfg.Firecracker.BinaryPath,
				KernelPath: cfg.Firecracker.KernelPath,
				RootfsPath: cfg.Firecracker.RootfsPath,
				VCPUCount:  cfg.Firecracker.VCPUCount,
				MemSizeMiB: cfg.Firecracker.MemSizeMiB,
				SSH: firecracker.SSHConfig{
					Host:           cfg.Firecracker.SSHHost,
					Port:           cfg.Firecracker.SSHPort,
					User:           cfg.Firecracker.SSHUser,
					UseAgent:       cfg.Firecracker.SSHUseAgent,
					PrivateKeyPath: cfg.Firecracker.SSHPrivateKeyPath,
					Password:       cfg.Firecracker.SSHPassword,
					Transport:      cfg.Firecracker.SSHTransport,
					VsockCID:       cfg.Firecracker.SSHVsockCID,
				},
			}
			return firecracker.New(install, backend.Config{Name: "Firecracker"})

		case backend.KindApple:
			image := env.Image
			if image == "" {
				image = cfg.Apple.DefaultImage
			}
			return apple.New(image, backend.Config{Name: "Apple"})

		case backend.KindWindowsJob:
			name := env.WorkspaceName
			if name == "" {
				name = cfg.WindowsJob.DefaultWorkspaceName
			}
			return windowsjob.New(name, backend.Config{Name: "WindowsJob"})

		default:
			return nil, backend.NewInvalidConfig(string(env.Kind), "no factory registered for this backend kind")
		}
	}
}
