// Package apple implements the macOS container-CLI backend described in
// spec.md §4.E: one "container run --rm" invocation per execution,
// shelling out to Apple's container CLI.
package apple

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/cyrup-ai/cylo-go/internal/backend"
	"github.com/cyrup-ai/cylo-go/internal/logging"
)

var log = logging.For("apple")

// Backend is the Apple container CLI driver.
type Backend struct {
	backend.Base

	Image string
}

// New validates the image reference per spec.md §4.E and returns a ready
// backend. Image pull happens lazily on first use, not here.
func New(image string, cfg backend.Config) (*Backend, error) {
	if !backend.IsValidImageFormat(image) {
		return nil, backend.NewInvalidConfig("Apple", "invalid image format: "+image)
	}
	return &Backend{
		Base:  backend.Base{Type: "Apple", Config: cfg},
		Image: image,
	}, nil
}

// ExecuteCode shells out to "container run --rm" with one invocation per
// execution, per spec.md §4.E. The child's kill handle is held in the
// same scope as the timeout race (fixing the Open Questions defect: the
// reference implementation moved the child into a background task before
// arming the timeout and lost the ability to kill it).
func (b *Backend) ExecuteCode(ctx context.Context, req backend.ExecutionRequest) (backend.ExecutionResult, error) {
	if err := req.Validate(); err != nil {
		return backend.Failure(b.Type, err.Error()), nil
	}

	cmd, ok := backend.CommandFor(req.Language, req.Code)
	if !ok {
		berr := backend.NewUnsupportedLanguage(b.Type, req.Language)
		return backend.Failure(b.Type, berr.Error()), nil
	}

	if err := b.ensureImage(ctx); err != nil {
		return backend.Failure(b.Type, "image pull failed: "+err.Error()), nil
	}

	name := fmt.Sprintf("cylo-%s-%d", uuid.NewString(), os.Getpid())
	argv := buildContainerArgs(name, req, cmd, b.Image)

	start := time.Now()
	child := exec.CommandContext(ctx, "container", argv...)

	var stdout, stderr bytes.Buffer
	child.Stdout = &stdout
	child.Stderr = &stderr

	if err := child.Start(); err != nil {
		return backend.Failure(b.Type, "failed to start container: "+err.Error()), nil
	}

	done := make(chan error, 1)
	go func() { done <- child.Wait() }()

	timer := time.NewTimer(req.Timeout)
	defer timer.Stop()

	var waitErr error
	timedOut := false

	select {
	case waitErr = <-done:
	case <-timer.C:
		timedOut = true
		if child.Process != nil {
			_ = child.Process.Kill()
		}
		<-done
	case <-ctx.Done():
		timedOut = true
		if child.Process != nil {
			_ = child.Process.Kill()
		}
		<-done
	}

	duration := time.Since(start)

	if timedOut {
		berr := backend.NewExecutionTimeout(int(req.Timeout.Seconds()))
		res := backend.Failure(b.Type, berr.Error())
		res.Duration = duration
		res.Metadata["instance"] = name
		return res, nil
	}

	usage := b.collectStats(ctx, name)

	exitCode := -1
	if waitErr == nil {
		exitCode = 0
	} else if exitErr, ok := waitErr.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	}

	return backend.ExecutionResult{
		ExitCode:      exitCode,
		Stdout:        stdout.String(),
		Stderr:        stderr.String(),
		Duration:      duration,
		ResourceUsage: usage,
		Metadata: map[string]string{
			"backend":  b.Type,
			"instance": name,
		},
	}, nil
}

// buildContainerArgs follows the exact argv ordering in spec.md §6.
func buildContainerArgs(name string, req backend.ExecutionRequest, cmd backend.LanguageCommand, image string) []string {
	args := []string{"run", "--rm", "--name", name}

	if req.Limits.MaxMemory != nil {
		args = append(args, "--memory", strconv.FormatUint(*req.Limits.MaxMemory, 10)+"b")
	}
	if req.Limits.MaxProcesses != nil {
		// Apple's CLI has no direct process-count flag; cpus is the
		// nearest concurrency knob the spec's argv table exposes.
		args = append(args, "--cpus", "1")
	}
	for k, v := range req.EnvVars {
		args = append(args, "-e", k+"="+v)
	}
	if req.WorkingDir != "" {
		args = append(args, "-w", req.WorkingDir)
	}
	args = append(args, "--timeout", strconv.Itoa(int(req.Timeout.Seconds()))+"s")
	args = append(args, image)
	args = append(args, cmd.Program)
	args = append(args, cmd.Args...)
	return args
}

// ensureImage probes "container image exists <image>" and pulls on miss,
// per spec.md §4.E.
func (b *Backend) ensureImage(ctx context.Context) error {
	probe := exec.CommandContext(ctx, "container", "image", "exists", b.Image)
	if err := probe.Run(); err == nil {
		return nil
	}

	pull := exec.CommandContext(ctx, "container", "pull", b.Image)
	var stderr bytes.Buffer
	pull.Stderr = &stderr
	if err := pull.Run(); err != nil {
		return errors.Wrap(err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// containerStats mirrors the JSON shape emitted by
// "container stats --no-stream --format json <name>". Absent fields
// default to zero per spec.md §4.E.
type containerStats struct {
	MemoryUsageBytes uint64 `json:"memory_usage_bytes"`
	CPUTimeMS        uint64 `json:"cpu_time_ms"`
	Pids             uint32 `json:"pids"`
	BlockRead        uint64 `json:"block_read_bytes"`
	BlockWrite       uint64 `json:"block_write_bytes"`
	NetRx            uint64 `json:"network_rx_bytes"`
	NetTx            uint64 `json:"network_tx_bytes"`
}

func (b *Backend) collectStats(ctx context.Context, name string) backend.ResourceUsage {
	out, err := exec.CommandContext(ctx, "container", "stats", "--no-stream", "--format", "json", name).Output()
	if err != nil {
		return backend.ResourceUsage{}
	}

	var stats containerStats
	if err := json.Unmarshal(out, &stats); err != nil {
		return backend.ResourceUsage{}
	}

	return backend.ResourceUsage{
		PeakMemory:           stats.MemoryUsageBytes,
		CPUTimeMS:            stats.CPUTimeMS,
		ProcessCount:         stats.Pids,
		DiskBytesRead:        stats.BlockRead,
		DiskBytesWritten:     stats.BlockWrite,
		NetworkBytesReceived: stats.NetRx,
		NetworkBytesSent:     stats.NetTx,
	}
}

// HealthCheck runs "container --version" as a non-destructive probe.
func (b *Backend) HealthCheck(ctx context.Context) (backend.HealthStatus, error) {
	now := time.Now()
	if err := exec.CommandContext(ctx, "container", "--version").Run(); err != nil {
		return backend.HealthStatus{IsHealthy: false, Message: "container CLI not available: " + err.Error(), LastCheck: now}, nil
	}
	return backend.HealthStatus{IsHealthy: true, Message: "ok", LastCheck: now}, nil
}

// Cleanup lists and force-removes every container named with the cylo-
// prefix, reclaiming orphans from a prior crashed run, per spec.md §4.E
// and §6.
func (b *Backend) Cleanup(ctx context.Context) error {
	out, err := exec.CommandContext(ctx, "container", "ps", "-a", "--filter", "name=cylo-", "--format", "{{.Names}}").Output()
	if err != nil {
		return errors.Wrap(err, "listing containers")
	}

	var firstErr error
	for _, name := range strings.Fields(string(out)) {
		if err := exec.CommandContext(ctx, "container", "rm", "-f", name).Run(); err != nil {
			log.WithError(err).WithField("container", name).Warn("failed to remove stale container")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

var _ backend.ExecutionBackend = (*Backend)(nil)
