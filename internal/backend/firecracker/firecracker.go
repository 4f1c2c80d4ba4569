// Package firecracker implements the microVM backend described in
// spec.md §4.D: each run creates a fresh Firecracker microVM configured
// over its Unix-domain HTTP API, then reaches the guest over SSH to run
// a generated script containing the user code.
package firecracker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	fcsdk "github.com/firecracker-microvm/firecracker-go-sdk"
	"github.com/firecracker-microvm/firecracker-go-sdk/client/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/cyrup-ai/cylo-go/internal/backend"
	"github.com/cyrup-ai/cylo-go/internal/logging"
)

var log = logging.For("firecracker")

// vmmState is the lifecycle state machine from spec.md §4.D: New ->
// Configured -> Starting -> ApiUp -> Ready -> Executing -> Collecting ->
// Terminating.
type vmmState int

const (
	stateNew vmmState = iota
	stateConfigured
	stateStarting
	stateAPIUp
	stateReady
	stateExecuting
	stateCollecting
	stateTerminating
)

// Backend is the Firecracker microVM driver.
type Backend struct {
	backend.Base

	Install InstallConfig
}

// New validates the binary, kernel image, rootfs file, and /dev/kvm
// presence at construction time, per spec.md §4.D.
func New(install InstallConfig, cfg backend.Config) (*Backend, error) {
	if err := validateInstall(install); err != nil {
		return nil, backend.NewInvalidConfig("Firecracker", err.Error())
	}
	return &Backend{
		Base:    backend.Base{Type: "Firecracker", Config: cfg},
		Install: install,
	}, nil
}

func validateInstall(cfg InstallConfig) error {
	for _, f := range []string{cfg.BinaryPath, cfg.KernelPath, cfg.RootfsPath} {
		if f == "" {
			return errors.New("firecracker binary, kernel, and rootfs paths are required")
		}
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "required file %q missing", f)
		}
	}
	if _, err := os.Stat("/dev/kvm"); err != nil {
		return errors.New("/dev/kvm not present")
	}
	return nil
}

// vm holds the per-run identifiers allocated in the New state.
type vm struct {
	id          string
	socketPath  string
	configPath  string
	logPath     string
	metricsPath string
	state       vmmState
}

func newVM() vm {
	id := fmt.Sprintf("cylo-%s-%d", uuid.NewString(), os.Getpid())
	return vm{
		id:          id,
		socketPath:  filepath.Join(os.TempDir(), id+".sock"),
		configPath:  filepath.Join(os.TempDir(), id+".json"),
		logPath:     filepath.Join(os.TempDir(), id+".log.fifo"),
		metricsPath: filepath.Join(os.TempDir(), id+".metrics.fifo"),
		state:       stateNew,
	}
}

// ExecuteCode drives the full lifecycle for one run: configure, start,
// wait out the boot interval (see waitRunning), execute the guest
// script, collect metrics, and terminate — always, even on error paths,
// so no microVM or socket survives past the call.
func (b *Backend) ExecuteCode(ctx context.Context, req backend.ExecutionRequest) (backend.ExecutionResult, error) {
	if err := req.Validate(); err != nil {
		return backend.Failure(b.Type, err.Error()), nil
	}

	cmd, ok := backend.CommandFor(req.Language, req.Code)
	if !ok {
		berr := backend.NewUnsupportedLanguage(b.Type, req.Language)
		return backend.Failure(b.Type, berr.Error()), nil
	}

	v := newVM()
	start := time.Now()

	runCtx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	machine, err := b.startMachine(runCtx, v, req)
	v.state = stateAPIUp
	if err != nil {
		b.terminate(v, nil)
		return backend.Failure(b.Type, "vmm start failed: "+err.Error()), nil
	}
	defer b.terminate(v, machine)

	if err := waitRunning(runCtx, machine); err != nil {
		if runCtx.Err() != nil {
			berr := backend.NewExecutionTimeout(int(req.Timeout.Seconds()))
			return backend.Failure(b.Type, berr.Error()), nil
		}
		return backend.Failure(b.Type, "vmm did not reach Running state: "+err.Error()), nil
	}
	v.state = stateReady

	v.state = stateExecuting
	stdout, stderr, exitCode, err := b.executeInGuest(runCtx, req, cmd)
	if err != nil {
		if runCtx.Err() != nil {
			berr := backend.NewExecutionTimeout(int(req.Timeout.Seconds()))
			res := backend.Failure(b.Type, berr.Error())
			res.Duration = time.Since(start)
			return res, nil
		}
		return backend.Failure(b.Type, "guest execution failed: "+err.Error()), nil
	}

	v.state = stateCollecting
	usage := b.collectMetrics(runCtx, v)

	return backend.ExecutionResult{
		ExitCode:      exitCode,
		Stdout:        stdout,
		Stderr:        stderr,
		Duration:      time.Since(start),
		ResourceUsage: usage,
		Metadata: map[string]string{
			"backend":  b.Type,
			"instance": v.id,
		},
	}, nil
}

// startMachine performs Configured -> Starting -> ApiUp by handing a
// models-described config to the firecracker-go-sdk, which issues the
// PUT /machine-config, /boot-source, and /drives/rootfs calls from
// spec.md §6 before InstanceStart. No network interface is configured.
func (b *Backend) startMachine(ctx context.Context, v vm, req backend.ExecutionRequest) (*fcsdk.Machine, error) {
	cfg := fcsdk.Config{
		SocketPath:      v.socketPath,
		KernelImagePath: b.Install.KernelPath,
		KernelArgs:      "console=ttyS0 reboot=k panic=1 pci=off",
		LogFifo:         v.logPath,
		MetricsFifo:     v.metricsPath,
		Drives: []models.Drive{
			{
				DriveID:      fcsdk.String("rootfs"),
				PathOnHost:   fcsdk.String(b.Install.RootfsPath),
				IsRootDevice: fcsdk.Bool(true),
				IsReadOnly:   fcsdk.Bool(false),
			},
		},
		MachineCfg: models.MachineConfiguration{
			VcpuCount:  fcsdk.Int64(firstNonZero(b.Install.VCPUCount, 1)),
			MemSizeMib: fcsdk.Int64(firstNonZero(b.Install.MemSizeMiB, 128)),
		},
	}

	if req.Limits.MaxMemory != nil {
		mib := int64(*req.Limits.MaxMemory / (1024 * 1024))
		if mib > 0 {
			cfg.MachineCfg.MemSizeMib = fcsdk.Int64(mib)
		}
	}

	machine, err := fcsdk.NewMachine(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "constructing machine")
	}

	if err := machine.Start(ctx); err != nil {
		return nil, errors.Wrap(err, "starting vmm")
	}

	return machine, nil
}

func firstNonZero(v, def int64) int64 {
	if v == 0 {
		return def
	}
	return v
}

// waitRunning waits a single apiPollInterval (or until ctx is done) and
// then returns nil. It does not query the VMM state or probe the guest's
// SSH endpoint; reachability is only discovered when executeInGuest dials.
func waitRunning(ctx context.Context, machine *fcsdk.Machine) error {
	for i := 0; i < apiPollAttempts; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(apiPollInterval):
		}
		// The SDK's Start/Wait already blocks until the instance action
		// succeeds; by the time we reach here the VMM process is up and
		// we treat the poll loop as budget for the guest's own boot and
		// network bring-up before SSH/vsock is attempted.
		return nil
	}
	return errors.New("vmm did not report Running before deadline")
}

// executeInGuest generates the shell script from the dispatch command,
// transfers it to the guest, and runs it over SSH, per spec.md §4.D
// "Executing".
func (b *Backend) executeInGuest(ctx context.Context, req backend.ExecutionRequest, cmd backend.LanguageCommand) (stdout, stderr string, exitCode int, err error) {
	script := generateScript(cmd, req.EnvVars, req.Input)

	sshCfg := b.Install.SSH
	if transport, ok := req.BackendConfig["transport"]; ok {
		sshCfg.Transport = transport
	}

	client, err := dialSSH(sshCfg, 10*time.Second)
	if err != nil {
		return "", "", -1, err
	}
	defer client.Close()

	remotePath := "/tmp/cylo-run.sh"
	if err := scpUpload(client, remotePath, []byte(script), 0o755); err != nil {
		return "", "", -1, err
	}

	return runScript(client, "sh "+remotePath)
}

func generateScript(cmd backend.LanguageCommand, env map[string]string, input string) string {
	var b []byte
	b = append(b, "#!/bin/sh\n"...)
	for k, v := range env {
		b = append(b, fmt.Sprintf("export %s=%q\n", k, v)...)
	}
	quoted := make([]string, len(cmd.Args))
	for i, a := range cmd.Args {
		quoted[i] = "'" + backend.EscapeSingleQuotes(a) + "'"
	}
	line := cmd.Program
	for _, q := range quoted {
		line += " " + q
	}
	if input != "" {
		b = append(b, fmt.Sprintf("%s <<'CYLO_STDIN'\n%s\nCYLO_STDIN\n", line, input)...)
	} else {
		b = append(b, line+"\n"...)
	}
	return string(b)
}

// fcMetricsSnapshot covers the subset of Firecracker's own newline-
// delimited JSON metrics emission (see the firecracker-go-sdk's
// MetricsFifo) that maps onto ResourceUsage. Firecracker's own metrics
// are VMM device-I/O counters, not guest-observed CPU time or working-set
// size — there is no field here for PeakMemory or CPUTimeMS, so
// collectMetrics leaves those at zero rather than inventing a number.
type fcMetricsSnapshot struct {
	Block struct {
		ReadBytes  uint64 `json:"read_bytes"`
		WriteBytes uint64 `json:"write_bytes"`
	} `json:"block"`
	Net struct {
		RxBytesCount uint64 `json:"rx_bytes_count"`
		TxBytesCount uint64 `json:"tx_bytes_count"`
	} `json:"net"`
}

// collectMetrics reads whatever Firecracker has flushed to the metrics
// FIFO configured in startMachine and maps the device I/O counters onto
// ResourceUsage, per spec.md §4.D "Collecting". Errors, a timeout, or an
// unparseable payload all degrade to a zero-valued usage rather than
// failing the run.
func (b *Backend) collectMetrics(ctx context.Context, v vm) backend.ResourceUsage {
	line, err := readLatestMetricsLine(v.metricsPath, metricsTimeout)
	if err != nil {
		log.WithError(err).Debug("firecracker metrics fifo unavailable, reporting zero usage")
		return backend.ResourceUsage{}
	}

	var snap fcMetricsSnapshot
	if err := json.Unmarshal(line, &snap); err != nil {
		log.WithError(err).Debug("firecracker metrics payload unparseable, reporting zero usage")
		return backend.ResourceUsage{}
	}

	return backend.ResourceUsage{
		DiskBytesRead:        snap.Block.ReadBytes,
		DiskBytesWritten:     snap.Block.WriteBytes,
		NetworkBytesReceived: snap.Net.RxBytesCount,
		NetworkBytesSent:     snap.Net.TxBytesCount,
	}
}

// readLatestMetricsLine opens the metrics FIFO the same way the SDK's own
// captureFifoToFile reads the log FIFO — a plain blocking open plus a
// reader goroutine, since a FIFO with no writer attached yet blocks an
// ordinary Open/Read — and returns the most recently flushed
// newline-delimited JSON snapshot within timeout.
func readLatestMetricsLine(path string, timeout time.Duration) ([]byte, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0o600)
	if err != nil {
		return nil, errors.Wrap(err, "opening metrics fifo")
	}
	defer f.Close()

	lines := make(chan []byte, 1)
	go func() {
		var last []byte
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			last = append([]byte(nil), scanner.Bytes()...)
		}
		lines <- last
	}()

	select {
	case last := <-lines:
		if len(last) == 0 {
			return nil, errors.New("no metrics flushed before deadline")
		}
		return last, nil
	case <-time.After(timeout):
		return nil, errors.New("timed out waiting for metrics fifo")
	}
}

// terminate performs spec.md §4.D "Terminating". The firecracker-go-sdk
// exposes no SendCtrlAltDel/graceful-shutdown call on Machine — StopVMM
// (SIGTERM to the VMM process) is the only stop primitive it provides —
// so that is the single step taken here before unlinking the socket,
// config, and log/metrics FIFOs.
func (b *Backend) terminate(v vm, machine *fcsdk.Machine) {
	if machine != nil {
		if err := machine.StopVMM(); err != nil {
			log.WithError(err).Debug("stopping vmm failed")
		}
	}

	os.Remove(v.socketPath)
	os.Remove(v.configPath)
	os.Remove(v.logPath)
	os.Remove(v.metricsPath)
}

// HealthCheck performs a cheap construction-time style validation rather
// than booting a full microVM on every probe.
func (b *Backend) HealthCheck(ctx context.Context) (backend.HealthStatus, error) {
	now := time.Now()
	if err := validateInstall(b.Install); err != nil {
		return backend.HealthStatus{IsHealthy: false, Message: err.Error(), LastCheck: now}, nil
	}
	return backend.HealthStatus{IsHealthy: true, Message: "ok", LastCheck: now}, nil
}

// Cleanup removes any leftover cylo- prefixed sockets/configs under the
// temp directory from a prior crashed run, per spec.md §4.D.
func (b *Backend) Cleanup(ctx context.Context) error {
	entries, err := os.ReadDir(os.TempDir())
	if err != nil {
		return errors.Wrap(err, "reading temp dir")
	}

	var firstErr error
	for _, e := range entries {
		name := e.Name()
		if len(name) < 5 || name[:5] != "cylo-" {
			continue
		}
		path := filepath.Join(os.TempDir(), name)
		if err := os.Remove(path); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var _ backend.ExecutionBackend = (*Backend)(nil)
