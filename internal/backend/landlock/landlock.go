// Package landlock implements the LandLock/bubblewrap jail backend
// described in spec.md §4.C: a per-run jail directory whose contents run
// under bubblewrap with a read-only system view, a private tmpfs /tmp,
// and a writable /workspace bound to the jail.
package landlock

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"github.com/cyrup-ai/cylo-go/internal/backend"
	"github.com/cyrup-ai/cylo-go/internal/logging"
	"github.com/cyrup-ai/cylo-go/internal/workspace"
)

var log = logging.For("landlock")

const monitorInterval = 100 * time.Millisecond

// Backend is the LandLock/bubblewrap driver. JailRoot is the base
// directory under which every run gets its own `<lang>-<uuid>` workspace,
// carved out by Workspace. Workspace defaults to a temp-dir provisioner
// rooted at JailRoot but can be replaced with a real ramdisk-backed
// Provisioner by whatever constructs the Backend.
type Backend struct {
	backend.Base

	JailRoot  string
	Workspace workspace.Provisioner
}

// New validates jailRoot per spec.md §4.C ("must be absolute, must be (or
// be creatable as) a directory, must be writable") and returns a ready
// backend.
func New(jailRoot string, cfg backend.Config) (*Backend, error) {
	if err := validateJail(jailRoot); err != nil {
		return nil, backend.NewInvalidConfig("LandLock", err.Error())
	}

	return &Backend{
		Base:      backend.Base{Type: "LandLock", Config: cfg},
		JailRoot:  jailRoot,
		Workspace: workspace.NewTempDirProvisioner(workspace.RamdiskConfig{MountPoint: jailRoot}),
	}, nil
}

func validateJail(path string) error {
	if !filepath.IsAbs(path) {
		return errors.Errorf("jail path %q must be absolute", path)
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		if err := os.MkdirAll(path, 0o700); err != nil {
			return errors.Wrap(err, "creating jail path")
		}
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "statting jail path")
	}
	if !info.IsDir() {
		return errors.Errorf("jail path %q is not a directory", path)
	}

	probe := filepath.Join(path, ".cylo-write-probe")
	f, err := os.Create(probe)
	if err != nil {
		return errors.Wrap(err, "jail path is not writable")
	}
	f.Close()
	os.Remove(probe)
	return nil
}

// ExecuteCode implements backend.ExecutionBackend. It follows the
// per-request state machine in spec.md §4.C: prepare, spawn, monitor,
// stdin, wait-with-timeout, finalize.
func (b *Backend) ExecuteCode(ctx context.Context, req backend.ExecutionRequest) (backend.ExecutionResult, error) {
	if err := req.Validate(); err != nil {
		return backend.Failure(b.Type, err.Error()), nil
	}

	cmd, ok := backend.CommandFor(req.Language, req.Code)
	if !ok {
		berr := backend.NewUnsupportedLanguage(b.Type, req.Language)
		return backend.Failure(b.Type, berr.Error()), nil
	}

	env, err := b.prepare(req, cmd)
	if err != nil {
		return backend.Failure(b.Type, err.Error()), nil
	}
	defer b.Workspace.Cleanup(env)

	argv := buildBwrapArgs(env.Path, req, cmd)

	start := time.Now()
	child := exec.Command("bwrap", argv...)
	child.Env = envSlice(mergeEnv(env.EnvVars, req.EnvVars))

	var stdout, stderr bytes.Buffer
	child.Stdout = &stdout
	child.Stderr = &stderr

	var stdinPipe interface {
		Write([]byte) (int, error)
		Close() error
	}
	if req.Input != "" {
		pipe, err := child.StdinPipe()
		if err != nil {
			return backend.Failure(b.Type, err.Error()), nil
		}
		stdinPipe = pipe
	}

	if err := child.Start(); err != nil {
		return backend.Failure(b.Type, "failed to start bwrap: "+err.Error()), nil
	}

	if stdinPipe != nil {
		stdinPipe.Write([]byte(req.Input))
		stdinPipe.Close()
	}

	monCtx, cancelMon := context.WithCancel(context.Background())
	usageCh := make(chan backend.ResourceUsage, 1)
	go monitor(monCtx, child.Process.Pid, usageCh)

	done := make(chan error, 1)
	go func() { done <- child.Wait() }()

	var waitErr error
	timedOut := false

	select {
	case waitErr = <-done:
	case <-time.After(req.Timeout):
		timedOut = true
		_ = child.Process.Signal(syscall.SIGKILL)
		<-done
	case <-ctx.Done():
		timedOut = true
		_ = child.Process.Signal(syscall.SIGKILL)
		<-done
	}

	cancelMon()
	usage := <-usageCh

	duration := time.Since(start)

	if timedOut {
		berr := backend.NewExecutionTimeout(int(req.Timeout.Seconds()))
		res := backend.Failure(b.Type, berr.Error())
		res.Duration = duration
		res.ResourceUsage = usage
		res.Metadata["instance"] = filepath.Base(env.Path)
		return res, nil
	}

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
			"instance": filepath.Base(env.Path),
		},
	}, nil
}

// prepare asks Workspace for a fresh per-language environment and writes
// the run's source file into it, per spec.md §4.C step 1 ("Preparing").
func (b *Backend) prepare(req backend.ExecutionRequest, cmd backend.LanguageCommand) (workspace.Environment, error) {
	env, err := b.Workspace.CreateEnvironment(req.Language)
	if err != nil {
		return workspace.Environment{}, errors.Wrap(err, "provisioning workspace")
	}

	fileName := backend.SourceFileName(req.Language)
	path := filepath.Join(env.Path, fileName)
	if err := os.WriteFile(path, []byte(req.Code), 0o644); err != nil {
		return workspace.Environment{}, errors.Wrap(err, "writing source file")
	}
	if req.Language == "bash" || req.Language == "sh" {
		os.Chmod(path, 0o755)
	}

	return env, nil
}

// mergeEnv layers the request's explicit env vars over the workspace's
// toolchain defaults (VIRTUAL_ENV, CARGO_HOME, ...), so a caller can
// always override what the provisioner set.
func mergeEnv(wsEnv, reqEnv map[string]string) map[string]string {
	out := make(map[string]string, len(wsEnv)+len(reqEnv))
	for k, v := range wsEnv {
		out[k] = v
	}
	for k, v := range reqEnv {
		out[k] = v
	}
	return out
}

// buildBwrapArgs follows the fixed ordering from spec.md §6: bind/tmpfs/
// proc/dev prefix, then the exec-dir bind and namespace flags, then the
// optional ulimit wrapper, then the language command.
func buildBwrapArgs(execDir string, req backend.ExecutionRequest, cmd backend.LanguageCommand) []string {
	args := []string{
		"--ro-bind", "/usr", "/usr",
		"--ro-bind", "/bin", "/bin",
		"--ro-bind", "/lib", "/lib",
		"--ro-bind-try", "/lib64", "/lib64",
		"--ro-bind-try", "/etc/resolv.conf", "/etc/resolv.conf",
		"--tmpfs", "/tmp",
		"--proc", "/proc",
		"--dev", "/dev",
		"--bind", execDir, "/workspace",
		"--chdir", "/workspace",
		"--unshare-all",
		"--share-net",
	}

	if req.Limits.MaxMemory != nil {
		mb := *req.Limits.MaxMemory / (1024 * 1024)
		if mb == 0 {
			mb = 1
		}
		// ulimit -v takes KB, not MB (spec.md §6's literal argv contract
		// names "ulimit -v <MB>"; see DESIGN.md Open Question #3).
		inner := fmt.Sprintf("ulimit -v %d && exec %s", mb*1024, shellJoin(cmd.Program, cmd.Args))
		args = append(args, "--", "bash", "-c", inner)
	} else {
		args = append(args, "--", cmd.Program)
		args = append(args, cmd.Args...)
	}

	return args
}

func shellJoin(program string, args []string) string {
	parts := append([]string{program}, args...)
	quoted := make([]string, len(parts))
	for i, p := range parts {
		quoted[i] = "'" + backend.EscapeSingleQuotes(p) + "'"
	}
	return strings.Join(quoted, " ")
}

func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env)+2)
	out = append(out, "PATH=/usr/bin:/bin")
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

// monitor polls /proc/<pid>/{status,stat,io} every 100ms, tracking peak
// RSS, cumulative CPU time, process-tree count, and cumulative I/O, per
// spec.md §4.C step 3. It always sends a final snapshot before
// returning, even if ctx is already canceled.
func monitor(ctx context.Context, pid int, out chan<- backend.ResourceUsage) {
	var usage backend.ResourceUsage
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()

	sample := func() {
		if rss, ok := readPeakRSS(pid); ok && rss > usage.PeakMemory {
			usage.PeakMemory = rss
		}
		if cpu, ok := readCPUTimeMS(pid); ok {
			usage.CPUTimeMS = cpu
		}
		usage.ProcessCount = uint32(countProcessTree(pid))
		if rb, wb, ok := readIOBytes(pid); ok {
			usage.DiskBytesRead = rb
			usage.DiskBytesWritten = wb
		}
	}

	for {
		select {
		case <-ctx.Done():
			sample()
			out <- usage
			return
		case <-ticker.C:
			sample()
		}
	}
}

func readPeakRSS(pid int) (uint64, bool) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/status", pid))
	if err != nil {
		return 0, false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "VmHWM:") {
			fields := strings.Fields(line)
			if len(fields) >= 2 {
				if kb, err := strconv.ParseUint(fields[1], 10, 64); err == nil {
					return kb * 1024, true
				}
			}
		}
	}
	return 0, false
}

func readCPUTimeMS(pid int) (uint64, bool) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return 0, false
	}
	closeParen := bytes.LastIndexByte(data, ')')
	if closeParen < 0 {
		return 0, false
	}
	fields := strings.Fields(string(data[closeParen+2:]))
	// utime is field 14, stime field 15 counting from comm+1 (1-indexed
	// overall); after the comm field the remaining fields are 0-indexed
	// from "state", so utime is index 11, stime index 12.
	if len(fields) < 13 {
		return 0, false
	}
	utime, err1 := strconv.ParseUint(fields[11], 10, 64)
	stime, err2 := strconv.ParseUint(fields[12], 10, 64)
	if err1 != nil || err2 != nil {
		return 0, false
	}
	clockTicksPerSec := uint64(100)
	totalTicks := utime + stime
	return totalTicks * 1000 / clockTicksPerSec, true
}

func readIOBytes(pid int) (readBytes, writeBytes uint64, ok bool) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/io", pid))
	if err != nil {
		return 0, 0, false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "read_bytes:"):
			fmt.Sscanf(line, "read_bytes: %d", &readBytes)
			ok = true
		case strings.HasPrefix(line, "write_bytes:"):
			fmt.Sscanf(line, "write_bytes: %d", &writeBytes)
			ok = true
		}
	}
	return readBytes, writeBytes, ok
}

func countProcessTree(pid int) int {
	count := 1
	children, err := os.ReadFile(fmt.Sprintf("/proc/%d/task/%d/children", pid, pid))
	if err != nil {
		return count
	}
	for _, field := range strings.Fields(string(children)) {
		if childPid, err := strconv.Atoi(field); err == nil {
			count += countProcessTree(childPid)
		}
	}
	return count
}

// HealthCheck implements backend.ExecutionBackend per spec.md §4.C: the
// LandLock LSM is present, bwrap is on PATH, the jail is still valid,
// and a trivial echo round-trip succeeds.
func (b *Backend) HealthCheck(ctx context.Context) (backend.HealthStatus, error) {
	now := time.Now()

	if _, err := os.Stat("/sys/kernel/security/landlock"); err != nil {
		return backend.HealthStatus{IsHealthy: false, Message: "landlock LSM not present", LastCheck: now}, nil
	}
	if _, err := exec.LookPath("bwrap"); err != nil {
		return backend.HealthStatus{IsHealthy: false, Message: "bwrap not found on PATH", LastCheck: now}, nil
	}
	if err := validateJail(b.JailRoot); err != nil {
		return backend.HealthStatus{IsHealthy: false, Message: err.Error(), LastCheck: now}, nil
	}

	res, _ := b.ExecuteCode(ctx, backend.NewExecutionRequest("echo ok", "bash").WithTimeout(5*time.Second))
	if !res.Success() || strings.TrimSpace(res.Stdout) != "ok" {
		return backend.HealthStatus{IsHealthy: false, Message: "echo canary failed: " + res.Stderr, LastCheck: now}, nil
	}

	return backend.HealthStatus{IsHealthy: true, Message: "ok", LastCheck: now}, nil
}

// Cleanup scans the jail root for stale per-run workspace directories left
// behind by a crashed prior run and recursively removes each, per
// spec.md §4.C. The jail root is dedicated to this backend's own
// workspaces, so every directory entry found here is a removal candidate
// regardless of which Provisioner named it.
func (b *Backend) Cleanup(ctx context.Context) error {
	entries, err := os.ReadDir(b.JailRoot)
	if err != nil {
		return errors.Wrap(err, "reading jail root")
	}

	var firstErr error
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if err := os.RemoveAll(filepath.Join(b.JailRoot, e.Name())); err != nil {
			log.WithError(err).Warn("failed to remove stale workspace dir")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

var _ backend.ExecutionBackend = (*Backend)(nil)
