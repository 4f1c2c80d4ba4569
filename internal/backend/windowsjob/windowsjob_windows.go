//go:build windows

// Package windowsjob implements the Windows Job Object backend described
// in spec.md §4.F: each execution creates a Job Object with
// kill_on_job_close, assigns the spawned child to it, and applies
// memory/CPU-time/process-count limits via a single atomic
// SetInformationJobObject call.
package windowsjob

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"
	"unsafe"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sys/windows"

	"github.com/cyrup-ai/cylo-go/internal/backend"
	"github.com/cyrup-ai/cylo-go/internal/logging"
)

var log = logging.For("windowsjob")

// Backend is the Windows Job Object driver.
type Backend struct {
	backend.Base

	WorkspaceName string
}

func New(workspaceName string, cfg backend.Config) (*Backend, error) {
	if workspaceName == "" {
		return nil, backend.NewInvalidConfig("WindowsJob", "workspace name is required")
	}
	return &Backend{
		Base:          backend.Base{Type: "WindowsJob", Config: cfg},
		WorkspaceName: workspaceName,
	}, nil
}

// ExecuteCode writes the code to a temp directory, invokes the language
// runtime directly (compiling first for rust), and runs the child inside
// a freshly created Job Object with kill_on_job_close, per spec.md §4.F.
func (b *Backend) ExecuteCode(ctx context.Context, req backend.ExecutionRequest) (backend.ExecutionResult, error) {
	if err := req.Validate(); err != nil {
		return backend.Failure(b.Type, err.Error()), nil
	}

	argv, err := b.prepareCommand(req)
	if err != nil {
		return backend.Failure(b.Type, err.Error()), nil
	}

	job, err := newJobObject(fmt.Sprintf("cylo-%s", uuid.NewString()))
	if err != nil {
		return backend.Failure(b.Type, "failed to create job object: "+err.Error()), nil
	}
	defer job.Close()

	if err := job.applyLimits(req.Limits); err != nil {
		return backend.Failure(b.Type, "failed to apply job limits: "+err.Error()), nil
	}

	start := time.Now()
	child := exec.Command(argv[0], argv[1:]...)
	child.Env = envSlice(req.EnvVars)

	var stdout, stderr bytes.Buffer
	child.Stdout = &stdout
	child.Stderr = &stderr
	const createSuspended = 0x00000004
	child.SysProcAttr = &windows.SysProcAttr{CreationFlags: createSuspended}

	if err := child.Start(); err != nil {
		return backend.Failure(b.Type, "failed to start process: "+err.Error()), nil
	}

	if err := job.assign(child.Process.Pid); err != nil {
		child.Process.Kill()
		return backend.Failure(b.Type, "failed to assign process to job: "+err.Error()), nil
	}
	resumeThread(child.Process.Pid)

	done := make(chan error, 1)
	go func() { done <- child.Wait() }()

	var waitErr error
	timedOut := false

	select {
	case waitErr = <-done:
	case <-time.After(req.Timeout):
		timedOut = true
		job.terminate(1)
		<-done
	case <-ctx.Done():
		timedOut = true
		job.terminate(1)
		<-done
	}

	duration := time.Since(start)

	if timedOut {
		berr := backend.NewExecutionTimeout(int(req.Timeout.Seconds()))
		res := backend.Failure(b.Type, berr.Error())
		res.Duration = duration
		return res, nil
	}

	exitCode := -1
	if waitErr == nil {
		exitCode = 0
	} else if exitErr, ok := waitErr.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	}

	usage := job.usage()

	return backend.ExecutionResult{
		ExitCode:      exitCode,
		Stdout:        stdout.String(),
		Stderr:        stderr.String(),
		Duration:      duration,
		ResourceUsage: usage,
		Metadata: map[string]string{
			"backend": b.Type,
		},
	}, nil
}

// prepareCommand writes the source file and builds the argv per spec.md
// §4.F: python/node/powershell invoked directly, rust compiled first.
func (b *Backend) prepareCommand(req backend.ExecutionRequest) ([]string, error) {
	dir, err := os.MkdirTemp("", "cylo-winjob-*")
	if err != nil {
		return nil, errors.Wrap(err, "creating temp dir")
	}

	switch req.Language {
	case "python", "python3":
		path := filepath.Join(dir, "main.py")
		if err := os.WriteFile(path, []byte(req.Code), 0o644); err != nil {
			return nil, err
		}
		return []string{"python", path}, nil

	case "javascript", "js", "node":
		path := filepath.Join(dir, "main.js")
		if err := os.WriteFile(path, []byte(req.Code), 0o644); err != nil {
			return nil, err
		}
		return []string{"node", path}, nil

	case "bash", "sh":
		path := filepath.Join(dir, "main.ps1")
		if err := os.WriteFile(path, []byte(req.Code), 0o644); err != nil {
			return nil, err
		}
		return []string{"powershell", "-File", path}, nil

	case "rust":
		srcPath := filepath.Join(dir, "main.rs")
		if err := os.WriteFile(srcPath, []byte(req.Code), 0o644); err != nil {
			return nil, err
		}
		exePath := filepath.Join(dir, "main.exe")
		compile := exec.Command("rustc", srcPath, "-o", exePath)
		var stderr bytes.Buffer
		compile.Stderr = &stderr
		if err := compile.Run(); err != nil {
			return nil, errors.New("rustc compilation failed: " + stderr.String())
		}
		return []string{exePath}, nil

	case "go":
		path := filepath.Join(dir, "main.go")
		if err := os.WriteFile(path, []byte(req.Code), 0o644); err != nil {
			return nil, err
		}
		return []string{"go", "run", path}, nil

	default:
		berr := backend.NewUnsupportedLanguage(b.Type, req.Language)
		return nil, berr
	}
}

func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return append(out, os.Environ()...)
}

func resumeThread(pid int) {
	h, err := windows.OpenThread(windows.THREAD_SUSPEND_RESUME, false, uint32(pid))
	if err != nil {
		return
	}
	defer windows.CloseHandle(h)
	windows.ResumeThread(h)
}

func (b *Backend) HealthCheck(ctx context.Context) (backend.HealthStatus, error) {
	now := time.Now()
	job, err := newJobObject(fmt.Sprintf("cylo-health-%s", uuid.NewString()))
	if err != nil {
		return backend.HealthStatus{IsHealthy: false, Message: err.Error(), LastCheck: now}, nil
	}
	defer job.Close()
	return backend.HealthStatus{IsHealthy: true, Message: "ok", LastCheck: now}, nil
}

func (b *Backend) Cleanup(ctx context.Context) error {
	return nil
}

var _ backend.ExecutionBackend = (*Backend)(nil)

// jobObject wraps a Windows Job Object handle with kill_on_job_close
// semantics and the limit-application helpers below.
type jobObject struct {
	handle windows.Handle
	name   string
}

func newJobObject(name string) (*jobObject, error) {
	namePtr, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return nil, err
	}

	h, err := windows.CreateJobObject(nil, namePtr)
	if err != nil {
		return nil, err
	}

	info := windows.JOBOBJECT_EXTENDED_LIMIT_INFORMATION{
		BasicLimitInformation: windows.JOBOBJECT_BASIC_LIMIT_INFORMATION{
			LimitFlags: windows.JOB_OBJECT_LIMIT_KILL_ON_JOB_CLOSE,
		},
	}
	if _, err := windows.SetInformationJobObject(
		h,
		windows.JobObjectExtendedLimitInformation,
		uintptr(unsafe.Pointer(&info)),
		uint32(unsafe.Sizeof(info)),
	); err != nil {
		windows.CloseHandle(h)
		return nil, err
	}

	return &jobObject{handle: h, name: name}, nil
}

// applyLimits maps ResourceLimits to a single JOBOBJECT_EXTENDED_LIMIT_INFORMATION
// update, per spec.md §4.F: "all basic limits are applied in a single
// information-class update (the limit-flags field is replacing, not
// additive)".
func (j *jobObject) applyLimits(limits backend.ResourceLimits) error {
	var info windows.JOBOBJECT_EXTENDED_LIMIT_INFORMATION
	info.BasicLimitInformation.LimitFlags = windows.JOB_OBJECT_LIMIT_KILL_ON_JOB_CLOSE

	if limits.MaxMemory != nil {
		max := *limits.MaxMemory
		info.ProcessMemoryLimit = uintptr(max)
		info.BasicLimitInformation.LimitFlags |= windows.JOB_OBJECT_LIMIT_PROCESS_MEMORY
	}
	if limits.MaxCPUTime != nil {
		// 100-nanosecond units, per spec.md §4.F / §6.
		hundredNs := uint64(limits.MaxCPUTime.Nanoseconds() / 100)
		info.BasicLimitInformation.PerJobUserTimeLimit = int64(hundredNs)
		info.BasicLimitInformation.LimitFlags |= windows.JOB_OBJECT_LIMIT_JOB_TIME
	}
	if limits.MaxProcesses != nil {
		info.BasicLimitInformation.ActiveProcessLimit = *limits.MaxProcesses
		info.BasicLimitInformation.LimitFlags |= windows.JOB_OBJECT_LIMIT_ACTIVE_PROCESS
	}

	_, err := windows.SetInformationJobObject(
		j.handle,
		windows.JobObjectExtendedLimitInformation,
		uintptr(unsafe.Pointer(&info)),
		uint32(unsafe.Sizeof(info)),
	)
	return err
}

func (j *jobObject) assign(pid int) error {
	h, err := windows.OpenProcess(windows.PROCESS_ALL_ACCESS, false, uint32(pid))
	if err != nil {
		return err
	}
	defer windows.CloseHandle(h)
	return windows.AssignProcessToJobObject(j.handle, h)
}

func (j *jobObject) terminate(exitCode uint32) {
	windows.TerminateJobObject(j.handle, exitCode)
}

func (j *jobObject) usage() backend.ResourceUsage {
	var ioInfo windows.JOBOBJECT_BASIC_AND_IO_ACCOUNTING_INFORMATION
	windows.QueryInformationJobObject(
		j.handle,
		windows.JobObjectBasicAndIoAccountingInformation,
		uintptr(unsafe.Pointer(&ioInfo)),
		uint32(unsafe.Sizeof(ioInfo)),
		nil,
	)

	var extInfo windows.JOBOBJECT_EXTENDED_LIMIT_INFORMATION
	windows.QueryInformationJobObject(
		j.handle,
		windows.JobObjectExtendedLimitInformation,
		uintptr(unsafe.Pointer(&extInfo)),
		uint32(unsafe.Sizeof(extInfo)),
		nil,
	)

	totalTimeNS := (ioInfo.BasicInfo.TotalUserTime + ioInfo.BasicInfo.TotalKernelTime) * 100
	otherTransferCount := ioInfo.IoInfo.OtherTransferCount

	return backend.ResourceUsage{
		CPUTimeMS:            uint64(totalTimeNS / 1_000_000),
		ProcessCount:         uint32(ioInfo.BasicInfo.ActiveProcesses),
		DiskBytesRead:        ioInfo.IoInfo.ReadTransferCount,
		DiskBytesWritten:     ioInfo.IoInfo.WriteTransferCount,
		PeakMemory:           uint64(extInfo.PeakProcessMemoryUsed),
		NetworkBytesSent:     otherTransferCount / 2,
		NetworkBytesReceived: otherTransferCount / 2,
	}
}

func (j *jobObject) Close() error {
	return windows.CloseHandle(j.handle)
}
