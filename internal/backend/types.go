// Package backend defines the execution backend contract shared by every
// isolation driver (LandLock, Firecracker, Apple, WindowsJob): the request
// and result types, resource limits, health status, and the ExecutionBackend
// interface itself.
package backend

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ExecutionRequest is the immutable input to a backend's ExecuteCode.
type ExecutionRequest struct {
	Code           string
	Language       string
	Input          string
	EnvVars        map[string]string
	WorkingDir     string
	Timeout        time.Duration
	Limits         ResourceLimits
	BackendConfig  map[string]string
}

// NewExecutionRequest builds a request with defaults for everything but
// code and language. Language is canonically lower-cased here, matching
// spec.md's invariant that dispatch always sees a lower-case language.
func NewExecutionRequest(code, language string) ExecutionRequest {
	return ExecutionRequest{
		Code:          code,
		Language:      strings.ToLower(language),
		EnvVars:       map[string]string{},
		BackendConfig: map[string]string{},
		Timeout:       30 * time.Second,
	}
}

// WithInput returns a copy of the request with Input set.
func (r ExecutionRequest) WithInput(input string) ExecutionRequest {
	r.Input = input
	return r
}

// WithEnv returns a copy of the request with an env var set. The EnvVars
// map is copied so sibling requests never alias each other's mutations.
func (r ExecutionRequest) WithEnv(key, value string) ExecutionRequest {
	cp := make(map[string]string, len(r.EnvVars)+1)
	for k, v := range r.EnvVars {
		cp[k] = v
	}
	cp[key] = value
	r.EnvVars = cp
	return r
}

// WithTimeout returns a copy of the request with Timeout set.
func (r ExecutionRequest) WithTimeout(d time.Duration) ExecutionRequest {
	r.Timeout = d
	return r
}

// WithLimits returns a copy of the request with Limits set.
func (r ExecutionRequest) WithLimits(limits ResourceLimits) ExecutionRequest {
	r.Limits = limits
	return r
}

// Validate enforces the invariants from spec.md §3: timeout must be
// positive and limits must not contain an explicit zero.
func (r ExecutionRequest) Validate() error {
	if r.Timeout <= 0 {
		return errors.New("timeout must be greater than zero")
	}
	return r.Limits.Validate()
}

// ResourceLimits bounds what a single execution may consume. A nil
// pointer field means "no limit"; Some(0) is always invalid.
type ResourceLimits struct {
	MaxMemory            *uint64
	MaxCPUTime            *time.Duration
	MaxProcesses          *uint32
	MaxFileSize           *uint64
	MaxNetworkBandwidth   *uint64
}

// Validate rejects any explicit-zero bound.
func (l ResourceLimits) Validate() error {
	if l.MaxMemory != nil && *l.MaxMemory == 0 {
		return errors.New("max_memory must not be zero")
	}
	if l.MaxCPUTime != nil && *l.MaxCPUTime == 0 {
		return errors.New("max_cpu_time must not be zero")
	}
	if l.MaxProcesses != nil && *l.MaxProcesses == 0 {
		return errors.New("max_processes must not be zero")
	}
	if l.MaxFileSize != nil && *l.MaxFileSize == 0 {
		return errors.New("max_file_size must not be zero")
	}
	if l.MaxNetworkBandwidth != nil && *l.MaxNetworkBandwidth == 0 {
		return errors.New("max_network_bandwidth must not be zero")
	}
	return nil
}

// ResourceUsage is the post-run telemetry snapshot. All fields are
// non-negative counters; the zero value is the default for a run that
// never started monitoring.
type ResourceUsage struct {
	PeakMemory         uint64
	CPUTimeMS          uint64
	ProcessCount       uint32
	DiskBytesWritten   uint64
	DiskBytesRead      uint64
	NetworkBytesSent   uint64
	NetworkBytesReceived uint64
}

// ExecutionResult is the immutable output of a backend run. ExitCode -1
// is reserved for "no status available" (the backend never observed a
// real exit). Success is defined as ExitCode == 0.
type ExecutionResult struct {
	ExitCode      int
	Stdout        string
	Stderr        string
	Duration      time.Duration
	ResourceUsage ResourceUsage
	Metadata      map[string]string
}

// Success reports whether the run completed with exit code zero.
func (r ExecutionResult) Success() bool {
	return r.ExitCode == 0
}

// Failure builds the canonical failed-run result: exit code -1 (no
// status) with stderr carrying a human-readable message. Per spec.md
// §4.B, ExecuteCode never returns a Go error for an execution failure —
// failures are folded into the result itself.
func Failure(backendName, message string) ExecutionResult {
	return ExecutionResult{
		ExitCode: -1,
		Stderr:   message,
		Metadata: map[string]string{"backend": backendName},
	}
}

// HealthStatus reports whether a backend instance is fit to serve
// requests right now.
type HealthStatus struct {
	IsHealthy bool
	Message   string
	LastCheck time.Time
	Metrics   map[string]string
}

// Config is the static configuration for one backend instance.
type Config struct {
	Name            string
	Enabled         bool
	DefaultTimeout  time.Duration
	DefaultLimits   ResourceLimits
	BackendSpecific map[string]string
}
