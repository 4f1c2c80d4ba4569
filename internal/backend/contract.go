package backend

import "context"

// ExecutionBackend is the contract every isolation driver implements, per
// spec.md §4.B. All operations are safe for concurrent use once
// constructed; backends are immutable after construction and shared by
// handle (see spec.md §9).
type ExecutionBackend interface {
	// ExecuteCode runs a request to completion and always returns a
	// result — internal failures are mapped to Failure(), never
	// returned as a Go error. The only Go error this can return is one
	// that indicates the caller's context was canceled/timed out before
	// the backend could even begin, which callers treat identically to
	// an ExecutionTimeout result.
	ExecuteCode(ctx context.Context, req ExecutionRequest) (ExecutionResult, error)

	// HealthCheck is a fast, non-destructive probe; it may run a
	// trivial canary program.
	HealthCheck(ctx context.Context) (HealthStatus, error)

	// Cleanup reclaims dangling artifacts owned by this instance or by
	// a prior crashed run of the same family.
	Cleanup(ctx context.Context) error

	// BackendType returns the stable identifier used in
	// ExecutionResult.Metadata["backend"].
	BackendType() string

	SupportsLanguage(lang string) bool
	SupportedLanguages() []string

	GetConfig() Config
}
