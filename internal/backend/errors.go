package backend

import "fmt"

// ErrorKind is the error taxonomy from spec.md §7. It intentionally
// enumerates kinds rather than defining one Go type per kind, per the
// §9 design-notes guidance.
type ErrorKind int

const (
	KindNotAvailable ErrorKind = iota
	KindInvalidConfig
	KindUnsupportedLanguage
	KindResourceLimitExceeded
	KindExecutionTimeout
	KindProcessFailed
	KindContainerFailed
	KindFileSystemFailed
	KindNetworkFailed
	KindInternal

	// Manager-level kinds (§4.G/§7).
	KindInstanceConflict
	KindInstanceNotFound
	KindBackendUnavailable
	KindNoBackendAvailable
	KindInvalidConfiguration
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotAvailable:
		return "NotAvailable"
	case KindInvalidConfig:
		return "InvalidConfig"
	case KindUnsupportedLanguage:
		return "UnsupportedLanguage"
	case KindResourceLimitExceeded:
		return "ResourceLimitExceeded"
	case KindExecutionTimeout:
		return "ExecutionTimeout"
	case KindProcessFailed:
		return "ProcessFailed"
	case KindContainerFailed:
		return "ContainerFailed"
	case KindFileSystemFailed:
		return "FileSystemFailed"
	case KindNetworkFailed:
		return "NetworkFailed"
	case KindInternal:
		return "Internal"
	case KindInstanceConflict:
		return "InstanceConflict"
	case KindInstanceNotFound:
		return "InstanceNotFound"
	case KindBackendUnavailable:
		return "BackendUnavailable"
	case KindNoBackendAvailable:
		return "NoBackendAvailable"
	case KindInvalidConfiguration:
		return "InvalidConfiguration"
	default:
		return "Unknown"
	}
}

// Error is the structured error type carried across lifecycle operations
// (register, remove, health_check, cleanup_idle, shutdown) per spec.md
// §7. ExecuteCode never returns one of these to its caller — internal
// failures inside a run are folded into ExecutionResult.
type Error struct {
	Kind    ErrorKind
	Backend string
	Name    string // instance/resource name, when applicable
	Lang    string
	Seconds int
	Resource string
	Limit    string
	Details  string
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindUnsupportedLanguage:
		return fmt.Sprintf("unsupported language %q for backend %q", e.Lang, e.Backend)
	case KindExecutionTimeout:
		return fmt.Sprintf("execution timed out after %ds", e.Seconds)
	case KindResourceLimitExceeded:
		return fmt.Sprintf("resource limit exceeded: %s (limit %s)", e.Resource, e.Limit)
	case KindInstanceConflict:
		return fmt.Sprintf("instance already registered: %s", e.Name)
	case KindInstanceNotFound:
		return fmt.Sprintf("instance not found: %s", e.Name)
	case KindBackendUnavailable:
		return fmt.Sprintf("backend %q unavailable: %s", e.Backend, e.Details)
	case KindNoBackendAvailable:
		return "no backend available for request"
	case KindInvalidConfiguration:
		return "invalid routing configuration"
	default:
		if e.Details != "" {
			return fmt.Sprintf("%s: %s", e.Kind, e.Details)
		}
		return e.Kind.String()
	}
}

// Is supports errors.Is(err, &backend.Error{Kind: ...}) style comparisons
// by kind alone, which is the common case callers care about.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func NewUnsupportedLanguage(backendName, lang string) *Error {
	return &Error{Kind: KindUnsupportedLanguage, Backend: backendName, Lang: lang}
}

func NewExecutionTimeout(seconds int) *Error {
	return &Error{Kind: KindExecutionTimeout, Seconds: seconds}
}

func NewResourceLimitExceeded(resource, limit string) *Error {
	return &Error{Kind: KindResourceLimitExceeded, Resource: resource, Limit: limit}
}

func NewInvalidConfig(backendName, details string) *Error {
	return &Error{Kind: KindInvalidConfig, Backend: backendName, Details: details}
}

func NewInstanceConflict(name string) *Error {
	return &Error{Kind: KindInstanceConflict, Name: name}
}

func NewInstanceNotFound(name string) *Error {
	return &Error{Kind: KindInstanceNotFound, Name: name}
}

func NewBackendUnavailable(backendName, reason string) *Error {
	return &Error{Kind: KindBackendUnavailable, Backend: backendName, Details: reason}
}

// NewPlatformUnsupported reports a backend that is compiled in but has no
// way to function on the host's GOOS, e.g. WindowsJob on linux/darwin.
func NewPlatformUnsupported(backendName, requiredOS string) *Error {
	return &Error{Kind: KindNotAvailable, Backend: backendName, Details: "requires " + requiredOS}
}
