package backend

import "strings"

// Kind identifies which isolation primitive a Cylo environment targets.
type Kind string

const (
	KindLandLock     Kind = "landlock"
	KindFirecracker  Kind = "firecracker"
	KindApple        Kind = "apple"
	KindWindowsJob   Kind = "windowsjob"
	KindSweetMcp     Kind = "sweetmcpplugin"
)

// Cylo is the tagged-union environment descriptor from spec.md §3. Exactly
// one of the fields is meaningful, selected by Kind.
type Cylo struct {
	Kind Kind

	// LandLock
	JailPath string

	// Firecracker / Apple share an "image" concept but mean different
	// things by it (a Firecracker rootfs image path vs. an Apple
	// container image reference).
	Image string

	// WindowsJob
	WorkspaceName string

	// SweetMcpPlugin (out of scope collaborator, see spec.md §1; kept
	// only so the variant set is complete and routing never panics on
	// an externally-supplied Cylo value).
	PluginPath string
}

// CyloInstance pairs an environment descriptor with the name it is
// registered under in the instance manager.
type CyloInstance struct {
	Env  Cylo
	Name string
}

// ID is the process-wide-unique instance manager key: lowercase(kind) +
// "_" + name.
func (c CyloInstance) ID() string {
	return strings.ToLower(string(c.Env.Kind)) + "_" + c.Name
}
