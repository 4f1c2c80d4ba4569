package firecracker

import "time"

// InstallConfig carries the paths validated at backend construction time,
// per spec.md §4.D ("Installation validation at backend construction:
// binary, kernel image, rootfs file, and /dev/kvm must all exist").
type InstallConfig struct {
	BinaryPath string
	KernelPath string
	RootfsPath string

	VCPUCount  int64
	MemSizeMiB int64

	// SSH carries the guest auth variant used to run the generated
	// script, per spec.md §4.D "Executing" and §6 SSH.
	SSH SSHConfig
}

// SSHConfig selects one of the three auth variants from spec.md §4.D:
// agent, private-key file, or password.
type SSHConfig struct {
	Host string
	Port int
	User string

	UseAgent       bool
	PrivateKeyPath string
	Password       string

	// Transport selects the guest channel: "tcp" (default) dials Host:Port
	// over the network the microVM's tap device is on; "vsock" dials the
	// guest directly over the Firecracker vsock device instead, per
	// SPEC_FULL.md §2's optional vsock transport.
	Transport string
	// VsockCID is the guest's 32-bit vsock Context ID, used only when
	// Transport is "vsock". Port is reused as the vsock port number.
	VsockCID uint32
}

const transportVsock = "vsock"

const (
	apiPollAttempts = 30
	apiPollInterval = time.Second

	configTimeout  = 30 * time.Second
	startTimeout   = 60 * time.Second
	stopTimeout    = 30 * time.Second
	metricsTimeout = 10 * time.Second
)
