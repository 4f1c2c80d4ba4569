package platform

import (
	"bufio"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/cyrup-ai/cylo-go/internal/logging"
)

var log = logging.For("platform")

const landlockSysfsDir = "/sys/kernel/security/landlock"

// Detect builds a fresh Info snapshot describing the host. Detection
// never fails per spec.md §4.A: missing features yield Available=false
// with a human-readable Reason.
func Detect() Info {
	info := Info{
		OS:         detectOS(),
		Arch:       detectArch(),
		DetectedAt: time.Now(),
	}

	info.HasKVM = fileExists("/dev/kvm")
	info.HasLandLock, info.LandLockABI = detectLandLock()
	info.HasHypervisorFW = info.OS == OSMacOS
	info.ContainerCLIs = detectContainerCLIs()
	info.TmpdirInMemory = detectTmpdirInMemory()

	info.Backends = []BackendAvailability{
		appleAvailability(info),
		landlockAvailability(info),
		firecrackerAvailability(info),
		windowsJobAvailability(info),
	}

	return info
}

func appleAvailability(info Info) BackendAvailability {
	avail := info.OS == OSMacOS && info.Arch == ArchArm64
	reason := ""
	if !avail {
		reason = "requires macOS on Arm64"
	}
	return BackendAvailability{Name: "Apple", Available: avail, Reason: reason, PerformanceRating: 95}
}

func landlockAvailability(info Info) BackendAvailability {
	avail := info.OS == OSLinux && info.HasLandLock
	reason := ""
	switch {
	case info.OS != OSLinux:
		reason = "requires Linux"
	case !info.HasLandLock:
		reason = "landlock LSM not present (" + landlockSysfsDir + " missing)"
	}
	return BackendAvailability{Name: "LandLock", Available: avail, Reason: reason, PerformanceRating: 85}
}

func firecrackerAvailability(info Info) BackendAvailability {
	avail := info.OS == OSLinux && info.HasKVM
	reason := ""
	switch {
	case info.OS != OSLinux:
		reason = "requires Linux"
	case !info.HasKVM:
		reason = "/dev/kvm not present"
	}
	return BackendAvailability{Name: "Firecracker", Available: avail, Reason: reason, PerformanceRating: 90}
}

func windowsJobAvailability(info Info) BackendAvailability {
	avail := info.OS == OSWindows
	reason := ""
	if !avail {
		reason = "requires Windows"
	}
	return BackendAvailability{Name: "WindowsJob", Available: avail, Reason: reason, PerformanceRating: 80}
}

func detectOS() OS {
	switch runtime.GOOS {
	case "linux":
		return OSLinux
	case "darwin":
		return OSMacOS
	case "windows":
		return OSWindows
	default:
		return OSUnknown
	}
}

func detectArch() Arch {
	switch runtime.GOARCH {
	case "arm64":
		return ArchArm64
	case "amd64":
		return ArchX86_64
	case "arm":
		return ArchArm
	case "386":
		return ArchX86
	default:
		return ArchUnknown
	}
}

func detectLandLock() (bool, int) {
	if !fileExists(landlockSysfsDir) {
		return false, 0
	}

	versionPath := landlockSysfsDir + "/version"
	f, err := os.Open(versionPath)
	if err != nil {
		return true, 0
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if scanner.Scan() {
		if v, err := strconv.Atoi(strings.TrimSpace(scanner.Text())); err == nil {
			return true, v
		}
	}
	return true, 0
}

func detectContainerCLIs() []string {
	candidates := []string{"docker", "podman", "container"}
	var found []string
	for _, bin := range candidates {
		cmd := exec.Command(bin, "--version")
		cmd.Stdout = nil
		cmd.Stderr = nil
		if err := cmd.Run(); err == nil {
			found = append(found, bin)
		}
	}
	return found
}

func detectTmpdirInMemory() bool {
	// A tmpfs-backed /tmp is the common case on Linux distros and macOS;
	// a cheap heuristic rather than a stat of the mount table, matching
	// the "hint" framing in spec.md §3 (capability flags, not guarantees).
	return runtime.GOOS == "linux" || runtime.GOOS == "darwin"
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// IsAppleSilicon is a convenience predicate from spec.md §4.A.
func IsAppleSilicon(info Info) bool {
	return info.OS == OSMacOS && info.Arch == ArchArm64
}

// HasKVM is a convenience predicate from spec.md §4.A.
func HasKVM(info Info) bool {
	return info.HasKVM
}

// HasLandLock is a convenience predicate from spec.md §4.A.
func HasLandLock(info Info) bool {
	return info.HasLandLock
}

// AvailableBackends returns the names of every backend viable on this
// host.
func AvailableBackends(info Info) []string {
	var names []string
	for _, b := range info.Backends {
		if b.Available {
			names = append(names, b.Name)
		}
	}
	return names
}
