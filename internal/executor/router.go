package executor

import (
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/cyrup-ai/cylo-go/internal/backend"
	"github.com/cyrup-ai/cylo-go/internal/platform"
)

// securityOrder is the fixed preference list for the Security strategy,
// per spec.md §4.H.
var securityOrder = []string{"Firecracker", "LandLock", "Apple"}

// selectOptimalBackend implements the five selection rules from spec.md
// §4.H. It returns the platform backend name ("LandLock", "Firecracker",
// "Apple", "WindowsJob") to use.
func selectOptimalBackend(info platform.Info, strategy RoutingStrategy, prefs BackendPreferences) (string, error) {
	switch strategy.Kind {
	case Performance:
		return selectByPerformance(info, prefs)
	case Security:
		return selectBySecurity(info, prefs)
	case PreferBackend:
		if strategy.PreferredBackend != "" && info.Available(strategy.PreferredBackend) && !prefs.denied(strategy.PreferredBackend) {
			return strategy.PreferredBackend, nil
		}
		return selectByBalanced(info, prefs)
	case ExplicitOnly:
		return "", &backend.Error{Kind: backend.KindInvalidConfiguration, Details: "ExplicitOnly strategy requires an instance_hint"}
	case Balanced:
		fallthrough
	default:
		return selectByBalanced(info, prefs)
	}
}

func selectByPerformance(info platform.Info, prefs BackendPreferences) (string, error) {
	best := ""
	bestRating := -1
	for _, b := range info.Backends {
		if !b.Available || prefs.denied(b.Name) {
			continue
		}
		if b.PerformanceRating > bestRating {
			bestRating = b.PerformanceRating
			best = b.Name
		}
	}
	if best == "" {
		return "", &backend.Error{Kind: backend.KindNoBackendAvailable}
	}
	return best, nil
}

func selectBySecurity(info platform.Info, prefs BackendPreferences) (string, error) {
	for _, name := range securityOrder {
		if info.Available(name) && !prefs.denied(name) {
			return name, nil
		}
	}
	return "", &backend.Error{Kind: backend.KindNoBackendAvailable}
}

func selectByBalanced(info platform.Info, prefs BackendPreferences) (string, error) {
	type scored struct {
		name  string
		score float64
	}

	var candidates []scored
	for _, b := range info.Backends {
		if !b.Available || prefs.denied(b.Name) {
			continue
		}
		score := (float64(b.PerformanceRating) + securityBonus(b.Name)) * prefs.multiplier(b.Name)
		candidates = append(candidates, scored{name: b.Name, score: score})
	}
	if len(candidates) == 0 {
		return "", &backend.Error{Kind: backend.KindNoBackendAvailable}
	}

	// Stable order: sort.SliceStable preserves the platform.Info.Backends
	// insertion order among ties, matching spec.md §4.H "ties broken by
	// stable order".
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	return candidates[0].name, nil
}

// generateInstanceName builds lowercase(backend) + "_" + uuid_simple(),
// per spec.md §4.H.
func generateInstanceName(backendName string) string {
	return strings.ToLower(backendName) + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// defaultImageFor implements the language->image table from spec.md §4.H.
func defaultImageFor(language string) string {
	switch strings.ToLower(language) {
	case "python", "python3":
		return "python:3.11-alpine"
	case "javascript", "js", "node":
		return "node:18-alpine"
	case "rust":
		return "rust:1.75-alpine"
	case "go":
		return "golang:1.21-alpine"
	default:
		return "alpine:3.18"
	}
}

// kindForBackendName maps a platform backend name to the Cylo Kind tag
// used to build a synthesized environment.
func kindForBackendName(name string) backend.Kind {
	switch name {
	case "LandLock":
		return backend.KindLandLock
	case "Firecracker":
		return backend.KindFirecracker
	case "Apple":
		return backend.KindApple
	case "WindowsJob":
		return backend.KindWindowsJob
	default:
		return ""
	}
}

// synthesizeInstance builds a fresh CyloInstance for backendName, using
// the default jail path / image / workspace name for its Kind and the
// language-appropriate image where relevant, per spec.md §4.H step 2.
func synthesizeInstance(backendName, language string) backend.CyloInstance {
	name := generateInstanceName(backendName)
	kind := kindForBackendName(backendName)

	env := backend.Cylo{Kind: kind}
	switch kind {
	case backend.KindLandLock:
		env.JailPath = "/tmp/cylo-" + name
	case backend.KindFirecracker, backend.KindApple:
		env.Image = defaultImageFor(language)
	case backend.KindWindowsJob:
		env.WorkspaceName = name
	}

	return backend.CyloInstance{Env: env, Name: name}
}
