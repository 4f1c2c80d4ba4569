// Package executor implements the executor/router described in spec.md
// §4.H: it selects a backend under the configured routing strategy,
// synthesizes or resolves an instance, and delegates execution to the
// instance manager.
package executor

import "github.com/cyrup-ai/cylo-go/internal/backend"

// StrategyKind selects among the routing rules from spec.md §4.H.
type StrategyKind string

const (
	Performance   StrategyKind = "performance"
	Security      StrategyKind = "security"
	Balanced      StrategyKind = "balanced"
	PreferBackend StrategyKind = "prefer_backend"
	ExplicitOnly  StrategyKind = "explicit_only"
)

// RoutingStrategy is a tagged union: PreferredBackend is only meaningful
// when Kind == PreferBackend.
type RoutingStrategy struct {
	Kind             StrategyKind
	PreferredBackend string
}

// BackendPreferences carries the deny list, per-backend concurrency caps,
// and Balanced-strategy preference multipliers, per spec.md §4.H/§5.
type BackendPreferences struct {
	DenyList      []string
	MaxConcurrent map[string]int
	Multipliers   map[string]float64
}

// DefaultBackendPreferences matches the concurrency caps from spec.md §5
// ("Apple 10, LandLock 20, Firecracker 50") with all Balanced multipliers
// at the 1.0 default.
func DefaultBackendPreferences() BackendPreferences {
	return BackendPreferences{
		MaxConcurrent: map[string]int{
			"Apple":       10,
			"LandLock":    20,
			"Firecracker": 50,
			"WindowsJob":  20,
		},
		Multipliers: map[string]float64{},
	}
}

func (p BackendPreferences) multiplier(name string) float64 {
	if m, ok := p.Multipliers[name]; ok {
		return m
	}
	return 1.0
}

func (p BackendPreferences) denied(name string) bool {
	for _, d := range p.DenyList {
		if d == name {
			return true
		}
	}
	return false
}

// securityBonus implements the fixed Balanced-strategy bonus table from
// spec.md §4.H.
func securityBonus(name string) float64 {
	switch name {
	case "Firecracker":
		return 20
	case "LandLock":
		return 15
	case "Apple":
		return 10
	default:
		return 0
	}
}

// OptimizationConfig carries the executor's instance-reuse policy: reused
// instances are released back to the pool after use, one-shot instances
// are removed.
type OptimizationConfig struct {
	ReuseInstances bool
}

// InstanceHint lets a caller pin a request to a specific, already-known
// environment instead of going through backend selection, per spec.md
// §4.H step 1.
type InstanceHint struct {
	Instance backend.CyloInstance
}
