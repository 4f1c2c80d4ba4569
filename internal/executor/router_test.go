package executor

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cyrup-ai/cylo-go/internal/platform"
)

func linuxInfo() platform.Info {
	return platform.Info{
		OS:         platform.OSLinux,
		Arch:       platform.ArchX86_64,
		DetectedAt: time.Now(),
		Backends: []platform.BackendAvailability{
			{Name: "Apple", Available: false, PerformanceRating: 95},
			{Name: "Firecracker", Available: true, PerformanceRating: 90},
			{Name: "LandLock", Available: true, PerformanceRating: 85},
			{Name: "WindowsJob", Available: false, PerformanceRating: 80},
		},
	}
}

func TestSelectByPerformancePicksHighestRatedAvailable(t *testing.T) {
	assert := assert.New(t)
	name, err := selectByPerformance(linuxInfo(), BackendPreferences{})
	assert.NoError(err)
	assert.Equal("Firecracker", name)
}

func TestSelectBySecurityFollowsFixedOrder(t *testing.T) {
	assert := assert.New(t)
	name, err := selectBySecurity(linuxInfo(), BackendPreferences{})
	assert.NoError(err)
	assert.Equal("Firecracker", name)
}

func TestSelectBySecurityDeniedFallsThrough(t *testing.T) {
	assert := assert.New(t)
	prefs := BackendPreferences{DenyList: []string{"Firecracker"}}
	name, err := selectBySecurity(linuxInfo(), prefs)
	assert.NoError(err)
	assert.Equal("LandLock", name)
}

func TestSelectByBalancedAppliesSecurityBonusAndMultiplier(t *testing.T) {
	assert := assert.New(t)

	prefs := BackendPreferences{
		Multipliers: map[string]float64{"LandLock": 2.0},
	}
	// Firecracker: (90+20)*1 = 110, LandLock: (85+15)*2 = 200.
	name, err := selectByBalanced(linuxInfo(), prefs)
	assert.NoError(err)
	assert.Equal("LandLock", name)
}

func TestSelectByBalancedNoCandidatesIsNoBackendAvailable(t *testing.T) {
	assert := assert.New(t)
	info := platform.Info{Backends: []platform.BackendAvailability{
		{Name: "LandLock", Available: false},
	}}
	_, err := selectByBalanced(info, BackendPreferences{})
	assert.Error(err)
}

func TestPreferBackendFallsBackToBalancedWhenUnavailable(t *testing.T) {
	assert := assert.New(t)
	strategy := RoutingStrategy{Kind: PreferBackend, PreferredBackend: "Apple"}
	name, err := selectOptimalBackend(linuxInfo(), strategy, BackendPreferences{})
	assert.NoError(err)
	assert.NotEqual("Apple", name)
}

func TestExplicitOnlyAlwaysErrors(t *testing.T) {
	assert := assert.New(t)
	_, err := selectOptimalBackend(linuxInfo(), RoutingStrategy{Kind: ExplicitOnly}, BackendPreferences{})
	assert.Error(err)
}

func TestGenerateInstanceNameIsLowercaseBackendPrefixed(t *testing.T) {
	assert := assert.New(t)
	name := generateInstanceName("Firecracker")
	assert.True(strings.HasPrefix(name, "firecracker_"))
	assert.False(strings.Contains(name, "-"))
}

func TestDefaultImageForLanguages(t *testing.T) {
	assert := assert.New(t)
	assert.Equal("python:3.11-alpine", defaultImageFor("Python"))
	assert.Equal("node:18-alpine", defaultImageFor("js"))
	assert.Equal("rust:1.75-alpine", defaultImageFor("rust"))
	assert.Equal("golang:1.21-alpine", defaultImageFor("go"))
	assert.Equal("alpine:3.18", defaultImageFor("cobol"))
}

func TestSynthesizeInstanceSetsKindSpecificFields(t *testing.T) {
	assert := assert.New(t)

	landlock := synthesizeInstance("LandLock", "python")
	assert.NotEmpty(landlock.Env.JailPath)

	fc := synthesizeInstance("Firecracker", "rust")
	assert.Equal("rust:1.75-alpine", fc.Env.Image)

	win := synthesizeInstance("WindowsJob", "go")
	assert.Equal(win.Name, win.Env.WorkspaceName)
}
