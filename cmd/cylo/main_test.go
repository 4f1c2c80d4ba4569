package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cyrup-ai/cylo-go/internal/backend"
	"github.com/cyrup-ai/cylo-go/internal/config"
	"github.com/cyrup-ai/cylo-go/internal/executor"
)

func TestStrategyFromConfigMapsAllKnownNames(t *testing.T) {
	assert := assert.New(t)

	cases := map[string]executor.StrategyKind{
		"performance":    executor.Performance,
		"security":       executor.Security,
		"prefer_backend": executor.PreferBackend,
		"explicit_only":  executor.ExplicitOnly,
		"balanced":       executor.Balanced,
		"":               executor.Balanced,
		"bogus":          executor.Balanced,
	}

	for name, want := range cases {
		cfg := config.Default()
		cfg.Routing.Strategy = name
		got := strategyFromConfig(cfg)
		assert.Equal(want, got.Kind)
	}
}

func TestBuildFactoryRejectsUnknownKind(t *testing.T) {
	assert := assert.New(t)

	f := buildFactory(config.Default())
	_, err := f(backend.Cylo{Kind: "bogus"})
	assert.Error(err)
}

func TestBuildFactoryLandLockUsesDefaultJailDir(t *testing.T) {
	assert := assert.New(t)

	cfg := config.Default()
	cfg.LandLock.DefaultJailDir = t.TempDir()

	f := buildFactory(cfg)
	be, err := f(backend.Cylo{Kind: backend.KindLandLock})
	assert.NoError(err)
	assert.Equal("LandLock", be.BackendType())
}
