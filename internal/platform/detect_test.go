package platform

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDetectNeverFails(t *testing.T) {
	assert := assert.New(t)

	info := Detect()
	assert.NotEqual(OS(""), info.OS)
	assert.NotEqual(Arch(""), info.Arch)
	assert.Len(info.Backends, 4)

	for _, b := range info.Backends {
		if !b.Available {
			assert.NotEmpty(b.Reason, "unavailable backend %s must carry a reason", b.Name)
		}
	}
}

func TestCacheRefreshIsMonotonic(t *testing.T) {
	assert := assert.New(t)

	c := NewCache(10 * time.Millisecond)
	first := c.Get()
	time.Sleep(20 * time.Millisecond)
	second := c.Get()

	assert.False(second.DetectedAt.Before(first.DetectedAt))
}

func TestAvailableBackendsMatchesAvailability(t *testing.T) {
	assert := assert.New(t)

	info := Detect()
	names := AvailableBackends(info)
	for _, n := range names {
		assert.True(info.Available(n))
	}
}
