package instance

import (
	"errors"
	"sync"
)

var (
	singletonOnce sync.Once
	singleton     *Manager
	initErr       error
)

// InitGlobal installs the process-wide manager singleton. Calling it a
// second time is an error, per spec.md §4.G ("a process-wide singleton is
// exposed with a one-shot initializer; double-init is an error").
func InitGlobal(factory Factory) error {
	called := false
	singletonOnce.Do(func() {
		called = true
		singleton = New(factory)
	})
	if !called {
		return errors.New("instance manager already initialized")
	}
	return nil
}

// Global returns the process-wide manager, or nil if InitGlobal has not
// run yet.
func Global() *Manager {
	return singleton
}
