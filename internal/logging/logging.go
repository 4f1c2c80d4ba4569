// Package logging provides the process-wide logrus entry that every
// subsystem of cylo derives its own scoped entry from.
package logging

import (
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	mu      sync.RWMutex
	base    = logrus.NewEntry(logrus.New())
	initial = logrus.WarnLevel
)

func init() {
	base.Logger.SetLevel(initial)
}

// SetLogger replaces the base logger used by every subsystem entry
// returned by For. Intended to be called once at process startup.
func SetLogger(logger *logrus.Entry, level logrus.Level) {
	mu.Lock()
	defer mu.Unlock()

	logger.Logger.SetLevel(level)
	// Entries already handed out by For share base's *logrus.Logger, so
	// that logger takes the new level, output and formatter as well.
	base.Logger.SetLevel(level)
	base.Logger.SetOutput(logger.Logger.Out)
	base.Logger.SetFormatter(logger.Logger.Formatter)
	base = logger
}

// For returns a logrus entry scoped to the named subsystem, e.g.
// logging.For("firecracker") or logging.For("instance-manager").
func For(subsystem string) *logrus.Entry {
	mu.RLock()
	defer mu.RUnlock()

	return base.WithField("subsystem", subsystem)
}
