// Package logging provides the module's single slog setup point, mirroring
// the plain log/slog usage the rest of the codebase (and its teacher) rely
// on rather than introducing a third-party logging facade.
package logging

import (
	"log/slog"
	"os"
	"sync"
)

var (
	once    sync.Once
	base    *slog.Logger
	verbose bool
)

// SetVerbose toggles debug-level logging module-wide. Call once at
// process startup, before any pipeline runs.
func SetVerbose(v bool) {
	verbose = v
	base = nil
}

// For returns a logger tagged with component=name, lazily built so that
// SetVerbose can still take effect before the first call.
func For(component string) *slog.Logger {
	once.Do(initBase)
	if base == nil {
		initBase()
	}
	return base.With("component", component)
}

func initBase() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	base = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
