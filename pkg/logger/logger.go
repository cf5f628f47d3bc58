// Package logger builds the structured loggers used throughout PMT.
// SchemaFile, CacheCoordinator and Engine each take a *zap.SugaredLogger
// through their Config struct (the NodeLock pool takes none) and log at the
// same Infow/Errorw granularity the rest of the codebase does: lifecycle
// transitions, growth/eviction decisions, and recoverable failures.
package logger

import (
	"go.uber.org/zap"
)

// New creates a production-configured, sugared logger scoped to the given
// service name. The returned logger is safe for concurrent use and should
// be shared by every subsystem a single engine instance wires together.
func New(service string) *zap.SugaredLogger {
	base, err := zap.NewProduction()
	if err != nil {
		// zap.NewProduction only fails on a broken encoder/sink config,
		// which never happens with the default config this package uses.
		// Fall back to a no-op logger rather than panicking a caller that
		// only wanted observability, not a reason to crash.
		base = zap.NewNop()
	}

	return base.Named(service).Sugar()
}

// NewDevelopment creates a development-configured, sugared logger scoped
// to the given service name: human-readable console encoding and debug
// level enabled, for use in tests and local tooling.
func NewDevelopment(service string) *zap.SugaredLogger {
	base, err := zap.NewDevelopment()
	if err != nil {
		base = zap.NewNop()
	}

	return base.Named(service).Sugar()
}
