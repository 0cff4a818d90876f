// Package logging constructs the zap loggers handed to every component at
// construction time, so components take their logger as a collaborator
// rather than reaching for a package-level global.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production JSON logger at the given level. Callers that
// don't care about logging (most unit tests) should use Nop instead.
func New(level zapcore.Level) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	return cfg.Build()
}

// Nop returns a logger that discards everything, used as the zero-value
// default so components never need a nil check before logging.
func Nop() *zap.Logger {
	return zap.NewNop()
}

// Named returns l.Named(component) unless l is nil, in which case it
// returns a nop logger, so constructors can do `log: logging.Named(log, "cache")`
// even when the caller passed a nil *zap.Logger.
func Named(l *zap.Logger, component string) *zap.Logger {
	if l == nil {
		return Nop()
	}
	return l.Named(component)
}
