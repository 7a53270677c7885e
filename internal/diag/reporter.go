// Package diag carries the run-wide warning accounting: every
// numerical-quality warning is logged where it happens and counted, and the
// total is reported at program end.
package diag

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// Reporter wraps a zap logger with a process-wide warning counter. Safe for
// concurrent use.
type Reporter struct {
	log      *zap.Logger
	warnings atomic.Int64
}

func NewReporter(log *zap.Logger) *Reporter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reporter{log: log}
}

// Warn logs at warning level and increments the run-wide counter.
func (r *Reporter) Warn(msg string, fields ...zap.Field) {
	r.warnings.Add(1)
	r.log.Warn(msg, fields...)
}

// Info logs at info level without touching the counter.
func (r *Reporter) Info(msg string, fields ...zap.Field) {
	r.log.Info(msg, fields...)
}

// Warnings returns the number of warnings issued so far.
func (r *Reporter) Warnings() int64 { return r.warnings.Load() }

// Logger exposes the underlying logger for components that only log.
func (r *Reporter) Logger() *zap.Logger { return r.log }
