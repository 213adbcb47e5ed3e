// Package tracing emits structured diagnostic events. A Tracer is handed
// to components explicitly; there is no process-global instance, so tools
// and tests decide where (and whether) events go.
package tracing

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Tracer struct {
	log *zap.Logger
}

// New wraps a logger as an event sink. A nil logger discards events.
func New(log *zap.Logger) *Tracer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracer{log: log}
}

// Nop returns a Tracer that discards everything.
func Nop() *Tracer {
	return New(nil)
}

// NewFile builds a Tracer writing JSON events to the given path. It
// falls back to a no-op sink when the path cannot be opened.
func NewFile(path string) *Tracer {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{path}
	cfg.ErrorOutputPaths = []string{path}
	cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	log, err := cfg.Build()
	if err != nil {
		return Nop()
	}
	return New(log)
}

// Event records one named event under a category.
func (t *Tracer) Event(category string, fields ...zap.Field) {
	t.log.Info(category, fields...)
}

// Sync flushes buffered events. Call it before process exit.
func (t *Tracer) Sync() error {
	return t.log.Sync()
}
