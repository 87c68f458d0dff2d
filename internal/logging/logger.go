// Package logging constructs the single *zap.Logger threaded through every
// component constructor. There is no package-level logger singleton.
package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a zap logger configured for structured production logging at
// the given level.
func New(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()

	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	case "info", "":
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	case "warn", "warning":
		cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	return cfg.Build()
}

// EventFields returns the structured fields every worker-level ingestion
// error or log line should carry per the error-handling design: seq, did,
// rkey, collection.
func EventFields(seq int64, did, rkey, collection string) []zap.Field {
	return []zap.Field{
		zap.Int64("seq", seq),
		zap.String("did", did),
		zap.String("rkey", rkey),
		zap.String("collection", collection),
	}
}
