package logging

import (
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New creates a console logger on stderr; stdout is reserved for JSON output.
// verbose lowers the level to debug.
func New(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
		cfg.Development = false
		cfg.DisableCaller = true
	}
	return cfg.Build()
}

// WithRun tags every entry of a run with a fresh ULID.
func WithRun(logger *zap.Logger) (*zap.Logger, string) {
	id := ulid.Make().String()
	return logger.With(zap.String("run_id", id)), id
}

// Record returns the fields carried by record-scoped entries.
func Record(kind, record, stage string) []zap.Field {
	return []zap.Field{
		zap.String("kind", kind),
		zap.String("record", record),
		zap.String("stage", stage),
	}
}

// Sync flushes the logger, ignoring the EINVAL some terminals report for stderr.
func Sync(logger *zap.Logger) {
	_ = logger.Sync()
}
