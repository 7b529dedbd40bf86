// Package observability provides the process-wide logger.
//
// The worker speaks a line-delimited JSON protocol on stdout, so all
// human-facing logging goes to stderr. Anything written to stdout that is
// not a protocol event would corrupt the supervisor's event stream.
package observability

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CLILogger is the shared logger for CLI commands and the worker loop.
var CLILogger *zap.Logger

func init() {
	CLILogger = newStderrLogger(levelFromEnv())
}

// SetLevel rebuilds the shared logger at the given level.
func SetLevel(level zapcore.Level) {
	CLILogger = newStderrLogger(level)
}

func levelFromEnv() zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DOCWORKER_LOG_LEVEL"))) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func newStderrLogger(level zapcore.Level) *zap.Logger {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderCfg),
		zapcore.Lock(os.Stderr),
		level,
	)
	return zap.New(core)
}
