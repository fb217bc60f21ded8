// Package pfqlog is a thin wrapper around zap, giving every PFQ-Go package
// its own named, independently levelled logger.
package pfqlog

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var root = func() *zap.Logger {
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		os.Stderr,
		zap.DebugLevel,
	)
	return zap.New(core)
}()

// New returns a named logger for pkg. By convention this appears next to
// the package docstring:
//
//	var logger = pfqlog.New("group")
func New(pkg string) *zap.Logger {
	return root.Named(pkg).WithOptions(zap.IncreaseLevel(zap.NewAtomicLevelAt(level(pkg))))
}

// level resolves the configured level for pkg from PFQ_LOG_<PKG>, falling
// back to the blanket PFQ_LOG, defaulting to info.
func level(pkg string) zapcore.Level {
	v, ok := os.LookupEnv("PFQ_LOG_" + pkg)
	if !ok || v == "" {
		v, ok = os.LookupEnv("PFQ_LOG")
	}
	if !ok || v == "" {
		return zapcore.InfoLevel
	}
	switch v[0] {
	case 'D', 'd':
		return zapcore.DebugLevel
	case 'I', 'i':
		return zapcore.InfoLevel
	case 'W', 'w':
		return zapcore.WarnLevel
	case 'E', 'e':
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
