// Package logging builds the diagnostic logger. Diagnostics go to stderr, never stdout.
package logging

import (
	"io"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a logger writing to w at level ("debug", "info", "warn", "error").
// format is "json" or "console"; anything else is treated as console.
// An unknown level falls back to warn.
func New(w io.Writer, level, format string) *zap.Logger {
	var enc zapcore.Encoder
	switch strings.ToLower(format) {
	case "json":
		enc = zapcore.NewJSONEncoder(encoderConfig(zap.NewProductionEncoderConfig()))
	default:
		enc = zapcore.NewConsoleEncoder(encoderConfig(zap.NewDevelopmentEncoderConfig()))
	}

	lvl := zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			lvl = zap.NewAtomicLevelAt(zapcore.WarnLevel)
		}
	}

	core := zapcore.NewCore(enc, zapcore.AddSync(w), lvl)
	return zap.New(core, zap.ErrorOutput(zapcore.AddSync(w)))
}

func encoderConfig(cfg zapcore.EncoderConfig) zapcore.EncoderConfig {
	cfg.TimeKey = "timestamp"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg
}
