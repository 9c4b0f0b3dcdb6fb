package utils

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig selects the logger flavor.
type LogConfig struct {
	// Debug switches to the development config (console, debug level).
	Debug bool
	// Format is "json" or "console"; empty keeps the flavor's default.
	Format string
	// Level overrides the flavor's level (debug, info, warn, error).
	Level string
}

// NewLogger returns a zap logger. When Debug is set, uses development config
// (human-readable, debug level); otherwise uses production config (JSON, info level).
func NewLogger(cfg LogConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Debug {
		zc = zap.NewDevelopmentConfig()
	}
	switch strings.ToLower(cfg.Format) {
	case "":
	case "json", "console":
		zc.Encoding = strings.ToLower(cfg.Format)
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	if cfg.Level != "" {
		level, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		zc.Level = zap.NewAtomicLevelAt(level)
	}
	zc.EncoderConfig.TimeKey = "timestamp"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zc.Build()
}
