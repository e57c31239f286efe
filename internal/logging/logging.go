package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the log level and output format
type Config struct {
	Level  string // debug|info|warn|error
	Format string // console|json
}

// New builds a logger writing to stderr. The console format renders as
// "15:04:05 [INFO] - message".
func New(cfg Config) (*zap.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.Sampling = nil
	zcfg.DisableStacktrace = true

	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "", "console":
		zcfg.Encoding = "console"
		zcfg.EncoderConfig = ConsoleEncoderConfig()
	case "json":
		zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	default:
		return nil, fmt.Errorf("invalid log format: %q", cfg.Format)
	}

	return zcfg.Build()
}

// ConsoleEncoderConfig is the human readable layout used by the node
func ConsoleEncoderConfig() zapcore.EncoderConfig {
	enc := zap.NewDevelopmentEncoderConfig()
	enc.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	enc.EncodeLevel = func(l zapcore.Level, pae zapcore.PrimitiveArrayEncoder) {
		pae.AppendString("[" + l.CapitalString() + "] -")
	}
	enc.CallerKey = zapcore.OmitKey
	enc.ConsoleSeparator = " "
	return enc
}

// ParseLevel converts a level name to a zap level; empty means info
func ParseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "", "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("invalid log level: %q", s)
	}
}
