// Package logging builds the zap loggers used by the binaries and tests.
package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	EnvLogLevel  = "INTEROP_LOG_LEVEL"
	EnvLogFormat = "INTEROP_LOG_FORMAT"
)

type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

// Config is the resolved logger setup for one profile.
type Config struct {
	Level    zapcore.Level
	Format   string // "json" or "console"
	Disabled bool
}

// New builds a logger for the profile, applying the environment overrides.
func New(profile Profile) (*zap.Logger, error) {
	cfg := DefaultConfig(profile)
	ApplyEnv(&cfg, os.Getenv)
	return Build(cfg)
}

// Runtime is New(ProfileRuntime) falling back to a no-op logger.
func Runtime() *zap.Logger {
	log, err := New(ProfileRuntime)
	if err != nil {
		return zap.NewNop()
	}
	return log
}

func DefaultConfig(profile Profile) Config {
	switch profile {
	case ProfileTest:
		return Config{Level: zapcore.DebugLevel, Format: "console"}
	default:
		return Config{Level: zapcore.InfoLevel, Format: "json"}
	}
}

// ApplyEnv overlays recognised values of INTEROP_LOG_LEVEL and INTEROP_LOG_FORMAT.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if lvl, disabled, ok := parseLevel(getenv(EnvLogLevel)); ok {
		cfg.Level = lvl
		cfg.Disabled = disabled
	}
	switch f := strings.ToLower(strings.TrimSpace(getenv(EnvLogFormat))); f {
	case "json", "console":
		cfg.Format = f
	}
}

func Build(cfg Config) (*zap.Logger, error) {
	if cfg.Disabled {
		return zap.NewNop(), nil
	}
	var zc zap.Config
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.TimeKey = "time"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(cfg.Level)
	return zc.Build()
}

func parseLevel(raw string) (lvl zapcore.Level, disabled, ok bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zapcore.InfoLevel, false, false
	case "debug", "trace":
		return zapcore.DebugLevel, false, true
	case "info":
		return zapcore.InfoLevel, false, true
	case "warn", "warning":
		return zapcore.WarnLevel, false, true
	case "error":
		return zapcore.ErrorLevel, false, true
	case "disabled", "off", "none":
		return zapcore.InfoLevel, true, true
	default:
		return zapcore.InfoLevel, false, false
	}
}
