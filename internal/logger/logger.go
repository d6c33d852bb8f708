// Package logger builds the zap loggers used by the server and the CLI.
package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects level, encoding and destination.
type Config struct {
	Level string `toml:"level"`
	// Format is "json" or "console".
	Format      string `toml:"format"`
	OutputPath  string `toml:"output_path"`
	Development bool   `toml:"development"`
}

// Logger holds the process logger. Until Init succeeds it discards everything.
type Logger struct {
	Log *zap.Logger
}

// New returns a Logger with a no-op zap logger.
func New() *Logger {
	return &Logger{Log: zap.NewNop()}
}

// Init replaces Log with a JSON production logger at level.
func (l *Logger) Init(level string) error {
	return l.InitWith(Config{Level: level})
}

// InitWith replaces Log with a logger built from cfg.
func (l *Logger) InitWith(cfg Config) error {
	zl, err := Build(cfg)
	if err != nil {
		return err
	}
	l.Log = zl
	return nil
}

// Build constructs a zap logger from cfg.
func Build(cfg Config) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}

	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	if cfg.Level != "" {
		lvl, err := zap.ParseAtomicLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return nil, fmt.Errorf("parse log level %q: %w", cfg.Level, err)
		}
		level = lvl
	}
	zc.Level = level

	switch cfg.Format {
	case "", "json":
		zc.Encoding = "json"
	case "console":
		zc.Encoding = "console"
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	if cfg.OutputPath != "" {
		zc.OutputPaths = []string{cfg.OutputPath}
	} else {
		zc.OutputPaths = []string{"stderr"}
	}
	return zc.Build()
}
