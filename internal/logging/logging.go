// Package logging builds the zap logger shared by every component. Output
// goes to stderr and, when a file is configured, to a size-rotated log file.
package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Formats.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Config holds logging configuration.
type Config struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"`
	File       string `mapstructure:"file" yaml:"file,omitempty"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Quiet      bool   `mapstructure:"quiet" yaml:"-"`
}

// DefaultConfig returns warn-level console logging to stderr.
func DefaultConfig() Config {
	return Config{
		Level:      "warn",
		Format:     FormatConsole,
		MaxSizeMB:  10,
		MaxBackups: 3,
		MaxAgeDays: 28,
	}
}

// Validate checks config for errors.
func (c Config) Validate() error {
	if c.Format != FormatConsole && c.Format != FormatJSON {
		return fmt.Errorf("log format must be %q or %q, got %q", FormatConsole, FormatJSON, c.Format)
	}
	if _, err := ParseLevel(c.Level); err != nil {
		return err
	}
	if c.File != "" && c.MaxSizeMB <= 0 {
		return fmt.Errorf("log max_size_mb must be > 0 when a log file is set")
	}
	return nil
}

// ParseLevel maps a level name to a zap level. The empty string is info.
func ParseLevel(s string) (zapcore.Level, error) {
	if strings.TrimSpace(s) == "" {
		return zapcore.InfoLevel, nil
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(s)))); err != nil {
		return lvl, fmt.Errorf("invalid log level %q", s)
	}
	return lvl, nil
}

// New creates a logger from cfg. Console output is written to stderr
// unless cfg.Quiet is set.
func New(cfg Config, stderr io.Writer) (*zap.Logger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid logging config: %w", err)
	}
	level, _ := ParseLevel(cfg.Level)
	if stderr == nil {
		stderr = os.Stderr
	}

	var cores []zapcore.Core
	if !cfg.Quiet {
		cores = append(cores, zapcore.NewCore(newEncoder(cfg.Format), zapcore.AddSync(stderr), level))
	}
	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		cores = append(cores, zapcore.NewCore(newEncoder(FormatJSON), zapcore.AddSync(rotator), level))
	}
	if len(cores) == 0 {
		return zap.NewNop(), nil
	}
	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()).Named("fira"), nil
}

// newEncoder creates a JSON or console encoder.
func newEncoder(format string) zapcore.Encoder {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	if format == FormatConsole {
		encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		return zapcore.NewConsoleEncoder(encoderCfg)
	}
	return zapcore.NewJSONEncoder(encoderCfg)
}

// Sync flushes logger, ignoring the errors stderr returns on Linux.
func Sync(logger *zap.Logger) error {
	err := logger.Sync()
	if err != nil && isStdoutSyncError(err) {
		return nil
	}
	return err
}

func isStdoutSyncError(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EINVAL || errno == syscall.ENOTTY
	}
	return false
}
