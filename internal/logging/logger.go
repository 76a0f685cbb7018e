// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

// Package logging provides centralized zerolog-based logging for Nexus.
//
// All runtime components log through this package:
//
//   - Zero-allocation structured logging
//   - JSON output for production, console output for development
//   - Per-sink level routing (console and rotating file)
//   - Named component loggers with default fields
//   - Context-aware logging with request ID propagation
//
// # Quick Start
//
//	import "github.com/nexusruntime/nexus/internal/logging"
//
//	// Initialize at application startup
//	logging.Init(logging.Config{
//	    Level:  "info",
//	    Format: "json",
//	})
//
//	// Log messages
//	logging.Info().Msg("Runtime starting")
//	logging.Error().Err(err).Msg("Operation failed")
//
//	// Component logger with default fields
//	busLog := logging.Named("event_bus")
//	busLog.Debug().Str("topic", topic).Msg("Event published")
//
// Always terminate log chains with .Msg() or .Send().
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds logging configuration.
type Config struct {
	// Level is the minimum log level: trace, debug, info, warn, error,
	// fatal, panic. Default: info.
	Level string

	// Format is the output format: json or text. Default: json.
	Format string

	// Caller includes caller file and line number in logs.
	Caller bool

	// Timestamp enables timestamps in log output. Default: true.
	Timestamp bool

	// Output overrides the console writer. Default: os.Stderr.
	// Used by tests to capture output.
	Output io.Writer

	// Console configures the console sink.
	Console ConsoleConfig

	// File configures the rotating file sink.
	File FileConfig
}

// ConsoleConfig controls the console sink.
type ConsoleConfig struct {
	// Enabled turns the console sink on. Default: true.
	Enabled bool

	// Level is the sink's minimum level. Empty inherits Config.Level.
	Level string
}

// FileConfig controls the rotating file sink. The file sink always
// writes JSON regardless of Config.Format.
type FileConfig struct {
	// Enabled turns the file sink on.
	Enabled bool

	// Path is the log file location.
	Path string

	// RotationMB rotates the file once it reaches this size in megabytes.
	RotationMB int

	// RetentionDays removes rotated files older than this many days.
	RetentionDays int
}

// DefaultConfig returns the default logging configuration.
func DefaultConfig() Config {
	return Config{
		Level:     "info",
		Format:    "json",
		Timestamp: true,
		Output:    os.Stderr,
		Console:   ConsoleConfig{Enabled: true},
	}
}

var (
	// log is the global logger instance.
	log zerolog.Logger

	// mu protects concurrent initialization.
	mu sync.RWMutex
)

//nolint:gochecknoinits // init ensures logging works before explicit Init() call
func init() {
	initLogger(DefaultConfig())
}

// Init initializes the global logger with the given configuration.
// Safe to call multiple times; subsequent calls reconfigure the logger.
func Init(cfg Config) {
	mu.Lock()
	defer mu.Unlock()
	initLogger(cfg)
}

// leveledWriter filters a sink at its own minimum level, independent of
// the global level.
type leveledWriter struct {
	io.Writer
	min zerolog.Level
}

func (w leveledWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < w.min {
		return len(p), nil
	}
	return w.Writer.Write(p)
}

// initLogger configures the global logger (must be called with mu held).
func initLogger(cfg Config) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.TimestampFieldName = "time"
	zerolog.LevelFieldName = "level"
	zerolog.MessageFieldName = "message"
	zerolog.ErrorFieldName = "error"
	zerolog.CallerFieldName = "caller"

	baseLevel := parseLevel(cfg.Level)
	globalLevel := baseLevel

	consoleEnabled := cfg.Console.Enabled
	fileEnabled := cfg.File.Enabled && cfg.File.Path != ""
	if !consoleEnabled && !fileEnabled {
		// Never run silent.
		consoleEnabled = true
	}

	var sinks []io.Writer

	if consoleEnabled {
		consoleLevel := baseLevel
		if cfg.Console.Level != "" {
			consoleLevel = parseLevel(cfg.Console.Level)
		}
		if consoleLevel < globalLevel {
			globalLevel = consoleLevel
		}

		var out io.Writer = cfg.Output
		if cfg.Format == "text" || cfg.Format == "console" {
			out = zerolog.ConsoleWriter{
				Out:        cfg.Output,
				TimeFormat: "15:04:05",
				NoColor:    false,
			}
		}
		sinks = append(sinks, leveledWriter{Writer: out, min: consoleLevel})
	}

	if fileEnabled {
		rotator := &lumberjack.Logger{
			Filename: cfg.File.Path,
			MaxSize:  cfg.File.RotationMB,
			MaxAge:   cfg.File.RetentionDays,
			Compress: true,
		}
		sinks = append(sinks, leveledWriter{Writer: rotator, min: baseLevel})
	}

	zerolog.SetGlobalLevel(globalLevel)

	ctx := zerolog.New(zerolog.MultiLevelWriter(sinks...))
	if cfg.Timestamp {
		ctx = ctx.With().Timestamp().Logger()
	}
	if cfg.Caller {
		ctx = ctx.With().Caller().Logger()
	}

	log = ctx
}

// parseLevel converts a string level to zerolog.Level.
func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	case "disabled":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// Logger returns the global logger instance.
func Logger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// SetLogger replaces the global logger instance. Useful for testing.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func SetLogger(l zerolog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	log = l
}

// With creates a child logger context with additional default fields.
//
//	busLogger := logging.With().Str("component", "event_bus").Logger()
func With() zerolog.Context {
	mu.RLock()
	defer mu.RUnlock()
	return log.With()
}

// Named returns a child logger tagged with a component name.
//
//	monLog := logging.Named("monitor")
//	monLog.Info().Msg("sampling started")
func Named(component string) zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log.With().Str("component", component).Logger()
}

// Trace starts a new message with trace level.
func Trace() *zerolog.Event {
	mu.RLock()
	defer mu.RUnlock()
	return log.Trace()
}

// Debug starts a new message with debug level.
func Debug() *zerolog.Event {
	mu.RLock()
	defer mu.RUnlock()
	return log.Debug()
}

// Info starts a new message with info level.
func Info() *zerolog.Event {
	mu.RLock()
	defer mu.RUnlock()
	return log.Info()
}

// Warn starts a new message with warning level.
func Warn() *zerolog.Event {
	mu.RLock()
	defer mu.RUnlock()
	return log.Warn()
}

// Error starts a new message with error level.
func Error() *zerolog.Event {
	mu.RLock()
	defer mu.RUnlock()
	return log.Error()
}

// Fatal starts a new message with fatal level. os.Exit(1) is called
// after the message is logged.
func Fatal() *zerolog.Event {
	mu.RLock()
	defer mu.RUnlock()
	return log.Fatal()
}

// Err starts an error-level message with the error attached.
// Equivalent to Error().Err(err).
func Err(err error) *zerolog.Event {
	mu.RLock()
	defer mu.RUnlock()
	return log.Err(err)
}

// GetLevel returns the current global log level.
func GetLevel() zerolog.Level {
	return zerolog.GlobalLevel()
}

// SetLevelString updates the global log level from a string.
// Used by the config listener on logging.level changes.
func SetLevelString(level string) {
	zerolog.SetGlobalLevel(parseLevel(level))
}

// IsLevelEnabled returns true if the given level is enabled.
func IsLevelEnabled(level zerolog.Level) bool {
	return zerolog.GlobalLevel() <= level
}

// NewTestLogger creates a logger that writes to the provided writer.
// Useful in tests to capture log output.
//
//	var buf bytes.Buffer
//	logger := logging.NewTestLogger(&buf)
func NewTestLogger(w io.Writer) zerolog.Logger {
	return zerolog.New(w).With().Timestamp().Logger()
}
