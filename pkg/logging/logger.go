package logging

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger so components can share a single configured instance.
type Logger struct {
	*zap.Logger
}

// Config holds logging configuration.
type Config struct {
	// Level is one of debug, info, warn, error. Unknown values fall back to info.
	Level string
	// Format is json or console
	Format string
	// OutputPaths is a list of sinks (stdout, stderr or file paths)
	OutputPaths []string
	// Development switches to the development encoder and enables caller and stack traces
	Development bool
	// InitialFields are attached to every entry (e.g. service name)
	InitialFields map[string]interface{}
}

// DefaultConfig returns the production configuration: info level, JSON to stdout.
func DefaultConfig() Config {
	return Config{
		Level:       "info",
		Format:      "json",
		OutputPaths: []string{"stdout"},
		InitialFields: map[string]interface{}{
			"service": "bank-ledger",
		},
	}
}

// DevelopmentConfig returns a human readable configuration for local runs.
func DevelopmentConfig() Config {
	cfg := DefaultConfig()
	cfg.Level = "debug"
	cfg.Format = "console"
	cfg.Development = true
	return cfg
}

// NewLogger builds a logger from cfg.
func NewLogger(cfg Config) (*Logger, error) {
	if cfg.Format != "json" && cfg.Format != "console" {
		return nil, fmt.Errorf("logging: unsupported format %q", cfg.Format)
	}
	if len(cfg.OutputPaths) == 0 {
		cfg.OutputPaths = []string{"stdout"}
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	if cfg.Development {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeDuration = zapcore.StringDurationEncoder

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(ParseLevel(cfg.Level)),
		Development:       cfg.Development,
		DisableCaller:     !cfg.Development,
		DisableStacktrace: !cfg.Development,
		Encoding:          cfg.Format,
		EncoderConfig:     encoderConfig,
		OutputPaths:       cfg.OutputPaths,
		ErrorOutputPaths:  []string{"stderr"},
		InitialFields:     cfg.InitialFields,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("logging: build logger: %w", err)
	}
	return &Logger{logger}, nil
}

// NewLoggerFromEnv reads LOG_LEVEL, LOG_FORMAT and LOG_DEV.
func NewLoggerFromEnv() (*Logger, error) {
	cfg := DefaultConfig()
	if os.Getenv("LOG_DEV") == "true" {
		cfg = DevelopmentConfig()
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Level = level
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.Format = format
	}
	return NewLogger(cfg)
}

// NewNoOpLogger returns a logger that discards everything.
func NewNoOpLogger() *Logger {
	return &Logger{zap.NewNop()}
}

// ParseLevel converts a level name to a zapcore.Level, defaulting to info.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// With creates a child logger with additional fields.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{l.Logger.With(fields...)}
}

// Named creates a child logger with a name segment appended.
func (l *Logger) Named(name string) *Logger {
	return &Logger{l.Logger.Named(name)}
}

var global atomic.Pointer[Logger]

func init() {
	global.Store(NewNoOpLogger())
}

// SetGlobal replaces the process-wide fallback logger used by components
// constructed without an explicit one.
func SetGlobal(logger *Logger) {
	if logger == nil {
		logger = NewNoOpLogger()
	}
	global.Store(logger)
}

// L returns the process-wide fallback logger.
func L() *Logger {
	return global.Load()
}

// Or returns logger when set, otherwise the global logger named after component.
func Or(logger *Logger, component string) *Logger {
	if logger != nil {
		return logger
	}
	return L().Named(component)
}
