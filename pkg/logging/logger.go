package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Component names used with Named so every log line can be traced back to
// the part of the client that produced it.
const (
	ComponentHTTP       = "httpclient"
	ComponentFinance    = "finance"
	ComponentQuery      = "query"
	ComponentStore      = "store"
	ComponentSession    = "session"
	ComponentLocal      = "localstore"
	ComponentResilience = "resilience"
	ComponentBus        = "invalidation"
	ComponentForms      = "forms"
	ComponentAPI        = "api"
	ComponentCLI        = "cli"
)

// Logger wraps zap.Logger so components can share Named/With helpers.
type Logger struct {
	*zap.Logger
}

// Config selects level, encoding and sinks for NewLogger.
type Config struct {
	Level            string // debug, info, warn, error, dpanic, panic, fatal
	Format           string // json or console
	OutputPaths      []string
	ErrorOutputPaths []string
	Development      bool // DPanic panics
	EnableCaller     bool
	EnableStacktrace bool
}

// DefaultConfig returns the CLI default: console output on stderr so that
// rendered views on stdout stay clean.
func DefaultConfig() Config {
	return Config{
		Level:            "warn",
		Format:           "console",
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
}

// ServiceConfig returns the configuration used by long running commands
// (serve), where logs are shipped as JSON.
func ServiceConfig() Config {
	return Config{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}
}

// DevelopmentConfig is selected by LOG_DEV=true.
func DevelopmentConfig() Config {
	return Config{
		Level:            "debug",
		Format:           "console",
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
		Development:      true,
		EnableCaller:     true,
		EnableStacktrace: true,
	}
}

func NewLogger(config Config) (*Logger, error) {
	level, err := parseLevel(config.Level)
	if err != nil {
		return nil, err
	}

	var encoderConfig zapcore.EncoderConfig
	if config.Development {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
	}
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeDuration = zapcore.StringDurationEncoder

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       config.Development,
		DisableCaller:     !config.EnableCaller,
		DisableStacktrace: !config.EnableStacktrace,
		Encoding:          config.Format,
		EncoderConfig:     encoderConfig,
		OutputPaths:       config.OutputPaths,
		ErrorOutputPaths:  config.ErrorOutputPaths,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, err
	}

	return &Logger{logger}, nil
}

// NewLoggerFromEnv creates a logger starting from base and applying
// environment overrides:
// LOG_LEVEL: log level
// LOG_FORMAT: log format (json or console)
// LOG_DEV: enable development mode (default: false)
func NewLoggerFromEnv(base Config) (*Logger, error) {
	config := base

	if os.Getenv("LOG_DEV") == "true" {
		config = DevelopmentConfig()
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Level = level
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		config.Format = format
	}

	return NewLogger(config)
}

// NewNoOpLogger discards everything. Tests and the global default use it.
func NewNoOpLogger() *Logger {
	return &Logger{zap.NewNop()}
}

// parseLevel converts a string to a zapcore.Level. Unknown names fall back
// to info.
func parseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info", "":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	case "dpanic":
		return zapcore.DPanicLevel, nil
	case "panic":
		return zapcore.PanicLevel, nil
	case "fatal":
		return zapcore.FatalLevel, nil
	default:
		return zapcore.InfoLevel, nil
	}
}

func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{l.Logger.With(fields...)}
}

func (l *Logger) Named(name string) *Logger {
	return &Logger{l.Logger.Named(name)}
}

func (l *Logger) Sync() error {
	return l.Logger.Sync()
}

var global *Logger

func init() {
	global = NewNoOpLogger()
}

// SetGlobal replaces the logger returned by Global, L and OrGlobal(nil, ...).
func SetGlobal(logger *Logger) {
	global = logger
}

func Global() *Logger { return global }

// L is shorthand for Global.
func L() *Logger { return global }

// OrGlobal returns l, or the named global logger when l is nil. Constructors
// accept an optional logger and use this to fall back.
func OrGlobal(l *Logger, component string) *Logger {
	if l != nil {
		return l.Named(component)
	}
	return global.Named(component)
}
