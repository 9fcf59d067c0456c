package streaming

import (
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

const (
	// EnvLogLevel overrides LogConfig.Level (trace, debug, info, warn, error, off).
	EnvLogLevel = "STREAMING_LOG_LEVEL"
	// EnvLogNetLog overrides LogConfig.NetLog.
	EnvLogNetLog = "STREAMING_LOG_NETLOG"
	// EnvLogConsole overrides LogConfig.Console.
	EnvLogConsole = "STREAMING_LOG_CONSOLE"
)

// LogConfig controls the logger new Protocols, Servers and Clients start with.
type LogConfig struct {
	Level   zerolog.Level
	NetLog  bool // log every frame header at debug level
	Console bool // human readable output instead of JSON
	Output  io.Writer
}

var (
	logMu         sync.RWMutex
	defaultLogger = zerolog.New(os.Stderr).With().Timestamp().Logger().Level(zerolog.InfoLevel)
	defaultNetLog bool
)

// DefaultLogConfig returns the configuration used when nothing else is set.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:  zerolog.InfoLevel,
		Output: os.Stderr,
	}
}

// LogConfigFromEnv returns DefaultLogConfig with environment overrides applied.
func LogConfigFromEnv() LogConfig {
	cfg := DefaultLogConfig()
	applyEnvOverrides(&cfg)
	return cfg
}

// ConfigureLogging replaces the default logger.
func ConfigureLogging(cfg LogConfig) {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Console {
		out = zerolog.ConsoleWriter{Out: out}
	}
	logMu.Lock()
	defer logMu.Unlock()
	defaultLogger = zerolog.New(out).With().Timestamp().Logger().Level(cfg.Level)
	defaultNetLog = cfg.NetLog
}

// DefaultLogger returns the logger configured by ConfigureLogging.
func DefaultLogger() zerolog.Logger {
	logMu.RLock()
	defer logMu.RUnlock()
	return defaultLogger
}

func defaultNetLogEnabled() bool {
	logMu.RLock()
	defer logMu.RUnlock()
	return defaultNetLog
}

func applyEnvOverrides(cfg *LogConfig) {
	if lvl, ok := parseLevel(os.Getenv(EnvLogLevel)); ok {
		cfg.Level = lvl
	}
	if v, ok := parseBool(os.Getenv(EnvLogNetLog)); ok {
		cfg.NetLog = v
	}
	if v, ok := parseBool(os.Getenv(EnvLogConsole)); ok {
		cfg.Console = v
	}
}

func parseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "warning":
		return zerolog.WarnLevel, true
	case "off", "none", "disable", "disabled":
		return zerolog.Disabled, true
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(raw)))
	if err != nil {
		return zerolog.InfoLevel, false
	}
	return lvl, true
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
