package main

import (
	"net"
	"net/url"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/linkdata/streaming"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Config is the streamingctl configuration file.
type Config struct {
	Listen        string        `toml:"listen"`         // TCP address for raw connections, empty to disable
	HTTPListen    string        `toml:"http_listen"`    // HTTP address for WebSocket connections, empty to disable
	WebSocketPath string        `toml:"websocket_path"` // path the WebSocket endpoint is served on
	URL           string        `toml:"url"`            // server URL used by send and gateway
	GatewayListen string        `toml:"gateway_listen"` // HTTP address the gateway listens on
	DialTimeout   time.Duration `toml:"dial_timeout"`
	WriteTimeout  time.Duration `toml:"write_timeout"`
	MaxConns      int           `toml:"max_conns"`
	Log           LogConfig     `toml:"log"`
}

// LogConfig is the [log] table.
type LogConfig struct {
	Level   string `toml:"level"`
	NetLog  bool   `toml:"netlog"`
	Console bool   `toml:"console"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Listen:        ":10111",
		HTTPListen:    "",
		WebSocketPath: "/ws",
		URL:           "tcp://127.0.0.1:10111",
		GatewayListen: ":8080",
		DialTimeout:   10 * time.Second,
		WriteTimeout:  streaming.DefaultWriteTimeout,
		Log: LogConfig{
			Level:   "info",
			Console: true,
		},
	}
}

// LoadConfig reads the TOML file at path over the defaults. An empty
// path returns the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrapf(err, "config load failed (%s)", path)
		}
		if _, err = toml.Decode(string(data), &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "config parse failed (%s)", path)
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for consistency.
func (cfg Config) Validate() error {
	if cfg.Listen != "" {
		if _, _, err := net.SplitHostPort(cfg.Listen); err != nil {
			return errors.Wrapf(err, "invalid listen address %q", cfg.Listen)
		}
	}
	if cfg.HTTPListen != "" {
		if _, _, err := net.SplitHostPort(cfg.HTTPListen); err != nil {
			return errors.Wrapf(err, "invalid http_listen address %q", cfg.HTTPListen)
		}
		if len(cfg.WebSocketPath) == 0 || cfg.WebSocketPath[0] != '/' {
			return errors.Errorf("websocket_path %q must start with /", cfg.WebSocketPath)
		}
	}
	if cfg.GatewayListen != "" {
		if _, _, err := net.SplitHostPort(cfg.GatewayListen); err != nil {
			return errors.Wrapf(err, "invalid gateway_listen address %q", cfg.GatewayListen)
		}
	}
	if cfg.URL != "" {
		u, err := url.Parse(cfg.URL)
		if err != nil {
			return errors.Wrapf(err, "invalid url %q", cfg.URL)
		}
		switch u.Scheme {
		case "tcp", "ws", "wss":
		default:
			return errors.Errorf("url %q: scheme must be tcp, ws or wss", cfg.URL)
		}
	}
	if cfg.DialTimeout < 0 || cfg.WriteTimeout < 0 {
		return errors.New("timeouts must not be negative")
	}
	if cfg.MaxConns < 0 {
		return errors.New("max_conns must not be negative")
	}
	if _, err := zerolog.ParseLevel(cfg.Log.Level); err != nil {
		return errors.Wrapf(err, "invalid log level %q", cfg.Log.Level)
	}
	return nil
}

// logConfig returns the library logging configuration, with
// environment overrides applied last.
func (cfg Config) logConfig() streaming.LogConfig {
	lc := streaming.DefaultLogConfig()
	if lvl, err := zerolog.ParseLevel(cfg.Log.Level); err == nil && cfg.Log.Level != "" {
		lc.Level = lvl
	}
	lc.NetLog = cfg.Log.NetLog
	lc.Console = cfg.Log.Console
	env := streaming.LogConfigFromEnv()
	if os.Getenv(streaming.EnvLogLevel) != "" {
		lc.Level = env.Level
	}
	if os.Getenv(streaming.EnvLogNetLog) != "" {
		lc.NetLog = env.NetLog
	}
	if os.Getenv(streaming.EnvLogConsole) != "" {
		lc.Console = env.Console
	}
	return lc
}
