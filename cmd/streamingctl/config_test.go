package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/linkdata/streaming"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, text string) string {
	path := filepath.Join(t.TempDir(), "streamingctl.toml")
	require.NoError(t, os.WriteFile(path, []byte(text), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	assert.Equal(t, ":10111", cfg.Listen)
	assert.Equal(t, streaming.DefaultWriteTimeout, cfg.WriteTimeout)
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfig(t, `
listen = "127.0.0.1:9000"
http_listen = ":8080"
websocket_path = "/rpc"
url = "ws://localhost:8080/rpc"
dial_timeout = "3s"
max_conns = 16

[log]
level = "debug"
netlog = true
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Listen)
	assert.Equal(t, ":8080", cfg.HTTPListen)
	assert.Equal(t, "/rpc", cfg.WebSocketPath)
	assert.Equal(t, "ws://localhost:8080/rpc", cfg.URL)
	assert.Equal(t, 3*time.Second, cfg.DialTimeout)
	assert.Equal(t, 16, cfg.MaxConns)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.NetLog)
	// unset keys keep their defaults
	assert.True(t, cfg.Log.Console)
	assert.Equal(t, streaming.DefaultWriteTimeout, cfg.WriteTimeout)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.ErrorContains(t, err, "config load failed")

	_, err = LoadConfig(writeConfig(t, `listen = `))
	assert.ErrorContains(t, err, "config parse failed")

	_, err = LoadConfig(writeConfig(t, `url = "http://example.com"`))
	assert.ErrorContains(t, err, "scheme")
}

func TestConfigValidate(t *testing.T) {
	tests := map[string]func(cfg *Config){
		"listen":         func(cfg *Config) { cfg.Listen = "nonsense" },
		"http_listen":    func(cfg *Config) { cfg.HTTPListen = "nonsense" },
		"gateway_listen": func(cfg *Config) { cfg.GatewayListen = "nonsense" },
		"websocket_path": func(cfg *Config) { cfg.HTTPListen = ":80"; cfg.WebSocketPath = "ws" },
		"url":            func(cfg *Config) { cfg.URL = "ftp://host" },
		"timeouts":       func(cfg *Config) { cfg.DialTimeout = -time.Second },
		"max_conns":      func(cfg *Config) { cfg.MaxConns = -1 },
		"log level":      func(cfg *Config) { cfg.Log.Level = "loud" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, DefaultConfig().Validate())
}

func TestConfigLogConfig(t *testing.T) {
	t.Setenv(streaming.EnvLogLevel, "")
	t.Setenv(streaming.EnvLogNetLog, "")
	t.Setenv(streaming.EnvLogConsole, "")

	cfg := DefaultConfig()
	cfg.Log.Level = "warn"
	cfg.Log.NetLog = true
	lc := cfg.logConfig()
	assert.Equal(t, zerolog.WarnLevel, lc.Level)
	assert.True(t, lc.NetLog)
	assert.True(t, lc.Console)

	t.Setenv(streaming.EnvLogLevel, "error")
	t.Setenv(streaming.EnvLogConsole, "false")
	lc = cfg.logConfig()
	assert.Equal(t, zerolog.ErrorLevel, lc.Level)
	assert.False(t, lc.Console)
	assert.True(t, lc.NetLog)
}
