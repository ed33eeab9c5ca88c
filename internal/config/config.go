// Package config loads amqpctl TOML files into engine options and driver
// transport settings.
package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/amqpengine/internal/driver"
	"github.com/danmuck/amqpengine/internal/engine"
)

const (
	TransportTCP       = "tcp"
	TransportWebSocket = "websocket"
)

// Config is the resolved amqpctl configuration.
type Config struct {
	Addr         string
	Transport    string
	Address      string
	MetricsAddr  string
	MetricsToken string
	LogLevel     string

	Engine engine.Options
	Driver driver.Config
}

type fileConfig struct {
	Addr         string `toml:"addr"`
	Transport    string `toml:"transport"`
	Address      string `toml:"address"`
	MetricsAddr  string `toml:"metrics_addr"`
	MetricsToken string `toml:"metrics_token"`
	LogLevel     string `toml:"log_level"`

	ContainerID  string `toml:"container_id"`
	VirtualHost  string `toml:"virtual_host"`
	MaxFrameSize int64  `toml:"max_frame_size"`
	MaxSessions  int64  `toml:"max_sessions"`
	IdleTimeout  string `toml:"idle_timeout"`
	CreditWindow int    `toml:"credit_window"`
	AutoAccept   bool   `toml:"auto_accept"`
	AutoSettle   bool   `toml:"auto_settle"`

	ConnectTimeout     string `toml:"connect_timeout"`
	HandshakeTimeout   string `toml:"handshake_timeout"`
	WriteTimeout       string `toml:"write_timeout"`
	MaxConnectAttempts int    `toml:"max_connect_attempts"`
	SecurityMode       string `toml:"security_mode"`

	TLS     tlsFileConfig     `toml:"tls"`
	Backoff backoffFileConfig `toml:"backoff"`
}

type tlsFileConfig struct {
	Enabled            bool   `toml:"enabled"`
	Mutual             bool   `toml:"mutual"`
	CertFile           string `toml:"cert_file"`
	KeyFile            string `toml:"key_file"`
	CAFile             string `toml:"ca_file"`
	ServerName         string `toml:"server_name"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

type backoffFileConfig struct {
	InitialDelay string  `toml:"initial_delay"`
	Multiplier   float64 `toml:"multiplier"`
	MaxDelay     string  `toml:"max_delay"`
	Jitter       bool    `toml:"jitter"`
}

func Default() Config {
	return Config{
		Addr:      "127.0.0.1:5672",
		Transport: TransportTCP,
		LogLevel:  "info",
		Engine:    engine.DefaultOptions(),
		Driver:    driver.DefaultConfig(),
	}
}

// Load reads path and overlays every key it defines onto Default.
func Load(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("load config %s: unknown key %q", path, undecoded[0].String())
	}
	cfg, err := overlay(Default(), raw, meta)
	if err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Addr) == "" {
		return fmt.Errorf("config: addr is required")
	}
	switch cfg.Transport {
	case TransportTCP, TransportWebSocket:
	default:
		return fmt.Errorf("config: unknown transport %q", cfg.Transport)
	}
	if cfg.Engine.MaxSessions == 0 {
		return fmt.Errorf("config: max_sessions must be positive")
	}
	if cfg.Engine.IdleTimeout < 0 {
		return fmt.Errorf("config: idle_timeout must not be negative")
	}
	switch cfg.Driver.SecurityMode {
	case driver.SecurityModeDevelopment, driver.SecurityModeProduction:
	default:
		return fmt.Errorf("config: unknown security_mode %q", cfg.Driver.SecurityMode)
	}
	if cfg.Driver.TLS.Enabled && (cfg.Driver.TLS.CertFile == "") != (cfg.Driver.TLS.KeyFile == "") {
		return fmt.Errorf("config: tls cert_file and key_file must be set together")
	}
	return nil
}
