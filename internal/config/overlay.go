package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/amqpengine/internal/driver"
)

func overlay(cfg Config, raw fileConfig, meta toml.MetaData) (Config, error) {
	var err error
	if meta.IsDefined("addr") {
		cfg.Addr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("transport") {
		cfg.Transport = strings.ToLower(strings.TrimSpace(raw.Transport))
	}
	if meta.IsDefined("address") {
		cfg.Address = strings.TrimSpace(raw.Address)
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}
	if meta.IsDefined("metrics_token") {
		cfg.MetricsToken = strings.TrimSpace(raw.MetricsToken)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(raw.LogLevel))
	}

	if meta.IsDefined("container_id") {
		cfg.Engine.ContainerID = strings.TrimSpace(raw.ContainerID)
	}
	if meta.IsDefined("virtual_host") {
		cfg.Engine.VirtualHost = strings.TrimSpace(raw.VirtualHost)
	}
	if meta.IsDefined("max_frame_size") {
		if raw.MaxFrameSize <= 0 || raw.MaxFrameSize > math.MaxUint32 {
			return cfg, fmt.Errorf("max_frame_size out of range: %d", raw.MaxFrameSize)
		}
		cfg.Engine.MaxFrameSize = uint32(raw.MaxFrameSize)
	}
	if meta.IsDefined("max_sessions") {
		if raw.MaxSessions <= 0 || raw.MaxSessions > math.MaxUint16 {
			return cfg, fmt.Errorf("max_sessions out of range: %d", raw.MaxSessions)
		}
		cfg.Engine.MaxSessions = uint16(raw.MaxSessions)
	}
	if meta.IsDefined("idle_timeout") {
		if cfg.Engine.IdleTimeout, err = duration("idle_timeout", raw.IdleTimeout); err != nil {
			return cfg, err
		}
	}
	if meta.IsDefined("credit_window") {
		cfg.Engine.CreditWindow = raw.CreditWindow
	}
	if meta.IsDefined("auto_accept") {
		cfg.Engine.DisableAutoAccept = !raw.AutoAccept
	}
	if meta.IsDefined("auto_settle") {
		cfg.Engine.DisableAutoSettle = !raw.AutoSettle
	}

	if meta.IsDefined("connect_timeout") {
		if cfg.Driver.ConnectTimeout, err = duration("connect_timeout", raw.ConnectTimeout); err != nil {
			return cfg, err
		}
	}
	if meta.IsDefined("handshake_timeout") {
		if cfg.Driver.HandshakeTimeout, err = duration("handshake_timeout", raw.HandshakeTimeout); err != nil {
			return cfg, err
		}
	}
	if meta.IsDefined("write_timeout") {
		if cfg.Driver.WriteTimeout, err = duration("write_timeout", raw.WriteTimeout); err != nil {
			return cfg, err
		}
	}
	if meta.IsDefined("max_connect_attempts") {
		cfg.Driver.MaxConnectAttempts = raw.MaxConnectAttempts
	}
	if meta.IsDefined("security_mode") {
		cfg.Driver.SecurityMode = driver.SecurityMode(strings.ToLower(strings.TrimSpace(raw.SecurityMode)))
	}

	if meta.IsDefined("tls", "enabled") {
		cfg.Driver.TLS.Enabled = raw.TLS.Enabled
	}
	if meta.IsDefined("tls", "mutual") {
		cfg.Driver.TLS.Mutual = raw.TLS.Mutual
	}
	if meta.IsDefined("tls", "cert_file") {
		cfg.Driver.TLS.CertFile = strings.TrimSpace(raw.TLS.CertFile)
	}
	if meta.IsDefined("tls", "key_file") {
		cfg.Driver.TLS.KeyFile = strings.TrimSpace(raw.TLS.KeyFile)
	}
	if meta.IsDefined("tls", "ca_file") {
		cfg.Driver.TLS.CAFile = strings.TrimSpace(raw.TLS.CAFile)
	}
	if meta.IsDefined("tls", "server_name") {
		cfg.Driver.TLS.ServerName = strings.TrimSpace(raw.TLS.ServerName)
	}
	if meta.IsDefined("tls", "insecure_skip_verify") {
		cfg.Driver.TLS.InsecureSkipVerify = raw.TLS.InsecureSkipVerify
	}

	if meta.IsDefined("backoff", "initial_delay") {
		if cfg.Driver.Backoff.InitialDelay, err = duration("backoff.initial_delay", raw.Backoff.InitialDelay); err != nil {
			return cfg, err
		}
	}
	if meta.IsDefined("backoff", "multiplier") {
		cfg.Driver.Backoff.Multiplier = raw.Backoff.Multiplier
	}
	if meta.IsDefined("backoff", "max_delay") {
		if cfg.Driver.Backoff.MaxDelay, err = duration("backoff.max_delay", raw.Backoff.MaxDelay); err != nil {
			return cfg, err
		}
	}
	if meta.IsDefined("backoff", "jitter") {
		cfg.Driver.Backoff.Jitter = raw.Backoff.Jitter
	}
	return cfg, nil
}

func duration(key, value string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}
