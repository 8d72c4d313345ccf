// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config loads the gateway configuration from YAML and the
// environment and resolves the upstream API key.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. STREAMGW_LOG_LEVEL.
const EnvPrefix = "STREAMGW"

// Config is the root configuration.
type Config struct {
	Listen   ListenConfig   `mapstructure:"listen" yaml:"listen"`
	Upstream UpstreamConfig `mapstructure:"upstream" yaml:"upstream"`
	Engine   EngineConfig   `mapstructure:"engine" yaml:"engine"`
	Relay    RelayConfig    `mapstructure:"relay" yaml:"relay"`
	Sessions SessionsConfig `mapstructure:"sessions" yaml:"sessions"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
	Tracing  TracingConfig  `mapstructure:"tracing" yaml:"tracing"`
}

// ListenConfig is the client-facing socket.
type ListenConfig struct {
	Host    string `mapstructure:"host" yaml:"host"`
	Port    int    `mapstructure:"port" yaml:"port"`
	Backlog int    `mapstructure:"backlog" yaml:"backlog"`
	// PollWindow bounds one non-blocking attempt on client sockets.
	PollWindow time.Duration `mapstructure:"poll_window" yaml:"poll_window"`
}

// UpstreamConfig is the TLS API endpoint and its credentials.
type UpstreamConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`

	// APIKey is the last fallback after the env file and API_KEY.
	APIKey string `mapstructure:"api_key" yaml:"api_key"`
	// EnvFile holds KEY=VALUE lines; API_KEY is read from it.
	EnvFile string `mapstructure:"env_file" yaml:"env_file"`
	// WatchEnvFile reloads the key when EnvFile changes.
	WatchEnvFile bool `mapstructure:"watch_env_file" yaml:"watch_env_file"`

	TLS              TLSConfig     `mapstructure:"tls" yaml:"tls"`
	DialTimeout      time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout" yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	PollWindow       time.Duration `mapstructure:"poll_window" yaml:"poll_window"`
}

// TLSConfig configures upstream verification.
type TLSConfig struct {
	ServerName         string `mapstructure:"server_name" yaml:"server_name"`
	MinVersion         string `mapstructure:"min_version" yaml:"min_version"`
	CAFile             string `mapstructure:"ca_file" yaml:"ca_file"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify" yaml:"insecure_skip_verify"`
}

// EngineConfig sizes the blocking-operation queue.
type EngineConfig struct {
	// Workers defaults to the number of CPUs when zero.
	Workers         int           `mapstructure:"workers" yaml:"workers"`
	Capacity        int           `mapstructure:"capacity" yaml:"capacity"`
	RetryInitial    time.Duration `mapstructure:"retry_initial" yaml:"retry_initial"`
	RetryMax        time.Duration `mapstructure:"retry_max" yaml:"retry_max"`
	RetryMultiplier float64       `mapstructure:"retry_multiplier" yaml:"retry_multiplier"`
	// OpTimeout fails an operation that keeps reporting would-block.
	// Zero waits forever.
	OpTimeout time.Duration `mapstructure:"op_timeout" yaml:"op_timeout"`
}

// RelayConfig bounds what one exchange may buffer.
type RelayConfig struct {
	MaxRequestBytes int   `mapstructure:"max_request_bytes" yaml:"max_request_bytes"`
	ReceiveSize     int   `mapstructure:"receive_size" yaml:"receive_size"`
	MaxBodyBytes    int64 `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
}

// SessionsConfig controls reclamation of finished sessions.
type SessionsConfig struct {
	// SweepSchedule is a cron spec or descriptor such as "@every 5s".
	SweepSchedule string `mapstructure:"sweep_schedule" yaml:"sweep_schedule"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level" yaml:"level"`
	// Format: console or json
	Format string `mapstructure:"format" yaml:"format"`
	// Outputs: stdout, stderr, or file paths
	Outputs     []string       `mapstructure:"outputs" yaml:"outputs"`
	Rotation    RotationConfig `mapstructure:"rotation" yaml:"rotation"`
	Development bool           `mapstructure:"development" yaml:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable" yaml:"enable"`
	Filename   string `mapstructure:"filename" yaml:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// MetricsConfig exposes prometheus metrics over HTTP.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen    string `mapstructure:"listen" yaml:"listen"`
	Path      string `mapstructure:"path" yaml:"path"`
	Namespace string `mapstructure:"namespace" yaml:"namespace"`
}

// TracingConfig selects the tracer used for exchange spans. Export is
// left to whatever provider the process installs globally.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
}

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{
			Host:       "0.0.0.0",
			Port:       38763,
			Backlog:    5,
			PollWindow: time.Millisecond,
		},
		Upstream: UpstreamConfig{
			Host:             "generativelanguage.googleapis.com",
			Port:             443,
			EnvFile:          ".env",
			WatchEnvFile:     true,
			TLS:              TLSConfig{MinVersion: "1.2"},
			DialTimeout:      10 * time.Second,
			HandshakeTimeout: 10 * time.Second,
			WriteTimeout:     30 * time.Second,
			PollWindow:       time.Millisecond,
		},
		Engine: EngineConfig{
			Capacity:        64,
			RetryInitial:    100 * time.Microsecond,
			RetryMax:        10 * time.Millisecond,
			RetryMultiplier: 2,
		},
		Relay: RelayConfig{
			MaxRequestBytes: 1 << 20,
			ReceiveSize:     4096,
			MaxBodyBytes:    16 << 20,
		},
		Sessions: SessionsConfig{SweepSchedule: "@every 5s"},
		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stdout"},
			Rotation: RotationConfig{
				Filename:   "logs/streamgw.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Metrics: MetricsConfig{
			Listen:    "127.0.0.1:9090",
			Path:      "/metrics",
			Namespace: "streamgw",
		},
		Tracing: TracingConfig{ServiceName: "streamgw"},
	}
}

// Load reads configuration from path, or when path is empty from
// $STREAMGW_CONFIG or streamgw.yaml in ., ./configs and
// $HOME/.streamgw. A missing file is not an error. Environment
// variables override the file, e.g. STREAMGW_UPSTREAM_PORT=8443.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v, cfg)

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("streamgw")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".streamgw"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MustLoad is Load that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

// setDefaults seeds every key so env-only configuration works.
func setDefaults(v *viper.Viper, c *Config) {
	v.SetDefault("listen.host", c.Listen.Host)
	v.SetDefault("listen.port", c.Listen.Port)
	v.SetDefault("listen.backlog", c.Listen.Backlog)
	v.SetDefault("listen.poll_window", c.Listen.PollWindow)

	v.SetDefault("upstream.host", c.Upstream.Host)
	v.SetDefault("upstream.port", c.Upstream.Port)
	v.SetDefault("upstream.api_key", c.Upstream.APIKey)
	v.SetDefault("upstream.env_file", c.Upstream.EnvFile)
	v.SetDefault("upstream.watch_env_file", c.Upstream.WatchEnvFile)
	v.SetDefault("upstream.tls.server_name", c.Upstream.TLS.ServerName)
	v.SetDefault("upstream.tls.min_version", c.Upstream.TLS.MinVersion)
	v.SetDefault("upstream.tls.ca_file", c.Upstream.TLS.CAFile)
	v.SetDefault("upstream.tls.insecure_skip_verify", c.Upstream.TLS.InsecureSkipVerify)
	v.SetDefault("upstream.dial_timeout", c.Upstream.DialTimeout)
	v.SetDefault("upstream.handshake_timeout", c.Upstream.HandshakeTimeout)
	v.SetDefault("upstream.write_timeout", c.Upstream.WriteTimeout)
	v.SetDefault("upstream.poll_window", c.Upstream.PollWindow)

	v.SetDefault("engine.workers", c.Engine.Workers)
	v.SetDefault("engine.capacity", c.Engine.Capacity)
	v.SetDefault("engine.retry_initial", c.Engine.RetryInitial)
	v.SetDefault("engine.retry_max", c.Engine.RetryMax)
	v.SetDefault("engine.retry_multiplier", c.Engine.RetryMultiplier)
	v.SetDefault("engine.op_timeout", c.Engine.OpTimeout)

	v.SetDefault("relay.max_request_bytes", c.Relay.MaxRequestBytes)
	v.SetDefault("relay.receive_size", c.Relay.ReceiveSize)
	v.SetDefault("relay.max_body_bytes", c.Relay.MaxBodyBytes)

	v.SetDefault("sessions.sweep_schedule", c.Sessions.SweepSchedule)

	v.SetDefault("log.level", c.Log.Level)
	v.SetDefault("log.format", c.Log.Format)
	v.SetDefault("log.outputs", c.Log.Outputs)
	v.SetDefault("log.development", c.Log.Development)
	v.SetDefault("log.rotation.enable", c.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", c.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", c.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", c.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", c.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", c.Log.Rotation.Compress)

	v.SetDefault("metrics.enabled", c.Metrics.Enabled)
	v.SetDefault("metrics.listen", c.Metrics.Listen)
	v.SetDefault("metrics.path", c.Metrics.Path)
	v.SetDefault("metrics.namespace", c.Metrics.Namespace)

	v.SetDefault("tracing.enabled", c.Tracing.Enabled)
	v.SetDefault("tracing.service_name", c.Tracing.ServiceName)
}

// Validate checks ranges and normalizes empty optional fields.
func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "":
		c.Log.Format = "console"
	case "console", "json":
	default:
		return fmt.Errorf("invalid log.format: %q", c.Log.Format)
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}

	if c.Listen.Port < 0 || c.Listen.Port > 65535 {
		return fmt.Errorf("invalid listen.port: %d", c.Listen.Port)
	}
	if c.Listen.Backlog <= 0 {
		c.Listen.Backlog = 5
	}
	if strings.TrimSpace(c.Upstream.Host) == "" {
		return errors.New("upstream.host is required")
	}
	if c.Upstream.Port <= 0 || c.Upstream.Port > 65535 {
		return fmt.Errorf("invalid upstream.port: %d", c.Upstream.Port)
	}
	switch c.Upstream.TLS.MinVersion {
	case "", "1.2", "1.3":
	default:
		return fmt.Errorf("invalid upstream.tls.min_version: %q (want 1.2 or 1.3)", c.Upstream.TLS.MinVersion)
	}

	if c.Engine.Workers < 0 {
		return fmt.Errorf("invalid engine.workers: %d", c.Engine.Workers)
	}
	if c.Engine.RetryMultiplier != 0 && c.Engine.RetryMultiplier < 1 {
		return fmt.Errorf("invalid engine.retry_multiplier: %g", c.Engine.RetryMultiplier)
	}
	if c.Engine.RetryMax > 0 && c.Engine.RetryMax < c.Engine.RetryInitial {
		return errors.New("engine.retry_max is below engine.retry_initial")
	}

	if c.Relay.MaxRequestBytes <= 0 {
		return fmt.Errorf("invalid relay.max_request_bytes: %d", c.Relay.MaxRequestBytes)
	}
	if c.Relay.ReceiveSize <= 0 {
		return fmt.Errorf("invalid relay.receive_size: %d", c.Relay.ReceiveSize)
	}

	if _, err := cron.ParseStandard(c.Sessions.SweepSchedule); err != nil {
		return fmt.Errorf("invalid sessions.sweep_schedule %q: %w", c.Sessions.SweepSchedule, err)
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("invalid metrics.path: %q", c.Metrics.Path)
	}
	return nil
}

// YAML renders the configuration with the API key redacted.
func (c *Config) YAML() ([]byte, error) {
	out := *c
	if out.Upstream.APIKey != "" {
		out.Upstream.APIKey = "<redacted>"
	}
	return yaml.Marshal(&out)
}
