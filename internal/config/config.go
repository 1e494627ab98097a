// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads and validates the tracker's configuration: the
// data root, query server listener, rate limits, metrics cache size,
// stale-run sweep cadence, and remote-viewer SSH settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	runicornerrors "github.com/Skydoge-zjm/runicorn/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned when configuration validation fails.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config is the complete tracker configuration.
type Config struct {
	// Version indicates the config format version (1 = initial public release).
	Version int `yaml:"version,omitempty"`

	// DataRoot is the directory holding one subdirectory per run plus the
	// derived SQLite index and asset store. Default: ~/.config/runicorn/runs.
	DataRoot string `yaml:"data_root"`

	Log       LogConfig       `yaml:"log"`
	Listen    ListenConfig    `yaml:"listen"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// MetricsCacheSize bounds the in-process LRU of parsed metrics series,
	// keyed by (run id, source file size). Default: 64.
	MetricsCacheSize int `yaml:"metrics_cache_size"`

	StaleSweep StaleSweepConfig `yaml:"stale_sweep"`
	Remote     RemoteConfig     `yaml:"remote"`
}

// LogConfig configures structured logging output.
type LogConfig struct {
	// Level sets the minimum log level (debug, info, warn, error).
	// Environment: LOG_LEVEL. Default: info.
	Level string `yaml:"level"`

	// Format sets the output format (json, text).
	// Environment: LOG_FORMAT. Default: json.
	Format string `yaml:"format"`

	// AddSource adds source file and line information to logs.
	// Environment: LOG_SOURCE. Default: false.
	AddSource bool `yaml:"add_source"`
}

// ListenConfig configures the query/streaming server's socket.
type ListenConfig struct {
	// Host is the bind address. Default: 127.0.0.1.
	Host string `yaml:"host"`

	// Port is the bind port. Default: 8000.
	Port int `yaml:"port"`

	// AllowRemote permits binding to a non-loopback address. Refused
	// unless explicitly set, since the API carries no authentication.
	AllowRemote bool `yaml:"allow_remote"`

	TLSCert string `yaml:"tls_cert,omitempty"`
	TLSKey  string `yaml:"tls_key,omitempty"`
}

// Addr returns the host:port pair NewListener expects.
func (l ListenConfig) Addr() string {
	host := l.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := l.Port
	if port == 0 {
		port = 8000
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// RateLimitConfig configures per-endpoint-class request limits, each
// expressed as a token-bucket rate (requests/second) and burst size.
type RateLimitConfig struct {
	// Default applies to endpoints not covered by a more specific class.
	Default RateLimitRule `yaml:"default"`

	// Metrics applies to /runs/{id}/metrics, the single most frequently
	// polled endpoint during an active run.
	Metrics RateLimitRule `yaml:"metrics"`

	// Write applies to ingest-adjacent mutation endpoints (delete, export).
	Write RateLimitRule `yaml:"write"`
}

// RateLimitRule is a single token-bucket configuration.
type RateLimitRule struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// StaleSweepConfig configures the background sweep that marks runs whose
// writer process has died without calling Finish as "stale".
type StaleSweepConfig struct {
	// Interval is how often the sweep runs. Default: 30s.
	Interval time.Duration `yaml:"interval"`

	// IdleThreshold is how long a run's heartbeat may go unrefreshed
	// before it is considered stale. Default: 120s.
	IdleThreshold time.Duration `yaml:"idle_threshold"`
}

// RemoteConfig configures the SSH-based remote-viewer controller.
type RemoteConfig struct {
	// PortRangeStart/PortRangeEnd bound the local forwarded ports tried
	// when opening a tunnel. Default: 18000-18999.
	PortRangeStart int `yaml:"port_range_start"`
	PortRangeEnd   int `yaml:"port_range_end"`

	// KnownHostsPath overrides the dedicated known-hosts store used for
	// remote-viewer host-key verification. Default: <config dir>/known_hosts.
	KnownHostsPath string `yaml:"known_hosts_path,omitempty"`

	// SSHPath overrides the ssh binary used for the external-binary
	// tunnel backend. Default: resolved from PATH.
	SSHPath string `yaml:"ssh_path,omitempty"`

	// ConnectTimeout bounds how long a connection attempt may take
	// before it is reported as a connection_timeout failure.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	dataRoot := defaultDataRoot()
	knownHosts := ""
	if dir, err := ConfigDir(); err == nil {
		knownHosts = filepath.Join(dir, "known_hosts")
	}

	return &Config{
		Version:  1,
		DataRoot: dataRoot,
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Listen: ListenConfig{
			Host:        "127.0.0.1",
			Port:        8000,
			AllowRemote: false,
		},
		RateLimit: RateLimitConfig{
			Default: RateLimitRule{RequestsPerSecond: 20, Burst: 40},
			Metrics: RateLimitRule{RequestsPerSecond: 10, Burst: 20},
			Write:   RateLimitRule{RequestsPerSecond: 2, Burst: 4},
		},
		MetricsCacheSize: 64,
		StaleSweep: StaleSweepConfig{
			Interval:      30 * time.Second,
			IdleThreshold: 120 * time.Second,
		},
		Remote: RemoteConfig{
			PortRangeStart: 18000,
			PortRangeEnd:   18999,
			KnownHostsPath: knownHosts,
			ConnectTimeout: 15 * time.Second,
		},
	}
}

// Load loads configuration from environment variables and, if present, a
// YAML file. Environment variables take precedence over file values.
// If configPath is empty, the default config file location is tried.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath == "" {
		if defaultPath, err := ConfigPath(); err == nil {
			if _, statErr := os.Stat(defaultPath); statErr == nil {
				configPath = defaultPath
			}
		}
	}

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, &runicornerrors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", configPath),
				Cause:  err,
			}
		}
	}

	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, &runicornerrors.ConfigError{
			Key:    "validation",
			Reason: "configuration validation failed",
			Cause:  err,
		}
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	return nil
}

// loadFromEnv overrides file/default values from environment variables.
func (c *Config) loadFromEnv() {
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_SOURCE"); val != "" {
		c.Log.AddSource = val == "1" || strings.ToLower(val) == "true"
	}

	if val := os.Getenv("RUNICORN_DIR"); val != "" {
		c.DataRoot = val
	}
	if val := os.Getenv("RUNICORN_DATA_ROOT"); val != "" {
		c.DataRoot = val
	}
	if val := os.Getenv("RUNICORN_HOST"); val != "" {
		c.Listen.Host = val
	}
	if val := os.Getenv("RUNICORN_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Listen.Port = port
		}
	}
	if val := os.Getenv("RUNICORN_ALLOW_REMOTE"); val != "" {
		c.Listen.AllowRemote = val == "1" || strings.ToLower(val) == "true"
	}
	if val := os.Getenv("RUNICORN_METRICS_CACHE_SIZE"); val != "" {
		if size, err := strconv.Atoi(val); err == nil {
			c.MetricsCacheSize = size
		}
	}
	if val := os.Getenv("RUNICORN_STALE_SWEEP_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.StaleSweep.Interval = d
		}
	}
	if val := os.Getenv("RUNICORN_STALE_IDLE_THRESHOLD"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.StaleSweep.IdleThreshold = d
		}
	}
	if val := os.Getenv("RUNICORN_SSH_PATH"); val != "" {
		c.Remote.SSHPath = val
	}
	if val := os.Getenv("RUNICORN_KNOWN_HOSTS"); val != "" {
		c.Remote.KnownHostsPath = val
	}
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	var errs []string

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("log.level must be one of [debug, info, warn, warning, error], got %q", c.Log.Level))
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("log.format must be one of [json, text], got %q", c.Log.Format))
	}

	if c.DataRoot == "" {
		errs = append(errs, "data_root must not be empty")
	}
	if c.Listen.Port <= 0 || c.Listen.Port > 65535 {
		errs = append(errs, fmt.Sprintf("listen.port must be between 1 and 65535, got %d", c.Listen.Port))
	}
	if c.MetricsCacheSize <= 0 {
		errs = append(errs, fmt.Sprintf("metrics_cache_size must be positive, got %d", c.MetricsCacheSize))
	}
	if c.StaleSweep.Interval <= 0 {
		errs = append(errs, "stale_sweep.interval must be positive")
	}
	if c.StaleSweep.IdleThreshold <= c.StaleSweep.Interval {
		errs = append(errs, "stale_sweep.idle_threshold should exceed stale_sweep.interval to avoid spurious stale marks")
	}
	if c.Remote.PortRangeStart <= 0 || c.Remote.PortRangeEnd <= c.Remote.PortRangeStart {
		errs = append(errs, fmt.Sprintf("remote.port_range_start/end must form a valid, non-empty range, got %d-%d", c.Remote.PortRangeStart, c.Remote.PortRangeEnd))
	}

	for _, rule := range []struct {
		name string
		r    RateLimitRule
	}{
		{"rate_limit.default", c.RateLimit.Default},
		{"rate_limit.metrics", c.RateLimit.Metrics},
		{"rate_limit.write", c.RateLimit.Write},
	} {
		if rule.r.RequestsPerSecond <= 0 {
			errs = append(errs, fmt.Sprintf("%s.requests_per_second must be positive", rule.name))
		}
		if rule.r.Burst <= 0 {
			errs = append(errs, fmt.Sprintf("%s.burst must be positive", rule.name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return nil
}

func defaultDataRoot() string {
	if dir, err := ConfigDir(); err == nil {
		return filepath.Join(dir, "runs")
	}
	return "./runicorn-runs"
}
