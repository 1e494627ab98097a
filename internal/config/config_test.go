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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault_Validates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default() config should validate, got: %v", err)
	}
}

func TestListenConfig_Addr(t *testing.T) {
	tests := []struct {
		name string
		cfg  ListenConfig
		want string
	}{
		{"explicit host and port", ListenConfig{Host: "0.0.0.0", Port: 9000}, "0.0.0.0:9000"},
		{"default host", ListenConfig{Port: 9000}, "127.0.0.1:9000"},
		{"default port", ListenConfig{Host: "0.0.0.0"}, "0.0.0.0:8000"},
		{"all defaults", ListenConfig{}, "127.0.0.1:8000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.Addr(); got != tt.want {
				t.Errorf("Addr() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidate_RejectsBadLogLevel(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "verbose"

	if err := cfg.Validate(); err == nil {
		t.Error("Validate() should reject an unrecognized log level")
	}
}

func TestValidate_RejectsEmptyDataRoot(t *testing.T) {
	cfg := Default()
	cfg.DataRoot = ""

	if err := cfg.Validate(); err == nil {
		t.Error("Validate() should reject an empty data_root")
	}
}

func TestValidate_RejectsOutOfRangePort(t *testing.T) {
	cfg := Default()
	cfg.Listen.Port = 70000

	if err := cfg.Validate(); err == nil {
		t.Error("Validate() should reject a port outside 1-65535")
	}
}

func TestValidate_RejectsInvertedRemotePortRange(t *testing.T) {
	cfg := Default()
	cfg.Remote.PortRangeStart = 19000
	cfg.Remote.PortRangeEnd = 18000

	if err := cfg.Validate(); err == nil {
		t.Error("Validate() should reject an inverted remote port range")
	}
}

func TestValidate_RejectsNonPositiveRateLimit(t *testing.T) {
	cfg := Default()
	cfg.RateLimit.Metrics.RequestsPerSecond = 0

	if err := cfg.Validate(); err == nil {
		t.Error("Validate() should reject a non-positive rate limit")
	}
}

func TestLoad_FromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlContent := `
data_root: /tmp/my-runs
listen:
  host: 0.0.0.0
  port: 9090
metrics_cache_size: 128
`
	if err := os.WriteFile(path, []byte(yamlContent), 0600); err != nil {
		t.Fatalf("write test config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DataRoot != "/tmp/my-runs" {
		t.Errorf("DataRoot = %q, want %q", cfg.DataRoot, "/tmp/my-runs")
	}
	if cfg.Listen.Port != 9090 {
		t.Errorf("Listen.Port = %d, want 9090", cfg.Listen.Port)
	}
	if cfg.MetricsCacheSize != 128 {
		t.Errorf("MetricsCacheSize = %d, want 128", cfg.MetricsCacheSize)
	}
	// Values absent from the file keep their defaults.
	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want default %q", cfg.Log.Format, "json")
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("data_root: /tmp/from-file\n"), 0600); err != nil {
		t.Fatalf("write test config: %v", err)
	}

	t.Setenv("RUNICORN_DATA_ROOT", "/tmp/from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DataRoot != "/tmp/from-env" {
		t.Errorf("DataRoot = %q, want env override %q", cfg.DataRoot, "/tmp/from-env")
	}
}

func TestLoad_RejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("listen:\n  port: 99999\n"), 0600); err != nil {
		t.Fatalf("write test config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Error("Load() should reject a config with an invalid port")
	}
}

func TestStaleSweepConfig_Defaults(t *testing.T) {
	cfg := Default()
	if cfg.StaleSweep.Interval != 30*time.Second {
		t.Errorf("StaleSweep.Interval = %v, want 30s", cfg.StaleSweep.Interval)
	}
	if cfg.StaleSweep.IdleThreshold != 120*time.Second {
		t.Errorf("StaleSweep.IdleThreshold = %v, want 120s", cfg.StaleSweep.IdleThreshold)
	}
}
