// Copyright 2026 The Gateway Provisioners Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "listener.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing config fixture: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
port_range:
  lower: 47000
  upper: 47999
max_port_retries: 12
cluster_profile: spark
accept_timeout: 2s
`)
	config, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig() error: %v", err)
	}
	if config.PortRange.Lower != 47000 || config.PortRange.Upper != 47999 {
		t.Errorf("PortRange = %+v, want 47000..47999", config.PortRange)
	}
	if config.MaxPortRetries != 12 {
		t.Errorf("MaxPortRetries = %d, want 12", config.MaxPortRetries)
	}
	if config.ClusterProfile != "spark" {
		t.Errorf("ClusterProfile = %q, want spark", config.ClusterProfile)
	}
	if config.acceptTimeout() != 2*time.Second {
		t.Errorf("acceptTimeout() = %v, want 2s", config.acceptTimeout())
	}
}

func TestLoadConfig_InvalidTimeout(t *testing.T) {
	path := writeConfig(t, "accept_timeout: soon\n")
	if _, err := loadConfig(path); err == nil {
		t.Error("loadConfig() accepted an unparseable accept_timeout")
	}
}

func TestMerged_FileOverridesDefaults(t *testing.T) {
	loaded := listenerConfig{MaxPortRetries: 9}
	merged := defaultConfig().merged(loaded)
	if merged.MaxPortRetries != 9 {
		t.Errorf("MaxPortRetries = %d, want 9", merged.MaxPortRetries)
	}
	if merged.ClusterProfile != "none" {
		t.Errorf("ClusterProfile = %q, want default none", merged.ClusterProfile)
	}
}

func TestApplyEnvironment(t *testing.T) {
	config := defaultConfig()
	config.applyEnvironment([]string{"MAX_PORT_RANGE_RETRIES=11"})
	if config.MaxPortRetries != 11 {
		t.Errorf("MaxPortRetries = %d, want 11 from environment", config.MaxPortRetries)
	}

	// The environment never overrides an explicit file value.
	config = defaultConfig()
	config.MaxPortRetries = 3
	config.applyEnvironment([]string{"MAX_PORT_RANGE_RETRIES=11"})
	if config.MaxPortRetries != 3 {
		t.Errorf("MaxPortRetries = %d, want explicit 3 kept", config.MaxPortRetries)
	}
}

func TestLogLevelFromEnvironment(t *testing.T) {
	tests := []struct {
		value string
		want  slog.Level
	}{
		{"", slog.LevelInfo},
		{"debug", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"10", slog.LevelDebug},
		{"20", slog.LevelInfo},
		{"30", slog.LevelWarn},
		{"40", slog.LevelError},
		{"nonsense", slog.LevelInfo},
	}
	for _, test := range tests {
		t.Setenv("LOG_LEVEL", test.value)
		if got := logLevelFromEnvironment(); got != test.want {
			t.Errorf("LOG_LEVEL=%q: level = %v, want %v", test.value, got, test.want)
		}
	}
}
