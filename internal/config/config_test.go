// Sentinel - Community Security Operations Automation
// Copyright 2026 Sentinel Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sentinel-ops/sentinel

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsAreValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default configuration invalid: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"missing store path", func(c *Config) { c.Store.Path = ""; c.Store.InMemory = false }},
		{"zero inbox", func(c *Config) { c.Bus.InboxSize = 0 }},
		{"bad overflow policy", func(c *Config) { c.Bus.OverflowPolicy = "drop_newest" }},
		{"zero aggregation window", func(c *Config) { c.Escalation.AggregationWindow = 0 }},
		{"notify level too low", func(c *Config) { c.Escalation.NotifyLevel = 0 }},
		{"notify level too high", func(c *Config) { c.Escalation.NotifyLevel = 6 }},
		{"threshold above one", func(c *Config) { c.Quarantine.AutoThreshold = 1.2 }},
		{"empty isolation channel", func(c *Config) { c.Quarantine.IsolationChannel = "" }},
		{"zero sweep interval", func(c *Config) { c.Blacklist.SweepInterval = 0 }},
		{"zero appeal limit", func(c *Config) { c.Blacklist.AppealLimit = 0 }},
		{"zero rate limit", func(c *Config) { c.Platform.RequestsPerSecond = 0 }},
		{"port out of range", func(c *Config) { c.API.Port = 70000 }},
		{"short jwt secret", func(c *Config) { c.API.JWTSecret = "tooshort" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation failure")
			}
		})
	}

	// In-memory mode needs no path.
	cfg := Default()
	cfg.Store.Path = ""
	cfg.Store.InMemory = true
	if err := cfg.Validate(); err != nil {
		t.Errorf("in-memory config rejected: %v", err)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SENTINEL_LOG_LEVEL", "debug")
	t.Setenv("SENTINEL_BUS_INBOX_SIZE", "512")
	t.Setenv("SENTINEL_BUS_OVERFLOW_POLICY", "drop_oldest")
	t.Setenv("SENTINEL_QUARANTINE_AUTO_THRESHOLD", "0.9")
	t.Setenv("SENTINEL_BLACKLIST_APPEAL_WINDOW", "168h")
	t.Setenv("SENTINEL_API_CORS_ORIGINS", "https://ops.example.com, https://staging.example.com")
	// Unmapped keys must not leak into the configuration.
	t.Setenv("SENTINEL_TOTALLY_BOGUS", "boom")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("logging.level = %q", cfg.Logging.Level)
	}
	if cfg.Bus.InboxSize != 512 {
		t.Errorf("bus.inbox_size = %d", cfg.Bus.InboxSize)
	}
	if cfg.Bus.OverflowPolicy != "drop_oldest" {
		t.Errorf("bus.overflow_policy = %q", cfg.Bus.OverflowPolicy)
	}
	if cfg.Quarantine.AutoThreshold != 0.9 {
		t.Errorf("quarantine.auto_threshold = %v", cfg.Quarantine.AutoThreshold)
	}
	if cfg.Blacklist.AppealWindow != 168*time.Hour {
		t.Errorf("blacklist.appeal_window = %v", cfg.Blacklist.AppealWindow)
	}
	want := []string{"https://ops.example.com", "https://staging.example.com"}
	if len(cfg.API.CORSOrigins) != len(want) {
		t.Fatalf("api.cors_origins = %v", cfg.API.CORSOrigins)
	}
	for i := range want {
		if cfg.API.CORSOrigins[i] != want[i] {
			t.Errorf("cors origin %d = %q, want %q", i, cfg.API.CORSOrigins[i], want[i])
		}
	}

	// Unset fields keep their defaults.
	if cfg.API.Port != 8420 {
		t.Errorf("api.port = %d, want default", cfg.API.Port)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := []byte("escalation:\n  notify_level: 5\n  on_call: responder-1\napi:\n  port: 9000\n")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, path)
	// Environment still wins over the file.
	t.Setenv("SENTINEL_API_PORT", "9100")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Escalation.NotifyLevel != 5 || cfg.Escalation.OnCall != "responder-1" {
		t.Errorf("escalation = %+v", cfg.Escalation)
	}
	if cfg.API.Port != 9100 {
		t.Errorf("api.port = %d, want env override 9100", cfg.API.Port)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("SENTINEL_BUS_OVERFLOW_POLICY", "yolo")
	if _, err := Load(); err == nil {
		t.Fatal("expected Load to reject invalid overflow policy")
	}
}

func TestAddr(t *testing.T) {
	a := APIConfig{Host: "127.0.0.1", Port: 8420}
	if got := a.Addr(); got != "127.0.0.1:8420" {
		t.Fatalf("Addr() = %q", got)
	}
}
