// Sentinel - Community Security Operations Automation
// Copyright 2026 Sentinel Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sentinel-ops/sentinel

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, first hit wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/sentinel/config.yaml",
	"/etc/sentinel/config.yml",
}

// ConfigPathEnvVar overrides the config file search.
const ConfigPathEnvVar = "SENTINEL_CONFIG_PATH"

// envPrefix namespaces all environment overrides.
const envPrefix = "SENTINEL_"

// Default returns the built-in defaults, applied before file and env layers.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Store: StoreConfig{
			Path:       "/data/sentinel",
			InMemory:   false,
			GCInterval: 10 * time.Minute,
		},
		Bus: BusConfig{
			InboxSize:      256,
			OverflowPolicy: "block",
			CloseTimeout:   10 * time.Second,
		},
		Escalation: EscalationConfig{
			AggregationWindow: 30 * time.Second,
			NotifyLevel:       4,
			TimeoutDuration:   10 * time.Minute,
			OnCall:            "",
		},
		Quarantine: QuarantineConfig{
			AutoThreshold:    0.85,
			IsolationChannel: "quarantine",
		},
		Blacklist: BlacklistConfig{
			SweepInterval: time.Minute,
			AppealLimit:   3,
			AppealWindow:  30 * 24 * time.Hour,
		},
		Platform: PlatformConfig{
			RequestsPerSecond: 10,
			Burst:             20,
			FailureThreshold:  5,
			OpenTimeout:       30 * time.Second,
		},
		API: APIConfig{
			Host:            "0.0.0.0",
			Port:            8420,
			Timeout:         30 * time.Second,
			JWTSecret:       "",
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
		},
	}
}

// Load builds the configuration from layered sources:
//  1. Built-in defaults
//  2. Optional YAML config file
//  3. SENTINEL_-prefixed environment variables (highest priority)
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	// SENTINEL_BUS_INBOX_SIZE -> bus.inbox_size, etc.
	if err := k.Load(env.Provider(envPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration invalid: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths lists config paths that arrive from env vars as
// comma-separated strings but unmarshal as slices.
var sliceConfigPaths = []string{
	"api.cors_origins",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envTransformFunc maps SENTINEL_* environment variables onto koanf paths.
// Unknown keys return empty string so stray environment variables cannot
// pollute the configuration.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))

	envMappings := map[string]string{
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",

		"store_path":        "store.path",
		"store_in_memory":   "store.in_memory",
		"store_gc_interval": "store.gc_interval",

		"bus_inbox_size":      "bus.inbox_size",
		"bus_overflow_policy": "bus.overflow_policy",
		"bus_close_timeout":   "bus.close_timeout",

		"escalation_aggregation_window": "escalation.aggregation_window",
		"escalation_notify_level":       "escalation.notify_level",
		"escalation_timeout_duration":   "escalation.timeout_duration",
		"escalation_on_call":            "escalation.on_call",

		"quarantine_auto_threshold":    "quarantine.auto_threshold",
		"quarantine_isolation_channel": "quarantine.isolation_channel",

		"blacklist_sweep_interval": "blacklist.sweep_interval",
		"blacklist_appeal_limit":   "blacklist.appeal_limit",
		"blacklist_appeal_window":  "blacklist.appeal_window",

		"platform_requests_per_second": "platform.requests_per_second",
		"platform_burst":               "platform.burst",
		"platform_failure_threshold":   "platform.failure_threshold",
		"platform_open_timeout":        "platform.open_timeout",

		"api_host":              "api.host",
		"api_port":              "api.port",
		"api_timeout":           "api.timeout",
		"api_jwt_secret":        "api.jwt_secret",
		"api_cors_origins":      "api.cors_origins",
		"api_rate_limit_reqs":   "api.rate_limit_reqs",
		"api_rate_limit_window": "api.rate_limit_window",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}
