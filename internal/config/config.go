// Sentinel - Community Security Operations Automation
// Copyright 2026 Sentinel Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sentinel-ops/sentinel

// Package config loads the layered runtime configuration: built-in defaults,
// then an optional YAML file, then SENTINEL_-prefixed environment variables.
package config

import (
	"fmt"
	"time"
)

// Config is the complete runtime configuration.
type Config struct {
	Logging    LoggingConfig    `koanf:"logging"`
	Store      StoreConfig      `koanf:"store"`
	Bus        BusConfig        `koanf:"bus"`
	Escalation EscalationConfig `koanf:"escalation"`
	Quarantine QuarantineConfig `koanf:"quarantine"`
	Blacklist  BlacklistConfig  `koanf:"blacklist"`
	Platform   PlatformConfig   `koanf:"platform"`
	API        APIConfig        `koanf:"api"`
}

// LoggingConfig controls the zerolog output.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// StoreConfig controls the BadgerDB store.
type StoreConfig struct {
	Path       string        `koanf:"path"`
	InMemory   bool          `koanf:"in_memory"`
	GCInterval time.Duration `koanf:"gc_interval"`
}

// BusConfig controls the signal bus.
type BusConfig struct {
	InboxSize      int           `koanf:"inbox_size"`
	OverflowPolicy string        `koanf:"overflow_policy"`
	CloseTimeout   time.Duration `koanf:"close_timeout"`
}

// EscalationConfig controls the escalation engine.
type EscalationConfig struct {
	AggregationWindow time.Duration `koanf:"aggregation_window"`
	NotifyLevel       int           `koanf:"notify_level"`
	TimeoutDuration   time.Duration `koanf:"timeout_duration"`
	OnCall            string        `koanf:"on_call"`
}

// QuarantineConfig controls the quarantine state machine.
type QuarantineConfig struct {
	AutoThreshold    float64 `koanf:"auto_threshold"`
	IsolationChannel string  `koanf:"isolation_channel"`
}

// BlacklistConfig controls the blacklist and appeal workflow.
type BlacklistConfig struct {
	SweepInterval time.Duration `koanf:"sweep_interval"`
	AppealLimit   int           `koanf:"appeal_limit"`
	AppealWindow  time.Duration `koanf:"appeal_window"`
}

// PlatformConfig controls the resilient platform client wrapper.
type PlatformConfig struct {
	RequestsPerSecond float64       `koanf:"requests_per_second"`
	Burst             int           `koanf:"burst"`
	FailureThreshold  uint32        `koanf:"failure_threshold"`
	OpenTimeout       time.Duration `koanf:"open_timeout"`
}

// APIConfig controls the HTTP operator surface.
type APIConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	Timeout         time.Duration `koanf:"timeout"`
	JWTSecret       string        `koanf:"jwt_secret"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// Addr returns the host:port listen address.
func (a APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// Validate checks invariants that would otherwise surface as confusing
// runtime behavior.
func (c *Config) Validate() error {
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}

	if !c.Store.InMemory && c.Store.Path == "" {
		return fmt.Errorf("store.path is required unless store.in_memory is set")
	}
	if c.Bus.InboxSize <= 0 {
		return fmt.Errorf("bus.inbox_size must be positive, got %d", c.Bus.InboxSize)
	}
	switch c.Bus.OverflowPolicy {
	case "block", "drop_oldest":
	default:
		return fmt.Errorf("bus.overflow_policy must be block or drop_oldest, got %q", c.Bus.OverflowPolicy)
	}

	if c.Escalation.AggregationWindow <= 0 {
		return fmt.Errorf("escalation.aggregation_window must be positive")
	}
	if c.Escalation.NotifyLevel < 1 || c.Escalation.NotifyLevel > 5 {
		return fmt.Errorf("escalation.notify_level must be within [1,5], got %d", c.Escalation.NotifyLevel)
	}

	if c.Quarantine.AutoThreshold < 0 || c.Quarantine.AutoThreshold > 1 {
		return fmt.Errorf("quarantine.auto_threshold must be within [0,1], got %f", c.Quarantine.AutoThreshold)
	}
	if c.Quarantine.IsolationChannel == "" {
		return fmt.Errorf("quarantine.isolation_channel is required")
	}

	if c.Blacklist.SweepInterval <= 0 {
		return fmt.Errorf("blacklist.sweep_interval must be positive")
	}
	if c.Blacklist.AppealLimit <= 0 {
		return fmt.Errorf("blacklist.appeal_limit must be positive, got %d", c.Blacklist.AppealLimit)
	}
	if c.Blacklist.AppealWindow <= 0 {
		return fmt.Errorf("blacklist.appeal_window must be positive")
	}

	if c.Platform.RequestsPerSecond <= 0 {
		return fmt.Errorf("platform.requests_per_second must be positive")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		return fmt.Errorf("api.port must be within [1,65535], got %d", c.API.Port)
	}
	if c.API.JWTSecret != "" && len(c.API.JWTSecret) < 32 {
		return fmt.Errorf("api.jwt_secret must be at least 32 bytes when set")
	}
	return nil
}
