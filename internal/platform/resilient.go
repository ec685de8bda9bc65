// Sentinel - Community Security Operations Automation
// Copyright 2026 Sentinel Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sentinel-ops/sentinel

package platform

import (
	"context"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/sentinel-ops/sentinel/internal/metrics"
	"github.com/sentinel-ops/sentinel/internal/signal"
)

// ResilientConfig configures the breaker and rate limiter around a Client.
type ResilientConfig struct {
	// RequestsPerSecond caps outbound platform calls; chat-platform REST
	// APIs enforce their own limits and respond badly to bursts.
	RequestsPerSecond float64

	// Burst is the limiter burst size.
	Burst int

	// FailureThreshold is the consecutive-failure count that opens the breaker.
	FailureThreshold uint32

	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
}

// DefaultResilientConfig returns production defaults.
func DefaultResilientConfig() ResilientConfig {
	return ResilientConfig{
		RequestsPerSecond: 10,
		Burst:             20,
		FailureThreshold:  5,
		OpenTimeout:       30 * time.Second,
	}
}

// Resilient decorates a Client with a circuit breaker and rate limiter.
// When the platform is down, the breaker fails calls fast so state machines
// record the gap and move on instead of stacking up blocked goroutines.
type Resilient struct {
	inner   Client
	breaker *gobreaker.CircuitBreaker[struct{}]
	limiter *rate.Limiter
}

// NewResilient wraps inner with breaker and rate-limit protection.
func NewResilient(inner Client, cfg ResilientConfig) *Resilient {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = DefaultResilientConfig().RequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultResilientConfig().Burst
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultResilientConfig().FailureThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = DefaultResilientConfig().OpenTimeout
	}

	settings := gobreaker.Settings{
		Name:    "platform",
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				metrics.PlatformBreakerState.Set(1)
			} else {
				metrics.PlatformBreakerState.Set(0)
			}
		},
	}

	return &Resilient{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker[struct{}](settings),
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
	}
}

func (r *Resilient) call(ctx context.Context, action string, fn func() error) error {
	if err := r.limiter.Wait(ctx); err != nil {
		metrics.PlatformActionFailures.WithLabelValues(action).Inc()
		return err
	}
	_, err := r.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, fn()
	})
	if err != nil {
		metrics.PlatformActionFailures.WithLabelValues(action).Inc()
	}
	return err
}

// StripRoles implements Client.
func (r *Resilient) StripRoles(ctx context.Context, subject signal.Subject) ([]string, error) {
	var roles []string
	err := r.call(ctx, ActionStripRoles, func() error {
		var inner error
		roles, inner = r.inner.StripRoles(ctx, subject)
		return inner
	})
	return roles, err
}

// AssignIsolationRole implements Client.
func (r *Resilient) AssignIsolationRole(ctx context.Context, subject signal.Subject) error {
	return r.call(ctx, ActionAssignIsolation, func() error {
		return r.inner.AssignIsolationRole(ctx, subject)
	})
}

// RestrictToChannel implements Client.
func (r *Resilient) RestrictToChannel(ctx context.Context, subject signal.Subject, channel string) error {
	return r.call(ctx, ActionRestrictChannel, func() error {
		return r.inner.RestrictToChannel(ctx, subject, channel)
	})
}

// RestoreRoles implements Client.
func (r *Resilient) RestoreRoles(ctx context.Context, subject signal.Subject, roles []string) error {
	return r.call(ctx, ActionRestoreRoles, func() error {
		return r.inner.RestoreRoles(ctx, subject, roles)
	})
}

// Timeout implements Client.
func (r *Resilient) Timeout(ctx context.Context, subject signal.Subject, d time.Duration) error {
	return r.call(ctx, ActionTimeout, func() error {
		return r.inner.Timeout(ctx, subject, d)
	})
}

// Ban implements Client.
func (r *Resilient) Ban(ctx context.Context, subject signal.Subject, reason string) error {
	return r.call(ctx, ActionBan, func() error {
		return r.inner.Ban(ctx, subject, reason)
	})
}

// Notify implements Client.
func (r *Resilient) Notify(ctx context.Context, subject signal.Subject, message string) error {
	return r.call(ctx, ActionNotify, func() error {
		return r.inner.Notify(ctx, subject, message)
	})
}

// NotifyResponder implements Client.
func (r *Resilient) NotifyResponder(ctx context.Context, responderID, message string) error {
	return r.call(ctx, ActionNotifyResponder, func() error {
		return r.inner.NotifyResponder(ctx, responderID, message)
	})
}

// AlertModerators implements Client.
func (r *Resilient) AlertModerators(ctx context.Context, subject signal.Subject, summary string) error {
	return r.call(ctx, ActionAlertModerators, func() error {
		return r.inner.AlertModerators(ctx, subject, summary)
	})
}
