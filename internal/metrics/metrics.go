// Sentinel - Community Security Operations Automation
// Copyright 2026 Sentinel Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sentinel-ops/sentinel

// Package metrics defines the Prometheus instrumentation for the signal
// coordination core: bus throughput and loss, responder decisions, and
// platform-action health. Exposed on /metrics by the API server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Bus metrics
	BusSignalsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_bus_signals_published_total",
			Help: "Signals accepted by the bus, by topic",
		},
		[]string{"topic"},
	)

	BusSignalsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_bus_signals_delivered_total",
			Help: "Signals handed to a subscriber handler, by topic and subscriber",
		},
		[]string{"topic", "subscriber"},
	)

	// BusSignalsDropped is the dedicated overflow counter: signals evicted
	// from a saturated inbox under the drop-oldest policy.
	BusSignalsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_bus_signals_dropped_total",
			Help: "Signals dropped from a saturated subscriber inbox",
		},
		[]string{"topic", "subscriber"},
	)

	BusHandlerErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_bus_handler_errors_total",
			Help: "Handler errors and recovered panics, by topic and subscriber",
		},
		[]string{"topic", "subscriber"},
	)

	// Escalation metrics
	EscalationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_escalations_total",
			Help: "Escalation evaluations, by resolved level and action",
		},
		[]string{"level", "action"},
	)

	OnCallNotifyFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_oncall_notify_failures_total",
			Help: "On-call notifications that failed after the single retry",
		},
	)

	// Quarantine metrics
	QuarantineTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_quarantine_transitions_total",
			Help: "Quarantine state transitions, by from and to state",
		},
		[]string{"from", "to"},
	)

	EvidenceSnapshots = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_evidence_snapshots_total",
			Help: "Evidence snapshots appended to the forensic store",
		},
	)

	// Blacklist metrics
	BlacklistLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_blacklist_lookups_total",
			Help: "Enforcement lookups, by result (hit, miss)",
		},
		[]string{"result"},
	)

	BlacklistExpirations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_blacklist_expirations_total",
			Help: "Temporary blacklist entries transitioned out of the active set",
		},
	)

	AppealsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_appeals_total",
			Help: "Appeal submissions and decisions, by outcome (submitted, rate_limited, approved, denied)",
		},
		[]string{"outcome"},
	)

	// Platform collaborator metrics
	PlatformActionFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_platform_action_failures_total",
			Help: "Best-effort platform mutations that reported failure, by action",
		},
		[]string{"action"},
	)

	PlatformBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_platform_breaker_open",
			Help: "1 when the platform client circuit breaker is open",
		},
	)
)
