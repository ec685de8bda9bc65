// Sentinel - Community Security Operations Automation
// Copyright 2026 Sentinel Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sentinel-ops/sentinel

// Package escalation turns threat signals into graduated actions.
//
// Rules map a threat type to an ascending ladder of confidence thresholds;
// evaluation selects the highest-level rule whose threshold the observed
// confidence clears. Correlated signals arriving within the aggregation
// window combine by maximum confidence so a low-confidence duplicate never
// dilutes a high-confidence primary detection.
package escalation

import (
	"time"

	"github.com/sentinel-ops/sentinel/internal/errs"
	"github.com/sentinel-ops/sentinel/internal/signal"
)

// Action is the graduated response executed for a resolved escalation level.
type Action string

const (
	ActionLog         Action = "log"
	ActionWatch       Action = "watch"
	ActionAlertMods   Action = "alert_mods"
	ActionTimeout     Action = "timeout"
	ActionBanLockdown Action = "ban_lockdown"

	// ActionNone marks an evaluation where no rule threshold was cleared.
	// The evaluation is still recorded.
	ActionNone Action = "none"
)

// Valid reports whether a is a configurable action.
func (a Action) Valid() bool {
	switch a {
	case ActionLog, ActionWatch, ActionAlertMods, ActionTimeout, ActionBanLockdown:
		return true
	}
	return false
}

// WildcardThreatType matches any threat type without specific rules.
const WildcardThreatType = "*"

// MinLevel and MaxLevel bound escalation levels.
const (
	MinLevel = 1
	MaxLevel = 5
)

// Rule binds a confidence threshold to a level and action for one threat type.
type Rule struct {
	ThreatType string  `json:"threat_type"`
	Threshold  float64 `json:"confidence_threshold"`
	Level      int     `json:"level"`
	Action     Action  `json:"action"`
}

// Validate checks rule fields.
func (r Rule) Validate() error {
	if r.ThreatType == "" {
		return errs.Validation("threat_type", "required")
	}
	if r.Threshold < 0 || r.Threshold > 1 {
		return errs.Validation("confidence_threshold", "must be in [0,1], got %v", r.Threshold)
	}
	if r.Level < MinLevel || r.Level > MaxLevel {
		return errs.Validation("level", "must be in [%d,%d], got %d", MinLevel, MaxLevel, r.Level)
	}
	if !r.Action.Valid() {
		return errs.Validation("action", "unknown action %q", r.Action)
	}
	return nil
}

// Record is one immutable escalation audit entry. Every evaluation appends
// one, including log-only and below-threshold evaluations.
type Record struct {
	ID         string         `json:"id"`
	SignalID   string         `json:"signal_id"`
	Subject    signal.Subject `json:"subject"`
	ThreatType string         `json:"threat_type"`
	Confidence float64        `json:"confidence"`
	Level      int            `json:"level"`
	Action     Action         `json:"action_taken"`

	// ActionError carries the platform failure when the resolved action
	// could not be executed. The record is written regardless.
	ActionError string `json:"action_error,omitempty"`

	// OnCallNotified is the responder reached for level >= notify threshold.
	OnCallNotified string `json:"on_call_notified,omitempty"`

	// NotifyGap records an on-call notification that failed after its
	// single retry, rather than retrying indefinitely.
	NotifyGap string `json:"notify_gap,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}
