// Sentinel - Community Security Operations Automation
// Copyright 2026 Sentinel Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sentinel-ops/sentinel

// Package quarantine implements the isolate-preserve-review-release state
// machine.
//
// States: NONE → QUARANTINED → UNDER_REVIEW → {RELEASED | QUARANTINED}.
// A released subject returns to NONE; closed entries are kept as history,
// never deleted. Re-entrant triggers while already isolated append evidence
// but never duplicate the active entry.
package quarantine

import (
	"time"

	"github.com/sentinel-ops/sentinel/internal/errs"
	"github.com/sentinel-ops/sentinel/internal/signal"
)

// State is the quarantine lifecycle state of a subject.
type State string

const (
	StateNone        State = "NONE"
	StateQuarantined State = "QUARANTINED"
	StateUnderReview State = "UNDER_REVIEW"
	StateReleased    State = "RELEASED"
)

// Reason classifies why a subject was isolated.
type Reason string

const (
	ReasonMalware    Reason = "malware"
	ReasonPhishing   Reason = "phishing"
	ReasonHarassment Reason = "harassment"
	ReasonSpam       Reason = "spam"
	ReasonRaid       Reason = "raid"
	ReasonExploit    Reason = "exploit"
	ReasonManual     Reason = "manual"
)

// Valid reports whether r is a known reason.
func (r Reason) Valid() bool {
	switch r {
	case ReasonMalware, ReasonPhishing, ReasonHarassment, ReasonSpam,
		ReasonRaid, ReasonExploit, ReasonManual:
		return true
	}
	return false
}

// ReasonForThreat maps a detector threat type onto a quarantine reason.
// Threat types without a direct counterpart classify as exploit, the
// catch-all for platform abuse.
func ReasonForThreat(threatType string) Reason {
	r := Reason(threatType)
	if r.Valid() && r != ReasonManual {
		return r
	}
	return ReasonExploit
}

// Entry is the per-subject quarantine record. At most one live entry exists
// per subject; closed entries are retained in history.
type Entry struct {
	ID         string         `json:"id"`
	Subject    signal.Subject `json:"subject"`
	State      State          `json:"state"`
	Reason     Reason         `json:"reason"`
	Confidence float64        `json:"confidence"`

	// EvidenceRefs lists the evidence snapshot IDs accumulated for this
	// entry, in capture order.
	EvidenceRefs []string `json:"evidence_refs"`

	QuarantinedAt time.Time  `json:"quarantined_at"`
	ReviewedBy    string     `json:"reviewed_by,omitempty"`
	ReleasedAt    *time.Time `json:"released_at,omitempty"`

	// PriorRoles holds the roles stripped at isolation, for best-effort
	// restoration on release. Empty when the strip failed or returned none.
	PriorRoles []string `json:"prior_roles,omitempty"`

	// RolesRestored is set on release; false when prior roles were unknown
	// or restoration failed.
	RolesRestored bool `json:"roles_restored"`

	// ActionGaps records platform mutations that failed during isolation.
	// The entry still records QUARANTINED; the gaps are never swallowed.
	ActionGaps []string `json:"action_gaps,omitempty"`
}

func (e *Entry) validateLive() error {
	if e.State != StateQuarantined && e.State != StateUnderReview {
		return errs.Conflict(e.Subject.Key(), "entry is %s, not live", e.State)
	}
	return nil
}
