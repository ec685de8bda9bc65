// Sentinel - Community Security Operations Automation
// Copyright 2026 Sentinel Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sentinel-ops/sentinel

// Package blacklist implements the tiered ban registry with enforcement
// lookups and the rate-limited appeal workflow.
//
// At most one active entry exists per (kind, value); expired and removed
// entries are retained as history, never deleted. Enforcement lookups are
// synchronous and independent of the bus; the package still participates in
// coordination by consuming MEMBER_JOINED and publishing POLICY_VIOLATION
// on enforcement hits.
package blacklist

import (
	"time"

	"github.com/sentinel-ops/sentinel/internal/errs"
	"github.com/sentinel-ops/sentinel/internal/signal"
)

// Tier is the policy class governing expiry and appealability.
type Tier string

const (
	// TierTemporary self-resolves by expiry and is not appealable.
	TierTemporary Tier = "TEMPORARY"

	// TierAppealEligible never expires but can be lifted by an approved appeal.
	TierAppealEligible Tier = "APPEAL_ELIGIBLE"

	// TierPermanent can only be removed by an explicit manual override;
	// appeal approval alone never lifts it.
	TierPermanent Tier = "PERMANENT"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierTemporary, TierAppealEligible, TierPermanent:
		return true
	}
	return false
}

// Removal causes recorded on closed entries.
const (
	CauseExpired        = "expired"
	CauseAppealApproved = "appeal_approved"
	CauseManual         = "manual"
	CauseOverride       = "override"
)

// Entry is one blacklist record. Kind is restricted to the enforceable
// subject kinds: user, guild, ip, domain, email.
type Entry struct {
	ID        string             `json:"id"`
	Kind      signal.SubjectKind `json:"type"`
	Value     string             `json:"value"`
	Tier      Tier               `json:"tier"`
	Reason    string             `json:"reason"`
	AddedBy   string             `json:"added_by"`
	CreatedAt time.Time          `json:"created_at"`

	// ExpiresAt is set for TEMPORARY entries only.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	// Removal fields are set when the entry leaves the active set.
	RemovedAt    *time.Time `json:"removed_at,omitempty"`
	RemovedBy    string     `json:"removed_by,omitempty"`
	RemovalCause string     `json:"removal_cause,omitempty"`
}

// Subject returns the entry's subject form for signals and audit records.
func (e *Entry) Subject() signal.Subject {
	return signal.Subject{Kind: e.Kind, Value: e.Value}
}

// Active reports whether the entry is in the active set at the given time.
func (e *Entry) Active(now time.Time) bool {
	if e.RemovedAt != nil {
		return false
	}
	if e.ExpiresAt != nil && !e.ExpiresAt.After(now) {
		return false
	}
	return true
}

// AppealStatus is the lifecycle state of an appeal.
type AppealStatus string

const (
	AppealPending  AppealStatus = "pending"
	AppealApproved AppealStatus = "approved"
	AppealDenied   AppealStatus = "denied"
)

// Appeal is a request to reverse a blacklist entry.
type Appeal struct {
	ID          string       `json:"id"`
	EntryID     string       `json:"blacklist_entry_id"`
	SubmittedBy string       `json:"submitted_by"`
	Reason      string       `json:"reason"`
	Status      AppealStatus `json:"status"`
	SubmittedAt time.Time    `json:"submitted_at"`

	DecidedBy    string     `json:"decided_by,omitempty"`
	DecidedAt    *time.Time `json:"decided_at,omitempty"`
	DecisionNote string     `json:"decision_note,omitempty"`
}

func validateKind(kind signal.SubjectKind) error {
	switch kind {
	case signal.KindUser, signal.KindGuild, signal.KindIP, signal.KindDomain, signal.KindEmail:
		return nil
	}
	return errs.Validation("type", "kind %q is not enforceable", kind)
}
