// Sentinel - Community Security Operations Automation
// Copyright 2026 Sentinel Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sentinel-ops/sentinel

// Package signal defines the immutable event record exchanged on the bus and
// the static registry through which detectors declare what they produce.
package signal

import (
	"time"

	"github.com/google/uuid"

	"github.com/sentinel-ops/sentinel/internal/errs"
)

// Type identifies the kind of observed condition a signal describes.
// The bus topic for a signal is exactly its type.
type Type string

const (
	TypeThreatDetected     Type = "THREAT_DETECTED"
	TypePolicyViolation    Type = "POLICY_VIOLATION"
	TypeEscalationRequired Type = "ESCALATION_REQUIRED"
	TypeMemberJoined       Type = "MEMBER_JOINED"
	TypeMessageObserved    Type = "MESSAGE_OBSERVED"
)

// Types lists every valid signal type.
var Types = []Type{
	TypeThreatDetected,
	TypePolicyViolation,
	TypeEscalationRequired,
	TypeMemberJoined,
	TypeMessageObserved,
}

// Valid reports whether t is a known signal type.
func (t Type) Valid() bool {
	switch t {
	case TypeThreatDetected, TypePolicyViolation, TypeEscalationRequired,
		TypeMemberJoined, TypeMessageObserved:
		return true
	}
	return false
}

// SubjectKind identifies what a signal or enforcement record is about.
type SubjectKind string

const (
	KindUser    SubjectKind = "user"
	KindGuild   SubjectKind = "guild"
	KindChannel SubjectKind = "channel"
	KindDomain  SubjectKind = "domain"
	KindIP      SubjectKind = "ip"
	KindEmail   SubjectKind = "email"
)

// Valid reports whether k is a known subject kind.
func (k SubjectKind) Valid() bool {
	switch k {
	case KindUser, KindGuild, KindChannel, KindDomain, KindIP, KindEmail:
		return true
	}
	return false
}

// Subject is the entity a signal describes.
type Subject struct {
	Kind  SubjectKind `json:"kind"`
	Value string      `json:"value"`
}

// Key returns the canonical "kind:value" form used for store keys and
// per-subject locking.
func (s Subject) Key() string {
	return string(s.Kind) + ":" + s.Value
}

func (s Subject) String() string { return s.Key() }

// Severity ranks how serious the observed condition is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Signal is an immutable typed event describing an observed condition.
// Once published it must not be mutated; responders copy the payload when
// they need to preserve it.
type Signal struct {
	ID            string         `json:"id"`
	Type          Type           `json:"type"`
	Subject       Subject        `json:"subject"`
	Source        string         `json:"source"`
	Severity      Severity       `json:"severity"`
	Confidence    float64        `json:"confidence"`
	Payload       map[string]any `json:"payload,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	CorrelationID string         `json:"correlation_id,omitempty"`
}

// New creates a signal with a unique ID and creation timestamp.
func New(t Type, subject Subject, source string) *Signal {
	return &Signal{
		ID:        uuid.New().String(),
		Type:      t,
		Subject:   subject,
		Source:    source,
		Severity:  SeverityLow,
		Payload:   map[string]any{},
		CreatedAt: time.Now().UTC(),
	}
}

// Validate checks required fields and ranges. Signals failing validation are
// rejected at publish time and never reach a subscriber.
func (s *Signal) Validate() error {
	if s.ID == "" {
		return errs.Validation("id", "required")
	}
	if !s.Type.Valid() {
		return errs.Validation("type", "unknown signal type %q", s.Type)
	}
	if !s.Subject.Kind.Valid() {
		return errs.Validation("subject.kind", "unknown subject kind %q", s.Subject.Kind)
	}
	if s.Subject.Value == "" {
		return errs.Validation("subject.value", "required")
	}
	if s.Source == "" {
		return errs.Validation("source", "required")
	}
	if !s.Severity.Valid() {
		return errs.Validation("severity", "unknown severity %q", s.Severity)
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return errs.Validation("confidence", "must be in [0,1], got %v", s.Confidence)
	}
	return ValidatePayload(s.Type, s.Payload)
}

// Topic returns the bus topic this signal is published on.
func (s *Signal) Topic() string { return string(s.Type) }

// PayloadString returns the payload value for key if it is a non-empty string.
func (s *Signal) PayloadString(key string) (string, bool) {
	v, ok := s.Payload[key]
	if !ok {
		return "", false
	}
	str, ok := v.(string)
	if !ok || str == "" {
		return "", false
	}
	return str, true
}

// CopyPayload returns a shallow copy of the payload for evidence preservation.
func (s *Signal) CopyPayload() map[string]any {
	cp := make(map[string]any, len(s.Payload))
	for k, v := range s.Payload {
		cp[k] = v
	}
	return cp
}
