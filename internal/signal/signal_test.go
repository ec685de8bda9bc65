// Sentinel - Community Security Operations Automation
// Copyright 2026 Sentinel Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sentinel-ops/sentinel

package signal

import (
	"testing"

	"github.com/sentinel-ops/sentinel/internal/errs"
)

func TestValidate(t *testing.T) {
	valid := func() *Signal {
		s := New(TypeThreatDetected, Subject{Kind: KindUser, Value: "u1"}, "detector")
		s.Payload = map[string]any{PayloadThreatType: "phishing"}
		return s
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("valid signal rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Signal)
	}{
		{"missing id", func(s *Signal) { s.ID = "" }},
		{"unknown type", func(s *Signal) { s.Type = "NOPE" }},
		{"unknown kind", func(s *Signal) { s.Subject.Kind = "asteroid" }},
		{"empty value", func(s *Signal) { s.Subject.Value = "" }},
		{"empty source", func(s *Signal) { s.Source = "" }},
		{"bad severity", func(s *Signal) { s.Severity = "mild" }},
		{"confidence below range", func(s *Signal) { s.Confidence = -0.1 }},
		{"confidence above range", func(s *Signal) { s.Confidence = 1.1 }},
		{"missing threat_type payload", func(s *Signal) { delete(s.Payload, PayloadThreatType) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid()
			tt.mutate(s)
			if err := s.Validate(); !errs.IsValidation(err) {
				t.Errorf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestPayloadRequirements(t *testing.T) {
	tests := []struct {
		typ     Type
		payload map[string]any
		ok      bool
	}{
		{TypeThreatDetected, map[string]any{PayloadThreatType: "spam"}, true},
		{TypeThreatDetected, map[string]any{}, false},
		{TypePolicyViolation, map[string]any{PayloadPolicy: "blacklist"}, true},
		{TypePolicyViolation, nil, false},
		{TypeEscalationRequired, map[string]any{PayloadThreatType: "raid", PayloadLevel: 4}, true},
		{TypeEscalationRequired, map[string]any{PayloadThreatType: "raid"}, false},
		{TypeMessageObserved, map[string]any{PayloadChannel: "general"}, true},
		{TypeMessageObserved, map[string]any{}, false},
		{TypeMemberJoined, nil, true},
	}
	for _, tt := range tests {
		err := ValidatePayload(tt.typ, tt.payload)
		if tt.ok && err != nil {
			t.Errorf("%s with %v: unexpected error %v", tt.typ, tt.payload, err)
		}
		if !tt.ok && !errs.IsValidation(err) {
			t.Errorf("%s with %v: expected ValidationError, got %v", tt.typ, tt.payload, err)
		}
	}
}

func TestSubjectKey(t *testing.T) {
	s := Subject{Kind: KindUser, Value: "12345"}
	if s.Key() != "user:12345" {
		t.Fatalf("Key() = %q", s.Key())
	}
}

func TestCopyPayloadIsDetached(t *testing.T) {
	s := New(TypeMemberJoined, Subject{Kind: KindUser, Value: "u1"}, "detector")
	s.Payload["k"] = "v"

	cp := s.CopyPayload()
	cp["k"] = "changed"
	if s.Payload["k"] != "v" {
		t.Fatal("CopyPayload shares storage with the original")
	}
}

type fakeProducer struct {
	name  string
	types []Type
}

func (p fakeProducer) Name() string     { return p.name }
func (p fakeProducer) Produces() []Type { return p.types }

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	if err := r.Register(fakeProducer{"phish-scanner", []Type{TypeThreatDetected}}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(fakeProducer{"phish-scanner", []Type{TypeThreatDetected}}); !errs.IsConflict(err) {
		t.Fatalf("duplicate registration: expected ConflictError, got %v", err)
	}
	if err := r.Register(fakeProducer{"", []Type{TypeThreatDetected}}); !errs.IsValidation(err) {
		t.Fatalf("empty name: expected ValidationError, got %v", err)
	}
	if err := r.Register(fakeProducer{"weird", []Type{"UNKNOWN"}}); !errs.IsValidation(err) {
		t.Fatalf("unknown type: expected ValidationError, got %v", err)
	}

	if !r.Known("phish-scanner") {
		t.Fatal("Known(phish-scanner) = false")
	}
	if r.Known("ghost") {
		t.Fatal("Known(ghost) = true")
	}

	names := r.Producers(TypeThreatDetected)
	if len(names) != 1 || names[0] != "phish-scanner" {
		t.Fatalf("Producers(THREAT_DETECTED) = %v", names)
	}
	if got := r.Producers(TypeMemberJoined); len(got) != 0 {
		t.Fatalf("Producers(MEMBER_JOINED) = %v", got)
	}
}
