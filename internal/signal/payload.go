// Sentinel - Community Security Operations Automation
// Copyright 2026 Sentinel Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sentinel-ops/sentinel

package signal

import "github.com/sentinel-ops/sentinel/internal/errs"

// Per-type payload schemas. The payload stays an open mapping so detectors
// can attach arbitrary evidence, but the keys listed here are required and
// validated at publish time so handlers never assume shape.
//
//	THREAT_DETECTED:     threat_type (string), the rule-table key for escalation
//	POLICY_VIOLATION:    policy (string), which policy was violated
//	ESCALATION_REQUIRED: threat_type (string), level (number)
//	MEMBER_JOINED:       (no required keys)
//	MESSAGE_OBSERVED:    channel (string)
var requiredPayloadKeys = map[Type][]string{
	TypeThreatDetected:     {"threat_type"},
	TypePolicyViolation:    {"policy"},
	TypeEscalationRequired: {"threat_type", "level"},
	TypeMemberJoined:       nil,
	TypeMessageObserved:    {"channel"},
}

// Payload key names used across packages.
const (
	PayloadThreatType = "threat_type"
	PayloadPolicy     = "policy"
	PayloadLevel      = "level"
	PayloadChannel    = "channel"
)

// ValidatePayload checks that the payload carries the required keys for the
// signal type, each with a non-empty value.
func ValidatePayload(t Type, payload map[string]any) error {
	for _, key := range requiredPayloadKeys[t] {
		v, ok := payload[key]
		if !ok || v == nil {
			return errs.Validation("payload."+key, "required for %s", t)
		}
		if s, isStr := v.(string); isStr && s == "" {
			return errs.Validation("payload."+key, "must be non-empty")
		}
	}
	return nil
}
