// Sentinel - Community Security Operations Automation
// Copyright 2026 Sentinel Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sentinel-ops/sentinel

package quarantine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/sentinel-ops/sentinel/internal/audit"
	"github.com/sentinel-ops/sentinel/internal/clock"
	"github.com/sentinel-ops/sentinel/internal/errs"
	"github.com/sentinel-ops/sentinel/internal/keylock"
	"github.com/sentinel-ops/sentinel/internal/logging"
	"github.com/sentinel-ops/sentinel/internal/metrics"
	"github.com/sentinel-ops/sentinel/internal/platform"
	"github.com/sentinel-ops/sentinel/internal/signal"
)

// Config configures the state machine.
type Config struct {
	// AutoThreshold is the THREAT_DETECTED confidence at or above which a
	// subject is quarantined automatically.
	AutoThreshold float64

	// IsolationChannel is where isolated subjects are confined.
	IsolationChannel string
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		AutoThreshold:    0.85,
		IsolationChannel: "quarantine",
	}
}

// Machine is the quarantine state machine. Manual commands and automatic
// signal triggers share the same entry points, so there is exactly one code
// path per transition.
type Machine struct {
	store    *Store
	auditlog audit.Store
	client   platform.Client
	clk      clock.Clock
	locks    *keylock.KeyedMutex
	cfg      Config
}

// NewMachine creates a quarantine state machine.
func NewMachine(
	store *Store,
	auditlog audit.Store,
	client platform.Client,
	clk clock.Clock,
	cfg Config,
) *Machine {
	if cfg.AutoThreshold <= 0 {
		cfg.AutoThreshold = DefaultConfig().AutoThreshold
	}
	if cfg.IsolationChannel == "" {
		cfg.IsolationChannel = DefaultConfig().IsolationChannel
	}
	return &Machine{
		store:    store,
		auditlog: auditlog,
		client:   client,
		clk:      clk,
		locks:    keylock.New(),
		cfg:      cfg,
	}
}

// HandleThreat is the bus handler for THREAT_DETECTED: confidence at or
// above the auto threshold triggers NONE → QUARANTINED.
func (m *Machine) HandleThreat(ctx context.Context, sig *signal.Signal) error {
	if sig.Confidence < m.cfg.AutoThreshold {
		return nil
	}
	threatType, _ := sig.PayloadString(signal.PayloadThreatType)
	_, err := m.Quarantine(ctx, sig.Subject, ReasonForThreat(threatType), sig.Confidence, sig.ID, sig.CopyPayload(), "auto")
	if err != nil && !errs.IsPlatformAction(err) {
		return err
	}
	// Platform gaps are already recorded on the entry and in the audit
	// trail; the transition itself committed.
	return nil
}

// HandleEscalation observes ESCALATION_REQUIRED published by the escalation
// engine and isolates the subject regardless of raw confidence: a level-4+
// resolution is a stronger statement than any single detector.
func (m *Machine) HandleEscalation(ctx context.Context, sig *signal.Signal) error {
	threatType, _ := sig.PayloadString(signal.PayloadThreatType)
	_, err := m.Quarantine(ctx, sig.Subject, ReasonForThreat(threatType), sig.Confidence, sig.ID, sig.CopyPayload(), "escalation-engine")
	if err != nil && !errs.IsPlatformAction(err) {
		return err
	}
	return nil
}

// Quarantine performs NONE → QUARANTINED for a subject, or appends evidence
// when the subject is already live (re-entrant triggers are not an error).
//
// The transition is atomic from the machine's perspective: the entry records
// QUARANTINED even when platform mutations partially fail, and every failure
// is surfaced in the returned error, the entry's action gaps, and the audit
// trail.
func (m *Machine) Quarantine(
	ctx context.Context,
	subject signal.Subject,
	reason Reason,
	confidence float64,
	originSignalID string,
	payload map[string]any,
	actor string,
) (*Entry, error) {
	if !subject.Kind.Valid() || subject.Value == "" {
		return nil, errs.Validation("subject", "kind and value required")
	}
	if !reason.Valid() {
		return nil, errs.Validation("reason", "unknown reason %q", reason)
	}
	if confidence < 0 || confidence > 1 {
		return nil, errs.Validation("confidence", "must be in [0,1], got %v", confidence)
	}

	unlock := m.locks.Lock(subject.Key())
	defer unlock()

	now := m.clk.Now()

	ev := &audit.Evidence{
		Subject:  subject,
		SignalID: originSignalID,
		Payload:  payload,
		Custody:  []audit.CustodyEvent{{Actor: actor, Action: "captured", Timestamp: now}},
	}
	if err := m.auditlog.AppendEvidence(ctx, ev); err != nil {
		return nil, fmt.Errorf("preserve evidence: %w", err)
	}

	// Re-entrant trigger: accumulate evidence, leave state untouched.
	if entry, err := m.store.GetActive(ctx, subject); err == nil {
		entry.EvidenceRefs = append(entry.EvidenceRefs, ev.ID)
		if confidence > entry.Confidence {
			entry.Confidence = confidence
		}
		if err := m.store.SaveActive(ctx, entry); err != nil {
			return nil, err
		}
		m.audit(ctx, "evidence_appended", actor, subject, audit.OutcomeSuccess, map[string]any{
			"evidence_id": ev.ID,
			"state":       string(entry.State),
		})
		return entry, nil
	} else if !errors.Is(err, errs.ErrNotFound) {
		return nil, err
	}

	entry := &Entry{
		ID:            uuid.New().String(),
		Subject:       subject,
		State:         StateQuarantined,
		Reason:        reason,
		Confidence:    confidence,
		EvidenceRefs:  []string{ev.ID},
		QuarantinedAt: now,
	}

	var gaps []error
	roles, err := m.client.StripRoles(ctx, subject)
	if err != nil {
		gaps = append(gaps, errs.PlatformAction(platform.ActionStripRoles, subject.Key(), err))
	} else {
		entry.PriorRoles = roles
	}
	if err := m.client.AssignIsolationRole(ctx, subject); err != nil {
		gaps = append(gaps, errs.PlatformAction(platform.ActionAssignIsolation, subject.Key(), err))
	}
	if err := m.client.RestrictToChannel(ctx, subject, m.cfg.IsolationChannel); err != nil {
		gaps = append(gaps, errs.PlatformAction(platform.ActionRestrictChannel, subject.Key(), err))
	}
	if err := m.client.Notify(ctx, subject,
		"You have been quarantined pending review (reason: "+string(reason)+")."); err != nil {
		gaps = append(gaps, errs.PlatformAction(platform.ActionNotify, subject.Key(), err))
	}
	for _, gap := range gaps {
		entry.ActionGaps = append(entry.ActionGaps, gap.Error())
	}

	if err := m.store.SaveActive(ctx, entry); err != nil {
		return nil, err
	}

	outcome := audit.OutcomeSuccess
	if len(gaps) > 0 {
		outcome = audit.OutcomePartial
	}
	m.audit(ctx, "quarantine", actor, subject, outcome, map[string]any{
		"entry_id":    entry.ID,
		"reason":      string(reason),
		"confidence":  confidence,
		"evidence_id": ev.ID,
		"action_gaps": entry.ActionGaps,
	})
	metrics.QuarantineTransitions.WithLabelValues(string(StateNone), string(StateQuarantined)).Inc()
	logging.Ctx(ctx).Warn().
		Str("component", "quarantine").
		Str("subject", subject.Key()).
		Str("reason", string(reason)).
		Int("gaps", len(gaps)).
		Msg("subject quarantined")

	return entry, errors.Join(gaps...)
}

// Review performs QUARANTINED → UNDER_REVIEW. Triggered by an appeal
// submission or a manual review request; no platform state changes.
func (m *Machine) Review(ctx context.Context, subject signal.Subject, reviewer string) (*Entry, error) {
	if reviewer == "" {
		return nil, errs.Validation("reviewer", "required")
	}

	unlock := m.locks.Lock(subject.Key())
	defer unlock()

	entry, err := m.store.GetActive(ctx, subject)
	if err != nil {
		return nil, err
	}
	if entry.State == StateUnderReview {
		// Already under review; repeat requests are not an error.
		return entry, nil
	}
	if entry.State != StateQuarantined {
		return nil, errs.Conflict(subject.Key(), "cannot review entry in state %s", entry.State)
	}

	entry.State = StateUnderReview
	entry.ReviewedBy = reviewer
	if err := m.store.SaveActive(ctx, entry); err != nil {
		return nil, err
	}

	m.audit(ctx, "review", reviewer, subject, audit.OutcomeSuccess, map[string]any{"entry_id": entry.ID})
	metrics.QuarantineTransitions.WithLabelValues(string(StateQuarantined), string(StateUnderReview)).Inc()
	return entry, nil
}

// Release performs UNDER_REVIEW → RELEASED: restores prior roles
// best-effort, notifies the subject, appends a closing evidence entry, and
// returns the subject to NONE. When prior roles were never recorded, zero
// roles are restored and the release explicitly flags roles_restored=false.
func (m *Machine) Release(ctx context.Context, subject signal.Subject, reviewer string) (*Entry, error) {
	if reviewer == "" {
		return nil, errs.Validation("reviewer", "required")
	}

	unlock := m.locks.Lock(subject.Key())
	defer unlock()

	entry, err := m.store.GetActive(ctx, subject)
	if err != nil {
		return nil, err
	}
	if entry.State != StateUnderReview {
		return nil, errs.Conflict(subject.Key(), "release requires UNDER_REVIEW, entry is %s", entry.State)
	}

	var gaps []error
	if len(entry.PriorRoles) == 0 {
		entry.RolesRestored = false
		logging.Ctx(ctx).Warn().
			Str("component", "quarantine").
			Str("subject", subject.Key()).
			Msg("prior roles unknown; restoring none")
	} else if err := m.client.RestoreRoles(ctx, subject, entry.PriorRoles); err != nil {
		entry.RolesRestored = false
		gaps = append(gaps, errs.PlatformAction(platform.ActionRestoreRoles, subject.Key(), err))
	} else {
		entry.RolesRestored = true
	}

	if err := m.client.Notify(ctx, subject, "Your quarantine has been lifted."); err != nil {
		gaps = append(gaps, errs.PlatformAction(platform.ActionNotify, subject.Key(), err))
	}

	now := m.clk.Now()
	entry.State = StateReleased
	entry.ReviewedBy = reviewer
	entry.ReleasedAt = &now
	for _, gap := range gaps {
		entry.ActionGaps = append(entry.ActionGaps, gap.Error())
	}

	closing := &audit.Evidence{
		Subject: subject,
		Payload: map[string]any{
			"action":         "release",
			"reviewer":       reviewer,
			"roles_restored": entry.RolesRestored,
			"entry_id":       entry.ID,
		},
		Custody: []audit.CustodyEvent{{Actor: reviewer, Action: "released", Timestamp: now}},
	}
	if err := m.auditlog.AppendEvidence(ctx, closing); err != nil {
		return nil, fmt.Errorf("append closing evidence: %w", err)
	}
	entry.EvidenceRefs = append(entry.EvidenceRefs, closing.ID)

	if err := m.store.CloseActive(ctx, entry); err != nil {
		return nil, err
	}

	outcome := audit.OutcomeSuccess
	if len(gaps) > 0 {
		outcome = audit.OutcomePartial
	}
	m.audit(ctx, "release", reviewer, subject, outcome, map[string]any{
		"entry_id":       entry.ID,
		"roles_restored": entry.RolesRestored,
	})
	metrics.QuarantineTransitions.WithLabelValues(string(StateUnderReview), string(StateReleased)).Inc()

	return entry, errors.Join(gaps...)
}

// Maintain performs UNDER_REVIEW → QUARANTINED: the reviewer denies release
// and the subject remains isolated.
func (m *Machine) Maintain(ctx context.Context, subject signal.Subject, reviewer string) (*Entry, error) {
	if reviewer == "" {
		return nil, errs.Validation("reviewer", "required")
	}

	unlock := m.locks.Lock(subject.Key())
	defer unlock()

	entry, err := m.store.GetActive(ctx, subject)
	if err != nil {
		return nil, err
	}
	if entry.State != StateUnderReview {
		return nil, errs.Conflict(subject.Key(), "maintain requires UNDER_REVIEW, entry is %s", entry.State)
	}

	entry.State = StateQuarantined
	entry.ReviewedBy = reviewer
	if err := m.store.SaveActive(ctx, entry); err != nil {
		return nil, err
	}

	m.audit(ctx, "maintain", reviewer, subject, audit.OutcomeSuccess, map[string]any{"entry_id": entry.ID})
	metrics.QuarantineTransitions.WithLabelValues(string(StateUnderReview), string(StateQuarantined)).Inc()
	return entry, nil
}

// Status returns the live entry for a subject, or errs.ErrNotFound when the
// subject is in NONE.
func (m *Machine) Status(ctx context.Context, subject signal.Subject) (*Entry, error) {
	return m.store.GetActive(ctx, subject)
}

// StateOf returns the subject's current state, mapping no-entry to NONE.
func (m *Machine) StateOf(ctx context.Context, subject signal.Subject) (State, error) {
	entry, err := m.store.GetActive(ctx, subject)
	if errors.Is(err, errs.ErrNotFound) {
		return StateNone, nil
	}
	if err != nil {
		return StateNone, err
	}
	return entry.State, nil
}

// Evidence returns all evidence snapshots preserved for a subject.
func (m *Machine) Evidence(ctx context.Context, subject signal.Subject) ([]audit.Evidence, error) {
	return m.auditlog.EvidenceBySubject(ctx, subject)
}

// History returns the subject's closed quarantine entries.
func (m *Machine) History(ctx context.Context, subject signal.Subject) ([]Entry, error) {
	return m.store.History(ctx, subject)
}

func (m *Machine) audit(ctx context.Context, action, actor string, subject signal.Subject, outcome audit.Outcome, detail map[string]any) {
	if err := m.auditlog.Append(ctx, &audit.Record{
		Component: "quarantine",
		Action:    action,
		Actor:     actor,
		Subject:   subject,
		Outcome:   outcome,
		Detail:    detail,
	}); err != nil {
		logging.Ctx(ctx).Error().Err(err).
			Str("component", "quarantine").
			Msg("audit append failed")
	}
}
