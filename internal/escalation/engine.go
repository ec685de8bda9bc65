// Sentinel - Community Security Operations Automation
// Copyright 2026 Sentinel Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sentinel-ops/sentinel

package escalation

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sentinel-ops/sentinel/internal/audit"
	"github.com/sentinel-ops/sentinel/internal/clock"
	"github.com/sentinel-ops/sentinel/internal/errs"
	"github.com/sentinel-ops/sentinel/internal/logging"
	"github.com/sentinel-ops/sentinel/internal/metrics"
	"github.com/sentinel-ops/sentinel/internal/platform"
	"github.com/sentinel-ops/sentinel/internal/signal"
)

// Publisher is the slice of the bus the engine needs to emit derived signals.
type Publisher interface {
	Publish(ctx context.Context, sig *signal.Signal) error
}

// Config configures the engine.
type Config struct {
	// AggregationWindow is how long correlated confidences are combined.
	AggregationWindow time.Duration

	// NotifyLevel is the resolved level at or above which the engine
	// publishes ESCALATION_REQUIRED and notifies the on-call responder.
	NotifyLevel int

	// TimeoutDuration is the mute length applied by the timeout action.
	TimeoutDuration time.Duration

	// OnCall is the initial on-call responder; SetOnCall overrides it.
	OnCall string
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		AggregationWindow: 30 * time.Second,
		NotifyLevel:       4,
		TimeoutDuration:   10 * time.Minute,
	}
}

type corrState struct {
	confidence float64
	expiresAt  time.Time
}

// Engine is the THREAT_DETECTED subscriber that resolves graduated actions.
type Engine struct {
	store    *Store
	auditlog audit.Store
	bus      Publisher
	client   platform.Client
	clk      clock.Clock
	cfg      Config

	mu     sync.RWMutex
	rules  map[string][]Rule
	onCall string
	corr   map[string]corrState
}

// NewEngine creates an engine, reloading rules and the on-call assignment
// from the store.
func NewEngine(
	store *Store,
	auditlog audit.Store,
	bus Publisher,
	client platform.Client,
	clk clock.Clock,
	cfg Config,
) (*Engine, error) {
	if cfg.AggregationWindow <= 0 {
		cfg.AggregationWindow = DefaultConfig().AggregationWindow
	}
	if cfg.NotifyLevel == 0 {
		cfg.NotifyLevel = DefaultConfig().NotifyLevel
	}
	if cfg.TimeoutDuration <= 0 {
		cfg.TimeoutDuration = DefaultConfig().TimeoutDuration
	}

	ctx := context.Background()
	rules, err := store.LoadRules(ctx)
	if err != nil {
		return nil, err
	}
	onCall, err := store.LoadOnCall(ctx)
	if err != nil {
		return nil, err
	}
	if onCall == "" {
		onCall = cfg.OnCall
	}

	return &Engine{
		store:    store,
		auditlog: auditlog,
		bus:      bus,
		client:   client,
		clk:      clk,
		cfg:      cfg,
		rules:    rules,
		onCall:   onCall,
		corr:     make(map[string]corrState),
	}, nil
}

// Name implements signal.Producer.
func (e *Engine) Name() string { return "escalation-engine" }

// Produces implements signal.Producer.
func (e *Engine) Produces() []signal.Type {
	return []signal.Type{signal.TypeEscalationRequired}
}

// SetRule upserts a rule. The upsert is idempotent per (threat_type, threshold).
func (e *Engine) SetRule(ctx context.Context, threatType string, threshold float64, level int, action Action) error {
	rule := Rule{ThreatType: threatType, Threshold: threshold, Level: level, Action: action}
	if err := rule.Validate(); err != nil {
		return err
	}
	if err := e.store.SaveRule(ctx, rule); err != nil {
		return err
	}

	e.mu.Lock()
	ladder := e.rules[threatType]
	replaced := false
	for i := range ladder {
		if ladder[i].Threshold == threshold {
			ladder[i] = rule
			replaced = true
			break
		}
	}
	if !replaced {
		// Insert keeping ascending threshold order.
		pos := len(ladder)
		for i := range ladder {
			if ladder[i].Threshold > threshold {
				pos = i
				break
			}
		}
		ladder = append(ladder, Rule{})
		copy(ladder[pos+1:], ladder[pos:])
		ladder[pos] = rule
	}
	e.rules[threatType] = ladder
	e.mu.Unlock()

	logging.Ctx(ctx).Info().
		Str("component", "escalation").
		Str("threat_type", threatType).
		Float64("threshold", threshold).
		Int("level", level).
		Str("action", string(action)).
		Msg("rule set")
	return nil
}

// SetOnCall assigns the on-call responder.
func (e *Engine) SetOnCall(ctx context.Context, responder string) error {
	if responder == "" {
		return errs.Validation("responder", "required")
	}
	if err := e.store.SaveOnCall(ctx, responder); err != nil {
		return err
	}
	e.mu.Lock()
	e.onCall = responder
	e.mu.Unlock()
	return nil
}

// Rules returns a snapshot of all ladders keyed by threat type.
func (e *Engine) Rules() map[string][]Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(map[string][]Rule, len(e.rules))
	for threatType, ladder := range e.rules {
		out[threatType] = append([]Rule(nil), ladder...)
	}
	return out
}

// OnCall returns the current on-call responder.
func (e *Engine) OnCall() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.onCall
}

// History returns the most recent escalation records, newest first.
func (e *Engine) History(ctx context.Context, limit int) ([]Record, error) {
	return e.store.History(ctx, limit)
}

// HandleThreat is the bus handler for THREAT_DETECTED. Every evaluation
// appends a Record, even when no rule threshold is cleared.
func (e *Engine) HandleThreat(ctx context.Context, sig *signal.Signal) error {
	threatType, ok := sig.PayloadString(signal.PayloadThreatType)
	if !ok {
		return errs.Validation("payload.threat_type", "required for %s", sig.Type)
	}

	confidence := e.aggregate(sig)
	rule, matched := e.resolve(threatType, confidence)

	rec := &Record{
		ID:         uuid.New().String(),
		SignalID:   sig.ID,
		Subject:    sig.Subject,
		ThreatType: threatType,
		Confidence: confidence,
		Action:     ActionNone,
		Timestamp:  e.clk.Now(),
	}

	if matched {
		rec.Level = rule.Level
		rec.Action = rule.Action

		if err := e.execute(ctx, rule, sig); err != nil {
			rec.ActionError = err.Error()
		}

		if rule.Level >= e.cfg.NotifyLevel {
			e.raise(ctx, sig, rule, rec)
		}
	}

	if err := e.store.AppendRecord(ctx, rec); err != nil {
		return err
	}

	outcome := audit.OutcomeSuccess
	if rec.ActionError != "" || rec.NotifyGap != "" {
		outcome = audit.OutcomePartial
	}
	if err := e.auditlog.Append(ctx, &audit.Record{
		Component: "escalation",
		Action:    "evaluate",
		Subject:   sig.Subject,
		Outcome:   outcome,
		Detail: map[string]any{
			"signal_id":   sig.ID,
			"threat_type": threatType,
			"confidence":  confidence,
			"level":       rec.Level,
			"action":      string(rec.Action),
		},
	}); err != nil {
		logging.Ctx(ctx).Error().Err(err).
			Str("component", "escalation").
			Msg("audit append failed")
	}

	metrics.EscalationsTotal.WithLabelValues(strconv.Itoa(rec.Level), string(rec.Action)).Inc()
	logging.Ctx(ctx).Info().
		Str("component", "escalation").
		Str("subject", sig.Subject.Key()).
		Str("threat_type", threatType).
		Float64("confidence", confidence).
		Int("level", rec.Level).
		Str("action", string(rec.Action)).
		Msg("threat evaluated")
	return nil
}

// aggregate combines confidences of correlated signals within the window by
// taking the maximum.
func (e *Engine) aggregate(sig *signal.Signal) float64 {
	if sig.CorrelationID == "" {
		return sig.Confidence
	}

	now := e.clk.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	for id, st := range e.corr {
		if !st.expiresAt.After(now) {
			delete(e.corr, id)
		}
	}

	confidence := sig.Confidence
	if st, ok := e.corr[sig.CorrelationID]; ok && st.confidence > confidence {
		confidence = st.confidence
	}
	e.corr[sig.CorrelationID] = corrState{
		confidence: confidence,
		expiresAt:  now.Add(e.cfg.AggregationWindow),
	}
	return confidence
}

// resolve selects the highest-level rule whose threshold the confidence
// clears, falling back to the wildcard ladder when the threat type has no
// specific rules. Selecting by level keeps escalation monotonic in
// confidence even for mis-ordered ladders.
func (e *Engine) resolve(threatType string, confidence float64) (Rule, bool) {
	e.mu.RLock()
	ladder, ok := e.rules[threatType]
	if !ok || len(ladder) == 0 {
		ladder = e.rules[WildcardThreatType]
	}
	e.mu.RUnlock()

	var best Rule
	matched := false
	for _, rule := range ladder {
		if rule.Threshold > confidence {
			continue
		}
		if !matched || rule.Level > best.Level ||
			(rule.Level == best.Level && rule.Threshold > best.Threshold) {
			best = rule
			matched = true
		}
	}
	return best, matched
}

// execute performs the resolved action against the subject. Log and watch
// perform no platform mutation.
func (e *Engine) execute(ctx context.Context, rule Rule, sig *signal.Signal) error {
	var err error
	switch rule.Action {
	case ActionLog, ActionWatch:
		return nil
	case ActionAlertMods:
		err = e.client.AlertModerators(ctx, sig.Subject, rule.ThreatType+" detected")
	case ActionTimeout:
		err = e.client.Timeout(ctx, sig.Subject, e.cfg.TimeoutDuration)
	case ActionBanLockdown:
		err = e.client.Ban(ctx, sig.Subject, rule.ThreatType)
	}
	if err != nil {
		return errs.PlatformAction(string(rule.Action), sig.Subject.Key(), err)
	}
	return nil
}

// raise publishes ESCALATION_REQUIRED and notifies the on-call responder.
// Notification failure is non-fatal: one retry, then the gap is recorded on
// the escalation record.
func (e *Engine) raise(ctx context.Context, sig *signal.Signal, rule Rule, rec *Record) {
	derived := signal.New(signal.TypeEscalationRequired, sig.Subject, "escalation-engine")
	derived.Severity = signal.SeverityCritical
	derived.Confidence = rec.Confidence
	derived.CorrelationID = sig.CorrelationID
	derived.Payload = map[string]any{
		signal.PayloadThreatType: rule.ThreatType,
		signal.PayloadLevel:      rule.Level,
		"origin_signal_id":       sig.ID,
	}
	if err := e.bus.Publish(ctx, derived); err != nil {
		logging.Ctx(ctx).Error().Err(err).
			Str("component", "escalation").
			Msg("publish ESCALATION_REQUIRED failed")
	}

	e.mu.RLock()
	onCall := e.onCall
	e.mu.RUnlock()
	if onCall == "" {
		rec.NotifyGap = "no on-call responder configured"
		metrics.OnCallNotifyFailures.Inc()
		return
	}

	msg := "escalation level " + strconv.Itoa(rule.Level) + " for " + sig.Subject.Key() +
		" (" + rule.ThreatType + ")"
	err := e.client.NotifyResponder(ctx, onCall, msg)
	if err != nil {
		// Single retry; beyond that the gap is recorded, not retried.
		err = e.client.NotifyResponder(ctx, onCall, msg)
	}
	if err != nil {
		rec.NotifyGap = err.Error()
		metrics.OnCallNotifyFailures.Inc()
		return
	}
	rec.OnCallNotified = onCall
}
