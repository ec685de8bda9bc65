// Sentinel - Community Security Operations Automation
// Copyright 2026 Sentinel Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sentinel-ops/sentinel

package escalation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sentinel-ops/sentinel/internal/audit"
	"github.com/sentinel-ops/sentinel/internal/clock"
	"github.com/sentinel-ops/sentinel/internal/errs"
	"github.com/sentinel-ops/sentinel/internal/platform"
	"github.com/sentinel-ops/sentinel/internal/signal"
	"github.com/sentinel-ops/sentinel/internal/store"
)

type capturePublisher struct {
	mu      sync.Mutex
	signals []*signal.Signal
}

func (p *capturePublisher) Publish(ctx context.Context, sig *signal.Signal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signals = append(p.signals, sig)
	return nil
}

func (p *capturePublisher) published() []*signal.Signal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*signal.Signal(nil), p.signals...)
}

type engineFixture struct {
	engine   *Engine
	recorder *platform.Recorder
	pub      *capturePublisher
	clk      *clock.Manual
	auditlog *audit.BadgerStore
}

func newEngineFixture(t *testing.T, cfg Config) *engineFixture {
	t.Helper()
	db, err := store.OpenInMemory()
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	clk := clock.NewManual(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	recorder := platform.NewRecorder()
	pub := &capturePublisher{}
	auditlog := audit.NewBadgerStore(db, clk)

	engine, err := NewEngine(NewStore(db), auditlog, pub, recorder, clk, cfg)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return &engineFixture{engine: engine, recorder: recorder, pub: pub, clk: clk, auditlog: auditlog}
}

func threatSignal(value, threatType string, confidence float64) *signal.Signal {
	sig := signal.New(
		signal.TypeThreatDetected,
		signal.Subject{Kind: signal.KindUser, Value: value},
		"test-detector",
	)
	sig.Confidence = confidence
	sig.Payload = map[string]any{signal.PayloadThreatType: threatType}
	return sig
}

func (f *engineFixture) mustSetRules(t *testing.T, rules []Rule) {
	t.Helper()
	for _, r := range rules {
		if err := f.engine.SetRule(context.Background(), r.ThreatType, r.Threshold, r.Level, r.Action); err != nil {
			t.Fatalf("SetRule %+v: %v", r, err)
		}
	}
}

var phishingLadder = []Rule{
	{ThreatType: "phishing", Threshold: 0.3, Level: 1, Action: ActionLog},
	{ThreatType: "phishing", Threshold: 0.5, Level: 2, Action: ActionWatch},
	{ThreatType: "phishing", Threshold: 0.7, Level: 3, Action: ActionAlertMods},
	{ThreatType: "phishing", Threshold: 0.85, Level: 4, Action: ActionTimeout},
	{ThreatType: "phishing", Threshold: 0.95, Level: 5, Action: ActionBanLockdown},
}

func TestResolveLadder(t *testing.T) {
	f := newEngineFixture(t, Config{})
	f.mustSetRules(t, phishingLadder)

	tests := []struct {
		confidence float64
		wantLevel  int
		wantAction Action
	}{
		{0.1, 0, ActionNone},
		{0.3, 1, ActionLog},
		{0.49, 1, ActionLog},
		{0.5, 2, ActionWatch},
		{0.7, 3, ActionAlertMods},
		{0.85, 4, ActionTimeout},
		{0.94, 4, ActionTimeout},
		{0.95, 5, ActionBanLockdown},
		{1.0, 5, ActionBanLockdown},
	}
	for _, tt := range tests {
		if err := f.engine.HandleThreat(context.Background(), threatSignal("u1", "phishing", tt.confidence)); err != nil {
			t.Fatalf("HandleThreat(%v): %v", tt.confidence, err)
		}
		recs, err := f.engine.History(context.Background(), 1)
		if err != nil {
			t.Fatalf("History: %v", err)
		}
		if len(recs) != 1 {
			t.Fatalf("confidence %v: no record appended", tt.confidence)
		}
		if recs[0].Level != tt.wantLevel || recs[0].Action != tt.wantAction {
			t.Errorf("confidence %v: got level %d action %s, want level %d action %s",
				tt.confidence, recs[0].Level, recs[0].Action, tt.wantLevel, tt.wantAction)
		}
		f.clk.Advance(time.Minute)
	}
}

func TestLevelMonotonicInConfidence(t *testing.T) {
	f := newEngineFixture(t, Config{})
	// A deliberately perverse ladder: a higher threshold maps to a LOWER
	// level. Increasing confidence must still never lower the level.
	f.mustSetRules(t, []Rule{
		{ThreatType: "spam", Threshold: 0.4, Level: 3, Action: ActionAlertMods},
		{ThreatType: "spam", Threshold: 0.8, Level: 2, Action: ActionWatch},
	})

	prevLevel := 0
	for _, c := range []float64{0.1, 0.4, 0.5, 0.8, 0.9, 1.0} {
		if err := f.engine.HandleThreat(context.Background(), threatSignal("u1", "spam", c)); err != nil {
			t.Fatalf("HandleThreat(%v): %v", c, err)
		}
		recs, _ := f.engine.History(context.Background(), 1)
		if recs[0].Level < prevLevel {
			t.Fatalf("level dropped from %d to %d as confidence rose to %v", prevLevel, recs[0].Level, c)
		}
		prevLevel = recs[0].Level
		f.clk.Advance(time.Minute)
	}
}

func TestWildcardFallback(t *testing.T) {
	f := newEngineFixture(t, Config{})
	f.mustSetRules(t, []Rule{
		{ThreatType: WildcardThreatType, Threshold: 0.6, Level: 2, Action: ActionWatch},
		{ThreatType: "phishing", Threshold: 0.2, Level: 1, Action: ActionLog},
	})

	// Unknown threat type falls back to the wildcard ladder.
	if err := f.engine.HandleThreat(context.Background(), threatSignal("u1", "novel-exploit", 0.9)); err != nil {
		t.Fatalf("HandleThreat: %v", err)
	}
	recs, _ := f.engine.History(context.Background(), 1)
	if recs[0].Level != 2 || recs[0].Action != ActionWatch {
		t.Fatalf("wildcard not applied: %+v", recs[0])
	}

	// A threat type with its own ladder never consults the wildcard.
	f.clk.Advance(time.Minute)
	if err := f.engine.HandleThreat(context.Background(), threatSignal("u1", "phishing", 0.9)); err != nil {
		t.Fatalf("HandleThreat: %v", err)
	}
	recs, _ = f.engine.History(context.Background(), 1)
	if recs[0].Level != 1 || recs[0].Action != ActionLog {
		t.Fatalf("specific ladder not preferred: %+v", recs[0])
	}
}

func TestCorrelationWindowAggregatesByMax(t *testing.T) {
	f := newEngineFixture(t, Config{AggregationWindow: 30 * time.Second})
	f.mustSetRules(t, phishingLadder)

	first := threatSignal("u1", "phishing", 0.9)
	first.CorrelationID = "incident-7"
	if err := f.engine.HandleThreat(context.Background(), first); err != nil {
		t.Fatalf("HandleThreat first: %v", err)
	}

	// A weaker correlated signal inside the window evaluates at the max.
	f.clk.Advance(10 * time.Second)
	second := threatSignal("u1", "phishing", 0.4)
	second.CorrelationID = "incident-7"
	if err := f.engine.HandleThreat(context.Background(), second); err != nil {
		t.Fatalf("HandleThreat second: %v", err)
	}
	recs, _ := f.engine.History(context.Background(), 1)
	if recs[0].Confidence != 0.9 || recs[0].Level != 4 {
		t.Fatalf("window max not applied: %+v", recs[0])
	}

	// Outside the window the stale maximum is forgotten.
	f.clk.Advance(time.Minute)
	third := threatSignal("u1", "phishing", 0.4)
	third.CorrelationID = "incident-7"
	if err := f.engine.HandleThreat(context.Background(), third); err != nil {
		t.Fatalf("HandleThreat third: %v", err)
	}
	recs, _ = f.engine.History(context.Background(), 1)
	if recs[0].Confidence != 0.4 || recs[0].Level != 1 {
		t.Fatalf("expired window still aggregated: %+v", recs[0])
	}

	// Uncorrelated signals never aggregate.
	f.clk.Advance(time.Minute)
	if err := f.engine.HandleThreat(context.Background(), threatSignal("u1", "phishing", 0.2)); err != nil {
		t.Fatalf("HandleThreat uncorrelated: %v", err)
	}
	recs, _ = f.engine.History(context.Background(), 1)
	if recs[0].Confidence != 0.2 {
		t.Fatalf("uncorrelated signal aggregated: %+v", recs[0])
	}
}

func TestHighLevelRaisesEscalation(t *testing.T) {
	f := newEngineFixture(t, Config{NotifyLevel: 4, OnCall: "responder-1"})
	f.mustSetRules(t, phishingLadder)

	if err := f.engine.HandleThreat(context.Background(), threatSignal("u1", "phishing", 0.97)); err != nil {
		t.Fatalf("HandleThreat: %v", err)
	}

	published := f.pub.published()
	if len(published) != 1 {
		t.Fatalf("published %d signals, want 1", len(published))
	}
	derived := published[0]
	if derived.Type != signal.TypeEscalationRequired {
		t.Fatalf("published type %s", derived.Type)
	}
	if derived.Severity != signal.SeverityCritical {
		t.Errorf("severity %s, want critical", derived.Severity)
	}
	if tt, _ := derived.PayloadString(signal.PayloadThreatType); tt != "phishing" {
		t.Errorf("payload threat_type %q", tt)
	}

	notifies := f.recorder.CallsFor(platform.ActionNotifyResponder)
	if len(notifies) != 1 || notifies[0].Subject.Value != "responder-1" {
		t.Fatalf("on-call notification calls: %+v", notifies)
	}
	recs, _ := f.engine.History(context.Background(), 1)
	if recs[0].OnCallNotified != "responder-1" || recs[0].NotifyGap != "" {
		t.Fatalf("record notify fields: %+v", recs[0])
	}

	// Level 3 must not raise.
	f.clk.Advance(time.Minute)
	if err := f.engine.HandleThreat(context.Background(), threatSignal("u2", "phishing", 0.7)); err != nil {
		t.Fatalf("HandleThreat level 3: %v", err)
	}
	if len(f.pub.published()) != 1 {
		t.Fatal("level below notify threshold still published ESCALATION_REQUIRED")
	}
}

func TestNotifyRetriesOnceThenRecordsGap(t *testing.T) {
	f := newEngineFixture(t, Config{NotifyLevel: 4, OnCall: "responder-1"})
	f.mustSetRules(t, phishingLadder)
	f.recorder.FailWith(platform.ActionNotifyResponder, errors.New("pager down"))

	if err := f.engine.HandleThreat(context.Background(), threatSignal("u1", "phishing", 0.97)); err != nil {
		t.Fatalf("HandleThreat: %v", err)
	}

	// Exactly one retry: two calls total, no more.
	notifies := f.recorder.CallsFor(platform.ActionNotifyResponder)
	if len(notifies) != 2 {
		t.Fatalf("notify attempts = %d, want 2", len(notifies))
	}
	recs, _ := f.engine.History(context.Background(), 1)
	if recs[0].NotifyGap == "" || recs[0].OnCallNotified != "" {
		t.Fatalf("gap not recorded: %+v", recs[0])
	}
	// The escalation itself still went out.
	if len(f.pub.published()) != 1 {
		t.Fatal("notification failure suppressed ESCALATION_REQUIRED")
	}
}

func TestActionFailureStillRecorded(t *testing.T) {
	f := newEngineFixture(t, Config{})
	f.mustSetRules(t, phishingLadder)
	f.recorder.FailWith(platform.ActionTimeout, errors.New("missing permission"))

	if err := f.engine.HandleThreat(context.Background(), threatSignal("u1", "phishing", 0.9)); err != nil {
		t.Fatalf("HandleThreat: %v", err)
	}
	recs, _ := f.engine.History(context.Background(), 1)
	if recs[0].ActionError == "" {
		t.Fatalf("action error not recorded: %+v", recs[0])
	}
	if recs[0].Level != 4 || recs[0].Action != ActionTimeout {
		t.Fatalf("resolution changed by failure: %+v", recs[0])
	}
}

func TestSetRuleValidation(t *testing.T) {
	f := newEngineFixture(t, Config{})
	ctx := context.Background()

	tests := []struct {
		name string
		rule Rule
	}{
		{"empty threat type", Rule{ThreatType: "", Threshold: 0.5, Level: 1, Action: ActionLog}},
		{"threshold above 1", Rule{ThreatType: "spam", Threshold: 1.2, Level: 1, Action: ActionLog}},
		{"level zero", Rule{ThreatType: "spam", Threshold: 0.5, Level: 0, Action: ActionLog}},
		{"level above max", Rule{ThreatType: "spam", Threshold: 0.5, Level: 6, Action: ActionLog}},
		{"unknown action", Rule{ThreatType: "spam", Threshold: 0.5, Level: 1, Action: "obliterate"}},
		{"none not configurable", Rule{ThreatType: "spam", Threshold: 0.5, Level: 1, Action: ActionNone}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.engine.SetRule(ctx, tt.rule.ThreatType, tt.rule.Threshold, tt.rule.Level, tt.rule.Action)
			if !errs.IsValidation(err) {
				t.Errorf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestSetRuleUpsertAndReload(t *testing.T) {
	f := newEngineFixture(t, Config{})
	ctx := context.Background()

	f.mustSetRules(t, []Rule{
		{ThreatType: "raid", Threshold: 0.5, Level: 2, Action: ActionWatch},
	})
	// Same (threat_type, threshold) replaces instead of duplicating.
	if err := f.engine.SetRule(ctx, "raid", 0.5, 3, ActionAlertMods); err != nil {
		t.Fatalf("SetRule upsert: %v", err)
	}
	ladder := f.engine.Rules()["raid"]
	if len(ladder) != 1 || ladder[0].Level != 3 {
		t.Fatalf("upsert failed: %+v", ladder)
	}

	// A fresh engine on the same store sees the persisted rules.
	reloaded, err := NewEngine(f.engine.store, f.auditlog, f.pub, f.recorder, f.clk, Config{})
	if err != nil {
		t.Fatalf("reload engine: %v", err)
	}
	ladder = reloaded.Rules()["raid"]
	if len(ladder) != 1 || ladder[0].Level != 3 || ladder[0].Action != ActionAlertMods {
		t.Fatalf("rules not reloaded: %+v", ladder)
	}
}

func TestHistoryNewestFirst(t *testing.T) {
	f := newEngineFixture(t, Config{})
	f.mustSetRules(t, phishingLadder)

	for _, u := range []string{"u1", "u2", "u3"} {
		if err := f.engine.HandleThreat(context.Background(), threatSignal(u, "phishing", 0.3)); err != nil {
			t.Fatalf("HandleThreat %s: %v", u, err)
		}
		f.clk.Advance(time.Second)
	}
	recs, err := f.engine.History(context.Background(), 2)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(recs) != 2 || recs[0].Subject.Value != "u3" || recs[1].Subject.Value != "u2" {
		t.Fatalf("history order wrong: %+v", recs)
	}
}

func TestMissingThreatTypeRejected(t *testing.T) {
	f := newEngineFixture(t, Config{})
	sig := threatSignal("u1", "phishing", 0.5)
	delete(sig.Payload, signal.PayloadThreatType)
	if err := f.engine.HandleThreat(context.Background(), sig); !errs.IsValidation(err) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}
