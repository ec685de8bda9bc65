// Sentinel - Community Security Operations Automation
// Copyright 2026 Sentinel Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sentinel-ops/sentinel

package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sentinel-ops/sentinel/internal/clock"
	"github.com/sentinel-ops/sentinel/internal/errs"
	"github.com/sentinel-ops/sentinel/internal/signal"
	"github.com/sentinel-ops/sentinel/internal/store"
)

func newTestStore(t *testing.T) (*BadgerStore, *clock.Manual) {
	t.Helper()
	db, err := store.OpenInMemory()
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	clk := clock.NewManual(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	return NewBadgerStore(db, clk), clk
}

func TestRecordsNewestFirst(t *testing.T) {
	s, clk := newTestStore(t)
	ctx := context.Background()

	for _, action := range []string{"first", "second", "third"} {
		err := s.Append(ctx, &Record{
			Component: "test",
			Action:    action,
			Subject:   signal.Subject{Kind: signal.KindUser, Value: "u1"},
			Outcome:   OutcomeSuccess,
		})
		if err != nil {
			t.Fatalf("Append %s: %v", action, err)
		}
		clk.Advance(time.Second)
	}

	records, err := s.Records(ctx, 10)
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	want := []string{"third", "second", "first"}
	for i, rec := range records {
		if rec.Action != want[i] {
			t.Errorf("position %d: got %s, want %s", i, rec.Action, want[i])
		}
		if rec.ID == "" || rec.Timestamp.IsZero() {
			t.Errorf("record %d missing generated fields: %+v", i, rec)
		}
	}

	limited, err := s.Records(ctx, 2)
	if err != nil {
		t.Fatalf("Records limited: %v", err)
	}
	if len(limited) != 2 || limited[0].Action != "third" {
		t.Fatalf("limit not applied from newest: %+v", limited)
	}
}

func TestAppendValidation(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.Append(ctx, nil); !errs.IsValidation(err) {
		t.Errorf("nil record: expected ValidationError, got %v", err)
	}
	if err := s.Append(ctx, &Record{Action: "x"}); !errs.IsValidation(err) {
		t.Errorf("missing component: expected ValidationError, got %v", err)
	}
}

func TestEvidenceCustodyChain(t *testing.T) {
	s, clk := newTestStore(t)
	ctx := context.Background()
	subject := signal.Subject{Kind: signal.KindUser, Value: "u9"}

	ev := &Evidence{
		Subject:  subject,
		SignalID: "sig-1",
		Payload:  map[string]any{"threat_type": "phishing"},
	}
	if err := s.AppendEvidence(ctx, ev); err != nil {
		t.Fatalf("AppendEvidence: %v", err)
	}
	if ev.ID == "" {
		t.Fatal("evidence ID not assigned")
	}

	got, err := s.Evidence(ctx, ev.ID)
	if err != nil {
		t.Fatalf("Evidence: %v", err)
	}
	if len(got.Custody) != 1 || got.Custody[0].Action != "captured" {
		t.Fatalf("expected initial captured custody event, got %+v", got.Custody)
	}

	clk.Advance(time.Minute)
	if err := s.AddCustody(ctx, ev.ID, CustodyEvent{Actor: "reviewer", Action: "reviewed"}); err != nil {
		t.Fatalf("AddCustody: %v", err)
	}

	got, err = s.Evidence(ctx, ev.ID)
	if err != nil {
		t.Fatalf("Evidence after custody: %v", err)
	}
	if len(got.Custody) != 2 {
		t.Fatalf("custody chain length = %d, want 2", len(got.Custody))
	}
	if !got.Custody[1].Timestamp.After(got.Custody[0].Timestamp) {
		t.Fatal("custody events not in chronological order")
	}
	// The payload snapshot must be untouched by custody updates.
	if got.Payload["threat_type"] != "phishing" {
		t.Fatalf("payload mutated: %+v", got.Payload)
	}

	if err := s.AddCustody(ctx, "missing", CustodyEvent{Actor: "a", Action: "b"}); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("AddCustody on missing evidence: got %v", err)
	}
}

func TestEvidenceBySubjectCaptureOrder(t *testing.T) {
	s, clk := newTestStore(t)
	ctx := context.Background()
	subject := signal.Subject{Kind: signal.KindUser, Value: "u2"}

	for _, sigID := range []string{"s1", "s2", "s3"} {
		err := s.AppendEvidence(ctx, &Evidence{Subject: subject, SignalID: sigID})
		if err != nil {
			t.Fatalf("AppendEvidence %s: %v", sigID, err)
		}
		clk.Advance(time.Second)
	}
	// Another subject's evidence must not leak in.
	other := signal.Subject{Kind: signal.KindUser, Value: "u20"}
	if err := s.AppendEvidence(ctx, &Evidence{Subject: other, SignalID: "sx"}); err != nil {
		t.Fatalf("AppendEvidence other: %v", err)
	}

	evs, err := s.EvidenceBySubject(ctx, subject)
	if err != nil {
		t.Fatalf("EvidenceBySubject: %v", err)
	}
	if len(evs) != 3 {
		t.Fatalf("got %d snapshots, want 3", len(evs))
	}
	for i, want := range []string{"s1", "s2", "s3"} {
		if evs[i].SignalID != want {
			t.Errorf("position %d: got %s, want %s", i, evs[i].SignalID, want)
		}
	}
}
