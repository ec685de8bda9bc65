// Sentinel - Community Security Operations Automation
// Copyright 2026 Sentinel Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sentinel-ops/sentinel

// Package audit provides the append-only record of responder decisions and
// the forensic evidence store with chain of custody.
//
// All three responders write here concurrently; no writer ever mutates
// another's prior entries. The only permitted amendment is appending a
// custody event to an existing evidence snapshot.
package audit

import (
	"context"
	"time"

	"github.com/sentinel-ops/sentinel/internal/signal"
)

// Outcome indicates whether the recorded action succeeded.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	// OutcomePartial marks a committed state transition whose best-effort
	// platform side effects did not all succeed.
	OutcomePartial Outcome = "partial"
)

// Record is one immutable audit entry describing a responder decision.
type Record struct {
	ID        string         `json:"id"`
	Component string         `json:"component"`
	Action    string         `json:"action"`
	Actor     string         `json:"actor,omitempty"`
	Subject   signal.Subject `json:"subject"`
	Outcome   Outcome        `json:"outcome"`
	Detail    map[string]any `json:"detail,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// CustodyEvent is one step in an evidence snapshot's chain of custody.
type CustodyEvent struct {
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
}

// Evidence is an immutable forensic copy of the data that triggered an
// action. The payload is copied at capture time; the custody chain is
// append-only.
type Evidence struct {
	ID        string         `json:"id"`
	Subject   signal.Subject `json:"subject"`
	SignalID  string         `json:"originating_signal_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Custody   []CustodyEvent `json:"chain_of_custody"`
	CreatedAt time.Time      `json:"created_at"`
}

// Store is the shared append-only audit and evidence store.
type Store interface {
	// Append writes one audit record. Concurrent appends from different
	// responders never wait on each other beyond store-level commit.
	Append(ctx context.Context, rec *Record) error

	// Records returns up to limit records, most recent first.
	Records(ctx context.Context, limit int) ([]Record, error)

	// AppendEvidence writes one evidence snapshot.
	AppendEvidence(ctx context.Context, ev *Evidence) error

	// Evidence returns a snapshot by ID.
	Evidence(ctx context.Context, id string) (*Evidence, error)

	// EvidenceBySubject returns all snapshots for a subject in capture order.
	EvidenceBySubject(ctx context.Context, subject signal.Subject) ([]Evidence, error)

	// AddCustody appends a custody event to an existing snapshot. The
	// snapshot payload itself is never modified.
	AddCustody(ctx context.Context, evidenceID string, event CustodyEvent) error
}
