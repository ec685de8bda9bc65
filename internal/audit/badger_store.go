// Sentinel - Community Security Operations Automation
// Copyright 2026 Sentinel Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sentinel-ops/sentinel

package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/sentinel-ops/sentinel/internal/clock"
	"github.com/sentinel-ops/sentinel/internal/errs"
	"github.com/sentinel-ops/sentinel/internal/metrics"
	"github.com/sentinel-ops/sentinel/internal/signal"
)

// Key prefixes for BadgerDB storage. Record keys embed a zero-padded
// nanosecond timestamp so lexicographic order is chronological order.
const (
	recordKeyPrefix          = "audit:rec:"
	evidenceKeyPrefix        = "audit:ev:id:"
	evidenceSubjectKeyPrefix = "audit:ev:subj:"
)

// BadgerStore implements Store on the shared BadgerDB instance.
type BadgerStore struct {
	db  *badger.DB
	clk clock.Clock
}

// NewBadgerStore creates a badger-backed audit store.
func NewBadgerStore(db *badger.DB, clk clock.Clock) *BadgerStore {
	return &BadgerStore{db: db, clk: clk}
}

func recordKey(ts int64, id string) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", recordKeyPrefix, ts, id))
}

func evidenceSubjectKey(subject signal.Subject, ts int64, id string) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%s", evidenceSubjectKeyPrefix, subject.Key(), ts, id))
}

// Append writes one audit record.
func (s *BadgerStore) Append(ctx context.Context, rec *Record) error {
	if rec == nil {
		return errs.Validation("record", "nil record")
	}
	if rec.Component == "" || rec.Action == "" {
		return errs.Validation("record", "component and action required")
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.clk.Now()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(rec.Timestamp.UnixNano(), rec.ID), data)
	})
}

// Records returns up to limit records, most recent first.
func (s *BadgerStore) Records(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}

	var out []Record
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(recordKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		// Seek past the end of the prefix range for reverse iteration.
		seek := append([]byte(recordKeyPrefix), 0xFF)
		for it.Seek(seek); it.ValidForPrefix([]byte(recordKeyPrefix)) && len(out) < limit; it.Next() {
			var rec Record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}
	return out, nil
}

// AppendEvidence writes one evidence snapshot.
func (s *BadgerStore) AppendEvidence(ctx context.Context, ev *Evidence) error {
	if ev == nil {
		return errs.Validation("evidence", "nil evidence")
	}
	if !ev.Subject.Kind.Valid() || ev.Subject.Value == "" {
		return errs.Validation("evidence.subject", "required")
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.clk.Now()
	}
	if len(ev.Custody) == 0 {
		ev.Custody = []CustodyEvent{{Actor: "system", Action: "captured", Timestamp: ev.CreatedAt}}
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal evidence: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(evidenceKeyPrefix+ev.ID), data); err != nil {
			return err
		}
		// Subject index maps back to the snapshot ID.
		return txn.Set(evidenceSubjectKey(ev.Subject, ev.CreatedAt.UnixNano(), ev.ID), []byte(ev.ID))
	})
	if err != nil {
		return fmt.Errorf("append evidence: %w", err)
	}

	metrics.EvidenceSnapshots.Inc()
	return nil
}

// Evidence returns a snapshot by ID.
func (s *BadgerStore) Evidence(ctx context.Context, id string) (*Evidence, error) {
	var ev Evidence
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(evidenceKeyPrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return errs.ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &ev)
		})
	})
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// EvidenceBySubject returns all snapshots for a subject in capture order.
func (s *BadgerStore) EvidenceBySubject(ctx context.Context, subject signal.Subject) ([]Evidence, error) {
	prefix := []byte(evidenceSubjectKeyPrefix + subject.Key() + ":")

	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			ids = append(ids, string(val))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list evidence for %s: %w", subject.Key(), err)
	}

	out := make([]Evidence, 0, len(ids))
	for _, id := range ids {
		ev, err := s.Evidence(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *ev)
	}
	return out, nil
}

// AddCustody appends a custody event to an existing snapshot.
func (s *BadgerStore) AddCustody(ctx context.Context, evidenceID string, event CustodyEvent) error {
	if event.Actor == "" || event.Action == "" {
		return errs.Validation("custody", "actor and action required")
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.clk.Now()
	}

	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(evidenceKeyPrefix + evidenceID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return errs.ErrNotFound
		}
		if err != nil {
			return err
		}

		var ev Evidence
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &ev)
		}); err != nil {
			return err
		}

		ev.Custody = append(ev.Custody, event)
		data, err := json.Marshal(&ev)
		if err != nil {
			return fmt.Errorf("marshal evidence: %w", err)
		}
		return txn.Set([]byte(evidenceKeyPrefix+evidenceID), data)
	})
}
