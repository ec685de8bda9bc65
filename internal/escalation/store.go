// Sentinel - Community Security Operations Automation
// Copyright 2026 Sentinel Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sentinel-ops/sentinel

package escalation

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

// Key prefixes for BadgerDB storage. Rule keys embed the threshold in fixed
// width so lexicographic order matches numeric order; history keys embed a
// zero-padded timestamp for chronological iteration.
const (
	ruleKeyPrefix    = "esc:rule:"
	historyKeyPrefix = "esc:hist:"
	onCallKey        = "esc:oncall"
)

// Store persists escalation rules, history, and the on-call assignment.
type Store struct {
	db *badger.DB
}

// NewStore creates a badger-backed escalation store.
func NewStore(db *badger.DB) *Store {
	return &Store{db: db}
}

func ruleKey(threatType string, threshold float64) []byte {
	return []byte(fmt.Sprintf("%s%s:%06.4f", ruleKeyPrefix, threatType, threshold))
}

// SaveRule upserts a rule keyed by (threat_type, threshold).
func (s *Store) SaveRule(ctx context.Context, rule Rule) error {
	data, err := json.Marshal(rule)
	if err != nil {
		return fmt.Errorf("marshal rule: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(ruleKey(rule.ThreatType, rule.Threshold), data)
	})
}

// LoadRules returns all persisted rules grouped by threat type, each group
// sorted ascending by threshold.
func (s *Store) LoadRules(ctx context.Context) (map[string][]Rule, error) {
	out := make(map[string][]Rule)
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(ruleKeyPrefix)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rule Rule
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rule)
			}); err != nil {
				return err
			}
			out[rule.ThreatType] = append(out[rule.ThreatType], rule)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}

	for tt := range out {
		rules := out[tt]
		sort.Slice(rules, func(i, j int) bool { return rules[i].Threshold < rules[j].Threshold })
		out[tt] = rules
	}
	return out, nil
}

// AppendRecord writes one escalation record to history.
func (s *Store) AppendRecord(ctx context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal escalation record: %w", err)
	}
	key := []byte(fmt.Sprintf("%s%020d:%s", historyKeyPrefix, rec.Timestamp.UnixNano(), rec.ID))
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

// History returns up to limit records, most recent first.
func (s *Store) History(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}

	var out []Record
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(historyKeyPrefix)
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := append([]byte(historyKeyPrefix), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(prefix) && len(out) < limit; it.Next() {
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
		return nil, fmt.Errorf("list history: %w", err)
	}
	return out, nil
}

// SaveOnCall persists the on-call responder so it survives restarts.
func (s *Store) SaveOnCall(ctx context.Context, responder string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(onCallKey), []byte(responder))
	})
}

// LoadOnCall returns the persisted on-call responder, or "" when unset.
func (s *Store) LoadOnCall(ctx context.Context) (string, error) {
	var responder string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(onCallKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			responder = string(val)
			return nil
		})
	})
	if err != nil {
		return "", fmt.Errorf("load on-call: %w", err)
	}
	return responder, nil
}
