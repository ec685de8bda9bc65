// Sentinel - Community Security Operations Automation
// Copyright 2026 Sentinel Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sentinel-ops/sentinel

package quarantine

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/sentinel-ops/sentinel/internal/errs"
	"github.com/sentinel-ops/sentinel/internal/signal"
)

// Key prefixes for BadgerDB storage.
const (
	activeKeyPrefix  = "quar:active:"
	historyKeyPrefix = "quar:hist:"
)

// Store persists quarantine entries: one active record per subject plus the
// append-only history of closed entries.
type Store struct {
	db *badger.DB
}

// NewStore creates a badger-backed quarantine store.
func NewStore(db *badger.DB) *Store {
	return &Store{db: db}
}

func activeKey(subject signal.Subject) []byte {
	return []byte(activeKeyPrefix + subject.Key())
}

// SaveActive writes the live entry for a subject. Closed entries belong in
// history via CloseActive; persisting one into the active slot is rejected.
func (s *Store) SaveActive(ctx context.Context, entry *Entry) error {
	if err := entry.validateLive(); err != nil {
		return err
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal quarantine entry: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(activeKey(entry.Subject), data)
	})
}

// GetActive returns the live entry for a subject, or errs.ErrNotFound.
func (s *Store) GetActive(ctx context.Context, subject signal.Subject) (*Entry, error) {
	var entry Entry
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(activeKey(subject))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return errs.ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// CloseActive moves the entry into history and clears the active slot,
// returning the subject to NONE.
func (s *Store) CloseActive(ctx context.Context, entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal quarantine entry: %w", err)
	}

	var ts int64
	if entry.ReleasedAt != nil {
		ts = entry.ReleasedAt.UnixNano()
	} else {
		ts = entry.QuarantinedAt.UnixNano()
	}
	histKey := []byte(fmt.Sprintf("%s%s:%020d:%s", historyKeyPrefix, entry.Subject.Key(), ts, entry.ID))

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(histKey, data); err != nil {
			return err
		}
		return txn.Delete(activeKey(entry.Subject))
	})
}

// History returns the closed entries for a subject in close order.
func (s *Store) History(ctx context.Context, subject signal.Subject) ([]Entry, error) {
	prefix := []byte(historyKeyPrefix + subject.Key() + ":")

	var out []Entry
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var entry Entry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); err != nil {
				return err
			}
			out = append(out, entry)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list quarantine history: %w", err)
	}
	return out, nil
}
