// Sentinel - Community Security Operations Automation
// Copyright 2026 Sentinel Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sentinel-ops/sentinel

package blacklist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/sentinel-ops/sentinel/internal/audit"
	"github.com/sentinel-ops/sentinel/internal/errs"
	"github.com/sentinel-ops/sentinel/internal/logging"
	"github.com/sentinel-ops/sentinel/internal/metrics"
)

// SubmitAppeal files an appeal against an active APPEAL_ELIGIBLE entry.
// TEMPORARY entries resolve themselves and PERMANENT entries are not
// appealable; both reject with a ConflictError rather than queueing anything.
// A submitter with cfg.AppealLimit or more appeals in the rolling window is
// rejected regardless of those appeals' status.
func (s *Service) SubmitAppeal(ctx context.Context, entryID, submittedBy, reason string) (*Appeal, error) {
	if submittedBy == "" {
		return nil, errs.Validation("submitted_by", "required")
	}
	if reason == "" {
		return nil, errs.Validation("reason", "required")
	}

	entry, err := s.getEntry(entryID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(string(entry.Kind) + ":" + entry.Value)
	defer unlock()

	// The quota is per submitter, not per entry, so concurrent submissions
	// against distinct entries must serialize on the submitter as well. The
	// prefix keeps the key out of the kind:value namespace.
	unlockSubmitter := s.locks.Lock("appellant:" + submittedBy)
	defer unlockSubmitter()

	if !entry.Active(s.clk.Now()) {
		return nil, errs.Conflict(entryID, "entry is no longer active")
	}
	switch entry.Tier {
	case TierTemporary:
		return nil, errs.Conflict(entryID, "TEMPORARY entries expire on their own and are not appealable")
	case TierPermanent:
		return nil, errs.Conflict(entryID, "PERMANENT entries are not appealable")
	}

	recent, err := s.appealsSince(submittedBy, s.clk.Now().Add(-s.cfg.AppealWindow))
	if err != nil {
		return nil, err
	}
	if recent >= s.cfg.AppealLimit {
		metrics.AppealsTotal.WithLabelValues("rate_limited").Inc()
		return nil, errs.Conflict(submittedBy, "appeal limit reached: %d appeals within %s", recent, s.cfg.AppealWindow)
	}

	appeal := &Appeal{
		ID:          uuid.New().String(),
		EntryID:     entry.ID,
		SubmittedBy: submittedBy,
		Reason:      reason,
		Status:      AppealPending,
		SubmittedAt: s.clk.Now(),
	}
	if err := s.writeAppeal(appeal); err != nil {
		return nil, err
	}

	metrics.AppealsTotal.WithLabelValues("submitted").Inc()
	s.audit(ctx, "appeal_submitted", submittedBy, entry.Subject(), audit.OutcomeSuccess, map[string]any{
		"appeal_id": appeal.ID,
		"entry_id":  entry.ID,
	})

	// Best-effort: a quarantined subject moves to review alongside the
	// appeal. Failure here does not invalidate the submission.
	if s.review != nil {
		if err := s.review(ctx, entry.Subject(), submittedBy); err != nil {
			logging.Ctx(ctx).Warn().Err(err).
				Str("component", "blacklist").
				Str("appeal_id", appeal.ID).
				Msg("quarantine review hook failed")
		}
	}
	return appeal, nil
}

// DecideAppeal resolves a pending appeal. Decided appeals are terminal: a
// second decision is a ConflictError. Approval removes the blacklist entry
// with cause appeal_approved and notifies the submitter; denial records the
// note and leaves the entry in force.
func (s *Service) DecideAppeal(ctx context.Context, appealID, decidedBy string, approve bool, note string) (*Appeal, error) {
	if decidedBy == "" {
		return nil, errs.Validation("decided_by", "required")
	}

	appeal, err := s.getAppeal(appealID)
	if err != nil {
		return nil, err
	}

	entry, err := s.getEntry(appeal.EntryID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(string(entry.Kind) + ":" + entry.Value)
	defer unlock()

	// Re-read under the lock: a concurrent decision may have committed
	// between the first fetch and the lock acquisition.
	appeal, err = s.getAppeal(appealID)
	if err != nil {
		return nil, err
	}
	if appeal.Status != AppealPending {
		return nil, errs.Conflict(appealID, "appeal already %s", appeal.Status)
	}

	now := s.clk.Now()
	appeal.DecidedBy = decidedBy
	appeal.DecidedAt = &now
	appeal.DecisionNote = note

	if !approve {
		appeal.Status = AppealDenied
		if err := s.writeAppeal(appeal); err != nil {
			return nil, err
		}
		metrics.AppealsTotal.WithLabelValues("denied").Inc()
		s.audit(ctx, "appeal_denied", decidedBy, entry.Subject(), audit.OutcomeSuccess, map[string]any{
			"appeal_id": appeal.ID,
			"entry_id":  entry.ID,
		})
		return appeal, nil
	}

	appeal.Status = AppealApproved
	if err := s.writeAppeal(appeal); err != nil {
		return nil, err
	}

	if entry.Active(now) {
		if err := s.close(entry, decidedBy, CauseAppealApproved); err != nil {
			return nil, err
		}
	}

	metrics.AppealsTotal.WithLabelValues("approved").Inc()
	s.audit(ctx, "appeal_approved", decidedBy, entry.Subject(), audit.OutcomeSuccess, map[string]any{
		"appeal_id": appeal.ID,
		"entry_id":  entry.ID,
	})

	if s.client != nil {
		msg := fmt.Sprintf("Your appeal %s has been approved; the restriction on %s has been lifted.",
			appeal.ID, entry.Value)
		if err := s.client.Notify(ctx, entry.Subject(), msg); err != nil {
			logging.Ctx(ctx).Warn().Err(err).
				Str("component", "blacklist").
				Str("appeal_id", appeal.ID).
				Msg("approval notification failed")
		}
	}
	return appeal, nil
}

// Appeal returns a single appeal by ID.
func (s *Service) Appeal(ctx context.Context, id string) (*Appeal, error) {
	return s.getAppeal(id)
}

// AppealsBySubmitter returns all appeals filed by a submitter, oldest first.
func (s *Service) AppealsBySubmitter(ctx context.Context, submittedBy string) ([]Appeal, error) {
	prefix := []byte(appealSubmitterPrefix + submittedBy + ":")

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
		return nil, fmt.Errorf("list appeals for %s: %w", submittedBy, err)
	}

	out := make([]Appeal, 0, len(ids))
	for _, id := range ids {
		appeal, err := s.getAppeal(id)
		if err != nil {
			return nil, err
		}
		out = append(out, *appeal)
	}
	return out, nil
}

// AppealsForEntry returns all appeals filed against an entry.
func (s *Service) AppealsForEntry(ctx context.Context, entryID string) ([]Appeal, error) {
	prefix := []byte(appealByEntryKeyPrefix + entryID + ":")

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
		return nil, fmt.Errorf("list appeals for entry %s: %w", entryID, err)
	}

	out := make([]Appeal, 0, len(ids))
	for _, id := range ids {
		appeal, err := s.getAppeal(id)
		if err != nil {
			return nil, err
		}
		out = append(out, *appeal)
	}
	return out, nil
}

// Stats summarizes the registry for the operator surface.
type Stats struct {
	ActiveEntries  int          `json:"active_entries"`
	ByTier         map[Tier]int `json:"by_tier"`
	PendingAppeals int          `json:"pending_appeals"`
}

// Stats counts active entries per tier and pending appeals.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	entries, err := s.Entries(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		ActiveEntries: len(entries),
		ByTier:        make(map[Tier]int),
	}
	for _, e := range entries {
		stats.ByTier[e.Tier]++
	}

	prefix := []byte(appealKeyPrefix)
	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var appeal Appeal
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &appeal)
			}); err != nil {
				return err
			}
			if appeal.Status == AppealPending {
				stats.PendingAppeals++
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("count pending appeals: %w", err)
	}
	return stats, nil
}

// appealsSince counts a submitter's appeals at or after the cutoff,
// regardless of status.
func (s *Service) appealsSince(submittedBy string, cutoff time.Time) (int, error) {
	// Submitter index keys embed the submission timestamp, so we can seek
	// directly to the cutoff instead of scanning from the start.
	prefix := []byte(appealSubmitterPrefix + submittedBy + ":")
	seek := []byte(fmt.Sprintf("%s%s:%020d", appealSubmitterPrefix, submittedBy, cutoff.UnixNano()))

	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count appeals for %s: %w", submittedBy, err)
	}
	return count, nil
}

func (s *Service) writeAppeal(appeal *Appeal) error {
	data, err := json.Marshal(appeal)
	if err != nil {
		return fmt.Errorf("marshal appeal: %w", err)
	}

	subKey := []byte(fmt.Sprintf("%s%s:%020d:%s",
		appealSubmitterPrefix, appeal.SubmittedBy, appeal.SubmittedAt.UnixNano(), appeal.ID))
	entryKey := []byte(appealByEntryKeyPrefix + appeal.EntryID + ":" + appeal.ID)

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(appealKeyPrefix+appeal.ID), data); err != nil {
			return err
		}
		if err := txn.Set(subKey, []byte(appeal.ID)); err != nil {
			return err
		}
		return txn.Set(entryKey, []byte(appeal.ID))
	})
}

func (s *Service) getAppeal(id string) (*Appeal, error) {
	var appeal Appeal
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(appealKeyPrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return errs.ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &appeal)
		})
	})
	if err != nil {
		return nil, err
	}
	return &appeal, nil
}
