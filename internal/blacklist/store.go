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
	"github.com/sentinel-ops/sentinel/internal/clock"
	"github.com/sentinel-ops/sentinel/internal/errs"
	"github.com/sentinel-ops/sentinel/internal/keylock"
	"github.com/sentinel-ops/sentinel/internal/logging"
	"github.com/sentinel-ops/sentinel/internal/metrics"
	"github.com/sentinel-ops/sentinel/internal/platform"
	"github.com/sentinel-ops/sentinel/internal/signal"
)

// Key prefixes for BadgerDB storage.
const (
	entryKeyPrefix         = "bl:entry:"
	activeKeyPrefix        = "bl:active:"
	historyKeyPrefix       = "bl:hist:"
	appealKeyPrefix        = "bl:appeal:id:"
	appealSubmitterPrefix  = "bl:appeal:sub:"
	appealByEntryKeyPrefix = "bl:appeal:entry:"
)

// Publisher is the slice of the bus the service needs for coordination signals.
type Publisher interface {
	Publish(ctx context.Context, sig *signal.Signal) error
}

// ReviewHook is called best-effort when an appeal is submitted, so a
// quarantined subject moves to UNDER_REVIEW through the same entry point a
// manual review request uses.
type ReviewHook func(ctx context.Context, subject signal.Subject, reviewer string) error

// Config configures the service.
type Config struct {
	// AppealLimit is the maximum number of appeals (any status) a
	// submitter may have within AppealWindow. Exceeding it rejects the
	// submission; nothing is queued.
	AppealLimit int

	// AppealWindow is the rolling window for the appeal limit.
	AppealWindow time.Duration

	// SweepInterval is how often the background sweep expires TEMPORARY
	// entries. Lookups additionally expire lazily, so a stale entry can
	// never be observed between sweeps.
	SweepInterval time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		AppealLimit:   3,
		AppealWindow:  30 * 24 * time.Hour,
		SweepInterval: time.Minute,
	}
}

// Service is the blacklist and appeals store.
type Service struct {
	db       *badger.DB
	clk      clock.Clock
	locks    *keylock.KeyedMutex
	auditlog audit.Store
	bus      Publisher
	client   platform.Client
	review   ReviewHook
	cfg      Config
}

// NewService creates a blacklist service. bus and review may be nil when
// coordination signals or the quarantine hook are not wired (tests).
func NewService(
	db *badger.DB,
	clk clock.Clock,
	auditlog audit.Store,
	bus Publisher,
	client platform.Client,
	cfg Config,
) *Service {
	if cfg.AppealLimit <= 0 {
		cfg.AppealLimit = DefaultConfig().AppealLimit
	}
	if cfg.AppealWindow <= 0 {
		cfg.AppealWindow = DefaultConfig().AppealWindow
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultConfig().SweepInterval
	}
	return &Service{
		db:       db,
		clk:      clk,
		locks:    keylock.New(),
		auditlog: auditlog,
		bus:      bus,
		client:   client,
		cfg:      cfg,
	}
}

// SetReviewHook wires the quarantine review entry point.
func (s *Service) SetReviewHook(hook ReviewHook) { s.review = hook }

// Name implements signal.Producer.
func (s *Service) Name() string { return "blacklist" }

// Produces implements signal.Producer.
func (s *Service) Produces() []signal.Type {
	return []signal.Type{signal.TypePolicyViolation}
}

func activeKey(kind signal.SubjectKind, value string) []byte {
	return []byte(activeKeyPrefix + string(kind) + ":" + value)
}

// Add creates a new active entry for (kind, value). An existing active entry
// is a ConflictError: it must be removed first, never silently overwritten.
// expires_at is computed only for TEMPORARY entries.
func (s *Service) Add(
	ctx context.Context,
	kind signal.SubjectKind,
	value string,
	tier Tier,
	duration time.Duration,
	reason string,
	actor string,
) (*Entry, error) {
	if err := validateKind(kind); err != nil {
		return nil, err
	}
	if value == "" {
		return nil, errs.Validation("value", "required")
	}
	if !tier.Valid() {
		return nil, errs.Validation("tier", "unknown tier %q", tier)
	}
	if duration < 0 {
		return nil, errs.Validation("duration", "must not be negative")
	}
	if tier != TierTemporary && duration != 0 {
		return nil, errs.Validation("duration", "only TEMPORARY entries take a duration")
	}

	key := string(kind) + ":" + value
	unlock := s.locks.Lock(key)
	defer unlock()

	if existing, err := s.lookupActive(ctx, kind, value); err == nil {
		return nil, errs.Conflict(key, "active entry %s exists; remove it first", existing.ID)
	} else if !errors.Is(err, errs.ErrNotFound) {
		return nil, err
	}

	now := s.clk.Now()
	entry := &Entry{
		ID:        uuid.New().String(),
		Kind:      kind,
		Value:     value,
		Tier:      tier,
		Reason:    reason,
		AddedBy:   actor,
		CreatedAt: now,
	}
	if tier == TierTemporary {
		expires := now.Add(duration)
		entry.ExpiresAt = &expires
	}

	if err := s.writeEntry(entry, true); err != nil {
		return nil, err
	}

	s.audit(ctx, "add", actor, entry.Subject(), audit.OutcomeSuccess, map[string]any{
		"entry_id": entry.ID,
		"tier":     string(tier),
		"reason":   reason,
	})
	logging.Ctx(ctx).Info().
		Str("component", "blacklist").
		Str("subject", key).
		Str("tier", string(tier)).
		Msg("entry added")
	return entry, nil
}

// Lookup is the synchronous enforcement query. A TEMPORARY entry past its
// expiry is transitioned out of the active set on the spot and reported as
// not blacklisted.
func (s *Service) Lookup(ctx context.Context, kind signal.SubjectKind, value string) (*Entry, error) {
	entry, err := s.lookupActive(ctx, kind, value)
	if err != nil {
		metrics.BlacklistLookups.WithLabelValues("miss").Inc()
		return nil, err
	}
	metrics.BlacklistLookups.WithLabelValues("hit").Inc()
	return entry, nil
}

// lookupActive resolves the active entry, lazily expiring due TEMPORARY
// entries. Callers need not hold the subject lock: expire only clears the
// active pointer while it still names the entry being expired, so a stale
// read can never unlink a successor entry.
func (s *Service) lookupActive(ctx context.Context, kind signal.SubjectKind, value string) (*Entry, error) {
	id, err := s.activeID(kind, value)
	if err != nil {
		return nil, err
	}
	entry, err := s.getEntry(id)
	if err != nil {
		return nil, err
	}

	if !entry.Active(s.clk.Now()) {
		if err := s.expire(ctx, entry); err != nil {
			return nil, err
		}
		return nil, errs.ErrNotFound
	}
	return entry, nil
}

// Remove transitions the entry out of the active set. TEMPORARY entries may
// always be removed; APPEAL_ELIGIBLE and PERMANENT require override (the
// appeal-approval path uses its own cause internally). History is retained.
func (s *Service) Remove(ctx context.Context, kind signal.SubjectKind, value string, actor string, override bool) error {
	key := string(kind) + ":" + value
	unlock := s.locks.Lock(key)
	defer unlock()

	entry, err := s.lookupActive(ctx, kind, value)
	if err != nil {
		return err
	}

	cause := CauseManual
	switch entry.Tier {
	case TierTemporary:
		// Always removable.
	case TierAppealEligible, TierPermanent:
		if !override {
			return errs.Conflict(key, "%s entry requires an explicit override to remove", entry.Tier)
		}
		cause = CauseOverride
	}

	if err := s.close(entry, actor, cause); err != nil {
		return err
	}
	s.audit(ctx, "remove", actor, entry.Subject(), audit.OutcomeSuccess, map[string]any{
		"entry_id": entry.ID,
		"cause":    cause,
	})
	return nil
}

// Sweep expires all due TEMPORARY entries and returns how many it closed.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	ids, err := s.activeIDs()
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, id := range ids {
		entry, err := s.getEntry(id)
		if err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				continue
			}
			return expired, err
		}
		if entry.Active(s.clk.Now()) {
			continue
		}

		unlock := s.locks.Lock(string(entry.Kind) + ":" + entry.Value)
		// Re-check under the lock, counting only entries this sweep
		// expires itself; a concurrent lookup may have beaten it here.
		swept, err := func() (bool, error) {
			activeID, err := s.activeID(entry.Kind, entry.Value)
			if err != nil || activeID != id {
				return false, err
			}
			current, err := s.getEntry(activeID)
			if err != nil {
				return false, err
			}
			if current.Active(s.clk.Now()) {
				return false, nil
			}
			return true, s.expire(ctx, current)
		}()
		unlock()
		if err != nil && !errors.Is(err, errs.ErrNotFound) {
			return expired, err
		}
		if swept && err == nil {
			expired++
		}
	}
	return expired, nil
}

// HandleMemberJoined consumes MEMBER_JOINED and publishes POLICY_VIOLATION
// when the joining subject has an active entry, so responders and the audit
// trail observe enforcement hits.
func (s *Service) HandleMemberJoined(ctx context.Context, sig *signal.Signal) error {
	entry, err := s.Lookup(ctx, sig.Subject.Kind, sig.Subject.Value)
	if errors.Is(err, errs.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	s.audit(ctx, "enforcement_hit", "system", entry.Subject(), audit.OutcomeSuccess, map[string]any{
		"entry_id":  entry.ID,
		"tier":      string(entry.Tier),
		"signal_id": sig.ID,
	})

	if s.bus == nil {
		return nil
	}
	violation := signal.New(signal.TypePolicyViolation, sig.Subject, "blacklist")
	violation.Severity = signal.SeverityHigh
	violation.Confidence = 1.0
	violation.CorrelationID = sig.CorrelationID
	violation.Payload = map[string]any{
		signal.PayloadPolicy: "blacklist",
		"entry_id":           entry.ID,
		"tier":               string(entry.Tier),
	}
	return s.bus.Publish(ctx, violation)
}

// Entries returns all active entries.
func (s *Service) Entries(ctx context.Context) ([]Entry, error) {
	ids, err := s.activeIDs()
	if err != nil {
		return nil, err
	}

	now := s.clk.Now()
	out := make([]Entry, 0, len(ids))
	for _, id := range ids {
		entry, err := s.getEntry(id)
		if err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if entry.Active(now) {
			out = append(out, *entry)
		}
	}
	return out, nil
}

// HistoryFor returns every entry ever recorded for (kind, value), including
// expired and removed ones.
func (s *Service) HistoryFor(ctx context.Context, kind signal.SubjectKind, value string) ([]Entry, error) {
	prefix := []byte(historyKeyPrefix + string(kind) + ":" + value + ":")

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
		return nil, fmt.Errorf("list history for %s:%s: %w", kind, value, err)
	}

	out := make([]Entry, 0, len(ids))
	for _, id := range ids {
		entry, err := s.getEntry(id)
		if err != nil {
			return nil, err
		}
		out = append(out, *entry)
	}
	return out, nil
}

// writeEntry persists the entry record, its history index, and (when
// activate is set) the active pointer.
func (s *Service) writeEntry(entry *Entry, activate bool) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}

	histKey := []byte(fmt.Sprintf("%s%s:%s:%020d:%s",
		historyKeyPrefix, entry.Kind, entry.Value, entry.CreatedAt.UnixNano(), entry.ID))

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(entryKeyPrefix+entry.ID), data); err != nil {
			return err
		}
		if err := txn.Set(histKey, []byte(entry.ID)); err != nil {
			return err
		}
		if activate {
			return txn.Set(activeKey(entry.Kind, entry.Value), []byte(entry.ID))
		}
		return nil
	})
}

// close marks the entry removed and clears the active pointer.
func (s *Service) close(entry *Entry, actor, cause string) error {
	now := s.clk.Now()
	entry.RemovedAt = &now
	entry.RemovedBy = actor
	entry.RemovalCause = cause

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(entryKeyPrefix+entry.ID), data); err != nil {
			return err
		}
		return txn.Delete(activeKey(entry.Kind, entry.Value))
	})
}

// expire closes a due TEMPORARY entry with the expiry timestamp rather than
// the sweep time, so history reflects when the ban actually lapsed.
func (s *Service) expire(ctx context.Context, entry *Entry) error {
	if entry.RemovedAt != nil {
		return nil
	}
	expiredAt := s.clk.Now()
	if entry.ExpiresAt != nil && entry.ExpiresAt.Before(expiredAt) {
		expiredAt = *entry.ExpiresAt
	}
	entry.RemovedAt = &expiredAt
	entry.RemovedBy = "system"
	entry.RemovalCause = CauseExpired

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(entryKeyPrefix+entry.ID), data); err != nil {
			return err
		}
		// A concurrent Add may have expired this entry already and
		// activated a successor; only clear the pointer while it still
		// names the entry being expired.
		item, err := txn.Get(activeKey(entry.Kind, entry.Value))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		current, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if string(current) != entry.ID {
			return nil
		}
		return txn.Delete(activeKey(entry.Kind, entry.Value))
	})
	if err != nil {
		return err
	}

	metrics.BlacklistExpirations.Inc()
	logging.Ctx(ctx).Info().
		Str("component", "blacklist").
		Str("subject", string(entry.Kind)+":"+entry.Value).
		Msg("temporary entry expired")
	return nil
}

func (s *Service) activeID(kind signal.SubjectKind, value string) (string, error) {
	var id string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(activeKey(kind, value))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return errs.ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			id = string(val)
			return nil
		})
	})
	return id, err
}

func (s *Service) activeIDs() ([]string, error) {
	prefix := []byte(activeKeyPrefix)

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
		return nil, fmt.Errorf("list active entries: %w", err)
	}
	return ids, nil
}

func (s *Service) getEntry(id string) (*Entry, error) {
	var entry Entry
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(entryKeyPrefix + id))
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

func (s *Service) audit(ctx context.Context, action, actor string, subject signal.Subject, outcome audit.Outcome, detail map[string]any) {
	if s.auditlog == nil {
		return
	}
	if err := s.auditlog.Append(ctx, &audit.Record{
		Component: "blacklist",
		Action:    action,
		Actor:     actor,
		Subject:   subject,
		Outcome:   outcome,
		Detail:    detail,
	}); err != nil {
		logging.Ctx(ctx).Error().Err(err).
			Str("component", "blacklist").
			Msg("audit append failed")
	}
}
