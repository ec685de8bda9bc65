// Sentinel - Community Security Operations Automation
// Copyright 2026 Sentinel Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sentinel-ops/sentinel

package services

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/sentinel-ops/sentinel/internal/logging"
)

// BadgerGCService runs value-log garbage collection on an interval. Badger
// never reclaims value-log space on its own; without this the store grows
// unbounded under churn.
type BadgerGCService struct {
	db       *badger.DB
	interval time.Duration
}

// NewBadgerGCService creates the GC service.
func NewBadgerGCService(db *badger.DB, interval time.Duration) *BadgerGCService {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &BadgerGCService{db: db, interval: interval}
}

// Serve implements suture.Service.
func (s *BadgerGCService) Serve(ctx context.Context) error {
	log := logging.WithComponent("store-gc")
	log.Info().Dur("interval", s.interval).Msg("value-log GC started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			// RunValueLogGC rewrites at most one file per call; loop
			// until it reports nothing left to collect.
			for {
				err := s.db.RunValueLogGC(0.5)
				if errors.Is(err, badger.ErrNoRewrite) {
					break
				}
				if err != nil {
					log.Warn().Err(err).Msg("value-log GC pass failed")
					break
				}
			}
		}
	}
}

// String implements fmt.Stringer for supervisor logs.
func (s *BadgerGCService) String() string { return "store-gc" }
