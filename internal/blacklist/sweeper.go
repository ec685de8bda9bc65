// Sentinel - Community Security Operations Automation
// Copyright 2026 Sentinel Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sentinel-ops/sentinel

package blacklist

import (
	"context"
	"time"

	"github.com/sentinel-ops/sentinel/internal/logging"
)

// Sweeper periodically expires due TEMPORARY entries. Lazy expiry on lookup
// already guarantees correctness; the sweep keeps history and metrics current
// for subjects nobody queries.
type Sweeper struct {
	svc      *Service
	interval time.Duration
}

// NewSweeper creates a sweeper service for the supervisor tree.
func NewSweeper(svc *Service) *Sweeper {
	return &Sweeper{svc: svc, interval: svc.cfg.SweepInterval}
}

// Serve implements suture.Service.
func (s *Sweeper) Serve(ctx context.Context) error {
	log := logging.WithComponent("blacklist-sweeper")
	log.Info().Dur("interval", s.interval).Msg("sweeper started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			expired, err := s.svc.Sweep(ctx)
			if err != nil {
				log.Error().Err(err).Msg("sweep failed")
				continue
			}
			if expired > 0 {
				log.Info().Int("expired", expired).Msg("sweep expired entries")
			}
		}
	}
}

// String implements fmt.Stringer for supervisor logs.
func (s *Sweeper) String() string { return "blacklist-sweeper" }
