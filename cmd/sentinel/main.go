// Sentinel - Community Security Operations Automation
// Copyright 2026 Sentinel Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sentinel-ops/sentinel

// Package main is the entry point for the Sentinel security core.
//
// Sentinel automates security operations for a community platform: detectors
// publish typed signals onto an in-process bus, the escalation engine resolves
// graduated responses against configurable rule ladders, the quarantine state
// machine isolates and reviews subjects, and the tiered blacklist enforces
// long-term restrictions with a rate-limited appeal workflow. Every decision
// leaves an audit record.
//
// # Startup order
//
//  1. Configuration (Koanf v2: defaults, optional YAML file, SENTINEL_ env)
//  2. Logging (zerolog)
//  3. BadgerDB store
//  4. Signal bus
//  5. Escalation engine, quarantine machine, blacklist service
//  6. Bus subscriptions
//  7. Supervisor tree: maintenance services and the HTTP API
//
// Shutdown reverses it: the supervisor stops the HTTP server and maintenance
// services, the bus drains or times out, then the store closes.
//
// # Platform integration
//
// The core talks to the chat platform through the platform.Client interface.
// This binary wires the recording dry-run client; a deployment integrates a
// real platform by providing its own Client implementation.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/dgraph-io/badger/v4"

	"github.com/sentinel-ops/sentinel/internal/api"
	"github.com/sentinel-ops/sentinel/internal/audit"
	"github.com/sentinel-ops/sentinel/internal/blacklist"
	"github.com/sentinel-ops/sentinel/internal/bus"
	"github.com/sentinel-ops/sentinel/internal/clock"
	"github.com/sentinel-ops/sentinel/internal/config"
	"github.com/sentinel-ops/sentinel/internal/escalation"
	"github.com/sentinel-ops/sentinel/internal/logging"
	"github.com/sentinel-ops/sentinel/internal/platform"
	"github.com/sentinel-ops/sentinel/internal/quarantine"
	sig "github.com/sentinel-ops/sentinel/internal/signal"
	"github.com/sentinel-ops/sentinel/internal/store"
	"github.com/sentinel-ops/sentinel/internal/supervisor"
	"github.com/sentinel-ops/sentinel/internal/supervisor/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("load configuration failed")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().Msg("starting sentinel")

	if err := run(cfg); err != nil && !errors.Is(err, context.Canceled) {
		logging.Fatal().Err(err).Msg("sentinel exited with error")
	}
	logging.Info().Msg("sentinel stopped")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clk := clock.System()

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("store close failed")
		}
	}()

	auditlog := audit.NewBadgerStore(db, clk)

	b := bus.New(bus.Config{
		InboxSize:      cfg.Bus.InboxSize,
		OverflowPolicy: bus.Policy(cfg.Bus.OverflowPolicy),
		CloseTimeout:   cfg.Bus.CloseTimeout,
	})
	defer func() {
		if err := b.Close(); err != nil {
			logging.Error().Err(err).Msg("bus close failed")
		}
	}()

	// Dry-run platform client: actions are recorded and logged, not sent
	// anywhere. A deployment substitutes its real platform integration.
	logging.Warn().Msg("no platform integration configured; running with the dry-run client")
	client := platform.NewResilient(platform.NewRecorder(), platform.ResilientConfig{
		RequestsPerSecond: cfg.Platform.RequestsPerSecond,
		Burst:             cfg.Platform.Burst,
		FailureThreshold:  cfg.Platform.FailureThreshold,
		OpenTimeout:       cfg.Platform.OpenTimeout,
	})

	engine, err := escalation.NewEngine(escalation.NewStore(db), auditlog, b, client, clk, escalation.Config{
		AggregationWindow: cfg.Escalation.AggregationWindow,
		NotifyLevel:       cfg.Escalation.NotifyLevel,
		TimeoutDuration:   cfg.Escalation.TimeoutDuration,
		OnCall:            cfg.Escalation.OnCall,
	})
	if err != nil {
		return err
	}

	machine := quarantine.NewMachine(quarantine.NewStore(db), auditlog, client, clk, quarantine.Config{
		AutoThreshold:    cfg.Quarantine.AutoThreshold,
		IsolationChannel: cfg.Quarantine.IsolationChannel,
	})

	bl := blacklist.NewService(db, clk, auditlog, b, client, blacklist.Config{
		AppealLimit:   cfg.Blacklist.AppealLimit,
		AppealWindow:  cfg.Blacklist.AppealWindow,
		SweepInterval: cfg.Blacklist.SweepInterval,
	})
	bl.SetReviewHook(func(ctx context.Context, subject sig.Subject, reviewer string) error {
		_, err := machine.Review(ctx, subject, reviewer)
		return err
	})

	if err := subscribe(b, engine, machine, bl); err != nil {
		return err
	}

	registry := sig.NewRegistry()
	for _, p := range []sig.Producer{engine, bl} {
		if err := registry.Register(p); err != nil {
			return err
		}
	}

	server := api.NewServer(engine, machine, bl, auditlog, b, registry, cfg.API)

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddMaintenanceService(blacklist.NewSweeper(bl))
	if !cfg.Store.InMemory {
		tree.AddMaintenanceService(services.NewBadgerGCService(db, cfg.Store.GCInterval))
	}
	tree.AddAPIService(services.NewHTTPServerService(server.HTTPServer(), cfg.API.Timeout))

	logging.Info().Str("addr", cfg.API.Addr()).Msg("sentinel ready")
	return tree.Serve(ctx)
}

func openStore(cfg *config.Config) (*badger.DB, error) {
	if cfg.Store.InMemory {
		return store.OpenInMemory()
	}
	return store.Open(cfg.Store.Path)
}

// subscribe wires the responders onto the bus. Subscriber names are stable:
// they key the per-subscriber FIFO inboxes and the overflow metrics.
func subscribe(b *bus.Bus, engine *escalation.Engine, machine *quarantine.Machine, bl *blacklist.Service) error {
	if err := b.Subscribe(sig.TypeThreatDetected, "escalation-engine", engine.HandleThreat); err != nil {
		return err
	}
	if err := b.Subscribe(sig.TypeThreatDetected, "quarantine", machine.HandleThreat); err != nil {
		return err
	}
	if err := b.Subscribe(sig.TypeEscalationRequired, "quarantine", machine.HandleEscalation); err != nil {
		return err
	}
	return b.Subscribe(sig.TypeMemberJoined, "blacklist", bl.HandleMemberJoined)
}
