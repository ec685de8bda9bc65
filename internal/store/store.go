// Sentinel - Community Security Operations Automation
// Copyright 2026 Sentinel Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sentinel-ops/sentinel

// Package store opens the shared BadgerDB instance backing all responder
// state. Each responder owns its own key prefix; the database handle is
// shared so a single value log and GC cycle serve everything.
package store

import (
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/sentinel-ops/sentinel/internal/logging"
)

// Open opens (or creates) the durable store at path.
func Open(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).
		WithLogger(badgerLogger{}).
		WithCompactL0OnClose(true)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open store at %s: %w", path, err)
	}
	return db, nil
}

// OpenInMemory opens a non-durable store. Used by tests and by the dry-run
// mode, where losing state on restart is acceptable.
func OpenInMemory() (*badger.DB, error) {
	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithLogger(badgerLogger{})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open in-memory store: %w", err)
	}
	return db, nil
}

// badgerLogger routes badger's internal logging through zerolog.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{}) {
	logging.Error().Str("component", "badger").Msgf(format, args...)
}

func (badgerLogger) Warningf(format string, args ...interface{}) {
	logging.Warn().Str("component", "badger").Msgf(format, args...)
}

func (badgerLogger) Infof(format string, args ...interface{}) {
	logging.Debug().Str("component", "badger").Msgf(format, args...)
}

func (badgerLogger) Debugf(format string, args ...interface{}) {
	logging.Debug().Str("component", "badger").Msgf(format, args...)
}
