// Sentinel - Community Security Operations Automation
// Copyright 2026 Sentinel Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sentinel-ops/sentinel

// Package keylock provides per-key mutual exclusion.
//
// Responder state is keyed by subject; two near-simultaneous signals about the
// same subject must serialize their transitions, while signals about different
// subjects must not share a lock. KeyedMutex gives each key its own mutex and
// reclaims it once no goroutine holds or waits on it.
package keylock

import "sync"

// KeyedMutex serializes access per key. The zero value is not usable; call New.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// New creates a KeyedMutex.
func New() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*entry)}
}

// Lock acquires the mutex for key and returns its unlock function.
//
//	unlock := locks.Lock(subject.Key())
//	defer unlock()
func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &entry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()

		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
