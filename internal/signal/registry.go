// Sentinel - Community Security Operations Automation
// Copyright 2026 Sentinel Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sentinel-ops/sentinel

package signal

import (
	"sync"

	"github.com/sentinel-ops/sentinel/internal/errs"
)

// Producer is implemented by detector modules. Detectors are external
// collaborators: the core never inspects how they detect, only what signal
// types they declare. Registration happens once at startup; the core never
// discovers detectors at runtime.
type Producer interface {
	// Name identifies the detector; it becomes the Source of its signals.
	Name() string

	// Produces lists the signal types this detector may publish.
	Produces() []Type
}

// Registry is the static detector registration table.
type Registry struct {
	mu        sync.RWMutex
	producers map[string][]Type
}

// NewRegistry creates an empty detector registry.
func NewRegistry() *Registry {
	return &Registry{producers: make(map[string][]Type)}
}

// Register records a detector. Registering the same name twice is a
// ConflictError; duplicate registration almost always means two detector
// instances were wired by mistake.
func (r *Registry) Register(p Producer) error {
	name := p.Name()
	if name == "" {
		return errs.Validation("name", "detector name required")
	}
	types := p.Produces()
	for _, t := range types {
		if !t.Valid() {
			return errs.Validation("produces", "detector %s declares unknown type %q", name, t)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.producers[name]; exists {
		return errs.Conflict(name, "detector already registered")
	}
	r.producers[name] = types
	return nil
}

// Producers returns the names of detectors declaring the given type.
func (r *Registry) Producers(t Type) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	for name, types := range r.producers {
		for _, pt := range types {
			if pt == t {
				names = append(names, name)
				break
			}
		}
	}
	return names
}

// Known reports whether source is a registered detector.
func (r *Registry) Known(source string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.producers[source]
	return ok
}
