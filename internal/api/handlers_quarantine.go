// Sentinel - Community Security Operations Automation
// Copyright 2026 Sentinel Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sentinel-ops/sentinel

package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sentinel-ops/sentinel/internal/errs"
	"github.com/sentinel-ops/sentinel/internal/quarantine"
	"github.com/sentinel-ops/sentinel/internal/signal"
)

func subjectFromPath(r *http.Request) (signal.Subject, error) {
	subject := signal.Subject{
		Kind:  signal.SubjectKind(chi.URLParam(r, "kind")),
		Value: chi.URLParam(r, "value"),
	}
	if !subject.Kind.Valid() || subject.Value == "" {
		return signal.Subject{}, errs.Validation("subject", "unknown kind %q", subject.Kind)
	}
	return subject, nil
}

type manualQuarantineRequest struct {
	Kind   string `json:"kind" validate:"required"`
	Value  string `json:"value" validate:"required"`
	Reason string `json:"reason"`
}

// ManualQuarantine isolates a subject on operator authority, bypassing the
// confidence threshold.
func (s *Server) ManualQuarantine(w http.ResponseWriter, r *http.Request) {
	var req manualQuarantineRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if err := s.validateStruct(req); err != nil {
		writeErr(w, err)
		return
	}

	reason := quarantine.Reason(req.Reason)
	if req.Reason == "" {
		reason = quarantine.ReasonManual
	}
	subject := signal.Subject{Kind: signal.SubjectKind(req.Kind), Value: req.Value}

	entry, err := s.machine.Quarantine(r.Context(), subject, reason, 1.0, "", nil, Actor(r.Context()))
	if err != nil && !errs.IsPlatformAction(err) {
		writeErr(w, err)
		return
	}

	// Platform gaps do not fail the transition; they ride along in the body.
	resp := map[string]any{"entry": entry}
	if err != nil {
		resp["action_gaps"] = err.Error()
	}
	writeJSON(w, http.StatusCreated, resp)
}

// QuarantineStatus returns the live entry, or state NONE when the subject is
// not quarantined.
func (s *Server) QuarantineStatus(w http.ResponseWriter, r *http.Request) {
	subject, err := subjectFromPath(r)
	if err != nil {
		writeErr(w, err)
		return
	}

	entry, err := s.machine.Status(r.Context(), subject)
	if errors.Is(err, errs.ErrNotFound) {
		writeJSON(w, http.StatusOK, map[string]any{"state": quarantine.StateNone})
		return
	}
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"state": entry.State, "entry": entry})
}

// QuarantineEvidence returns the evidence chain for a subject.
func (s *Server) QuarantineEvidence(w http.ResponseWriter, r *http.Request) {
	subject, err := subjectFromPath(r)
	if err != nil {
		writeErr(w, err)
		return
	}

	evidence, err := s.machine.Evidence(r.Context(), subject)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"evidence": evidence, "count": len(evidence)})
}

// QuarantineHistory returns closed quarantine entries for a subject.
func (s *Server) QuarantineHistory(w http.ResponseWriter, r *http.Request) {
	subject, err := subjectFromPath(r)
	if err != nil {
		writeErr(w, err)
		return
	}

	history, err := s.machine.History(r.Context(), subject)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": history, "count": len(history)})
}

// ReviewQuarantine moves QUARANTINED → UNDER_REVIEW.
func (s *Server) ReviewQuarantine(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.machine.Review)
}

// ReleaseQuarantine moves UNDER_REVIEW → RELEASED and restores roles
// best-effort.
func (s *Server) ReleaseQuarantine(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.machine.Release)
}

// MaintainQuarantine moves UNDER_REVIEW back to QUARANTINED.
func (s *Server) MaintainQuarantine(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.machine.Maintain)
}

func (s *Server) transition(
	w http.ResponseWriter,
	r *http.Request,
	fn func(ctx context.Context, subject signal.Subject, reviewer string) (*quarantine.Entry, error),
) {
	subject, err := subjectFromPath(r)
	if err != nil {
		writeErr(w, err)
		return
	}

	entry, err := fn(r.Context(), subject, Actor(r.Context()))
	if err != nil && !errs.IsPlatformAction(err) {
		writeErr(w, err)
		return
	}

	resp := map[string]any{"entry": entry}
	if err != nil {
		resp["action_gaps"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}
