// Sentinel - Community Security Operations Automation
// Copyright 2026 Sentinel Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sentinel-ops/sentinel

package api

import (
	"net/http"
	"strconv"

	"github.com/sentinel-ops/sentinel/internal/escalation"
)

// EscalationHistory returns the most recent escalation records, newest first.
// Query: limit (default 100, max 1000).
func (s *Server) EscalationHistory(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	records, err := s.engine.History(r.Context(), limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records, "count": len(records)})
}

// EscalationRules returns all rule ladders keyed by threat type.
func (s *Server) EscalationRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"rules":   s.engine.Rules(),
		"on_call": s.engine.OnCall(),
	})
}

type setRuleRequest struct {
	ThreatType string  `json:"threat_type" validate:"required"`
	Threshold  float64 `json:"threshold" validate:"gte=0,lte=1"`
	Level      int     `json:"level" validate:"gte=1,lte=5"`
	Action     string  `json:"action" validate:"required"`
}

// SetEscalationRule upserts a rule by (threat_type, threshold).
func (s *Server) SetEscalationRule(w http.ResponseWriter, r *http.Request) {
	var req setRuleRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if err := s.validateStruct(req); err != nil {
		writeErr(w, err)
		return
	}

	err := s.engine.SetRule(r.Context(), req.ThreatType, req.Threshold, req.Level, escalation.Action(req.Action))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type setOnCallRequest struct {
	Responder string `json:"responder" validate:"required"`
}

// SetOnCall assigns the on-call responder for high-level escalations.
func (s *Server) SetOnCall(w http.ResponseWriter, r *http.Request) {
	var req setOnCallRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if err := s.validateStruct(req); err != nil {
		writeErr(w, err)
		return
	}

	if err := s.engine.SetOnCall(r.Context(), req.Responder); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "on_call": req.Responder})
}
