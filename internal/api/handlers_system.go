// Sentinel - Community Security Operations Automation
// Copyright 2026 Sentinel Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sentinel-ops/sentinel

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/sentinel-ops/sentinel/internal/logging"
	"github.com/sentinel-ops/sentinel/internal/signal"
)

// Healthz reports liveness.
func (s *Server) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

// SystemStats aggregates operational counters for the dashboard.
func (s *Server) SystemStats(w http.ResponseWriter, r *http.Request) {
	blStats, err := s.blacklist.Stats(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"uptime":              time.Since(s.started).Round(time.Second).String(),
		"bus_dropped_signals": s.bus.Dropped(),
		"blacklist":           blStats,
		"on_call":             s.engine.OnCall(),
	})
}

// AuditRecords returns the most recent audit records, newest first.
// Query: limit (default 100, max 1000).
func (s *Server) AuditRecords(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	records, err := s.auditlog.Records(r.Context(), limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records, "count": len(records)})
}

// Producers lists the registered detectors per signal type.
func (s *Server) Producers(w http.ResponseWriter, r *http.Request) {
	byType := make(map[signal.Type][]string, len(signal.Types))
	for _, t := range signal.Types {
		byType[t] = s.registry.Producers(t)
	}
	writeJSON(w, http.StatusOK, map[string]any{"producers": byType})
}

type publishSignalRequest struct {
	Type          string         `json:"type" validate:"required"`
	Kind          string         `json:"kind" validate:"required"`
	Value         string         `json:"value" validate:"required"`
	Source        string         `json:"source" validate:"required"`
	Severity      string         `json:"severity"`
	Confidence    float64        `json:"confidence" validate:"gte=0,lte=1"`
	Payload       map[string]any `json:"payload"`
	CorrelationID string         `json:"correlation_id"`
}

// PublishSignal injects a signal onto the bus, for detectors that report
// over HTTP rather than in-process.
func (s *Server) PublishSignal(w http.ResponseWriter, r *http.Request) {
	var req publishSignalRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if err := s.validateStruct(req); err != nil {
		writeErr(w, err)
		return
	}
	if !s.registry.Known(req.Source) {
		logging.Ctx(r.Context()).Warn().
			Str("source", req.Source).
			Msg("signal from unregistered source")
	}

	sig := signal.New(
		signal.Type(req.Type),
		signal.Subject{Kind: signal.SubjectKind(req.Kind), Value: req.Value},
		req.Source,
	)
	if req.Severity != "" {
		sig.Severity = signal.Severity(req.Severity)
	}
	sig.Confidence = req.Confidence
	sig.Payload = req.Payload
	if req.CorrelationID != "" {
		sig.CorrelationID = req.CorrelationID
	}

	if err := s.bus.Publish(r.Context(), sig); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"id": sig.ID})
}
