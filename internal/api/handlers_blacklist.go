// Sentinel - Community Security Operations Automation
// Copyright 2026 Sentinel Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sentinel-ops/sentinel

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sentinel-ops/sentinel/internal/blacklist"
	"github.com/sentinel-ops/sentinel/internal/errs"
	"github.com/sentinel-ops/sentinel/internal/signal"
)

// BlacklistEntries returns all active entries.
func (s *Server) BlacklistEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := s.blacklist.Entries(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

type addEntryRequest struct {
	Kind     string `json:"type" validate:"required"`
	Value    string `json:"value" validate:"required"`
	Tier     string `json:"tier" validate:"required"`
	Duration string `json:"duration"`
	Reason   string `json:"reason" validate:"required"`
}

// AddBlacklistEntry creates an active entry. Duration is a Go duration
// string and only valid for TEMPORARY entries.
func (s *Server) AddBlacklistEntry(w http.ResponseWriter, r *http.Request) {
	var req addEntryRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if err := s.validateStruct(req); err != nil {
		writeErr(w, err)
		return
	}

	var duration time.Duration
	if req.Duration != "" {
		var err error
		if duration, err = time.ParseDuration(req.Duration); err != nil {
			writeErr(w, errs.Validation("duration", "invalid duration %q", req.Duration))
			return
		}
	}

	entry, err := s.blacklist.Add(
		r.Context(),
		signal.SubjectKind(req.Kind),
		req.Value,
		blacklist.Tier(req.Tier),
		duration,
		req.Reason,
		Actor(r.Context()),
	)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"entry": entry})
}

// BlacklistLookup is the enforcement query. 404 means not blacklisted.
func (s *Server) BlacklistLookup(w http.ResponseWriter, r *http.Request) {
	subject, err := subjectFromPath(r)
	if err != nil {
		writeErr(w, err)
		return
	}

	entry, err := s.blacklist.Lookup(r.Context(), subject.Kind, subject.Value)
	if errors.Is(err, errs.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]any{"blacklisted": false})
		return
	}
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"blacklisted": true, "entry": entry})
}

// BlacklistHistory returns every entry ever recorded for a subject.
func (s *Server) BlacklistHistory(w http.ResponseWriter, r *http.Request) {
	subject, err := subjectFromPath(r)
	if err != nil {
		writeErr(w, err)
		return
	}

	history, err := s.blacklist.HistoryFor(r.Context(), subject.Kind, subject.Value)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": history, "count": len(history)})
}

// RemoveBlacklistEntry lifts an entry. Query: override=true for
// APPEAL_ELIGIBLE and PERMANENT tiers.
func (s *Server) RemoveBlacklistEntry(w http.ResponseWriter, r *http.Request) {
	subject, err := subjectFromPath(r)
	if err != nil {
		writeErr(w, err)
		return
	}

	override := r.URL.Query().Get("override") == "true"
	if err := s.blacklist.Remove(r.Context(), subject.Kind, subject.Value, Actor(r.Context()), override); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "removed"})
}

// BlacklistStats summarizes active entries and pending appeals.
func (s *Server) BlacklistStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.blacklist.Stats(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type submitAppealRequest struct {
	EntryID     string `json:"blacklist_entry_id" validate:"required"`
	SubmittedBy string `json:"submitted_by" validate:"required"`
	Reason      string `json:"reason" validate:"required"`
}

// SubmitAppeal files an appeal against an APPEAL_ELIGIBLE entry.
func (s *Server) SubmitAppeal(w http.ResponseWriter, r *http.Request) {
	var req submitAppealRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if err := s.validateStruct(req); err != nil {
		writeErr(w, err)
		return
	}

	appeal, err := s.blacklist.SubmitAppeal(r.Context(), req.EntryID, req.SubmittedBy, req.Reason)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"appeal": appeal})
}

// GetAppeal returns one appeal by ID.
func (s *Server) GetAppeal(w http.ResponseWriter, r *http.Request) {
	appeal, err := s.blacklist.Appeal(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"appeal": appeal})
}

type decideAppealRequest struct {
	Approve bool   `json:"approve"`
	Note    string `json:"note"`
}

// DecideAppeal resolves a pending appeal. Decided appeals are terminal.
func (s *Server) DecideAppeal(w http.ResponseWriter, r *http.Request) {
	var req decideAppealRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	appeal, err := s.blacklist.DecideAppeal(r.Context(), chi.URLParam(r, "id"), Actor(r.Context()), req.Approve, req.Note)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"appeal": appeal})
}

// AppealsBySubmitter lists a submitter's appeals, oldest first.
func (s *Server) AppealsBySubmitter(w http.ResponseWriter, r *http.Request) {
	appeals, err := s.blacklist.AppealsBySubmitter(r.Context(), chi.URLParam(r, "submitter"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"appeals": appeals, "count": len(appeals)})
}
