// Sentinel - Community Security Operations Automation
// Copyright 2026 Sentinel Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sentinel-ops/sentinel

package api

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/sentinel-ops/sentinel/internal/errs"
	"github.com/sentinel-ops/sentinel/internal/logging"
)

// errorResponse is the uniform error body.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.Error().Err(err).Msg("encode JSON response failed")
	}
}

// writeErr maps the domain error taxonomy onto HTTP statuses: validation
// failures are 400, state conflicts 409, missing records 404, platform
// failures 502, everything else 500.
func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errs.IsValidation(err):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "validation"})
	case errs.IsConflict(err):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), Code: "conflict"})
	case errors.Is(err, errs.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found", Code: "not_found"})
	case errs.IsPlatformAction(err):
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error(), Code: "platform_action"})
	default:
		logging.Error().Err(err).Msg("unhandled API error")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error", Code: "internal"})
	}
}

func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errs.Validation("body", "invalid JSON: %v", err)
	}
	return nil
}
