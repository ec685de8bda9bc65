// Sentinel - Community Security Operations Automation
// Copyright 2026 Sentinel Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sentinel-ops/sentinel

package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sentinel-ops/sentinel/internal/logging"
)

type contextKey string

const actorContextKey contextKey = "actor"

// RequestID assigns every request a correlation ID, exposed as X-Request-ID
// and threaded through the logging context so downstream audit records and
// signals share it.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = logging.GenerateCorrelationID()
		}
		w.Header().Set("X-Request-ID", id)

		ctx := logging.ContextWithRequestID(r.Context(), id)
		ctx = logging.ContextWithCorrelationID(ctx, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// JWTAuth validates HS256 bearer tokens and places the token subject into
// the request context as the acting operator. An empty secret disables
// authentication entirely; config validation keeps that out of production
// deployments that set a secret at all.
func JWTAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if secret == "" {
			return next
		}
		key := []byte(secret)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			tokenStr, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || tokenStr == "" {
				writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing bearer token", Code: "unauthorized"})
				return
			}

			token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
				}
				return key, nil
			}, jwt.WithValidMethods([]string{"HS256"}))
			if err != nil || !token.Valid {
				writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid token", Code: "unauthorized"})
				return
			}

			subject, err := token.Claims.GetSubject()
			if err != nil || subject == "" {
				writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "token has no subject", Code: "unauthorized"})
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorContextKey, subject)))
		})
	}
}

// Actor returns the authenticated operator from the request context, or
// "anonymous" when authentication is disabled.
func Actor(ctx context.Context) string {
	if actor, ok := ctx.Value(actorContextKey).(string); ok && actor != "" {
		return actor
	}
	return "anonymous"
}
