// Sentinel - Community Security Operations Automation
// Copyright 2026 Sentinel Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sentinel-ops/sentinel

// Package api exposes the operator surface over HTTP: rule management,
// quarantine review, blacklist and appeal workflows, audit reads.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sentinel-ops/sentinel/internal/audit"
	"github.com/sentinel-ops/sentinel/internal/blacklist"
	"github.com/sentinel-ops/sentinel/internal/bus"
	"github.com/sentinel-ops/sentinel/internal/config"
	"github.com/sentinel-ops/sentinel/internal/errs"
	"github.com/sentinel-ops/sentinel/internal/escalation"
	"github.com/sentinel-ops/sentinel/internal/quarantine"
	"github.com/sentinel-ops/sentinel/internal/signal"
)

// Server holds the handler dependencies.
type Server struct {
	engine    *escalation.Engine
	machine   *quarantine.Machine
	blacklist *blacklist.Service
	auditlog  audit.Store
	bus       *bus.Bus
	registry  *signal.Registry
	cfg       config.APIConfig
	validate  *validator.Validate
	started   time.Time
}

// NewServer creates the API server.
func NewServer(
	engine *escalation.Engine,
	machine *quarantine.Machine,
	bl *blacklist.Service,
	auditlog audit.Store,
	b *bus.Bus,
	registry *signal.Registry,
	cfg config.APIConfig,
) *Server {
	return &Server{
		engine:    engine,
		machine:   machine,
		blacklist: bl,
		auditlog:  auditlog,
		bus:       b,
		registry:  registry,
		cfg:       cfg,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		started:   time.Now().UTC(),
	}
}

// Router assembles the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.Healthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(s.cfg.RateLimitReqs, s.cfg.RateLimitWindow))
		r.Use(JWTAuth(s.cfg.JWTSecret))

		r.Post("/signals", s.PublishSignal)
		r.Get("/producers", s.Producers)
		r.Get("/stats", s.SystemStats)
		r.Get("/audit/records", s.AuditRecords)

		r.Route("/escalations", func(r chi.Router) {
			r.Get("/", s.EscalationHistory)
			r.Get("/rules", s.EscalationRules)
			r.Put("/rules", s.SetEscalationRule)
			r.Put("/oncall", s.SetOnCall)
		})

		r.Route("/quarantine", func(r chi.Router) {
			r.Post("/", s.ManualQuarantine)
			r.Route("/{kind}/{value}", func(r chi.Router) {
				r.Get("/", s.QuarantineStatus)
				r.Get("/evidence", s.QuarantineEvidence)
				r.Get("/history", s.QuarantineHistory)
				r.Post("/review", s.ReviewQuarantine)
				r.Post("/release", s.ReleaseQuarantine)
				r.Post("/maintain", s.MaintainQuarantine)
			})
		})

		r.Route("/blacklist", func(r chi.Router) {
			r.Get("/", s.BlacklistEntries)
			r.Post("/", s.AddBlacklistEntry)
			r.Get("/stats", s.BlacklistStats)
			r.Route("/{kind}/{value}", func(r chi.Router) {
				r.Get("/", s.BlacklistLookup)
				r.Get("/history", s.BlacklistHistory)
				r.Delete("/", s.RemoveBlacklistEntry)
			})
		})

		r.Route("/appeals", func(r chi.Router) {
			// Submission gets its own tighter limit on top of the
			// 30-day quota enforced in the service.
			r.With(httprate.LimitByIP(10, time.Minute)).Post("/", s.SubmitAppeal)
			r.Get("/{id}", s.GetAppeal)
			r.Post("/{id}/decision", s.DecideAppeal)
			r.Get("/submitter/{submitter}", s.AppealsBySubmitter)
		})
	})

	return r
}

// HTTPServer wraps the router in an http.Server with sane timeouts.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.cfg.Timeout,
		WriteTimeout:      s.cfg.Timeout,
		IdleTimeout:       120 * time.Second,
	}
}

// validateStruct maps validator failures onto the ValidationError taxonomy.
func (s *Server) validateStruct(req any) error {
	if err := s.validate.Struct(req); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			return errs.Validation(verrs[0].Field(), "failed %q constraint", verrs[0].Tag())
		}
		return errs.Validation("body", "%v", err)
	}
	return nil
}
