// Sentinel - Community Security Operations Automation
// Copyright 2026 Sentinel Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sentinel-ops/sentinel

package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"

	"github.com/sentinel-ops/sentinel/internal/audit"
	"github.com/sentinel-ops/sentinel/internal/blacklist"
	"github.com/sentinel-ops/sentinel/internal/bus"
	"github.com/sentinel-ops/sentinel/internal/clock"
	"github.com/sentinel-ops/sentinel/internal/config"
	"github.com/sentinel-ops/sentinel/internal/escalation"
	"github.com/sentinel-ops/sentinel/internal/platform"
	"github.com/sentinel-ops/sentinel/internal/quarantine"
	"github.com/sentinel-ops/sentinel/internal/signal"
	"github.com/sentinel-ops/sentinel/internal/store"
)

func newTestHandler(t *testing.T, apiCfg config.APIConfig) http.Handler {
	t.Helper()
	db, err := store.OpenInMemory()
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	clk := clock.NewManual(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	recorder := platform.NewRecorder()
	auditlog := audit.NewBadgerStore(db, clk)

	b := bus.New(bus.Config{})
	t.Cleanup(func() { b.Close() })

	engine, err := escalation.NewEngine(escalation.NewStore(db), auditlog, b, recorder, clk, escalation.Config{})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	machine := quarantine.NewMachine(quarantine.NewStore(db), auditlog, recorder, clk, quarantine.Config{})
	bl := blacklist.NewService(db, clk, auditlog, b, recorder, blacklist.Config{})

	registry := signal.NewRegistry()
	if err := registry.Register(engine); err != nil {
		t.Fatalf("register engine: %v", err)
	}
	if err := registry.Register(bl); err != nil {
		t.Fatalf("register blacklist: %v", err)
	}

	if apiCfg.RateLimitReqs == 0 {
		apiCfg.RateLimitReqs = 1000
		apiCfg.RateLimitWindow = time.Minute
	}
	if len(apiCfg.CORSOrigins) == 0 {
		apiCfg.CORSOrigins = []string{"*"}
	}

	return NewServer(engine, machine, bl, auditlog, b, registry, apiCfg).Router()
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeResp(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestHealthz(t *testing.T) {
	h := newTestHandler(t, config.APIConfig{})

	rec := doJSON(t, h, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decodeResp(t, rec)["status"]; got != "ok" {
		t.Fatalf("body = %v", got)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("no X-Request-ID header")
	}
}

func TestRequestIDEchoed(t *testing.T) {
	h := newTestHandler(t, config.APIConfig{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "trace-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "trace-42" {
		t.Fatalf("X-Request-ID = %q", got)
	}
}

func TestBlacklistOverHTTP(t *testing.T) {
	h := newTestHandler(t, config.APIConfig{})

	rec := doJSON(t, h, http.MethodPost, "/api/v1/blacklist",
		`{"type":"user","value":"u1","tier":"APPEAL_ELIGIBLE","reason":"ban evasion"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}

	// Duplicate active entry conflicts.
	rec = doJSON(t, h, http.MethodPost, "/api/v1/blacklist",
		`{"type":"user","value":"u1","tier":"PERMANENT","reason":"again"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate: %d", rec.Code)
	}

	// Invalid duration string is a 400, not a silent zero.
	rec = doJSON(t, h, http.MethodPost, "/api/v1/blacklist",
		`{"type":"user","value":"u2","tier":"TEMPORARY","duration":"fortnight","reason":"x"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad duration: %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/blacklist/user/u1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("lookup hit: %d", rec.Code)
	}
	if got := decodeResp(t, rec)["blacklisted"]; got != true {
		t.Fatalf("blacklisted = %v", got)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/blacklist/user/ghost", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("lookup miss: %d", rec.Code)
	}
	if got := decodeResp(t, rec)["blacklisted"]; got != false {
		t.Fatalf("miss body = %v", got)
	}

	// Protected tier needs the override flag.
	rec = doJSON(t, h, http.MethodDelete, "/api/v1/blacklist/user/u1", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("remove without override: %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodDelete, "/api/v1/blacklist/user/u1?override=true", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("remove with override: %d %s", rec.Code, rec.Body.String())
	}
}

func TestQuarantineLifecycleOverHTTP(t *testing.T) {
	h := newTestHandler(t, config.APIConfig{})

	rec := doJSON(t, h, http.MethodPost, "/api/v1/quarantine",
		`{"kind":"user","value":"u1","reason":"phishing"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("quarantine: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/quarantine/user/u1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	if got := decodeResp(t, rec)["state"]; got != "QUARANTINED" {
		t.Fatalf("state = %v", got)
	}

	// Release before review is a state conflict.
	rec = doJSON(t, h, http.MethodPost, "/api/v1/quarantine/user/u1/release", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("premature release: %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/v1/quarantine/user/u1/review", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("review: %d %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, h, http.MethodPost, "/api/v1/quarantine/user/u1/release", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("release: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/quarantine/user/u1", "")
	if got := decodeResp(t, rec)["state"]; got != "NONE" {
		t.Fatalf("state after release = %v", got)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/quarantine/user/u1/history", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("history: %d", rec.Code)
	}
	if got := decodeResp(t, rec)["count"]; got != float64(1) {
		t.Fatalf("history count = %v", got)
	}

	// Unknown subject kinds never reach the state machine.
	rec = doJSON(t, h, http.MethodGet, "/api/v1/quarantine/asteroid/x", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad kind: %d", rec.Code)
	}
}

func TestEscalationRulesOverHTTP(t *testing.T) {
	h := newTestHandler(t, config.APIConfig{})

	rec := doJSON(t, h, http.MethodPut, "/api/v1/escalations/rules",
		`{"threat_type":"phishing","threshold":0.7,"level":9,"action":"alert_mods"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("level out of range: %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPut, "/api/v1/escalations/rules",
		`{"threat_type":"phishing","threshold":0.7,"level":3,"action":"alert_mods"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("set rule: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPut, "/api/v1/escalations/oncall", `{"responder":"responder-7"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("set oncall: %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/escalations/rules", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get rules: %d", rec.Code)
	}
	body := decodeResp(t, rec)
	if body["on_call"] != "responder-7" {
		t.Fatalf("on_call = %v", body["on_call"])
	}
	rules, ok := body["rules"].(map[string]any)
	if !ok || rules["phishing"] == nil {
		t.Fatalf("rules = %v", body["rules"])
	}
}

func TestPublishSignalOverHTTP(t *testing.T) {
	h := newTestHandler(t, config.APIConfig{})

	rec := doJSON(t, h, http.MethodPost, "/api/v1/signals",
		`{"type":"THREAT_DETECTED","kind":"user","value":"u1","source":"webhook-detector","confidence":0.4,"payload":{"threat_type":"spam"}}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("publish: %d %s", rec.Code, rec.Body.String())
	}
	if decodeResp(t, rec)["id"] == "" {
		t.Fatal("no signal id returned")
	}

	// Out-of-range confidence fails request validation.
	rec = doJSON(t, h, http.MethodPost, "/api/v1/signals",
		`{"type":"THREAT_DETECTED","kind":"user","value":"u1","source":"d","confidence":1.4,"payload":{"threat_type":"spam"}}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad confidence: %d", rec.Code)
	}

	// Payload contract failures surface from the bus as 400s too.
	rec = doJSON(t, h, http.MethodPost, "/api/v1/signals",
		`{"type":"THREAT_DETECTED","kind":"user","value":"u1","source":"d","confidence":0.4}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing payload: %d", rec.Code)
	}
}

func TestJWTAuth(t *testing.T) {
	secret := "0123456789abcdef0123456789abcdef"
	h := newTestHandler(t, config.APIConfig{JWTSecret: secret})

	rec := doJSON(t, h, http.MethodGet, "/api/v1/stats", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token: %d", rec.Code)
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "mod-alice",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("valid token: %d %s", rec.Code, rec.Body.String())
	}

	// Health and metrics stay open for probes and scrapers.
	if rec := doJSON(t, h, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz behind auth: %d", rec.Code)
	}
}

func TestProducersEndpoint(t *testing.T) {
	h := newTestHandler(t, config.APIConfig{})

	rec := doJSON(t, h, http.MethodGet, "/api/v1/producers", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("producers: %d", rec.Code)
	}
	body := decodeResp(t, rec)
	producers, ok := body["producers"].(map[string]any)
	if !ok {
		t.Fatalf("body = %v", body)
	}
	escalators, _ := producers["ESCALATION_REQUIRED"].([]any)
	if len(escalators) != 1 || escalators[0] != "escalation-engine" {
		t.Fatalf("ESCALATION_REQUIRED producers = %v", producers["ESCALATION_REQUIRED"])
	}
}
