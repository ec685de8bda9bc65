// Sentinel - Community Security Operations Automation
// Copyright 2026 Sentinel Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sentinel-ops/sentinel

package platform

import (
	"context"
	"sync"
	"time"

	"github.com/sentinel-ops/sentinel/internal/logging"
	"github.com/sentinel-ops/sentinel/internal/signal"
)

// Call records one platform invocation.
type Call struct {
	Action  string
	Subject signal.Subject
	Detail  string
}

// Recorder is a Client that records calls instead of mutating a platform.
// It backs tests and the dry-run deployment mode. Failures can be injected
// per action to exercise the partial-failure paths.
type Recorder struct {
	mu    sync.Mutex
	calls []Call
	fail  map[string]error

	// Roles returned by StripRoles; nil means the subject's prior roles
	// are unknown, which exercises the restore-none release path.
	Roles []string
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{fail: make(map[string]error)}
}

// FailWith makes every subsequent call of the named action return err.
func (r *Recorder) FailWith(action string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail[action] = err
}

// Calls returns a copy of all recorded calls.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// CallsFor returns recorded calls of the named action.
func (r *Recorder) CallsFor(action string) []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Call
	for _, c := range r.calls {
		if c.Action == action {
			out = append(out, c)
		}
	}
	return out
}

func (r *Recorder) record(action string, subject signal.Subject, detail string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{Action: action, Subject: subject, Detail: detail})
	if err := r.fail[action]; err != nil {
		return err
	}
	logging.Debug().
		Str("component", "platform").
		Str("action", action).
		Str("subject", subject.Key()).
		Str("detail", detail).
		Msg("platform action recorded")
	return nil
}

// StripRoles implements Client.
func (r *Recorder) StripRoles(ctx context.Context, subject signal.Subject) ([]string, error) {
	if err := r.record(ActionStripRoles, subject, ""); err != nil {
		return nil, err
	}
	return r.Roles, nil
}

// AssignIsolationRole implements Client.
func (r *Recorder) AssignIsolationRole(ctx context.Context, subject signal.Subject) error {
	return r.record(ActionAssignIsolation, subject, "")
}

// RestrictToChannel implements Client.
func (r *Recorder) RestrictToChannel(ctx context.Context, subject signal.Subject, channel string) error {
	return r.record(ActionRestrictChannel, subject, channel)
}

// RestoreRoles implements Client.
func (r *Recorder) RestoreRoles(ctx context.Context, subject signal.Subject, roles []string) error {
	return r.record(ActionRestoreRoles, subject, "")
}

// Timeout implements Client.
func (r *Recorder) Timeout(ctx context.Context, subject signal.Subject, d time.Duration) error {
	return r.record(ActionTimeout, subject, d.String())
}

// Ban implements Client.
func (r *Recorder) Ban(ctx context.Context, subject signal.Subject, reason string) error {
	return r.record(ActionBan, subject, reason)
}

// Notify implements Client.
func (r *Recorder) Notify(ctx context.Context, subject signal.Subject, message string) error {
	return r.record(ActionNotify, subject, message)
}

// NotifyResponder implements Client.
func (r *Recorder) NotifyResponder(ctx context.Context, responderID, message string) error {
	return r.record(ActionNotifyResponder, signal.Subject{Kind: signal.KindUser, Value: responderID}, message)
}

// AlertModerators implements Client.
func (r *Recorder) AlertModerators(ctx context.Context, subject signal.Subject, summary string) error {
	return r.record(ActionAlertModerators, subject, summary)
}
