// Sentinel - Community Security Operations Automation
// Copyright 2026 Sentinel Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sentinel-ops/sentinel

// Package errs defines the error taxonomy shared by every responder.
//
// The classes mirror how failures are treated, not where they occur:
//
//   - ValidationError: malformed input, rejected synchronously, never partially applied
//   - ConflictError: the operation contradicts current state; state is left untouched
//   - PlatformActionError: a best-effort chat-platform mutation failed; non-fatal,
//     recorded in the audit trail while the owning state transition still commits
//   - OverflowError: a bounded bus inbox dropped a signal under the drop-oldest policy
//
// No class ever stops the bus or a responder from processing subsequent signals.
package errs

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a lookup matches no active record.
var ErrNotFound = errors.New("not found")

// ValidationError reports malformed input. It is returned before any state change.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// Validation constructs a ValidationError.
func Validation(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ConflictError reports an operation that contradicts current state, such as a
// duplicate active blacklist entry or re-deciding a decided appeal.
type ConflictError struct {
	Key     string
	Message string
}

func (e *ConflictError) Error() string {
	if e.Key == "" {
		return "conflict: " + e.Message
	}
	return fmt.Sprintf("conflict: %s: %s", e.Key, e.Message)
}

// Conflict constructs a ConflictError.
func Conflict(key, format string, args ...any) *ConflictError {
	return &ConflictError{Key: key, Message: fmt.Sprintf(format, args...)}
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// PlatformActionError reports a failed chat-platform mutation or notification.
// The owning state transition completes regardless; the failure is surfaced to
// the caller and recorded in the audit trail.
type PlatformActionError struct {
	Action  string
	Subject string
	Err     error
}

func (e *PlatformActionError) Error() string {
	return fmt.Sprintf("platform action %s on %s: %v", e.Action, e.Subject, e.Err)
}

func (e *PlatformActionError) Unwrap() error { return e.Err }

// PlatformAction wraps err as a PlatformActionError.
func PlatformAction(action, subject string, err error) *PlatformActionError {
	return &PlatformActionError{Action: action, Subject: subject, Err: err}
}

// IsPlatformAction reports whether err is a PlatformActionError.
func IsPlatformAction(err error) bool {
	var pe *PlatformActionError
	return errors.As(err, &pe)
}

// OverflowError reports a signal dropped from a saturated subscriber inbox.
// Drops are always counted; they are never silent.
type OverflowError struct {
	Topic      string
	Subscriber string
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("inbox overflow: topic %s subscriber %s", e.Topic, e.Subscriber)
}
