// Sentinel - Community Security Operations Automation
// Copyright 2026 Sentinel Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sentinel-ops/sentinel

// Package platform defines the contract the core presents to the chat
// platform collaborator. Every call is best-effort: failures are returned
// explicitly, recorded by the caller, and never assumed away. The concrete
// integration (Discord, Matrix, ...) lives outside the core and implements
// Client.
package platform

import (
	"context"
	"time"

	"github.com/sentinel-ops/sentinel/internal/signal"
)

// Action names used in audit records and failure metrics.
const (
	ActionStripRoles      = "strip_roles"
	ActionAssignIsolation = "assign_isolation_role"
	ActionRestrictChannel = "restrict_to_channel"
	ActionRestoreRoles    = "restore_roles"
	ActionTimeout         = "timeout"
	ActionBan             = "ban"
	ActionNotify          = "notify"
	ActionNotifyResponder = "notify_responder"
	ActionAlertModerators = "alert_moderators"
)

// Client is the chat-platform mutation and notification surface.
// Implementations must be safe for concurrent use.
type Client interface {
	// StripRoles removes all roles from the subject and returns the roles
	// that were removed, so they can be restored on release.
	StripRoles(ctx context.Context, subject signal.Subject) ([]string, error)

	// AssignIsolationRole places the subject in the isolation role.
	AssignIsolationRole(ctx context.Context, subject signal.Subject) error

	// RestrictToChannel confines the subject to the named channel.
	RestrictToChannel(ctx context.Context, subject signal.Subject, channel string) error

	// RestoreRoles reassigns previously held roles.
	RestoreRoles(ctx context.Context, subject signal.Subject, roles []string) error

	// Timeout mutes the subject for the given duration.
	Timeout(ctx context.Context, subject signal.Subject, d time.Duration) error

	// Ban removes the subject from the platform.
	Ban(ctx context.Context, subject signal.Subject, reason string) error

	// Notify sends a direct message to the subject.
	Notify(ctx context.Context, subject signal.Subject, message string) error

	// NotifyResponder sends a direct message to a staff responder.
	NotifyResponder(ctx context.Context, responderID, message string) error

	// AlertModerators raises an alert in the moderation channel.
	AlertModerators(ctx context.Context, subject signal.Subject, summary string) error
}
