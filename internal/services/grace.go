// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package services

import (
	"time"

	"github.com/foxsight/license-client/internal/models"
)

// GraceBasis says why a failed validation still produced a result. Callers
// outside the engine only see inGracePeriod; the basis keeps the local
// offline window and a running grace clock apart.
type GraceBasis int

const (
	GraceNone GraceBasis = iota
	GraceWithinOfflineWindow
	GraceStarted
	GraceActive
	GraceExpired
)

func (b GraceBasis) String() string {
	switch b {
	case GraceWithinOfflineWindow:
		return "within_offline_window"
	case GraceStarted:
		return "grace_started"
	case GraceActive:
		return "grace_active"
	case GraceExpired:
		return "grace_expired"
	default:
		return "none"
	}
}

type graceDecision struct {
	basis   GraceBasis
	expires time.Time
}

func (d graceDecision) valid() bool {
	return d.basis != GraceExpired
}

// evaluateGrace applies the offline policy to the cached record. Order
// matters: the local validity window wins over starting a grace clock, and an
// existing clock is never restarted.
func evaluateGrace(l *models.CachedLicense, now time.Time, period time.Duration) graceDecision {
	if l.ValidUntil.After(now) {
		return graceDecision{basis: GraceWithinOfflineWindow, expires: l.ValidUntil}
	}

	if !l.InGracePeriod {
		return graceDecision{basis: GraceStarted, expires: now.Add(period)}
	}

	if l.GracePeriodExpiresAt != nil && l.GracePeriodExpiresAt.After(now) {
		return graceDecision{basis: GraceActive, expires: *l.GracePeriodExpiresAt}
	}

	return graceDecision{basis: GraceExpired}
}
