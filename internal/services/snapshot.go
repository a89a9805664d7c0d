// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package services

import (
	"context"
	"errors"
	"time"

	"github.com/foxsight/license-client/internal/models"
)

// MetricsSnapshot is a read-only view of local license state for exporters.
type MetricsSnapshot struct {
	HasLicense        bool
	Valid             bool
	InGracePeriod     bool
	ValidUntil        *time.Time
	GraceExpiresAt    *time.Time
	Attempts          map[models.AttemptResult]int
	LicensedFeatures  int
	AvailableFeatures int
}

func (s *LicenseService) MetricsSnapshot(ctx context.Context) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{}

	cached, err := s.licenses.Get(ctx)
	switch {
	case errors.Is(err, models.ErrLicenseNotFound):
	case err != nil:
		return nil, err
	default:
		snap.HasLicense = true
		snap.Valid = cached.IsValid
		snap.InGracePeriod = cached.InGracePeriod
		validUntil := cached.ValidUntil
		snap.ValidUntil = &validUntil
		snap.GraceExpiresAt = cached.GracePeriodExpiresAt
	}

	if snap.Attempts, err = s.attempts.CountByResult(ctx); err != nil {
		return nil, err
	}

	flags, err := s.flags.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, f := range flags {
		if f.Licensed {
			snap.LicensedFeatures++
		}
		if f.Available() {
			snap.AvailableFeatures++
		}
	}

	return snap, nil
}
