// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"
)

var ErrFeatureFlagNotFound = errors.New("feature flag not found")

type FeatureFlag struct {
	FeatureKey    string    `json:"featureKey"`
	Licensed      bool      `json:"licensed"`
	SystemEnabled bool      `json:"systemEnabled"`
	SyncedAt      time.Time `json:"syncedAt"`
}

// Available is the effective state of the flag.
func (f *FeatureFlag) Available() bool {
	return f.Licensed && f.SystemEnabled
}

type FeatureFlagStore struct {
	db Querier
}

func NewFeatureFlagStore(db Querier) *FeatureFlagStore {
	return &FeatureFlagStore{db: db}
}

func (s *FeatureFlagStore) WithTx(tx *sql.Tx) *FeatureFlagStore {
	return &FeatureFlagStore{db: tx}
}

func (s *FeatureFlagStore) Get(ctx context.Context, featureKey string) (*FeatureFlag, error) {
	var f FeatureFlag
	err := s.db.QueryRowContext(ctx, `
		SELECT feature_key, licensed, system_enabled, synced_at
		FROM feature_flags WHERE feature_key = ?`, featureKey).
		Scan(&f.FeatureKey, &f.Licensed, &f.SystemEnabled, &f.SyncedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrFeatureFlagNotFound
		}
		return nil, fmt.Errorf("failed to get feature flag: %w", err)
	}
	return &f, nil
}

func (s *FeatureFlagStore) List(ctx context.Context) ([]*FeatureFlag, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT feature_key, licensed, system_enabled, synced_at
		FROM feature_flags ORDER BY feature_key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list feature flags: %w", err)
	}
	defer rows.Close()

	var flags []*FeatureFlag
	for rows.Next() {
		var f FeatureFlag
		if err := rows.Scan(&f.FeatureKey, &f.Licensed, &f.SystemEnabled, &f.SyncedAt); err != nil {
			return nil, fmt.Errorf("failed to scan feature flag: %w", err)
		}
		flags = append(flags, &f)
	}

	return flags, rows.Err()
}

// SyncDiff describes what a licensed-set sync changed.
type SyncDiff struct {
	Granted []string
	Revoked []string
	Created []string
}

// SyncLicensed makes exactly the keys in enabled licensed. Keys that lose
// their license keep their row and their systemEnabled override, and unknown
// keys are created enabled. Only rows whose licensed value changes are
// written, so run it inside the caller's transaction.
func (s *FeatureFlagStore) SyncLicensed(ctx context.Context, enabled []string, at time.Time) (*SyncDiff, error) {
	current, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	target := make(map[string]struct{}, len(enabled))
	for _, key := range enabled {
		if key != "" {
			target[key] = struct{}{}
		}
	}

	diff := &SyncDiff{}
	existing := make(map[string]struct{}, len(current))
	for _, f := range current {
		existing[f.FeatureKey] = struct{}{}
		_, want := target[f.FeatureKey]
		switch {
		case want && !f.Licensed:
			diff.Granted = append(diff.Granted, f.FeatureKey)
		case !want && f.Licensed:
			diff.Revoked = append(diff.Revoked, f.FeatureKey)
		}
	}
	for key := range target {
		if _, ok := existing[key]; !ok {
			diff.Created = append(diff.Created, key)
		}
	}
	sort.Strings(diff.Created)

	for _, key := range diff.Granted {
		if err := s.setLicensed(ctx, key, true, at); err != nil {
			return nil, err
		}
	}
	for _, key := range diff.Revoked {
		if err := s.setLicensed(ctx, key, false, at); err != nil {
			return nil, err
		}
	}
	for _, key := range diff.Created {
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO feature_flags (feature_key, licensed, system_enabled, synced_at)
			VALUES (?, 1, 1, ?)`, key, at.UTC()); err != nil {
			return nil, fmt.Errorf("failed to create feature flag %s: %w", key, err)
		}
	}

	return diff, nil
}

func (s *FeatureFlagStore) setLicensed(ctx context.Context, key string, licensed bool, at time.Time) error {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE feature_flags SET licensed = ?, synced_at = ? WHERE feature_key = ?`,
		licensed, at.UTC(), key); err != nil {
		return fmt.Errorf("failed to update feature flag %s: %w", key, err)
	}
	return nil
}

// SetSystemEnabled changes the local override of an existing flag.
func (s *FeatureFlagStore) SetSystemEnabled(ctx context.Context, featureKey string, enabled bool) (*FeatureFlag, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE feature_flags SET system_enabled = ? WHERE feature_key = ?`, enabled, featureKey)
	if err != nil {
		return nil, fmt.Errorf("failed to update feature flag: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to update feature flag: %w", err)
	}
	if n == 0 {
		return nil, ErrFeatureFlagNotFound
	}
	return s.Get(ctx, featureKey)
}
