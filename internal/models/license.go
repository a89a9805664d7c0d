// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrLicenseNotFound = errors.New("license not found")

// CachedLicense is the single license held by this installation.
type CachedLicense struct {
	LicenseKey           string          `json:"licenseKey"`
	LicenseData          json.RawMessage `json:"licenseData"`
	Signature            string          `json:"signature"`
	CachedAt             time.Time       `json:"cachedAt"`
	ValidUntil           time.Time       `json:"validUntil"`
	LastValidatedAt      *time.Time      `json:"lastValidatedAt,omitempty"`
	LastHeartbeatAt      *time.Time      `json:"lastHeartbeatAt,omitempty"`
	IsValid              bool            `json:"isValid"`
	ValidationError      *string         `json:"validationError,omitempty"`
	InGracePeriod        bool            `json:"inGracePeriod"`
	GracePeriodStartedAt *time.Time      `json:"gracePeriodStartedAt,omitempty"`
	GracePeriodExpiresAt *time.Time      `json:"gracePeriodExpiresAt,omitempty"`
}

type LicenseStore struct {
	db Querier
}

func NewLicenseStore(db Querier) *LicenseStore {
	return &LicenseStore{db: db}
}

// WithTx returns a store bound to tx.
func (s *LicenseStore) WithTx(tx *sql.Tx) *LicenseStore {
	return &LicenseStore{db: tx}
}

const licenseColumns = `license_key, license_data, signature, cached_at, valid_until,
	last_validated_at, last_heartbeat_at, is_valid, validation_error,
	in_grace_period, grace_period_started_at, grace_period_expires_at`

// Get returns the cached license or ErrLicenseNotFound.
func (s *LicenseStore) Get(ctx context.Context) (*CachedLicense, error) {
	var (
		l              CachedLicense
		data           string
		lastValidated  sql.NullTime
		lastHeartbeat  sql.NullTime
		validationErr  sql.NullString
		graceStartedAt sql.NullTime
		graceExpiresAt sql.NullTime
	)

	err := s.db.QueryRowContext(ctx, `SELECT `+licenseColumns+` FROM cached_license WHERE id = 1`).Scan(
		&l.LicenseKey,
		&data,
		&l.Signature,
		&l.CachedAt,
		&l.ValidUntil,
		&lastValidated,
		&lastHeartbeat,
		&l.IsValid,
		&validationErr,
		&l.InGracePeriod,
		&graceStartedAt,
		&graceExpiresAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrLicenseNotFound
		}
		return nil, fmt.Errorf("failed to get cached license: %w", err)
	}

	l.LicenseData = json.RawMessage(data)
	l.LastValidatedAt = timePtr(lastValidated)
	l.LastHeartbeatAt = timePtr(lastHeartbeat)
	l.ValidationError = stringPtr(validationErr)
	l.GracePeriodStartedAt = timePtr(graceStartedAt)
	l.GracePeriodExpiresAt = timePtr(graceExpiresAt)

	return &l, nil
}

// Exists reports whether a license is cached.
func (s *LicenseStore) Exists(ctx context.Context) (bool, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cached_license`).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to count cached licenses: %w", err)
	}
	return count > 0, nil
}

// Put writes l as the installation's only license, replacing any previous one.
func (s *LicenseStore) Put(ctx context.Context, l *CachedLicense) error {
	if l.InGracePeriod && (l.GracePeriodStartedAt == nil || l.GracePeriodExpiresAt == nil) {
		return fmt.Errorf("grace period flag set without grace timestamps")
	}

	data := "{}"
	if len(l.LicenseData) > 0 {
		data = string(l.LicenseData)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cached_license (id, `+licenseColumns+`)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			license_key = excluded.license_key,
			license_data = excluded.license_data,
			signature = excluded.signature,
			cached_at = excluded.cached_at,
			valid_until = excluded.valid_until,
			last_validated_at = excluded.last_validated_at,
			last_heartbeat_at = excluded.last_heartbeat_at,
			is_valid = excluded.is_valid,
			validation_error = excluded.validation_error,
			in_grace_period = excluded.in_grace_period,
			grace_period_started_at = excluded.grace_period_started_at,
			grace_period_expires_at = excluded.grace_period_expires_at`,
		l.LicenseKey,
		data,
		l.Signature,
		l.CachedAt.UTC(),
		l.ValidUntil.UTC(),
		nullTime(l.LastValidatedAt),
		nullTime(l.LastHeartbeatAt),
		l.IsValid,
		nullString(l.ValidationError),
		l.InGracePeriod,
		nullTime(l.GracePeriodStartedAt),
		nullTime(l.GracePeriodExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("failed to store cached license: %w", err)
	}
	return nil
}

// MarkValidated records a successful validation and clears any grace state.
func (s *LicenseStore) MarkValidated(ctx context.Context, at time.Time) error {
	return s.update(ctx, `
		UPDATE cached_license SET
			last_validated_at = ?,
			is_valid = 1,
			validation_error = NULL,
			in_grace_period = 0,
			grace_period_started_at = NULL,
			grace_period_expires_at = NULL
		WHERE id = 1`, at.UTC())
}

// StartGracePeriod opens the offline grace window.
func (s *LicenseStore) StartGracePeriod(ctx context.Context, startedAt, expiresAt time.Time, reason string) error {
	if !expiresAt.After(startedAt) {
		return fmt.Errorf("grace period must end after it starts")
	}
	return s.update(ctx, `
		UPDATE cached_license SET
			in_grace_period = 1,
			grace_period_started_at = ?,
			grace_period_expires_at = ?,
			validation_error = ?
		WHERE id = 1`, startedAt.UTC(), expiresAt.UTC(), reason)
}

// MarkExpired flags the license invalid once its grace window has run out.
// Grace timestamps are kept for display.
func (s *LicenseStore) MarkExpired(ctx context.Context, reason string) error {
	return s.update(ctx, `
		UPDATE cached_license SET
			is_valid = 0,
			validation_error = ?
		WHERE id = 1`, reason)
}

// TouchHeartbeat records an acknowledged heartbeat for licenseKey. It is a
// no-op returning ErrLicenseNotFound when another key was activated meanwhile.
func (s *LicenseStore) TouchHeartbeat(ctx context.Context, licenseKey string, at time.Time) error {
	return s.update(ctx, `
		UPDATE cached_license SET
			last_validated_at = ?,
			last_heartbeat_at = ?
		WHERE id = 1 AND license_key = ?`, at.UTC(), at.UTC(), licenseKey)
}

func (s *LicenseStore) update(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update cached license: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update cached license: %w", err)
	}
	if n == 0 {
		return ErrLicenseNotFound
	}
	return nil
}
