// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type AttemptResult string

const (
	AttemptSuccess AttemptResult = "success"
	AttemptFailed  AttemptResult = "failed"
	AttemptOffline AttemptResult = "offline"
)

// ValidationAttempt is an append-only audit entry for activation and
// validation calls.
type ValidationAttempt struct {
	ID           int64         `json:"id"`
	LicenseKey   string        `json:"licenseKey"`
	Result       AttemptResult `json:"result"`
	ErrorMessage *string       `json:"errorMessage,omitempty"`
	HardwareID   string        `json:"hardwareId"`
	AttemptedAt  time.Time     `json:"attemptedAt"`
}

type ValidationAttemptStore struct {
	db Querier
}

func NewValidationAttemptStore(db Querier) *ValidationAttemptStore {
	return &ValidationAttemptStore{db: db}
}

func (s *ValidationAttemptStore) WithTx(tx *sql.Tx) *ValidationAttemptStore {
	return &ValidationAttemptStore{db: tx}
}

func (s *ValidationAttemptStore) Append(ctx context.Context, a *ValidationAttempt) error {
	switch a.Result {
	case AttemptSuccess, AttemptFailed, AttemptOffline:
	default:
		return fmt.Errorf("unknown attempt result %q", a.Result)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO validation_attempts (license_key, result, error_message, hardware_id, attempted_at)
		VALUES (?, ?, ?, ?, ?)`,
		a.LicenseKey, string(a.Result), nullString(a.ErrorMessage), a.HardwareID, a.AttemptedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to append validation attempt: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get attempt id: %w", err)
	}
	a.ID = id
	return nil
}

// ListRecent returns up to limit attempts, newest first.
func (s *ValidationAttemptStore) ListRecent(ctx context.Context, limit int) ([]*ValidationAttempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, license_key, result, error_message, hardware_id, attempted_at
		FROM validation_attempts
		ORDER BY attempted_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list validation attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*ValidationAttempt
	for rows.Next() {
		var (
			a      ValidationAttempt
			result string
			errMsg sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.LicenseKey, &result, &errMsg, &a.HardwareID, &a.AttemptedAt); err != nil {
			return nil, fmt.Errorf("failed to scan validation attempt: %w", err)
		}
		a.Result = AttemptResult(result)
		a.ErrorMessage = stringPtr(errMsg)
		attempts = append(attempts, &a)
	}

	return attempts, rows.Err()
}

// CountByResult returns the number of attempts per result.
func (s *ValidationAttemptStore) CountByResult(ctx context.Context) (map[AttemptResult]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT result, COUNT(*) FROM validation_attempts GROUP BY result`)
	if err != nil {
		return nil, fmt.Errorf("failed to count validation attempts: %w", err)
	}
	defer rows.Close()

	counts := map[AttemptResult]int{
		AttemptSuccess: 0,
		AttemptFailed:  0,
		AttemptOffline: 0,
	}
	for rows.Next() {
		var (
			result string
			n      int
		)
		if err := rows.Scan(&result, &n); err != nil {
			return nil, err
		}
		counts[AttemptResult(result)] = n
	}

	return counts, rows.Err()
}
