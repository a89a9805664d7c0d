// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const installationIDKey = "installation_id"

var ErrConfigKeyNotFound = errors.New("system config key not found")

type SystemConfigStore struct {
	db Querier
}

func NewSystemConfigStore(db Querier) *SystemConfigStore {
	return &SystemConfigStore{db: db}
}

func (s *SystemConfigStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM system_config WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrConfigKeyNotFound
		}
		return "", fmt.Errorf("failed to get system config %s: %w", key, err)
	}
	return value, nil
}

func (s *SystemConfigStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO system_config (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set system config %s: %w", key, err)
	}
	return nil
}

// EnsureInstallationID returns the installation id, generating it on first
// use. An existing id is never replaced.
func (s *SystemConfigStore) EnsureInstallationID(ctx context.Context) (string, error) {
	if _, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO system_config (key, value, updated_at) VALUES (?, ?, ?)`,
		installationIDKey, uuid.NewString(), time.Now().UTC()); err != nil {
		return "", fmt.Errorf("failed to create installation id: %w", err)
	}
	return s.Get(ctx, installationIDKey)
}
