// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package authority

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/foxsight/license-client/internal/hardware"
)

type ActivateRequest struct {
	LicenseKey          string `json:"licenseKey"`
	HardwareID          string `json:"hardwareId"`
	InstallationID      string `json:"installationId"`
	InstallationName    string `json:"installationName"`
	InstallationVersion string `json:"installationVersion"`
}

type ValidateRequest struct {
	LicenseKey string `json:"licenseKey"`
	HardwareID string `json:"hardwareId"`
}

type UsageMetrics struct {
	CamerasInUse  int     `json:"camerasInUse"`
	UsersActive   int     `json:"usersActive"`
	StorageUsedGB float64 `json:"storageUsedGb"`
}

type HeartbeatRequest struct {
	LicenseKey     string              `json:"licenseKey"`
	HardwareID     string              `json:"hardwareId"`
	InstallationID string              `json:"installationId"`
	UsageMetrics   UsageMetrics        `json:"usageMetrics"`
	SystemInfo     hardware.SystemInfo `json:"systemInfo"`
}

// License is the authority's license payload. Raw keeps the payload exactly
// as received so unknown fields survive in the local cache.
type License struct {
	LicenseKey      string   `json:"licenseKey"`
	Tier            string   `json:"tier,omitempty"`
	Status          string   `json:"status,omitempty"`
	ExpiresAt       string   `json:"expiresAt,omitempty"`
	MaxCameras      *int     `json:"maxCameras,omitempty"`
	MaxUsers        *int     `json:"maxUsers,omitempty"`
	EnabledFeatures []string `json:"enabledFeatures"`
	Signature       string   `json:"signature,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// DecodeLicense parses a stored or received license payload.
func DecodeLicense(raw json.RawMessage) (*License, error) {
	var l License
	if len(raw) == 0 {
		return &l, nil
	}
	if err := json.Unmarshal(raw, &l); err != nil {
		return nil, errors.Wrap(err, "decode license payload")
	}
	l.Raw = append(json.RawMessage(nil), raw...)
	return &l, nil
}

type ValidateResult struct {
	IsValid bool            `json:"isValid"`
	License json.RawMessage `json:"license,omitempty"`
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (e *envelope) message(fallback string) string {
	if e.Error != nil && e.Error.Message != "" {
		return e.Error.Message
	}
	return fallback
}
