// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"
)

type InstallationIdentity interface {
	InstallationID() string
	HardwareID() string
}

type HealthHandler struct {
	identity InstallationIdentity
	version  string
}

func NewHealthHandler(identity InstallationIdentity, version string) *HealthHandler {
	return &HealthHandler{identity: identity, version: version}
}

type HealthResponse struct {
	Status         string `json:"status"`
	Service        string `json:"service"`
	Version        string `json:"version"`
	InstallationID string `json:"installationId"`
	HardwareID     string `json:"hardwareId"`
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, HealthResponse{
		Status:         "healthy",
		Service:        "license-client",
		Version:        h.version,
		InstallationID: h.identity.InstallationID(),
		HardwareID:     h.identity.HardwareID(),
	})
}
