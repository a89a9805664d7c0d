// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/foxsight/license-client/internal/authority"
	"github.com/foxsight/license-client/internal/models"
	"github.com/foxsight/license-client/internal/services"
)

// LicenseEngine is the subset of the license service the HTTP surface drives.
type LicenseEngine interface {
	Activate(ctx context.Context, licenseKey string) (*services.ActivationResult, error)
	Validate(ctx context.Context) (*services.ValidationResult, error)
	GetStatus(ctx context.Context) (*services.StatusSnapshot, error)
	IsFeatureAvailable(ctx context.Context, featureKey string) (bool, error)
	SendHeartbeat(ctx context.Context) services.HeartbeatResult
	RecentAttempts(ctx context.Context, limit int) ([]*models.ValidationAttempt, error)
}

type LicenseHandler struct {
	engine LicenseEngine
}

func NewLicenseHandler(engine LicenseEngine) *LicenseHandler {
	return &LicenseHandler{engine: engine}
}

type ActivateRequest struct {
	LicenseKey string `json:"licenseKey"`
}

type FeatureCheckRequest struct {
	FeatureKey string `json:"featureKey"`
}

type FeatureCheckResponse struct {
	FeatureKey string `json:"featureKey"`
	Available  bool   `json:"available"`
}

type HeartbeatResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Activate handles POST /api/license/activate
func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	var req ActivateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.engine.Activate(r.Context(), strings.TrimSpace(req.LicenseKey))
	if err != nil {
		if errors.Is(err, services.ErrEmptyLicenseKey) {
			RespondError(w, http.StatusBadRequest, "License key is required")
			return
		}
		log.Error().Err(err).Str("licenseKey", authority.MaskLicenseKey(req.LicenseKey)).Msg("Failed to activate license")
		RespondError(w, http.StatusInternalServerError, "Failed to activate license")
		return
	}

	if !result.Success {
		RespondError(w, http.StatusBadRequest, result.Error)
		return
	}

	RespondJSON(w, http.StatusOK, result)
}

// Status handles GET /api/license/status
func (h *LicenseHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.engine.GetStatus(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to get license status")
		RespondError(w, http.StatusInternalServerError, "Failed to get license status")
		return
	}

	RespondJSON(w, http.StatusOK, status)
}

// Validate handles POST /api/license/validate
func (h *LicenseHandler) Validate(w http.ResponseWriter, r *http.Request) {
	result, err := h.engine.Validate(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to validate license")
		RespondError(w, http.StatusInternalServerError, "Failed to validate license")
		return
	}

	RespondJSON(w, http.StatusOK, result)
}

// CheckFeature handles POST /api/license/feature/check
func (h *LicenseHandler) CheckFeature(w http.ResponseWriter, r *http.Request) {
	var req FeatureCheckRequest
	if err := decodeJSON(w, r, &req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.FeatureKey == "" {
		RespondError(w, http.StatusBadRequest, "Feature key is required")
		return
	}

	available, err := h.engine.IsFeatureAvailable(r.Context(), req.FeatureKey)
	if err != nil {
		log.Error().Err(err).Str("featureKey", req.FeatureKey).Msg("Failed to check feature")
		RespondError(w, http.StatusInternalServerError, "Failed to check feature")
		return
	}

	RespondJSON(w, http.StatusOK, FeatureCheckResponse{
		FeatureKey: req.FeatureKey,
		Available:  available,
	})
}

// Heartbeat handles POST /api/license/heartbeat. Delivery failures do not
// affect license validity, so they are reported in the body with a 200.
func (h *LicenseHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	result := h.engine.SendHeartbeat(r.Context())

	resp := HeartbeatResponse{Success: result.Sent, Message: "Heartbeat sent"}
	switch {
	case result.Skipped:
		resp.Message = "No license cached, heartbeat skipped"
	case !result.Sent:
		resp.Message = "Heartbeat failed: " + result.Error
	}

	RespondJSON(w, http.StatusOK, resp)
}

// Attempts handles GET /api/license/attempts
func (h *LicenseHandler) Attempts(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			RespondError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	attempts, err := h.engine.RecentAttempts(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list validation attempts")
		RespondError(w, http.StatusInternalServerError, "Failed to list validation attempts")
		return
	}
	if attempts == nil {
		attempts = []*models.ValidationAttempt{}
	}

	for _, a := range attempts {
		a.LicenseKey = authority.MaskLicenseKey(a.LicenseKey)
	}

	RespondJSON(w, http.StatusOK, attempts)
}
