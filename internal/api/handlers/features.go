// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"errors"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/rs/zerolog/log"

	"github.com/foxsight/license-client/internal/models"
)

const maxSuggestions = 3

type FeatureRegistry interface {
	ListFeatureFlags(ctx context.Context) ([]*models.FeatureFlag, error)
	SetFeatureEnabled(ctx context.Context, featureKey string, enabled bool) (*models.FeatureFlag, error)
}

type FeaturesHandler struct {
	registry FeatureRegistry
}

func NewFeaturesHandler(registry FeatureRegistry) *FeaturesHandler {
	return &FeaturesHandler{registry: registry}
}

type UpdateFeatureRequest struct {
	SystemEnabled *bool `json:"systemEnabled"`
}

type featureNotFoundResponse struct {
	Error       string   `json:"error"`
	Suggestions []string `json:"suggestions"`
}

// ListFeatures handles GET /api/features
func (h *FeaturesHandler) ListFeatures(w http.ResponseWriter, r *http.Request) {
	flags, err := h.registry.ListFeatureFlags(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list feature flags")
		RespondError(w, http.StatusInternalServerError, "Failed to list feature flags")
		return
	}
	if flags == nil {
		flags = []*models.FeatureFlag{}
	}

	RespondJSON(w, http.StatusOK, flags)
}

// UpdateFeature handles PUT /api/features/{featureKey}
func (h *FeaturesHandler) UpdateFeature(w http.ResponseWriter, r *http.Request) {
	featureKey := chi.URLParam(r, "featureKey")

	var req UpdateFeatureRequest
	if err := decodeJSON(w, r, &req); err != nil || req.SystemEnabled == nil {
		RespondError(w, http.StatusBadRequest, "systemEnabled is required")
		return
	}

	flag, err := h.registry.SetFeatureEnabled(r.Context(), featureKey, *req.SystemEnabled)
	if errors.Is(err, models.ErrFeatureFlagNotFound) {
		RespondJSON(w, http.StatusNotFound, featureNotFoundResponse{
			Error:       "Feature not found",
			Suggestions: h.suggest(r.Context(), featureKey),
		})
		return
	}
	if err != nil {
		log.Error().Err(err).Str("featureKey", featureKey).Msg("Failed to update feature flag")
		RespondError(w, http.StatusInternalServerError, "Failed to update feature flag")
		return
	}

	RespondJSON(w, http.StatusOK, flag)
}

// suggest returns the closest known feature keys to a mistyped one.
func (h *FeaturesHandler) suggest(ctx context.Context, featureKey string) []string {
	suggestions := []string{}

	flags, err := h.registry.ListFeatureFlags(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load feature keys for suggestions")
		return suggestions
	}

	keys := make([]string, 0, len(flags))
	for _, f := range flags {
		keys = append(keys, f.FeatureKey)
	}

	ranks := fuzzy.RankFindNormalizedFold(featureKey, keys)
	sort.Sort(ranks)
	for i, rank := range ranks {
		if i == maxSuggestions {
			break
		}
		suggestions = append(suggestions, rank.Target)
	}
	return suggestions
}
