// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/rs/zerolog/log"

	"github.com/foxsight/license-client/internal/models"
)

var coreFeatures = map[string]struct{}{
	"module.camera_management": {},
	"module.live_view":         {},
	"module.recording_basic":   {},
	"module.playback":          {},
	"module.user_management":   {},
}

// IsCoreFeature reports whether key belongs to the base product that may run
// without a license.
func IsCoreFeature(key string) bool {
	_, ok := coreFeatures[key]
	return ok
}

const featureCacheTTL = time.Minute

// featureCache memoises availability answers. Entries are keyed by a
// generation number that is bumped after every committed flag change, so a
// reader can never pick up an answer computed before the change.
type featureCache struct {
	cache      *ristretto.Cache
	generation atomic.Uint64
}

func newFeatureCache() (*featureCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     1e4,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create feature cache: %w", err)
	}
	return &featureCache{cache: cache}, nil
}

func (c *featureCache) key(featureKey string) string {
	return strconv.FormatUint(c.generation.Load(), 10) + ":" + featureKey
}

func (c *featureCache) get(key string) (available, found bool) {
	v, ok := c.cache.Get(key)
	if !ok {
		return false, false
	}
	available, ok = v.(bool)
	return available, ok
}

func (c *featureCache) set(key string, available bool) {
	c.cache.SetWithTTL(key, available, 1, featureCacheTTL)
}

func (c *featureCache) invalidate() {
	c.generation.Add(1)
}

func (c *featureCache) close() {
	c.cache.Close()
}

// IsFeatureAvailable answers from local state only.
func (s *LicenseService) IsFeatureAvailable(ctx context.Context, featureKey string) (bool, error) {
	cacheKey := s.features.key(featureKey)
	if available, ok := s.features.get(cacheKey); ok {
		return available, nil
	}

	var available bool
	flag, err := s.flags.Get(ctx, featureKey)
	switch {
	case errors.Is(err, models.ErrFeatureFlagNotFound):
		available = s.settings.AllowUnlicensedCoreFeatures && IsCoreFeature(featureKey)
	case err != nil:
		return false, fmt.Errorf("failed to check feature %s: %w", featureKey, err)
	default:
		available = flag.Available()
	}

	s.features.set(cacheKey, available)
	return available, nil
}

func (s *LicenseService) ListFeatureFlags(ctx context.Context) ([]*models.FeatureFlag, error) {
	return s.flags.List(ctx)
}

// SetFeatureEnabled changes the local administrative override of a flag that
// the authority has already told us about.
func (s *LicenseService) SetFeatureEnabled(ctx context.Context, featureKey string, enabled bool) (*models.FeatureFlag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	flag, err := s.flags.SetSystemEnabled(ctx, featureKey, enabled)
	if err != nil {
		return nil, err
	}
	s.features.invalidate()

	log.Info().
		Str("featureKey", featureKey).
		Bool("systemEnabled", enabled).
		Msg("Feature override changed")

	return flag, nil
}
