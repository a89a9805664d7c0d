// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foxsight/license-client/internal/models"
	"github.com/foxsight/license-client/internal/services"
)

type staticSource struct {
	snap *services.MetricsSnapshot
	err  error
}

func (s staticSource) MetricsSnapshot(context.Context) (*services.MetricsSnapshot, error) {
	return s.snap, s.err
}

func TestNewManager(t *testing.T) {
	manager := NewManager(nil)

	assert.NotNil(t, manager)
	assert.NotNil(t, manager.registry)
	assert.NotNil(t, manager.licenseCollector)
	assert.IsType(t, &prometheus.Registry{}, manager.GetRegistry())
}

func TestManager_RegistryIsolation(t *testing.T) {
	manager1 := NewManager(nil)
	manager2 := NewManager(nil)

	assert.NotSame(t, manager1.registry, manager2.registry, "Each manager should have its own registry")
	assert.NotSame(t, manager1.licenseCollector, manager2.licenseCollector, "Each manager should have its own collector")
}

func TestLicenseCollector_Describe(t *testing.T) {
	collector := NewLicenseCollector(nil)

	descChan := make(chan *prometheus.Desc, 20)
	collector.Describe(descChan)
	close(descChan)

	var descs []*prometheus.Desc
	for desc := range descChan {
		descs = append(descs, desc)
	}

	assert.Len(t, descs, 9, "Should have 9 metric descriptors")
}

func TestLicenseCollector_CollectWithNilSource(t *testing.T) {
	registry := NewManager(nil).GetRegistry()
	assert.Equal(t, 0, testutil.CollectAndCount(registry), "Should collect 0 metrics without a source")
}

func TestLicenseCollector_NoLicense(t *testing.T) {
	collector := NewLicenseCollector(staticSource{snap: &services.MetricsSnapshot{
		Attempts: map[models.AttemptResult]int{models.AttemptFailed: 2},
	}})

	// present, valid, grace, 3 attempt series, licensed, available
	assert.Equal(t, 8, testutil.CollectAndCount(collector))
	expected := `
# HELP foxsight_license_present Whether a license is cached locally (1=yes, 0=no)
# TYPE foxsight_license_present gauge
foxsight_license_present 0
`
	require.NoError(t, testutil.CollectAndCompare(collector, strings.NewReader(expected), "foxsight_license_present"))
}

func TestLicenseCollector_InGrace(t *testing.T) {
	validUntil := time.Unix(1_700_000_000, 0)
	graceExpires := time.Unix(1_700_100_000, 0)

	collector := NewLicenseCollector(staticSource{snap: &services.MetricsSnapshot{
		HasLicense:        true,
		Valid:             true,
		InGracePeriod:     true,
		ValidUntil:        &validUntil,
		GraceExpiresAt:    &graceExpires,
		Attempts:          map[models.AttemptResult]int{models.AttemptSuccess: 1, models.AttemptOffline: 3},
		LicensedFeatures:  4,
		AvailableFeatures: 3,
	}})

	expected := `
# HELP foxsight_license_grace_period_expires_timestamp_seconds End of the running grace period as a unix timestamp
# TYPE foxsight_license_grace_period_expires_timestamp_seconds gauge
foxsight_license_grace_period_expires_timestamp_seconds 1.7001e+09
# HELP foxsight_license_validation_attempts_total Recorded activation and validation attempts by result
# TYPE foxsight_license_validation_attempts_total counter
foxsight_license_validation_attempts_total{result="failed"} 0
foxsight_license_validation_attempts_total{result="offline"} 3
foxsight_license_validation_attempts_total{result="success"} 1
# HELP foxsight_license_features_available Number of features both licensed and enabled locally
# TYPE foxsight_license_features_available gauge
foxsight_license_features_available 3
`
	err := testutil.CollectAndCompare(collector, strings.NewReader(expected),
		"foxsight_license_grace_period_expires_timestamp_seconds",
		"foxsight_license_validation_attempts_total",
		"foxsight_license_features_available",
	)
	require.NoError(t, err)
	assert.Equal(t, 10, testutil.CollectAndCount(collector))
}

func TestLicenseCollector_SourceError(t *testing.T) {
	collector := NewLicenseCollector(staticSource{err: errors.New("database is locked")})
	assert.Equal(t, 1, testutil.CollectAndCount(collector, "foxsight_license_scrape_errors_total"))
}
