// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/foxsight/license-client/internal/models"
	"github.com/foxsight/license-client/internal/services"
)

type SnapshotSource interface {
	MetricsSnapshot(ctx context.Context) (*services.MetricsSnapshot, error)
}

type LicenseCollector struct {
	source SnapshotSource

	licensePresentDesc    *prometheus.Desc
	licenseValidDesc      *prometheus.Desc
	inGracePeriodDesc     *prometheus.Desc
	validUntilDesc        *prometheus.Desc
	graceExpiresDesc      *prometheus.Desc
	attemptsDesc          *prometheus.Desc
	featuresLicensedDesc  *prometheus.Desc
	featuresAvailableDesc *prometheus.Desc
	scrapeErrorsDesc      *prometheus.Desc
}

func NewLicenseCollector(source SnapshotSource) *LicenseCollector {
	return &LicenseCollector{
		source: source,

		licensePresentDesc: prometheus.NewDesc(
			"foxsight_license_present",
			"Whether a license is cached locally (1=yes, 0=no)",
			nil, nil,
		),
		licenseValidDesc: prometheus.NewDesc(
			"foxsight_license_valid",
			"Whether the cached license is considered valid (1=valid, 0=invalid)",
			nil, nil,
		),
		inGracePeriodDesc: prometheus.NewDesc(
			"foxsight_license_in_grace_period",
			"Whether the offline grace period is running (1=yes, 0=no)",
			nil, nil,
		),
		validUntilDesc: prometheus.NewDesc(
			"foxsight_license_valid_until_timestamp_seconds",
			"End of the local offline validity window as a unix timestamp",
			nil, nil,
		),
		graceExpiresDesc: prometheus.NewDesc(
			"foxsight_license_grace_period_expires_timestamp_seconds",
			"End of the running grace period as a unix timestamp",
			nil, nil,
		),
		attemptsDesc: prometheus.NewDesc(
			"foxsight_license_validation_attempts_total",
			"Recorded activation and validation attempts by result",
			[]string{"result"}, nil,
		),
		featuresLicensedDesc: prometheus.NewDesc(
			"foxsight_license_features_licensed",
			"Number of features granted by the license",
			nil, nil,
		),
		featuresAvailableDesc: prometheus.NewDesc(
			"foxsight_license_features_available",
			"Number of features both licensed and enabled locally",
			nil, nil,
		),
		scrapeErrorsDesc: prometheus.NewDesc(
			"foxsight_license_scrape_errors_total",
			"Errors while reading local license state for a scrape",
			nil, nil,
		),
	}
}

func (c *LicenseCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.licensePresentDesc
	ch <- c.licenseValidDesc
	ch <- c.inGracePeriodDesc
	ch <- c.validUntilDesc
	ch <- c.graceExpiresDesc
	ch <- c.attemptsDesc
	ch <- c.featuresLicensedDesc
	ch <- c.featuresAvailableDesc
	ch <- c.scrapeErrorsDesc
}

func (c *LicenseCollector) Collect(ch chan<- prometheus.Metric) {
	if c.source == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	snap, err := c.source.MetricsSnapshot(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read license state for metrics")
		ch <- prometheus.MustNewConstMetric(c.scrapeErrorsDesc, prometheus.CounterValue, 1)
		return
	}

	ch <- prometheus.MustNewConstMetric(c.licensePresentDesc, prometheus.GaugeValue, boolToFloat(snap.HasLicense))
	ch <- prometheus.MustNewConstMetric(c.licenseValidDesc, prometheus.GaugeValue, boolToFloat(snap.Valid))
	ch <- prometheus.MustNewConstMetric(c.inGracePeriodDesc, prometheus.GaugeValue, boolToFloat(snap.InGracePeriod))

	if snap.ValidUntil != nil {
		ch <- prometheus.MustNewConstMetric(c.validUntilDesc, prometheus.GaugeValue, float64(snap.ValidUntil.Unix()))
	}
	if snap.InGracePeriod && snap.GraceExpiresAt != nil {
		ch <- prometheus.MustNewConstMetric(c.graceExpiresDesc, prometheus.GaugeValue, float64(snap.GraceExpiresAt.Unix()))
	}

	for _, result := range []models.AttemptResult{models.AttemptSuccess, models.AttemptFailed, models.AttemptOffline} {
		ch <- prometheus.MustNewConstMetric(c.attemptsDesc, prometheus.CounterValue, float64(snap.Attempts[result]), string(result))
	}

	ch <- prometheus.MustNewConstMetric(c.featuresLicensedDesc, prometheus.GaugeValue, float64(snap.LicensedFeatures))
	ch <- prometheus.MustNewConstMetric(c.featuresAvailableDesc, prometheus.GaugeValue, float64(snap.AvailableFeatures))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
