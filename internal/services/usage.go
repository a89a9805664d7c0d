// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package services

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/foxsight/license-client/internal/authority"
	"github.com/foxsight/license-client/internal/hardware"
)

// DiskUsageCollector reports recording storage for heartbeats. Camera and
// user counts belong to the VMS and are reported as zero here.
type DiskUsageCollector struct {
	recordingsPath string
}

func NewDiskUsageCollector(recordingsPath string) *DiskUsageCollector {
	return &DiskUsageCollector{recordingsPath: recordingsPath}
}

func (c *DiskUsageCollector) Collect(ctx context.Context) authority.UsageMetrics {
	var m authority.UsageMetrics
	if c.recordingsPath == "" {
		return m
	}

	used, err := hardware.StorageUsedGB(ctx, c.recordingsPath)
	if err != nil {
		log.Warn().Err(err).Str("path", c.recordingsPath).Msg("Failed to read recordings storage usage")
		return m
	}
	m.StorageUsedGB = used
	return m
}
