// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/foxsight/license-client/internal/authority"
	"github.com/foxsight/license-client/internal/database"
	"github.com/foxsight/license-client/internal/domain"
	"github.com/foxsight/license-client/internal/hardware"
	"github.com/foxsight/license-client/internal/models"
)

// offlineValidity is how long one successful activation may coast without
// reaching the authority. It does not depend on the authority's own expiry.
const offlineValidity = 30 * 24 * time.Hour

const (
	ReasonNoLicense          = "no_license"
	ReasonGracePeriodExpired = "grace_period_expired"

	StatusNoLicense = "no_license"
	StatusInvalid   = "invalid"
	StatusActive    = "active"
)

const (
	defaultAttemptLimit = 50
	maxAttemptLimit     = 500
)

var ErrEmptyLicenseKey = errors.New("license key is required")

type Authority interface {
	Activate(ctx context.Context, req authority.ActivateRequest) (*authority.License, error)
	Validate(ctx context.Context, req authority.ValidateRequest) (*authority.ValidateResult, error)
	Heartbeat(ctx context.Context, req authority.HeartbeatRequest) error
}

type Identity interface {
	Fingerprint(ctx context.Context) string
	SystemInfo(ctx context.Context) hardware.SystemInfo
}

type UsageCollector interface {
	Collect(ctx context.Context) authority.UsageMetrics
}

// HeartbeatArmer starts periodic heartbeats. Arm must be idempotent.
type HeartbeatArmer interface {
	Arm()
}

type LicenseSettings struct {
	InstallationName            string
	InstallationVersion         string
	GracePeriod                 time.Duration
	AllowUnlicensedCoreFeatures bool
}

func SettingsFromConfig(cfg domain.LicenseConfig) LicenseSettings {
	return LicenseSettings{
		InstallationName:            cfg.InstallationName,
		InstallationVersion:         cfg.AppVersion,
		GracePeriod:                 cfg.GracePeriod(),
		AllowUnlicensedCoreFeatures: cfg.AllowUnlicensedCoreFeatures,
	}
}

type ActivationResult struct {
	Success bool            `json:"success"`
	License json.RawMessage `json:"license,omitempty"`
	Message string          `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
}

type ValidationResult struct {
	Valid              bool            `json:"valid"`
	Reason             string          `json:"reason,omitempty"`
	Message            string          `json:"message,omitempty"`
	InGracePeriod      bool            `json:"inGracePeriod"`
	ValidUntil         *time.Time      `json:"validUntil,omitempty"`
	GracePeriodExpires *time.Time      `json:"gracePeriodExpires,omitempty"`
	License            json.RawMessage `json:"license,omitempty"`

	Basis GraceBasis `json:"-"`
}

type StatusSnapshot struct {
	HasLicense         bool       `json:"hasLicense"`
	Status             string     `json:"status"`
	Message            string     `json:"message,omitempty"`
	Reason             string     `json:"reason,omitempty"`
	LicenseKey         string     `json:"licenseKey,omitempty"`
	Tier               string     `json:"tier,omitempty"`
	ExpiresAt          string     `json:"expiresAt,omitempty"`
	MaxCameras         *int       `json:"maxCameras,omitempty"`
	MaxUsers           *int       `json:"maxUsers,omitempty"`
	InGracePeriod      bool       `json:"inGracePeriod"`
	GracePeriodExpires *time.Time `json:"gracePeriodExpires,omitempty"`
	ValidUntil         *time.Time `json:"validUntil,omitempty"`
	LastValidated      *time.Time `json:"lastValidated,omitempty"`
}

type HeartbeatResult struct {
	Sent    bool   `json:"sent"`
	Skipped bool   `json:"skipped"`
	Error   string `json:"error,omitempty"`
}

// LicenseService reconciles the locally cached license with the licensing
// authority. Every mutating sequence runs under mu and inside one database
// transaction.
type LicenseService struct {
	db        *database.DB
	licenses  *models.LicenseStore
	attempts  *models.ValidationAttemptStore
	flags     *models.FeatureFlagStore
	authority Authority
	identity  Identity
	usage     UsageCollector
	armer     HeartbeatArmer
	features  *featureCache
	settings  LicenseSettings

	installationID string
	hardwareID     string

	now func() time.Time
	mu  sync.Mutex
}

func NewLicenseService(ctx context.Context, db *database.DB, client Authority, identity Identity, settings LicenseSettings) (*LicenseService, error) {
	installationID, err := models.NewSystemConfigStore(db.Conn()).EnsureInstallationID(ctx)
	if err != nil {
		return nil, err
	}

	features, err := newFeatureCache()
	if err != nil {
		return nil, err
	}

	s := &LicenseService{
		db:             db,
		licenses:       models.NewLicenseStore(db.Conn()),
		attempts:       models.NewValidationAttemptStore(db.Conn()),
		flags:          models.NewFeatureFlagStore(db.Conn()),
		authority:      client,
		identity:       identity,
		features:       features,
		settings:       settings,
		installationID: installationID,
		hardwareID:     identity.Fingerprint(ctx),
		now:            func() time.Time { return time.Now().UTC() },
	}

	log.Debug().
		Str("installationId", installationID).
		Str("hardwareId", s.hardwareID).
		Msg("License service initialised")

	return s, nil
}

func (s *LicenseService) SetHeartbeatArmer(a HeartbeatArmer) {
	s.armer = a
}

func (s *LicenseService) SetUsageCollector(u UsageCollector) {
	s.usage = u
}

func (s *LicenseService) InstallationID() string {
	return s.installationID
}

func (s *LicenseService) HardwareID() string {
	return s.hardwareID
}

func (s *LicenseService) Close() {
	s.features.close()
}

// HasLicense reports whether a license is cached locally.
func (s *LicenseService) HasLicense(ctx context.Context) (bool, error) {
	return s.licenses.Exists(ctx)
}

// Activate binds licenseKey to this installation. Authority or transport
// failures come back as an unsuccessful result and leave local state alone;
// the returned error is reserved for local storage failures.
func (s *LicenseService) Activate(ctx context.Context, licenseKey string) (*ActivationResult, error) {
	licenseKey = strings.TrimSpace(licenseKey)
	if licenseKey == "" {
		return nil, ErrEmptyLicenseKey
	}

	license, err := s.authority.Activate(ctx, authority.ActivateRequest{
		LicenseKey:          licenseKey,
		HardwareID:          s.hardwareID,
		InstallationID:      s.installationID,
		InstallationName:    s.settings.InstallationName,
		InstallationVersion: s.settings.InstallationVersion,
	})

	// The authority may already have bound the key; the outcome is recorded
	// even if the caller has gone away.
	ctx = context.WithoutCancel(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	if err != nil {
		msg := activationFailureMessage(err)
		log.Warn().
			Err(err).
			Str("licenseKey", authority.MaskLicenseKey(licenseKey)).
			Msg("License activation failed")
		s.recordAttempt(ctx, licenseKey, models.AttemptFailed, msg, now)
		return &ActivationResult{Success: false, Error: msg}, nil
	}

	cached := &models.CachedLicense{
		LicenseKey:      license.LicenseKey,
		LicenseData:     license.Raw,
		Signature:       license.Signature,
		CachedAt:        now,
		ValidUntil:      now.Add(offlineValidity),
		LastValidatedAt: &now,
		IsValid:         true,
	}

	var diff *models.SyncDiff
	err = s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := s.licenses.WithTx(tx).Put(ctx, cached); err != nil {
			return err
		}
		var err error
		if diff, err = s.flags.WithTx(tx).SyncLicensed(ctx, license.EnabledFeatures, now); err != nil {
			return err
		}
		return s.attempts.WithTx(tx).Append(ctx, &models.ValidationAttempt{
			LicenseKey:  license.LicenseKey,
			Result:      models.AttemptSuccess,
			HardwareID:  s.hardwareID,
			AttemptedAt: now,
		})
	})
	if err != nil {
		s.recordAttempt(ctx, licenseKey, models.AttemptFailed, fmt.Sprintf("Activation failed: %v", err), now)
		return nil, fmt.Errorf("failed to store activated license: %w", err)
	}

	s.features.invalidate()

	if s.armer != nil {
		s.armer.Arm()
	}

	log.Info().
		Str("licenseKey", authority.MaskLicenseKey(license.LicenseKey)).
		Str("tier", license.Tier).
		Int("granted", len(diff.Granted)+len(diff.Created)).
		Int("revoked", len(diff.Revoked)).
		Msg("License activated")

	return &ActivationResult{
		Success: true,
		License: license.Raw,
		Message: "License activated successfully",
	}, nil
}

func activationFailureMessage(err error) string {
	var rejected *authority.RejectedError
	if errors.As(err, &rejected) {
		return rejected.Message
	}
	if authority.IsUnreachable(err) {
		return fmt.Sprintf("HTTP error during activation: %v", err)
	}
	return fmt.Sprintf("Activation failed: %v", err)
}

// Validate re-checks the cached license with the authority, falling back to
// the offline policy when the authority rejects it or cannot be reached. Only
// local storage failures produce an error.
func (s *LicenseService) Validate(ctx context.Context) (*ValidationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.validateLocked(ctx)
}

func (s *LicenseService) validateLocked(ctx context.Context) (*ValidationResult, error) {
	cached, err := s.licenses.Get(ctx)
	if errors.Is(err, models.ErrLicenseNotFound) {
		return &ValidationResult{Valid: false, Reason: ReasonNoLicense, Message: "No license activated"}, nil
	}
	if err != nil {
		return nil, err
	}

	res, err := s.authority.Validate(ctx, authority.ValidateRequest{
		LicenseKey: cached.LicenseKey,
		HardwareID: s.hardwareID,
	})
	ctx = context.WithoutCancel(ctx)
	now := s.now()

	if err == nil {
		if err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
			if err := s.licenses.WithTx(tx).MarkValidated(ctx, now); err != nil {
				return err
			}
			return s.attempts.WithTx(tx).Append(ctx, &models.ValidationAttempt{
				LicenseKey:  cached.LicenseKey,
				Result:      models.AttemptSuccess,
				HardwareID:  s.hardwareID,
				AttemptedAt: now,
			})
		}); err != nil {
			return nil, fmt.Errorf("failed to record successful validation: %w", err)
		}

		license := res.License
		if len(license) == 0 {
			license = cached.LicenseData
		}

		log.Debug().Str("licenseKey", authority.MaskLicenseKey(cached.LicenseKey)).Msg("License validated")

		validUntil := cached.ValidUntil
		return &ValidationResult{
			Valid:         true,
			InGracePeriod: false,
			ValidUntil:    &validUntil,
			License:       license,
		}, nil
	}

	result := models.AttemptFailed
	if authority.IsUnreachable(err) {
		result = models.AttemptOffline
	}
	msg := err.Error()

	decision := evaluateGrace(cached, now, s.settings.GracePeriod)

	if err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := s.attempts.WithTx(tx).Append(ctx, &models.ValidationAttempt{
			LicenseKey:   cached.LicenseKey,
			Result:       result,
			ErrorMessage: &msg,
			HardwareID:   s.hardwareID,
			AttemptedAt:  now,
		}); err != nil {
			return err
		}

		switch decision.basis {
		case GraceStarted:
			return s.licenses.WithTx(tx).StartGracePeriod(ctx, now, decision.expires, msg)
		case GraceExpired:
			if cached.IsValid {
				return s.licenses.WithTx(tx).MarkExpired(ctx, ReasonGracePeriodExpired)
			}
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("failed to record failed validation: %w", err)
	}

	logEvent := log.Warn()
	if decision.basis == GraceWithinOfflineWindow {
		logEvent = log.Info()
	}
	logEvent.
		Err(err).
		Str("licenseKey", authority.MaskLicenseKey(cached.LicenseKey)).
		Str("result", string(result)).
		Str("grace", decision.basis.String()).
		Msg("License validation did not succeed")

	if !decision.valid() {
		return &ValidationResult{
			Valid:   false,
			Reason:  ReasonGracePeriodExpired,
			Message: "License validation failed and grace period has expired",
			Basis:   decision.basis,
		}, nil
	}

	out := &ValidationResult{
		Valid:         true,
		InGracePeriod: true,
		License:       cached.LicenseData,
		Basis:         decision.basis,
	}
	expires := decision.expires
	if decision.basis == GraceWithinOfflineWindow {
		out.ValidUntil = &expires
	} else {
		out.GracePeriodExpires = &expires
	}
	return out, nil
}

// SendHeartbeat reports presence to the authority. It never fails the caller
// and never touches validity or grace state.
func (s *LicenseService) SendHeartbeat(ctx context.Context) HeartbeatResult {
	cached, err := s.licenses.Get(ctx)
	if errors.Is(err, models.ErrLicenseNotFound) {
		return HeartbeatResult{Skipped: true}
	}
	if err != nil {
		log.Error().Err(err).Msg("Heartbeat skipped: failed to read cached license")
		return HeartbeatResult{Error: err.Error()}
	}

	var usage authority.UsageMetrics
	if s.usage != nil {
		usage = s.usage.Collect(ctx)
	}

	err = s.authority.Heartbeat(ctx, authority.HeartbeatRequest{
		LicenseKey:     cached.LicenseKey,
		HardwareID:     s.hardwareID,
		InstallationID: s.installationID,
		UsageMetrics:   usage,
		SystemInfo:     s.identity.SystemInfo(ctx),
	})
	if err != nil {
		log.Warn().Err(err).Str("licenseKey", authority.MaskLicenseKey(cached.LicenseKey)).Msg("Heartbeat failed")
		return HeartbeatResult{Error: err.Error()}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.licenses.TouchHeartbeat(ctx, cached.LicenseKey, s.now()); err != nil {
		log.Debug().Err(err).Msg("Heartbeat acknowledged but not recorded")
	}

	log.Info().Str("licenseKey", authority.MaskLicenseKey(cached.LicenseKey)).Msg("Heartbeat sent")
	return HeartbeatResult{Sent: true}
}

// GetStatus validates the license and maps the outcome for display.
func (s *LicenseService) GetStatus(ctx context.Context) (*StatusSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.licenses.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		return &StatusSnapshot{HasLicense: false, Status: StatusNoLicense, Message: "No license activated"}, nil
	}

	validation, err := s.validateLocked(ctx)
	if err != nil {
		return nil, err
	}

	cached, err := s.licenses.Get(ctx)
	if err != nil {
		return nil, err
	}

	if !validation.Valid {
		return &StatusSnapshot{
			HasLicense: true,
			Status:     StatusInvalid,
			LicenseKey: cached.LicenseKey,
			Message:    validation.Message,
			Reason:     validation.Reason,
		}, nil
	}

	data, err := authority.DecodeLicense(cached.LicenseData)
	if err != nil {
		log.Warn().Err(err).Msg("Cached license payload is not readable")
		data = &authority.License{}
	}

	status := data.Status
	if status == "" {
		status = StatusActive
	}

	validUntil := cached.ValidUntil
	return &StatusSnapshot{
		HasLicense:         true,
		Status:             status,
		LicenseKey:         cached.LicenseKey,
		Tier:               data.Tier,
		ExpiresAt:          data.ExpiresAt,
		MaxCameras:         data.MaxCameras,
		MaxUsers:           data.MaxUsers,
		InGracePeriod:      validation.InGracePeriod,
		GracePeriodExpires: validation.GracePeriodExpires,
		ValidUntil:         &validUntil,
		LastValidated:      cached.LastValidatedAt,
	}, nil
}

// RecentAttempts returns the audit log, newest first.
func (s *LicenseService) RecentAttempts(ctx context.Context, limit int) ([]*models.ValidationAttempt, error) {
	switch {
	case limit <= 0:
		limit = defaultAttemptLimit
	case limit > maxAttemptLimit:
		limit = maxAttemptLimit
	}
	return s.attempts.ListRecent(ctx, limit)
}

func (s *LicenseService) recordAttempt(ctx context.Context, licenseKey string, result models.AttemptResult, msg string, at time.Time) {
	if err := s.attempts.Append(ctx, &models.ValidationAttempt{
		LicenseKey:   licenseKey,
		Result:       result,
		ErrorMessage: &msg,
		HardwareID:   s.hardwareID,
		AttemptedAt:  at,
	}); err != nil {
		log.Error().Err(err).Msg("Failed to record validation attempt")
	}
}
