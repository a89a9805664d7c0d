// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/foxsight/license-client/internal/api"
	"github.com/foxsight/license-client/internal/authority"
	"github.com/foxsight/license-client/internal/config"
	"github.com/foxsight/license-client/internal/database"
	"github.com/foxsight/license-client/internal/hardware"
	"github.com/foxsight/license-client/internal/metrics"
	"github.com/foxsight/license-client/internal/scheduler"
	"github.com/foxsight/license-client/internal/services"
)

type Application struct {
	version   string
	configDir string
	dataDir   string
	logPath   string
}

func NewApplication(version, configDir, dataDir, logPath string) *Application {
	return &Application{
		version:   version,
		configDir: configDir,
		dataDir:   dataDir,
		logPath:   logPath,
	}
}

// runtime is the wired license engine shared by the server and the one-shot
// commands.
type runtime struct {
	cfg     *config.AppConfig
	db      *database.DB
	license *services.LicenseService
}

func (rt *runtime) Close() {
	rt.license.Close()
	if err := rt.db.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close database")
	}
}

func (app *Application) open(ctx context.Context) (*runtime, error) {
	cfg, err := config.New(app.configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize configuration: %w", err)
	}

	if app.dataDir != "" {
		cfg.SetDataDir(app.dataDir)
	}
	if app.logPath != "" {
		cfg.Config.LogPath = app.logPath
	}
	cfg.ApplyLogConfig()

	db, err := database.New(cfg.GetDatabasePath())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	lc := cfg.Config.License

	client := authority.NewClient(lc.APIURL, lc.Timeout())
	client.SetUserAgent(fmt.Sprintf("foxsight-license-client/%s", app.version))

	license, err := services.NewLicenseService(ctx, db, client, hardware.NewProvider(), services.SettingsFromConfig(lc))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize license service: %w", err)
	}
	client.SetInstallationID(license.InstallationID())
	license.SetUsageCollector(services.NewDiskUsageCollector(lc.RecordingsPath))

	return &runtime{cfg: cfg, db: db, license: license}, nil
}

func (app *Application) runServer() error {
	log.Info().Str("version", app.version).Msg("Starting license-client")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := app.open(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	cfg := rt.cfg
	cfg.Watch()

	lc := cfg.Config.License
	sched := scheduler.New(lc.HeartbeatInterval(), lc.ValidationInterval())
	rt.license.SetHeartbeatArmer(sched)

	hasLicense, err := rt.license.HasLicense(ctx)
	if err != nil {
		return fmt.Errorf("failed to read cached license: %w", err)
	}
	if hasLicense {
		sched.Arm()
	} else {
		log.Warn().Msg("No license cached, only core features are available until activation")
	}

	var metricsManager *metrics.Manager
	if cfg.Config.MetricsEnabled {
		metricsManager = metrics.NewManager(rt.license)
		log.Info().Msg("Prometheus metrics enabled at /metrics endpoint")
	}

	router := api.NewRouter(&api.Dependencies{
		Config:         cfg,
		License:        rt.license,
		Features:       rt.license,
		Identity:       rt.license,
		MetricsManager: metricsManager,
		Version:        app.version,
	})

	readTimeout, writeTimeout, idleTimeout := serverTimeouts(
		cfg.Config.HTTPTimeouts.ReadTimeout,
		cfg.Config.HTTPTimeouts.WriteTimeout,
		cfg.Config.HTTPTimeouts.IdleTimeout,
	)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Config.Host, cfg.Config.Port),
		Handler:      router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	schedDone := make(chan error, 1)
	go func() {
		schedDone <- sched.Run(ctx, scheduler.Jobs{
			Heartbeat: func(ctx context.Context) {
				rt.license.SendHeartbeat(ctx)
			},
			Validate: func(ctx context.Context) {
				if _, err := rt.license.Validate(ctx); err != nil {
					log.Error().Err(err).Msg("Scheduled license validation failed")
				}
			},
		})
	}()

	serveErr := make(chan error, 1)
	go func() {
		log.Info().
			Str("address", srv.Addr).
			Dur("readTimeout", readTimeout).
			Dur("writeTimeout", writeTimeout).
			Dur("idleTimeout", idleTimeout).
			Msg("Starting HTTP server")
		if cfg.Config.BaseURL != "" {
			log.Info().Str("baseURL", cfg.Config.BaseURL).Msg("Serving under base URL")
		}

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down server...")
	case err := <-serveErr:
		stop()
		<-schedDone
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	if err := <-schedDone; err != nil {
		log.Error().Err(err).Msg("Scheduler stopped with error")
	}

	log.Info().Msg("Server stopped")
	return nil
}
