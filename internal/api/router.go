package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/foxsight/license-client/internal/api/handlers"
	apimiddleware "github.com/foxsight/license-client/internal/api/middleware"
	"github.com/foxsight/license-client/internal/config"
	"github.com/foxsight/license-client/internal/metrics"
	"github.com/foxsight/license-client/internal/web/swagger"
)

// Dependencies holds all the dependencies needed for the API
type Dependencies struct {
	Config         *config.AppConfig
	License        handlers.LicenseEngine
	Features       handlers.FeatureRegistry
	Identity       handlers.InstallationIdentity
	MetricsManager *metrics.Manager
	Version        string
}

// NewRouter creates and configures the main application router
func NewRouter(deps *Dependencies) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(apimiddleware.HTTPLogger)
	r.Use(middleware.Recoverer)

	cfg := deps.Config.Config
	requireKey := apimiddleware.RequireAPIKey(cfg.AdminAPIKey)

	licenseHandler := handlers.NewLicenseHandler(deps.License)
	featuresHandler := handlers.NewFeaturesHandler(deps.Features)
	healthHandler := handlers.NewHealthHandler(deps.Identity, deps.Version)

	r.Route("/api", func(r chi.Router) {
		r.Route("/license", func(r chi.Router) {
			r.With(requireKey).Post("/activate", licenseHandler.Activate)
			r.Get("/status", licenseHandler.Status)
			r.Post("/validate", licenseHandler.Validate)
			r.Post("/feature/check", licenseHandler.CheckFeature)
			r.Post("/heartbeat", licenseHandler.Heartbeat)
			r.Get("/attempts", licenseHandler.Attempts)
		})

		r.Route("/features", func(r chi.Router) {
			r.Get("/", featuresHandler.ListFeatures)
			r.With(requireKey).Put("/{featureKey}", featuresHandler.UpdateFeature)
		})
	})

	if swaggerHandler, err := swagger.NewHandler(cfg.BaseURL); err != nil {
		log.Error().Err(err).Msg("Failed to load OpenAPI spec")
	} else {
		swaggerHandler.RegisterRoutes(r)
	}

	r.Get("/health", healthHandler.Health)

	if cfg.MetricsEnabled && deps.MetricsManager != nil {
		r.Get("/metrics", handlers.NewMetricsHandler(deps.MetricsManager).ServeMetrics)
	}

	base := strings.TrimSuffix(cfg.BaseURL, "/")
	if base == "" {
		return r
	}

	root := chi.NewRouter()
	root.Mount(base, r)
	root.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, base+"/", http.StatusMovedPermanently)
	})
	return root
}
