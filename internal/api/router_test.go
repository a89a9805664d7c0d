// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/foxsight/license-client/internal/config"
	"github.com/foxsight/license-client/internal/domain"
	"github.com/foxsight/license-client/internal/metrics"
	"github.com/foxsight/license-client/internal/models"
	"github.com/foxsight/license-client/internal/services"
	"github.com/foxsight/license-client/internal/web/swagger"
)

type stubEngine struct {
	activations int
}

func (s *stubEngine) Activate(context.Context, string) (*services.ActivationResult, error) {
	s.activations++
	return &services.ActivationResult{Success: true, Message: "License activated successfully"}, nil
}

func (s *stubEngine) Validate(context.Context) (*services.ValidationResult, error) {
	return &services.ValidationResult{Valid: false, Reason: services.ReasonNoLicense}, nil
}

func (s *stubEngine) GetStatus(context.Context) (*services.StatusSnapshot, error) {
	return &services.StatusSnapshot{Status: services.StatusNoLicense}, nil
}

func (s *stubEngine) IsFeatureAvailable(context.Context, string) (bool, error) {
	return true, nil
}

func (s *stubEngine) SendHeartbeat(context.Context) services.HeartbeatResult {
	return services.HeartbeatResult{Skipped: true}
}

func (s *stubEngine) RecentAttempts(context.Context, int) ([]*models.ValidationAttempt, error) {
	return nil, nil
}

func (s *stubEngine) ListFeatureFlags(context.Context) ([]*models.FeatureFlag, error) {
	return nil, nil
}

func (s *stubEngine) SetFeatureEnabled(context.Context, string, bool) (*models.FeatureFlag, error) {
	return nil, models.ErrFeatureFlagNotFound
}

func (s *stubEngine) InstallationID() string { return "install-1" }
func (s *stubEngine) HardwareID() string     { return "hw-1" }

func newTestRouter(t *testing.T, cfg domain.Config) (chi.Router, *stubEngine) {
	t.Helper()

	engine := &stubEngine{}
	router := NewRouter(&Dependencies{
		Config:         &config.AppConfig{Config: &cfg},
		License:        engine,
		Features:       engine,
		Identity:       engine,
		MetricsManager: metrics.NewManager(nil),
		Version:        "1.2.3",
	})
	return router, engine
}

// TestAllEndpointsDocumented ensures every API route in router.go is documented in OpenAPI spec
func TestAllEndpointsDocumented(t *testing.T) {
	router, _ := newTestRouter(t, domain.Config{MetricsEnabled: true})

	var actualRoutes []Route
	walkFunc := func(method string, path string, handler http.Handler, middlewares ...func(http.Handler) http.Handler) error {
		actualRoutes = append(actualRoutes, Route{Method: method, Path: path})
		return nil
	}
	require.NoError(t, chi.Walk(router, walkFunc))

	spec, err := swagger.GetOpenAPISpec()
	require.NoError(t, err)

	var openapiSpec map[string]any
	require.NoError(t, yaml.Unmarshal(spec, &openapiSpec))

	documentedPaths := make(map[string]map[string]bool)
	if paths, ok := openapiSpec["paths"].(map[string]any); ok {
		for path, pathItem := range paths {
			documentedPaths[path] = make(map[string]bool)
			if methods, ok := pathItem.(map[string]any); ok {
				for method := range methods {
					if method == "get" || method == "post" || method == "put" || method == "delete" || method == "patch" {
						documentedPaths[path][strings.ToUpper(method)] = true
					}
				}
			}
		}
	}

	var undocumented []string
	apiRoutes := 0
	for _, route := range actualRoutes {
		if !strings.HasPrefix(route.Path, "/api/") {
			continue
		}
		if route.Path == "/api/openapi.yaml" || route.Path == "/api/openapi.json" {
			continue
		}
		apiRoutes++

		openapiPath := strings.TrimSuffix(route.Path, "/")
		if !documentedPaths[openapiPath][route.Method] {
			undocumented = append(undocumented, route.Method+" "+route.Path)
		}
	}

	assert.Empty(t, undocumented, "Please add these endpoints to internal/web/swagger/openapi.yaml")
	assert.Equal(t, 8, apiRoutes)
	assert.Equal(t, apiRoutes, countDocumentedEndpoints(documentedPaths), "OpenAPI documents routes the router does not serve")
}

// Route represents a single route
type Route struct {
	Method string
	Path   string
}

func countDocumentedEndpoints(paths map[string]map[string]bool) int {
	count := 0
	for _, methods := range paths {
		count += len(methods)
	}
	return count
}

func TestAdminRoutesRequireAPIKey(t *testing.T) {
	router, engine := newTestRouter(t, domain.Config{AdminAPIKey: "s3cret"})

	body := `{"licenseKey":"FOX-1234-5678"}`

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/license/activate", strings.NewReader(body)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 0, engine.activations)

	req := httptest.NewRequest(http.MethodPost, "/api/license/activate", strings.NewReader(body))
	req.Header.Set("X-API-Key", "s3cret")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, engine.activations)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/features/module.analytics", strings.NewReader(`{"systemEnabled":false}`)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// read paths stay open for the gateway
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/license/feature/check", strings.NewReader(`{"featureKey":"module.live_view"}`)))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealth(t *testing.T) {
	router, _ := newTestRouter(t, domain.Config{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, map[string]string{
		"status":         "healthy",
		"service":        "license-client",
		"version":        "1.2.3",
		"installationId": "install-1",
		"hardwareId":     "hw-1",
	}, body)
}

func TestMetricsRouteFollowsConfig(t *testing.T) {
	disabled, _ := newTestRouter(t, domain.Config{})
	rec := httptest.NewRecorder()
	disabled.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	enabled, _ := newTestRouter(t, domain.Config{MetricsEnabled: true})
	rec = httptest.NewRecorder()
	enabled.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBaseURLMount(t *testing.T) {
	router, _ := newTestRouter(t, domain.Config{BaseURL: "/license/"})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/license/api/license/status", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/license/status", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
