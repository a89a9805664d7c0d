// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package authority

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL+"/api/", 2*time.Second)
	c.SetInstallationID("inst-123")
	return c
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func TestActivate(t *testing.T) {
	var got ActivateRequest
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/licenses/activate", r.URL.Path)
		assert.Equal(t, "inst-123", r.Header.Get("X-Installation-ID"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		writeJSON(w, http.StatusOK, `{"success":true,"data":{
			"licenseKey":"FOXS-1234-5678","tier":"enterprise","maxCameras":64,
			"enabledFeatures":["module.analytics"],"signature":"abc","customField":"kept"}}`)
	})

	license, err := c.Activate(t.Context(), ActivateRequest{
		LicenseKey:          "FOXS-1234-5678",
		HardwareID:          "hw",
		InstallationID:      "inst-123",
		InstallationName:    "Foxsight Central Command VMS",
		InstallationVersion: "1.0.0",
	})
	require.NoError(t, err)

	assert.Equal(t, "FOXS-1234-5678", got.LicenseKey)
	assert.Equal(t, "1.0.0", got.InstallationVersion)

	assert.Equal(t, "FOXS-1234-5678", license.LicenseKey)
	assert.Equal(t, "enterprise", license.Tier)
	require.NotNil(t, license.MaxCameras)
	assert.Equal(t, 64, *license.MaxCameras)
	assert.Nil(t, license.MaxUsers)
	assert.Equal(t, []string{"module.analytics"}, license.EnabledFeatures)
	assert.Equal(t, "abc", license.Signature)
	assert.Contains(t, string(license.Raw), "customField")
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name            string
		status          int
		body            string
		wantUnreachable bool
		wantRejected    bool
		wantMessage     string
	}{
		{
			name:         "explicit_rejection",
			status:       http.StatusOK,
			body:         `{"success":false,"error":{"message":"license revoked"}}`,
			wantRejected: true,
			wantMessage:  "license revoked",
		},
		{
			name:         "client_error",
			status:       http.StatusNotFound,
			body:         `{"success":false,"error":{"message":"unknown license"}}`,
			wantRejected: true,
			wantMessage:  "unknown license",
		},
		{
			name:         "client_error_without_body",
			status:       http.StatusForbidden,
			body:         ``,
			wantRejected: true,
			wantMessage:  "Forbidden",
		},
		{
			name:            "server_error",
			status:          http.StatusBadGateway,
			body:            `<html>bad gateway</html>`,
			wantUnreachable: true,
		},
		{
			name:            "rate_limited",
			status:          http.StatusTooManyRequests,
			body:            `{}`,
			wantUnreachable: true,
		},
		{
			name:   "garbled_success",
			status: http.StatusOK,
			body:   `not json`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, tt.body)
			})

			_, err := c.Activate(t.Context(), ActivateRequest{LicenseKey: "K"})
			require.Error(t, err)
			assert.Equal(t, tt.wantUnreachable, IsUnreachable(err), err.Error())
			assert.Equal(t, tt.wantRejected, IsRejected(err), err.Error())
			if tt.wantMessage != "" {
				assert.Contains(t, err.Error(), tt.wantMessage)
			}
		})
	}
}

func TestTransportFailuresAreUnreachable(t *testing.T) {
	t.Run("connection_refused", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		c := NewClient(url, time.Second)
		err := c.Heartbeat(t.Context(), HeartbeatRequest{LicenseKey: "K"})
		require.Error(t, err)
		assert.True(t, IsUnreachable(err))
	})

	t.Run("timeout", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-release
		}))
		defer srv.Close()
		defer close(release)

		c := NewClient(srv.URL, 50*time.Millisecond)
		_, err := c.Validate(t.Context(), ValidateRequest{LicenseKey: "K"})
		require.Error(t, err)
		assert.True(t, IsUnreachable(err))
	})

	t.Run("cancelled_context", func(t *testing.T) {
		c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, `{"success":true}`)
		})
		ctx, cancel := context.WithCancel(t.Context())
		cancel()

		_, err := c.Validate(ctx, ValidateRequest{LicenseKey: "K"})
		require.Error(t, err)
		assert.True(t, IsUnreachable(err))
	})
}

func TestValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/licenses/validate", r.URL.Path)
			var req ValidateRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "hw-1", req.HardwareID)
			writeJSON(w, http.StatusOK, `{"success":true,"data":{"isValid":true,"license":{"tier":"pro"}}}`)
		})

		res, err := c.Validate(t.Context(), ValidateRequest{LicenseKey: "K", HardwareID: "hw-1"})
		require.NoError(t, err)
		assert.True(t, res.IsValid)
		assert.JSONEq(t, `{"tier":"pro"}`, string(res.License))
	})

	t.Run("reported_invalid", func(t *testing.T) {
		c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, `{"success":true,"data":{"isValid":false}}`)
		})

		_, err := c.Validate(t.Context(), ValidateRequest{LicenseKey: "K"})
		require.Error(t, err)
		assert.True(t, IsRejected(err))
	})
}

func TestHeartbeatPayload(t *testing.T) {
	var body map[string]any
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/licenses/heartbeat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		writeJSON(w, http.StatusOK, `{"success":true}`)
	})

	err := c.Heartbeat(t.Context(), HeartbeatRequest{
		LicenseKey:     "K",
		HardwareID:     "hw",
		InstallationID: "inst-123",
		UsageMetrics:   UsageMetrics{CamerasInUse: 3, StorageUsedGB: 1.5},
	})
	require.NoError(t, err)

	usage, ok := body["usageMetrics"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 3.0, usage["camerasInUse"])
	assert.Equal(t, 1.5, usage["storageUsedGb"])
	assert.Contains(t, body["systemInfo"], "os_platform")
}

func TestMaskLicenseKey(t *testing.T) {
	assert.Equal(t, "***", MaskLicenseKey("short"))
	assert.Equal(t, "FOXS-123***", MaskLicenseKey("FOXS-1234-5678"))
}

func TestIsClientConfigured(t *testing.T) {
	c := NewClient("http://localhost:4000/api", time.Second)
	assert.False(t, c.IsClientConfigured())

	c.SetInstallationID("inst")
	assert.True(t, c.IsClientConfigured())
}
