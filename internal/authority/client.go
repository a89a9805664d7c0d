// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package authority talks to the remote licensing authority.
package authority

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const maxResponseSize = 1 << 20

type Client struct {
	httpClient     *http.Client
	baseURL        string
	installationID string
	userAgent      string
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		userAgent:  "foxsight-license-client",
	}
}

// SetInstallationID sets the value sent in X-Installation-ID on every call.
func (c *Client) SetInstallationID(id string) {
	c.installationID = id
}

func (c *Client) SetUserAgent(ua string) {
	c.userAgent = ua
}

func (c *Client) IsClientConfigured() bool {
	return c.baseURL != "" && c.installationID != ""
}

// Activate binds a license key to this installation.
func (c *Client) Activate(ctx context.Context, req ActivateRequest) (*License, error) {
	log.Debug().Str("licenseKey", MaskLicenseKey(req.LicenseKey)).Msg("Activating license with authority")

	env, err := c.post(ctx, "activate", "/licenses/activate", req)
	if err != nil {
		return nil, err
	}

	license, err := DecodeLicense(env.Data)
	if err != nil {
		return nil, err
	}
	if license.LicenseKey == "" {
		return nil, errors.New("activation response is missing licenseKey")
	}

	return license, nil
}

// Validate asks whether the license is still good. A license the authority
// reports as invalid comes back as *RejectedError.
func (c *Client) Validate(ctx context.Context, req ValidateRequest) (*ValidateResult, error) {
	env, err := c.post(ctx, "validate", "/licenses/validate", req)
	if err != nil {
		return nil, err
	}

	var res ValidateResult
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &res); err != nil {
			return nil, errors.Wrap(err, "decode validation response")
		}
	}

	if !res.IsValid {
		return nil, &RejectedError{Op: "validate", StatusCode: http.StatusOK, Message: env.message("license reported invalid")}
	}

	return &res, nil
}

// Heartbeat reports presence and usage.
func (c *Client) Heartbeat(ctx context.Context, req HeartbeatRequest) error {
	_, err := c.post(ctx, "heartbeat", "/licenses/heartbeat", req)
	return err
}

func (c *Client) post(ctx context.Context, op, path string, body any) (*envelope, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s request", op)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrapf(err, "build %s request", op)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if c.installationID != "" {
		req.Header.Set("X-Installation-ID", c.installationID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &UnreachableError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &UnreachableError{Op: op, Err: err}
	}

	var env envelope
	decodeErr := json.Unmarshal(data, &env)

	switch {
	case resp.StatusCode >= 500,
		resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests:
		return nil, &UnreachableError{Op: op, StatusCode: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))}
	case resp.StatusCode >= 400:
		return nil, &RejectedError{Op: op, StatusCode: resp.StatusCode, Message: env.message(http.StatusText(resp.StatusCode))}
	}

	if decodeErr != nil {
		return nil, errors.Wrapf(decodeErr, "decode %s response", op)
	}
	if !env.Success {
		return nil, &RejectedError{Op: op, StatusCode: resp.StatusCode, Message: env.message("request was not successful")}
	}

	return &env, nil
}

// MaskLicenseKey masks a license key for logging (shows first 8 chars + ***)
func MaskLicenseKey(key string) string {
	if len(key) <= 8 {
		return "***"
	}
	return key[:8] + "***"
}
