// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: MIT

package swagger

import (
	_ "embed"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

//go:embed openapi.yaml
var openapiYAML []byte

type Handler struct {
	spec    map[string]any
	baseURL string
}

func NewHandler(baseURL string) (*Handler, error) {
	var spec map[string]any
	if err := yaml.Unmarshal(openapiYAML, &spec); err != nil {
		return nil, err
	}

	return &Handler{
		spec:    spec,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}, nil
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/openapi.yaml", h.ServeOpenAPIYAML)
	r.Get("/api/openapi.json", h.ServeOpenAPISpec)
}

func GetOpenAPISpec() ([]byte, error) {
	return openapiYAML, nil
}

func (h *Handler) ServeOpenAPIYAML(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	if _, err := w.Write(openapiYAML); err != nil {
		log.Debug().Err(err).Msg("Failed to write OpenAPI spec")
	}
}

func (h *Handler) ServeOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	spec := make(map[string]any, len(h.spec))
	for k, v := range h.spec {
		spec[k] = v
	}

	if h.baseURL != "" {
		scheme := "http"
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			scheme = "https"
		}

		servers := []any{
			map[string]any{
				"url":         scheme + "://" + r.Host + h.baseURL,
				"description": "Current server with base URL",
			},
		}
		if existing, ok := spec["servers"].([]any); ok {
			servers = append(servers, existing...)
		}
		spec["servers"] = servers
	}

	if err := json.NewEncoder(w).Encode(spec); err != nil {
		log.Error().Err(err).Msg("Failed to encode OpenAPI spec")
	}
}
