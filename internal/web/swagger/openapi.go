// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package swagger serves the OpenAPI description of the HTTP API.
package swagger

import (
	_ "embed"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

//go:embed openapi.yaml
var openapiYAML []byte

var (
	jsonOnce sync.Once
	jsonSpec []byte
	jsonErr  error
)

// GetOpenAPISpec returns the embedded OpenAPI document as YAML.
func GetOpenAPISpec() ([]byte, error) {
	return openapiYAML, nil
}

// GetOpenAPISpecJSON returns the embedded OpenAPI document converted to JSON.
func GetOpenAPISpecJSON() ([]byte, error) {
	jsonOnce.Do(func() {
		var spec map[string]any
		if jsonErr = yaml.Unmarshal(openapiYAML, &spec); jsonErr != nil {
			return
		}
		jsonSpec, jsonErr = json.Marshal(spec)
	})
	return jsonSpec, jsonErr
}

// RegisterRoutes serves the document at /openapi.yaml and /openapi.json.
func RegisterRoutes(r chi.Router) {
	r.Get("/openapi.yaml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write(openapiYAML)
	})

	r.Get("/openapi.json", func(w http.ResponseWriter, _ *http.Request) {
		data, err := GetOpenAPISpecJSON()
		if err != nil {
			log.Error().Err(err).Msg("Failed to convert OpenAPI spec to JSON")
			http.Error(w, "failed to load OpenAPI spec", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(data)
	})
}
