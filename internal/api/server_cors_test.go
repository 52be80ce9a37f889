// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/autobrr/tempo/internal/domain"
)

func TestCORSPreflight(t *testing.T) {
	tests := []struct {
		name        string
		cfg         domain.Config
		path        string
		origin      string
		method      string
		headers     string
		wantOrigin  string
		wantHeaders []string
	}{
		{
			name:       "preflight bypasses api key",
			cfg:        domain.Config{APIKey: testAPIKey},
			path:       "/api/licenses",
			origin:     "https://player.example.com",
			method:     http.MethodGet,
			wantOrigin: "https://player.example.com",
		},
		{
			name:        "license request headers allowed",
			path:        "/api/licenses",
			origin:      "https://player.example.com",
			method:      http.MethodPost,
			headers:     "content-type,x-api-key,x-requested-with",
			wantOrigin:  "https://player.example.com",
			wantHeaders: []string{"content-type", "x-api-key", "x-requested-with"},
		},
		{
			name:        "event stream resume header allowed",
			path:        "/api/events",
			origin:      "https://player.example.com",
			method:      http.MethodGet,
			headers:     "last-event-id",
			wantOrigin:  "https://player.example.com",
			wantHeaders: []string{"last-event-id"},
		},
		{
			name:       "configured origin allowed",
			cfg:        domain.Config{CORSAllowedOrigins: []string{"https://player.example.com"}},
			path:       "/api/licenses",
			origin:     "https://player.example.com",
			method:     http.MethodDelete,
			wantOrigin: "https://player.example.com",
		},
		{
			name:   "unlisted origin refused",
			cfg:    domain.Config{CORSAllowedOrigins: []string{"https://player.example.com"}},
			path:   "/api/licenses",
			origin: "https://evil.example.com",
			method: http.MethodGet,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(t, newTestDependenciesWithConfig(t, tt.cfg))

			req := httptest.NewRequest(http.MethodOptions, tt.path, nil)
			req.Header.Set("Origin", tt.origin)
			req.Header.Set("Access-Control-Request-Method", tt.method)
			if tt.headers != "" {
				req.Header.Set("Access-Control-Request-Headers", tt.headers)
			}

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantOrigin, rec.Header().Get("Access-Control-Allow-Origin"))
			if tt.wantOrigin == "" {
				return
			}

			assert.Equal(t, http.StatusNoContent, rec.Code)
			assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

			// rs/cors echoes the requested headers in lowercase.
			allowed := strings.ToLower(rec.Header().Get("Access-Control-Allow-Headers"))
			for _, h := range tt.wantHeaders {
				assert.Contains(t, allowed, h)
			}
		})
	}
}
