// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/tempo/internal/domain"
)

func TestAPIKeyFromQuery(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		target     string
		header     string
		wantStatus int
	}{
		{name: "query key accepted", target: "/metrics?apikey=query-secret", wantStatus: http.StatusOK},
		{name: "wrong query key rejected", target: "/metrics?apikey=wrong", wantStatus: http.StatusUnauthorized},
		{name: "empty query key rejected", target: "/metrics?apikey=", wantStatus: http.StatusUnauthorized},
		{name: "header wins over query", target: "/api/events?apikey=wrong", header: "query-secret", wantStatus: http.StatusOK},
		{name: "missing key rejected", target: "/api/events", wantStatus: http.StatusUnauthorized},
	}

	cfg := &domain.Config{APIKey: "query-secret"}
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := APIKeyFromQuery(APIKeyQueryParam)(RequireAPIKey(cfg)(ok))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set(APIKeyHeader, tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestAPIKeyFromQueryStripsParam(t *testing.T) {
	t.Parallel()

	var (
		seenHeader string
		seenQuery  string
	)
	handler := APIKeyFromQuery(APIKeyQueryParam)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenHeader = r.Header.Get(APIKeyHeader)
		seenQuery = r.URL.RawQuery
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/events?apikey=secret&lastEventId=4", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	require.Equal(t, "secret", seenHeader)
	assert.Equal(t, "lastEventId=4", seenQuery)
	assert.NotContains(t, req.URL.String(), "secret")
}
