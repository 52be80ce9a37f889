// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/tempo/internal/services/license"
)

func TestRespondJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		status     int
		data       any
		wantStatus int
		wantBody   string
	}{
		{
			name:       "success with data",
			status:     http.StatusOK,
			data:       map[string]string{"message": "hello"},
			wantStatus: http.StatusOK,
			wantBody:   `{"message":"hello"}`,
		},
		{
			name:       "nil data",
			status:     http.StatusNoContent,
			data:       nil,
			wantStatus: http.StatusNoContent,
			wantBody:   "",
		},
		{
			name:       "error status with data",
			status:     http.StatusBadRequest,
			data:       ErrorResponse{Error: "bad request"},
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"error":"bad request"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := httptest.NewRecorder()
			RespondJSON(rec, tt.status, tt.data)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.Equal(t, tt.wantBody, strings.TrimSpace(rec.Body.String()))
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	t.Parallel()

	type payload struct {
		Reason string `json:"reason"`
	}

	tests := []struct {
		name     string
		body     string
		optional bool
		wantOK   bool
		want     string
	}{
		{name: "valid body", body: `{"reason":"fraud"}`, wantOK: true, want: "fraud"},
		{name: "invalid body", body: `{"reason":`, wantOK: false},
		{name: "empty body required", body: "", wantOK: false},
		{name: "empty body optional", body: "", optional: true, wantOK: true},
		{name: "invalid body optional", body: `nope`, optional: true, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()

			var dest payload
			var ok bool
			if tt.optional {
				ok = DecodeJSONOptional(rec, req, &dest)
			} else {
				ok = DecodeJSON(rec, req, &dest)
			}

			require.Equal(t, tt.wantOK, ok)
			if !ok {
				assert.Equal(t, http.StatusBadRequest, rec.Code)
				assert.Contains(t, rec.Body.String(), "Invalid request body")
				return
			}
			assert.Equal(t, tt.want, dest.Reason)
		})
	}
}

func TestParseTrackID(t *testing.T) {
	t.Parallel()

	r := chi.NewRouter()
	r.Get("/tracks/{trackID}", func(w http.ResponseWriter, r *http.Request) {
		trackID, ok := ParseTrackID(w, r)
		if !ok {
			return
		}
		RespondJSON(w, http.StatusOK, map[string]string{"trackId": trackID})
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tracks/%20t-1%20", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"trackId":"t-1"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tracks/%20", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Track ID is required")
}

func TestDecodeJSONRejectsOversizedBody(t *testing.T) {
	t.Parallel()

	body := `{"reason":"` + strings.Repeat("x", maxBodyBytes) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	rec := httptest.NewRecorder()

	var dest struct {
		Reason string `json:"reason"`
	}
	require.False(t, DecodeJSONOptional(rec, req, &dest))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestParseTrackIDTooLong(t *testing.T) {
	t.Parallel()

	r := chi.NewRouter()
	r.Get("/tracks/{trackID}", func(w http.ResponseWriter, r *http.Request) {
		if _, ok := ParseTrackID(w, r); ok {
			w.WriteHeader(http.StatusOK)
		}
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tracks/"+strings.Repeat("a", maxTrackIDLength+1), nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "too long")
}

func TestRespondLicenseError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{name: "not found", err: license.ErrLicenseNotFound, wantStatus: http.StatusNotFound, wantBody: "license not found"},
		{name: "persistence", err: &license.PersistenceError{Op: "save", Err: errors.New("disk full")}, wantStatus: http.StatusInternalServerError, wantBody: "not persisted"},
		{name: "unexpected", err: errors.New("boom"), wantStatus: http.StatusInternalServerError, wantBody: "internal error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := httptest.NewRecorder()
			respondLicenseError(rec, tt.err, "t-1", "play recorded but not persisted")
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantBody)
		})
	}
}
