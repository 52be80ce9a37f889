// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/tempo/internal/services/license"
)

const (
	// maxBodyBytes bounds request bodies accepted by the API.
	maxBodyBytes = 1 << 20

	// maxTrackIDLength matches the longest key the store backends accept
	// comfortably once prefixed.
	maxTrackIDLength = 256
)

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// RespondJSON sends a JSON response
func RespondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Error().Err(err).Msg("Failed to encode JSON response")
		}
	}
}

// RespondError sends an error response
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, ErrorResponse{
		Error: message,
	})
}

// DecodeJSON decodes a required request body into dest.
// Returns false if decoding fails (error already sent to client).
func DecodeJSON[T any](w http.ResponseWriter, r *http.Request, dest *T) bool {
	return decodeBody(w, r, dest, false)
}

// DecodeJSONOptional is DecodeJSON for endpoints where the body may be
// omitted. An empty body leaves dest untouched.
func DecodeJSONOptional[T any](w http.ResponseWriter, r *http.Request, dest *T) bool {
	return decodeBody(w, r, dest, true)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dest any, optional bool) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dest)
	if err == nil || (optional && errors.Is(err, io.EOF)) {
		return true
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		RespondError(w, http.StatusRequestEntityTooLarge, "Request body too large")
		return false
	}

	RespondError(w, http.StatusBadRequest, "Invalid request body")
	return false
}

// ParseTrackID extracts the trackID URL parameter, trimmed of whitespace.
// Returns false when it is missing or too long (error already sent).
func ParseTrackID(w http.ResponseWriter, r *http.Request) (string, bool) {
	trackID := strings.TrimSpace(chi.URLParam(r, "trackID"))
	switch {
	case trackID == "":
		RespondError(w, http.StatusBadRequest, "Track ID is required")
		return "", false
	case len(trackID) > maxTrackIDLength:
		RespondError(w, http.StatusBadRequest, "Track ID is too long")
		return "", false
	}
	return trackID, true
}

// parseDurationQuery reads a non-negative Go duration from the query string.
// A missing parameter yields zero.
func parseDurationQuery(w http.ResponseWriter, r *http.Request, name string) (time.Duration, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, true
	}

	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		RespondError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return d, true
}

// respondLicenseError maps errors from license mutations onto status codes.
// persistMessage is used when the change was applied in memory but the store
// write failed.
func respondLicenseError(w http.ResponseWriter, err error, trackID, persistMessage string) {
	var perr *license.PersistenceError
	switch {
	case errors.Is(err, license.ErrLicenseNotFound):
		RespondError(w, http.StatusNotFound, "license not found")
	case errors.As(err, &perr):
		RespondError(w, http.StatusInternalServerError, persistMessage)
	default:
		log.Error().Err(err).Str("trackId", trackID).Msg("License mutation failed")
		RespondError(w, http.StatusInternalServerError, "internal error")
	}
}
