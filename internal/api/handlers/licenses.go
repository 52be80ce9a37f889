// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/tempo/internal/models"
	"github.com/autobrr/tempo/internal/services/license"
)

// LicenseService is the part of the license manager the API drives.
type LicenseService interface {
	RequestLicense(ctx context.Context, req models.LicenseRequest) (models.LicenseResponse, error)
	ValidateLicense(trackID string, pctx models.PlaybackContext) (bool, *models.Violation)
	RecordPlay(ctx context.Context, trackID string, info models.PlayInfo) error
	RevokeLicense(ctx context.Context, trackID, reason string) error
	ClearLicenses(ctx context.Context) error
	GetLicense(trackID string) (*models.License, bool)
	GetAllLicenses() []models.License
}

type LicensesHandler struct {
	service LicenseService
}

func NewLicensesHandler(service LicenseService) *LicensesHandler {
	return &LicensesHandler{service: service}
}

// ValidateResponse is the playback decision for a track.
type ValidateResponse struct {
	Violation *models.Violation `json:"violation,omitempty"`
	Valid     bool              `json:"valid"`
}

// RevokeRequest carries the reason stored on a revoked license.
type RevokeRequest struct {
	Reason string `json:"reason"`
}

// ClearResponse reports how many licenses a bulk clear removed.
type ClearResponse struct {
	Removed int `json:"removed"`
}

func (h *LicensesHandler) Routes(r chi.Router) {
	r.Get("/", h.ListLicenses)
	r.Post("/", h.RequestLicense)
	r.Delete("/", h.ClearLicenses)

	r.Route("/{trackID}", func(r chi.Router) {
		r.Get("/", h.GetLicense)
		r.Post("/validate", h.ValidateLicense)
		r.Post("/plays", h.RecordPlay)
		r.Post("/revoke", h.RevokeLicense)
	})
}

func (h *LicensesHandler) ListLicenses(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, h.service.GetAllLicenses())
}

func (h *LicensesHandler) GetLicense(w http.ResponseWriter, r *http.Request) {
	trackID, ok := ParseTrackID(w, r)
	if !ok {
		return
	}

	lic, found := h.service.GetLicense(trackID)
	if !found {
		RespondError(w, http.StatusNotFound, "license not found")
		return
	}

	RespondJSON(w, http.StatusOK, lic)
}

func (h *LicensesHandler) RequestLicense(w http.ResponseWriter, r *http.Request) {
	var req models.LicenseRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	resp, err := h.service.RequestLicense(r.Context(), req)
	switch {
	case errors.Is(err, license.ErrInvalidRequest):
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, license.ErrManagerClosed):
		RespondError(w, http.StatusServiceUnavailable, "license manager is shutting down")
		return
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		log.Debug().Err(err).Str("trackId", req.TrackID).Msg("License request abandoned by client")
		RespondError(w, http.StatusServiceUnavailable, "request cancelled")
		return
	case err != nil:
		log.Error().Err(err).Str("trackId", req.TrackID).Msg("License request failed")
		RespondError(w, http.StatusInternalServerError, "failed to request license")
		return
	}

	if !resp.Success {
		RespondJSON(w, http.StatusBadGateway, resp)
		return
	}

	RespondJSON(w, http.StatusOK, resp)
}

func (h *LicensesHandler) ValidateLicense(w http.ResponseWriter, r *http.Request) {
	trackID, ok := ParseTrackID(w, r)
	if !ok {
		return
	}

	var pctx models.PlaybackContext
	if !DecodeJSONOptional(w, r, &pctx) {
		return
	}

	valid, violation := h.service.ValidateLicense(trackID, pctx)
	RespondJSON(w, http.StatusOK, ValidateResponse{Valid: valid, Violation: violation})
}

func (h *LicensesHandler) RecordPlay(w http.ResponseWriter, r *http.Request) {
	trackID, ok := ParseTrackID(w, r)
	if !ok {
		return
	}

	var info models.PlayInfo
	if !DecodeJSONOptional(w, r, &info) {
		return
	}

	if err := h.service.RecordPlay(r.Context(), trackID, info); err != nil {
		respondLicenseError(w, err, trackID, "play recorded but not persisted")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *LicensesHandler) RevokeLicense(w http.ResponseWriter, r *http.Request) {
	trackID, ok := ParseTrackID(w, r)
	if !ok {
		return
	}

	var req RevokeRequest
	if !DecodeJSONOptional(w, r, &req) {
		return
	}

	if err := h.service.RevokeLicense(r.Context(), trackID, strings.TrimSpace(req.Reason)); err != nil {
		respondLicenseError(w, err, trackID, "license revoked but not persisted")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *LicensesHandler) ClearLicenses(w http.ResponseWriter, r *http.Request) {
	removed := len(h.service.GetAllLicenses())

	if err := h.service.ClearLicenses(r.Context()); err != nil {
		respondLicenseError(w, err, "", "licenses cleared but not persisted")
		return
	}

	RespondJSON(w, http.StatusOK, ClearResponse{Removed: removed})
}
