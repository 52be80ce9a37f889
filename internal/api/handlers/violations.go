// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/autobrr/tempo/internal/models"
)

// ViolationService exposes the in-memory violation log.
type ViolationService interface {
	GetViolations(kind *models.ViolationType) []models.Violation
	ClearOldViolations(maxAge time.Duration) int
}

type ViolationsHandler struct {
	service ViolationService
}

func NewViolationsHandler(service ViolationService) *ViolationsHandler {
	return &ViolationsHandler{service: service}
}

// PruneResponse reports how many violations were dropped.
type PruneResponse struct {
	Removed int `json:"removed"`
}

func (h *ViolationsHandler) Routes(r chi.Router) {
	r.Get("/", h.ListViolations)
	r.Delete("/", h.PruneViolations)
}

// ListViolations handles GET /api/violations?type=<kind>
func (h *ViolationsHandler) ListViolations(w http.ResponseWriter, r *http.Request) {
	var kind *models.ViolationType

	if raw := strings.TrimSpace(r.URL.Query().Get("type")); raw != "" {
		t := models.ViolationType(raw)
		if !t.Valid() {
			RespondError(w, http.StatusBadRequest, "unknown violation type")
			return
		}
		kind = &t
	}

	violations := h.service.GetViolations(kind)
	if violations == nil {
		violations = []models.Violation{}
	}

	RespondJSON(w, http.StatusOK, violations)
}

// PruneViolations handles DELETE /api/violations?maxAge=<duration>. maxAge
// defaults to zero, which drops everything recorded before now.
func (h *ViolationsHandler) PruneViolations(w http.ResponseWriter, r *http.Request) {
	maxAge, ok := parseDurationQuery(w, r, "maxAge")
	if !ok {
		return
	}

	removed := h.service.ClearOldViolations(maxAge)
	RespondJSON(w, http.StatusOK, PruneResponse{Removed: removed})
}
