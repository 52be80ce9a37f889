// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/tempo/internal/domain"
	"github.com/autobrr/tempo/internal/logger"
)

// ConfigStore is the part of the application config the API reads and edits.
type ConfigStore interface {
	Current() domain.Config
	UpdateLogSettings(level, path string, maxSize, maxBackups int) error
}

// ConfigHandler exposes the running configuration.
type ConfigHandler struct {
	cfg ConfigStore
}

// LogSettingsUpdateRequest patches the log settings. Omitted fields keep
// their current value.
type LogSettingsUpdateRequest struct {
	LogLevel      *string `json:"logLevel"`
	LogPath       *string `json:"logPath"`
	LogMaxSize    *int    `json:"logMaxSize"`
	LogMaxBackups *int    `json:"logMaxBackups"`
}

func NewConfigHandler(cfg ConfigStore) *ConfigHandler {
	return &ConfigHandler{cfg: cfg}
}

// RegisterRoutes wires handler routes under /config.
func (h *ConfigHandler) RegisterRoutes(r chi.Router) {
	r.Route("/config", func(r chi.Router) {
		r.Get("/", h.getConfig)
		r.Patch("/log", h.updateLogSettings)
	})
}

func (h *ConfigHandler) getConfig(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, h.cfg.Current().Redacted())
}

func (h *ConfigHandler) updateLogSettings(w http.ResponseWriter, r *http.Request) {
	var req LogSettingsUpdateRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	current := h.cfg.Current()
	level := current.LogLevel
	path := current.LogPath
	maxSize := current.LogMaxSize
	maxBackups := current.LogMaxBackups

	if req.LogLevel != nil {
		level = strings.ToUpper(strings.TrimSpace(*req.LogLevel))
		if !logger.ValidLevel(level) {
			RespondError(w, http.StatusBadRequest, "invalid log level")
			return
		}
	}
	if req.LogPath != nil {
		path = strings.TrimSpace(*req.LogPath)
	}
	if req.LogMaxSize != nil {
		if *req.LogMaxSize < 0 {
			RespondError(w, http.StatusBadRequest, "logMaxSize must not be negative")
			return
		}
		maxSize = *req.LogMaxSize
	}
	if req.LogMaxBackups != nil {
		if *req.LogMaxBackups < 0 {
			RespondError(w, http.StatusBadRequest, "logMaxBackups must not be negative")
			return
		}
		maxBackups = *req.LogMaxBackups
	}

	if err := h.cfg.UpdateLogSettings(level, path, maxSize, maxBackups); err != nil {
		log.Error().Err(err).Msg("Failed to update log settings")
		RespondError(w, http.StatusInternalServerError, "failed to update log settings")
		return
	}

	RespondJSON(w, http.StatusOK, h.cfg.Current().Redacted())
}
