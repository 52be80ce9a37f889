// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/tempo/internal/api/handlers"
	"github.com/autobrr/tempo/internal/api/middleware"
	"github.com/autobrr/tempo/internal/domain"
	"github.com/autobrr/tempo/internal/services/license"
)

const remoteDetectTimeout = 2 * time.Second

// remoteServer sends mutations to a running server so they go through its
// in-memory license table instead of racing it on the store.
type remoteServer struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// detectServer returns a client for a server answering on the configured
// address, or nil when none is running.
func detectServer(ctx context.Context, cfg domain.Config) *remoteServer {
	if cfg.Port <= 0 {
		return nil
	}

	host := strings.TrimSpace(cfg.Host)
	switch host {
	case "", "0.0.0.0", "::", "[::]":
		host = "127.0.0.1"
	}

	base := "http://" + net.JoinHostPort(strings.Trim(host, "[]"), strconv.Itoa(cfg.Port))
	if p := strings.Trim(strings.TrimSpace(cfg.BaseURL), "/"); p != "" {
		base += "/" + p
	}

	r := &remoteServer{
		baseURL: base,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: 10 * time.Second},
	}

	detectCtx, cancel := context.WithTimeout(ctx, remoteDetectTimeout)
	defer cancel()

	var status struct {
		Status string `json:"status"`
	}
	if err := r.do(detectCtx, http.MethodGet, "/health/liveness", nil, &status); err != nil || status.Status == "" {
		log.Debug().Err(err).Str("url", base).Msg("No running server detected")
		return nil
	}

	log.Debug().Str("url", base).Str("status", status.Status).Msg("Running server detected")
	return r
}

func (r *remoteServer) RevokeLicense(ctx context.Context, trackID, reason string) error {
	body := handlers.RevokeRequest{Reason: reason}
	return r.do(ctx, http.MethodPost, "/api/licenses/"+url.PathEscape(trackID)+"/revoke", body, nil)
}

func (r *remoteServer) ClearLicenses(ctx context.Context) (int, error) {
	var resp handlers.ClearResponse
	err := r.do(ctx, http.MethodDelete, "/api/licenses", nil, &resp)
	return resp.Removed, err
}

func (r *remoteServer) PruneViolations(ctx context.Context, olderThan time.Duration) (int, error) {
	var resp handlers.PruneResponse
	err := r.do(ctx, http.MethodDelete, "/api/violations?maxAge="+url.QueryEscape(olderThan.String()), nil, &resp)
	return resp.Removed, err
}

// do performs one API call and decodes a JSON answer into out.
func (r *remoteServer) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.apiKey != "" {
		req.Header.Set(middleware.APIKeyHeader, r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr handlers.ErrorResponse
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&apiErr)
		return remoteError(resp.StatusCode, apiErr.Error)
	}

	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errors.Wrap(err, "could not decode server response")
		}
	}
	return nil
}

func remoteError(status int, message string) error {
	if message == "" {
		message = http.StatusText(status)
	}
	switch status {
	case http.StatusNotFound:
		return errors.Wrap(license.ErrLicenseNotFound, message)
	case http.StatusUnauthorized:
		return errors.New("server rejected the configured apiKey")
	}
	return fmt.Errorf("server answered %d: %s", status, message)
}
