// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/CAFxX/httpcompression"
	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/tempo/internal/api/handlers"
	"github.com/autobrr/tempo/internal/api/middleware"
	"github.com/autobrr/tempo/internal/domain"
	"github.com/autobrr/tempo/internal/metrics"
	"github.com/autobrr/tempo/internal/services/license"
	"github.com/autobrr/tempo/internal/web/swagger"
)

const compressionMinSize = 1024

// LicenseManager is everything the API needs from the license manager.
type LicenseManager interface {
	handlers.LicenseService
	handlers.ViolationService
	handlers.EventSource
	Ready(ctx context.Context) error
}

type Dependencies struct {
	Config         handlers.ConfigStore
	LicenseManager LicenseManager
	MetricsManager *metrics.Manager
	// ReadinessChecks run in addition to the license manager check.
	ReadinessChecks []handlers.ReadinessCheck
}

type Server struct {
	deps *Dependencies

	once     sync.Once
	server   *http.Server
	buildErr error

	eventsOnce sync.Once
	events     *handlers.EventsHandler
}

func NewServer(deps *Dependencies) *Server {
	return &Server{deps: deps}
}

// Handler builds the router. The config is read once; changes to the API
// key, CORS origins or base URL take effect on restart.
func (s *Server) Handler() (*chi.Mux, error) {
	cfg := s.deps.Config.Current()

	compress, err := httpcompression.DefaultAdapter(httpcompression.MinSize(compressionMinSize))
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger(log.Logger))

	corsOpts := cors.Options{
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", middleware.APIKeyHeader, "X-Requested-With", "Last-Event-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	if origins := corsOrigins(cfg.CORSAllowedOrigins); len(origins) > 0 {
		corsOpts.AllowedOrigins = origins
	} else {
		// Echo the caller's origin; a wildcard is not allowed with credentials.
		corsOpts.AllowOriginFunc = func(string) bool { return true }
	}
	r.Use(cors.New(corsOpts).Handler)

	requireKey := middleware.RequireAPIKey(&cfg)

	health := append([]handlers.ReadinessCheck{
		{Name: "license-manager", Check: s.deps.LicenseManager.Ready},
	}, s.deps.ReadinessChecks...)

	healthHandler := handlers.NewHealthHandler(health...)

	routes := func(r chi.Router) {
		r.Route("/health", healthHandler.Routes)

		if cfg.MetricsEnabled && cfg.MetricsPort == 0 && s.deps.MetricsManager != nil {
			r.With(middleware.APIKeyFromQuery(middleware.APIKeyQueryParam), requireKey).
				Method(http.MethodGet, "/metrics", s.deps.MetricsManager.Handler())
		}

		r.Route("/api", func(r chi.Router) {
			swagger.RegisterRoutes(r)
			r.Get("/healthz", healthHandler.HandleReady)

			// Streams must not pass through the compression buffer.
			r.With(middleware.APIKeyFromQuery(middleware.APIKeyQueryParam), requireKey).
				Get("/events", s.eventsHandler().HandleSSE)

			r.Group(func(r chi.Router) {
				r.Use(requireKey)
				r.Use(compress)

				r.Get("/version", handlers.NewVersionHandler().GetVersion)
				r.Route("/licenses", handlers.NewLicensesHandler(s.deps.LicenseManager).Routes)
				r.Route("/violations", handlers.NewViolationsHandler(s.deps.LicenseManager).Routes)
				handlers.NewConfigHandler(s.deps.Config).RegisterRoutes(r)
			})
		})
	}

	baseURL := normalizeBaseURL(cfg.BaseURL)
	if baseURL == "/" {
		routes(r)
	} else {
		r.Route(strings.TrimSuffix(baseURL, "/"), routes)
	}

	return r, nil
}

// ListenAndServe blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	srv, err := s.httpServer()
	if err != nil {
		return err
	}

	log.Info().Str("addr", srv.Addr).Str("baseUrl", normalizeBaseURL(s.deps.Config.Current().BaseURL)).Msg("Starting API server")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server. Called before ListenAndServe, it makes the
// later call return immediately.
func (s *Server) Shutdown(ctx context.Context) error {
	// Open event streams would otherwise hold srv.Shutdown until ctx expires.
	eventsErr := s.eventsHandler().Shutdown(ctx)

	srv, err := s.httpServer()
	if err != nil {
		return eventsErr
	}
	return errors.Join(eventsErr, srv.Shutdown(ctx))
}

// eventsHandler returns the event stream handler shared by every router
// built from s.
func (s *Server) eventsHandler() *handlers.EventsHandler {
	s.eventsOnce.Do(func() {
		s.events = handlers.NewEventsHandler(s.deps.LicenseManager)
	})
	return s.events
}

func (s *Server) httpServer() (*http.Server, error) {
	s.once.Do(func() {
		router, err := s.Handler()
		if err != nil {
			s.buildErr = err
			return
		}

		cfg := s.deps.Config.Current()
		s.server = &http.Server{
			Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}
	})
	return s.server, s.buildErr
}

func normalizeBaseURL(baseURL string) string {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return "/"
	}
	if !strings.HasPrefix(baseURL, "/") {
		baseURL = "/" + baseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return baseURL
}

func corsOrigins(configured []string) []string {
	var out []string
	for _, o := range configured {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

var _ LicenseManager = (*license.Manager)(nil)
