// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"os"
	"os/signal"
	"reflect"
	"slices"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/autobrr/tempo/internal/api"
	"github.com/autobrr/tempo/internal/buildinfo"
	"github.com/autobrr/tempo/internal/config"
	"github.com/autobrr/tempo/internal/domain"
	"github.com/autobrr/tempo/internal/drm"
	"github.com/autobrr/tempo/internal/logger"
	"github.com/autobrr/tempo/internal/metrics"
	"github.com/autobrr/tempo/internal/services/license"
	"github.com/autobrr/tempo/internal/store"
)

const (
	shutdownTimeout        = 15 * time.Second
	violationPruneInterval = time.Hour
)

func RunServeCommand() *cobra.Command {
	var configDir string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the license API server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return serve(ctx, configDir)
		},
	}

	addConfigDirFlag(cmd, &configDir)
	return cmd
}

func serve(ctx context.Context, configDir string) error {
	appCfg, err := config.New(configDir)
	if err != nil {
		return errors.Wrap(err, "could not load config")
	}
	cfg := appCfg.Current()

	logCloser, err := logger.Setup(logger.Options{
		Level:      cfg.LogLevel,
		Path:       cfg.LogPath,
		MaxSize:    cfg.LogMaxSize,
		MaxBackups: cfg.LogMaxBackups,
	})
	if err != nil {
		return errors.Wrap(err, "could not set up logging")
	}
	defer logCloser.Close()

	log.Info().
		Str("version", buildinfo.Version).
		Str("commit", buildinfo.Commit).
		Str("config", appCfg.ConfigPath()).
		Msg("Starting tempo")

	st, err := store.OpenFromConfig(&cfg)
	if err != nil {
		return errors.Wrap(err, "could not open store")
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close store")
		}
	}()
	log.Info().Str("engine", cfg.Store.Engine).Str("dataDir", cfg.DataDir).Msg("Store opened")

	var metricsManager *metrics.Manager
	if cfg.MetricsEnabled {
		metricsManager = metrics.NewManager()
	}

	mgr, err := newManager(cfg, st, metricsManager)
	if err != nil {
		return err
	}

	if err := mgr.Initialize(ctx); err != nil {
		var capErr *drm.CapabilityError
		if !errors.As(err, &capErr) {
			_ = mgr.Close()
			return errors.Wrap(err, "could not initialize license manager")
		}
		// Cached licenses stay usable; new acquisitions will fail at the CDM.
		log.Warn().Err(err).Str("keySystem", capErr.KeySystem).Msg("DRM capability unavailable")
	}

	if metricsManager != nil {
		metricsManager.RegisterLicenseSource(mgr)
	}

	appCfg.OnReload(func(next *domain.Config) {
		if restartRequired(cfg, *next) {
			log.Warn().Msg("Config changed in a way that requires a restart to take effect")
		}
	})
	if err := appCfg.Watch(ctx); err != nil {
		log.Warn().Err(err).Msg("Config hot reload disabled")
	}

	g, gctx := errgroup.WithContext(ctx)

	apiServer := api.NewServer(&api.Dependencies{
		Config:         appCfg,
		LicenseManager: mgr,
		MetricsManager: metricsManager,
	})
	g.Go(apiServer.ListenAndServe)

	var metricsServer *metrics.MetricsServer
	if metricsManager != nil && cfg.MetricsPort > 0 {
		metricsServer = metrics.NewMetricsServer(metricsManager, cfg.MetricsHost, cfg.MetricsPort, cfg.MetricsBasicAuthUsers)
		g.Go(metricsServer.ListenAndServe)
	}

	g.Go(func() error {
		pruneViolations(gctx, mgr, cfg.License)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("API server shutdown failed")
		}
		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Metrics server shutdown failed")
			}
		}
		return nil
	})

	runErr := g.Wait()

	if err := mgr.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to flush violation log")
	}

	if runErr != nil {
		return runErr
	}

	log.Info().Msg("Shutdown complete")
	return nil
}

// pruneViolations drops violations older than the retention window until ctx
// is done. A zero retention keeps everything.
func pruneViolations(ctx context.Context, mgr *license.Manager, cfg domain.LicenseConfig) {
	if cfg.ViolationRetention <= 0 {
		return
	}

	ticker := time.NewTicker(violationPruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := mgr.ClearOldViolations(cfg.ViolationRetention); removed > 0 {
				log.Info().Int("removed", removed).Dur("retention", cfg.ViolationRetention).Msg("Pruned old violations")
			}
		}
	}
}

// restartRequired reports whether settings read only at startup differ.
func restartRequired(prev, next domain.Config) bool {
	return prev.Host != next.Host ||
		prev.Port != next.Port ||
		prev.BaseURL != next.BaseURL ||
		prev.APIKey != next.APIKey ||
		!slices.Equal(prev.APIAllowedCIDRs, next.APIAllowedCIDRs) ||
		!slices.Equal(prev.CORSAllowedOrigins, next.CORSAllowedOrigins) ||
		prev.MetricsEnabled != next.MetricsEnabled ||
		prev.MetricsPort != next.MetricsPort ||
		prev.Store != next.Store ||
		!reflect.DeepEqual(prev.DRM, next.DRM) ||
		!reflect.DeepEqual(prev.License, next.License)
}
