// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/autobrr/tempo/internal/buildinfo"
	"github.com/autobrr/tempo/internal/config"
	"github.com/autobrr/tempo/internal/domain"
	"github.com/autobrr/tempo/internal/drm"
	"github.com/autobrr/tempo/internal/licenseclient"
	"github.com/autobrr/tempo/internal/metrics"
	"github.com/autobrr/tempo/internal/services/license"
	"github.com/autobrr/tempo/internal/store"
	"github.com/autobrr/tempo/internal/validation"
	"github.com/autobrr/tempo/internal/violations"
)

const configDirUsage = "Path to configuration directory or config.toml"

func addConfigDirFlag(cmd *cobra.Command, configDir *string) {
	cmd.Flags().StringVar(configDir, "config-dir", "", configDirUsage)
}

// offlineApp is a license manager opened against the configured store
// without the HTTP server. It must not mutate a store a running server also
// holds: that server keeps its own table and would overwrite the change.
type offlineApp struct {
	cfg     domain.Config
	store   store.Store
	manager *license.Manager
}

func loadConfig(configDir string) (domain.Config, error) {
	appCfg, err := config.New(configDir)
	if err != nil {
		return domain.Config{}, errors.Wrap(err, "could not load config")
	}
	return appCfg.Current(), nil
}

func openOffline(ctx context.Context, configDir string) (*offlineApp, error) {
	cfg, err := loadConfig(configDir)
	if err != nil {
		return nil, err
	}
	return openOfflineConfig(ctx, cfg)
}

func openOfflineConfig(ctx context.Context, cfg domain.Config) (*offlineApp, error) {
	st, err := store.OpenFromConfig(&cfg)
	if err != nil {
		return nil, errors.Wrap(err, "could not open store")
	}

	mgr, err := newManager(cfg, st, nil)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	if err := mgr.Initialize(ctx); err != nil {
		var capErr *drm.CapabilityError
		if !errors.As(err, &capErr) {
			_ = mgr.Close()
			_ = st.Close()
			return nil, err
		}
		// Offline commands never talk to the CDM.
		log.Debug().Err(err).Msg("DRM capability unavailable")
	}

	return &offlineApp{cfg: cfg, store: st, manager: mgr}, nil
}

func (a *offlineApp) Close() error {
	managerErr := a.manager.Close()
	storeErr := a.store.Close()
	if managerErr != nil {
		return managerErr
	}
	return storeErr
}

func newLicenseClient(cfg domain.Config) *licenseclient.Client {
	return licenseclient.NewClient(cfg.DRM.ServerURL,
		licenseclient.WithUserAgent(buildinfo.UserAgent),
		licenseclient.WithTimeout(cfg.License.RequestTimeout),
		licenseclient.WithRetry(cfg.License.RetryAttempts, cfg.License.RetryDelay, cfg.License.RetryMaxDelay),
		licenseclient.WithRateLimit(cfg.License.RateLimit, cfg.License.RateBurst),
	)
}

func newViolationLog(cfg domain.Config, st store.Store) *violations.Log {
	opts := []violations.Option{
		violations.WithMaxEntries(cfg.License.ViolationMaxEntries),
		violations.WithErrorHandler(func(err error) {
			log.Error().Err(err).Msg("Failed to write violation audit log")
		}),
	}
	if cfg.License.ViolationAudit {
		opts = append(opts, violations.WithAuditStore(st, violations.DefaultAuditKey, cfg.License.ViolationFlushDelay))
	}
	return violations.New(opts...)
}

func newProbe(cfg domain.Config) drm.Probe {
	support := cfg.Platform.Support()
	if support == nil {
		return drm.NoopProbe{}
	}
	return drm.NewStaticProbe(cfg.Platform.AppID, support)
}

// newManager wires the license manager from cfg. metricsManager may be nil.
func newManager(cfg domain.Config, st store.Store, metricsManager *metrics.Manager) (*license.Manager, error) {
	opts := []license.Option{
		license.WithProbe(newProbe(cfg)),
		license.WithViolationLog(newViolationLog(cfg, st)),
		license.WithPolicy(validation.Policy{EnforceDeviceRestrictions: cfg.License.EnforceDeviceRestrictions}),
	}
	if metricsManager != nil {
		opts = append(opts, license.WithMetrics(license.NewMetrics(metricsManager.GetRegistry())))
	}

	mgr, err := license.NewManager(cfg.DRM, st, newLicenseClient(cfg), opts...)
	if err != nil {
		return nil, errors.Wrap(err, "could not create license manager")
	}
	return mgr, nil
}
