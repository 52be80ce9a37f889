// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

type Manager struct {
	registry         *prometheus.Registry
	licenseCollector *LicenseCollector
}

func NewManager() *Manager {
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	log.Debug().Msg("Metrics manager initialized")

	return &Manager{
		registry: registry,
	}
}

// RegisterLicenseSource adds gauges describing the license table of src.
// It may be called once.
func (m *Manager) RegisterLicenseSource(src LicenseSource) {
	m.licenseCollector = NewLicenseCollector(src)
	m.registry.MustRegister(m.licenseCollector)

	log.Info().Msg("Metrics manager registered license collector")
}

func (m *Manager) GetRegistry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		Registry:          m.registry,
		EnableOpenMetrics: true,
	})
}
