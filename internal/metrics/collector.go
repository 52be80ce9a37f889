// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: MIT

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/tempo/internal/models"
)

// LicenseSource is the read side of the license manager.
type LicenseSource interface {
	GetAllLicenses() []models.License
	ViolationCount() int
}

// statusExpired is reported for valid licenses past their expiry. It is never
// stored on a license.
const statusExpired = "expired"

type LicenseCollector struct {
	source LicenseSource
	now    func() time.Time

	licensesDesc   *prometheus.Desc
	playsDesc      *prometheus.Desc
	exhaustedDesc  *prometheus.Desc
	violationsDesc *prometheus.Desc
}

func NewLicenseCollector(source LicenseSource) *LicenseCollector {
	return &LicenseCollector{
		source: source,
		now:    time.Now,

		licensesDesc: prometheus.NewDesc(
			"tempo_licenses",
			"Number of licenses held by status and type",
			[]string{"status", "type"},
			nil,
		),
		playsDesc: prometheus.NewDesc(
			"tempo_license_plays",
			"Plays recorded across held licenses by type",
			[]string{"type"},
			nil,
		),
		exhaustedDesc: prometheus.NewDesc(
			"tempo_licenses_exhausted",
			"Number of licenses whose play limit is reached",
			nil,
			nil,
		),
		violationsDesc: prometheus.NewDesc(
			"tempo_violations_logged",
			"Number of violations currently held in the violation log",
			nil,
			nil,
		),
	}
}

func (c *LicenseCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.licensesDesc
	ch <- c.playsDesc
	ch <- c.exhaustedDesc
	ch <- c.violationsDesc
}

func (c *LicenseCollector) Collect(ch chan<- prometheus.Metric) {
	if c.source == nil {
		log.Debug().Msg("License source is nil, skipping metrics collection")
		return
	}

	type key struct{ status, kind string }

	now := c.now()
	counts := make(map[key]int)
	plays := make(map[string]int)
	exhausted := 0

	for _, lic := range c.source.GetAllLicenses() {
		status := string(lic.Status)
		if lic.Status == models.LicenseStatusValid && lic.IsExpired(now) {
			status = statusExpired
		}
		counts[key{status, string(lic.Type)}]++
		plays[string(lic.Type)] += lic.CurrentPlays

		if lic.MaxPlays != nil && lic.CurrentPlays >= *lic.MaxPlays {
			exhausted++
		}
	}

	for k, n := range counts {
		ch <- prometheus.MustNewConstMetric(
			c.licensesDesc,
			prometheus.GaugeValue,
			float64(n),
			k.status,
			k.kind,
		)
	}

	for kind, n := range plays {
		ch <- prometheus.MustNewConstMetric(
			c.playsDesc,
			prometheus.GaugeValue,
			float64(n),
			kind,
		)
	}

	ch <- prometheus.MustNewConstMetric(c.exhaustedDesc, prometheus.GaugeValue, float64(exhausted))
	ch <- prometheus.MustNewConstMetric(c.violationsDesc, prometheus.GaugeValue, float64(c.source.ViolationCount()))

	log.Trace().Int("licenses", len(counts)).Msg("Collected license metrics")
}
