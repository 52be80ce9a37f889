// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package license

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/autobrr/tempo/internal/models"
)

const (
	outcomeCached        = "cached"
	outcomeAcquired      = "acquired"
	outcomeFailed        = "failed"
	outcomePersistFailed = "persist_failed"
)

// Metrics holds the manager's counters. A nil *Metrics records nothing.
type Metrics struct {
	requests            *prometheus.CounterVec
	requestDuration     prometheus.Histogram
	plays               prometheus.Counter
	revocations         prometheus.Counter
	violations          *prometheus.CounterVec
	persistenceFailures *prometheus.CounterVec
}

// NewMetrics creates the manager counters and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tempo",
			Name:      "license_requests_total",
			Help:      "License requests by outcome (cached, acquired, failed, persist_failed)",
		}, []string{"outcome"}),
		requestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tempo",
			Name:      "license_server_request_duration_seconds",
			Help:      "Duration of license server round trips including retries",
			Buckets:   prometheus.DefBuckets,
		}),
		plays: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tempo",
			Name:      "license_plays_recorded_total",
			Help:      "Plays recorded against a license",
		}),
		revocations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tempo",
			Name:      "license_revocations_total",
			Help:      "Licenses revoked",
		}),
		violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tempo",
			Name:      "license_violations_total",
			Help:      "Denied playback attempts by violation type",
		}, []string{"type"}),
		persistenceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tempo",
			Name:      "license_persistence_failures_total",
			Help:      "Failed writes of the license table by operation",
		}, []string{"op"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.requests,
			m.requestDuration,
			m.plays,
			m.revocations,
			m.violations,
			m.persistenceFailures,
		)
	}

	return m
}

func (m *Metrics) request(outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeServer(since time.Time) {
	if m == nil {
		return
	}
	m.requestDuration.Observe(time.Since(since).Seconds())
}

func (m *Metrics) play() {
	if m == nil {
		return
	}
	m.plays.Inc()
}

func (m *Metrics) revoked() {
	if m == nil {
		return
	}
	m.revocations.Inc()
}

func (m *Metrics) violation(kind models.ViolationType) {
	if m == nil {
		return
	}
	m.violations.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) persistenceFailure(op string) {
	if m == nil {
		return
	}
	m.persistenceFailures.WithLabelValues(op).Inc()
}
