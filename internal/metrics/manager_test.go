// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: MIT

package metrics

import (
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatheredPrefixes(t *testing.T, registry *prometheus.Registry) map[string]bool {
	t.Helper()

	families, err := registry.Gather()
	require.NoError(t, err)

	seen := map[string]bool{}
	for _, mf := range families {
		if prefix, _, ok := strings.Cut(mf.GetName(), "_"); ok {
			seen[prefix] = true
		}
	}
	return seen
}

func TestManager_RuntimeCollectors(t *testing.T) {
	manager := NewManager()
	require.IsType(t, &prometheus.Registry{}, manager.GetRegistry())

	seen := gatheredPrefixes(t, manager.GetRegistry())
	assert.True(t, seen["go"], "go runtime collector missing")
	// The process collector is a no-op on macOS.
	assert.Equal(t, runtime.GOOS != "darwin", seen["process"])
	assert.False(t, seen["tempo"], "license metrics appear before a source is registered")

	manager.RegisterLicenseSource(&stubSource{})
	assert.True(t, gatheredPrefixes(t, manager.GetRegistry())["tempo"])
}

func TestManager_RegistryIsolation(t *testing.T) {
	manager1 := NewManager()
	manager2 := NewManager()

	assert.NotSame(t, manager1.registry, manager2.registry, "Each manager should have its own registry")

	manager1.RegisterLicenseSource(&stubSource{})
	manager2.RegisterLicenseSource(&stubSource{})
	assert.NotSame(t, manager1.licenseCollector, manager2.licenseCollector, "Each manager should have its own collector")
}

func TestManager_RegisterLicenseSource(t *testing.T) {
	manager := NewManager()
	manager.RegisterLicenseSource(&stubSource{violations: 4})

	count, err := testutil.GatherAndCount(manager.GetRegistry(), "tempo_violations_logged")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	assert.Panics(t, func() {
		manager.RegisterLicenseSource(&stubSource{})
	}, "registering a second license collector should be rejected by the registry")
}

func TestManager_Handler(t *testing.T) {
	manager := NewManager()
	manager.RegisterLicenseSource(&stubSource{violations: 2})

	rec := httptest.NewRecorder()
	manager.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tempo_violations_logged 2")
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
