// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/tempo/internal/domain"
	"github.com/autobrr/tempo/internal/drm"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDataDirConfiguration(t *testing.T) {
	tests := []struct {
		name        string
		content     func(dir string) string
		envVars     map[string]string
		wantDataDir func(dir string) string
		description string
	}{
		{
			name: "default_next_to_config",
			content: func(string) string {
				return `
host = "localhost"
port = 7480
logLevel = "INFO"
`
			},
			wantDataDir: func(dir string) string { return dir },
			description: "Data should live next to the config file when not configured",
		},
		{
			name: "explicit_absolute_path",
			content: func(dir string) string {
				return `
logLevel = "INFO"
dataDir = "` + filepath.Join(dir, "data") + `"
`
			},
			wantDataDir: func(dir string) string { return filepath.Join(dir, "data") },
			description: "An absolute dataDir is used as is",
		},
		{
			name: "relative_path_resolved_against_config",
			content: func(string) string {
				return `
dataDir = "state"
`
			},
			wantDataDir: func(dir string) string { return filepath.Join(dir, "state") },
			description: "A relative dataDir is resolved against the config directory",
		},
		{
			name: "env_var_overrides_config",
			content: func(string) string {
				return `
dataDir = "/original/path"
`
			},
			envVars: map[string]string{
				"TEMPO__DATA_DIR": "/override/path",
			},
			wantDataDir: func(string) string { return "/override/path" },
			description: "Environment variable should override config file setting",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := writeConfig(t, dir, tt.content(dir))

			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg, err := New(path)
			require.NoError(t, err, tt.description)
			require.NotNil(t, cfg)

			assert.Equal(t, tt.wantDataDir(dir), cfg.GetDataDir(), tt.description)
			assert.Equal(t, path, cfg.ConfigPath())
		})
	}
}

func TestNestedSectionsAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
logLevel = "DEBUG"
apiKey = "abc123"
apiAllowedCIDRs = ["127.0.0.1"]

[drm]
provider = "widevine"
serverUrl = "https://license.example.com/wv"

[store]
engine = "sqlite"

[license]
requestTimeout = "3s"
retryAttempts = 5
rateLimit = 2.5

[platform]
keySystems = ["com.widevine.alpha"]
`)

	t.Setenv("TEMPO__LICENSE__VIOLATION_MAX_ENTRIES", "42")
	t.Setenv("TEMPO__STORE__REDIS_KEY_PREFIX", "custom:")

	app, err := New(path)
	require.NoError(t, err)

	cfg := app.Current()
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, "abc123", cfg.APIKey)
	assert.Equal(t, []string{"127.0.0.1"}, cfg.APIAllowedCIDRs)
	assert.Equal(t, drm.ProviderWidevine, cfg.DRM.Provider)
	assert.Equal(t, drm.KeySystemWidevine, cfg.DRM.KeySystem)
	assert.Equal(t, "sqlite", cfg.Store.Engine)
	assert.Equal(t, "custom:", cfg.Store.RedisKeyPrefix)
	assert.Equal(t, 3*time.Second, cfg.License.RequestTimeout)
	assert.Equal(t, uint(5), cfg.License.RetryAttempts)
	assert.InDelta(t, 2.5, cfg.License.RateLimit, 0.001)
	assert.Equal(t, 42, cfg.License.ViolationMaxEntries)
	assert.Equal(t, 720*time.Hour, cfg.License.ViolationRetention)
	assert.Equal(t, []string{"com.widevine.alpha"}, cfg.Platform.KeySystems)
	assert.Equal(t, "tempo", cfg.Platform.AppID)
}

func TestInvalidConfigIsRejected(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
[drm]
provider = "fairplay"
serverUrl = "https://license.example.com/fps"
`)

	_, err := New(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
	assert.Contains(t, err.Error(), "drm.certificateUrl")
}

func TestDefaultConfigIsWrittenOnFirstRun(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "fresh")

	app, err := New(dir)
	require.NoError(t, err)

	path := filepath.Join(dir, "config.toml")
	assert.Equal(t, path, app.ConfigPath())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Auto-generated on first run")

	cfg := app.Current()
	assert.Equal(t, 7480, cfg.Port)
	assert.Equal(t, "file", cfg.Store.Engine)
	assert.Len(t, cfg.APIKey, 48)
	assert.Equal(t, drm.ProviderNone, cfg.DRM.Provider)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestDockerEnvironmentCompatibility(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/config")

	assert.Equal(t, "/config", getDefaultConfigDir(), "Docker environment should use /config directly")
}

func TestEnvName(t *testing.T) {
	tests := map[string]string{
		"logLevel":                  "TEMPO__LOG_LEVEL",
		"apiAllowedCIDRs":           "TEMPO__API_ALLOWED_CIDRS",
		"drm.serverUrl":             "TEMPO__DRM__SERVER_URL",
		"store.redisDb":             "TEMPO__STORE__REDIS_DB",
		"license.violationAudit":    "TEMPO__LICENSE__VIOLATION_AUDIT",
		"platform.keySystems":       "TEMPO__PLATFORM__KEY_SYSTEMS",
		"metricsEnabled":            "TEMPO__METRICS_ENABLED",
		"license.retryMaxDelay":     "TEMPO__LICENSE__RETRY_MAX_DELAY",
		"platform.initDataTypes":    "TEMPO__PLATFORM__INIT_DATA_TYPES",
		"drm.distinctiveIdentifier": "TEMPO__DRM__DISTINCTIVE_IDENTIFIER",
	}

	for key, want := range tests {
		assert.Equal(t, want, envName(key), key)
	}
}

func TestReloadKeepsPreviousConfigOnError(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `logLevel = "INFO"`)

	app, err := New(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`port = "not a number"`), 0o644))
	require.Error(t, app.Reload())
	assert.Equal(t, "INFO", app.Current().LogLevel)
}

func TestUpdateLogSettingsReloads(t *testing.T) {
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	dir := t.TempDir()
	path := writeConfig(t, dir, `
# Log level
logLevel = "INFO"
#logMaxSize = 50

[store]
engine = "memory"
`)

	app, err := New(path)
	require.NoError(t, err)

	var reloaded *domain.Config
	app.OnReload(func(c *domain.Config) { reloaded = c })

	logPath := filepath.Join(dir, "tempo.log")
	require.NoError(t, app.UpdateLogSettings("DEBUG", logPath, 10, 2))

	require.NotNil(t, reloaded)
	assert.Equal(t, "DEBUG", reloaded.LogLevel)
	assert.Equal(t, logPath, reloaded.LogPath)
	assert.Equal(t, 10, reloaded.LogMaxSize)
	assert.Equal(t, 2, reloaded.LogMaxBackups)
	assert.Equal(t, "memory", reloaded.Store.Engine)
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
}

func TestWatchReloadsOnChange(t *testing.T) {
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	dir := t.TempDir()
	path := writeConfig(t, dir, `logLevel = "INFO"`)

	app, err := New(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, app.Watch(ctx))

	require.NoError(t, os.WriteFile(path, []byte(`logLevel = "TRACE"`), 0o644))

	require.Eventually(t, func() bool {
		return app.Current().LogLevel == "TRACE"
	}, 5*time.Second, 50*time.Millisecond)
	assert.Equal(t, zerolog.TraceLevel, zerolog.GlobalLevel())
}
