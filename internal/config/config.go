// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/autobrr/tempo/internal/domain"
	"github.com/autobrr/tempo/internal/logger"
)

const (
	envPrefix      = "TEMPO__"
	configFileName = "config.toml"
	reloadDebounce = 500 * time.Millisecond
)

// AppConfig owns the loaded configuration and keeps it in sync with the file.
type AppConfig struct {
	configPath string

	mu        sync.RWMutex
	current   *domain.Config
	listeners []func(*domain.Config)
}

// New loads the configuration from configPath, which may be a file or a
// directory. An empty path uses the default config directory. A default
// config file is written when none exists.
func New(configPath string) (*AppConfig, error) {
	path, err := resolveConfigPath(configPath)
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := writeDefaultConfig(path); err != nil {
			return nil, errors.Wrap(err, "could not write default config")
		}
		log.Info().Str("path", path).Msg("created default config")
	} else if err != nil {
		return nil, errors.Wrapf(err, "could not stat config %s", path)
	}

	cfg, err := load(path)
	if err != nil {
		return nil, err
	}

	return &AppConfig{configPath: path, current: cfg}, nil
}

// Current returns a copy of the active configuration.
func (c *AppConfig) Current() domain.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return *c.current
}

// ConfigPath returns the file the configuration was read from.
func (c *AppConfig) ConfigPath() string {
	return c.configPath
}

// GetDataDir returns where stores and state files live. Without an explicit
// dataDir this is the directory holding the config file.
func (c *AppConfig) GetDataDir() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current.DataDir
}

// OnReload registers fn to be called with the new configuration after every
// successful reload.
func (c *AppConfig) OnReload(fn func(*domain.Config)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// Reload re-reads the config file. On failure the active configuration is kept.
func (c *AppConfig) Reload() error {
	next, err := load(c.configPath)
	if err != nil {
		return err
	}

	c.mu.Lock()
	prev := c.current
	c.current = next
	listeners := append([]func(*domain.Config)(nil), c.listeners...)
	c.mu.Unlock()

	if !strings.EqualFold(prev.LogLevel, next.LogLevel) {
		logger.SetLevel(next.LogLevel)
		log.Info().Str("from", prev.LogLevel).Str("to", next.LogLevel).Msg("log level changed")
	}

	for _, fn := range listeners {
		fn(next)
	}

	return nil
}

// Watch reloads the configuration whenever the config file changes, until
// ctx is done. The directory is watched so editors that replace the file by
// rename are picked up.
func (c *AppConfig) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "could not create config watcher")
	}

	if err := watcher.Add(filepath.Dir(c.configPath)); err != nil {
		_ = watcher.Close()
		return errors.Wrap(err, "could not watch config directory")
	}

	log.Debug().Str("path", c.configPath).Msg("watching config file for changes")

	go c.watchLoop(ctx, watcher)
	return nil
}

func (c *AppConfig) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != c.configPath {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, func() {
				if ctx.Err() != nil {
					return
				}
				if err := c.Reload(); err != nil {
					log.Error().Err(err).Msg("config reload failed, keeping previous config")
					return
				}
				log.Debug().Msg("config reloaded")
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("config watcher error")
		}
	}
}

// UpdateLogSettings rewrites the log keys of the config file in place and
// reloads it.
func (c *AppConfig) UpdateLogSettings(level, path string, maxSize, maxBackups int) error {
	content, err := os.ReadFile(c.configPath)
	if err != nil {
		return errors.Wrap(err, "could not read config")
	}

	updated := updateLogSettingsInTOML(string(content), level, path, maxSize, maxBackups)

	info, err := os.Stat(c.configPath)
	if err != nil {
		return errors.Wrap(err, "could not stat config")
	}
	if err := os.WriteFile(c.configPath, []byte(updated), info.Mode().Perm()); err != nil {
		return errors.Wrap(err, "could not write config")
	}

	return c.Reload()
}

func load(path string) (*domain.Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	setDefaults(v)

	if err := bindEnv(v); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "could not read config %s", path)
	}

	var cfg domain.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "could not decode config")
	}

	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Dir(path)
	} else if !filepath.IsAbs(cfg.DataDir) {
		cfg.DataDir = filepath.Join(filepath.Dir(path), cfg.DataDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("host", "localhost")
	v.SetDefault("port", 7480)
	v.SetDefault("baseUrl", "/")
	v.SetDefault("logLevel", "INFO")
	v.SetDefault("logPath", "")
	v.SetDefault("logMaxSize", 50)
	v.SetDefault("logMaxBackups", 3)
	v.SetDefault("dataDir", "")
	v.SetDefault("metricsEnabled", false)
	v.SetDefault("metricsHost", "127.0.0.1")
	v.SetDefault("metricsPort", 0)
	v.SetDefault("metricsBasicAuthUsers", "")

	v.SetDefault("drm.provider", "none")

	v.SetDefault("store.engine", "file")
	v.SetDefault("store.redisKeyPrefix", "tempo:")

	v.SetDefault("license.requestTimeout", "10s")
	v.SetDefault("license.retryAttempts", 3)
	v.SetDefault("license.retryDelay", "250ms")
	v.SetDefault("license.retryMaxDelay", "5s")
	v.SetDefault("license.rateLimit", 5.0)
	v.SetDefault("license.rateBurst", 10)
	v.SetDefault("license.violationAudit", true)
	v.SetDefault("license.violationFlushDelay", "2s")
	v.SetDefault("license.violationMaxEntries", 10000)
	v.SetDefault("license.violationRetention", "720h")

	v.SetDefault("platform.appId", "tempo")
}

// bindEnv binds every config key to TEMPO__<KEY>, with camelCase keys
// converted to upper snake case and sections separated by a double
// underscore: drm.serverUrl is TEMPO__DRM__SERVER_URL.
func bindEnv(v *viper.Viper) error {
	for _, key := range configKeys(reflect.TypeOf(domain.Config{}), "") {
		if err := v.BindEnv(key, envName(key)); err != nil {
			return errors.Wrapf(err, "could not bind env for %s", key)
		}
	}
	return nil
}

func configKeys(t reflect.Type, prefix string) []string {
	var keys []string
	for i := range t.NumField() {
		field := t.Field(i)
		tag := strings.SplitN(field.Tag.Get("mapstructure"), ",", 2)[0]
		if tag == "" || tag == "-" {
			continue
		}
		key := prefix + tag
		if field.Type.Kind() == reflect.Struct {
			keys = append(keys, configKeys(field.Type, key+".")...)
			continue
		}
		keys = append(keys, key)
	}
	return keys
}

func envName(key string) string {
	sections := strings.Split(key, ".")
	for i, s := range sections {
		sections[i] = toUpperSnake(s)
	}
	return envPrefix + strings.Join(sections, "__")
}

func toUpperSnake(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) && (unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1])) {
			b.WriteByte('_')
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}

func resolveConfigPath(configPath string) (string, error) {
	if configPath == "" {
		configPath = getDefaultConfigDir()
	}

	if info, err := os.Stat(configPath); err == nil && info.IsDir() {
		configPath = filepath.Join(configPath, configFileName)
	} else if err != nil && filepath.Ext(configPath) != ".toml" {
		configPath = filepath.Join(configPath, configFileName)
	}

	abs, err := filepath.Abs(configPath)
	if err != nil {
		return "", errors.Wrap(err, "could not resolve config path")
	}
	return filepath.Clean(abs), nil
}

// getDefaultConfigDir returns the OS config directory for tempo. Containers
// set XDG_CONFIG_HOME=/config and use it directly.
func getDefaultConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg == "/config" {
		return xdg
	}

	dir, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return filepath.Join(dir, "tempo")
}

func writeDefaultConfig(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	apiKey, err := generateAPIKey()
	if err != nil {
		return err
	}

	return os.WriteFile(path, []byte(fmt.Sprintf(defaultConfigTemplate, apiKey)), 0o600)
}

func generateAPIKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "could not generate api key")
	}
	return hex.EncodeToString(buf), nil
}

const defaultConfigTemplate = `# config.toml - Auto-generated on first run

# Hostname / IP
# Default: "localhost"
host = "localhost"

# Port
# Default: 7480
port = 7480

# API key, sent as the X-API-Key header
# Generated on first run
apiKey = "%s"

# Networks allowed to call the API without a key
#apiAllowedCIDRs = ["127.0.0.1/32"]

# Browser origins allowed to call the API
#corsAllowedOrigins = ["http://localhost:3000"]

# Data directory for the license store
# Default: next to this file
#dataDir = ""

# Log file path
# If not defined, logs to stdout
# Optional
#logPath = "log/tempo.log"

# Log rotation
# Maximum log file size in megabytes before rotation
# Default: 50
#logMaxSize = 50

# Number of rotated log files to retain (0 keeps all)
# Default: 3
#logMaxBackups = 3

# Log level
# Default: "INFO"
# Options: "ERROR", "DEBUG", "INFO", "WARN", "TRACE"
logLevel = "INFO"

# Expose Prometheus metrics on /metrics
# Default: false
#metricsEnabled = false

# Serve metrics on a separate listener instead of the API port
#metricsHost = "127.0.0.1"
#metricsPort = 9074

# Comma separated user:password pairs required by the separate metrics listener
#metricsBasicAuthUsers = ""

[drm]
# Options: "none", "widevine", "fairplay", "playready"
provider = "none"
#serverUrl = "https://license.example.com/acquire"
#certificateUrl = ""
#keySystem = ""
#robustness = ""
#persistentState = "optional"
#distinctiveIdentifier = "optional"
#sessionTypes = ["temporary"]
#initDataTypes = ["cenc"]

[store]
# Options: "memory", "file", "sqlite", "badger", "redis"
engine = "file"
#dir = ""
#sqlitePath = ""
#redisAddr = "localhost:6379"
#redisPassword = ""
#redisDb = 0
#redisKeyPrefix = "tempo:"

[license]
#requestTimeout = "10s"
#retryAttempts = 3
#retryDelay = "250ms"
#retryMaxDelay = "5s"
#rateLimit = 5.0
#rateBurst = 10
#enforceDeviceRestrictions = false
#violationAudit = true
#violationFlushDelay = "2s"
#violationMaxEntries = 10000
#violationRetention = "720h"

[platform]
#appId = "tempo"
# Key systems the local decryption module supports. Empty grants all.
#keySystems = ["com.widevine.alpha"]
#robustness = ["SW_SECURE_CRYPTO"]
#sessionTypes = ["temporary"]
#initDataTypes = ["cenc"]
#persistentState = false
#distinctiveIdentifier = false
`
