// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import (
	"errors"
	"fmt"
	"net/netip"
	"slices"
	"strings"
	"time"

	"github.com/autobrr/tempo/internal/drm"
)

var supportedStoreEngines = []string{"memory", "file", "sqlite", "badger", "redis"}

// Config represents the application configuration
type Config struct {
	Version       string `toml:"-" mapstructure:"-" json:"version,omitempty"`
	Host          string `toml:"host" mapstructure:"host" json:"host"`
	Port          int    `toml:"port" mapstructure:"port" json:"port"`
	BaseURL       string `toml:"baseUrl" mapstructure:"baseUrl" json:"baseUrl"`
	LogLevel      string `toml:"logLevel" mapstructure:"logLevel" json:"logLevel"`
	LogPath       string `toml:"logPath" mapstructure:"logPath" json:"logPath"`
	LogMaxSize    int    `toml:"logMaxSize" mapstructure:"logMaxSize" json:"logMaxSize"`
	LogMaxBackups int    `toml:"logMaxBackups" mapstructure:"logMaxBackups" json:"logMaxBackups"`
	DataDir       string `toml:"dataDir" mapstructure:"dataDir" json:"dataDir"`

	// Metrics are served on the API router unless MetricsPort is set, in
	// which case a separate listener is started.
	MetricsEnabled        bool   `toml:"metricsEnabled" mapstructure:"metricsEnabled" json:"metricsEnabled"`
	MetricsHost           string `toml:"metricsHost" mapstructure:"metricsHost" json:"metricsHost"`
	MetricsPort           int    `toml:"metricsPort" mapstructure:"metricsPort" json:"metricsPort"`
	MetricsBasicAuthUsers string `toml:"metricsBasicAuthUsers" mapstructure:"metricsBasicAuthUsers" json:"metricsBasicAuthUsers"`

	// APIKey protects the HTTP API. Requests must send it in the X-API-Key
	// header unless they originate from one of APIAllowedCIDRs.
	APIKey             string   `toml:"apiKey" mapstructure:"apiKey" json:"apiKey"`
	APIAllowedCIDRs    []string `toml:"apiAllowedCIDRs" mapstructure:"apiAllowedCIDRs" json:"apiAllowedCIDRs"`
	CORSAllowedOrigins []string `toml:"corsAllowedOrigins" mapstructure:"corsAllowedOrigins" json:"corsAllowedOrigins"`

	DRM      drm.Config     `toml:"drm" mapstructure:"drm" json:"drm"`
	Store    StoreConfig    `toml:"store" mapstructure:"store" json:"store"`
	License  LicenseConfig  `toml:"license" mapstructure:"license" json:"license"`
	Platform PlatformConfig `toml:"platform" mapstructure:"platform" json:"platform"`
}

// StoreConfig selects the persistent store backend.
type StoreConfig struct {
	Engine         string `toml:"engine" mapstructure:"engine" json:"engine"`
	Dir            string `toml:"dir" mapstructure:"dir" json:"dir"`
	SQLitePath     string `toml:"sqlitePath" mapstructure:"sqlitePath" json:"sqlitePath"`
	RedisAddr      string `toml:"redisAddr" mapstructure:"redisAddr" json:"redisAddr"`
	RedisPassword  string `toml:"redisPassword" mapstructure:"redisPassword" json:"redisPassword"`
	RedisDB        int    `toml:"redisDb" mapstructure:"redisDb" json:"redisDb"`
	RedisKeyPrefix string `toml:"redisKeyPrefix" mapstructure:"redisKeyPrefix" json:"redisKeyPrefix"`
}

// LicenseConfig tunes the license server client and the violation log.
type LicenseConfig struct {
	RequestTimeout            time.Duration `toml:"requestTimeout" mapstructure:"requestTimeout" json:"requestTimeout"`
	RetryAttempts             uint          `toml:"retryAttempts" mapstructure:"retryAttempts" json:"retryAttempts"`
	RetryDelay                time.Duration `toml:"retryDelay" mapstructure:"retryDelay" json:"retryDelay"`
	RetryMaxDelay             time.Duration `toml:"retryMaxDelay" mapstructure:"retryMaxDelay" json:"retryMaxDelay"`
	RateLimit                 float64       `toml:"rateLimit" mapstructure:"rateLimit" json:"rateLimit"`
	RateBurst                 int           `toml:"rateBurst" mapstructure:"rateBurst" json:"rateBurst"`
	EnforceDeviceRestrictions bool          `toml:"enforceDeviceRestrictions" mapstructure:"enforceDeviceRestrictions" json:"enforceDeviceRestrictions"`

	ViolationAudit      bool          `toml:"violationAudit" mapstructure:"violationAudit" json:"violationAudit"`
	ViolationFlushDelay time.Duration `toml:"violationFlushDelay" mapstructure:"violationFlushDelay" json:"violationFlushDelay"`
	ViolationMaxEntries int           `toml:"violationMaxEntries" mapstructure:"violationMaxEntries" json:"violationMaxEntries"`
	ViolationRetention  time.Duration `toml:"violationRetention" mapstructure:"violationRetention" json:"violationRetention"`
}

// PlatformConfig describes what the local platform's content decryption
// module supports. When KeySystems is empty every key system is granted.
type PlatformConfig struct {
	AppID                 string   `toml:"appId" mapstructure:"appId" json:"appId"`
	KeySystems            []string `toml:"keySystems" mapstructure:"keySystems" json:"keySystems"`
	Robustness            []string `toml:"robustness" mapstructure:"robustness" json:"robustness"`
	SessionTypes          []string `toml:"sessionTypes" mapstructure:"sessionTypes" json:"sessionTypes"`
	InitDataTypes         []string `toml:"initDataTypes" mapstructure:"initDataTypes" json:"initDataTypes"`
	PersistentState       bool     `toml:"persistentState" mapstructure:"persistentState" json:"persistentState"`
	DistinctiveIdentifier bool     `toml:"distinctiveIdentifier" mapstructure:"distinctiveIdentifier" json:"distinctiveIdentifier"`
}

// Support expands the platform description into one entry per key system.
func (p PlatformConfig) Support() map[string]drm.Support {
	if len(p.KeySystems) == 0 {
		return nil
	}

	out := make(map[string]drm.Support, len(p.KeySystems))
	for _, ks := range p.KeySystems {
		ks = strings.TrimSpace(ks)
		if ks == "" {
			continue
		}
		out[ks] = drm.Support{
			Robustness:            slices.Clone(p.Robustness),
			SessionTypes:          slices.Clone(p.SessionTypes),
			InitDataTypes:         slices.Clone(p.InitDataTypes),
			PersistentState:       p.PersistentState,
			DistinctiveIdentifier: p.DistinctiveIdentifier,
		}
	}
	return out
}

// ParseAPIAllowedCIDRs parses the networks allowed to call the API without a key.
// Entries can be either CIDR (for example 192.168.1.0/24) or a single IP
// (for example 192.168.1.10, which is treated as /32 or /128).
func (c *Config) ParseAPIAllowedCIDRs() ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(c.APIAllowedCIDRs))

	for _, raw := range c.APIAllowedCIDRs {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}

		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("invalid apiAllowedCIDRs entry %q: %w", entry, err)
			}
			prefixes = append(prefixes, prefix.Masked())
			continue
		}

		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid apiAllowedCIDRs entry %q: %w", entry, err)
		}
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}

	return prefixes, nil
}

// Validate checks the settings that cannot be defaulted. The DRM section is
// normalized in place.
func (c *Config) Validate() error {
	var errs []error

	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		errs = append(errs, fmt.Errorf("metricsPort %d out of range", c.MetricsPort))
	}

	engine := strings.ToLower(strings.TrimSpace(c.Store.Engine))
	if engine != "" && !slices.Contains(supportedStoreEngines, engine) {
		errs = append(errs, fmt.Errorf("unsupported store engine %q (want one of %s)", c.Store.Engine, strings.Join(supportedStoreEngines, ", ")))
	}
	if engine == "redis" && strings.TrimSpace(c.Store.RedisAddr) == "" {
		errs = append(errs, errors.New("store.redisAddr is required for the redis engine"))
	}

	if IsRedactedString(c.APIKey) {
		errs = append(errs, errors.New("apiKey contains a redacted placeholder"))
	}
	if IsRedactedString(c.MetricsBasicAuthUsers) {
		errs = append(errs, errors.New("metricsBasicAuthUsers contains a redacted placeholder"))
	}
	if IsRedactedString(c.Store.RedisPassword) {
		errs = append(errs, errors.New("store.redisPassword contains a redacted placeholder"))
	}

	if _, err := c.ParseAPIAllowedCIDRs(); err != nil {
		errs = append(errs, err)
	}

	if c.License.RateLimit < 0 {
		errs = append(errs, errors.New("license.rateLimit must not be negative"))
	}
	if c.License.ViolationMaxEntries < 0 {
		errs = append(errs, errors.New("license.violationMaxEntries must not be negative"))
	}

	normalized, err := c.DRM.Validate()
	if err != nil {
		errs = append(errs, err)
	} else {
		c.DRM = normalized
	}

	return errors.Join(errs...)
}

// Redacted returns a copy of c that is safe to log or return over the API.
func (c Config) Redacted() Config {
	c.APIKey = RedactString(c.APIKey)
	c.Store.RedisPassword = RedactString(c.Store.RedisPassword)
	c.MetricsBasicAuthUsers = RedactString(c.MetricsBasicAuthUsers)
	c.APIAllowedCIDRs = slices.Clone(c.APIAllowedCIDRs)
	c.CORSAllowedOrigins = slices.Clone(c.CORSAllowedOrigins)
	return c
}
