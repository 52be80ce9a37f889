// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package drm

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Provider is the DRM vendor the client negotiates with.
type Provider string

const (
	ProviderNone      Provider = "none"
	ProviderWidevine  Provider = "widevine"
	ProviderFairPlay  Provider = "fairplay"
	ProviderPlayReady Provider = "playready"
)

// Default key systems per provider.
const (
	KeySystemWidevine  = "com.widevine.alpha"
	KeySystemFairPlay  = "com.apple.fps.1_0"
	KeySystemPlayReady = "com.microsoft.playready"
)

// Requirement values for persistentState and distinctiveIdentifier.
const (
	RequirementRequired   = "required"
	RequirementOptional   = "optional"
	RequirementNotAllowed = "not-allowed"
)

// Config is the DRM section of the application configuration.
type Config struct {
	Provider              Provider `toml:"provider" mapstructure:"provider" json:"provider" validate:"oneof=none widevine fairplay playready"`
	ServerURL             string   `toml:"serverUrl" mapstructure:"serverUrl" json:"serverUrl" validate:"required_unless=Provider none,omitempty,url"`
	CertificateURL        string   `toml:"certificateUrl" mapstructure:"certificateUrl" json:"certificateUrl" validate:"required_if=Provider fairplay,omitempty,url"`
	KeySystem             string   `toml:"keySystem" mapstructure:"keySystem" json:"keySystem"`
	Robustness            string   `toml:"robustness" mapstructure:"robustness" json:"robustness"`
	PersistentState       string   `toml:"persistentState" mapstructure:"persistentState" json:"persistentState" validate:"omitempty,oneof=required optional not-allowed"`
	DistinctiveIdentifier string   `toml:"distinctiveIdentifier" mapstructure:"distinctiveIdentifier" json:"distinctiveIdentifier" validate:"omitempty,oneof=required optional not-allowed"`
	SessionTypes          []string `toml:"sessionTypes" mapstructure:"sessionTypes" json:"sessionTypes" validate:"dive,oneof=temporary persistent-license"`
	InitDataTypes         []string `toml:"initDataTypes" mapstructure:"initDataTypes" json:"initDataTypes" validate:"dive,oneof=cenc keyids webm sinf skd"`
}

// Enabled reports whether a DRM provider is configured.
func (c Config) Enabled() bool {
	return c.Provider != ProviderNone
}

// DefaultKeySystem returns the key system conventionally used by p.
func DefaultKeySystem(p Provider) string {
	switch p {
	case ProviderWidevine:
		return KeySystemWidevine
	case ProviderFairPlay:
		return KeySystemFairPlay
	case ProviderPlayReady:
		return KeySystemPlayReady
	}
	return ""
}

// Normalize lowercases the provider, applies defaults and returns the result.
func (c Config) Normalize() Config {
	c.Provider = Provider(strings.TrimSpace(strings.ToLower(string(c.Provider))))
	if c.Provider == "" {
		c.Provider = ProviderNone
	}
	c.ServerURL = strings.TrimSpace(c.ServerURL)
	c.CertificateURL = strings.TrimSpace(c.CertificateURL)
	c.KeySystem = strings.TrimSpace(c.KeySystem)
	if c.KeySystem == "" {
		c.KeySystem = DefaultKeySystem(c.Provider)
	}
	if c.Enabled() {
		if c.PersistentState == "" {
			c.PersistentState = RequirementOptional
		}
		if c.DistinctiveIdentifier == "" {
			c.DistinctiveIdentifier = RequirementOptional
		}
		if len(c.SessionTypes) == 0 {
			c.SessionTypes = []string{"temporary"}
		}
		if len(c.InitDataTypes) == 0 {
			c.InitDataTypes = []string{"cenc"}
		}
	}
	return c
}

// Validate normalizes c and checks it, returning a *ConfigurationError when
// the configuration is malformed.
func (c Config) Validate() (Config, error) {
	c = c.Normalize()

	if err := validate().Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			cfgErr := &ConfigurationError{Err: err}
			for _, fe := range fieldErrs {
				cfgErr.Fields = append(cfgErr.Fields, FieldProblem{Field: "drm." + fe.Field(), Rule: fe.Tag(), Value: fmt.Sprint(fe.Value())})
			}
			return c, cfgErr
		}
		return c, &ConfigurationError{Err: err}
	}

	if c.Enabled() && c.PersistentState == RequirementNotAllowed && slices.Contains(c.SessionTypes, "persistent-license") {
		return c, &ConfigurationError{Fields: []FieldProblem{{
			Field: "drm.sessionTypes",
			Rule:  "persistent-license requires persistentState",
			Value: "persistent-license",
		}}}
	}

	return c, nil
}

// FieldProblem names a single invalid setting.
type FieldProblem struct {
	Field string
	Rule  string
	Value string
}

// ConfigurationError reports a malformed DRM configuration. It is fatal and
// surfaces when the license manager is constructed.
type ConfigurationError struct {
	Err    error
	Fields []FieldProblem
}

func (e *ConfigurationError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("invalid drm configuration: %v", e.Err)
	}

	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s (%s)", f.Field, f.Rule))
	}
	return "invalid drm configuration: " + strings.Join(parts, ", ")
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

var (
	validatorOnce sync.Once
	validatorInst *validator.Validate
)

func validate() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New()
		// report the config key names rather than Go field names
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		validatorInst = v
	})
	return validatorInst
}
