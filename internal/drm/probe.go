// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package drm

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

var (
	ErrKeySystemUnsupported     = errors.New("key system not supported")
	ErrConfigurationUnsupported = errors.New("no supported key system configuration")
)

// MediaCapability is a content type plus the robustness it must be decoded at.
type MediaCapability struct {
	ContentType string
	Robustness  string
}

// KeySystemConfiguration is one candidate configuration offered to the platform.
type KeySystemConfiguration struct {
	InitDataTypes         []string
	AudioCapabilities     []MediaCapability
	PersistentState       string
	DistinctiveIdentifier string
	SessionTypes          []string
}

// Access is the handle a successful probe returns.
type Access struct {
	KeySystem     string
	Configuration KeySystemConfiguration
	// DeviceID is set when the configuration required a distinctive identifier.
	DeviceID string
}

// Probe negotiates key-system availability with the platform.
type Probe interface {
	RequestAccess(ctx context.Context, keySystem string, configs []KeySystemConfiguration) (*Access, error)
}

// CapabilityError reports that the platform cannot provide the configured DRM.
type CapabilityError struct {
	KeySystem string
	Err       error
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("drm capability unavailable for %s: %v", e.KeySystem, e.Err)
}

func (e *CapabilityError) Unwrap() error { return e.Err }

// AudioContentTypes are the codecs the client asks the platform to decrypt.
var AudioContentTypes = []string{
	`audio/mp4; codecs="mp4a.40.2"`,
	`audio/mp4; codecs="flac"`,
	`audio/webm; codecs="opus"`,
}

// KeySystemConfigurations builds the candidate configurations for c, most
// capable first.
func (c Config) KeySystemConfigurations() []KeySystemConfiguration {
	audio := make([]MediaCapability, 0, len(AudioContentTypes))
	for _, ct := range AudioContentTypes {
		audio = append(audio, MediaCapability{ContentType: ct, Robustness: c.Robustness})
	}

	primary := KeySystemConfiguration{
		InitDataTypes:         slices.Clone(c.InitDataTypes),
		AudioCapabilities:     audio,
		PersistentState:       c.PersistentState,
		DistinctiveIdentifier: c.DistinctiveIdentifier,
		SessionTypes:          slices.Clone(c.SessionTypes),
	}

	configs := []KeySystemConfiguration{primary}

	// offer a temporary-session fallback when persistent sessions were asked for
	if slices.Contains(c.SessionTypes, "persistent-license") && c.PersistentState != RequirementRequired {
		fallback := primary
		fallback.SessionTypes = []string{"temporary"}
		configs = append(configs, fallback)
	}

	return configs
}

// NoopProbe grants access to any key system. It is used when no DRM provider
// is configured and in tests.
type NoopProbe struct{}

func (NoopProbe) RequestAccess(_ context.Context, keySystem string, configs []KeySystemConfiguration) (*Access, error) {
	access := &Access{KeySystem: keySystem}
	if len(configs) > 0 {
		access.Configuration = configs[0]
	}
	return access, nil
}

// Support describes what the platform offers for one key system.
type Support struct {
	SessionTypes          []string
	InitDataTypes         []string
	Robustness            []string
	PersistentState       bool
	DistinctiveIdentifier bool
}

// StaticProbe answers from a fixed capability table, typically built from
// what the host platform reports at startup.
type StaticProbe struct {
	Supported map[string]Support
	// AppID scopes the distinctive identifier derived for this application.
	AppID string
	// deviceID is overridable in tests
	deviceID func(appID string) (string, error)
}

func NewStaticProbe(appID string, supported map[string]Support) *StaticProbe {
	return &StaticProbe{Supported: supported, AppID: appID, deviceID: ProtectedDeviceID}
}

func (p *StaticProbe) RequestAccess(_ context.Context, keySystem string, configs []KeySystemConfiguration) (*Access, error) {
	support, ok := p.Supported[keySystem]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeySystemUnsupported, keySystem)
	}

	for _, cfg := range configs {
		if !support.satisfies(cfg) {
			continue
		}

		access := &Access{KeySystem: keySystem, Configuration: cfg}
		if cfg.DistinctiveIdentifier == RequirementRequired {
			id, err := p.deviceIDFunc()(p.AppID)
			if err != nil {
				continue
			}
			access.DeviceID = id
		}
		return access, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrConfigurationUnsupported, keySystem)
}

func (p *StaticProbe) deviceIDFunc() func(string) (string, error) {
	if p.deviceID != nil {
		return p.deviceID
	}
	return ProtectedDeviceID
}

func (s Support) satisfies(cfg KeySystemConfiguration) bool {
	for _, st := range cfg.SessionTypes {
		if !slices.Contains(s.SessionTypes, st) {
			return false
		}
	}

	if len(cfg.InitDataTypes) > 0 && !slices.ContainsFunc(cfg.InitDataTypes, func(t string) bool {
		return slices.Contains(s.InitDataTypes, t)
	}) {
		return false
	}

	for _, capability := range cfg.AudioCapabilities {
		if capability.Robustness != "" && !slices.Contains(s.Robustness, capability.Robustness) {
			return false
		}
	}

	if cfg.PersistentState == RequirementRequired && !s.PersistentState {
		return false
	}
	if cfg.DistinctiveIdentifier == RequirementRequired && !s.DistinctiveIdentifier {
		return false
	}

	return true
}
