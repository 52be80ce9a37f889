// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"maps"
	"slices"
	"time"
)

// LicenseType describes how a track may be consumed.
type LicenseType string

const (
	LicenseTypeStreaming LicenseType = "streaming"
	LicenseTypeOffline   LicenseType = "offline"
	LicenseTypeDownload  LicenseType = "download"
)

func (t LicenseType) Valid() bool {
	switch t {
	case LicenseTypeStreaming, LicenseTypeOffline, LicenseTypeDownload:
		return true
	}
	return false
}

// LicenseStatus is the stored lifecycle state of a license.
// Expiry is never stored; it is derived from ExpiresAt at validation time.
type LicenseStatus string

const (
	LicenseStatusPending LicenseStatus = "pending"
	LicenseStatusValid   LicenseStatus = "valid"
	LicenseStatusRevoked LicenseStatus = "revoked"
)

func (s LicenseStatus) Valid() bool {
	switch s {
	case LicenseStatusPending, LicenseStatusValid, LicenseStatusRevoked:
		return true
	}
	return false
}

// MetadataRevocationReason is the metadata key RevokeLicense writes the reason under.
const MetadataRevocationReason = "revocationReason"

// License is a playback grant for a single track.
type License struct {
	IssuedAt            time.Time      `json:"issuedAt"`
	ExpiresAt           *time.Time     `json:"expiresAt,omitempty"`
	MaxPlays            *int           `json:"maxPlays,omitempty"`
	Metadata            map[string]any `json:"metadata,omitempty"`
	ID                  string         `json:"id"`
	TrackID             string         `json:"trackId"`
	Type                LicenseType    `json:"type"`
	Status              LicenseStatus  `json:"status"`
	Provider            string         `json:"provider"`
	QualityRestrictions []string       `json:"qualityRestrictions"`
	RegionRestrictions  []string       `json:"regionRestrictions"`
	DeviceRestrictions  []string       `json:"deviceRestrictions"`
	CurrentPlays        int            `json:"currentPlays"`
	IsOfflineAllowed    bool           `json:"isOfflineAllowed"`
	IsSharingAllowed    bool           `json:"isSharingAllowed"`
	IsRecordingAllowed  bool           `json:"isRecordingAllowed"`
}

// IsExpired reports whether the license has a set expiry that lies before now.
func (l *License) IsExpired(now time.Time) bool {
	return l.ExpiresAt != nil && now.After(*l.ExpiresAt)
}

// IsUsable reports whether the license can be served from cache without
// contacting the license server.
func (l *License) IsUsable(now time.Time) bool {
	return l.Status == LicenseStatusValid && !l.IsExpired(now)
}

// RevocationReason returns the reason stored by a revocation, if any.
func (l *License) RevocationReason() string {
	if l.Metadata == nil {
		return ""
	}
	reason, _ := l.Metadata[MetadataRevocationReason].(string)
	return reason
}

// Clone returns a deep copy so snapshots handed to callers can't alias the
// manager's table.
func (l *License) Clone() *License {
	if l == nil {
		return nil
	}

	out := *l
	if l.ExpiresAt != nil {
		expires := *l.ExpiresAt
		out.ExpiresAt = &expires
	}
	if l.MaxPlays != nil {
		maxPlays := *l.MaxPlays
		out.MaxPlays = &maxPlays
	}
	out.QualityRestrictions = slices.Clone(l.QualityRestrictions)
	out.RegionRestrictions = slices.Clone(l.RegionRestrictions)
	out.DeviceRestrictions = slices.Clone(l.DeviceRestrictions)
	out.Metadata = CloneMetadata(l.Metadata)

	return &out
}

// CloneMetadata deep-copies decoded JSON metadata. Nested objects and arrays
// are copied recursively; scalars are shared.
func CloneMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		return CloneMetadata(v)
	case []any:
		if v == nil {
			return v
		}
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return slices.Clone(v)
	case map[string]string:
		return maps.Clone(v)
	default:
		return v
	}
}

// LicenseRequest is what a caller asks the license server for.
type LicenseRequest struct {
	Metadata         map[string]any `json:"metadata,omitempty"`
	TrackID          string         `json:"trackId" validate:"required"`
	LicenseType      LicenseType    `json:"licenseType"`
	DeviceID         string         `json:"deviceId" validate:"required"`
	UserID           string         `json:"userId" validate:"required"`
	Region           string         `json:"region"`
	Quality          string         `json:"quality"`
	OfflineRequested bool           `json:"offlineRequested"`
}

// LicenseResponse is the recovered result of a license request. Server and
// transport failures surface here rather than as errors.
type LicenseResponse struct {
	License *License `json:"license,omitempty"`
	Error   string   `json:"error,omitempty"`
	Success bool     `json:"success"`
	Cached  bool     `json:"cached"`
}

// PlaybackContext describes the playback attempt being validated. It is never persisted.
type PlaybackContext struct {
	DeviceID  string `json:"deviceId"`
	UserID    string `json:"userId"`
	Region    string `json:"region"`
	Quality   string `json:"quality"`
	IsOffline bool   `json:"isOffline"`
}

// PlayInfo describes a single recorded play.
type PlayInfo struct {
	PlayedAt  time.Time     `json:"playedAt"`
	DeviceID  string        `json:"deviceId"`
	UserID    string        `json:"userId"`
	Quality   string        `json:"quality"`
	Duration  time.Duration `json:"duration"`
	IsOffline bool          `json:"isOffline"`
}
