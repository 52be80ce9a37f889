// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import "time"

// ViolationType is the reason a playback attempt was denied.
type ViolationType string

const (
	// ViolationLicenseMissingOrExpired covers absent, pending, revoked and
	// time-expired licenses alike.
	ViolationLicenseMissingOrExpired ViolationType = "license_missing_or_expired"
	ViolationMaxPlaysExceeded        ViolationType = "max_plays_exceeded"
	ViolationRegionBlocked           ViolationType = "region_blocked"
	ViolationQualityNotAllowed       ViolationType = "quality_not_allowed"
	ViolationOfflineNotAllowed       ViolationType = "offline_not_allowed"
	ViolationDeviceBlocked           ViolationType = "device_blocked"
)

// ViolationTypes lists every known violation kind.
var ViolationTypes = []ViolationType{
	ViolationLicenseMissingOrExpired,
	ViolationMaxPlaysExceeded,
	ViolationRegionBlocked,
	ViolationQualityNotAllowed,
	ViolationOfflineNotAllowed,
	ViolationDeviceBlocked,
}

func (t ViolationType) Valid() bool {
	for _, known := range ViolationTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Violation is a typed validation failure. It is a result, not an error.
type Violation struct {
	Timestamp time.Time       `json:"timestamp"`
	ID        string          `json:"id,omitempty"`
	Type      ViolationType   `json:"type"`
	TrackID   string          `json:"trackId"`
	Context   PlaybackContext `json:"context"`
}
