// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package validation decides whether a license permits a playback attempt.
//
// Checks run in a fixed order and the first failing check wins:
//
//  1. missing, pending or revoked license
//  2. expiry (now strictly after expiresAt)
//  3. play count (currentPlays >= maxPlays)
//  4. region restrictions
//  5. quality restrictions
//  6. offline permission
//  7. device restrictions, only when the policy enables them
//
// Empty restriction sets never block.
package validation

import (
	"slices"
	"time"

	"github.com/autobrr/tempo/internal/models"
)

// Policy holds the optional checks. The zero value enforces exactly the
// standard checks.
type Policy struct {
	EnforceDeviceRestrictions bool
}

// Decide evaluates lic with the default policy.
func Decide(lic *models.License, ctx models.PlaybackContext, now time.Time) (bool, *models.Violation) {
	return Policy{}.Decide(lic, ctx, now)
}

// Decide evaluates lic against ctx at now. It never mutates lic.
// The returned violation has no id; the violation log assigns one.
func (p Policy) Decide(lic *models.License, ctx models.PlaybackContext, now time.Time) (bool, *models.Violation) {
	kind, ok := p.firstFailure(lic, ctx, now)
	if ok {
		return true, nil
	}

	trackID := ""
	if lic != nil {
		trackID = lic.TrackID
	}

	return false, &models.Violation{
		Type:      kind,
		TrackID:   trackID,
		Timestamp: now,
		Context:   ctx,
	}
}

func (p Policy) firstFailure(lic *models.License, ctx models.PlaybackContext, now time.Time) (models.ViolationType, bool) {
	switch {
	case lic == nil:
		return models.ViolationLicenseMissingOrExpired, false
	case lic.Status != models.LicenseStatusValid:
		return models.ViolationLicenseMissingOrExpired, false
	case lic.IsExpired(now):
		return models.ViolationLicenseMissingOrExpired, false
	case lic.MaxPlays != nil && lic.CurrentPlays >= *lic.MaxPlays:
		return models.ViolationMaxPlaysExceeded, false
	case blocked(lic.RegionRestrictions, ctx.Region):
		return models.ViolationRegionBlocked, false
	case blocked(lic.QualityRestrictions, ctx.Quality):
		return models.ViolationQualityNotAllowed, false
	case ctx.IsOffline && !lic.IsOfflineAllowed:
		return models.ViolationOfflineNotAllowed, false
	case p.EnforceDeviceRestrictions && blocked(lic.DeviceRestrictions, ctx.DeviceID):
		return models.ViolationDeviceBlocked, false
	}

	return "", true
}

func blocked(allowed []string, value string) bool {
	return len(allowed) > 0 && !slices.Contains(allowed, value)
}
