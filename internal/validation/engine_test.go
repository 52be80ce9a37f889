// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package validation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/tempo/internal/models"
)

func intPtr(v int) *int { return &v }

func timePtr(v time.Time) *time.Time { return &v }

func baseLicense() *models.License {
	return &models.License{
		ID:      "lic-1",
		TrackID: "t1",
		Type:    models.LicenseTypeStreaming,
		Status:  models.LicenseStatusValid,
	}
}

func TestDecide(t *testing.T) {
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	usCtx := models.PlaybackContext{DeviceID: "d1", UserID: "u1", Region: "US", Quality: "high"}

	tests := []struct {
		name     string
		license  func() *models.License
		ctx      models.PlaybackContext
		wantOK   bool
		wantKind models.ViolationType
	}{
		{
			name:     "missing license",
			license:  func() *models.License { return nil },
			ctx:      usCtx,
			wantKind: models.ViolationLicenseMissingOrExpired,
		},
		{
			name: "revoked license",
			license: func() *models.License {
				l := baseLicense()
				l.Status = models.LicenseStatusRevoked
				return l
			},
			ctx:      usCtx,
			wantKind: models.ViolationLicenseMissingOrExpired,
		},
		{
			name: "pending license",
			license: func() *models.License {
				l := baseLicense()
				l.Status = models.LicenseStatusPending
				return l
			},
			ctx:      usCtx,
			wantKind: models.ViolationLicenseMissingOrExpired,
		},
		{
			name: "expired wins over every later check",
			license: func() *models.License {
				l := baseLicense()
				l.ExpiresAt = timePtr(now.Add(-time.Second))
				l.MaxPlays = intPtr(1)
				l.CurrentPlays = 5
				l.RegionRestrictions = []string{"CA"}
				l.QualityRestrictions = []string{"low"}
				return l
			},
			ctx:      models.PlaybackContext{Region: "EU", Quality: "high", IsOffline: true},
			wantKind: models.ViolationLicenseMissingOrExpired,
		},
		{
			name: "max plays reached",
			license: func() *models.License {
				l := baseLicense()
				l.MaxPlays = intPtr(10)
				l.CurrentPlays = 10
				return l
			},
			ctx:      usCtx,
			wantKind: models.ViolationMaxPlaysExceeded,
		},
		{
			name: "one play left",
			license: func() *models.License {
				l := baseLicense()
				l.MaxPlays = intPtr(10)
				l.CurrentPlays = 9
				return l
			},
			ctx:    usCtx,
			wantOK: true,
		},
		{
			name: "region blocked",
			license: func() *models.License {
				l := baseLicense()
				l.RegionRestrictions = []string{"US", "CA"}
				return l
			},
			ctx:      models.PlaybackContext{Region: "EU", Quality: "high"},
			wantKind: models.ViolationRegionBlocked,
		},
		{
			name:    "empty region restrictions never block",
			license: baseLicense,
			ctx:     models.PlaybackContext{Region: "EU"},
			wantOK:  true,
		},
		{
			name: "quality not allowed",
			license: func() *models.License {
				l := baseLicense()
				l.QualityRestrictions = []string{"low", "medium"}
				return l
			},
			ctx:      usCtx,
			wantKind: models.ViolationQualityNotAllowed,
		},
		{
			name: "offline not allowed",
			license: func() *models.License {
				return baseLicense()
			},
			ctx:      models.PlaybackContext{Region: "US", IsOffline: true},
			wantKind: models.ViolationOfflineNotAllowed,
		},
		{
			name: "offline allowed",
			license: func() *models.License {
				l := baseLicense()
				l.IsOfflineAllowed = true
				return l
			},
			ctx:    models.PlaybackContext{Region: "US", IsOffline: true},
			wantOK: true,
		},
		{
			name: "device restrictions ignored by default policy",
			license: func() *models.License {
				l := baseLicense()
				l.DeviceRestrictions = []string{"other"}
				return l
			},
			ctx:    usCtx,
			wantOK: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lic := tt.license()
			ok, violation := Decide(lic, tt.ctx, now)

			if tt.wantOK {
				assert.True(t, ok)
				assert.Nil(t, violation)
				return
			}

			assert.False(t, ok)
			require.NotNil(t, violation)
			assert.Equal(t, tt.wantKind, violation.Type)
			assert.Equal(t, tt.ctx, violation.Context)
			assert.True(t, violation.Timestamp.Equal(now))
			if lic != nil {
				assert.Equal(t, lic.TrackID, violation.TrackID)
			}
		})
	}
}

func TestPolicy_EnforceDeviceRestrictions(t *testing.T) {
	now := time.Now()
	policy := Policy{EnforceDeviceRestrictions: true}

	lic := baseLicense()
	lic.DeviceRestrictions = []string{"d1"}

	ok, violation := policy.Decide(lic, models.PlaybackContext{DeviceID: "d2"}, now)
	assert.False(t, ok)
	require.NotNil(t, violation)
	assert.Equal(t, models.ViolationDeviceBlocked, violation.Type)

	ok, violation = policy.Decide(lic, models.PlaybackContext{DeviceID: "d1"}, now)
	assert.True(t, ok)
	assert.Nil(t, violation)

	// offline still wins over device
	ok, violation = policy.Decide(lic, models.PlaybackContext{DeviceID: "d2", IsOffline: true}, now)
	assert.False(t, ok)
	assert.Equal(t, models.ViolationOfflineNotAllowed, violation.Type)
}

func TestDecide_DoesNotMutateLicense(t *testing.T) {
	lic := baseLicense()
	lic.MaxPlays = intPtr(1)
	lic.CurrentPlays = 1
	before := *lic

	Decide(lic, models.PlaybackContext{}, time.Now())

	assert.Equal(t, before.CurrentPlays, lic.CurrentPlays)
	assert.Equal(t, before.Status, lic.Status)
}
