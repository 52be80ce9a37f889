// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package licenseclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/autobrr/tempo/internal/models"
)

// Request is the JSON body posted to the license server.
type Request struct {
	Metadata         map[string]any `json:"metadata,omitempty"`
	TrackID          string         `json:"trackId"`
	LicenseType      string         `json:"licenseType"`
	DeviceID         string         `json:"deviceId"`
	UserID           string         `json:"userId"`
	Region           string         `json:"region"`
	Quality          string         `json:"quality"`
	OfflineRequested bool           `json:"offlineRequested"`
}

// NewRequest maps a caller request onto the wire shape.
func NewRequest(req models.LicenseRequest) Request {
	return Request{
		Metadata:         req.Metadata,
		TrackID:          req.TrackID,
		LicenseType:      string(req.LicenseType),
		DeviceID:         req.DeviceID,
		UserID:           req.UserID,
		Region:           req.Region,
		Quality:          req.Quality,
		OfflineRequested: req.OfflineRequested,
	}
}

// Response is the 2xx body returned by the license server.
type Response struct {
	Metadata            map[string]any `json:"metadata"`
	MaxPlays            *int           `json:"maxPlays"`
	ExpiresAt           Expiry         `json:"expiresAt"`
	ID                  string         `json:"id"`
	QualityRestrictions []string       `json:"qualityRestrictions"`
	RegionRestrictions  []string       `json:"regionRestrictions"`
	DeviceRestrictions  []string       `json:"deviceRestrictions"`
	IsOfflineAllowed    bool           `json:"isOfflineAllowed"`
	IsSharingAllowed    bool           `json:"isSharingAllowed"`
	IsRecordingAllowed  bool           `json:"isRecordingAllowed"`
}

// absoluteEpochThreshold separates absolute epoch milliseconds from relative
// offsets. 1e12 ms is 2001-09-09; no relative grant lasts 31 years.
const absoluteEpochThreshold = 1e12

// Expiry is the expiresAt field as the license server sends it: an RFC 3339
// string, epoch milliseconds, a millisecond offset from issuance, or null.
type Expiry struct {
	absolute *time.Time
	offset   *time.Duration
}

// ExpiresAt builds an absolute expiry.
func ExpiresAt(t time.Time) Expiry {
	return Expiry{absolute: &t}
}

// ExpiresIn builds an expiry relative to issuance.
func ExpiresIn(d time.Duration) Expiry {
	return Expiry{offset: &d}
}

// IsZero reports whether no expiry was sent.
func (e Expiry) IsZero() bool {
	return e.absolute == nil && e.offset == nil
}

// Resolve returns the absolute expiry for a license issued at issuedAt, or nil
// when the license does not expire.
func (e Expiry) Resolve(issuedAt time.Time) *time.Time {
	switch {
	case e.absolute != nil:
		t := e.absolute.UTC()
		return &t
	case e.offset != nil:
		t := issuedAt.Add(*e.offset).UTC()
		return &t
	}
	return nil
}

func (e *Expiry) UnmarshalJSON(data []byte) error {
	*e = Expiry{}

	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			return nil
		}
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			e.absolute = &t
			return nil
		}
		// numeric string
		ms, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("expiresAt: unsupported value %q", s)
		}
		return e.setMillis(ms)
	}

	var ms float64
	if err := json.Unmarshal(data, &ms); err != nil {
		return fmt.Errorf("expiresAt: %w", err)
	}
	return e.setMillis(ms)
}

func (e *Expiry) setMillis(ms float64) error {
	if math.IsNaN(ms) || math.IsInf(ms, 0) || ms < 0 {
		return fmt.Errorf("expiresAt: invalid value %v", ms)
	}

	if ms >= absoluteEpochThreshold {
		t := time.UnixMilli(int64(ms)).UTC()
		e.absolute = &t
		return nil
	}

	d := time.Duration(ms) * time.Millisecond
	e.offset = &d
	return nil
}

func (e Expiry) MarshalJSON() ([]byte, error) {
	switch {
	case e.absolute != nil:
		return json.Marshal(e.absolute.UTC().Format(time.RFC3339Nano))
	case e.offset != nil:
		return json.Marshal(e.offset.Milliseconds())
	}
	return []byte("null"), nil
}
