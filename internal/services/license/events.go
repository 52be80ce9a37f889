// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package license

import "github.com/autobrr/tempo/internal/models"

// Event is a state change published to subscribers. The set of events is
// closed; switch on the concrete type.
type Event interface {
	isEvent()
}

// LicensesLoaded is published once Initialize has read the persisted table.
type LicensesLoaded struct {
	Count   int
	Skipped int
}

type LicenseAcquired struct {
	License models.License
}

// LicenseRequestFailed is published when the server refused or could not be
// reached, or when the granted license could not be persisted.
type LicenseRequestFailed struct {
	Err     error
	TrackID string
}

type PlayRecorded struct {
	Info         models.PlayInfo
	TrackID      string
	CurrentPlays int
}

type LicenseRevoked struct {
	TrackID string
	Reason  string
}

type ViolationRecorded struct {
	Violation models.Violation
}

type LicensesCleared struct {
	Count int
}

func (LicensesLoaded) isEvent()       {}
func (LicenseAcquired) isEvent()      {}
func (LicenseRequestFailed) isEvent() {}
func (PlayRecorded) isEvent()         {}
func (LicenseRevoked) isEvent()       {}
func (ViolationRecorded) isEvent()    {}
func (LicensesCleared) isEvent()      {}
