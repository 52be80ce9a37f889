// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package license

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrInvalidRequest is returned for requests missing a required field.
	// It signals a caller bug, not a recoverable outcome.
	ErrInvalidRequest  = errors.New("invalid license request")
	ErrLicenseNotFound = errors.New("license not found")
	ErrManagerClosed   = errors.New("license manager closed")
)

const (
	msgObtainFailed  = "Failed to obtain license from server"
	msgPersistFailed = "Failed to persist license"
)

// PersistenceError reports a failed write of the license table. The
// in-memory change it belonged to has already been applied.
type PersistenceError struct {
	Err     error
	Op      string
	TrackID string
}

func (e *PersistenceError) Error() string {
	if e.TrackID == "" {
		return fmt.Sprintf("persist licenses (%s): %v", e.Op, e.Err)
	}
	return fmt.Sprintf("persist license %s (%s): %v", e.TrackID, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
