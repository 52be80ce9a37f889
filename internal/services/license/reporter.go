// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package license

import "github.com/rs/zerolog/log"

// ErrorReporter receives failures the manager recovers from. Handle must not
// block; its outcome never affects control flow.
type ErrorReporter interface {
	Handle(err error, fields map[string]any)
}

type ErrorReporterFunc func(err error, fields map[string]any)

func (f ErrorReporterFunc) Handle(err error, fields map[string]any) {
	f(err, fields)
}

// LogReporter writes reported errors to the global logger.
type LogReporter struct{}

func (LogReporter) Handle(err error, fields map[string]any) {
	log.Error().Err(err).Fields(fields).Msg("license manager error")
}
