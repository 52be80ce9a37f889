// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"TRACE", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{" Warn ", zerolog.WarnLevel},
		{"ERROR", zerolog.ErrorLevel},
		{"INFO", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
		{"verbose", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestValidLevel(t *testing.T) {
	assert.True(t, ValidLevel("debug"))
	assert.True(t, ValidLevel(" WARN "))
	assert.True(t, ValidLevel("OFF"))
	assert.False(t, ValidLevel(""))
	assert.False(t, ValidLevel("verbose"))
}

func TestSetupWritesConsoleAndFile(t *testing.T) {
	prevLogger := log.Logger
	prevLevel := zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	})

	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "tempo.log")

	closer, err := Setup(Options{Level: "DEBUG", Path: path, Console: &console})
	require.NoError(t, err)

	log.Debug().Str("trackId", "t1").Msg("license acquired")
	log.Trace().Msg("hidden")
	require.NoError(t, closer.Close())

	assert.Contains(t, console.String(), "license acquired")
	assert.NotContains(t, console.String(), "hidden")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"trackId":"t1"`)
	assert.Contains(t, string(data), `"level":"debug"`)
}

func TestSetupWithoutFile(t *testing.T) {
	prevLogger := log.Logger
	prevLevel := zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	})

	var console bytes.Buffer
	closer, err := Setup(Options{Level: "WARN", Console: &console})
	require.NoError(t, err)
	require.NoError(t, closer.Close())

	log.Info().Msg("quiet")
	log.Warn().Msg("loud")

	assert.NotContains(t, console.String(), "quiet")
	assert.Contains(t, console.String(), "loud")
}
