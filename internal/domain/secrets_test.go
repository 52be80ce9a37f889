// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactString(t *testing.T) {
	t.Parallel()

	for input, want := range map[string]string{
		"":              "",
		"cli-test-key":  RedactedStr,
		"   ":           RedactedStr,
		RedactedStr:     RedactedStr,
		"user:$2a$10$x": RedactedStr,
	} {
		assert.Equal(t, want, RedactString(input), "input %q", input)
	}
}

func TestIsRedactedString(t *testing.T) {
	t.Parallel()

	assert.True(t, IsRedactedString(RedactedStr))

	for _, s := range []string{"", "<redacted", "<REDACTED>", RedactedStr + " ", "hunter2"} {
		assert.False(t, IsRedactedString(s), "input %q", s)
	}
}

// A redacted dump must never be loadable as a working config.
func TestRedactedConfigFailsValidation(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Port:                  7480,
		APIKey:                "super-secret",
		MetricsBasicAuthUsers: "prom:$2a$10$hash",
		Store:                 StoreConfig{Engine: "redis", RedisAddr: "localhost:6379", RedisPassword: "hunter2"},
	}
	require.NoError(t, cfg.Validate())

	dump, err := json.Marshal(cfg.Redacted())
	require.NoError(t, err)
	assert.NotContains(t, string(dump), "super-secret")
	assert.NotContains(t, string(dump), "hunter2")
	assert.NotContains(t, string(dump), "$2a$10$hash")

	var pasted Config
	require.NoError(t, json.Unmarshal(dump, &pasted))

	err = pasted.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "apiKey contains a redacted placeholder")
	assert.Contains(t, err.Error(), "metricsBasicAuthUsers contains a redacted placeholder")
	assert.Contains(t, err.Error(), "store.redisPassword contains a redacted placeholder")
}

func TestRedactedKeepsUnsetSecretsEmpty(t *testing.T) {
	t.Parallel()

	redacted := Config{Store: StoreConfig{Engine: "file"}}.Redacted()
	assert.Empty(t, redacted.APIKey)
	assert.Empty(t, redacted.Store.RedisPassword)
	assert.Empty(t, redacted.MetricsBasicAuthUsers)
	require.NoError(t, redacted.Validate())
}
