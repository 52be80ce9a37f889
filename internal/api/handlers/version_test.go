// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/tempo/internal/buildinfo"
)

func TestVersionHandler_GetVersion(t *testing.T) {
	t.Parallel()

	h := NewVersionHandler()
	require.NotNil(t, h)

	req := httptest.NewRequest(http.MethodGet, "/version", nil)
	rec := httptest.NewRecorder()

	h.GetVersion(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, buildinfo.Version, resp["version"])
	assert.Equal(t, runtime.Version(), resp["goVersion"])
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, resp["platform"])
	assert.Contains(t, resp, "commit")
	assert.Contains(t, resp, "date")
}
