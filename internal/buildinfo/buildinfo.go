// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package buildinfo

import (
	"encoding/json"
	"fmt"
	"runtime"
)

// Set at build time via -ldflags.
var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)

// UserAgent is sent with every outbound license server request.
var UserAgent string

func init() {
	UserAgent = fmt.Sprintf("tempo/%s (%s; %s)", Version, runtime.GOOS, runtime.GOARCH)
}

// String returns the build information as three lines.
func String() string {
	return fmt.Sprintf("Version: %s\nCommit: %s\nBuild date: %s\n", Version, Commit, Date)
}

// JSON returns the build information as a JSON object.
func JSON() ([]byte, error) {
	return json.Marshal(Info())
}

// BuildInfo is the serialisable form of the build variables.
type BuildInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

func Info() BuildInfo {
	return BuildInfo{Version: Version, Commit: Commit, Date: Date}
}
