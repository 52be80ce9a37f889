// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package drm

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/keygen-sh/machineid"
	"github.com/rs/zerolog/log"
)

const deviceIDFile = ".tempo-device-id"

// ProtectedDeviceID returns the app-scoped machine identifier.
func ProtectedDeviceID(appID string) (string, error) {
	return machineid.ProtectedID(appID)
}

// DeviceID returns a stable device identifier for license requests. Inside
// containers the machine id changes with every image rebuild, so an id
// persisted under stateDir is preferred there.
func DeviceID(appID, stateDir string) (string, error) {
	id, err := machineid.ProtectedID(appID)
	if err != nil {
		return "", err
	}

	if !isRunningInContainer() || stateDir == "" {
		return id, nil
	}

	log.Trace().Msg("device id: running in container")

	persisted, err := persistentContainerID(stateDir)
	if err != nil {
		log.Warn().Err(err).Msg("device id: falling back to machine id")
		return id, nil
	}

	hash := sha256.Sum256([]byte(appID + "-" + persisted))
	return hex.EncodeToString(hash[:]), nil
}

func isRunningInContainer() bool {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return true
	}
	return strings.Contains(os.Getenv("container"), "podman")
}

func persistentContainerID(stateDir string) (string, error) {
	path := filepath.Join(stateDir, deviceIDFile)

	if content, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(content)); id != "" {
			return id, nil
		}
	}

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate device id: %w", err)
	}
	id := hex.EncodeToString(buf)

	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(id), 0o600); err != nil {
		return "", err
	}
	return id, nil
}
