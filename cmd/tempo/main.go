// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/autobrr/tempo/internal/buildinfo"
)

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tempo",
		Short: "License manager for protected music playback",
		Long: `tempo acquires, caches and enforces playback licenses for DRM protected
tracks, and serves them over an HTTP API.`,
		Version:       buildinfo.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.AddCommand(
		RunServeCommand(),
		RunLicensesCommand(),
		RunViolationsCommand(),
		RunConfigCommand(),
		RunDeviceIDCommand(),
		RunVersionCommand(),
	)

	return rootCmd
}
