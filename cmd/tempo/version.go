// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/autobrr/tempo/internal/buildinfo"
	"github.com/autobrr/tempo/internal/config"
	"github.com/autobrr/tempo/internal/drm"
)

func RunVersionCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !asJSON {
				cmd.Print(buildinfo.String())
				return nil
			}

			data, err := buildinfo.JSON()
			if err != nil {
				return errors.Wrap(err, "could not encode build info")
			}
			cmd.Println(string(data))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print version information as JSON")
	return cmd
}

func RunDeviceIDCommand() *cobra.Command {
	var configDir string

	cmd := &cobra.Command{
		Use:   "device-id",
		Short: "Print the device identifier presented to the license server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appCfg, err := config.New(configDir)
			if err != nil {
				return errors.Wrap(err, "could not load config")
			}
			cfg := appCfg.Current()

			id, err := drm.DeviceID(cfg.Platform.AppID, cfg.DataDir)
			if err != nil {
				return errors.Wrap(err, "could not derive device id")
			}

			cmd.Println(id)
			return nil
		},
	}

	addConfigDirFlag(cmd, &configDir)
	return cmd
}
