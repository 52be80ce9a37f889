// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/autobrr/tempo/internal/config"
	"github.com/autobrr/tempo/internal/logger"
)

func RunConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or update the configuration file",
	}

	cmd.AddCommand(
		runConfigShowCommand(),
		runConfigLogCommand(),
	)
	return cmd
}

func runConfigShowCommand() *cobra.Command {
	var configDir string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets redacted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appCfg, err := config.New(configDir)
			if err != nil {
				return errors.Wrap(err, "could not load config")
			}

			cfg := appCfg.Current().Redacted()
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(cfg)
		},
	}

	addConfigDirFlag(cmd, &configDir)
	return cmd
}

func runConfigLogCommand() *cobra.Command {
	var (
		configDir  string
		level      string
		path       string
		maxSize    int
		maxBackups int
	)

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Update the log settings in config.toml",
		Example: `  tempo config log --level DEBUG
  tempo config log --path logs/tempo.log --max-size 50 --max-backups 3`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appCfg, err := config.New(configDir)
			if err != nil {
				return errors.Wrap(err, "could not load config")
			}
			cfg := appCfg.Current()

			flags := cmd.Flags()
			if !flags.Changed("level") && !flags.Changed("path") && !flags.Changed("max-size") && !flags.Changed("max-backups") {
				return errors.New("nothing to update: pass at least one of --level, --path, --max-size, --max-backups")
			}

			if !flags.Changed("level") {
				level = cfg.LogLevel
			} else if !logger.ValidLevel(level) {
				return errors.Errorf("invalid log level %q", level)
			}
			if !flags.Changed("path") {
				path = cfg.LogPath
			}
			if !flags.Changed("max-size") {
				maxSize = cfg.LogMaxSize
			}
			if !flags.Changed("max-backups") {
				maxBackups = cfg.LogMaxBackups
			}
			if maxSize < 0 || maxBackups < 0 {
				return errors.New("--max-size and --max-backups must not be negative")
			}

			if err := appCfg.UpdateLogSettings(level, path, maxSize, maxBackups); err != nil {
				return errors.Wrap(err, "could not update log settings")
			}

			cmd.Printf("Log settings written to %s\n", appCfg.ConfigPath())
			return nil
		},
	}

	addConfigDirFlag(cmd, &configDir)
	cmd.Flags().StringVar(&level, "level", "", "Log level (TRACE, DEBUG, INFO, WARN, ERROR)")
	cmd.Flags().StringVar(&path, "path", "", "Log file path")
	cmd.Flags().IntVar(&maxSize, "max-size", 0, "Maximum log file size in megabytes before rotation")
	cmd.Flags().IntVar(&maxBackups, "max-backups", 0, "Number of rotated log files to keep")
	return cmd
}
