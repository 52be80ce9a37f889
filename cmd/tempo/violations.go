// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/autobrr/tempo/internal/models"
)

func RunViolationsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "violations",
		Short: "Inspect the audited violation log",
	}

	cmd.AddCommand(
		runViolationsListCommand(),
		runViolationsPruneCommand(),
	)
	return cmd
}

func runViolationsListCommand() *cobra.Command {
	var (
		configDir string
		kind      string
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List audited violations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var filter *models.ViolationType
			if kind != "" {
				t := models.ViolationType(kind)
				if !t.Valid() {
					return errors.Errorf("unknown violation type %q", kind)
				}
				filter = &t
			}

			app, err := openOffline(cmd.Context(), configDir)
			if err != nil {
				return err
			}
			defer app.Close()

			list := app.manager.GetViolations(filter)

			if asJSON {
				if list == nil {
					list = []models.Violation{}
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(list)
			}

			if len(list) == 0 {
				cmd.Println("No violations recorded.")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tTRACK\tTYPE\tDEVICE\tREGION")
			for _, v := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", v.Timestamp.UTC().Format(time.RFC3339), v.TrackID, v.Type, v.Context.DeviceID, v.Context.Region)
			}
			return tw.Flush()
		},
	}

	addConfigDirFlag(cmd, &configDir)
	cmd.Flags().StringVar(&kind, "type", "", "Only list violations of this type")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print violations as JSON")
	return cmd
}

func runViolationsPruneCommand() *cobra.Command {
	var (
		configDir string
		olderThan time.Duration
	)

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Drop audited violations older than a duration",
		Long: `Drop audited violations older than a duration.

Goes through the running server when one answers on the configured address;
otherwise edits the audit store directly.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if olderThan < 0 {
				return errors.New("--older-than must not be negative")
			}

			cfg, err := loadConfig(configDir)
			if err != nil {
				return err
			}

			var removed int
			if remote := detectServer(cmd.Context(), cfg); remote != nil {
				if removed, err = remote.PruneViolations(cmd.Context(), olderThan); err != nil {
					return err
				}
			} else {
				app, err := openOfflineConfig(cmd.Context(), cfg)
				if err != nil {
					return err
				}

				removed = app.manager.ClearOldViolations(olderThan)

				// Close flushes the pruned log to the audit store.
				if err := app.Close(); err != nil {
					return err
				}
			}

			cmd.Printf("Removed %d violations.\n", removed)
			return nil
		},
	}

	addConfigDirFlag(cmd, &configDir)
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "Remove violations recorded before now minus this duration")
	return cmd
}
