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
	"github.com/autobrr/tempo/internal/services/license"
)

func RunLicensesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "licenses",
		Short: "Inspect and manage stored licenses",
		Long: `Inspect and manage the stored license table.

revoke and clear go through the running server when one answers on the
configured address, so its in-memory table stays authoritative. Otherwise they
edit the store directly; stop any server that is not reachable at that address
first, whatever the store engine.`,
	}

	cmd.AddCommand(
		runLicensesListCommand(),
		runLicensesShowCommand(),
		runLicensesRevokeCommand(),
		runLicensesClearCommand(),
	)
	return cmd
}

func runLicensesListCommand() *cobra.Command {
	var (
		configDir string
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored licenses",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := openOffline(cmd.Context(), configDir)
			if err != nil {
				return err
			}
			defer app.Close()

			licenses := app.manager.GetAllLicenses()

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(licenses)
			}

			if len(licenses) == 0 {
				cmd.Println("No licenses stored.")
				return nil
			}

			now := time.Now()
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "TRACK\tTYPE\tSTATUS\tPLAYS\tEXPIRES")
			for _, lic := range licenses {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", lic.TrackID, lic.Type, displayStatus(&lic, now), formatPlays(&lic), formatExpiry(lic.ExpiresAt))
			}
			return tw.Flush()
		},
	}

	addConfigDirFlag(cmd, &configDir)
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print licenses as JSON")
	return cmd
}

func runLicensesShowCommand() *cobra.Command {
	var configDir string

	cmd := &cobra.Command{
		Use:   "show <track-id>",
		Short: "Print one license as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openOffline(cmd.Context(), configDir)
			if err != nil {
				return err
			}
			defer app.Close()

			lic, ok := app.manager.GetLicense(args[0])
			if !ok {
				return errors.Wrap(license.ErrLicenseNotFound, args[0])
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(lic)
		},
	}

	addConfigDirFlag(cmd, &configDir)
	return cmd
}

func runLicensesRevokeCommand() *cobra.Command {
	var (
		configDir string
		reason    string
	)

	cmd := &cobra.Command{
		Use:   "revoke <track-id>",
		Short: "Revoke the license for a track",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configDir)
			if err != nil {
				return err
			}

			if remote := detectServer(cmd.Context(), cfg); remote != nil {
				if err := remote.RevokeLicense(cmd.Context(), args[0], reason); err != nil {
					return err
				}
			} else {
				app, err := openOfflineConfig(cmd.Context(), cfg)
				if err != nil {
					return err
				}
				defer app.Close()

				if err := app.manager.RevokeLicense(cmd.Context(), args[0], reason); err != nil {
					return err
				}
			}

			cmd.Printf("License for '%s' revoked.\n", args[0])
			return nil
		},
	}

	addConfigDirFlag(cmd, &configDir)
	cmd.Flags().StringVar(&reason, "reason", "", "Reason stored with the revocation")
	return cmd
}

func runLicensesClearCommand() *cobra.Command {
	var (
		configDir string
		yes       bool
	)

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every stored license",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("refusing to clear licenses without --yes")
			}

			cfg, err := loadConfig(configDir)
			if err != nil {
				return err
			}

			var count int
			if remote := detectServer(cmd.Context(), cfg); remote != nil {
				if count, err = remote.ClearLicenses(cmd.Context()); err != nil {
					return err
				}
			} else {
				app, err := openOfflineConfig(cmd.Context(), cfg)
				if err != nil {
					return err
				}
				defer app.Close()

				count = len(app.manager.GetAllLicenses())
				if err := app.manager.ClearLicenses(cmd.Context()); err != nil {
					return err
				}
			}

			cmd.Printf("Removed %d licenses.\n", count)
			return nil
		},
	}

	addConfigDirFlag(cmd, &configDir)
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm removal of every license")
	return cmd
}

func displayStatus(lic *models.License, now time.Time) string {
	if lic.Status == models.LicenseStatusValid && lic.IsExpired(now) {
		return "expired"
	}
	return string(lic.Status)
}

func formatPlays(lic *models.License) string {
	if lic.MaxPlays == nil {
		return fmt.Sprintf("%d", lic.CurrentPlays)
	}
	return fmt.Sprintf("%d/%d", lic.CurrentPlays, *lic.MaxPlays)
}

func formatExpiry(expiresAt *time.Time) string {
	if expiresAt == nil {
		return "never"
	}
	return expiresAt.UTC().Format(time.RFC3339)
}
