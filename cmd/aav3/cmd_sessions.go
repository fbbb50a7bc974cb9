// Copyright (C) 2025 Custodire Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodire/aav3/pkg/ux"
	"github.com/custodire/aav3/services/deliberation/config"
	"github.com/custodire/aav3/services/deliberation/ledger"
)

// newSessionsCmd lists recent sessions from the run ledger.
func newSessionsCmd(flags *rootFlags) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List recent deliberation sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Resolve(flags.configPath, overridesFromFlags(cmd.Root(), *flags))
			if err != nil {
				return err
			}
			db, err := ledger.Open(cfg.ArtifactsRoot)
			if err != nil {
				return fmt.Errorf("no ledger under %s: %w", cfg.ArtifactsRoot, err)
			}
			defer db.Close()

			entries, err := db.Recent(limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				ux.Info("no sessions recorded yet")
				return nil
			}

			ux.Info("%-10s %-10s %-9s %-9s %-7s %s", "SESSION", "STATUS", "APPROVED", "APPROVAL", "ROUNDS", "WHEN")
			for _, e := range entries {
				approved := "no"
				if e.Approved {
					approved = "yes"
				}
				ux.Info("%-10s %-10s %-9s %-9.0f%% %-7d %s",
					e.SessionID, e.Status, approved, e.ApprovalRate*100, e.RoundsUsed,
					e.CreatedAt.Local().Format(time.DateTime))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum sessions to list")
	return cmd
}
