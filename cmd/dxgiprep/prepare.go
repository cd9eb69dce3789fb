// Copyright (C) 2022 K2 Cyber Security Inc.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/k2io/dxgihook/discovery"
	"github.com/k2io/dxgihook/internal/logger"
	"github.com/k2io/dxgihook/offsets"
)

func init() {
	rootCmd.AddCommand(newPrepareCmd())
}

func newPrepareCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prepare",
		Short: "Discover the offsets and write the shared record",
		Long: `The prepare command loads the system dxgi.dll, creates a throwaway
window and swap chain, and records where Present and ResizeBuffers live
relative to the module base. The record is reset first, so a failed run
leaves it unprepared.

Example:
  dxgiprep prepare
  dxgiprep prepare --record C:\ProgramData\overlay\dxgi.offsets --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := offsets.OpenMapped(recordPath)
			if err != nil {
				return fmt.Errorf("open record: %w", err)
			}
			defer store.Close()

			rec, runErr := discovery.Run(store, discovery.WithLogger(logger.For("discovery")))
			if err := printRecord(cmd.OutOrStdout(), rec); err != nil {
				return err
			}
			if runErr != nil {
				return fmt.Errorf("discovery failed: %w", runErr)
			}
			return nil
		},
	}
}
