// Copyright (C) 2022 K2 Cyber Security Inc.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/k2io/dxgihook/offsets"
)

func init() {
	rootCmd.AddCommand(newShowCmd())
}

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the shared record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := offsets.OpenMappedReadOnly(recordPath)
			if err != nil {
				return fmt.Errorf("open record: %w", err)
			}
			defer store.Close()

			rec, err := store.Load()
			if err != nil {
				return fmt.Errorf("read record: %w", err)
			}
			return printRecord(cmd.OutOrStdout(), rec)
		},
	}
}
