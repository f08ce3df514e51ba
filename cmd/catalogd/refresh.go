package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newRefreshCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh <record id>",
		Short: "Re-fetch synopsis, artwork and alternative titles of one record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid record id %q", args[0])
			}
			a, err := newApp(cmd.Context(), opts.settings, appOptions{})
			if err != nil {
				return err
			}
			defer a.db.Close()
			rec, err := a.catalog.RefreshDetails(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rec)
		},
	}
}
