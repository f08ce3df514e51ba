package main

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"geekcatalog/models"
	"geekcatalog/services/credentials"
)

var credentialKeys = []string{
	models.CredentialTMDBAPIKey,
	models.CredentialIGDBClientID,
	models.CredentialIGDBClientSecret,
	models.CredentialIGDBToken,
}

func newCredentialsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage provider credentials",
	}
	cmd.AddCommand(&cobra.Command{
		Use:       "set <key> <secret>",
		Short:     "Store a provider secret",
		Args:      cobra.ExactArgs(2),
		ValidArgs: credentialKeys,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(credentialKeys, args[0]) {
				return fmt.Errorf("unknown credential %q, expected one of %v", args[0], credentialKeys)
			}
			db, err := openDatabase(opts.settings)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := credentials.NewStore(db.Credentials).Set(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored %s\n", args[0])
			return nil
		},
	})
	return cmd
}
