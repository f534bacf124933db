package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply postgres migrations and the ClickHouse schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg.Postgres.Migrate = true

		tk, cleanup, err := toolkit()
		if err != nil {
			return err
		}
		defer cleanup()

		if tk.Pool == nil {
			return errors.New("no postgres store configured")
		}
		fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
		return nil
	},
}
