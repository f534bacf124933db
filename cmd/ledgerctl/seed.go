package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load synthetic assets, prices, fundamentals and macro data",
	RunE: func(cmd *cobra.Command, _ []string) error {
		tk, cleanup, err := toolkit()
		if err != nil {
			return err
		}
		defer cleanup()

		sum, err := tk.Seeder.Seed(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "seeded %d assets, %d prices, %d fundamentals\n",
			sum.Assets, sum.Prices, sum.Fundamentals)
		return nil
	},
}
