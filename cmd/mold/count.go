package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aretw0/mold/pkg/core"
)

var countFilter string

var countCmd = &cobra.Command{
	Use:   "count <collection>",
	Short: "Count the documents of a collection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := parseFilter(countFilter)
		if err != nil {
			return err
		}
		return withStore(cmd, func(ctx context.Context, db core.Database) error {
			n, err := db.Collection(args[0]).Count(ctx, f)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(countCmd)
	countCmd.Flags().StringVarP(&countFilter, "filter", "f", "", `Query document, e.g. '{"age": {"$gte": 18}}'`)
}
