package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/aretw0/mold/pkg/core"
)

var collectionsCmd = &cobra.Command{
	Use:   "collections [pattern]",
	Short: "List the collections of the store",
	Long:  `List collection names, optionally filtered by a glob pattern such as "user*" or "**/archive".`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pattern := ""
		if len(args) == 1 {
			pattern = args[0]
		}
		return withStore(cmd, func(ctx context.Context, db core.Database) error {
			names, err := db.ListCollections(ctx, pattern)
			if err != nil {
				return err
			}
			if names == nil {
				names = []string{}
			}
			return writeValue(cmd.OutOrStdout(), names)
		})
	},
}

func init() {
	rootCmd.AddCommand(collectionsCmd)
}
