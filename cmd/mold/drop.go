package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aretw0/mold/pkg/core"
	"github.com/aretw0/mold/pkg/repository"
)

var dropCmd = &cobra.Command{
	Use:   "drop <collection>",
	Short: "Drop a collection with its documents and indexes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, db core.Database) error {
			m := repository.NewManager(db, args[0])
			exists, err := m.Exists(ctx)
			if err != nil {
				return err
			}
			if !exists {
				return fmt.Errorf("%w: collection %s", core.ErrNotFound, args[0])
			}
			if err := m.Drop(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Dropped %s\n", args[0])
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(dropCmd)
}
