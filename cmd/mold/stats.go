package main

import (
	"context"
	"fmt"

	"github.com/aretw0/introspection"
	"github.com/spf13/cobra"

	"github.com/aretw0/mold/pkg/core"
	"github.com/aretw0/mold/pkg/repository"
)

var statsState bool

var statsCmd = &cobra.Command{
	Use:   "stats [collection]",
	Short: "Show collection statistics or the store state",
	Long: `Show the statistics of a collection. With --state, print the internal state
the store exposes for observability instead.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !statsState && len(args) == 0 {
			return fmt.Errorf("a collection is required (or use --state)")
		}
		return withStore(cmd, func(ctx context.Context, db core.Database) error {
			if statsState {
				intro, ok := db.(introspection.Introspectable)
				if !ok {
					return fmt.Errorf("%w: store state", core.ErrUnsupported)
				}
				return writeValue(cmd.OutOrStdout(), intro.State())
			}
			stats, err := repository.NewManager(db, args[0]).Stats(ctx)
			if err != nil {
				return err
			}
			return writeValue(cmd.OutOrStdout(), stats)
		})
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().BoolVar(&statsState, "state", false, "Print the store state")
}
