package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aretw0/mold/pkg/adapters/lifecycle"
	"github.com/aretw0/mold/pkg/core"
)

var watchTypes string

// parseEventTypes reads "create,delete" into event types.
func parseEventTypes(s string) ([]core.EventType, error) {
	var types []core.EventType
	for _, t := range strings.Split(s, ",") {
		t = strings.ToUpper(strings.TrimSpace(t))
		switch core.EventType(t) {
		case "":
		case core.EventCreate, core.EventModify, core.EventDelete:
			types = append(types, core.EventType(t))
		default:
			return nil, fmt.Errorf("unknown event type %q", t)
		}
	}
	return types, nil
}

var watchCmd = &cobra.Command{
	Use:   "watch [collection]",
	Short: "Print document changes until interrupted",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		types, err := parseEventTypes(watchTypes)
		if err != nil {
			return err
		}
		collection := ""
		if len(args) == 1 {
			collection = args[0]
		}

		parent := cmd.Context()
		if parent == nil {
			parent = context.Background()
		}
		ctx, stop := signal.NotifyContext(parent, os.Interrupt)
		defer stop()

		return withStore(cmd, func(_ context.Context, db core.Database) error {
			store, ok := db.(core.Watchable)
			if !ok {
				return fmt.Errorf("%w: this store does not publish changes", core.ErrUnsupported)
			}
			src := lifecycle.NewSource(store, collection,
				lifecycle.WithTypes(types...),
				lifecycle.WithLogger(slog.Default()),
			)
			if err := src.Start(ctx); err != nil {
				return err
			}
			slog.Info("watching for changes", "collection", collection)
			for e := range src.Events() {
				fmt.Fprintln(cmd.OutOrStdout(), e.String())
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringVarP(&watchTypes, "types", "t", "", "Comma separated event types to keep (create, modify, delete)")
}
