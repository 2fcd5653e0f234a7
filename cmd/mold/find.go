package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/aretw0/mold/pkg/core"
)

var (
	findFilter string
	findSort   string
	findSkip   int64
	findLimit  int64
)

// parseSort reads "name,-age" into {name: 1, age: -1}.
func parseSort(s string) bson.D {
	var sort bson.D
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		dir := 1
		if after, ok := strings.CutPrefix(field, "-"); ok {
			field, dir = after, -1
		}
		sort = append(sort, bson.E{Key: field, Value: dir})
	}
	return sort
}

var findCmd = &cobra.Command{
	Use:   "find <collection>",
	Short: "Print the documents of a collection",
	Long: `Print the documents matching a query, one Extended JSON document per line
or a stream of YAML documents with --output yaml.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := parseFilter(findFilter)
		if err != nil {
			return err
		}
		if findSkip < 0 || findLimit < 0 {
			return fmt.Errorf("skip and limit must not be negative")
		}
		opts := &core.FindOptions{Skip: findSkip, Limit: findLimit, Sort: parseSort(findSort)}

		return withStore(cmd, func(ctx context.Context, db core.Database) error {
			cur, err := db.Collection(args[0]).Find(ctx, f, opts)
			if err != nil {
				return err
			}
			defer cur.Close(ctx)
			for cur.Next(ctx) {
				if err := writeDocument(cmd.OutOrStdout(), cur.Current()); err != nil {
					return err
				}
			}
			return cur.Err()
		})
	},
}

func init() {
	rootCmd.AddCommand(findCmd)
	findCmd.Flags().StringVarP(&findFilter, "filter", "f", "", `Query document, e.g. '{"name": "Ada"}'`)
	findCmd.Flags().StringVarP(&findSort, "sort", "s", "", "Comma separated sort keys, prefix with - for descending")
	findCmd.Flags().Int64Var(&findSkip, "skip", 0, "Number of documents to skip")
	findCmd.Flags().Int64VarP(&findLimit, "limit", "n", 0, "Maximum number of documents (0 for all)")
}
