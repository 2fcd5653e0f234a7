package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aretw0/mold/pkg/core"
	"github.com/aretw0/mold/pkg/repository"
)

var (
	indexName    string
	indexUnique  bool
	indexSparse  bool
	indexDropAll bool
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage the indexes of a collection",
}

// parseKeys reads index keys written as field, field:asc or field:desc.
// The numeric forms field:1 and field:-1 are accepted too.
func parseKeys(args []string) ([]core.IndexKey, error) {
	keys := make([]core.IndexKey, 0, len(args))
	for _, a := range args {
		field, order, _ := strings.Cut(a, ":")
		if field == "" {
			return nil, fmt.Errorf("empty index key %q", a)
		}
		switch strings.ToLower(order) {
		case "", "asc", "1":
			keys = append(keys, repository.Asc(field))
		case "desc", "-1":
			keys = append(keys, repository.Desc(field))
		default:
			return nil, fmt.Errorf("index key %q: order must be asc or desc", a)
		}
	}
	return keys, nil
}

func formatKey(k core.IndexKey) string {
	if k.Descending {
		return k.Field + ":desc"
	}
	return k.Field
}

var indexEnsureCmd = &cobra.Command{
	Use:   "ensure <collection> <key>...",
	Short: "Create an index unless it exists",
	Long: `Create an index over the given keys, e.g. "mold index ensure users email --unique".
Append :desc to a key for descending order, e.g. "mold index ensure users name age:desc".`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		keys, err := parseKeys(args[1:])
		if err != nil {
			return err
		}
		return withStore(cmd, func(ctx context.Context, db core.Database) error {
			name, err := repository.NewManager(db, args[0]).EnsureIndex(ctx, keys, repository.IndexOptions{
				Name:   indexName,
				Unique: indexUnique,
				Sparse: indexSparse,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), name)
			return nil
		})
	},
}

var indexDropCmd = &cobra.Command{
	Use:   "drop <collection> [name]",
	Short: "Drop an index, or every index but the primary key with --all",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if indexDropAll == (len(args) == 2) {
			return fmt.Errorf("give either an index name or --all")
		}
		return withStore(cmd, func(ctx context.Context, db core.Database) error {
			m := repository.NewManager(db, args[0])
			if indexDropAll {
				return m.DropAllIndexes(ctx)
			}
			return m.DropIndex(ctx, args[1])
		})
	},
}

type indexView struct {
	Name   string   `json:"name" yaml:"name"`
	Keys   []string `json:"keys" yaml:"keys"`
	Unique bool     `json:"unique,omitempty" yaml:"unique,omitempty"`
	Sparse bool     `json:"sparse,omitempty" yaml:"sparse,omitempty"`
}

var indexListCmd = &cobra.Command{
	Use:   "list <collection>",
	Short: "List the indexes of a collection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, db core.Database) error {
			infos, err := repository.NewManager(db, args[0]).ListIndexes(ctx)
			if err != nil {
				return err
			}
			views := make([]indexView, 0, len(infos))
			for _, info := range infos {
				v := indexView{Name: info.Name, Unique: info.Unique, Sparse: info.Sparse}
				for _, k := range info.Keys {
					v.Keys = append(v.Keys, formatKey(k))
				}
				views = append(views, v)
			}
			return writeValue(cmd.OutOrStdout(), views)
		})
	},
}

var indexRebuildCmd = &cobra.Command{
	Use:   "rebuild <collection>",
	Short: "Rebuild the indexes of a collection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, db core.Database) error {
			return repository.NewManager(db, args[0]).ReIndex(ctx)
		})
	},
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.AddCommand(indexEnsureCmd, indexDropCmd, indexListCmd, indexRebuildCmd)

	indexEnsureCmd.Flags().StringVar(&indexName, "name", "", "Index name (derived from the keys when empty)")
	indexEnsureCmd.Flags().BoolVar(&indexUnique, "unique", false, "Reject documents repeating the indexed values")
	indexEnsureCmd.Flags().BoolVar(&indexSparse, "sparse", false, "Skip documents missing the indexed fields")
	indexDropCmd.Flags().BoolVar(&indexDropAll, "all", false, "Drop every index except the primary key")
}
