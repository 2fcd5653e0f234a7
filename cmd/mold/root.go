package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/bson"
	"gopkg.in/yaml.v3"

	"github.com/aretw0/mold"
	"github.com/aretw0/mold/pkg/adapters/fs"
	"github.com/aretw0/mold/pkg/core"
)

var (
	verbose  bool
	readOnly bool
	storeURI string
	output   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mold",
	Short: "Inspect and administer mold document stores",
	Long: `mold works on the collections behind mold repositories.
The store is taken from --uri, the MOLD_URI variable or the nearest mold.yaml.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}

		opts := &slog.HandlerOptions{
			Level: level,
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, opts))
		slog.SetDefault(logger)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fatal("Error", err)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&readOnly, "read-only", false, "Open the store read-only")
	rootCmd.PersistentFlags().StringVar(&storeURI, "uri", "", "Store connection string (mem://, file://, sqlite://, mongodb://)")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "json", "Output format: json or yaml")
}

// resolveConfig layers the nearest mold.yaml, MOLD_* variables and the --uri flag.
// A directory holding a .mold system directory without mold.yaml is an fs store.
func resolveConfig() (mold.Config, error) {
	var cfg mold.Config
	wd, err := os.Getwd()
	if err != nil {
		return cfg, err
	}
	if root, err := mold.FindRoot(wd); err == nil {
		path := filepath.Join(root, "mold.yaml")
		if _, statErr := os.Stat(path); statErr == nil {
			if cfg, err = mold.LoadConfig(path); err != nil {
				return cfg, err
			}
		} else {
			cfg.URI = root
		}
		slog.Debug("project root found", "root", root)
	}
	cfg.ApplyEnv(os.LookupEnv)
	if storeURI != "" {
		cfg.URI = storeURI
	}
	return cfg, cfg.Validate()
}

func openStore(ctx context.Context) (core.Database, mold.Config, error) {
	cfg, err := resolveConfig()
	if err != nil {
		return nil, cfg, err
	}
	db, err := mold.OpenConfig(ctx, cfg,
		mold.WithReadOnly(readOnly),
		mold.WithMustExist(true),
		mold.WithLogger(slog.Default()),
	)
	return db, cfg, err
}

// withStore runs fn against the configured store and closes it afterwards.
func withStore(cmd *cobra.Command, fn func(ctx context.Context, db core.Database) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	db, _, err := openStore(ctx)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer db.Close(ctx)
	return fn(ctx, db)
}

// parseFilter reads an Extended JSON query document ("" matches everything).
func parseFilter(s string) (bson.Raw, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := fs.JSONSerializer{}.Unmarshal([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("invalid filter: %w", err)
	}
	return raw, nil
}

// writeValue prints a plain value in the selected output format.
func writeValue(w io.Writer, v any) error {
	switch output {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	return fmt.Errorf("unknown output format %q", output)
}

// writeDocument prints a stored document, as Extended JSON or YAML.
func writeDocument(w io.Writer, doc bson.Raw) error {
	var (
		data []byte
		err  error
	)
	switch output {
	case "yaml":
		data, err = fs.YAMLSerializer{}.Marshal(doc)
		if err == nil {
			data = append([]byte("---\n"), data...)
		}
	case "json":
		data, err = bson.MarshalExtJSON(doc, false, false)
		if err == nil {
			data = append(data, '\n')
		}
	default:
		err = fmt.Errorf("unknown output format %q", output)
	}
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
