package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/aretw0/mold"
	"github.com/aretw0/mold/pkg/entity"
	"github.com/aretw0/mold/pkg/filter"
)

type Note struct {
	entity.Base `bson:",inline"`
	Title       string   `bson:"title"`
	Tags        []string `bson:"tags"`
	Seq         int      `bson:"seq"`
}

func main() {
	count := flag.Int("count", 1000, "Number of documents to generate")
	keep := flag.Bool("keep", false, "Keep the benchmark stores after running")
	flag.Parse()

	// 1. Setup Namespace
	benchDir, err := os.MkdirTemp("", "mold_bench_")
	if err != nil {
		panic(err)
	}
	defer func() {
		if !*keep {
			os.RemoveAll(benchDir)
		} else {
			fmt.Printf("Keeping bench dir: %s\n", benchDir)
		}
	}()

	// Direct file writes simulate an existing fs store.
	fsDir := filepath.Join(benchDir, "fs")
	fmt.Printf("Generating %d documents in %s...\n", *count, fsDir)
	startGen := time.Now()
	if err := os.MkdirAll(filepath.Join(fsDir, "Note"), 0755); err != nil {
		panic(err)
	}
	for i := 0; i < *count; i++ {
		content := fmt.Sprintf(`{"_id": "note_%d", "title": "Note %d", "tags": ["benchmark", "test"], "seq": %d}`, i, i, i)
		filename := filepath.Join(fsDir, "Note", fmt.Sprintf("note_%d.json", i))
		if err := os.WriteFile(filename, []byte(content), 0644); err != nil {
			panic(err)
		}
	}
	fmt.Printf("Generation took: %v\n", time.Since(startGen))

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
	ctx := context.TODO()

	// Run 1: Cold (populates the decode cache)
	cold := scan(ctx, fsDir, logger, "Run 1 - Cold")
	// Run 2: Warm, a new instance reading the persisted cache
	warm := scan(ctx, fsDir, logger, "Run 2 - Warm")

	// Insert throughput per backend
	inserts := map[string]time.Duration{}
	for _, uri := range []string{
		"mem://bench",
		"file://" + filepath.Join(benchDir, "fs-insert"),
		"sqlite://" + filepath.Join(benchDir, "bench.db"),
	} {
		inserts[uri] = insert(ctx, uri, *count, logger)
	}

	fmt.Printf("--------------------------------------------------\n")
	fmt.Printf("Benchmark Result (%d documents):\n", *count)
	fmt.Printf("  Cold scan: %v\n", cold)
	fmt.Printf("  Warm scan: %v\n", warm)
	for uri, d := range inserts {
		fmt.Printf("  Insert %s: %v (%.0f docs/s)\n", uri, d, float64(*count)/d.Seconds())
	}
	fmt.Printf("--------------------------------------------------\n")
}

func scan(ctx context.Context, dir string, logger *slog.Logger, label string) time.Duration {
	db, err := mold.Open(ctx, "file://"+dir, mold.WithLogger(logger))
	if err != nil {
		panic(err)
	}
	defer db.Close(ctx)
	notes, err := mold.NewRepository[*Note, string](db)
	if err != nil {
		panic(err)
	}

	fmt.Printf("Running query (%s)...\n", label)
	start := time.Now()
	n, err := notes.CountWhere(ctx, filter.Eq("tags", "benchmark"))
	if err != nil {
		panic(err)
	}
	d := time.Since(start)
	fmt.Printf("%s Result: %v (Items: %d)\n", label, d, n)
	return d
}

func insert(ctx context.Context, uri string, count int, logger *slog.Logger) time.Duration {
	db, err := mold.Open(ctx, uri, mold.WithLogger(logger))
	if err != nil {
		panic(err)
	}
	defer db.Close(ctx)
	notes, err := mold.NewRepository[*Note, string](db)
	if err != nil {
		panic(err)
	}

	start := time.Now()
	for i := 0; i < count; i++ {
		if _, err := notes.Add(ctx, &Note{Title: fmt.Sprintf("Note %d", i), Tags: []string{"benchmark"}, Seq: i}); err != nil {
			panic(err)
		}
	}
	return time.Since(start)
}
