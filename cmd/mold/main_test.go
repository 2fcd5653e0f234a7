package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/aretw0/mold"
	"github.com/aretw0/mold/pkg/core"
)

// resetFlags restores flag defaults, since commands are package globals.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func seed(t *testing.T) string {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("MOLD_URI", "")

	uri := "sqlite://" + filepath.Join(t.TempDir(), "cli.db")
	ctx := context.Background()
	db, err := mold.Open(ctx, uri)
	require.NoError(t, err)
	defer db.Close(ctx)

	users := db.Collection("users")
	for _, d := range []bson.D{
		{{Key: "_id", Value: "a"}, {Key: "name", Value: "Ada"}, {Key: "age", Value: int32(36)}},
		{{Key: "_id", Value: "g"}, {Key: "name", Value: "Grace"}, {Key: "age", Value: int32(45)}},
		{{Key: "_id", Value: "l"}, {Key: "name", Value: "Linus"}, {Key: "age", Value: int32(28)}},
	} {
		raw, err := bson.Marshal(d)
		require.NoError(t, err)
		require.NoError(t, users.InsertOne(ctx, raw))
	}
	return uri
}

func TestCommands(t *testing.T) {
	uri := seed(t)

	t.Run("Collections", func(t *testing.T) {
		out, err := run(t, "collections", "--uri", uri)
		require.NoError(t, err)
		var names []string
		require.NoError(t, json.Unmarshal([]byte(out), &names))
		assert.Equal(t, []string{"users"}, names)

		out, err = run(t, "collections", "orders*", "--uri", uri, "-o", "yaml")
		require.NoError(t, err)
		assert.Equal(t, "[]\n", out)
	})

	t.Run("Count", func(t *testing.T) {
		out, err := run(t, "count", "users", "--uri", uri)
		require.NoError(t, err)
		assert.Equal(t, "3\n", out)

		out, err = run(t, "count", "users", "--uri", uri, "--filter", `{"age": {"$gte": 30}}`)
		require.NoError(t, err)
		assert.Equal(t, "2\n", out)

		_, err = run(t, "count", "users", "--uri", uri, "--filter", `{"age":`)
		assert.Error(t, err)
	})

	t.Run("Find", func(t *testing.T) {
		out, err := run(t, "find", "users", "--uri", uri, "--sort", "-age", "--limit", "2")
		require.NoError(t, err)
		assert.Equal(t,
			`{"_id":"g","name":"Grace","age":45}`+"\n"+`{"_id":"a","name":"Ada","age":36}`+"\n",
			out)

		out, err = run(t, "find", "users", "--uri", uri, "-f", `{"name": "Linus"}`, "-o", "yaml")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(out, "---\n"), out)
		assert.Contains(t, out, "name: Linus")

		_, err = run(t, "find", "users", "--uri", uri, "--skip", "-1")
		assert.Error(t, err)
	})

	t.Run("Indexes", func(t *testing.T) {
		out, err := run(t, "index", "ensure", "users", "name", "age:desc", "--unique", "--uri", uri)
		require.NoError(t, err)
		assert.Equal(t, "name_1_age_-1\n", out)

		out, err = run(t, "index", "list", "users", "--uri", uri)
		require.NoError(t, err)
		var views []indexView
		require.NoError(t, json.Unmarshal([]byte(out), &views))
		require.Len(t, views, 2)
		assert.Equal(t, "_id_", views[0].Name)
		assert.Equal(t, indexView{Name: "name_1_age_-1", Keys: []string{"name", "age:desc"}, Unique: true}, views[1])

		_, err = run(t, "index", "ensure", "users", "age:sideways", "--uri", uri)
		assert.Error(t, err)

		_, err = run(t, "index", "rebuild", "users", "--uri", uri)
		require.NoError(t, err)

		_, err = run(t, "index", "drop", "users", "--uri", uri)
		assert.Error(t, err, "a name or --all is required")

		_, err = run(t, "index", "drop", "users", "name_1_age_-1", "--uri", uri)
		require.NoError(t, err)
		_, err = run(t, "index", "drop", "users", "name_1_age_-1", "--uri", uri)
		assert.ErrorIs(t, err, core.ErrNotFound)
	})

	t.Run("Stats", func(t *testing.T) {
		out, err := run(t, "stats", "users", "--uri", uri)
		require.NoError(t, err)
		var stats core.CollectionStats
		require.NoError(t, json.Unmarshal([]byte(out), &stats))
		assert.Equal(t, int64(3), stats.Count)
		assert.Equal(t, "sqlite", stats.StorageType)

		out, err = run(t, "stats", "--state", "--uri", uri)
		require.NoError(t, err)
		assert.Contains(t, out, `"collections"`)

		_, err = run(t, "stats", "--uri", uri)
		assert.Error(t, err)
	})

	t.Run("Read Only", func(t *testing.T) {
		_, err := run(t, "drop", "users", "--uri", uri, "--read-only")
		assert.ErrorIs(t, err, core.ErrReadOnly)
	})

	t.Run("Drop", func(t *testing.T) {
		out, err := run(t, "drop", "users", "--uri", uri)
		require.NoError(t, err)
		assert.Equal(t, "Dropped users\n", out)

		_, err = run(t, "drop", "users", "--uri", uri)
		assert.ErrorIs(t, err, core.ErrNotFound)
	})
}

func TestResolveConfig(t *testing.T) {
	t.Setenv("MOLD_URI", "")
	t.Setenv("MOLD_DATABASE", "")
	dir := t.TempDir()
	require.NoError(t, writeFile(filepath.Join(dir, "mold.yaml"), "uri: sqlite://store.db\ncollection: people\n"))
	sub := filepath.Join(dir, "nested")
	require.NoError(t, mkdir(sub))
	t.Chdir(sub)

	resetFlags(rootCmd)
	cfg, err := resolveConfig()
	require.NoError(t, err)
	assert.Equal(t, "sqlite://"+filepath.Join(dir, "store.db"), cfg.URI)
	assert.Equal(t, "people", cfg.Collection)

	t.Setenv("MOLD_URI", "mem://env")
	cfg, err = resolveConfig()
	require.NoError(t, err)
	assert.Equal(t, "mem://env", cfg.URI, "environment overrides the file")

	storeURI = "mem://flag"
	defer func() { storeURI = "" }()
	cfg, err = resolveConfig()
	require.NoError(t, err)
	assert.Equal(t, "mem://flag", cfg.URI, "the flag overrides everything")
}

func TestResolveConfig_NoStore(t *testing.T) {
	t.Setenv("MOLD_URI", "")
	t.Chdir(t.TempDir())
	resetFlags(rootCmd)
	_, err := resolveConfig()
	assert.ErrorIs(t, err, core.ErrConfiguration)
}

func TestParsers(t *testing.T) {
	assert.Equal(t, bson.D{{Key: "name", Value: 1}, {Key: "age", Value: -1}}, parseSort("name, -age,"))
	assert.Nil(t, parseSort(""))

	keys, err := parseKeys([]string{"email", "at:desc", "n:-1", "m:ASC"})
	require.NoError(t, err)
	assert.Equal(t, []core.IndexKey{
		{Field: "email"},
		{Field: "at", Descending: true},
		{Field: "n", Descending: true},
		{Field: "m"},
	}, keys)
	for _, bad := range []string{":desc", "at:down"} {
		_, err = parseKeys([]string{bad})
		assert.Error(t, err, bad)
	}
	assert.Equal(t, "at:desc", formatKey(core.IndexKey{Field: "at", Descending: true}))

	types, err := parseEventTypes("create, Delete")
	require.NoError(t, err)
	assert.Equal(t, []core.EventType{core.EventCreate, core.EventDelete}, types)
	_, err = parseEventTypes("rename")
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "mold version "+mold.Version+"\n", out)
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0644)
}

func mkdir(path string) error {
	return os.MkdirAll(path, 0755)
}
