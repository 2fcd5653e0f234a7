package platform

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/mold/pkg/core"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFile)
	require.NoError(t, os.WriteFile(path, []byte("uri: sqlite://data/app.db?name=app\ndatabase: shop\ncollection: orders\n"), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "sqlite://"+filepath.Join(dir, "data", "app.db")+"?name=app", cfg.URI, "relative paths anchor at the config file")
	assert.Equal(t, "shop", cfg.Database)
	assert.Equal(t, "orders", cfg.Collection)
	require.NoError(t, cfg.Validate())

	t.Run("Non File URIs Untouched", func(t *testing.T) {
		for _, uri := range []string{"mem://x", "mongodb://localhost/app", "sqlite://:memory:", "/abs/path"} {
			assert.Equal(t, uri, anchor(uri, dir))
		}
		assert.Equal(t, filepath.Join(dir, "vault"), anchor("vault", dir))
	})

	t.Run("Invalid", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.yaml")
		require.NoError(t, os.WriteFile(bad, []byte("uri: [unclosed"), 0644))
		_, err := LoadConfig(bad)
		assert.Error(t, err)

		_, err = LoadConfig(filepath.Join(dir, "missing.yaml"))
		assert.Error(t, err)
	})
}

func TestConfig_ApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvURI:      "mongodb://db.example.com",
		EnvPassword: "s3cret",
		EnvUsername: "",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Config{URI: "mem://", Database: "app", Username: "ada"}
	cfg.ApplyEnv(lookup)
	assert.Equal(t, Config{URI: "mongodb://db.example.com", Database: "app", Username: "ada", Password: "s3cret"}, cfg)

	assert.ErrorIs(t, Config{}.Validate(), core.ErrConfiguration)
	assert.ErrorIs(t, Config{URI: "ftp://x"}.Validate(), core.ErrConfiguration)
}
