package platform

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/aretw0/mold/pkg/core"
)

// ConfigFile is the name of the project configuration file.
const ConfigFile = "mold.yaml"

// Environment variables overriding the configuration file.
const (
	EnvURI      = "MOLD_URI"
	EnvDatabase = "MOLD_DATABASE"
	EnvUsername = "MOLD_USERNAME"
	EnvPassword = "MOLD_PASSWORD"
)

// ErrRootNotFound is returned by FindRoot when no project root exists above the start directory.
var ErrRootNotFound = errors.New("root not found")

// Config describes how to reach a store.
type Config struct {
	URI        string `yaml:"uri" json:"uri"`
	Database   string `yaml:"database,omitempty" json:"database,omitempty"`
	Username   string `yaml:"username,omitempty" json:"username,omitempty"`
	Password   string `yaml:"password,omitempty" json:"-"`
	Collection string `yaml:"collection,omitempty" json:"collection,omitempty"` // optional name override
}

// LoadConfig reads a YAML configuration file. Relative fs and sqlite paths
// in the URI are resolved against the directory of the file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	cfg.URI = anchor(cfg.URI, filepath.Dir(path))
	return cfg, nil
}

// anchor makes the path of a file-backed URI absolute relative to dir.
func anchor(uri, dir string) string {
	loc, err := ParseURI(uri)
	if err != nil || filepath.IsAbs(loc.Path) {
		return uri
	}
	switch loc.Scheme {
	case SchemeFile, SchemeSQLite:
	default:
		return uri
	}
	if loc.Path == ":memory:" {
		return uri
	}
	abs := filepath.Join(dir, loc.Path)
	if !strings.Contains(uri, "://") {
		return abs
	}
	out := loc.Scheme + "://" + abs
	if len(loc.Query) > 0 {
		out += "?" + loc.Query.Encode()
	}
	return out
}

// ApplyEnv overrides the configuration with MOLD_* variables found by lookup
// (os.LookupEnv in production).
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	for _, v := range []struct {
		key string
		dst *string
	}{
		{EnvURI, &c.URI},
		{EnvDatabase, &c.Database},
		{EnvUsername, &c.Username},
		{EnvPassword, &c.Password},
	} {
		if val, ok := lookup(v.key); ok && val != "" {
			*v.dst = val
		}
	}
}

// Validate checks that the configuration designates a store.
func (c Config) Validate() error {
	if c.URI == "" {
		return fmt.Errorf("%w: no connection string (set uri in %s or %s)", core.ErrConfiguration, ConfigFile, EnvURI)
	}
	_, err := ParseURI(c.URI)
	return err
}

// FindRoot recursively looks upwards for a project root: a directory holding
// mold.yaml or a .mold store directory. It returns the absolute root path.
func FindRoot(startDir string) (string, error) {
	abs, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}

	dir := abs
	for {
		if hasFile(dir, ConfigFile) || hasFile(dir, ".mold") {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", fmt.Errorf("%w above %s", ErrRootNotFound, abs)
}

func hasFile(dir, name string) bool {
	_, err := os.Stat(filepath.Join(dir, name))
	return err == nil
}
