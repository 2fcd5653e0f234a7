package fs

import (
	"github.com/aretw0/introspection"

	"github.com/aretw0/mold/pkg/core"
)

// DatabaseState exposes internal state for observability.
type DatabaseState struct {
	Path        string   `json:"path"`
	Format      string   `json:"format"`
	SystemDir   string   `json:"system_dir"`
	CacheSize   int      `json:"cache_size"`
	ReadOnly    bool     `json:"read_only"`
	Closed      bool     `json:"closed"`
	Serializers []string `json:"serializers"`
	Watchers    int      `json:"watchers"`
}

// State implements introspection.Introspectable.
func (d *Database) State() any {
	d.mu.RLock()
	defer d.mu.RUnlock()

	serializers := make([]string, 0, len(d.serializers))
	for ext := range d.serializers {
		serializers = append(serializers, ext)
	}

	return DatabaseState{
		Path:        d.Path,
		Format:      d.config.Format,
		SystemDir:   d.config.SystemDir,
		CacheSize:   d.cache.Len(),
		ReadOnly:    d.config.ReadOnly,
		Closed:      d.closed,
		Serializers: serializers,
		Watchers:    d.watchers,
	}
}

// ComponentType implements introspection.Component.
func (d *Database) ComponentType() string {
	return "store"
}

var _ introspection.Introspectable = (*Database)(nil)
var _ introspection.Component = (*Database)(nil)

var (
	_ core.Database      = (*Database)(nil)
	_ core.Reindexer     = (*Database)(nil)
	_ core.StatsProvider = (*Database)(nil)
	_ core.Watchable     = (*Database)(nil)
)
