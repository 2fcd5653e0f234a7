package mongo

import (
	"github.com/aretw0/introspection"

	"github.com/aretw0/mold/pkg/core"
)

// DatabaseState exposes internal state for observability.
type DatabaseState struct {
	URI      string `json:"uri"` // password redacted
	Database string `json:"database"`
	AppName  string `json:"app_name,omitempty"`
	ReadOnly bool   `json:"read_only"`
	Closed   bool   `json:"closed"`
	Sessions int    `json:"sessions_in_progress"`
}

// State implements introspection.Introspectable.
func (d *Database) State() any {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return DatabaseState{
		URI:      redact(d.config.URI),
		Database: d.config.Database,
		AppName:  d.config.AppName,
		ReadOnly: d.config.ReadOnly,
		Closed:   d.closed,
		Sessions: d.client.NumberSessionsInProgress(),
	}
}

// ComponentType implements introspection.Component.
func (d *Database) ComponentType() string {
	return "store"
}

var (
	_ core.Database                = (*Database)(nil)
	_ core.Reindexer               = (*Database)(nil)
	_ core.StatsProvider           = (*Database)(nil)
	_ introspection.Introspectable = (*Database)(nil)
	_ introspection.Component      = (*Database)(nil)
)
