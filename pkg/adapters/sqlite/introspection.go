package sqlite

import (
	"context"

	"github.com/aretw0/introspection"

	"github.com/aretw0/mold/pkg/core"
)

// DatabaseState exposes internal state for observability.
type DatabaseState struct {
	Path            string         `json:"path"`
	Name            string         `json:"name"`
	ReadOnly        bool           `json:"read_only"`
	Closed          bool           `json:"closed"`
	Collections     map[string]int `json:"collections,omitempty"`
	OpenConnections int            `json:"open_connections"`
	InUse           int            `json:"in_use"`
}

// State implements introspection.Introspectable.
func (d *Database) State() any {
	d.mu.RLock()
	defer d.mu.RUnlock()

	st := DatabaseState{
		Path:     d.config.Path,
		Name:     d.config.Name,
		ReadOnly: d.config.ReadOnly,
		Closed:   d.closed,
	}
	if d.closed {
		return st
	}

	stats := d.db.Stats()
	st.OpenConnections = stats.OpenConnections
	st.InUse = stats.InUse

	rows, err := d.db.QueryContext(context.Background(), `SELECT collection, COUNT(*) FROM documents GROUP BY collection`)
	if err != nil {
		d.logger.Debug("state query failed", "error", err)
		return st
	}
	defer rows.Close()
	st.Collections = make(map[string]int)
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			break
		}
		st.Collections[name] = n
	}
	return st
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
