package repository

import (
	"github.com/aretw0/introspection"
)

// RepositoryState exposes the binding of a repository for observability.
type RepositoryState struct {
	Collection    string   `json:"collection"`
	Entity        string   `json:"entity"`
	Chain         []string `json:"chain"`
	Discriminated bool     `json:"discriminated"`
	Database      string   `json:"database"`
	Generated     bool     `json:"generated_ids"`
	Store         any      `json:"store,omitempty"`
}

// State implements introspection.Introspectable.
func (r *Repository[T, K]) State() any {
	st := RepositoryState{
		Collection:    r.binding.Name,
		Entity:        r.binding.Type.String(),
		Chain:         r.binding.Chain,
		Discriminated: r.binding.Shared(),
		Database:      r.db.Name(),
		Generated:     r.gen != nil,
	}
	if in, ok := r.db.(introspection.Introspectable); ok {
		st.Store = in.State()
	}
	return st
}

// ComponentType implements introspection.Component.
func (r *Repository[T, K]) ComponentType() string {
	return "repository"
}
