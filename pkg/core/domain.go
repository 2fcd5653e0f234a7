// Package core defines the store capability the repository layer is built on.
package core

import "fmt"

// EventType represents the type of change in a collection.
type EventType string

const (
	EventCreate EventType = "CREATE"
	EventModify EventType = "MODIFY"
	EventDelete EventType = "DELETE"
)

// Event represents a change to a document.
type Event struct {
	Type       EventType
	Collection string
	ID         string // string form of the document _id
	Timestamp  int64  // Unix timestamp
}

// String implements fmt.Stringer (and lifecycle.Event).
func (e Event) String() string {
	return fmt.Sprintf("%s %s/%s", e.Type, e.Collection, e.ID)
}
