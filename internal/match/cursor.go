package match

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
)

// Cursor iterates over documents already materialized in memory.
type Cursor struct {
	docs []bson.Raw
	pos  int
	err  error
}

// NewCursor returns a cursor over docs.
func NewCursor(docs []bson.Raw) *Cursor {
	return &Cursor{docs: docs, pos: -1}
}

func (c *Cursor) Next(ctx context.Context) bool {
	if c.err != nil {
		return false
	}
	if err := ctx.Err(); err != nil {
		c.err = err
		return false
	}
	if c.pos+1 >= len(c.docs) {
		c.pos = len(c.docs)
		return false
	}
	c.pos++
	return true
}

func (c *Cursor) Current() bson.Raw {
	if c.pos < 0 || c.pos >= len(c.docs) {
		return nil
	}
	return c.docs[c.pos]
}

func (c *Cursor) Err() error { return c.err }

func (c *Cursor) Close(context.Context) error {
	c.docs = nil
	return nil
}
