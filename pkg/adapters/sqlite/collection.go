package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/aretw0/mold/internal/match"
	"github.com/aretw0/mold/pkg/core"
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type row struct {
	key string
	doc bson.Raw
}

// Collection is a handle over one named collection of a Database.
type Collection struct {
	db   *Database
	name string
}

func (c *Collection) Name() string { return c.name }

// load reads the documents of the collection matching m in insertion order.
// An _id equality in filter narrows the read to the primary key.
func (c *Collection) load(ctx context.Context, q querier, filter bson.Raw, m match.Matcher, limit int) ([]row, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if id, ok := match.IDEqualityIn(filter); ok {
		rows, err = q.QueryContext(ctx, `SELECT key, data FROM documents WHERE collection = ? AND key = ?`, c.name, match.Key(id))
	} else {
		rows, err = q.QueryContext(ctx, `SELECT key, data FROM documents WHERE collection = ? ORDER BY rowid`, c.name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", c.name, err)
	}
	defer rows.Close()

	var out []row
	for rows.Next() {
		var r row
		var data []byte
		if err := rows.Scan(&r.key, &data); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		r.doc = data
		if !m(r.doc) {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, rows.Err()
}

func (c *Collection) uniqueIndexes(ctx context.Context, q querier) ([]core.IndexModel, error) {
	rows, err := q.QueryContext(ctx, `SELECT model FROM indexes WHERE collection = ? AND is_unique = 1`, c.name)
	if err != nil {
		return nil, fmt.Errorf("failed to read indexes of %s: %w", c.name, err)
	}
	defer rows.Close()

	var models []core.IndexModel
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var m core.IndexModel
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, fmt.Errorf("corrupted index definition in %s: %w", c.name, err)
		}
		models = append(models, m)
	}
	return models, rows.Err()
}

// putEntries records the unique-index entries of a document.
func (c *Collection) putEntries(ctx context.Context, tx *sql.Tx, key string, doc bson.Raw, models []core.IndexModel) error {
	for _, m := range models {
		entry, ok := match.IndexEntry(doc, m.Keys, m.Sparse)
		if !ok {
			continue
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO index_entries (collection, name, entry, key) VALUES (?, ?, ?, ?)`,
			c.name, m.Name, entry, key)
		if err != nil {
			if isConstraint(err) {
				return fmt.Errorf("%w: index %s", core.ErrDuplicateKey, m.Name)
			}
			return err
		}
	}
	return nil
}

func (c *Collection) touch(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO collections (name, created_at) VALUES (?, ?)`, c.name, time.Now().Unix())
	return err
}

func (c *Collection) insert(ctx context.Context, tx *sql.Tx, doc bson.Raw, models []core.IndexModel) error {
	doc, id, err := match.EnsureID(doc)
	if err != nil {
		return err
	}
	key := match.Key(id)
	if _, err := tx.ExecContext(ctx, `INSERT INTO documents (collection, key, data) VALUES (?, ?, ?)`, c.name, key, []byte(doc)); err != nil {
		if isConstraint(err) {
			return fmt.Errorf("%w: _id %s", core.ErrDuplicateKey, id)
		}
		return fmt.Errorf("failed to insert document: %w", err)
	}
	if err := c.putEntries(ctx, tx, key, doc, models); err != nil {
		return err
	}
	return c.touch(ctx, tx)
}

func (c *Collection) Find(ctx context.Context, filter bson.Raw, opts *core.FindOptions) (core.Cursor, error) {
	m, err := match.Compile(filter)
	if err != nil {
		return nil, err
	}

	c.db.mu.RLock()
	defer c.db.mu.RUnlock()
	if c.db.closed {
		return nil, core.ErrClosed
	}
	rows, err := c.load(ctx, c.db.db, filter, m, 0)
	if err != nil {
		return nil, err
	}

	docs := make([]bson.Raw, len(rows))
	for i, r := range rows {
		docs[i] = r.doc
	}
	docs, err = match.Find(docs, nil, opts)
	if err != nil {
		return nil, err
	}
	return match.NewCursor(docs), nil
}

func (c *Collection) InsertOne(ctx context.Context, doc bson.Raw) error {
	return c.InsertMany(ctx, []bson.Raw{doc})
}

// InsertMany inserts each document in its own transaction, so the documents
// before a failure stay inserted.
func (c *Collection) InsertMany(ctx context.Context, docs []bson.Raw) error {
	c.db.mu.RLock()
	defer c.db.mu.RUnlock()
	if err := c.db.writable(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	models, err := c.uniqueIndexes(ctx, c.db.db)
	if err != nil {
		return err
	}
	for i, doc := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := c.db.inTx(ctx, func(tx *sql.Tx) error {
			return c.insert(ctx, tx, doc, models)
		})
		if err != nil {
			if len(docs) > 1 {
				return fmt.Errorf("insert document %d: %w", i, err)
			}
			return err
		}
	}
	return nil
}

func (c *Collection) ReplaceOne(ctx context.Context, filter bson.Raw, doc bson.Raw, upsert bool) (core.ReplaceResult, error) {
	m, err := match.Compile(filter)
	if err != nil {
		return core.ReplaceResult{}, err
	}

	c.db.mu.RLock()
	defer c.db.mu.RUnlock()
	if err := c.db.writable(); err != nil {
		return core.ReplaceResult{}, err
	}

	var res core.ReplaceResult
	err = c.db.inTx(ctx, func(tx *sql.Tx) error {
		models, err := c.uniqueIndexes(ctx, tx)
		if err != nil {
			return err
		}
		hits, err := c.load(ctx, tx, filter, m, 1)
		if err != nil {
			return err
		}

		if len(hits) == 0 {
			if !upsert {
				return nil
			}
			if _, err := match.ID(doc); err != nil {
				if id, ok := match.IDEqualityIn(filter); ok {
					if doc, _, err = match.WithID(doc, id); err != nil {
						return err
					}
				}
			}
			if err := c.insert(ctx, tx, doc, models); err != nil {
				return err
			}
			res.Upserted = true
			return nil
		}

		hit := hits[0]
		existing, _ := match.ID(hit.doc)
		if id, err := match.ID(doc); err == nil && !match.Equal(id, existing) {
			return fmt.Errorf("replacement would change immutable _id from %s to %s", existing, id)
		}
		doc, _, err := match.WithID(doc, existing)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM index_entries WHERE collection = ? AND key = ?`, c.name, hit.key); err != nil {
			return err
		}
		if err := c.putEntries(ctx, tx, hit.key, doc, models); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE documents SET data = ? WHERE collection = ? AND key = ?`, []byte(doc), c.name, hit.key); err != nil {
			return fmt.Errorf("failed to replace document: %w", err)
		}
		res.Matched, res.Modified = 1, 1
		return nil
	})
	if err != nil {
		return core.ReplaceResult{}, err
	}
	return res, nil
}

func (c *Collection) DeleteOne(ctx context.Context, filter bson.Raw) (int64, error) {
	return c.delete(ctx, filter, 1)
}

func (c *Collection) DeleteMany(ctx context.Context, filter bson.Raw) (int64, error) {
	return c.delete(ctx, filter, 0)
}

func (c *Collection) delete(ctx context.Context, filter bson.Raw, limit int) (int64, error) {
	m, err := match.Compile(filter)
	if err != nil {
		return 0, err
	}

	c.db.mu.RLock()
	defer c.db.mu.RUnlock()
	if err := c.db.writable(); err != nil {
		return 0, err
	}

	var n int64
	err = c.db.inTx(ctx, func(tx *sql.Tx) error {
		hits, err := c.load(ctx, tx, filter, m, limit)
		if err != nil {
			return err
		}
		for _, h := range hits {
			if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND key = ?`, c.name, h.key); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM index_entries WHERE collection = ? AND key = ?`, c.name, h.key); err != nil {
				return err
			}
		}
		n = int64(len(hits))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete from %s: %w", c.name, err)
	}
	return n, nil
}

func (c *Collection) Count(ctx context.Context, filter bson.Raw) (int64, error) {
	m, err := match.Compile(filter)
	if err != nil {
		return 0, err
	}

	c.db.mu.RLock()
	defer c.db.mu.RUnlock()
	if c.db.closed {
		return 0, core.ErrClosed
	}

	if len(filter) == 0 {
		var n int64
		err := c.db.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE collection = ?`, c.name).Scan(&n)
		if err != nil {
			return 0, fmt.Errorf("failed to count %s: %w", c.name, err)
		}
		return n, nil
	}
	rows, err := c.load(ctx, c.db.db, filter, m, 0)
	if err != nil {
		return 0, err
	}
	return int64(len(rows)), nil
}

func (c *Collection) Indexes() core.Indexes { return &Indexes{coll: c} }

var _ core.Collection = (*Collection)(nil)
