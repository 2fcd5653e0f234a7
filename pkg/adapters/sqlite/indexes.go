package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/aretw0/mold/internal/match"
	"github.com/aretw0/mold/pkg/core"
)

// IDIndex is the name of the implicit primary key index.
const IDIndex = "_id_"

// Indexes manages the indexes of a collection. Definitions live in the
// indexes table; unique ones keep one row per indexed value in index_entries.
type Indexes struct {
	coll *Collection
}

func (ix *Indexes) Create(ctx context.Context, model core.IndexModel) (string, error) {
	if len(model.Keys) == 0 {
		return "", fmt.Errorf("%w: index needs at least one key", core.ErrConfiguration)
	}
	if model.Name == "" {
		model.Name = match.IndexName(model.Keys)
	}
	data, err := json.Marshal(model)
	if err != nil {
		return "", err
	}

	c := ix.coll
	c.db.mu.RLock()
	defer c.db.mu.RUnlock()
	if err := c.db.writable(); err != nil {
		return "", err
	}

	err = c.db.inTx(ctx, func(tx *sql.Tx) error {
		var raw string
		err := tx.QueryRowContext(ctx, `SELECT model FROM indexes WHERE collection = ? AND name = ?`, c.name, model.Name).Scan(&raw)
		switch {
		case err == nil:
			var existing core.IndexModel
			if err := json.Unmarshal([]byte(raw), &existing); err != nil {
				return fmt.Errorf("corrupted index definition %s: %w", model.Name, err)
			}
			if !reflect.DeepEqual(existing, model) {
				return fmt.Errorf("index %s already exists with different options", model.Name)
			}
			return nil
		case !errors.Is(err, sql.ErrNoRows):
			return err
		}

		if model.Unique {
			if err := c.buildEntries(ctx, tx, model); err != nil {
				return err
			}
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO indexes (collection, name, model, is_unique) VALUES (?, ?, ?, ?)`,
			c.name, model.Name, string(data), model.Unique)
		if err != nil {
			return err
		}
		return c.touch(ctx, tx)
	})
	if err != nil {
		return "", err
	}
	c.db.logger.Debug("index created", "collection", c.name, "index", model.Name, "unique", model.Unique)
	return model.Name, nil
}

// buildEntries indexes every stored document under model, failing on the
// first duplicate.
func (c *Collection) buildEntries(ctx context.Context, tx *sql.Tx, model core.IndexModel) error {
	rows, err := c.load(ctx, tx, nil, match.All, 0)
	if err != nil {
		return err
	}
	for _, r := range rows {
		if err := c.putEntries(ctx, tx, r.key, r.doc, []core.IndexModel{model}); err != nil {
			return err
		}
	}
	return nil
}

func (ix *Indexes) Drop(ctx context.Context, name string) error {
	if name == IDIndex {
		return fmt.Errorf("%w: cannot drop the %s index", core.ErrUnsupported, IDIndex)
	}
	c := ix.coll
	c.db.mu.RLock()
	defer c.db.mu.RUnlock()
	if err := c.db.writable(); err != nil {
		return err
	}

	return c.db.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM indexes WHERE collection = ? AND name = ?`, c.name, name)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: index %s", core.ErrNotFound, name)
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM index_entries WHERE collection = ? AND name = ?`, c.name, name)
		return err
	})
}

func (ix *Indexes) DropAll(ctx context.Context) error {
	c := ix.coll
	c.db.mu.RLock()
	defer c.db.mu.RUnlock()
	if err := c.db.writable(); err != nil {
		return err
	}
	return c.db.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM indexes WHERE collection = ?`, c.name); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM index_entries WHERE collection = ?`, c.name)
		return err
	})
}

func (ix *Indexes) List(ctx context.Context) ([]core.IndexInfo, error) {
	c := ix.coll
	c.db.mu.RLock()
	defer c.db.mu.RUnlock()
	if c.db.closed {
		return nil, core.ErrClosed
	}
	exists, err := c.db.exists(ctx, c.name)
	if err != nil || !exists {
		return nil, err
	}

	rows, err := c.db.db.QueryContext(ctx, `SELECT model FROM indexes WHERE collection = ? ORDER BY name`, c.name)
	if err != nil {
		return nil, fmt.Errorf("failed to list indexes of %s: %w", c.name, err)
	}
	defer rows.Close()

	out := []core.IndexInfo{{Name: IDIndex, Keys: []core.IndexKey{{Field: "_id"}}, Unique: true}}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var m core.IndexModel
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, fmt.Errorf("corrupted index definition in %s: %w", c.name, err)
		}
		out = append(out, core.IndexInfo{Name: m.Name, Keys: m.Keys, Unique: m.Unique, Sparse: m.Sparse})
	}
	return out, rows.Err()
}

func (d *Database) exists(ctx context.Context, name string) (bool, error) {
	var n int
	err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM collections WHERE name = ?`, name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to look up collection %s: %w", name, err)
	}
	return n > 0, nil
}

// ReIndex rebuilds the unique-index entries of a collection from its
// documents, then lets SQLite rebuild its own b-tree indexes.
func (d *Database) ReIndex(ctx context.Context, name string) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.writable(); err != nil {
		return err
	}
	exists, err := d.exists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: collection %s", core.ErrNotFound, name)
	}

	c := &Collection{db: d, name: name}
	err = d.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM index_entries WHERE collection = ?`, name); err != nil {
			return err
		}
		models, err := c.uniqueIndexes(ctx, tx)
		if err != nil {
			return err
		}
		for _, m := range models {
			if err := c.buildEntries(ctx, tx, m); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to reindex %s: %w", name, err)
	}
	if _, err := d.db.ExecContext(ctx, `REINDEX`); err != nil {
		return fmt.Errorf("failed to reindex %s: %w", name, err)
	}
	d.logger.Debug("collection reindexed", "collection", name)
	return nil
}

// Stats summarizes a collection.
func (d *Database) Stats(ctx context.Context, name string) (core.CollectionStats, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return core.CollectionStats{}, core.ErrClosed
	}
	exists, err := d.exists(ctx, name)
	if err != nil {
		return core.CollectionStats{}, err
	}
	if !exists {
		return core.CollectionStats{}, fmt.Errorf("%w: collection %s", core.ErrNotFound, name)
	}

	st := core.CollectionStats{Name: name, StorageType: "sqlite"}
	err = d.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(length(data)), 0) FROM documents WHERE collection = ?`, name).
		Scan(&st.Count, &st.Size)
	if err != nil {
		return core.CollectionStats{}, fmt.Errorf("failed to compute stats of %s: %w", name, err)
	}
	err = d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM indexes WHERE collection = ?`, name).Scan(&st.IndexCount)
	if err != nil {
		return core.CollectionStats{}, fmt.Errorf("failed to compute stats of %s: %w", name, err)
	}
	st.IndexCount++
	if st.Count > 0 {
		st.AvgObjSize = st.Size / st.Count
	}
	return st, nil
}
