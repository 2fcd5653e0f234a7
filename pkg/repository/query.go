package repository

import (
	"context"
	"fmt"
	"iter"
	"slices"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/aretw0/mold/pkg/core"
	"github.com/aretw0/mold/pkg/entity"
	"github.com/aretw0/mold/pkg/filter"
)

// Query is a lazy, composable query over a repository's collection.
// Builder methods return a new Query; nothing runs until a terminal method
// (All, Iter, First, Count, Exists) is called. Filtering, ordering, paging
// and projection are executed by the store.
type Query[T entity.Entity[K], K comparable] struct {
	repo       *Repository[T, K]
	filter     filter.Filter
	sort       bson.D
	projection bson.D
	skip       int64
	limit      int64
	err        error
}

// Query starts a query matching every entity of the repository's type.
func (r *Repository[T, K]) Query() *Query[T, K] {
	return &Query[T, K]{repo: r, filter: filter.All()}
}

// All iterates over every entity of the repository's type.
func (r *Repository[T, K]) All(ctx context.Context) iter.Seq2[T, error] {
	return r.Query().Iter(ctx)
}

// Find returns the entities matching f.
func (r *Repository[T, K]) Find(ctx context.Context, f filter.Filter) ([]T, error) {
	return r.Query().Where(f).All(ctx)
}

func (q *Query[T, K]) clone() *Query[T, K] {
	c := *q
	c.sort = slices.Clone(q.sort)
	c.projection = slices.Clone(q.projection)
	return &c
}

// Where narrows the query; successive calls are combined with AND.
func (q *Query[T, K]) Where(f filter.Filter) *Query[T, K] {
	c := q.clone()
	c.filter = filter.And(q.filter, f)
	return c
}

// OrderBy sorts ascending by a Go field path of T.
func (q *Query[T, K]) OrderBy(goPath string) *Query[T, K] {
	return q.orderBy(goPath, 1)
}

// OrderByDesc sorts descending by a Go field path of T.
func (q *Query[T, K]) OrderByDesc(goPath string) *Query[T, K] {
	return q.orderBy(goPath, -1)
}

func (q *Query[T, K]) orderBy(goPath string, dir int) *Query[T, K] {
	c := q.clone()
	key, err := q.repo.fields.Path(goPath)
	if err != nil {
		c.err = err
		return c
	}
	c.sort = append(c.sort, bson.E{Key: key, Value: dir})
	return c
}

// Sort orders by a raw document key path; dir is 1 or -1.
func (q *Query[T, K]) Sort(key string, dir int) *Query[T, K] {
	c := q.clone()
	if dir != 1 && dir != -1 {
		c.err = fmt.Errorf("%w: sort direction %d", filter.ErrUnsupportedPredicate, dir)
		return c
	}
	c.sort = append(c.sort, bson.E{Key: key, Value: dir})
	return c
}

// Skip drops the first n results.
func (q *Query[T, K]) Skip(n int64) *Query[T, K] {
	c := q.clone()
	c.skip = n
	return c
}

// Limit caps the number of results; zero means no limit.
func (q *Query[T, K]) Limit(n int64) *Query[T, K] {
	c := q.clone()
	c.limit = n
	return c
}

// Select restricts the loaded fields to the given Go field paths (plus the identifier).
// Fields left out keep their zero values.
func (q *Query[T, K]) Select(goPaths ...string) *Query[T, K] {
	c := q.clone()
	for _, p := range goPaths {
		key, err := q.repo.fields.Path(p)
		if err != nil {
			c.err = err
			return c
		}
		c.projection = append(c.projection, bson.E{Key: key, Value: 1})
	}
	return c
}

// SelectKeys is Select with raw document key paths.
func (q *Query[T, K]) SelectKeys(keys ...string) *Query[T, K] {
	c := q.clone()
	for _, k := range keys {
		c.projection = append(c.projection, bson.E{Key: k, Value: 1})
	}
	return c
}

func (q *Query[T, K]) cursor(ctx context.Context) (core.Cursor, error) {
	if q.err != nil {
		return nil, q.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := q.repo.render(q.filter)
	if err != nil {
		return nil, err
	}
	return q.repo.coll.Find(ctx, raw, &core.FindOptions{
		Skip:       q.skip,
		Limit:      q.limit,
		Sort:       q.sort,
		Projection: q.projection,
	})
}

// Iter streams the results. Iteration stops at the first error, which is
// yielded with a zero entity.
func (q *Query[T, K]) Iter(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		cur, err := q.cursor(ctx)
		if err != nil {
			yield(zero, err)
			return
		}
		defer cur.Close(ctx)

		for cur.Next(ctx) {
			e, err := q.repo.decode(cur.Current())
			if err != nil {
				yield(zero, err)
				return
			}
			if !yield(e, nil) {
				return
			}
		}
		if err := cur.Err(); err != nil {
			yield(zero, err)
		}
	}
}

// All materializes the results.
func (q *Query[T, K]) All(ctx context.Context) ([]T, error) {
	var out []T
	for e, err := range q.Iter(ctx) {
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// First returns the first result, if any.
func (q *Query[T, K]) First(ctx context.Context) (T, bool, error) {
	for e, err := range q.Limit(1).Iter(ctx) {
		if err != nil {
			var zero T
			return zero, false, err
		}
		return e, true, nil
	}
	var zero T
	return zero, false, nil
}

// Count counts the matching entities. Skip and limit are ignored.
func (q *Query[T, K]) Count(ctx context.Context) (int64, error) {
	if q.err != nil {
		return 0, q.err
	}
	return q.repo.CountWhere(ctx, q.filter)
}

// Exists reports whether at least one entity matches, fetching no more than one identifier.
func (q *Query[T, K]) Exists(ctx context.Context) (bool, error) {
	c := q.clone()
	c.limit = 1
	c.sort = nil
	c.projection = bson.D{{Key: "_id", Value: 1}}
	cur, err := c.cursor(ctx)
	if err != nil {
		return false, err
	}
	defer cur.Close(ctx)
	if cur.Next(ctx) {
		return true, nil
	}
	return false, cur.Err()
}

// Project runs q and decodes each result into P, typically a struct holding
// a subset of the entity's fields. Combine with Select to load only those.
func Project[P any, T entity.Entity[K], K comparable](ctx context.Context, q *Query[T, K]) ([]P, error) {
	cur, err := q.cursor(ctx)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []P
	for cur.Next(ctx) {
		var p P
		if err := q.repo.codec.Unmarshal(cur.Current(), &p); err != nil {
			return nil, fmt.Errorf("project: %w", err)
		}
		out = append(out, p)
	}
	return out, cur.Err()
}
