// Package repository maps strongly-typed entities onto collections of a
// document store: CRUD, upsert, predicate-based delete, count and exists,
// and a lazy query surface, without per-entity access code.
//
//	repo, err := repository.New[*Customer, string](db)
//	c, err := repo.Add(ctx, &Customer{Name: "Ada"}) // c.ID is generated
//	n, err := repo.CountWhere(ctx, filter.Eq("name", "Ada"))
//
// Predicates are rendered to store-native filters and never evaluated
// client-side. Entities of a hierarchy sharing one collection are told
// apart by a "_t" discriminator holding their type chain.
package repository

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/aretw0/mold/pkg/core"
	"github.com/aretw0/mold/pkg/entity"
	"github.com/aretw0/mold/pkg/filter"
	"github.com/aretw0/mold/pkg/naming"
	"github.com/aretw0/mold/pkg/serialization"
)

// DiscriminatorKey holds the type chain of documents stored in a shared collection.
const DiscriminatorKey = "_t"

// Repository is the generic data access surface for entities of type T
// (a pointer to struct) identified by keys of type K.
// It is safe for concurrent use; its binding never changes after New.
type Repository[T entity.Entity[K], K comparable] struct {
	db      core.Database
	coll    core.Collection
	binding naming.Binding
	scope   bson.D
	elem    reflect.Type
	codec   *serialization.Codec
	gen     entity.Generator[K]
	base    *slog.Logger
	logger  *slog.Logger
	fields  filter.Fields[T]
}

// New binds a repository for T to its resolved collection in db.
// Resolution failures are configuration errors.
func New[T entity.Entity[K], K comparable](db core.Database, opts ...Option) (*Repository[T, K], error) {
	if db == nil {
		return nil, fmt.Errorf("%w: nil database", core.ErrConfiguration)
	}
	o := buildOptions(opts)

	t := reflect.TypeFor[T]()
	if t.Kind() != reflect.Pointer || t.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: entity type %v must be a pointer to a struct", core.ErrConfiguration, t)
	}

	binding, err := naming.Resolve(t)
	if err != nil {
		return nil, err
	}
	if o.collection != "" {
		binding.Name = o.collection
	}

	r := &Repository[T, K]{
		db:      db,
		coll:    db.Collection(binding.Name),
		binding: binding,
		elem:    t.Elem(),
		codec:   o.codec,
		base:    o.logger,
		logger:  o.logger.With("collection", binding.Name),
		fields:  filter.Of[T](),
	}
	if binding.Shared() {
		r.scope = bson.D{{Key: DiscriminatorKey, Value: binding.Leaf()}}
	}

	switch gen := o.generator.(type) {
	case nil:
		r.gen, _ = entity.DefaultGenerator[K]()
	case entity.Generator[K]:
		r.gen = gen
	default:
		return nil, fmt.Errorf("%w: id generator %T does not produce %v", core.ErrConfiguration, gen, reflect.TypeFor[K]())
	}
	return r, nil
}

// Binding returns the resolved collection binding.
func (r *Repository[T, K]) Binding() naming.Binding { return r.binding }

// CollectionName returns the physical collection name.
func (r *Repository[T, K]) CollectionName() string { return r.binding.Name }

// Collection returns the underlying store handle, for native operations.
func (r *Repository[T, K]) Collection() core.Collection { return r.coll }

// Fields returns the typed path resolver for T.
func (r *Repository[T, K]) Fields() filter.Fields[T] { return r.fields }

func (r *Repository[T, K]) newEntity() T {
	return reflect.New(r.elem).Interface().(T)
}

// render turns f into a store filter scoped to the repository's type.
func (r *Repository[T, K]) render(f filter.Filter) (bson.Raw, error) {
	doc, err := f.Document()
	if err != nil {
		return nil, err
	}
	switch {
	case r.scope == nil:
	case len(doc) == 0:
		doc = r.scope
	default:
		doc = bson.D{{Key: "$and", Value: bson.A{r.scope, doc}}}
	}
	return r.codec.Marshal(doc)
}

func (r *Repository[T, K]) idFilter(id K) (bson.Raw, error) {
	return r.render(filter.ID(id))
}

// encode marshals e and stamps the discriminator when the collection is shared.
func (r *Repository[T, K]) encode(e T) (bson.Raw, error) {
	raw, err := r.codec.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", r.binding.Leaf(), err)
	}
	if !r.binding.Shared() {
		return raw, nil
	}
	return withDiscriminator(raw, r.binding.Chain)
}

func withDiscriminator(raw bson.Raw, chain []string) (bson.Raw, error) {
	elems, err := raw.Elements()
	if err != nil {
		return nil, err
	}
	values := make([]bsoncore.Value, 0, len(chain))
	for _, name := range chain {
		values = append(values, bsoncore.Value{Type: bsontype.String, Data: bsoncore.AppendString(nil, name)})
	}

	idx, dst := bsoncore.AppendDocumentStart(nil)
	for _, e := range elems {
		if e.Key() == DiscriminatorKey {
			continue
		}
		dst = append(dst, e...)
	}
	dst = bsoncore.BuildArrayElement(dst, DiscriminatorKey, values...)
	dst, err = bsoncore.AppendDocumentEnd(dst, idx)
	if err != nil {
		return nil, err
	}
	return bson.Raw(dst), nil
}

func (r *Repository[T, K]) decode(raw bson.Raw) (T, error) {
	e := r.newEntity()
	if err := r.codec.Unmarshal(raw, e); err != nil {
		var zero T
		return zero, fmt.Errorf("decode %s: %w", r.binding.Leaf(), err)
	}
	return e, nil
}

// assignID generates an identifier when e has none and reports whether it did.
func (r *Repository[T, K]) assignID(e T) (bool, error) {
	if !entity.IsZero(e.GetID()) {
		return false, nil
	}
	if r.gen == nil {
		return false, fmt.Errorf("%w: %s keys of type %v", core.ErrMissingID, r.binding.Leaf(), reflect.TypeFor[K]())
	}
	id, err := r.gen()
	if err != nil {
		return false, fmt.Errorf("generate id: %w", err)
	}
	e.SetID(id)
	return true, nil
}

// clearIDs puts generated identifiers back to the zero key after a failed write.
func clearIDs[T entity.Entity[K], K comparable](es []T) {
	var zero K
	for _, e := range es {
		e.SetID(zero)
	}
}

func isNil[T any](e T) bool {
	v := reflect.ValueOf(e)
	return !v.IsValid() || (v.Kind() == reflect.Pointer && v.IsNil())
}

// GetByID returns the entity with the given identifier.
// A missing entity is reported by ok == false, not by an error.
func (r *Repository[T, K]) GetByID(ctx context.Context, id K) (e T, ok bool, err error) {
	if err := ctx.Err(); err != nil {
		return e, false, err
	}
	f, err := r.idFilter(id)
	if err != nil {
		return e, false, err
	}
	cur, err := r.coll.Find(ctx, f, &core.FindOptions{Limit: 1})
	if err != nil {
		return e, false, err
	}
	defer cur.Close(ctx)

	if !cur.Next(ctx) {
		return e, false, cur.Err()
	}
	e, err = r.decode(cur.Current())
	if err != nil {
		return e, false, err
	}
	return e, true, nil
}

// Add inserts e. An unset identifier is generated and written back onto e;
// if the insert then fails, e's identifier is reset to the zero key.
func (r *Repository[T, K]) Add(ctx context.Context, e T) (T, error) {
	if err := ctx.Err(); err != nil {
		return e, err
	}
	if isNil(e) {
		return e, fmt.Errorf("add: nil entity")
	}
	generated, err := r.assignID(e)
	if err != nil {
		return e, err
	}
	raw, err := r.encode(e)
	if err == nil {
		err = r.coll.InsertOne(ctx, raw)
	}
	if err != nil {
		if generated {
			clearIDs[T, K]([]T{e})
		}
		return e, err
	}
	r.logger.Debug("entity added", "id", e.GetID())
	return e, nil
}

// AddMany inserts es with a single store call. A failure is reported as one
// error; which documents were stored before it is up to the store. Generated
// identifiers are reset to the zero key on failure.
func (r *Repository[T, K]) AddMany(ctx context.Context, es []T) (_ []T, err error) {
	if err := ctx.Err(); err != nil {
		return es, err
	}
	if len(es) == 0 {
		return es, nil
	}
	var generated []T
	defer func() {
		if err != nil {
			clearIDs[T, K](generated)
		}
	}()
	docs := make([]bson.Raw, 0, len(es))
	for i, e := range es {
		if isNil(e) {
			return es, fmt.Errorf("add many: nil entity at %d", i)
		}
		gen, err := r.assignID(e)
		if err != nil {
			return es, err
		}
		if gen {
			generated = append(generated, e)
		}
		raw, err := r.encode(e)
		if err != nil {
			return es, err
		}
		docs = append(docs, raw)
	}
	if err := r.coll.InsertMany(ctx, docs); err != nil {
		return es, fmt.Errorf("add many: %w", err)
	}
	r.logger.Debug("entities added", "count", len(es))
	return es, nil
}

// Update replaces the stored entity with e's identifier, inserting it when absent.
// An identifier generated for the insert is reset to the zero key on failure.
func (r *Repository[T, K]) Update(ctx context.Context, e T) (_ T, err error) {
	if err := ctx.Err(); err != nil {
		return e, err
	}
	if isNil(e) {
		return e, fmt.Errorf("update: nil entity")
	}
	generated, err := r.assignID(e)
	if err != nil {
		return e, err
	}
	defer func() {
		if err != nil && generated {
			clearIDs[T, K]([]T{e})
		}
	}()
	raw, err := r.encode(e)
	if err != nil {
		return e, err
	}
	f, err := r.idFilter(e.GetID())
	if err != nil {
		return e, err
	}
	res, err := r.coll.ReplaceOne(ctx, f, raw, true)
	if err != nil {
		return e, err
	}
	r.logger.Debug("entity updated", "id", e.GetID(), "upserted", res.Upserted)
	return e, nil
}

// UpdateMany upserts es one at a time. It is not atomic: when item i fails,
// items before i stay updated, the rest are not attempted, and the returned
// *BatchError says where it stopped.
func (r *Repository[T, K]) UpdateMany(ctx context.Context, es []T) ([]T, error) {
	for i, e := range es {
		if err := ctx.Err(); err != nil {
			return es[:i], r.batchFailure("update many", i, err)
		}
		if _, err := r.Update(ctx, e); err != nil {
			return es[:i], r.batchFailure("update many", i, err)
		}
	}
	return es, nil
}

func (r *Repository[T, K]) batchFailure(op string, i int, err error) error {
	if i > 0 {
		r.logger.Warn("batch partially applied", "op", op, "completed", i, "error", err)
	}
	return &BatchError{Op: op, Index: i, Completed: i, Err: err}
}

// Delete removes the entity with the given identifier and reports whether it existed.
func (r *Repository[T, K]) Delete(ctx context.Context, id K) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	f, err := r.idFilter(id)
	if err != nil {
		return false, err
	}
	n, err := r.coll.DeleteOne(ctx, f)
	if err != nil {
		return false, err
	}
	r.logger.Debug("entity deleted", "id", id, "found", n > 0)
	return n > 0, nil
}

// DeleteEntity removes e by its identifier.
func (r *Repository[T, K]) DeleteEntity(ctx context.Context, e T) (bool, error) {
	if isNil(e) {
		return false, fmt.Errorf("delete: nil entity")
	}
	return r.Delete(ctx, e.GetID())
}

// DeleteWhere removes every entity matching f and returns how many were removed.
func (r *Repository[T, K]) DeleteWhere(ctx context.Context, f filter.Filter) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	raw, err := r.render(f)
	if err != nil {
		return 0, err
	}
	n, err := r.coll.DeleteMany(ctx, raw)
	if err != nil {
		return n, err
	}
	r.logger.Debug("entities deleted", "count", n)
	return n, nil
}

// DeleteAll removes every entity of the repository's type.
func (r *Repository[T, K]) DeleteAll(ctx context.Context) (int64, error) {
	return r.DeleteWhere(ctx, filter.All())
}

// Count returns the number of entities of the repository's type.
func (r *Repository[T, K]) Count(ctx context.Context) (int64, error) {
	return r.CountWhere(ctx, filter.All())
}

// CountWhere returns the number of entities matching f.
func (r *Repository[T, K]) CountWhere(ctx context.Context, f filter.Filter) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	raw, err := r.render(f)
	if err != nil {
		return 0, err
	}
	return r.coll.Count(ctx, raw)
}

// Exists reports whether any entity matches f, using a limit-1 store-side find.
func (r *Repository[T, K]) Exists(ctx context.Context, f filter.Filter) (bool, error) {
	return r.Query().Where(f).Exists(ctx)
}

// Watch streams change events of the repository's collection when the store
// supports it. Shared collections report changes of every type in the hierarchy.
func (r *Repository[T, K]) Watch(ctx context.Context) (<-chan core.Event, error) {
	w, ok := r.db.(core.Watchable)
	if !ok {
		return nil, fmt.Errorf("%w: watch", core.ErrUnsupported)
	}
	return w.Watch(ctx, r.binding.Name)
}

// Manager returns the administrative counterpart bound to the same collection.
func (r *Repository[T, K]) Manager() *Manager {
	return NewManager(r.db, r.binding.Name, WithLogger(r.base))
}
