package match

import (
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"

	"github.com/aretw0/mold/pkg/core"
)

// IndexName derives the conventional name of an index from its keys ("name_1_age_-1").
func IndexName(keys []core.IndexKey) string {
	parts := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		dir := "1"
		if k.Descending {
			dir = "-1"
		}
		parts = append(parts, k.Field, dir)
	}
	return strings.Join(parts, "_")
}

// IndexEntry computes the unique-index key of doc. With sparse indexes,
// documents missing every indexed field are not indexed (ok is false).
func IndexEntry(doc bson.Raw, keys []core.IndexKey, sparse bool) (entry string, ok bool) {
	var sb strings.Builder
	present := false
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('|')
		}
		v, found := First(doc, k.Field)
		if found {
			present = true
		} else {
			v = bson.RawValue{Type: bsontype.Null}
		}
		sb.WriteString(Canonical(v))
	}
	if sparse && !present {
		return "", false
	}
	return sb.String(), true
}

// UniqueIndex tracks the entries of one unique index for duplicate detection.
type UniqueIndex struct {
	Model   core.IndexModel
	entries map[string]string // entry -> document key
}

// NewUniqueIndex returns an empty index for model.
func NewUniqueIndex(model core.IndexModel) *UniqueIndex {
	return &UniqueIndex{Model: model, entries: make(map[string]string)}
}

// Check reports ErrDuplicateKey when doc (stored under docKey) collides with another document.
func (u *UniqueIndex) Check(docKey string, doc bson.Raw) error {
	entry, ok := IndexEntry(doc, u.Model.Keys, u.Model.Sparse)
	if !ok {
		return nil
	}
	if owner, taken := u.entries[entry]; taken && owner != docKey {
		return fmt.Errorf("%w: index %s on %s", core.ErrDuplicateKey, u.Model.Name, entry)
	}
	return nil
}

// Put records doc. Call Check first.
func (u *UniqueIndex) Put(docKey string, doc bson.Raw) {
	if entry, ok := IndexEntry(doc, u.Model.Keys, u.Model.Sparse); ok {
		u.entries[entry] = docKey
	}
}

// Remove forgets doc.
func (u *UniqueIndex) Remove(docKey string, doc bson.Raw) {
	if entry, ok := IndexEntry(doc, u.Model.Keys, u.Model.Sparse); ok && u.entries[entry] == docKey {
		delete(u.entries, entry)
	}
}

// Len returns the number of indexed documents.
func (u *UniqueIndex) Len() int { return len(u.entries) }
