package fs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

type fakeInfo struct {
	os.FileInfo
	size  int64
	mtime time.Time
}

func (f fakeInfo) Size() int64        { return f.size }
func (f fakeInfo) ModTime() time.Time { return f.mtime }

func TestCache(t *testing.T) {
	doc, err := bson.Marshal(bson.D{{Key: "_id", Value: "a"}})
	require.NoError(t, err)
	mtime := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("Starts Empty if File Missing", func(t *testing.T) {
		c := newCache(t.TempDir(), ".mold")
		require.NoError(t, c.Load())
		assert.Zero(t, c.Len())
	})

	t.Run("Hit Requires Same Mtime And Size", func(t *testing.T) {
		c := newCache(t.TempDir(), ".mold")
		c.Set("people/a.json", fakeInfo{size: 10, mtime: mtime}, "a", doc)

		entry, ok := c.Get("people/a.json", mtime, 10)
		require.True(t, ok)
		assert.Equal(t, "a", entry.Key)
		assert.Equal(t, []byte(doc), entry.Doc)

		_, ok = c.Get("people/a.json", mtime.Add(time.Second), 10)
		assert.False(t, ok)
		_, ok = c.Get("people/a.json", mtime, 11)
		assert.False(t, ok)
	})

	t.Run("Persists Across Load", func(t *testing.T) {
		root := t.TempDir()
		c := newCache(root, ".mold")
		c.Set("people/a.json", fakeInfo{size: 10, mtime: mtime}, "a", doc)
		require.NoError(t, c.Save())

		reloaded := newCache(root, ".mold")
		require.NoError(t, reloaded.Load())
		entry, ok := reloaded.Get("people/a.json", mtime, 10)
		require.True(t, ok)
		assert.Equal(t, []byte(doc), entry.Doc)
	})

	t.Run("Resets on Corrupted JSON", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(root, ".mold"), 0755))
		require.NoError(t, os.WriteFile(filepath.Join(root, ".mold", "cache.json"), []byte("{not json"), 0644))

		c := newCache(root, ".mold")
		require.NoError(t, c.Load())
		assert.Zero(t, c.Len())
	})

	t.Run("Prune Only Touches Its Directory", func(t *testing.T) {
		c := newCache(t.TempDir(), ".mold")
		info := fakeInfo{size: 1, mtime: mtime}
		c.Set("people/a.json", info, "a", doc)
		c.Set("people/b.json", info, "b", doc)
		c.Set("orders/a.json", info, "a", doc)

		c.Prune("people", map[string]bool{"people/a.json": true})
		assert.Equal(t, 2, c.Len())
		_, ok := c.Get("orders/a.json", mtime, 1)
		assert.True(t, ok)
		_, ok = c.Get("people/b.json", mtime, 1)
		assert.False(t, ok)
	})
}
