package fs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

// indexEntry is the decoded form of one document file.
type indexEntry struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
	Doc          []byte    `json:"doc"`
}

// index represents the persistent cache state.
type index struct {
	Version int                    `json:"version"`
	Entries map[string]*indexEntry `json:"entries"` // Key is relative path (e.g. "people/ada.json")
	dirty   bool
	mu      sync.RWMutex
}

// cache keeps decoded documents keyed by file path and modification time,
// so unchanged files are not parsed again on every scan.
type cache struct {
	Path  string // Path to .mold/cache.json
	index *index
}

func newCache(root, systemDir string) *cache {
	return &cache{
		Path: filepath.Join(root, systemDir, "cache.json"),
		index: &index{
			Version: 1,
			Entries: make(map[string]*indexEntry),
		},
	}
}

// Load reads the cache from disk. A missing or corrupted file yields an empty cache.
func (c *cache) Load() error {
	c.index.mu.Lock()
	defer c.index.mu.Unlock()

	data, err := os.ReadFile(c.Path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read cache: %w", err)
	}

	if err := json.Unmarshal(data, c.index); err != nil || c.index.Entries == nil {
		c.index.Entries = make(map[string]*indexEntry)
		return nil
	}

	c.index.dirty = false
	return nil
}

// Save persists the cache if it changed since the last Load or Save.
func (c *cache) Save() error {
	c.index.mu.RLock()
	if !c.index.dirty {
		c.index.mu.RUnlock()
		return nil
	}
	data, err := json.Marshal(c.index)
	c.index.mu.RUnlock()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(c.Path), 0755); err != nil {
		return err
	}
	if err := writeFileAtomic(c.Path, data, 0644); err != nil {
		return err
	}

	c.index.mu.Lock()
	c.index.dirty = false
	c.index.mu.Unlock()
	return nil
}

// Get returns the cached document when the entry matches the file's mtime and size.
func (c *cache) Get(relPath string, mtime time.Time, size int64) (*indexEntry, bool) {
	c.index.mu.RLock()
	defer c.index.mu.RUnlock()

	entry, ok := c.index.Entries[relPath]
	if !ok {
		return nil, false
	}
	if !entry.LastModified.Equal(mtime) || entry.Size != size {
		return nil, false
	}
	return entry, true
}

// Set records the decoded document of a file.
func (c *cache) Set(relPath string, info os.FileInfo, key string, doc bson.Raw) {
	c.index.mu.Lock()
	defer c.index.mu.Unlock()

	c.index.Entries[relPath] = &indexEntry{
		Key:          key,
		Size:         info.Size(),
		LastModified: info.ModTime(),
		Doc:          doc,
	}
	c.index.dirty = true
}

// Delete removes a single entry.
func (c *cache) Delete(relPath string) {
	c.index.mu.Lock()
	defer c.index.mu.Unlock()

	if _, ok := c.index.Entries[relPath]; ok {
		delete(c.index.Entries, relPath)
		c.index.dirty = true
	}
}

// Prune removes the entries under dir that are not in keep.
func (c *cache) Prune(dir string, keep map[string]bool) {
	c.index.mu.Lock()
	defer c.index.mu.Unlock()

	prefix := dir + "/"
	for path := range c.index.Entries {
		if strings.HasPrefix(path, prefix) && !keep[path] {
			delete(c.index.Entries, path)
			c.index.dirty = true
		}
	}
}

// Len returns the number of entries in the cache.
func (c *cache) Len() int {
	c.index.mu.RLock()
	defer c.index.mu.RUnlock()
	return len(c.index.Entries)
}
