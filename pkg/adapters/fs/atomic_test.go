package fs

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/aretw0/mold/internal/storetest"
)

func TestWriteFileAtomic(t *testing.T) {
	t.Run("Replaces Existing File", func(t *testing.T) {
		filename := filepath.Join(t.TempDir(), "doc.json")
		if err := os.WriteFile(filename, []byte("initial"), 0644); err != nil {
			t.Fatalf("setup failed: %v", err)
		}
		if err := writeFileAtomic(filename, []byte("overwritten"), 0600); err != nil {
			t.Fatalf("writeFileAtomic failed: %v", err)
		}
		got, err := os.ReadFile(filename)
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != "overwritten" {
			t.Errorf("expected 'overwritten', got '%s'", got)
		}
	})

	t.Run("Fails Without Directory", func(t *testing.T) {
		dir := t.TempDir()
		if err := writeFileAtomic(filepath.Join(dir, "missing", "doc.json"), []byte("x"), 0644); err == nil {
			t.Error("expected an error for a missing directory")
		}
		assertNoTempFiles(t, dir)
	})
}

// assertNoTempFiles fails when a scratch file survived under dir.
func assertNoTempFiles(t *testing.T, dir string) {
	t.Helper()
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if strings.HasPrefix(d.Name(), TempFilePrefix) {
			t.Errorf("leftover temp file %s", path)
		}
		return nil
	})
	require.NoError(t, err)
}

func TestCollection_WritesDocumentFiles(t *testing.T) {
	ctx := context.Background()

	for _, tc := range []struct {
		format     string
		serializer Serializer
	}{
		{"json", JSONSerializer{}},
		{"yaml", YAMLSerializer{}},
	} {
		t.Run(tc.format, func(t *testing.T) {
			db := open(t, Config{Format: tc.format})
			coll := db.Collection("notes")
			path := filepath.Join(db.Path, "notes", "a%2Fb"+tc.serializer.Ext())

			readBody := func() string {
				t.Helper()
				data, err := os.ReadFile(path)
				require.NoError(t, err)
				doc, err := tc.serializer.Unmarshal(data)
				require.NoError(t, err)
				assert.Equal(t, "a/b", doc.Lookup("_id").StringValue())
				return doc.Lookup("body").StringValue()
			}

			require.NoError(t, coll.InsertOne(ctx, storetest.Doc(t, bson.D{{Key: "_id", Value: "a/b"}, {Key: "body", Value: "one"}})))
			assert.Equal(t, "one", readBody())
			assertNoTempFiles(t, db.Path)

			res, err := coll.ReplaceOne(ctx, storetest.Doc(t, bson.D{{Key: "_id", Value: "a/b"}}), storetest.Doc(t, bson.D{{Key: "body", Value: "two"}}), false)
			require.NoError(t, err)
			assert.Equal(t, int64(1), res.Modified)
			assert.Equal(t, "two", readBody())
			assertNoTempFiles(t, db.Path)

			entries, err := os.ReadDir(filepath.Join(db.Path, "notes"))
			require.NoError(t, err)
			var names []string
			for _, e := range entries {
				names = append(names, e.Name())
			}
			assert.Equal(t, []string{"a%2Fb" + tc.serializer.Ext()}, names)
		})
	}
}
