package store_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/alecthomas/assert/v2"

	"github.com/cratemirror/cratemirror/internal/store"
)

func TestDiskExistsAndCreate(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	d := store.NewDisk(dir)
	key := store.Key{Name: "foo", Version: "1.0.0"}

	exists, err := d.Exists(ctx, key)
	assert.NoError(t, err)
	assert.False(t, exists)

	w, err := d.Create(ctx, key)
	assert.NoError(t, err)
	_, err = w.Write([]byte("tarball-bytes"))
	assert.NoError(t, err)
	assert.NoError(t, w.Close())

	exists, err = d.Exists(ctx, key)
	assert.NoError(t, err)
	assert.True(t, exists)

	want := filepath.Join(dir, "foo", "foo-1.0.0.crate")
	got, err := os.ReadFile(want)
	assert.NoError(t, err)
	assert.Equal(t, "tarball-bytes", string(got))
}

func TestDiskCreateTruncatesPartialFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	d := store.NewDisk(dir)
	key := store.Key{Name: "foo", Version: "1.0.0"}

	assert.NoError(t, os.MkdirAll(filepath.Join(dir, "foo"), 0o755))
	path := filepath.Join(dir, "foo", "foo-1.0.0.crate")
	assert.NoError(t, os.WriteFile(path, []byte("a very long stale partial download body"), 0o644))

	w, err := d.Create(ctx, key)
	assert.NoError(t, err)
	_, err = w.Write([]byte("short"))
	assert.NoError(t, err)
	assert.NoError(t, w.Close())

	got, err := os.ReadFile(path)
	assert.NoError(t, err)
	// No stale suffix bytes from the previous, longer write must remain.
	assert.Equal(t, "short", string(got))
}

func TestDiskDownloadIdempotence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	d := store.NewDisk(dir)
	key := store.Key{Name: "foo", Version: "1.0.0"}

	assert.NoError(t, os.MkdirAll(filepath.Join(dir, "foo"), 0o755))
	path := filepath.Join(dir, "foo", "foo-1.0.0.crate")
	assert.NoError(t, os.WriteFile(path, []byte("arbitrary"), 0o644))

	exists, err := d.Exists(ctx, key)
	assert.NoError(t, err)
	assert.True(t, exists)

	got, err := os.ReadFile(path)
	assert.NoError(t, err)
	assert.Equal(t, "arbitrary", string(got))
}

func TestDiskOpenNotExist(t *testing.T) {
	ctx := context.Background()
	d := store.NewDisk(t.TempDir())

	_, err := d.Open(ctx, store.Key{Name: "bar", Version: "2.0.0"})
	assert.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrNotExist))
}

func TestDiskRemoveMissingIsNotError(t *testing.T) {
	ctx := context.Background()
	d := store.NewDisk(t.TempDir())
	assert.NoError(t, d.Remove(ctx, store.Key{Name: "missing", Version: "1.0.0"}))
}

func TestKeyPath(t *testing.T) {
	k := store.Key{Name: "foo", Version: "1.2.3"}
	assert.Equal(t, "foo/foo-1.2.3.crate", k.Path())
}
