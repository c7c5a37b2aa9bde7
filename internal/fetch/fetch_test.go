package fetch_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"

	"github.com/cratemirror/cratemirror/internal/crate"
	"github.com/cratemirror/cratemirror/internal/fetch"
	"github.com/cratemirror/cratemirror/internal/store"
)

// newDiskBackend returns a fresh disk-backed store rooted at a temp dir.
func newDiskBackend(t *testing.T) (*store.Disk, string) {
	t.Helper()
	dir := t.TempDir()
	return &store.Disk{Folder: dir}, dir
}

func TestDownloadIdempotentWhenAlreadyStored(t *testing.T) {
	backend, dir := newDiskBackend(t)

	key := store.Key{Name: "foo", Version: "1.0.0"}
	path := filepath.Join(dir, key.Path())
	assert.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	assert.NoError(t, os.WriteFile(path, []byte("arbitrary bytes"), 0o644))

	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	registryDir := t.TempDir()
	writeIndexFile(t, registryDir, "fo/o/foo", `{"name":"foo","vers":"1.0.0","cksum":"aabb","yanked":false}`)

	refresh := make(chan struct{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := fetch.Config{RegistryURI: registryDir, Crawlers: 2}
	fetch.StartWithDownloadBase(ctx, cfg, backend, nil, refresh, server.URL+"/")
	refresh <- struct{}{}

	waitForBackendUnchanged(t, path, "arbitrary bytes")
	assert.Equal(t, 0, calls, "existing file must short-circuit the network call")
}

func TestDownloadFetchesMissingCrate(t *testing.T) {
	backend, dir := newDiskBackend(t)

	body := "crate tarball contents"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bar/2.0.0/download", r.URL.Path)
		_, _ = w.Write([]byte(body))
	}))
	defer server.Close()

	registryDir := t.TempDir()
	writeIndexFile(t, registryDir, "ba/r/bar", `{"name":"bar","vers":"2.0.0","cksum":"ccdd","yanked":true}`)

	refresh := make(chan struct{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ledgerPath := filepath.Join(t.TempDir(), "ledger.db")
	ledger, err := store.OpenLedger(ledgerPath)
	assert.NoError(t, err)
	defer ledger.Close() //nolint:errcheck

	cfg := fetch.Config{RegistryURI: registryDir, Crawlers: 2}
	fetch.StartWithDownloadBase(ctx, cfg, backend, ledger, refresh, server.URL+"/")
	refresh <- struct{}{}

	key := store.Key{Name: "bar", Version: "2.0.0"}
	path := filepath.Join(dir, key.Path())

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if data, err := os.ReadFile(path); err == nil {
			assert.Equal(t, body, string(data))

			entry, found, lookupErr := ledger.Lookup("bar", "2.0.0")
			assert.NoError(t, lookupErr)
			assert.True(t, found)
			assert.Equal(t, "ccdd", entry.Cksum)
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("download never landed on disk")
}

func TestDownloadSkipsGitDirectory(t *testing.T) {
	backend, _ := newDiskBackend(t)

	var hiddenRequested atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/hidden/") {
			hiddenRequested.Store(true)
		}
		_, _ = w.Write([]byte("tarball"))
	}))
	defer server.Close()

	registryDir := t.TempDir()
	assert.NoError(t, os.MkdirAll(filepath.Join(registryDir, ".git", "objects"), 0o755))
	assert.NoError(t, os.WriteFile(filepath.Join(registryDir, ".git", "objects", "pack"), []byte("not json"), 0o644))

	entries := crate.ParseReader(strings.NewReader("not json\n"))
	assert.Equal(t, 0, len(entries))

	// A well-formed index line under .git/ must still be left alone by the walk.
	writeIndexFile(t, registryDir, ".git/hidden", `{"name":"hidden","vers":"1.0.0","cksum":"aa","yanked":false}`)
	writeIndexFile(t, registryDir, "vi/si/visible", `{"name":"visible","vers":"1.0.0","cksum":"bb","yanked":false}`)

	refresh := make(chan struct{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := fetch.Config{RegistryURI: registryDir, Crawlers: 2}
	fetch.StartWithDownloadBase(ctx, cfg, backend, nil, refresh, server.URL+"/")
	refresh <- struct{}{}

	visible := store.Key{Name: "visible", Version: "1.0.0"}
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if ok, _ := backend.Exists(ctx, visible); ok {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(200 * time.Millisecond)

	visibleExists, err := backend.Exists(ctx, visible)
	assert.NoError(t, err)
	assert.True(t, visibleExists, "the regular index entry must be downloaded")
	hiddenExists, err := backend.Exists(ctx, store.Key{Name: "hidden", Version: "1.0.0"})
	assert.NoError(t, err)
	assert.False(t, hiddenExists, "entries under .git/ must not be downloaded")
	assert.False(t, hiddenRequested.Load())
}

func writeIndexFile(t *testing.T, root, rel, contents string) {
	t.Helper()
	path := filepath.Join(root, rel)
	assert.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	assert.NoError(t, os.WriteFile(path, []byte(contents+"\n"), 0o644))
}

func waitForBackendUnchanged(t *testing.T, path, want string) {
	t.Helper()
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		data, err := os.ReadFile(path)
		assert.NoError(t, err)
		assert.Equal(t, want, string(data))
		time.Sleep(50 * time.Millisecond)
	}
}
