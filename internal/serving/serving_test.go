package serving_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/alecthomas/assert/v2"

	"github.com/cratemirror/cratemirror/internal/serving"
	"github.com/cratemirror/cratemirror/internal/store"
)

func TestDownloadServesStoredCrate(t *testing.T) {
	dir := t.TempDir()
	backend := &store.Disk{Folder: dir}

	key := store.Key{Name: "foo", Version: "1.0.0"}
	path := filepath.Join(dir, key.Path())
	assert.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	assert.NoError(t, os.WriteFile(path, []byte("tarball bytes"), 0o644))

	server := serving.NewServer(context.Background(), serving.Config{Bind: "127.0.0.1:0", ServiceName: "test"}, backend)
	ts := httptest.NewServer(server.Handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/foo/1.0.0/download")
	assert.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	assert.NoError(t, err)
	assert.Equal(t, "tarball bytes", string(body))
}

// TestDownloadMissingReturns404 is spec.md §8 boundary scenario 6.
func TestDownloadMissingReturns404(t *testing.T) {
	dir := t.TempDir()
	backend := &store.Disk{Folder: dir}

	server := serving.NewServer(context.Background(), serving.Config{Bind: "127.0.0.1:0", ServiceName: "test"}, backend)
	ts := httptest.NewServer(server.Handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/bar/2.0.0/download")
	assert.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDownloadNoOtherRoutes(t *testing.T) {
	dir := t.TempDir()
	backend := &store.Disk{Folder: dir}

	server := serving.NewServer(context.Background(), serving.Config{Bind: "127.0.0.1:0", ServiceName: "test"}, backend)
	ts := httptest.NewServer(server.Handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/")
	assert.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
