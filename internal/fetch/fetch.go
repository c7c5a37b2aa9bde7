// Package fetch implements the crate fetch pipeline: on every registry
// refresh signal it walks the index repository, parses each file as
// newline-delimited crate metadata, and enqueues a bounded-concurrency
// download task per entry.
package fetch

import (
	"context"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"

	"github.com/alecthomas/errors"

	"github.com/cratemirror/cratemirror/internal/crate"
	"github.com/cratemirror/cratemirror/internal/jobqueue"
	"github.com/cratemirror/cratemirror/internal/logging"
	"github.com/cratemirror/cratemirror/internal/metrics"
	"github.com/cratemirror/cratemirror/internal/store"
)

// UpstreamDownloadBase is the well-known upstream tarball download endpoint.
const UpstreamDownloadBase = "https://crates.io/api/v1/crates/"

// Config configures the fetch pipeline.
type Config struct {
	// RegistryURI is the local path of the index clone, walked on every
	// refresh signal.
	RegistryURI string
	// Crawlers bounds how many downloads run concurrently.
	Crawlers int
}

// pipeline owns the worker pool and store handle for the process lifetime.
type pipeline struct {
	cfg          Config
	backend      store.Backend
	ledger       *store.Ledger
	pool         *jobqueue.Pool
	client       *http.Client
	downloadBase string
}

// Start launches the trigger loop as a background goroutine: it blocks on
// refresh, then re-enumerates the index on every signal, until ctx is
// cancelled. ledger may be nil, in which case downloads are recorded nowhere
// but still proceed (the ledger is purely observational, see spec §3).
func Start(ctx context.Context, cfg Config, backend store.Backend, ledger *store.Ledger, refresh <-chan struct{}) {
	StartWithDownloadBase(ctx, cfg, backend, ledger, refresh, UpstreamDownloadBase)
}

// StartWithDownloadBase is Start with the upstream download base URL
// overridable, so tests can point the pipeline at a local HTTP fixture
// instead of crates.io.
func StartWithDownloadBase(ctx context.Context, cfg Config, backend store.Backend, ledger *store.Ledger, refresh <-chan struct{}, downloadBase string) {
	logger := logging.FromContext(ctx)

	p := &pipeline{
		cfg:          cfg,
		backend:      backend,
		ledger:       ledger,
		pool:         jobqueue.New(ctx, cfg.Crawlers),
		client:       &http.Client{},
		downloadBase: downloadBase,
	}

	go p.run(ctx, refresh)

	logger.InfoContext(ctx, "fetch pipeline started", "registry_uri", cfg.RegistryURI, "crawlers", cfg.Crawlers)
}

func (p *pipeline) run(ctx context.Context, refresh <-chan struct{}) {
	logger := logging.FromContext(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-refresh:
			if !ok {
				return
			}
			if err := p.enumerate(ctx); err != nil {
				logger.ErrorContext(ctx, "index enumeration failed", "error", err)
			}
		}
	}
}

// enumerate walks RegistryURI recursively, parses every regular file as
// NDJSON crate metadata, and enqueues one download task per entry. Entries
// that fail to parse are filtered out by internal/crate already; .git/ is
// additionally skipped by name as the spec's suggested optimization (see
// DESIGN.md Open Question decisions), since otherwise git's internal
// objects would all be opened and discarded as unparseable.
func (p *pipeline) enumerate(ctx context.Context) error {
	logger := logging.FromContext(ctx)
	ops := metrics.FromContext(ctx)

	var enqueued int64
	err := filepath.WalkDir(p.cfg.RegistryURI, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return errors.Wrap(err, "walk index repository")
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() == "config.json" {
			return nil
		}

		entries, err := p.parseIndexFile(path)
		if err != nil {
			logger.WarnContext(ctx, "failed to read index file", "path", path, "error", err)
			return nil
		}

		for _, m := range entries {
			metadata := m
			p.pool.Submit(func(ctx context.Context) error {
				return p.download(ctx, metadata)
			})
			enqueued++
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "enumerate index")
	}

	ops.RecordCount(ctx, "fetch.enumerate", enqueued)
	logger.DebugContext(ctx, "index enumeration complete", "enqueued", enqueued)
	return nil
}

func (p *pipeline) parseIndexFile(path string) ([]crate.Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer f.Close() //nolint:errcheck

	return crate.ParseReader(f), nil
}
