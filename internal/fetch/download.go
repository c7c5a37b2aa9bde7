package fetch

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/alecthomas/errors"

	"github.com/cratemirror/cratemirror/internal/crate"
	"github.com/cratemirror/cratemirror/internal/logging"
	"github.com/cratemirror/cratemirror/internal/metrics"
	"github.com/cratemirror/cratemirror/internal/store"
)

// download implements the download task from spec.md §4.2: existence check,
// synchronous HTTP GET, create-truncate (only once the response is 200),
// stream, delete-on-error. Yanked
// versions are downloaded the same as any other (the mirror preserves
// whatever the index references).
func (p *pipeline) download(ctx context.Context, m crate.Metadata) error {
	logger := logging.FromContext(ctx)
	ops := metrics.FromContext(ctx)
	start := time.Now()

	key := store.Key{Name: m.Name, Version: m.Vers}

	exists, err := p.backend.Exists(ctx, key)
	if err != nil {
		ops.RecordOperation(ctx, "crate.download", "failure", time.Since(start))
		return errors.Wrap(err, "check existing download")
	}
	if exists {
		// Idempotence by existence (spec.md §8 boundary scenario 5): no
		// network call when the tarball is already stored.
		return nil
	}

	if err := p.downloadOnce(ctx, key, m); err != nil {
		ops.RecordOperation(ctx, "crate.download", "failure", time.Since(start))
		logger.ErrorContext(ctx, "crate download failed", "name", m.Name, "version", m.Vers, "error", err)
		return err
	}

	ops.RecordOperation(ctx, "crate.download", "success", time.Since(start))
	return nil
}

func (p *pipeline) downloadOnce(ctx context.Context, key store.Key, m crate.Metadata) error {
	url := p.downloadBase + key.Name + "/" + key.Version + "/download"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrap(err, "build download request")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "issue download request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("unexpected status %d downloading %s/%s", resp.StatusCode, key.Name, key.Version)
	}

	w, err := p.backend.Create(ctx, key)
	if err != nil {
		return errors.Wrap(err, "create store entry")
	}

	n, copyErr := io.Copy(w, resp.Body)
	closeErr := w.Close()

	if err := errors.Join(copyErr, closeErr); err != nil {
		if removeErr := p.backend.Remove(ctx, key); removeErr != nil {
			err = errors.Join(err, errors.Wrap(removeErr, "remove partial download"))
		}
		return errors.Wrap(err, "stream download body")
	}

	if p.ledger != nil {
		if err := p.ledger.Record(store.LedgerEntry{
			Name:         m.Name,
			Version:      m.Vers,
			Cksum:        m.Cksum,
			Bytes:        n,
			DownloadedAt: time.Now(),
		}); err != nil {
			logging.FromContext(ctx).WarnContext(ctx, "failed to record download ledger entry", "name", m.Name, "version", m.Vers, "error", err)
		}
	}

	return nil
}
