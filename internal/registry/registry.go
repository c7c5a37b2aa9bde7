// Package registry implements the registry monitor: it keeps a local clone
// of the upstream index repository synced, rewrites config.json to point
// clients at this mirror, and emits a refresh signal after every cycle,
// including one that failed.
package registry

import (
	"context"
	"os"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/alecthomas/errors"

	"github.com/cratemirror/cratemirror/internal/logging"
	"github.com/cratemirror/cratemirror/internal/metrics"
)

// UpstreamURL is the well-known upstream index repository.
const UpstreamURL = "https://github.com/rust-lang/crates.io-index.git"

// UpstreamBranch is the branch the monitor tracks.
const UpstreamBranch = "master"

// mirrorAuthorName and mirrorAuthorEmail are the fixed identity used for
// every commit this mirror authors. Whether config.json needs rewriting is
// decided by comparing its content with the target (ensureMirrorConfig), not
// by reading this identity back.
const (
	mirrorAuthorName  = "Cargo mirage"
	mirrorAuthorEmail = "cargo@mirage.io"
)

// Config configures the registry monitor.
type Config struct {
	// URI is the local path of the index clone.
	URI string
	// UpdateInterval is the time between monitor cycles.
	UpdateInterval time.Duration
	// PublicBase is written into config.json's dl field.
	PublicBase string
}

// Monitor owns the index repository for the process lifetime.
type Monitor struct {
	cfg  Config
	repo *git.Repository
}

// Start opens or clones the index repository, then spawns the monitor's
// background cycle. It returns a stop-signal sink and a refresh-signal
// source per spec.md §4.1's public contract. Open/clone failure is fatal —
// the caller should treat a non-nil error as a reason to abort startup.
func Start(ctx context.Context, cfg Config) (chan<- struct{}, <-chan struct{}, error) {
	logger := logging.FromContext(ctx)

	repo, err := open(cfg.URI)
	if err != nil {
		return nil, nil, errors.Wrap(err, "open or clone index repository")
	}

	m := &Monitor{cfg: cfg, repo: repo}

	stop := make(chan struct{})
	refresh := make(chan struct{}, 1)

	go m.run(ctx, stop, refresh)

	logger.InfoContext(ctx, "registry monitor started", "uri", cfg.URI, "update_interval", cfg.UpdateInterval)
	return stop, refresh, nil
}

// open opens the index repository at path if it already exists, otherwise
// clones it from UpstreamURL.
func open(path string) (*git.Repository, error) {
	if _, err := os.Stat(path); err == nil {
		return git.PlainOpen(path)
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "stat index path")
	}

	return git.PlainClone(path, false, &git.CloneOptions{
		URL:           UpstreamURL,
		ReferenceName: plumbing.NewBranchReferenceName(UpstreamBranch),
		SingleBranch:  true,
	})
}

func (m *Monitor) run(ctx context.Context, stop <-chan struct{}, refresh chan<- struct{}) {
	logger := logging.FromContext(ctx)
	ops := metrics.FromContext(ctx)

	for {
		start := time.Now()
		if err := m.cycle(ctx); err != nil {
			// Transient per-cycle failures are logged and swallowed: the
			// monitor falls through to the refresh-send and sleep rather
			// than aborting (spec.md §4.1, "Failure semantics").
			logger.ErrorContext(ctx, "registry cycle failed", "error", err)
			ops.RecordOperation(ctx, "registry.cycle", "failure", time.Since(start))
		} else {
			ops.RecordOperation(ctx, "registry.cycle", "success", time.Since(start))
		}

		select {
		case refresh <- struct{}{}:
		default:
			// A missed receiver does not block the monitor; the next
			// cycle re-sends (spec.md §4.1 step 8).
		}

		if m.waitInterval(stop) {
			logger.InfoContext(ctx, "registry monitor stopping")
			return
		}
	}
}

// waitInterval sleeps for UpdateInterval, polling stop roughly every five
// seconds, and reports whether a stop signal was received.
func (m *Monitor) waitInterval(stop <-chan struct{}) bool {
	deadline := time.Now().Add(m.cfg.UpdateInterval)
	const pollInterval = 5 * time.Second

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}

		wait := pollInterval
		if remaining < wait {
			wait = remaining
		}

		select {
		case <-stop:
			return true
		case <-time.After(wait):
		}
	}
}

func mirrorSignature() object.Signature {
	return object.Signature{
		Name:  mirrorAuthorName,
		Email: mirrorAuthorEmail,
		When:  time.Now(),
	}
}
