package registry

import (
	"context"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/alecthomas/errors"

	"github.com/cratemirror/cratemirror/internal/logging"
)

// cycle runs one iteration of the outer loop described in spec.md §4.1:
// fetch, clean, merge-analysis, apply, config-commit. Step order is strict.
func (m *Monitor) cycle(ctx context.Context) error {
	logger := logging.FromContext(ctx)

	if err := m.ensureOrigin(); err != nil {
		return errors.Wrap(err, "resolve origin remote")
	}

	if err := m.fetchOrigin(ctx); err != nil {
		return errors.Wrap(err, "fetch origin")
	}

	wt, err := m.repo.Worktree()
	if err != nil {
		return errors.Wrap(err, "get worktree")
	}

	if err := cleanWorkingDir(wt); err != nil {
		return errors.Wrap(err, "clean working directory")
	}

	remoteRef, err := m.repo.Reference(plumbing.NewRemoteReferenceName("origin", UpstreamBranch), true)
	if err != nil {
		return errors.Wrap(err, "resolve origin/master")
	}
	remoteCommit, err := m.repo.CommitObject(remoteRef.Hash())
	if err != nil {
		return errors.Wrap(err, "load remote commit")
	}

	headRef, err := m.repo.Head()
	if err != nil {
		return errors.Wrap(err, "resolve HEAD")
	}
	headCommit, err := m.repo.CommitObject(headRef.Hash())
	if err != nil {
		return errors.Wrap(err, "load head commit")
	}

	analysis, err := analyzeMerge(headCommit, remoteCommit)
	if err != nil {
		return errors.Wrap(err, "merge analysis")
	}

	switch analysis {
	case mergeUpToDate:
		// Nop; HEAD unchanged.
	case mergeFastForward:
		if err := fastForwardMerge(m.repo, wt, headRef.Name(), remoteCommit); err != nil {
			return errors.Wrap(err, "fast-forward merge")
		}
		logger.DebugContext(ctx, "fast-forwarded index", "hash", remoteCommit.Hash.String())
	case mergeNormal:
		configPath := filepath.Join(m.cfg.URI, "config.json")
		if err := forceMergeRemoteCommit(wt, headCommit, remoteCommit, configPath); err != nil {
			return errors.Wrap(err, "force merge remote commit")
		}
		if _, err := wt.Commit("Merge crates.io-index master", &git.CommitOptions{
			Author:  mirrorSigPtr(),
			Parents: []plumbing.Hash{headCommit.Hash, remoteCommit.Hash},
		}); err != nil {
			return errors.Wrap(err, "create merge commit")
		}
		logger.DebugContext(ctx, "merged index", "hash", remoteCommit.Hash.String())
	}

	if err := cleanWorkingDir(wt); err != nil {
		return errors.Wrap(err, "clean working directory after merge")
	}

	if err := m.ensureMirrorConfig(ctx, wt); err != nil {
		return errors.Wrap(err, "ensure mirror config commit")
	}

	return nil
}

func mirrorSigPtr() *object.Signature {
	sig := mirrorSignature()
	return &sig
}

func (m *Monitor) ensureOrigin() error {
	_, err := m.repo.Remote("origin")
	if err == nil {
		return nil
	}
	if !errors.Is(err, git.ErrRemoteNotFound) {
		return errors.Wrap(err, "look up origin remote")
	}

	_, err = m.repo.CreateRemote(&gitconfig.RemoteConfig{
		Name: "origin",
		URLs: []string{UpstreamURL},
	})
	return errors.Wrap(err, "create origin remote")
}

func (m *Monitor) fetchOrigin(ctx context.Context) error {
	err := m.repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: "origin",
		RefSpecs: []gitconfig.RefSpec{
			gitconfig.RefSpec("+refs/heads/" + UpstreamBranch + ":refs/remotes/origin/" + UpstreamBranch),
		},
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return errors.WithStack(err)
	}
	return nil
}
