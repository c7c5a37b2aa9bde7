package registry

import (
	"os"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/alecthomas/errors"
)

// mergeAnalysis is the outcome of comparing HEAD against the resolved
// remote tip, mirroring spec.md §4.1.1's three states.
type mergeAnalysis int

const (
	mergeUpToDate mergeAnalysis = iota
	mergeFastForward
	mergeNormal
)

// analyzeMerge derives the merge state: up-to-date if remote is already
// reachable from HEAD (including equality — HEAD is typically the mirror's
// own config.json commit sitting on top of the previously-merged remote
// tip, not remote itself), fast-forward if HEAD is a strict ancestor of
// remote, normal otherwise.
func analyzeMerge(head, remote *object.Commit) (mergeAnalysis, error) {
	if head.Hash == remote.Hash {
		return mergeUpToDate, nil
	}

	remoteIsAncestor, err := remote.IsAncestor(head)
	if err != nil {
		return mergeUpToDate, errors.Wrap(err, "compute ancestry")
	}
	if remoteIsAncestor {
		return mergeUpToDate, nil
	}

	headIsAncestor, err := head.IsAncestor(remote)
	if err != nil {
		return mergeUpToDate, errors.Wrap(err, "compute ancestry")
	}
	if headIsAncestor {
		return mergeFastForward, nil
	}
	return mergeNormal, nil
}

// cleanWorkingDir discards uncommitted changes and returns to HEAD's tree,
// clearing any in-progress merge state (MERGE_HEAD, etc.) so the next
// cycle's merge starts clean.
func cleanWorkingDir(wt *git.Worktree) error {
	if err := wt.Reset(&git.ResetOptions{Mode: git.HardReset}); err != nil {
		return errors.Wrap(err, "hard reset")
	}
	if err := wt.Clean(&git.CleanOptions{Dir: true}); err != nil {
		return errors.Wrap(err, "clean untracked files")
	}
	return nil
}

// fastForwardMerge checks out the tree of the remote commit and moves
// headRefName directly to remoteCommit's hash, without creating a new
// commit object (spec.md §4.4). The caller must follow this with
// cleanWorkingDir so the working tree, index, and HEAD stay coherent —
// this ordering (checkout before ref update) is carried from the original
// implementation rather than left to the next cycle to paper over (see
// DESIGN.md, Open Question decisions).
func fastForwardMerge(repo *git.Repository, wt *git.Worktree, headRefName plumbing.ReferenceName, remoteCommit *object.Commit) error {
	if err := wt.Checkout(&git.CheckoutOptions{Hash: remoteCommit.Hash, Force: true}); err != nil {
		return errors.Wrap(err, "checkout remote tree")
	}

	ref := plumbing.NewHashReference(headRefName, remoteCommit.Hash)
	if err := repo.Storer.SetReference(ref); err != nil {
		return errors.Wrap(err, "set-target HEAD to remote commit")
	}
	return nil
}

// forceMergeRemoteCommit performs the mandatory "theirs" resolution
// (spec.md §4.1.1): for any path both sides touch, the remote's version
// wins; local divergence on such paths is discarded. config.json is not a
// case of both sides touching the same path — origin never writes it, so
// it is only ever a clean addition on our side, and a real three-way merge
// preserves clean additions from either parent. Checking out remoteCommit's
// tree with Force and then restoring our config.json blob on top reproduces
// exactly that outcome without a general diff3 implementation: everywhere
// else the remote tree wins outright, and config.json survives untouched.
// The caller parents the resulting commit against both HEAD and
// remoteCommit.
func forceMergeRemoteCommit(wt *git.Worktree, headCommit, remoteCommit *object.Commit, configPath string) error {
	ourConfig, hadConfig, err := blobFromCommit(headCommit, "config.json")
	if err != nil {
		return errors.Wrap(err, "read our config.json before checkout")
	}

	if err := wt.Checkout(&git.CheckoutOptions{Hash: remoteCommit.Hash, Force: true}); err != nil {
		return errors.Wrap(err, "checkout remote tree with theirs favor")
	}

	if hadConfig {
		if err := os.WriteFile(configPath, ourConfig, 0o644); err != nil {
			return errors.Wrap(err, "restore our config.json")
		}
	}

	if _, err := wt.Add("."); err != nil {
		return errors.Wrap(err, "stage all changes")
	}
	return nil
}

// blobFromCommit returns the content of path in commit's tree, or
// ok == false if the path does not exist there.
func blobFromCommit(commit *object.Commit, path string) (content []byte, ok bool, err error) {
	tree, err := commit.Tree()
	if err != nil {
		return nil, false, errors.Wrap(err, "load commit tree")
	}

	f, err := tree.File(path)
	if err != nil {
		if errors.Is(err, object.ErrFileNotFound) {
			return nil, false, nil
		}
		return nil, false, errors.Wrap(err, "find file in tree")
	}

	text, err := f.Contents()
	if err != nil {
		return nil, false, errors.Wrap(err, "read file contents")
	}
	return []byte(text), true, nil
}
