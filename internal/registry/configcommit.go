package registry

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"

	"github.com/go-git/go-git/v5"

	"github.com/alecthomas/errors"

	"github.com/cratemirror/cratemirror/internal/logging"
)

// mirrorConfig is the registry config object written to config.json
// (spec.md §3): exactly two string fields.
type mirrorConfig struct {
	API string `json:"api"`
	DL  string `json:"dl"`
}

const upstreamAPIBase = "https://crates.io/"

// ensureMirrorConfig implements spec.md §4.1.2: build the target config
// object, compare it to what's on disk, and only write + commit when they
// differ. This read-compare-skip short-circuit (carried from
// original_source/src/crate_registry.rs's add_custom_config, see
// SPEC_FULL.md SUPPLEMENTED FEATURES) is what keeps the monitor from
// producing an empty commit every cycle once the mirror has converged.
func (m *Monitor) ensureMirrorConfig(ctx context.Context, wt *git.Worktree) error {
	logger := logging.FromContext(ctx)

	target := mirrorConfig{API: upstreamAPIBase, DL: m.cfg.PublicBase}
	configPath := filepath.Join(m.cfg.URI, "config.json")

	if current, ok := readMirrorConfig(configPath); ok && reflect.DeepEqual(current, target) {
		return nil
	}

	encoded, err := json.Marshal(target)
	if err != nil {
		return errors.Wrap(err, "encode mirror config")
	}
	if err := os.WriteFile(configPath, encoded, 0o644); err != nil {
		return errors.Wrap(err, "write config.json")
	}

	if _, err := wt.Add("config.json"); err != nil {
		return errors.Wrap(err, "stage config.json")
	}

	if _, err := wt.Commit("API mirror as configuration", &git.CommitOptions{
		Author: mirrorSigPtr(),
	}); err != nil {
		return errors.Wrap(err, "commit mirror config")
	}

	if err := cleanWorkingDir(wt); err != nil {
		return errors.Wrap(err, "clean working directory after config commit")
	}

	logger.InfoContext(ctx, "rewrote mirror config", "dl", target.DL)
	return nil
}

func readMirrorConfig(path string) (mirrorConfig, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return mirrorConfig{}, false
	}
	var cfg mirrorConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return mirrorConfig{}, false
	}
	return cfg, true
}
