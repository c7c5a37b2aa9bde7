package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/alecthomas/assert/v2"

	"github.com/cratemirror/cratemirror/internal/config"
)

func TestDefaults(t *testing.T) {
	cfg := config.Default()
	assert.Equal(t, 8080, cfg.CrateStore.Port)
	assert.Equal(t, config.ListeningInterface("localhost"), cfg.CrateStore.Host)
	assert.Equal(t, "crates", cfg.CrateStore.Folder)
	assert.Equal(t, 16, cfg.CrateStore.Workers)
	assert.Equal(t, 10, cfg.CrateStore.Crawlers)
	assert.Equal(t, "127.0.0.1", cfg.CrateStore.PublicHost)
	assert.Equal(t, "disk", cfg.CrateStore.Backend)
	assert.Equal(t, "crates.ledger.db", cfg.CrateStore.LedgerPath)
	assert.Equal(t, true, cfg.CrateStore.S3.UseSSL)
	assert.Equal(t, "./crates.io-index", cfg.CrateRegistry.URI)
	assert.Equal(t, uint(600), cfg.CrateRegistry.UpdateInterval)
	assert.Equal(t, "127.0.0.1:9102", cfg.Metrics.Bind)
	assert.Equal(t, false, cfg.Logging.JSON)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := config.Load("")
	assert.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cratemirror.toml")
	assert.NoError(t, os.WriteFile(path, []byte(`
[crate_store]
port = 9000
host = "all"
public_host = "10.0.0.5"

[crate_registry]
update_interval = 60
`), 0o644))

	cfg, err := config.Load(path)
	assert.NoError(t, err)
	assert.Equal(t, 9000, cfg.CrateStore.Port)
	assert.Equal(t, config.ListeningInterface("all"), cfg.CrateStore.Host)
	assert.Equal(t, "10.0.0.5", cfg.CrateStore.PublicHost)
	assert.Equal(t, uint(60), cfg.CrateRegistry.UpdateInterval)
	// Keys absent from the file keep their defaults.
	assert.Equal(t, "crates", cfg.CrateStore.Folder)
}

func TestBindAddrDerivation(t *testing.T) {
	tests := []struct {
		host string
		port int
		want string
	}{
		{"all", 8080, "0.0.0.0:8080"},
		{"localhost", 8080, "127.0.0.1:8080"},
		{"1.2.3.4", 9000, "1.2.3.4:9000"},
	}
	for _, tt := range tests {
		cs := config.CrateStore{Host: config.ListeningInterface(tt.host), Port: tt.port}
		assert.Equal(t, tt.want, cs.BindAddr())
	}
}

func TestPublicBaseDerivation(t *testing.T) {
	cs := config.CrateStore{PublicHost: "10.0.0.5", Port: 8080}
	assert.Equal(t, "http://10.0.0.5:8080", cs.PublicBase())
}
