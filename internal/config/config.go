// Package config decodes the TOML configuration file and derives the
// values the rest of the daemon needs (bind addresses, the public download
// base URL written into config.json).
package config

import (
	"fmt"
	"log/slog"

	"github.com/BurntSushi/toml"
	"github.com/alecthomas/errors"

	"github.com/cratemirror/cratemirror/internal/logging"
	"github.com/cratemirror/cratemirror/internal/metrics"
	"github.com/cratemirror/cratemirror/internal/store"
)

// ListeningInterface selects the bind address for the serving layer.
// "localhost" resolves to 127.0.0.1, "all" to 0.0.0.0; any other value is
// used verbatim as the Custom(s) case from spec.md §6.
type ListeningInterface string

// Addr resolves the interface to the literal host portion of a bind address.
func (l ListeningInterface) Addr() string {
	switch l {
	case "", "localhost":
		return "127.0.0.1"
	case "all":
		return "0.0.0.0"
	default:
		return string(l)
	}
}

// CrateStore is the `crate_store` TOML section.
type CrateStore struct {
	Port       int                `toml:"port" help:"Serving port." default:"8080"`
	Host       ListeningInterface `toml:"host" help:"Bind interface: localhost, all, or a literal host." default:"localhost"`
	Folder     string             `toml:"folder" help:"On-disk store root." default:"crates"`
	Workers    int                `toml:"workers" help:"Server I/O threads; decoded but not read by the serving layer." default:"16"`
	Crawlers   int                `toml:"crawlers" help:"Download worker count." default:"10"`
	PublicHost string             `toml:"public_host" help:"Host portion of the dl URL written into config.json." default:"127.0.0.1"`

	Backend     string         `toml:"backend" help:"Store backend: disk or s3." default:"disk"`
	S3          store.S3Config `toml:"s3"`
	LedgerPath  string         `toml:"ledger_path" help:"Path to the bbolt download ledger." default:"crates.ledger.db"`
}

// BindAddr returns the "<host>:<port>" address the serving layer binds to.
func (c CrateStore) BindAddr() string {
	return fmt.Sprintf("%s:%d", c.Host.Addr(), c.Port)
}

// PublicBase returns the externally reachable URL prefix advertised in
// config.json's dl field: http://{public_host}:{port}.
func (c CrateStore) PublicBase() string {
	return fmt.Sprintf("http://%s:%d", c.PublicHost, c.Port)
}

// CrateRegistry is the `crate_registry` TOML section.
type CrateRegistry struct {
	URI            string `toml:"uri" help:"Local path of the index clone." default:"./crates.io-index"`
	UpdateInterval uint   `toml:"update_interval" help:"Seconds between monitor cycles." default:"600"`
}

// Metrics is the `metrics` TOML section.
type Metrics struct {
	Bind string `toml:"bind" help:"Bind address for the Prometheus /metrics endpoint." default:"127.0.0.1:9102"`
}

// Logging is the `logging` TOML section.
type Logging struct {
	JSON  bool   `toml:"json" help:"JSON vs. human-readable (tint) logging." default:"false"`
	Level string `toml:"level" help:"slog level." default:"info"`
}

// Configuration is the full decoded configuration file.
type Configuration struct {
	CrateStore    CrateStore    `toml:"crate_store"`
	CrateRegistry CrateRegistry `toml:"crate_registry"`
	Metrics       Metrics       `toml:"metrics"`
	Logging       Logging       `toml:"logging"`
}

// Default returns the configuration that applies when no file is provided,
// matching spec.md §6's defaults exactly.
func Default() Configuration {
	return Configuration{
		CrateStore: CrateStore{
			Port:       8080,
			Host:       "localhost",
			Folder:     "crates",
			Workers:    16,
			Crawlers:   10,
			PublicHost: "127.0.0.1",
			Backend:    "disk",
			LedgerPath: "crates.ledger.db",
			S3: store.S3Config{
				UseSSL: true,
			},
		},
		CrateRegistry: CrateRegistry{
			URI:            "./crates.io-index",
			UpdateInterval: 600,
		},
		Metrics: Metrics{
			Bind: "127.0.0.1:9102",
		},
		Logging: Logging{
			JSON:  false,
			Level: "info",
		},
	}
}

// Load decodes the TOML file at path over the defaults. An empty path
// returns the defaults untouched (spec.md §6: "absent => defaults").
func Load(path string) (Configuration, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Configuration{}, errors.Wrap(err, "decode configuration file")
	}
	return cfg, nil
}

// LoggingConfig adapts the decoded Logging section to internal/logging.Config.
func (c Configuration) LoggingConfig() logging.Config {
	level := slog.LevelInfo
	_ = level.UnmarshalText([]byte(c.Logging.Level)) //nolint:errcheck // invalid level silently keeps info
	return logging.Config{JSON: c.Logging.JSON, Level: level}
}

// MetricsConfig adapts the decoded Metrics section to internal/metrics.Config.
func (c Configuration) MetricsConfig(serviceName string) metrics.Config {
	return metrics.Config{ServiceName: serviceName, Bind: c.Metrics.Bind}
}
