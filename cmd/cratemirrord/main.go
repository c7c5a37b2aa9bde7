// Command cratemirrord runs a local mirror of a crates.io-style package
// registry: a continuously refreshed index clone, a bounded-concurrency
// crate fetch pipeline, and a small HTTP layer serving tarballs out of the
// resulting cache.
package main

import (
	"context"
	"time"

	"github.com/alecthomas/errors"
	"github.com/alecthomas/kong"

	"github.com/cratemirror/cratemirror/internal/config"
	"github.com/cratemirror/cratemirror/internal/fetch"
	"github.com/cratemirror/cratemirror/internal/logging"
	"github.com/cratemirror/cratemirror/internal/metrics"
	"github.com/cratemirror/cratemirror/internal/registry"
	"github.com/cratemirror/cratemirror/internal/serving"
	"github.com/cratemirror/cratemirror/internal/store"
)

const serviceName = "cratemirrord"

// CLI is the command-line surface: a config file path and a verbosity
// counter carried from the original spec's interface (no defined effect on
// behavior beyond what -v implies by convention).
type CLI struct {
	Config  string `short:"c" help:"Configuration file path (TOML). Absent uses defaults." type:"existingfile"`
	Verbose int    `short:"v" type:"counter" help:"Increase verbosity."`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli, kong.Name(serviceName),
		kong.Description("Local crates.io-style registry mirror."))

	cfg, err := config.Load(cli.Config)
	kctx.FatalIfErrorf(err, "failed to load configuration")

	ctx := context.Background()
	logger, ctx := logging.Configure(ctx, cfg.LoggingConfig())

	metricsClient, err := metrics.New(ctx, cfg.MetricsConfig(serviceName))
	kctx.FatalIfErrorf(err, "failed to create metrics client")
	defer func() {
		if err := metricsClient.Close(); err != nil {
			logger.ErrorContext(ctx, "failed to close metrics client", "error", err)
		}
	}()

	if err := metricsClient.ServeMetrics(ctx); err != nil {
		kctx.FatalIfErrorf(err, "failed to start metrics server")
	}

	ops, err := metrics.NewOperationMetrics()
	kctx.FatalIfErrorf(err, "failed to create operation metrics")
	ctx = metrics.ContextWithOperations(ctx, ops)

	backend, err := newBackend(ctx, cfg.CrateStore)
	kctx.FatalIfErrorf(err, "failed to construct crate store backend")

	ledger, err := store.OpenLedger(cfg.CrateStore.LedgerPath)
	kctx.FatalIfErrorf(err, "failed to open download ledger")
	defer func() {
		if err := ledger.Close(); err != nil {
			logger.ErrorContext(ctx, "failed to close download ledger", "error", err)
		}
	}()

	server := serving.NewServer(ctx, serving.Config{
		Bind:        cfg.CrateStore.BindAddr(),
		ServiceName: serviceName,
	}, backend)

	go func() {
		logger.InfoContext(ctx, "serving layer starting", "bind", cfg.CrateStore.BindAddr())
		if err := server.ListenAndServe(); err != nil {
			logger.ErrorContext(ctx, "serving layer stopped", "error", err)
		}
	}()

	_, refresh, err := registry.Start(ctx, registry.Config{
		URI:            cfg.CrateRegistry.URI,
		UpdateInterval: secondsToDuration(cfg.CrateRegistry.UpdateInterval),
		PublicBase:     cfg.CrateStore.PublicBase(),
	})
	kctx.FatalIfErrorf(err, "failed to start registry monitor")

	fetch.Start(ctx, fetch.Config{
		RegistryURI: cfg.CrateRegistry.URI,
		Crawlers:    cfg.CrateStore.Crawlers,
	}, backend, ledger, refresh)

	logger.InfoContext(ctx, "cratemirrord running")
	select {}
}

func newBackend(ctx context.Context, cfg config.CrateStore) (store.Backend, error) {
	switch cfg.Backend {
	case "", "disk":
		return &store.Disk{Folder: cfg.Folder}, nil
	case "s3":
		return store.NewS3(ctx, cfg.S3)
	default:
		return nil, errors.Errorf("unknown crate_store.backend %q", cfg.Backend)
	}
}

func secondsToDuration(seconds uint) time.Duration {
	return time.Duration(seconds) * time.Second
}
