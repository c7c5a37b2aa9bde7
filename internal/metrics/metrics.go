// Package metrics provides OpenTelemetry metrics with a Prometheus exporter.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/alecthomas/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	prometheusexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/cratemirror/cratemirror/internal/logging"
)

// Config holds metrics configuration.
type Config struct {
	ServiceName string `toml:"service_name" help:"Service name for metrics." default:"cratemirrord"`
	Bind        string `toml:"bind" help:"Bind address for the metrics/health server." default:"127.0.0.1:9102"`
}

// Client provides OpenTelemetry metrics with a Prometheus exporter.
type Client struct {
	provider    metric.MeterProvider
	registry    *prometheus.Registry
	serviceName string
	bind        string
}

// New creates a new OpenTelemetry metrics client with a Prometheus exporter.
func New(ctx context.Context, cfg Config) (*Client, error) {
	logger := logging.FromContext(ctx)

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)),
		resource.WithProcess(),
		resource.WithHost(),
	)
	if err != nil {
		return nil, errors.Errorf("failed to create resource: %w", err)
	}

	registry := prometheus.NewRegistry()

	exporter, err := prometheusexporter.New(prometheusexporter.WithRegisterer(registry))
	if err != nil {
		return nil, errors.Errorf("failed to create Prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(provider)

	client := &Client{
		provider:    provider,
		registry:    registry,
		serviceName: cfg.ServiceName,
		bind:        cfg.Bind,
	}

	logger.InfoContext(ctx, "opentelemetry metrics initialized", "service", cfg.ServiceName, "bind", cfg.Bind)

	return client, nil
}

// Close shuts down the meter provider.
func (c *Client) Close() error {
	if c.provider == nil {
		return nil
	}
	if provider, ok := c.provider.(*sdkmetric.MeterProvider); ok {
		if err := provider.Shutdown(context.Background()); err != nil {
			return errors.Errorf("failed to shutdown meter provider: %w", err)
		}
	}
	return nil
}

// Handler returns the HTTP handler for the /metrics endpoint.
func (c *Client) Handler() http.Handler {
	if c.registry == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// ServeMetrics starts a dedicated HTTP server for Prometheus scraping and a liveness check.
// The server is torn down when ctx is cancelled.
func (c *Client) ServeMetrics(ctx context.Context) error {
	logger := logging.FromContext(ctx)

	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.ErrorContext(ctx, "failed to write health check response", "error", err)
		}
	})

	server := &http.Server{
		Addr:              c.bind,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.InfoContext(ctx, "starting metrics server", "bind", c.bind)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.ErrorContext(ctx, "metrics server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.ErrorContext(shutdownCtx, "metrics server shutdown error", "error", err)
		}
	}()

	return nil
}
