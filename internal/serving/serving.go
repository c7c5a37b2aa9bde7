// Package serving implements the HTTP layer that maps (name, version) to a
// stored crate tarball: a single route, no body rewriting, no other
// surface.
package serving

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/cratemirror/cratemirror/internal/logging"
	"github.com/cratemirror/cratemirror/internal/metrics"
	"github.com/cratemirror/cratemirror/internal/store"
)

// Config configures the serving layer.
type Config struct {
	// Bind is the listen address, already derived from crate_store.host/port.
	Bind string
	// ServiceName labels the otelhttp middleware.
	ServiceName string
}

// NewServer builds the *http.Server for the serving layer: the single
// download route wrapped in otelhttp instrumentation and request logging,
// with a zero shutdown timeout (spec.md §4.3 — the process exits immediately,
// it does not drain in-flight requests).
func NewServer(ctx context.Context, cfg Config, backend store.Backend) *http.Server {
	logger := logging.FromContext(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{name}/{version}/download", newDownloadHandler(backend))

	var handler http.Handler = mux
	handler = loggingMiddleware(handler)
	handler = otelhttp.NewMiddleware(cfg.ServiceName,
		otelhttp.WithMeterProvider(otel.GetMeterProvider()),
		otelhttp.WithTracerProvider(otel.GetTracerProvider()),
	)(handler)

	return &http.Server{
		Addr:              cfg.Bind,
		Handler:           handler,
		ReadTimeout:       30 * time.Minute,
		WriteTimeout:      30 * time.Minute,
		ReadHeaderTimeout: 30 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
		ConnContext: func(ctx context.Context, c net.Conn) context.Context {
			return logging.ContextWithLogger(ctx, logger.With("client", c.RemoteAddr().String()))
		},
	}
}

// newDownloadHandler returns the single route's handler: 200 with the file
// body, 404 if absent, 5xx on any other I/O error. No Content-Type or
// Content-Length are set explicitly — http.ServeContent derives both from
// the file, matching spec.md §4.3's "set by the file server" wording.
func newDownloadHandler(backend store.Backend) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		logger := logging.FromContext(ctx)
		ops := metrics.FromContext(ctx)
		start := time.Now()

		name := r.PathValue("name")
		version := r.PathValue("version")
		key := store.Key{Name: name, Version: version}

		f, err := backend.Open(ctx, key)
		if err != nil {
			if errors.Is(err, store.ErrNotExist) {
				ops.RecordOperation(ctx, "serving.request", "not_found", time.Since(start))
				http.NotFound(w, r)
				return
			}
			ops.RecordOperation(ctx, "serving.request", "error", time.Since(start))
			logger.ErrorContext(ctx, "failed to open crate", "name", name, "version", version, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		defer f.Close() //nolint:errcheck

		http.ServeContent(w, r, name+"-"+version+".crate", time.Time{}, f)
		ops.RecordOperation(ctx, "serving.request", "success", time.Since(start))
	}
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := logging.FromContext(r.Context())
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.DebugContext(r.Context(), "handled request",
			"method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
