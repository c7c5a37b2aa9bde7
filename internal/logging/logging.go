// Package logging provides logging configuration and context-carried access to a slog.Logger.
package logging

import (
	"context"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
)

// Config controls how the daemon's logger is constructed.
type Config struct {
	JSON  bool       `toml:"json" help:"Enable JSON logging."`
	Level slog.Level `toml:"level" help:"Set the logging level." default:"info"`
}

type logKey struct{}

// Configure builds a logger from cfg and returns it alongside a context carrying it.
func Configure(ctx context.Context, config Config) (*slog.Logger, context.Context) {
	var handler slog.Handler
	if config.JSON {
		handler = &messageHandler{inner: slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: config.Level})}
	} else {
		handler = tint.NewHandler(os.Stderr, &tint.Options{
			Level: config.Level,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.TimeKey && len(groups) == 0 {
					return slog.Attr{}
				}
				return a
			},
		})
	}
	logger := slog.New(handler)
	return logger, context.WithValue(ctx, logKey{}, logger)
}

// FromContext retrieves the logger previously stored by Configure or ContextWithLogger.
func FromContext(ctx context.Context) *slog.Logger {
	logger, ok := ctx.Value(logKey{}).(*slog.Logger)
	if !ok {
		return slog.Default()
	}
	return logger
}

// ContextWithLogger returns a new context carrying the given logger.
func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, logKey{}, logger)
}
