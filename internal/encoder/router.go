package encoder

import (
	"context"
	"fmt"
	"log/slog"

	"crunch/internal/logging"
	"crunch/internal/services"
)

// Invoker starts encodes. Implementations must never block on the encode
// itself; the returned Handle carries the outcome.
type Invoker interface {
	Invoke(ctx context.Context, req Request) *Handle
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, req Request) *Handle

// Invoke calls f.
func (f InvokerFunc) Invoke(ctx context.Context, req Request) *Handle { return f(ctx, req) }

// Backend performs a single encode synchronously.
type Backend interface {
	Run(ctx context.Context, req Request, progress func(float64)) (string, error)
}

// Router dispatches requests to the backend named by their preset.
type Router struct {
	backends map[string]Backend
	logger   *slog.Logger
}

// NewRouter builds a router over the given backends keyed by name.
func NewRouter(logger *slog.Logger, backends map[string]Backend) *Router {
	copied := make(map[string]Backend, len(backends))
	for name, b := range backends {
		if b != nil {
			copied[name] = b
		}
	}
	return &Router{backends: copied, logger: logging.NewComponentLogger(logger, "encoder")}
}

// Invoke starts req on its preset's backend. An unknown backend yields a
// handle whose terminal event is a configuration failure.
func (r *Router) Invoke(ctx context.Context, req Request) *Handle {
	backend, ok := r.backends[req.Preset.Backend]
	ctx = services.WithTaskKey(services.WithPreset(ctx, req.Preset.ID), req.Key.String())
	logger := logging.WithContext(ctx, r.logger)
	return Start(ctx, req.Key, func(ctx context.Context, progress func(float64)) (string, error) {
		if !ok {
			return "", services.Wrap(
				services.ErrConfiguration,
				"encoder",
				"route",
				fmt.Sprintf("no backend registered for %q", req.Preset.Backend),
				nil,
			)
		}
		logger.Info("encode started",
			logging.String("backend", req.Preset.Backend),
			logging.String("input", req.SourcePath),
			logging.String("output", req.OutputPath),
		)
		out, err := backend.Run(ctx, req, progress)
		switch {
		case err == nil:
			logger.Info("encode finished", logging.String("output", out))
		case services.IsCancellation(err) || ctx.Err() != nil:
			logger.Info("encode cancelled")
		default:
			logging.WarnWithContext(logger, "encode failed", "encode_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, services.Hint(err)),
				logging.String(logging.FieldImpact, "task marked failed; remaining tasks continue"),
			)
		}
		return out, err
	})
}

var _ Invoker = (*Router)(nil)
