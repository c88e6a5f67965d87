package metrics

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/fx"
)

// Logger defines the interface for logging operations within the metrics
// package.
type Logger interface {
	Info(msg string, err error, fields ...map[string]interface{})
	Debug(msg string, err error, fields ...map[string]interface{})
	Warn(msg string, err error, fields ...map[string]interface{})
	Error(msg string, err error, fields ...map[string]interface{})
	Fatal(msg string, err error, fields ...map[string]interface{})
}

// FXModule defines the Fx module for the metrics package. It provides the
// Metrics bundle plus the Collectors directly, so consumers can depend on
// *Collectors without knowing about the HTTP server.
var FXModule = fx.Module("metrics",
	fx.Provide(
		NewMetrics,
		func(m *Metrics) *Collectors { return m.Collectors },
	),
	fx.Invoke(RegisterMetricsLifecycle),
)

// RegisterMetricsLifecycle starts the metrics HTTP server on application
// start and shuts it down gracefully on stop.
func RegisterMetricsLifecycle(lifecycle fx.Lifecycle, metrics *Metrics, log Logger) {
	lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := metrics.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("metrics server failed", err, map[string]interface{}{
						"address": metrics.Server.Addr,
					})
				}
			}()
			log.Info("metrics server listening", nil, map[string]interface{}{
				"address": metrics.Server.Addr,
			})
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return metrics.Server.Shutdown(ctx)
		},
	})
}
