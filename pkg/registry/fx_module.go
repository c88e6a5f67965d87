package registry

import (
	"context"

	"go.uber.org/fx"
)

// FXModule defines the Fx module for the registry package.
var FXModule = fx.Module("registry",
	fx.Provide(
		New,
	),
	fx.Invoke(RegisterRegistryLifecycle),
)

// RegisterRegistryLifecycle closes every registered connection on shutdown.
func RegisterRegistryLifecycle(lc fx.Lifecycle, r *Registry) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			var firstErr error
			for alias, conn := range r.conns {
				if err := conn.Close(ctx); err != nil && firstErr == nil {
					firstErr = err
				}
				delete(r.conns, alias)
			}
			return firstErr
		},
	})
}
