package events

import (
	"context"

	"go.uber.org/fx"
)

// FXModule defines the Fx module for the events package.
var FXModule = fx.Module("events",
	fx.Provide(
		func(logger Logger) (*Dispatcher, error) {
			return NewDispatcher(0, logger)
		},
	),
	fx.Invoke(RegisterDispatcherLifecycle),
)

// RegisterDispatcherLifecycle releases the worker pool on shutdown.
func RegisterDispatcherLifecycle(lc fx.Lifecycle, d *Dispatcher) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			d.Close()
			return nil
		},
	})
}
