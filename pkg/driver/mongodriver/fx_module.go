package mongodriver

import (
	"context"

	"go.uber.org/fx"
)

// FXModule defines the Fx module for the mongodriver package.
var FXModule = fx.Module("mongodriver",
	fx.Provide(
		func(cfg Config, logger Logger) (*Conn, error) {
			return NewConn(context.Background(), cfg, logger)
		},
	),
	fx.Invoke(RegisterConnLifecycle),
)

// RegisterConnLifecycle disconnects the client on application stop.
func RegisterConnLifecycle(lc fx.Lifecycle, conn *Conn) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return conn.Close(ctx)
		},
	})
}
