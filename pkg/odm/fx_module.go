package odm

import (
	"go.uber.org/fx"

	"github.com/remora-db/remora/pkg/document"
	"github.com/remora-db/remora/pkg/events"
	"github.com/remora-db/remora/pkg/registry"
)

// FXModule defines the Fx module for the odm package. It expects the
// registry, schema, dispatcher and ambient clients to be provided by their
// own modules.
var FXModule = fx.Module("odm",
	fx.Provide(
		func(reg *registry.Registry, schema *document.Schema, dispatcher *events.Dispatcher, log Logger, rec Recorder, tr Tracer) *Client {
			return NewClient(reg, schema,
				WithDispatcher(dispatcher),
				WithLogger(log),
				WithRecorder(rec),
				WithTracer(tr),
			)
		},
	),
)
