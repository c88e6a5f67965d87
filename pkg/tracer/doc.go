// Package tracer provides distributed tracing for document operations using
// OpenTelemetry.
//
// It abstracts the OpenTelemetry SDK behind a small API for creating spans,
// recording errors, and attaching attributes. The query layer consumes it
// through the SpanStarter adapter, so every find, save, and delete shows up
// as a "remora.<operation>" span in the trace backend.
//
// Basic Usage:
//
//	import (
//		"context"
//
//		"github.com/remora-db/remora/pkg/logger"
//		"github.com/remora-db/remora/pkg/tracer"
//	)
//
//	log := logger.NewLoggerClient(logger.Config{Level: "info"})
//
//	tracerClient := tracer.NewClient(tracer.Config{
//		ServiceName:  "orders-api",
//		AppEnv:       "development",
//		EnableExport: true,
//	}, log)
//
//	ctx, span := tracerClient.StartSpan(ctx, "remora.find")
//	defer span.End()
//
//	if err != nil {
//		tracerClient.RecordErrorOnSpan(span, err)
//	}
//
// Export is controlled by Config.EnableExport; the collector endpoint
// follows the standard OTEL_EXPORTER_OTLP_* environment variables.
//
// FX Module Integration:
//
//	app := fx.New(
//		logger.FXModule,
//		tracer.FXModule,
//		// ... other modules
//	)
//
// The module shuts the provider down on application stop, flushing any
// batched spans.
//
// Thread Safety:
//
// All methods on Tracer are safe for concurrent use by multiple goroutines.
package tracer
