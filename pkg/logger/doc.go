// Package logger provides structured logging for the remora packages.
//
// It wraps Uber's Zap logger behind a small five-method surface
// (Debug/Info/Warn/Error/Fatal) that every other package in the module
// depends on through its own narrow Logger interface. Output is JSON on
// stderr with ISO8601 timestamps and a service tag, so several processes
// embedding remora can share one log pipeline.
//
// Basic Usage:
//
//	import "github.com/remora-db/remora/pkg/logger"
//
//	log := logger.NewLoggerClient(logger.Config{
//		Level:   "info",
//		Service: "orders-api",
//	})
//
//	log.Info("document saved", nil, map[string]interface{}{
//		"collection": "orders",
//		"id":         id,
//	})
//
//	log.Error("cascade delete failed", err, map[string]interface{}{
//		"collection": "authors",
//	})
//
// Libraries and tests that do not care about output can use NewNop.
//
// FX Module Integration:
//
//	app := fx.New(
//		logger.FXModule,
//		// ... other modules
//	)
//	app.Run()
//
// Configuration:
//
// The logger can be configured via environment variables:
//
//	REMORA_LOG_LEVEL=debug      # Log level (debug, info, warning, error)
//	REMORA_LOG_SERVICE=my-app   # Service tag on every entry
//
// Thread Safety:
//
// All methods on Logger are safe for concurrent use by multiple goroutines.
package logger
