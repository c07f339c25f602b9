// Package middleware provides the request-scoped HTTP middleware chain:
// request-id propagation, structured access logging, and panic recovery.
//
// # Middleware Components
//
// RequestID: assigns or propagates an X-Request-ID header and stores it in
// the request context.
//
//	router.Use(middleware.RequestID)
//
// AccessLog: logs one structured line per request via pkg/observability's
// Logger.
//
//	router.Use(middleware.AccessLog(logger))
//
// Recover: converts a panic in a downstream handler into a 500 response
// instead of crashing the listener goroutine.
//
//	router.Use(middleware.Recover(logger))
//
// # Related Packages
//
//   - pkg/observability: Logger and context-key helpers
//   - pkg/httpapi: registers this chain around every route
package middleware
