// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Overview
//
// This package offers helper functions for JSON encoding/decoding, error responses,
// parameter parsing, validation, and common HTTP middleware patterns.
//
// # Response Helpers
//
// JSON responses:
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteSuccess(w, "Operation completed")
//	httputil.WriteCreated(w, resource)
//
// Error responses:
//
//	httputil.WriteError(w, http.StatusBadRequest, err)
//	httputil.WriteBadRequest(w, "Invalid input")
//	httputil.WriteUnauthorized(w, "Token expired")
//	httputil.WriteForbidden(w, "Insufficient permissions")
//
// # Request Parsing
//
// JSON parsing:
//
//	var req CreateModuleRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//
// Path parameters:
//
//	id, err := httputil.ParsePathInt64(r, "id")
//	name, err := httputil.ParsePathString(r, "name")
//
// Query parameters:
//
//	limit, err := httputil.ParseQueryInt(r, "limit", 20)
//	offset, err := httputil.ParseQueryInt(r, "offset", 0)
//	recursive, err := httputil.ParseQueryBool(r, "recursive", false)
//
// # Validation
//
//	if !httputil.RequireNonEmpty(w, req.Name, "name") {
//		return // 400 response already written
//	}
//	httputil.ValidateAll(w,
//		func() (bool, string) { return limit > 0, "limit must be positive" },
//	)
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.LoggingMiddleware,
//		httputil.RecoveryMiddleware,
//		httputil.RequestIDMiddleware,
//		httputil.TimeoutMiddleware(30*time.Second),
//		httputil.MaxBytesMiddleware(10*1024*1024), // 10MB
//	)(finalHandler)
//
// # Related Packages
//
//   - pkg/middleware: Request-ID, access-log and panic-recovery middleware
package httputil
