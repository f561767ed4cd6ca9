// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response Helpers
//
//	httputil.WriteSuccess(w, plan)
//	httputil.WriteCreated(w, order)
//	httputil.WriteList(w, plans, total, limit, offset)
//	httputil.WriteBadRequest(w, "invalid tier")
//
// Every error body has the shape {"error": "...", "fields": {...}}.
//
// # Request Parsing
//
// Request DTOs carry validator tags and are decoded in one step:
//
//	var req CheckoutRequest
//	if !httputil.DecodeAndValidate(w, r, &req) {
//		return // 400 already written
//	}
//
// Path and query parameters:
//
//	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
//	limit, offset, err := httputil.ParsePagination(r)
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//		httputil.CORSMiddleware(cfg.Server.CORSOrigins),
//	)(router)
package httputil
