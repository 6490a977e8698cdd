// Package middleware contains HTTP middleware for the Fiber application.
//
// It provides cross-cutting concerns that sit between the request and the handler.
//
// # Components
//
//   - auth: Implements API key validation (X-API-Key header or api_key query) to protect endpoints.
//     Selected paths such as /health can be left public.
//   - rayid: Tags every incoming request with a unique Request ID (RayID), kept
//     from the X-Ray-ID header when present, injecting it into the context and response headers for tracing.
//
// These middleware components are designed to be registered globally or per-route group
// in the main application setup.
package middleware
