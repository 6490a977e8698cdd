// Package errs provides the error taxonomy shared by every layer of the backend.
//
// Store errors are mapped once, at the client boundary, into one of a small set
// of kinds. Callers branch on kinds through the Is* predicates instead of
// inspecting SDK error responses.
//
// # Taxonomy
//
//   - Config: startup-time, fatal. AmbiguousBucket and InvalidExpiry are Config kinds.
//   - NotFound: expected negative result.
//   - Transient: network or 5xx failures, retried by the client. Timeout is Transient.
//   - Permanent: auth, permission or bad request. Never retried.
//
// # Usage
//
//	if errs.IsNotFound(err) {
//	    return c.SendStatus(fiber.StatusNotFound)
//	}
package errs
