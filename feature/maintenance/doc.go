// Package maintenance provides the operational endpoints of the backend.
//
// # HTTP Endpoints
//
//   - GET /health : Probes the object store. 200 with {"available": true, "detail": ...}
//     when reachable, 503 otherwise. The route is public even when an API key is set.
//   - POST /buckets/initialize : Creates missing declared buckets and converges their
//     policies. Returns the reconciliation report; 502 when a bucket failed, 503 when
//     the store is unreachable.
package maintenance
