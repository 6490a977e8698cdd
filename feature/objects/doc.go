// Package objects exposes the storage façade over HTTP.
//
// Keys are taken from the wildcard part of the path, so nested keys need no
// escaping beyond what the URL itself requires.
//
// # HTTP Endpoints
//
//   - PUT /objects/:bucket/*key : Stores the body. Without ?replace=true an existing key is never
//     overwritten and the response names the alternate key actually used.
//   - GET /objects/:bucket/*key : Streams the object with its content type and ETag.
//   - HEAD /objects/:bucket/*key : 200 when the object exists, 404 otherwise.
//   - DELETE /objects/:bucket/*key : Removes the object (404 when missing).
//   - GET /urls/:bucket/*key : Returns the client-facing URL (signed for private buckets).
//   - GET /stat/:bucket/*key : Returns size, ETag, content type and last-modified time.
//   - GET /list/:bucket?path= : Returns the directories and files directly under path.
//
// Errors are returned as {"error": ..., "kind": ...} with the status chosen
// by server.StatusFor.
package objects
