// Package storage is the object store layer of the backend.
//
// It wraps the MinIO Go client behind the Client interface, resolves and
// validates configuration into immutable Settings, and adds the policies
// every caller relies on.
//
// # Client Interface
//
// The Client interface mirrors the subset of minio-go the backend needs,
// including the low-level multipart calls of minio.Core. Tests substitute
// core/storage/mocks or the in-memory store in core/storage/storagetest.
//
// # Errors
//
// SDK errors are translated into core/errs kinds: missing keys become
// NotFound, throttling and 5xx become Transient, deadlines become Timeout,
// everything else is Permanent.
//
// # Retry
//
// RetryClient decorates a Client and retries transient failures with
// exponential backoff (5 attempts, 200ms base, x2, capped at 5s by default).
// Listings are restarted only before the first item has been delivered.
//
// # Multipart
//
// Uploader switches to a parallel multipart upload above the configured
// threshold or when the body size is unknown. Parts are uploaded by a
// bounded pool of workers; any failure aborts the upload.
//
// # Usage
//
//	settings, err := storage.Resolve(cfg.Storage, nil)
//	raw, err := storage.NewClient(settings, false)
//	client := storage.NewRetryClient(raw, settings.Retry, logger)
//	exists, err := client.BucketExists(ctx, "docs-private")
package storage
