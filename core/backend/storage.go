package backend

import (
	"context"
	"io"
	"time"

	"minio-backend/core/storage"
)

// Storage is the file storage contract the HTTP features and commands
// depend on. Keys are slash separated paths relative to a bucket.
type Storage interface {
	// Exists reports whether an object is stored at key.
	Exists(ctx context.Context, bucket, key string) (bool, error)
	// Save writes r under key and returns the key actually used. Unless
	// replace is set, an occupied key is never overwritten: an alternate
	// key is derived instead. An empty contentType is inferred from the
	// key's extension.
	Save(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string, replace bool) (string, error)
	// Open streams an object. The caller must close it.
	Open(ctx context.Context, bucket, key string) (*storage.Object, error)
	// URL returns an unsigned URL for public buckets and a signed,
	// time-limited one for private buckets.
	URL(ctx context.Context, bucket, key string) (string, error)
	// Delete removes an object. A missing object is NotFound.
	Delete(ctx context.Context, bucket, key string) error
	// Listdir returns the immediate subdirectories and files under path.
	Listdir(ctx context.Context, bucket, path string) ([]string, []string, error)
	// Size returns an object's size in bytes.
	Size(ctx context.Context, bucket, key string) (int64, error)
	// ModifiedTime returns an object's last modification time.
	ModifiedTime(ctx context.Context, bucket, key string) (time.Time, error)
	// Stat returns an object's metadata.
	Stat(ctx context.Context, bucket, key string) (storage.ObjectInfo, error)
	// IsAvailable probes the store. It never fails; the outcome is in the
	// returned status.
	IsAvailable(ctx context.Context) HealthStatus
}

// HealthStatus is the outcome of a single availability probe.
type HealthStatus struct {
	Available bool   `json:"available"`
	Detail    string `json:"detail"`
}
