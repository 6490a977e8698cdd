package backend

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"minio-backend/core/errs"
	"minio-backend/core/reconcile"
	"minio-backend/core/storage"
	"minio-backend/core/urlcache"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/s3utils"
	"go.uber.org/zap"
)

// Backend implements Storage on top of an S3-compatible store.
type Backend struct {
	settings   *storage.Settings
	client     storage.Client
	signer     storage.Client
	probe      storage.Client
	uploader   *storage.Uploader
	reconciler *reconcile.Reconciler
	cache      *urlcache.Cache
	suffix     func() string
	logger     *zap.Logger
}

var _ Storage = (*Backend)(nil)

// Option configures a Backend.
type Option func(*Backend)

// WithSigner sets the client used to sign private URLs. It must target the
// external endpoint. Defaults to the main client.
func WithSigner(signer storage.Client) Option {
	return func(b *Backend) { b.signer = signer }
}

// WithProbe sets the client used by IsAvailable. Defaults to the main client.
func WithProbe(probe storage.Client) Option {
	return func(b *Backend) { b.probe = probe }
}

// WithCache replaces the URL cache built from the settings.
func WithCache(cache *urlcache.Cache) Option {
	return func(b *Backend) { b.cache = cache }
}

// WithSuffix replaces the generator of alternate-key suffixes.
func WithSuffix(suffix func() string) Option {
	return func(b *Backend) { b.suffix = suffix }
}

// New creates a Backend. client should map errors and retry (see
// storage.NewRetryClient).
func New(settings *storage.Settings, client storage.Client, logger *zap.Logger, opts ...Option) *Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Backend{
		settings:   settings,
		client:     client,
		signer:     client,
		probe:      client,
		uploader:   storage.NewUploader(client, settings.Multipart, settings.Timeout, logger),
		reconciler: reconcile.NewReconciler(client, settings.Region, logger),
		suffix:     randomSuffix,
		logger:     logger,
	}
	if settings.URLCachingEnabled {
		b.cache = urlcache.New(settings.URLCachePrefix, settings.CacheTTL(), urlcache.WithFlightTimeout(settings.Timeout))
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Connect builds the MinIO clients described by settings and returns a
// Backend over them. When the external endpoint differs from the internal
// one a second client signs URLs against it.
func Connect(settings *storage.Settings, logger *zap.Logger) (*Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	raw, err := storage.NewClient(settings, false)
	if err != nil {
		return nil, err
	}
	client := storage.NewRetryClient(raw, settings.Retry, logger)
	single := settings.Retry
	single.MaxAttempts = 1

	opts := []Option{WithProbe(storage.NewRetryClient(raw, single, logger))}
	if !settings.SameEndpoints() {
		external, err := storage.NewClient(settings, true)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithSigner(storage.NewRetryClient(external, settings.Retry, logger)))
	}
	return New(settings, client, logger, opts...), nil
}

// Settings returns the resolved configuration.
func (b *Backend) Settings() *storage.Settings {
	return b.settings
}

// Reconciler returns the reconciler bound to the backend's client.
func (b *Backend) Reconciler() *reconcile.Reconciler {
	return b.reconciler
}

// Client returns the retrying store client.
func (b *Backend) Client() storage.Client {
	return b.client
}

func (b *Backend) bucket(name string) (storage.BucketSpec, error) {
	spec, ok := b.settings.Bucket(name)
	if !ok {
		return spec, errs.Newf(errs.KindConfig, "bucket %q is not declared", name)
	}
	return spec, nil
}

func (b *Backend) resolve(bucket, key string) (storage.BucketSpec, string, error) {
	spec, err := b.bucket(bucket)
	if err != nil {
		return spec, "", err
	}
	key, err = cleanKey(key)
	return spec, key, err
}

func (b *Backend) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.settings.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, b.settings.Timeout)
}

// Stat returns an object's metadata.
func (b *Backend) Stat(ctx context.Context, bucket, key string) (storage.ObjectInfo, error) {
	_, key, err := b.resolve(bucket, key)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	info, err := b.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	out := storage.Stat(info)
	out.Key = key
	return out, nil
}

// Exists reports whether an object is stored at key.
func (b *Backend) Exists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := b.Stat(ctx, bucket, key)
	switch {
	case err == nil:
		return true, nil
	case errs.IsNotFound(err):
		return false, nil
	default:
		return false, err
	}
}

// Save writes r under key and returns the key actually used.
func (b *Backend) Save(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string, replace bool) (string, error) {
	spec, key, err := b.resolve(bucket, key)
	if err != nil {
		return "", err
	}

	// 1. Make sure the bucket exists
	if b.settings.BucketCheckOnSave {
		if _, err := b.reconciler.EnsureBucket(ctx, spec); err != nil {
			return "", err
		}
	}

	// 2. Upload. Without replace the store refuses a key that was taken
	// after it was picked, and the next free name is tried instead.
	var ref storage.ObjectRef
	if replace {
		if contentType == "" {
			contentType = contentTypeFor(key)
		}
		if ref, err = b.uploader.Put(ctx, bucket, key, r, size, contentType); err != nil {
			return "", err
		}
	} else {
		body, release, err := rewindable(r)
		if err != nil {
			return "", err
		}
		defer release()
		if ref, err = b.saveNew(ctx, bucket, key, body, size, contentType); err != nil {
			return "", err
		}
	}

	b.logger.Debug("Saved object",
		zap.String("bucket", bucket),
		zap.String("key", ref.Key),
		zap.Bool("renamed", ref.Key != key),
	)
	return ref.Key, nil
}

// saveNew uploads body under the first free name derived from key.
func (b *Backend) saveNew(ctx context.Context, bucket, key string, body io.ReadSeeker, size int64, contentType string) (storage.ObjectRef, error) {
	start, err := body.Seek(0, io.SeekCurrent)
	if err != nil {
		return storage.ObjectRef{}, errs.Wrap(errs.KindPermanent, "read upload body", err)
	}

	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		candidate, err := b.availableKey(ctx, bucket, key)
		if err != nil {
			return storage.ObjectRef{}, err
		}
		ct := contentType
		if ct == "" {
			ct = contentTypeFor(candidate)
		}

		ref, err := b.uploader.PutIfAbsent(ctx, bucket, candidate, body, size, ct)
		if err == nil {
			return ref, nil
		}
		if !storage.IsPreconditionFailed(err) {
			return storage.ObjectRef{}, err
		}

		b.logger.Debug("Key taken during upload",
			zap.String("bucket", bucket),
			zap.String("key", candidate),
			zap.Int("attempt", attempt+1),
		)
		if _, err := body.Seek(start, io.SeekStart); err != nil {
			return storage.ObjectRef{}, errs.Wrap(errs.KindPermanent, "rewind upload body", err)
		}
	}
	return storage.ObjectRef{}, errs.Newf(errs.KindPermanent, "no free name for %s/%s after %d attempts", bucket, key, maxNameAttempts)
}

// Open stats an object and streams its content.
func (b *Backend) Open(ctx context.Context, bucket, key string) (*storage.Object, error) {
	info, err := b.Stat(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	body, err := b.client.GetObject(ctx, bucket, info.Key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	return &storage.Object{ReadCloser: body, Info: info}, nil
}

// URL returns the URL clients use to fetch an object.
func (b *Backend) URL(ctx context.Context, bucket, key string) (string, error) {
	spec, key, err := b.resolve(bucket, key)
	if err != nil {
		return "", err
	}

	if spec.IsPublic() {
		return b.publicURL(bucket, key), nil
	}

	info, err := b.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return "", err
	}
	return b.cache.GetOrCompute(ctx, bucket, key, info.ETag, false, func(ctx context.Context) (string, error) {
		u, err := b.signer.PresignedGetObject(ctx, bucket, key, b.settings.URLExpiry, nil)
		if err != nil {
			return "", err
		}
		b.logger.Debug("Signed object URL",
			zap.String("bucket", bucket),
			zap.String("key", key),
			zap.Int("cached_urls", b.cache.Len()),
		)
		return u.String(), nil
	})
}

func (b *Backend) publicURL(bucket, key string) string {
	return b.settings.ExternalBaseURL() + "/" + bucket + "/" + s3utils.EncodePath(key)
}

// Delete removes an object. A missing object is NotFound.
func (b *Backend) Delete(ctx context.Context, bucket, key string) error {
	info, err := b.Stat(ctx, bucket, key)
	if err != nil {
		return err
	}
	if err := b.client.RemoveObject(ctx, bucket, info.Key, minio.RemoveObjectOptions{}); err != nil {
		return err
	}
	if b.cache != nil {
		b.cache.Invalidate(bucket, info.Key, info.ETag)
	}
	return nil
}

// Listdir returns the immediate subdirectories and files under dir, each
// sorted and relative to dir.
func (b *Backend) Listdir(ctx context.Context, bucket, dir string) ([]string, []string, error) {
	if _, err := b.bucket(bucket); err != nil {
		return nil, nil, err
	}

	prefix := strings.Trim(strings.ReplaceAll(dir, "\\", "/"), "/")
	if prefix != "" {
		prefix += "/"
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	dirs, files := []string{}, []string{}
	for obj := range b.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix}) {
		if obj.Err != nil {
			return nil, nil, obj.Err
		}
		name := strings.TrimPrefix(obj.Key, prefix)
		switch {
		case name == "":
			// Directory marker for prefix itself.
		case strings.HasSuffix(name, "/"):
			dirs = append(dirs, strings.TrimSuffix(name, "/"))
		default:
			files = append(files, name)
		}
	}

	sort.Strings(dirs)
	sort.Strings(files)
	return dirs, files, nil
}

// Size returns an object's size in bytes.
func (b *Backend) Size(ctx context.Context, bucket, key string) (int64, error) {
	info, err := b.Stat(ctx, bucket, key)
	if err != nil {
		return 0, err
	}
	return info.Size, nil
}

// ModifiedTime returns an object's last modification time.
func (b *Backend) ModifiedTime(ctx context.Context, bucket, key string) (time.Time, error) {
	info, err := b.Stat(ctx, bucket, key)
	if err != nil {
		return time.Time{}, err
	}
	return info.LastModified, nil
}

// IsAvailable checks that the store answers a bucket lookup on the health
// bucket.
func (b *Backend) IsAvailable(ctx context.Context) HealthStatus {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	target := b.settings.HealthBucket()
	exists, err := b.probe.BucketExists(ctx, target)
	if err != nil {
		b.logger.Warn("Object store availability probe failed",
			zap.String("endpoint", b.settings.BaseURL()),
			zap.Error(err),
		)
		return HealthStatus{
			Available: false,
			Detail:    fmt.Sprintf("could not reach %s: %v", b.settings.BaseURL(), err),
		}
	}
	if !exists {
		return HealthStatus{
			Available: true,
			Detail:    fmt.Sprintf("%s is reachable but bucket %q does not exist", b.settings.BaseURL(), target),
		}
	}
	return HealthStatus{
		Available: true,
		Detail:    fmt.Sprintf("%s is reachable", b.settings.BaseURL()),
	}
}
