package storage

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Client defines the primitive object store operations used by the backend.
// Its method set mirrors minio-go so the SDK client satisfies it through a
// thin wrapper, and tests can substitute mocks or the in-memory store.
type Client interface {
	// BucketExists checks if a bucket exists.
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	// MakeBucket creates a new bucket.
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	// GetBucketPolicy returns the bucket policy JSON, "" when none is set.
	GetBucketPolicy(ctx context.Context, bucketName string) (string, error)
	// SetBucketPolicy installs a policy. "" removes it.
	SetBucketPolicy(ctx context.Context, bucketName, policy string) error
	// PutObject uploads an object in a single request.
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	// GetObject downloads an object.
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (io.ReadCloser, error)
	// StatObject returns object metadata without its content.
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	// ListObjects lists objects in a bucket (supports prefix/recursive).
	ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	// RemoveObject deletes an object from a bucket.
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
	// RemoveObjects deletes multiple objects from a bucket efficiently.
	RemoveObjects(ctx context.Context, bucketName string, objectsCh <-chan minio.ObjectInfo, opts minio.RemoveObjectsOptions) <-chan minio.RemoveObjectError
	// PresignedGetObject signs a time-limited GET URL.
	PresignedGetObject(ctx context.Context, bucketName, objectName string, expires time.Duration, reqParams url.Values) (*url.URL, error)

	// NewMultipartUpload initiates a multipart upload and returns its ID.
	NewMultipartUpload(ctx context.Context, bucketName, objectName string, opts minio.PutObjectOptions) (string, error)
	// PutObjectPart uploads one part of a multipart upload.
	PutObjectPart(ctx context.Context, bucketName, objectName, uploadID string, partID int, data io.Reader, size int64, opts minio.PutObjectPartOptions) (minio.ObjectPart, error)
	// CompleteMultipartUpload commits the uploaded parts.
	CompleteMultipartUpload(ctx context.Context, bucketName, objectName, uploadID string, parts []minio.CompletePart, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	// AbortMultipartUpload discards an upload and its parts.
	AbortMultipartUpload(ctx context.Context, bucketName, objectName, uploadID string) error
}

// NewClient creates a MinIO client for the internal endpoint, or for the
// external one when external is true. The external client is used for
// signing only: a V4 signature covers the host, so URLs handed to clients
// must be signed against the host they will use.
func NewClient(s *Settings, external bool) (Client, error) {
	endpoint, secure := s.Endpoint, s.UseHTTPS
	if external {
		endpoint, secure = s.ExternalEndpoint, s.ExternalUseHTTPS
	}

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	// Custom transport with strict timeouts
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   timeout,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: timeout,
	}

	// RetryClient owns retries; the SDK sends each request once.
	minioClient, err := minio.New(endpoint, &minio.Options{
		Creds:      credentials.NewStaticV4(s.AccessKey, s.SecretKey, ""),
		Secure:     secure,
		Region:     s.Region,
		Transport:  transport,
		MaxRetries: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client for %s: %w", endpoint, err)
	}
	// The SDK connects lazily; callers probe with BucketExists.

	return &minioClientWrapper{Client: minioClient, core: minio.Core{Client: minioClient}}, nil
}

type minioClientWrapper struct {
	*minio.Client
	core minio.Core
}

// GetObject surfaces missing objects immediately instead of on first Read.
func (c *minioClientWrapper) GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (io.ReadCloser, error) {
	obj, err := c.Client.GetObject(ctx, bucketName, objectName, opts)
	if err != nil {
		return nil, err
	}
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, err
	}
	return obj, nil
}

func (c *minioClientWrapper) NewMultipartUpload(ctx context.Context, bucketName, objectName string, opts minio.PutObjectOptions) (string, error) {
	return c.core.NewMultipartUpload(ctx, bucketName, objectName, opts)
}

func (c *minioClientWrapper) PutObjectPart(ctx context.Context, bucketName, objectName, uploadID string, partID int, data io.Reader, size int64, opts minio.PutObjectPartOptions) (minio.ObjectPart, error) {
	return c.core.PutObjectPart(ctx, bucketName, objectName, uploadID, partID, data, size, opts)
}

func (c *minioClientWrapper) CompleteMultipartUpload(ctx context.Context, bucketName, objectName, uploadID string, parts []minio.CompletePart, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	return c.core.CompleteMultipartUpload(ctx, bucketName, objectName, uploadID, parts, opts)
}

func (c *minioClientWrapper) AbortMultipartUpload(ctx context.Context, bucketName, objectName, uploadID string) error {
	return c.core.AbortMultipartUpload(ctx, bucketName, objectName, uploadID)
}
