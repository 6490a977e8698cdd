package storage

import (
	"context"
	"io"
	"math"
	"net/url"
	"time"

	"minio-backend/core/errs"

	"github.com/minio/minio-go/v7"
	"go.uber.org/zap"
)

// RetryPolicy configures retry behavior for transient store failures.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int
	// BaseBackoff is the delay before the first retry.
	BaseBackoff time.Duration
	// MaxBackoff caps the exponential backoff.
	MaxBackoff time.Duration
	// Multiplier is the factor by which the backoff grows each retry.
	Multiplier float64
}

// DefaultRetryPolicy returns 5 attempts with a 200ms exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: defaultAttempts,
		BaseBackoff: defaultBackoff,
		MaxBackoff:  maxBackoff,
		Multiplier:  2.0,
	}
}

// Backoff returns the delay before retry number n (0-based).
func (p RetryPolicy) Backoff(n int) time.Duration {
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.BaseBackoff) * math.Pow(mult, float64(n))
	if p.MaxBackoff > 0 && d > float64(p.MaxBackoff) {
		d = float64(p.MaxBackoff)
	}
	return time.Duration(d)
}

// RetryClient wraps a Client: every error is mapped into the errs taxonomy
// and transient failures are retried with exponential backoff. Permanent
// and not-found errors surface immediately.
type RetryClient struct {
	inner  Client
	policy RetryPolicy
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

var _ Client = (*RetryClient)(nil)

// NewRetryClient wraps inner with the given policy.
func NewRetryClient(inner Client, policy RetryPolicy, logger *zap.Logger) *RetryClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &RetryClient{inner: inner, policy: policy, logger: logger, sleep: sleepContext}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *RetryClient) retry(ctx context.Context, op, target string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < c.policy.MaxAttempts; attempt++ {
		lastErr = mapError(fn(), op+" "+target)
		if lastErr == nil {
			return nil
		}
		if !errs.IsTransient(lastErr) || ctx.Err() != nil {
			return lastErr
		}
		if attempt == c.policy.MaxAttempts-1 {
			break
		}

		backoff := c.policy.Backoff(attempt)
		c.logger.Debug("Store operation failed, retrying",
			zap.String("op", op),
			zap.String("target", target),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", c.policy.MaxAttempts),
			zap.Duration("backoff", backoff),
			zap.Error(lastErr),
		)
		if err := c.sleep(ctx, backoff); err != nil {
			return mapError(err, op+" "+target)
		}
	}
	return lastErr
}

func (c *RetryClient) BucketExists(ctx context.Context, bucketName string) (bool, error) {
	var exists bool
	err := c.retry(ctx, "bucket exists", bucketName, func() error {
		var err error
		exists, err = c.inner.BucketExists(ctx, bucketName)
		return err
	})
	return exists, err
}

func (c *RetryClient) MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error {
	return c.retry(ctx, "make bucket", bucketName, func() error {
		return c.inner.MakeBucket(ctx, bucketName, opts)
	})
}

func (c *RetryClient) GetBucketPolicy(ctx context.Context, bucketName string) (string, error) {
	var p string
	err := c.retry(ctx, "get bucket policy", bucketName, func() error {
		var err error
		p, err = c.inner.GetBucketPolicy(ctx, bucketName)
		if minio.ToErrorResponse(err).Code == "NoSuchBucketPolicy" {
			p, err = "", nil
		}
		return err
	})
	return p, err
}

func (c *RetryClient) SetBucketPolicy(ctx context.Context, bucketName, policy string) error {
	return c.retry(ctx, "set bucket policy", bucketName, func() error {
		return c.inner.SetBucketPolicy(ctx, bucketName, policy)
	})
}

// PutObject retries only when the body can be rewound.
func (c *RetryClient) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	seeker, rewindable := reader.(io.Seeker)
	var start int64
	if rewindable {
		pos, err := seeker.Seek(0, io.SeekCurrent)
		if err != nil {
			rewindable = false
		}
		start = pos
	}

	var info minio.UploadInfo
	first := true
	target := bucketName + "/" + objectName
	op := func() error {
		if !first {
			if !rewindable {
				return errs.New(errs.KindPermanent, "upload body cannot be replayed")
			}
			if _, err := seeker.Seek(start, io.SeekStart); err != nil {
				return errs.Wrap(errs.KindPermanent, "rewind upload body", err)
			}
		}
		first = false
		var err error
		info, err = c.inner.PutObject(ctx, bucketName, objectName, reader, objectSize, opts)
		return err
	}
	err := c.retry(ctx, "put object", target, op)
	return info, err
}

func (c *RetryClient) GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (io.ReadCloser, error) {
	var obj io.ReadCloser
	err := c.retry(ctx, "get object", bucketName+"/"+objectName, func() error {
		var err error
		obj, err = c.inner.GetObject(ctx, bucketName, objectName, opts)
		return err
	})
	return obj, err
}

func (c *RetryClient) StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error) {
	var info minio.ObjectInfo
	err := c.retry(ctx, "stat object", bucketName+"/"+objectName, func() error {
		var err error
		info, err = c.inner.StatObject(ctx, bucketName, objectName, opts)
		return err
	})
	return info, err
}

// ListObjects restarts the listing on a transient error as long as nothing
// has been delivered yet. Once items have been yielded the error is
// forwarded, since callers cannot dedupe a restarted enumeration.
func (c *RetryClient) ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo {
	out := make(chan minio.ObjectInfo)
	go func() {
		defer close(out)
		yielded := false
		for attempt := 0; ; attempt++ {
			attemptCtx, cancel := context.WithCancel(ctx)
			var failure error
			for obj := range c.inner.ListObjects(attemptCtx, bucketName, opts) {
				if obj.Err != nil {
					failure = mapError(obj.Err, "list objects "+bucketName)
					break
				}
				select {
				case out <- obj:
					yielded = true
				case <-ctx.Done():
					cancel()
					return
				}
			}
			cancel()

			if failure == nil {
				return
			}
			if yielded || !errs.IsTransient(failure) || ctx.Err() != nil || attempt >= c.policy.MaxAttempts-1 {
				select {
				case out <- minio.ObjectInfo{Err: failure}:
				case <-ctx.Done():
				}
				return
			}
			if err := c.sleep(ctx, c.policy.Backoff(attempt)); err != nil {
				return
			}
		}
	}()
	return out
}

func (c *RetryClient) RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error {
	return c.retry(ctx, "remove object", bucketName+"/"+objectName, func() error {
		return c.inner.RemoveObject(ctx, bucketName, objectName, opts)
	})
}

// RemoveObjects consumes a one-shot channel and is therefore not retried;
// per-object errors are mapped.
func (c *RetryClient) RemoveObjects(ctx context.Context, bucketName string, objectsCh <-chan minio.ObjectInfo, opts minio.RemoveObjectsOptions) <-chan minio.RemoveObjectError {
	out := make(chan minio.RemoveObjectError)
	go func() {
		defer close(out)
		for e := range c.inner.RemoveObjects(ctx, bucketName, objectsCh, opts) {
			e.Err = mapError(e.Err, "remove object "+bucketName+"/"+e.ObjectName)
			out <- e
		}
	}()
	return out
}

func (c *RetryClient) PresignedGetObject(ctx context.Context, bucketName, objectName string, expires time.Duration, reqParams url.Values) (*url.URL, error) {
	var u *url.URL
	err := c.retry(ctx, "presign", bucketName+"/"+objectName, func() error {
		var err error
		u, err = c.inner.PresignedGetObject(ctx, bucketName, objectName, expires, reqParams)
		return err
	})
	return u, err
}

func (c *RetryClient) NewMultipartUpload(ctx context.Context, bucketName, objectName string, opts minio.PutObjectOptions) (string, error) {
	var id string
	err := c.retry(ctx, "initiate multipart", bucketName+"/"+objectName, func() error {
		var err error
		id, err = c.inner.NewMultipartUpload(ctx, bucketName, objectName, opts)
		return err
	})
	return id, err
}

// PutObjectPart retries only when the part body can be rewound.
func (c *RetryClient) PutObjectPart(ctx context.Context, bucketName, objectName, uploadID string, partID int, data io.Reader, size int64, opts minio.PutObjectPartOptions) (minio.ObjectPart, error) {
	seeker, rewindable := data.(io.Seeker)
	var part minio.ObjectPart
	first := true
	err := c.retry(ctx, "upload part", bucketName+"/"+objectName, func() error {
		if !first {
			if !rewindable {
				return errs.New(errs.KindPermanent, "part body cannot be replayed")
			}
			if _, err := seeker.Seek(0, io.SeekStart); err != nil {
				return errs.Wrap(errs.KindPermanent, "rewind part body", err)
			}
		}
		first = false
		var err error
		part, err = c.inner.PutObjectPart(ctx, bucketName, objectName, uploadID, partID, data, size, opts)
		return err
	})
	return part, err
}

func (c *RetryClient) CompleteMultipartUpload(ctx context.Context, bucketName, objectName, uploadID string, parts []minio.CompletePart, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	var info minio.UploadInfo
	err := c.retry(ctx, "complete multipart", bucketName+"/"+objectName, func() error {
		var err error
		info, err = c.inner.CompleteMultipartUpload(ctx, bucketName, objectName, uploadID, parts, opts)
		return err
	})
	return info, err
}

func (c *RetryClient) AbortMultipartUpload(ctx context.Context, bucketName, objectName, uploadID string) error {
	return c.retry(ctx, "abort multipart", bucketName+"/"+objectName, func() error {
		return c.inner.AbortMultipartUpload(ctx, bucketName, objectName, uploadID)
	})
}
