package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"time"

	"minio-backend/core/errs"

	"github.com/minio/minio-go/v7"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Uploader writes objects, switching to a parallel multipart upload for
// large or unknown-size bodies.
type Uploader struct {
	client   Client
	settings MultipartSettings
	timeout  time.Duration
	logger   *zap.Logger
}

// NewUploader creates an Uploader over client.
func NewUploader(client Client, settings MultipartSettings, timeout time.Duration, logger *zap.Logger) *Uploader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if settings.Workers < 1 {
		settings.Workers = 1
	}
	if settings.PartSize < MinPartSize {
		settings.PartSize = MinPartSize
	}
	return &Uploader{client: client, settings: settings, timeout: timeout, logger: logger}
}

// Put stores r under bucket/key. size may be -1 when unknown.
func (u *Uploader) Put(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) (ObjectRef, error) {
	return u.put(ctx, bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType}, false)
}

// PutIfAbsent stores r under bucket/key only if no object exists there.
// The check is made by the store when the object is committed, so a
// concurrent writer that wins the key makes this call fail with an error
// for which IsPreconditionFailed holds.
func (u *Uploader) PutIfAbsent(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) (ObjectRef, error) {
	return u.put(ctx, bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType}, true)
}

func (u *Uploader) put(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions, ifAbsent bool) (ObjectRef, error) {
	commit := opts
	if ifAbsent {
		commit.SetMatchETagExcept("*")
	}

	if !u.settings.Enabled || (size >= 0 && size < u.settings.Threshold) {
		return u.putSingle(ctx, bucket, key, r, size, commit)
	}

	// Unknown size: buffer the first part to decide.
	if size < 0 {
		head := make([]byte, u.settings.PartSize)
		n, err := io.ReadFull(r, head)
		switch {
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return u.putSingle(ctx, bucket, key, bytes.NewReader(head[:n]), int64(n), commit)
		case err != nil:
			return ObjectRef{}, errs.Wrap(errs.KindPermanent, "read upload body", err)
		}
		r = io.MultiReader(bytes.NewReader(head), r)
	}

	return u.putMultipart(ctx, bucket, key, r, opts, commit)
}

func (u *Uploader) putSingle(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (ObjectRef, error) {
	// Buffer unknown sizes so the client sends a single request.
	if size < 0 {
		data, err := io.ReadAll(r)
		if err != nil {
			return ObjectRef{}, errs.Wrap(errs.KindPermanent, "read upload body", err)
		}
		r, size = bytes.NewReader(data), int64(len(data))
	}

	callCtx, cancel := u.withTimeout(ctx)
	defer cancel()
	info, err := u.client.PutObject(callCtx, bucket, key, r, size, opts)
	if err != nil {
		return ObjectRef{}, mapError(err, "put object "+bucket+"/"+key)
	}
	return ObjectRef{Bucket: bucket, Key: key, ETag: info.ETag, VersionID: info.VersionID}, nil
}

// putMultipart initiates the upload with opts and completes it with commit,
// which may carry a precondition.
func (u *Uploader) putMultipart(ctx context.Context, bucket, key string, r io.Reader, opts, commit minio.PutObjectOptions) (ObjectRef, error) {
	uploadID, err := u.client.NewMultipartUpload(ctx, bucket, key, opts)
	if err != nil {
		return ObjectRef{}, mapError(err, "initiate multipart "+bucket+"/"+key)
	}

	parts, err := u.uploadParts(ctx, bucket, key, uploadID, r)
	if err != nil {
		u.abort(bucket, key, uploadID)
		return ObjectRef{}, err
	}

	sort.Slice(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber })

	info, err := u.client.CompleteMultipartUpload(ctx, bucket, key, uploadID, parts, commit)
	if err != nil {
		u.abort(bucket, key, uploadID)
		return ObjectRef{}, mapError(err, "complete multipart "+bucket+"/"+key)
	}

	u.logger.Debug("Multipart upload completed",
		zap.String("bucket", bucket),
		zap.String("key", key),
		zap.Int("parts", len(parts)),
	)
	return ObjectRef{Bucket: bucket, Key: key, ETag: info.ETag, VersionID: info.VersionID}, nil
}

func (u *Uploader) uploadParts(ctx context.Context, bucket, key, uploadID string, r io.Reader) ([]minio.CompletePart, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.settings.Workers)

	var parts []minio.CompletePart
	results := make(chan minio.CompletePart, u.settings.Workers)
	collected := make(chan struct{})
	go func() {
		for p := range results {
			parts = append(parts, p)
		}
		close(collected)
	}()

	var readErr error
	for partNumber := 1; ; partNumber++ {
		if gctx.Err() != nil {
			break
		}
		buf := make([]byte, u.settings.PartSize)
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			num, data := partNumber, buf[:n]
			g.Go(func() error {
				callCtx, cancel := u.withTimeout(gctx)
				defer cancel()
				part, err := u.client.PutObjectPart(callCtx, bucket, key, uploadID, num, bytes.NewReader(data), int64(len(data)), minio.PutObjectPartOptions{})
				if err != nil {
					return mapError(err, "upload part")
				}
				results <- minio.CompletePart{PartNumber: num, ETag: part.ETag}
				return nil
			})
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			readErr = errs.Wrap(errs.KindPermanent, "read upload body", err)
			break
		}
	}

	err := g.Wait()
	close(results)
	<-collected

	if readErr != nil {
		return nil, readErr
	}
	if err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		// S3 rejects a completion without parts; send one empty part.
		part, err := u.client.PutObjectPart(ctx, bucket, key, uploadID, 1, bytes.NewReader(nil), 0, minio.PutObjectPartOptions{})
		if err != nil {
			return nil, mapError(err, "upload part")
		}
		parts = append(parts, minio.CompletePart{PartNumber: 1, ETag: part.ETag})
	}
	return parts, nil
}

// abort runs on a fresh context so a cancelled request still cleans up.
func (u *Uploader) abort(bucket, key, uploadID string) {
	ctx, cancel := context.WithTimeout(context.Background(), u.abortTimeout())
	defer cancel()
	if err := u.client.AbortMultipartUpload(ctx, bucket, key, uploadID); err != nil {
		u.logger.Warn("Failed to abort multipart upload",
			zap.String("bucket", bucket),
			zap.String("key", key),
			zap.String("upload_id", uploadID),
			zap.Error(err),
		)
	}
}

func (u *Uploader) abortTimeout() time.Duration {
	if u.timeout > 0 {
		return u.timeout
	}
	return defaultTimeout
}

func (u *Uploader) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if u.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, u.timeout)
}

// Stat converts the SDK's object metadata to ObjectInfo.
func Stat(info minio.ObjectInfo) ObjectInfo {
	return ObjectInfo{
		Key:          info.Key,
		Size:         info.Size,
		ETag:         info.ETag,
		ContentType:  info.ContentType,
		LastModified: info.LastModified,
	}
}
