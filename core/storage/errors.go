package storage

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"

	"minio-backend/core/errs"

	"github.com/minio/minio-go/v7"
)

// mapError translates a MinIO SDK error into an *errs.Error. Errors that
// are already mapped pass through untouched.
func mapError(err error, msg string) error {
	if err == nil {
		return nil
	}

	var mapped *errs.Error
	if errors.As(err, &mapped) {
		return err
	}

	// Context cancellation / deadline
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.KindTimeout, msg, err)
	}

	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		switch resp.Code {
		case "NoSuchKey", "NoSuchBucket", "NoSuchUpload", "NoSuchVersion":
			return errs.Wrap(errs.KindNotFound, msg, err)
		case "SlowDown", "RequestTimeout", "InternalError", "ServiceUnavailable",
			"XMinioServerNotInitialized", "XMinioStorageFull":
			return errs.Wrap(errs.KindTransient, msg, err)
		}

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return errs.Wrap(errs.KindNotFound, msg, err)
		case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= http.StatusInternalServerError:
			return errs.Wrap(errs.KindTransient, msg, err)
		case resp.StatusCode == 0 && resp.Code == "":
			// No response at all: the request never reached the server.
			return errs.Wrap(errs.KindTransient, msg, err)
		}
		return errs.Wrap(errs.KindPermanent, msg, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return errs.Wrap(errs.KindTimeout, msg, err)
		}
		return errs.Wrap(errs.KindTransient, msg, err)
	}

	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return errs.Wrap(errs.KindTransient, msg, err)
	}

	return errs.Wrap(errs.KindPermanent, msg, err)
}

// IsPreconditionFailed reports whether a conditional write was rejected
// because its precondition did not hold (HTTP 412).
func IsPreconditionFailed(err error) bool {
	var resp minio.ErrorResponse
	if !errors.As(err, &resp) {
		return false
	}
	return resp.StatusCode == http.StatusPreconditionFailed || resp.Code == "PreconditionFailed"
}
