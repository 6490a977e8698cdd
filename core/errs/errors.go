package errs

import (
	"errors"
	"fmt"
)

// Kind categorises an error so callers can branch on it without importing
// the object store SDK.
type Kind int

const (
	KindUnknown Kind = iota
	// KindConfig is a startup-time configuration problem. Fatal.
	KindConfig
	// KindAmbiguousBucket is a Config error: a bucket is classified zero or
	// more than one time across the private/public lists.
	KindAmbiguousBucket
	// KindInvalidExpiry is a Config error: the signed URL expiry is out of range.
	KindInvalidExpiry
	// KindNotFound is an expected negative result (missing object or bucket).
	KindNotFound
	// KindTransient is a retryable failure (network, 5xx, throttling).
	KindTransient
	// KindTimeout is a Transient failure caused by a deadline or cancellation.
	KindTimeout
	// KindPermanent is a non-retryable failure (auth, permission, bad request).
	KindPermanent
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindAmbiguousBucket:
		return "ambiguous_bucket_classification"
	case KindInvalidExpiry:
		return "invalid_expiry"
	case KindNotFound:
		return "not_found"
	case KindTransient:
		return "transient"
	case KindTimeout:
		return "timeout"
	case KindPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Error is the error type returned by every package of the backend.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is / errors.As to traverse the cause chain.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an *Error with no cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf creates an *Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an *Error around an underlying cause.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// KindOf returns the kind of the first *Error in the chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsConfig reports whether err is any configuration error, including
// ambiguous classification and invalid expiry.
func IsConfig(err error) bool {
	switch KindOf(err) {
	case KindConfig, KindAmbiguousBucket, KindInvalidExpiry:
		return true
	}
	return false
}

// IsAmbiguousBucket reports whether err is an ambiguous bucket classification.
func IsAmbiguousBucket(err error) bool {
	return KindOf(err) == KindAmbiguousBucket
}

// IsInvalidExpiry reports whether err rejects the configured URL expiry.
func IsInvalidExpiry(err error) bool {
	return KindOf(err) == KindInvalidExpiry
}

// IsNotFound reports whether err is a missing object or bucket.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// IsTransient reports whether err may succeed on retry. Timeouts count.
func IsTransient(err error) bool {
	k := KindOf(err)
	return k == KindTransient || k == KindTimeout
}

// IsTimeout reports whether err was caused by a deadline or cancellation.
func IsTimeout(err error) bool {
	return KindOf(err) == KindTimeout
}

// IsPermanent reports whether err must not be retried.
func IsPermanent(err error) bool {
	return KindOf(err) == KindPermanent
}
