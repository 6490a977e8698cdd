package storage

import (
	"io"
	"time"
)

// ObjectRef addresses a stored object. It is a transient value.
type ObjectRef struct {
	Bucket    string
	Key       string
	ETag      string
	VersionID string
}

// ObjectInfo is the metadata returned by a stat.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	ContentType  string
	LastModified time.Time
}

// Object is a streaming handle to an object's content.
// The caller must Close it.
type Object struct {
	io.ReadCloser
	Info ObjectInfo
}
