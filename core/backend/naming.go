package backend

import (
	"context"
	"mime"
	"path"
	"strings"
	"time"

	"minio-backend/core/errs"

	"github.com/google/uuid"
)

const (
	maxNameAttempts    = 100
	defaultContentType = "application/octet-stream"
)

// randomSuffix returns 7 hex characters taken from a random UUID.
func randomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:7]
}

// alternateKey inserts _suffix before the extension of key:
// "docs/report.pdf" becomes "docs/report_1a2b3c4.pdf".
func alternateKey(key, suffix string) string {
	dir, base := path.Split(key)
	ext := path.Ext(base)
	if ext == base {
		// Dotfiles such as ".env" have no stem.
		ext = ""
	}
	return dir + strings.TrimSuffix(base, ext) + "_" + suffix + ext
}

// DatePrefix files key under a directory named after the UTC date of now:
// "cat.png" becomes "2020-12-31/cat.png".
func DatePrefix(key string, now time.Time) string {
	return now.UTC().Format("2006-01-02") + "/" + strings.TrimLeft(key, "/")
}

// availableKey returns key when it is free, otherwise the first free
// alternate key.
func (b *Backend) availableKey(ctx context.Context, bucket, key string) (string, error) {
	taken, err := b.Exists(ctx, bucket, key)
	if err != nil || !taken {
		return key, err
	}

	for i := 0; i < maxNameAttempts; i++ {
		candidate := alternateKey(key, b.suffix())
		taken, err := b.Exists(ctx, bucket, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", errs.Newf(errs.KindPermanent, "no free name for %s/%s after %d attempts", bucket, key, maxNameAttempts)
}

// contentTypeFor infers a MIME type from the key's extension.
func contentTypeFor(key string) string {
	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		return ct
	}
	return defaultContentType
}

// cleanKey normalises a key: no leading slash, forward slashes only.
func cleanKey(key string) (string, error) {
	key = strings.TrimLeft(strings.ReplaceAll(key, "\\", "/"), "/")
	if key == "" || strings.HasSuffix(key, "/") {
		return "", errs.Newf(errs.KindConfig, "invalid object key %q", key)
	}
	return key, nil
}
