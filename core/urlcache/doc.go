// Package urlcache memoizes presigned URLs.
//
// Entries are keyed by the prefix plus a SHA-256 digest of bucket, object key
// and ETag, so a rewritten object never reuses a URL signed for its previous
// content. Entries expire after a fixed TTL which callers keep below the URL
// expiry; a URL is never served after its own signature has expired.
//
// Concurrent misses for the same key are collapsed with singleflight.
package urlcache
