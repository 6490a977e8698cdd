// Package storagetest provides an in-memory storage.Client for tests.
package storagetest

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"minio-backend/core/storage"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/s3utils"
)

const dateLayout = "20060102T150405Z"

type object struct {
	data        []byte
	etag        string
	contentType string
	modified    time.Time
}

type bucket struct {
	policy  string
	objects map[string]*object
}

type upload struct {
	bucket, key string
	contentType string
	parts       map[int][]byte
}

// Memory is a thread-safe in-memory object store. Presigned URLs carry an
// HMAC signature over the host, path and expiry, and can be checked with
// Resolve.
type Memory struct {
	// Host is the host:port signed URLs point at.
	Host string
	// Secure selects https for signed URLs.
	Secure bool
	// Secret keys the URL signatures.
	Secret string
	// Now is the clock. Defaults to time.Now.
	Now func() time.Time

	mu       sync.Mutex
	buckets  map[string]*bucket
	uploads  map[string]*upload
	failures map[string][]error
	calls    map[string]int
	offline  bool
}

var _ storage.Client = (*Memory)(nil)

// NewMemory returns an empty store signing URLs for host.
func NewMemory(host string) *Memory {
	return &Memory{
		Host:     host,
		Secret:   "storagetest-secret",
		buckets:  make(map[string]*bucket),
		uploads:  make(map[string]*upload),
		failures: make(map[string][]error),
		calls:    make(map[string]int),
	}
}

func (m *Memory) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// FailNext makes the next len(errs) calls of op fail with the given errors
// in order. op is the Client method name, e.g. "StatObject".
func (m *Memory) FailNext(op string, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = append(m.failures[op], errs...)
}

// SetOffline makes every call fail as if the server were unreachable.
func (m *Memory) SetOffline(offline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = offline
}

// Calls returns how many times op has been invoked.
func (m *Memory) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Unreachable is the error returned while offline.
func Unreachable() error {
	return minio.ErrorResponse{Message: "connection refused"}
}

// ServerError builds an SDK error response with the given status and code.
func ServerError(status int, code string) error {
	return minio.ErrorResponse{StatusCode: status, Code: code, Message: http.StatusText(status)}
}

// enter records the call and returns an injected failure, if any.
// Callers hold m.mu.
func (m *Memory) enter(op string) error {
	m.calls[op]++
	if m.offline {
		return Unreachable()
	}
	if queue := m.failures[op]; len(queue) > 0 {
		m.failures[op] = queue[1:]
		return queue[0]
	}
	return nil
}

func noSuchBucket(name string) error {
	return minio.ErrorResponse{StatusCode: http.StatusNotFound, Code: "NoSuchBucket", BucketName: name, Message: "The specified bucket does not exist"}
}

func noSuchKey(b, key string) error {
	return minio.ErrorResponse{StatusCode: http.StatusNotFound, Code: "NoSuchKey", BucketName: b, Key: key, Message: "The specified key does not exist."}
}

// checkAbsent honours "If-None-Match: *" the way S3 does: the write fails
// with 412 when the key is already taken.
func checkAbsent(b *bucket, bucketName, key string, opts minio.PutObjectOptions) error {
	if opts.Header().Get("If-None-Match") != "*" {
		return nil
	}
	if _, taken := b.objects[key]; taken {
		return minio.ErrorResponse{StatusCode: http.StatusPreconditionFailed, Code: "PreconditionFailed", BucketName: bucketName, Key: key, Message: "At least one of the pre-conditions you specified did not hold"}
	}
	return nil
}

func (m *Memory) bucket(name string) (*bucket, error) {
	b, ok := m.buckets[name]
	if !ok {
		return nil, noSuchBucket(name)
	}
	return b, nil
}

// CreateBucket adds a bucket directly, bypassing failure injection.
func (m *Memory) CreateBucket(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.buckets[name]; !ok {
		m.buckets[name] = &bucket{objects: make(map[string]*object)}
	}
}

// Policy returns the stored policy of a bucket, bypassing failure injection.
func (m *Memory) Policy(name string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.buckets[name]; ok {
		return b.policy
	}
	return ""
}

// Keys lists every key in a bucket, sorted.
func (m *Memory) Keys(name string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buckets[name]
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(b.objects))
	for k := range b.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Content returns an object's bytes.
func (m *Memory) Content(bucketName, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buckets[bucketName]
	if !ok {
		return nil, false
	}
	o, ok := b.objects[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), o.data...), true
}

func (m *Memory) BucketExists(ctx context.Context, bucketName string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("BucketExists"); err != nil {
		return false, err
	}
	_, ok := m.buckets[bucketName]
	return ok, nil
}

func (m *Memory) MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("MakeBucket"); err != nil {
		return err
	}
	if err := s3utils.CheckValidBucketNameStrict(bucketName); err != nil {
		return minio.ErrorResponse{StatusCode: http.StatusBadRequest, Code: "InvalidBucketName", Message: err.Error()}
	}
	if _, ok := m.buckets[bucketName]; ok {
		return minio.ErrorResponse{StatusCode: http.StatusConflict, Code: "BucketAlreadyOwnedByYou", BucketName: bucketName}
	}
	m.buckets[bucketName] = &bucket{objects: make(map[string]*object)}
	return nil
}

func (m *Memory) GetBucketPolicy(ctx context.Context, bucketName string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetBucketPolicy"); err != nil {
		return "", err
	}
	b, err := m.bucket(bucketName)
	if err != nil {
		return "", err
	}
	return b.policy, nil
}

func (m *Memory) SetBucketPolicy(ctx context.Context, bucketName, policy string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("SetBucketPolicy"); err != nil {
		return err
	}
	b, err := m.bucket(bucketName)
	if err != nil {
		return err
	}
	b.policy = policy
	return nil
}

func etagOf(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

func (m *Memory) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	data, readErr := io.ReadAll(reader)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("PutObject"); err != nil {
		return minio.UploadInfo{}, err
	}
	if readErr != nil {
		return minio.UploadInfo{}, readErr
	}
	if objectSize >= 0 && int64(len(data)) != objectSize {
		return minio.UploadInfo{}, minio.ErrorResponse{StatusCode: http.StatusBadRequest, Code: "IncompleteBody"}
	}
	b, err := m.bucket(bucketName)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	if err := checkAbsent(b, bucketName, objectName, opts); err != nil {
		return minio.UploadInfo{}, err
	}
	o := &object{data: data, etag: etagOf(data), contentType: opts.ContentType, modified: m.now()}
	b.objects[objectName] = o
	return minio.UploadInfo{Bucket: bucketName, Key: objectName, ETag: o.etag, Size: int64(len(data))}, nil
}

func (m *Memory) GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetObject"); err != nil {
		return nil, err
	}
	b, err := m.bucket(bucketName)
	if err != nil {
		return nil, err
	}
	o, ok := b.objects[objectName]
	if !ok {
		return nil, noSuchKey(bucketName, objectName)
	}
	return io.NopCloser(bytes.NewReader(o.data)), nil
}

func (m *Memory) StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("StatObject"); err != nil {
		return minio.ObjectInfo{}, err
	}
	b, err := m.bucket(bucketName)
	if err != nil {
		return minio.ObjectInfo{}, err
	}
	o, ok := b.objects[objectName]
	if !ok {
		return minio.ObjectInfo{}, noSuchKey(bucketName, objectName)
	}
	return info(objectName, o), nil
}

func info(key string, o *object) minio.ObjectInfo {
	return minio.ObjectInfo{
		Key:          key,
		Size:         int64(len(o.data)),
		ETag:         o.etag,
		ContentType:  o.contentType,
		LastModified: o.modified,
	}
}

// ListObjects emits keys in lexical order. Without Recursive, keys below the
// next "/" after the prefix are folded into a single common prefix entry
// whose Key ends with "/".
func (m *Memory) ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo {
	out := make(chan minio.ObjectInfo)

	m.mu.Lock()
	var entries []minio.ObjectInfo
	err := m.enter("ListObjects")
	if err == nil {
		var b *bucket
		b, err = m.bucket(bucketName)
		if err == nil {
			entries = listEntries(b, opts)
		}
	}
	m.mu.Unlock()

	go func() {
		defer close(out)
		for _, e := range entries {
			select {
			case out <- e:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			select {
			case out <- minio.ObjectInfo{Err: err}:
			case <-ctx.Done():
			}
		}
	}()
	return out
}

func listEntries(b *bucket, opts minio.ListObjectsOptions) []minio.ObjectInfo {
	keys := make([]string, 0, len(b.objects))
	for k := range b.objects {
		if strings.HasPrefix(k, opts.Prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var entries []minio.ObjectInfo
	seen := make(map[string]bool)
	for _, k := range keys {
		if !opts.Recursive {
			rest := strings.TrimPrefix(k, opts.Prefix)
			if i := strings.Index(rest, "/"); i >= 0 {
				dir := opts.Prefix + rest[:i+1]
				if !seen[dir] {
					seen[dir] = true
					entries = append(entries, minio.ObjectInfo{Key: dir})
				}
				continue
			}
		}
		entries = append(entries, info(k, b.objects[k]))
	}
	return entries
}

func (m *Memory) RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("RemoveObject"); err != nil {
		return err
	}
	b, err := m.bucket(bucketName)
	if err != nil {
		return err
	}
	delete(b.objects, objectName)
	return nil
}

func (m *Memory) RemoveObjects(ctx context.Context, bucketName string, objectsCh <-chan minio.ObjectInfo, opts minio.RemoveObjectsOptions) <-chan minio.RemoveObjectError {
	out := make(chan minio.RemoveObjectError)
	go func() {
		defer close(out)
		for obj := range objectsCh {
			m.mu.Lock()
			err := m.enter("RemoveObjects")
			if err == nil {
				var b *bucket
				if b, err = m.bucket(bucketName); err == nil {
					delete(b.objects, obj.Key)
				}
			}
			m.mu.Unlock()
			if err != nil {
				select {
				case out <- minio.RemoveObjectError{ObjectName: obj.Key, Err: err}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// PresignedGetObject signs without looking the object up, like the SDK.
func (m *Memory) PresignedGetObject(ctx context.Context, bucketName, objectName string, expires time.Duration, reqParams url.Values) (*url.URL, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("PresignedGetObject"); err != nil {
		return nil, err
	}
	if expires < time.Second || expires > 7*24*time.Hour {
		return nil, minio.ErrorResponse{StatusCode: http.StatusBadRequest, Code: "InvalidArgument", Message: "expires out of range"}
	}

	scheme := "http"
	if m.Secure {
		scheme = "https"
	}
	date := m.now().UTC().Format(dateLayout)
	seconds := strconv.Itoa(int(expires / time.Second))
	path := "/" + bucketName + "/" + s3utils.EncodePath(objectName)

	q := url.Values{}
	for k, v := range reqParams {
		q[k] = v
	}
	q.Set("X-Amz-Algorithm", "AWS4-HMAC-SHA256")
	q.Set("X-Amz-Date", date)
	q.Set("X-Amz-Expires", seconds)
	q.Set("X-Amz-Signature", m.sign(m.Host, path, date, seconds))

	return &url.URL{
		Scheme:   scheme,
		Host:     m.Host,
		Path:     "/" + bucketName + "/" + objectName,
		RawPath:  path,
		RawQuery: q.Encode(),
	}, nil
}

func (m *Memory) sign(host, path, date, seconds string) string {
	mac := hmac.New(sha256.New, []byte(m.Secret))
	fmt.Fprintf(mac, "%s\n%s\n%s\n%s", host, path, date, seconds)
	return hex.EncodeToString(mac.Sum(nil))
}

// Resolve serves a GET for a URL handed out by the store, as the server
// would at time now. Signed URLs are verified; unsigned ones are served
// only from buckets carrying a policy.
func (m *Memory) Resolve(raw string, now time.Time) ([]byte, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Host != m.Host {
		return nil, fmt.Errorf("host %q is not served by this store", u.Host)
	}
	path := u.EscapedPath()
	parts := strings.SplitN(strings.TrimPrefix(u.Path, "/"), "/", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("malformed object path %q", u.Path)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buckets[parts[0]]
	if !ok {
		return nil, noSuchBucket(parts[0])
	}

	q := u.Query()
	if sig := q.Get("X-Amz-Signature"); sig != "" {
		date, seconds := q.Get("X-Amz-Date"), q.Get("X-Amz-Expires")
		if !hmac.Equal([]byte(sig), []byte(m.sign(u.Host, path, date, seconds))) {
			return nil, minio.ErrorResponse{StatusCode: http.StatusForbidden, Code: "SignatureDoesNotMatch"}
		}
		signed, err := time.Parse(dateLayout, date)
		if err != nil {
			return nil, err
		}
		n, err := strconv.Atoi(seconds)
		if err != nil {
			return nil, err
		}
		if now.After(signed.Add(time.Duration(n) * time.Second)) {
			return nil, minio.ErrorResponse{StatusCode: http.StatusForbidden, Code: "AccessDenied", Message: "Request has expired"}
		}
	} else if b.policy == "" {
		return nil, minio.ErrorResponse{StatusCode: http.StatusForbidden, Code: "AccessDenied"}
	}

	o, ok := b.objects[parts[1]]
	if !ok {
		return nil, noSuchKey(parts[0], parts[1])
	}
	return append([]byte(nil), o.data...), nil
}

func (m *Memory) NewMultipartUpload(ctx context.Context, bucketName, objectName string, opts minio.PutObjectOptions) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("NewMultipartUpload"); err != nil {
		return "", err
	}
	if _, err := m.bucket(bucketName); err != nil {
		return "", err
	}
	id := uuid.NewString()
	m.uploads[id] = &upload{bucket: bucketName, key: objectName, contentType: opts.ContentType, parts: make(map[int][]byte)}
	return id, nil
}

func (m *Memory) PutObjectPart(ctx context.Context, bucketName, objectName, uploadID string, partID int, data io.Reader, size int64, opts minio.PutObjectPartOptions) (minio.ObjectPart, error) {
	buf, readErr := io.ReadAll(data)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("PutObjectPart"); err != nil {
		return minio.ObjectPart{}, err
	}
	if readErr != nil {
		return minio.ObjectPart{}, readErr
	}
	up, ok := m.uploads[uploadID]
	if !ok {
		return minio.ObjectPart{}, minio.ErrorResponse{StatusCode: http.StatusNotFound, Code: "NoSuchUpload"}
	}
	up.parts[partID] = buf
	return minio.ObjectPart{PartNumber: partID, ETag: etagOf(buf), Size: int64(len(buf))}, nil
}

func (m *Memory) CompleteMultipartUpload(ctx context.Context, bucketName, objectName, uploadID string, parts []minio.CompletePart, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CompleteMultipartUpload"); err != nil {
		return minio.UploadInfo{}, err
	}
	up, ok := m.uploads[uploadID]
	if !ok {
		return minio.UploadInfo{}, minio.ErrorResponse{StatusCode: http.StatusNotFound, Code: "NoSuchUpload"}
	}
	b, err := m.bucket(up.bucket)
	if err != nil {
		return minio.UploadInfo{}, err
	}

	var data []byte
	last := 0
	for _, p := range parts {
		if p.PartNumber <= last {
			return minio.UploadInfo{}, minio.ErrorResponse{StatusCode: http.StatusBadRequest, Code: "InvalidPartOrder"}
		}
		last = p.PartNumber
		chunk, ok := up.parts[p.PartNumber]
		if !ok || etagOf(chunk) != p.ETag {
			return minio.UploadInfo{}, minio.ErrorResponse{StatusCode: http.StatusBadRequest, Code: "InvalidPart"}
		}
		data = append(data, chunk...)
	}
	if err := checkAbsent(b, up.bucket, up.key, opts); err != nil {
		return minio.UploadInfo{}, err
	}

	delete(m.uploads, uploadID)
	o := &object{data: data, etag: etagOf(data) + "-" + strconv.Itoa(len(parts)), contentType: up.contentType, modified: m.now()}
	b.objects[up.key] = o
	return minio.UploadInfo{Bucket: up.bucket, Key: up.key, ETag: o.etag, Size: int64(len(data))}, nil
}

func (m *Memory) AbortMultipartUpload(ctx context.Context, bucketName, objectName, uploadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("AbortMultipartUpload"); err != nil {
		return err
	}
	delete(m.uploads, uploadID)
	return nil
}

// PendingUploads returns the number of multipart uploads neither completed
// nor aborted.
func (m *Memory) PendingUploads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.uploads)
}
