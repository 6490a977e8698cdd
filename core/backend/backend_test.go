package backend_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"minio-backend/core/backend"
	"minio-backend/core/errs"
	"minio-backend/core/policy"
	"minio-backend/core/storage"
	"minio-backend/core/storage/storagetest"
	"minio-backend/core/urlcache"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// onlyReader hides every method but Read.
type onlyReader struct{ io.Reader }

type env struct {
	mem      *storagetest.Memory
	clock    *clock
	settings *storage.Settings
	backend  *backend.Backend
}

func config() storage.Config {
	return storage.Config{
		Endpoint:           "localhost:9000",
		AccessKey:          "minio",
		SecretKey:          "minio123",
		Region:             "us-east-1",
		URLExpiryHours:     1,
		PrivateBuckets:     []string{"docs-private"},
		PublicBuckets:      []string{"docs-public"},
		URLCachingEnabled:  true,
		URLCachePrefix:     "presigned_url:",
		MultipartUpload:    true,
		MultipartThreshold: 2 * storage.MinPartSize,
		MultipartPartSize:  storage.MinPartSize,
		MultipartWorkers:   2,
	}
}

func retrying(client storage.Client) storage.Client {
	return storage.NewRetryClient(client, storage.RetryPolicy{MaxAttempts: 3, BaseBackoff: time.Millisecond}, nil)
}

func setup(t *testing.T, cfg storage.Config, opts ...backend.Option) *env {
	t.Helper()
	settings, err := storage.Resolve(cfg, nil)
	require.NoError(t, err)

	clk := &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	mem := storagetest.NewMemory(settings.ExternalEndpoint)
	mem.Now = clk.Now

	client := retrying(mem)
	cache := urlcache.New(settings.URLCachePrefix, settings.CacheTTL(), urlcache.WithClock(clk.Now))
	opts = append([]backend.Option{backend.WithCache(cache)}, opts...)

	b := backend.New(settings, client, nil, opts...)
	_, err = b.Reconciler().Reconcile(context.Background(), settings.Buckets())
	require.NoError(t, err)

	return &env{mem: mem, clock: clk, settings: settings, backend: b}
}

func read(t *testing.T, obj *storage.Object) string {
	t.Helper()
	defer obj.Close()
	data, err := io.ReadAll(obj)
	require.NoError(t, err)
	return string(data)
}

func TestEndToEnd(t *testing.T) {
	ctx := context.Background()
	e := setup(t, config())

	for _, name := range []string{"docs-private", "docs-public"} {
		exists, err := e.mem.BucketExists(ctx, name)
		require.NoError(t, err)
		assert.True(t, exists, name)
	}
	assert.Empty(t, e.mem.Policy("docs-private"))
	stored, err := policy.Parse(e.mem.Policy("docs-public"))
	require.NoError(t, err)
	assert.True(t, policy.Equal(policy.PublicRead("docs-public"), stored))

	key, err := e.backend.Save(ctx, "docs-private", "hello.txt", strings.NewReader("hi"), 2, "", false)
	require.NoError(t, err)
	assert.Equal(t, "hello.txt", key)

	exists, err := e.backend.Exists(ctx, "docs-private", "hello.txt")
	require.NoError(t, err)
	assert.True(t, exists)

	obj, err := e.backend.Open(ctx, "docs-private", "hello.txt")
	require.NoError(t, err)
	assert.Equal(t, "hi", read(t, obj))
	assert.NotEmpty(t, obj.Info.ContentType)

	url, err := e.backend.URL(ctx, "docs-private", "hello.txt")
	require.NoError(t, err)
	assert.NotEqual(t, "https://localhost:9000/docs-private/hello.txt", url)
	assert.NotEqual(t, "http://localhost:9000/docs-private/hello.txt", url)
	assert.Contains(t, url, "X-Amz-Signature=")

	data, err := e.mem.Resolve(url, e.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, "hi", string(data))
}

func TestSave(t *testing.T) {
	ctx := context.Background()

	t.Run("NeverOverwritesWithoutReplace", func(t *testing.T) {
		e := setup(t, config())
		_, err := e.backend.Save(ctx, "docs-private", "reports/q1.pdf", strings.NewReader("first"), 5, "", false)
		require.NoError(t, err)

		key, err := e.backend.Save(ctx, "docs-private", "reports/q1.pdf", strings.NewReader("second"), 6, "", false)
		require.NoError(t, err)
		assert.NotEqual(t, "reports/q1.pdf", key)
		assert.Regexp(t, `^reports/q1_[0-9a-f]{7}\.pdf$`, key)

		original, _ := e.mem.Content("docs-private", "reports/q1.pdf")
		assert.Equal(t, "first", string(original))
		renamed, _ := e.mem.Content("docs-private", key)
		assert.Equal(t, "second", string(renamed))
	})

	t.Run("ReplaceOverwrites", func(t *testing.T) {
		e := setup(t, config())
		_, err := e.backend.Save(ctx, "docs-private", "a.txt", strings.NewReader("old"), 3, "", false)
		require.NoError(t, err)

		key, err := e.backend.Save(ctx, "docs-private", "a.txt", strings.NewReader("new"), 3, "", true)
		require.NoError(t, err)
		assert.Equal(t, "a.txt", key)

		obj, err := e.backend.Open(ctx, "docs-private", "a.txt")
		require.NoError(t, err)
		assert.Equal(t, "new", read(t, obj))
	})

	t.Run("SuffixCollisionsAreRetried", func(t *testing.T) {
		suffixes := []string{"aaaaaaa", "aaaaaaa", "bbbbbbb"}
		next := func() string {
			s := suffixes[0]
			suffixes = suffixes[1:]
			return s
		}
		e := setup(t, config(), backend.WithSuffix(next))

		for _, k := range []string{"x.txt", "x_aaaaaaa.txt"} {
			_, err := e.backend.Save(ctx, "docs-private", k, strings.NewReader("v"), 1, "", true)
			require.NoError(t, err)
		}
		key, err := e.backend.Save(ctx, "docs-private", "x.txt", strings.NewReader("v"), 1, "", false)
		require.NoError(t, err)
		assert.Equal(t, "x_bbbbbbb.txt", key)
	})

	t.Run("GivesUpAfterTooManyCollisions", func(t *testing.T) {
		e := setup(t, config(), backend.WithSuffix(func() string { return "fixed00" }))
		for _, k := range []string{"y", "y_fixed00"} {
			_, err := e.backend.Save(ctx, "docs-private", k, strings.NewReader("v"), 1, "", true)
			require.NoError(t, err)
		}
		_, err := e.backend.Save(ctx, "docs-private", "y", strings.NewReader("v"), 1, "", false)
		assert.True(t, errs.IsPermanent(err))
	})

	t.Run("ConcurrentSavesNeverCollide", func(t *testing.T) {
		e := setup(t, config())
		const writers = 16

		keys := make([]string, writers)
		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				body := fmt.Sprintf("writer %d", i)
				key, err := e.backend.Save(ctx, "docs-private", "same.txt", strings.NewReader(body), int64(len(body)), "", false)
				assert.NoError(t, err)
				keys[i] = key
			}(i)
		}
		wg.Wait()

		seen := make(map[string]bool, writers)
		for i, key := range keys {
			require.NotEmpty(t, key)
			assert.False(t, seen[key], "duplicate key %s", key)
			seen[key] = true
			stored, ok := e.mem.Content("docs-private", key)
			require.True(t, ok)
			assert.Equal(t, fmt.Sprintf("writer %d", i), string(stored))
		}
		assert.Len(t, e.mem.Keys("docs-private"), writers)
	})

	t.Run("TakenKeyIsRetriedUnderNewName", func(t *testing.T) {
		e := setup(t, config())
		// The key is free when checked, then taken before the upload commits.
		e.mem.FailNext("PutObject", storagetest.ServerError(412, "PreconditionFailed"))

		key, err := e.backend.Save(ctx, "docs-private", "race.txt", onlyReader{strings.NewReader("mine")}, 4, "", false)
		require.NoError(t, err)
		assert.Equal(t, 2, e.mem.Calls("PutObject"))
		stored, ok := e.mem.Content("docs-private", key)
		require.True(t, ok)
		assert.Equal(t, "mine", string(stored))
	})

	t.Run("ContentTypeFallback", func(t *testing.T) {
		e := setup(t, config())
		_, err := e.backend.Save(ctx, "docs-private", "blob.unknownext", strings.NewReader("v"), 1, "", false)
		require.NoError(t, err)
		info, err := e.backend.Stat(ctx, "docs-private", "blob.unknownext")
		require.NoError(t, err)
		assert.Equal(t, "application/octet-stream", info.ContentType)
	})

	t.Run("ExplicitContentType", func(t *testing.T) {
		e := setup(t, config())
		_, err := e.backend.Save(ctx, "docs-private", "data.bin", strings.NewReader("{}"), 2, "application/json", false)
		require.NoError(t, err)
		info, err := e.backend.Stat(ctx, "docs-private", "data.bin")
		require.NoError(t, err)
		assert.Equal(t, "application/json", info.ContentType)
	})

	t.Run("UndeclaredBucket", func(t *testing.T) {
		e := setup(t, config())
		_, err := e.backend.Save(ctx, "other", "a.txt", strings.NewReader("v"), 1, "", false)
		assert.True(t, errs.IsConfig(err))
	})

	t.Run("BucketCheckOnSaveCreatesBucket", func(t *testing.T) {
		cfg := config()
		cfg.BucketCheckOnSave = true
		settings, err := storage.Resolve(cfg, nil)
		require.NoError(t, err)
		mem := storagetest.NewMemory(settings.Endpoint)
		b := backend.New(settings, retrying(mem), nil)

		_, err = b.Save(ctx, "docs-public", "a.txt", strings.NewReader("v"), 1, "", false)
		require.NoError(t, err)
		assert.NotEmpty(t, mem.Policy("docs-public"))
	})

	t.Run("LargeObject", func(t *testing.T) {
		e := setup(t, config())
		data := bytes.Repeat([]byte("z"), int(storage.MinPartSize)*2+7)
		_, err := e.backend.Save(ctx, "docs-private", "big.bin", bytes.NewReader(data), int64(len(data)), "", false)
		require.NoError(t, err)
		assert.Equal(t, 1, e.mem.Calls("NewMultipartUpload"))

		size, err := e.backend.Size(ctx, "docs-private", "big.bin")
		require.NoError(t, err)
		assert.Equal(t, int64(len(data)), size)
	})
}

func TestURL(t *testing.T) {
	ctx := context.Background()

	t.Run("PublicIsDeterministicAndUnsigned", func(t *testing.T) {
		e := setup(t, config())
		_, err := e.backend.Save(ctx, "docs-public", "img/cat photo.png", strings.NewReader("v"), 1, "", false)
		require.NoError(t, err)

		first, err := e.backend.URL(ctx, "docs-public", "img/cat photo.png")
		require.NoError(t, err)
		second, err := e.backend.URL(ctx, "docs-public", "img/cat photo.png")
		require.NoError(t, err)

		assert.Equal(t, first, second)
		assert.Equal(t, "http://localhost:9000/docs-public/img/cat%20photo.png", first)
		assert.Zero(t, e.mem.Calls("PresignedGetObject"))

		data, err := e.mem.Resolve(first, e.clock.Now())
		require.NoError(t, err)
		assert.Equal(t, "v", string(data))
	})

	t.Run("PublicUsesExternalEndpoint", func(t *testing.T) {
		cfg := config()
		cfg.ExternalEndpoint = "files.example.com"
		cfg.ExternalUseHTTPS = "true"
		e := setup(t, cfg)

		url, err := e.backend.URL(ctx, "docs-public", "a.txt")
		require.NoError(t, err)
		assert.Equal(t, "https://files.example.com/docs-public/a.txt", url)
	})

	t.Run("PrivateExpires", func(t *testing.T) {
		e := setup(t, config())
		_, err := e.backend.Save(ctx, "docs-private", "a.txt", strings.NewReader("v"), 1, "", false)
		require.NoError(t, err)

		url, err := e.backend.URL(ctx, "docs-private", "a.txt")
		require.NoError(t, err)

		_, err = e.mem.Resolve(url, e.clock.Now().Add(59*time.Minute))
		assert.NoError(t, err)
		_, err = e.mem.Resolve(url, e.clock.Now().Add(61*time.Minute))
		assert.Error(t, err)

		// Stripping the signature does not grant access.
		_, err = e.mem.Resolve(strings.SplitN(url, "?", 2)[0], e.clock.Now())
		assert.Error(t, err)
	})

	t.Run("PrivateIsCached", func(t *testing.T) {
		e := setup(t, config())
		_, err := e.backend.Save(ctx, "docs-private", "a.txt", strings.NewReader("v"), 1, "", false)
		require.NoError(t, err)

		first, err := e.backend.URL(ctx, "docs-private", "a.txt")
		require.NoError(t, err)
		e.clock.Advance(10 * time.Minute)
		second, err := e.backend.URL(ctx, "docs-private", "a.txt")
		require.NoError(t, err)

		assert.Equal(t, first, second)
		assert.Equal(t, 1, e.mem.Calls("PresignedGetObject"))

		// 80% of one hour
		e.clock.Advance(39 * time.Minute)
		third, err := e.backend.URL(ctx, "docs-private", "a.txt")
		require.NoError(t, err)
		assert.NotEqual(t, first, third)
		assert.Equal(t, 2, e.mem.Calls("PresignedGetObject"))

		_, err = e.mem.Resolve(third, e.clock.Now())
		assert.NoError(t, err)
	})

	t.Run("OverwriteChangesCacheKey", func(t *testing.T) {
		e := setup(t, config())
		_, err := e.backend.Save(ctx, "docs-private", "a.txt", strings.NewReader("v1"), 2, "", true)
		require.NoError(t, err)
		_, err = e.backend.URL(ctx, "docs-private", "a.txt")
		require.NoError(t, err)

		_, err = e.backend.Save(ctx, "docs-private", "a.txt", strings.NewReader("v2"), 2, "", true)
		require.NoError(t, err)
		_, err = e.backend.URL(ctx, "docs-private", "a.txt")
		require.NoError(t, err)
		assert.Equal(t, 2, e.mem.Calls("PresignedGetObject"))
	})

	t.Run("CachingDisabled", func(t *testing.T) {
		cfg := config()
		cfg.URLCachingEnabled = false
		settings, err := storage.Resolve(cfg, nil)
		require.NoError(t, err)
		mem := storagetest.NewMemory(settings.Endpoint)
		mem.CreateBucket("docs-private")
		_, err = mem.PutObject(ctx, "docs-private", "a.txt", strings.NewReader("v"), 1, minio.PutObjectOptions{})
		require.NoError(t, err)

		b := backend.New(settings, retrying(mem), nil)
		for i := 0; i < 2; i++ {
			_, err := b.URL(ctx, "docs-private", "a.txt")
			require.NoError(t, err)
		}
		assert.Equal(t, 2, mem.Calls("PresignedGetObject"))
	})

	t.Run("SignsWithExternalClient", func(t *testing.T) {
		cfg := config()
		cfg.ExternalEndpoint = "files.example.com"
		settings, err := storage.Resolve(cfg, nil)
		require.NoError(t, err)

		internal := storagetest.NewMemory(settings.Endpoint)
		internal.CreateBucket("docs-private")
		_, err = internal.PutObject(ctx, "docs-private", "a.txt", strings.NewReader("v"), 1, minio.PutObjectOptions{})
		require.NoError(t, err)
		external := storagetest.NewMemory(settings.ExternalEndpoint)

		b := backend.New(settings, retrying(internal), nil, backend.WithSigner(retrying(external)))
		url, err := b.URL(ctx, "docs-private", "a.txt")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(url, "http://files.example.com/docs-private/a.txt?"))
		assert.Zero(t, internal.Calls("PresignedGetObject"))
	})

	t.Run("MissingObject", func(t *testing.T) {
		e := setup(t, config())
		_, err := e.backend.URL(ctx, "docs-private", "missing.txt")
		assert.True(t, errs.IsNotFound(err))
	})
}

func TestDeleteAndExists(t *testing.T) {
	ctx := context.Background()
	e := setup(t, config())

	_, err := e.backend.Save(ctx, "docs-private", "a.txt", strings.NewReader("v"), 1, "", false)
	require.NoError(t, err)

	require.NoError(t, e.backend.Delete(ctx, "docs-private", "a.txt"))
	exists, err := e.backend.Exists(ctx, "docs-private", "a.txt")
	require.NoError(t, err)
	assert.False(t, exists)

	err = e.backend.Delete(ctx, "docs-private", "a.txt")
	assert.True(t, errs.IsNotFound(err))

	_, err = e.backend.Open(ctx, "docs-private", "a.txt")
	assert.True(t, errs.IsNotFound(err))
}

func TestExistsPropagatesStoreErrors(t *testing.T) {
	ctx := context.Background()
	e := setup(t, config())
	e.mem.SetOffline(true)

	_, err := e.backend.Exists(ctx, "docs-private", "a.txt")
	assert.True(t, errs.IsTransient(err))
}

func TestListdir(t *testing.T) {
	ctx := context.Background()
	e := setup(t, config())
	for _, k := range []string{"a/b/file1.txt", "a/c/file2.txt", "a/file3.txt", "top.txt"} {
		_, err := e.backend.Save(ctx, "docs-private", k, strings.NewReader("v"), 1, "", true)
		require.NoError(t, err)
	}

	dirs, files, err := e.backend.Listdir(ctx, "docs-private", "a/")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, dirs)
	assert.Equal(t, []string{"file3.txt"}, files)

	dirs, files, err = e.backend.Listdir(ctx, "docs-private", "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, dirs)
	assert.Equal(t, []string{"file3.txt"}, files)

	dirs, files, err = e.backend.Listdir(ctx, "docs-private", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, dirs)
	assert.Equal(t, []string{"top.txt"}, files)

	dirs, files, err = e.backend.Listdir(ctx, "docs-private", "nothing/")
	require.NoError(t, err)
	assert.Empty(t, dirs)
	assert.Empty(t, files)
}

func TestStatAccessors(t *testing.T) {
	ctx := context.Background()
	e := setup(t, config())
	_, err := e.backend.Save(ctx, "docs-private", "a.txt", strings.NewReader("hello"), 5, "", false)
	require.NoError(t, err)

	size, err := e.backend.Size(ctx, "docs-private", "a.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(5), size)

	mod, err := e.backend.ModifiedTime(ctx, "docs-private", "a.txt")
	require.NoError(t, err)
	assert.Equal(t, e.clock.Now(), mod)

	_, err = e.backend.Size(ctx, "docs-private", "missing.txt")
	assert.True(t, errs.IsNotFound(err))
}

func TestIsAvailable(t *testing.T) {
	ctx := context.Background()

	t.Run("Reachable", func(t *testing.T) {
		e := setup(t, config())
		status := e.backend.IsAvailable(ctx)
		assert.True(t, status.Available)
		assert.Contains(t, status.Detail, "reachable")
	})

	t.Run("Unreachable", func(t *testing.T) {
		e := setup(t, config())
		e.mem.SetOffline(true)
		status := e.backend.IsAvailable(ctx)
		assert.False(t, status.Available)
		assert.Contains(t, status.Detail, "could not reach")
	})

	t.Run("MissingHealthBucket", func(t *testing.T) {
		settings, err := storage.Resolve(config(), nil)
		require.NoError(t, err)
		b := backend.New(settings, retrying(storagetest.NewMemory(settings.Endpoint)), nil)
		status := b.IsAvailable(ctx)
		assert.True(t, status.Available)
		assert.Contains(t, status.Detail, "does not exist")
	})
}
