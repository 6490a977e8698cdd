package objects

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"minio-backend/core/backend"
	"minio-backend/core/errs"
	"minio-backend/core/storage"
	"minio-backend/core/storage/storagetest"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestApp(t *testing.T, opts ...func(*Handler)) (*fiber.App, *storagetest.Memory) {
	t.Helper()
	settings, err := storage.Resolve(storage.Config{
		Endpoint:       "localhost:9000",
		AccessKey:      "minio",
		SecretKey:      "minio123",
		Region:         "us-east-1",
		URLExpiryHours: 1,
		PrivateBuckets: []string{"docs-private"},
		PublicBuckets:  []string{"docs-public"},
	}, nil)
	require.NoError(t, err)

	mem := storagetest.NewMemory(settings.ExternalEndpoint)
	client := storage.NewRetryClient(mem, storage.RetryPolicy{MaxAttempts: 2, BaseBackoff: time.Millisecond}, nil)
	store := backend.New(settings, client, nil)
	_, err = store.Reconciler().Reconcile(context.Background(), settings.Buckets())
	require.NoError(t, err)

	h := NewHandler(store, nil)
	for _, opt := range opts {
		opt(h)
	}
	app := fiber.New()
	h.RegisterRoutes(app)
	return app, mem
}

func put(t *testing.T, app *fiber.App, path, body, contentType string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest("PUT", path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestHandleSave(t *testing.T) {
	app, mem := setupTestApp(t)

	status, body := put(t, app, "/objects/docs-private/reports/q1.pdf", "first", "application/pdf")
	assert.Equal(t, 201, status)
	assert.Equal(t, "reports/q1.pdf", body["key"])

	status, body = put(t, app, "/objects/docs-private/reports/q1.pdf", "second", "")
	assert.Equal(t, 201, status)
	assert.NotEqual(t, "reports/q1.pdf", body["key"])
	assert.True(t, strings.HasPrefix(body["key"].(string), "reports/q1_"))

	status, body = put(t, app, "/objects/docs-private/reports/q1.pdf?replace=true", "third", "")
	assert.Equal(t, 201, status)
	assert.Equal(t, "reports/q1.pdf", body["key"])

	data, ok := mem.Content("docs-private", "reports/q1.pdf")
	require.True(t, ok)
	assert.Equal(t, "third", string(data))
}

func TestHandleSave_DatePrefix(t *testing.T) {
	app, mem := setupTestApp(t, func(h *Handler) {
		h.now = func() time.Time { return time.Date(2020, 12, 31, 18, 0, 0, 0, time.UTC) }
	})

	status, body := put(t, app, "/objects/docs-public/cat.png?date_prefix=true", "meow", "image/png")
	assert.Equal(t, 201, status)
	assert.Equal(t, "2020-12-31/cat.png", body["key"])

	_, ok := mem.Content("docs-public", "2020-12-31/cat.png")
	assert.True(t, ok)
}

func TestHandleSave_UndeclaredBucket(t *testing.T) {
	app, _ := setupTestApp(t)

	status, body := put(t, app, "/objects/elsewhere/a.txt", "x", "")
	assert.Equal(t, 400, status)
	assert.Equal(t, "config", body["kind"])
}

func TestHandleOpen(t *testing.T) {
	app, _ := setupTestApp(t)
	put(t, app, "/objects/docs-private/notes/hello.txt", "hello", "text/plain")

	resp, err := app.Test(httptest.NewRequest("GET", "/objects/docs-private/notes/hello.txt", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, resp.Header.Get("ETag"))

	data, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "hello", string(data))

	resp, err = app.Test(httptest.NewRequest("GET", "/objects/docs-private/notes/missing.txt", nil))
	require.NoError(t, err)
	assert.Equal(t, 404, resp.StatusCode)
}

func TestHandleOpen_EscapedKey(t *testing.T) {
	app, mem := setupTestApp(t)
	put(t, app, "/objects/docs-private/my%20file.txt", "spaced", "")

	_, ok := mem.Content("docs-private", "my file.txt")
	assert.True(t, ok)

	resp, err := app.Test(httptest.NewRequest("GET", "/objects/docs-private/my%20file.txt", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}

func TestHandleExists(t *testing.T) {
	app, _ := setupTestApp(t)
	put(t, app, "/objects/docs-public/logo.png", "png", "image/png")

	resp, err := app.Test(httptest.NewRequest("HEAD", "/objects/docs-public/logo.png", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("HEAD", "/objects/docs-public/other.png", nil))
	require.NoError(t, err)
	assert.Equal(t, 404, resp.StatusCode)
}

func TestHandleDelete(t *testing.T) {
	app, mem := setupTestApp(t)
	put(t, app, "/objects/docs-private/a.txt", "a", "")

	resp, err := app.Test(httptest.NewRequest("DELETE", "/objects/docs-private/a.txt", nil))
	require.NoError(t, err)
	assert.Equal(t, 204, resp.StatusCode)
	assert.Empty(t, mem.Keys("docs-private"))

	resp, err = app.Test(httptest.NewRequest("DELETE", "/objects/docs-private/a.txt", nil))
	require.NoError(t, err)
	assert.Equal(t, 404, resp.StatusCode)
}

func TestHandleURL(t *testing.T) {
	app, _ := setupTestApp(t)
	put(t, app, "/objects/docs-public/img/logo.png", "png", "")
	put(t, app, "/objects/docs-private/secret.pdf", "pdf", "")

	decode := func(path string) (int, string) {
		resp, err := app.Test(httptest.NewRequest("GET", path, nil))
		require.NoError(t, err)
		var body map[string]string
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return resp.StatusCode, body["url"]
	}

	status, u := decode("/urls/docs-public/img/logo.png")
	assert.Equal(t, 200, status)
	assert.Equal(t, "http://localhost:9000/docs-public/img/logo.png", u)

	status, u = decode("/urls/docs-private/secret.pdf")
	assert.Equal(t, 200, status)
	assert.Contains(t, u, "X-Amz-Signature=")
	assert.Contains(t, u, "X-Amz-Expires=3600")

	status, _ = decode("/urls/docs-private/none.pdf")
	assert.Equal(t, 404, status)
}

func TestHandleStat(t *testing.T) {
	app, _ := setupTestApp(t)
	put(t, app, "/objects/docs-private/data.json", `{"a":1}`, "application/json")

	resp, err := app.Test(httptest.NewRequest("GET", "/stat/docs-private/data.json", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "data.json", body["key"])
	assert.EqualValues(t, 7, body["size"])
	assert.Equal(t, "application/json", body["content_type"])
	assert.NotEmpty(t, body["last_modified"])
}

func TestHandleListdir(t *testing.T) {
	app, _ := setupTestApp(t)
	for _, k := range []string{"a/b.txt", "a/c/d.txt", "a/e.txt", "top.txt"} {
		put(t, app, "/objects/docs-private/"+k, "x", "")
	}

	resp, err := app.Test(httptest.NewRequest("GET", "/list/docs-private?path=a/", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	var body struct {
		Directories []string `json:"directories"`
		Files       []string `json:"files"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, []string{"c"}, body.Directories)
	assert.Equal(t, []string{"b.txt", "e.txt"}, body.Files)
}

type failingStore struct {
	backend.Storage
	err error
}

func (s failingStore) URL(context.Context, string, string) (string, error) { return "", s.err }

func (s failingStore) Exists(context.Context, string, string) (bool, error) { return false, s.err }

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"Transient", errs.New(errs.KindTransient, "store unreachable"), 503},
		{"Timeout", errs.New(errs.KindTimeout, "deadline"), 503},
		{"Permanent", errs.New(errs.KindPermanent, "access denied"), 502},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			NewHandler(failingStore{err: tt.err}, nil).RegisterRoutes(app)

			resp, err := app.Test(httptest.NewRequest("GET", "/urls/docs-private/a.txt", nil))
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)

			resp, err = app.Test(httptest.NewRequest("HEAD", "/objects/docs-private/a.txt", nil))
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}
