package objects

import (
	"bytes"
	"net/url"
	"strconv"
	"time"

	"minio-backend/core/backend"
	"minio-backend/core/logger"
	"minio-backend/core/server"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Handler exposes the storage façade over HTTP.
type Handler struct {
	store  backend.Storage
	logger *zap.Logger
	now    func() time.Time
}

// NewHandler creates a new HTTP handler.
func NewHandler(store backend.Storage, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, logger: logger, now: time.Now}
}

// RegisterRoutes registers the object routes.
func (h *Handler) RegisterRoutes(app fiber.Router) {
	group := app.Group("/objects")
	group.Head("/:bucket/*", h.HandleExists)
	group.Add(fiber.MethodGet, "/:bucket/*", h.HandleOpen)
	group.Put("/:bucket/*", h.HandleSave)
	group.Delete("/:bucket/*", h.HandleDelete)

	app.Get("/urls/:bucket/*", h.HandleURL)
	app.Get("/stat/:bucket/*", h.HandleStat)
	app.Get("/list/:bucket", h.HandleListdir)
}

// target returns the bucket and the unescaped object key of the request.
func target(c *fiber.Ctx) (string, string, error) {
	bucket, err := url.PathUnescape(c.Params("bucket"))
	if err != nil {
		return "", "", fiber.NewError(fiber.StatusBadRequest, "malformed bucket")
	}
	key, err := url.PathUnescape(c.Params("*"))
	if err != nil {
		return "", "", fiber.NewError(fiber.StatusBadRequest, "malformed key")
	}
	return bucket, key, nil
}

// HandleSave stores the request body.
// Query: replace=true overwrites an existing key instead of picking a free name,
// date_prefix=true files the key under today's date ("2020-12-31/cat.png").
func (h *Handler) HandleSave(c *fiber.Ctx) error {
	l := logger.WithRayID(h.logger, c)
	bucket, key, err := target(c)
	if err != nil {
		return err
	}

	if c.QueryBool("date_prefix", false) {
		key = backend.DatePrefix(key, h.now())
	}

	body := c.Body()
	replace := c.QueryBool("replace", false)
	stored, err := h.store.Save(c.UserContext(), bucket, key, bytes.NewReader(body), int64(len(body)), c.Get(fiber.HeaderContentType), replace)
	if err != nil {
		l.Error("Save failed", zap.String("bucket", bucket), zap.String("key", key), zap.Error(err))
		return server.Error(c, err)
	}

	l.Info("Object saved",
		zap.String("bucket", bucket),
		zap.String("key", stored),
		zap.Int("size", len(body)),
	)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"bucket": bucket,
		"key":    stored,
	})
}

// HandleOpen streams an object.
func (h *Handler) HandleOpen(c *fiber.Ctx) error {
	bucket, key, err := target(c)
	if err != nil {
		return err
	}

	obj, err := h.store.Open(c.UserContext(), bucket, key)
	if err != nil {
		return server.Error(c, err)
	}

	if obj.Info.ContentType != "" {
		c.Set(fiber.HeaderContentType, obj.Info.ContentType)
	}
	if obj.Info.ETag != "" {
		c.Set(fiber.HeaderETag, strconv.Quote(obj.Info.ETag))
	}
	if !obj.Info.LastModified.IsZero() {
		c.Set(fiber.HeaderLastModified, obj.Info.LastModified.UTC().Format(time.RFC1123))
	}
	// The response writer closes obj once the body is sent.
	return c.SendStream(obj, int(obj.Info.Size))
}

// HandleExists answers 200 when the object exists and 404 otherwise.
func (h *Handler) HandleExists(c *fiber.Ctx) error {
	bucket, key, err := target(c)
	if err != nil {
		return err
	}

	exists, err := h.store.Exists(c.UserContext(), bucket, key)
	if err != nil {
		return c.SendStatus(server.StatusFor(err))
	}
	if !exists {
		return c.SendStatus(fiber.StatusNotFound)
	}
	return c.SendStatus(fiber.StatusOK)
}

// HandleDelete removes an object.
func (h *Handler) HandleDelete(c *fiber.Ctx) error {
	l := logger.WithRayID(h.logger, c)
	bucket, key, err := target(c)
	if err != nil {
		return err
	}

	if err := h.store.Delete(c.UserContext(), bucket, key); err != nil {
		return server.Error(c, err)
	}
	l.Info("Object deleted", zap.String("bucket", bucket), zap.String("key", key))
	return c.SendStatus(fiber.StatusNoContent)
}

// HandleURL returns the URL a client should use to fetch an object.
func (h *Handler) HandleURL(c *fiber.Ctx) error {
	bucket, key, err := target(c)
	if err != nil {
		return err
	}

	u, err := h.store.URL(c.UserContext(), bucket, key)
	if err != nil {
		return server.Error(c, err)
	}
	return c.JSON(fiber.Map{"url": u})
}

// HandleStat returns an object's metadata.
func (h *Handler) HandleStat(c *fiber.Ctx) error {
	bucket, key, err := target(c)
	if err != nil {
		return err
	}

	info, err := h.store.Stat(c.UserContext(), bucket, key)
	if err != nil {
		return server.Error(c, err)
	}
	return c.JSON(fiber.Map{
		"bucket":        bucket,
		"key":           info.Key,
		"size":          info.Size,
		"etag":          info.ETag,
		"content_type":  info.ContentType,
		"last_modified": info.LastModified.UTC(),
	})
}

// HandleListdir lists the directories and files directly under ?path=.
func (h *Handler) HandleListdir(c *fiber.Ctx) error {
	bucket, err := url.PathUnescape(c.Params("bucket"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "malformed bucket")
	}

	dirs, files, err := h.store.Listdir(c.UserContext(), bucket, c.Query("path"))
	if err != nil {
		return server.Error(c, err)
	}
	if dirs == nil {
		dirs = []string{}
	}
	if files == nil {
		files = []string{}
	}
	return c.JSON(fiber.Map{
		"directories": dirs,
		"files":       files,
	})
}
