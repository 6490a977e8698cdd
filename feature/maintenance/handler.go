package maintenance

import (
	"context"

	"minio-backend/core/backend"
	"minio-backend/core/logger"
	"minio-backend/core/reconcile"
	"minio-backend/core/server"
	"minio-backend/core/storage"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// HealthPath is the unauthenticated health route.
const HealthPath = "/health"

// Prober reports store availability.
type Prober interface {
	IsAvailable(ctx context.Context) backend.HealthStatus
}

// Initializer brings declared buckets to their desired state.
type Initializer interface {
	Reconcile(ctx context.Context, specs []storage.BucketSpec) (*reconcile.Report, error)
}

// Handler handles health and bucket maintenance requests.
type Handler struct {
	prober      Prober
	initializer Initializer
	buckets     []storage.BucketSpec
	logger      *zap.Logger
}

// NewHandler creates a new HTTP handler. buckets are the declared buckets
// initialized by POST /buckets/initialize.
func NewHandler(prober Prober, initializer Initializer, buckets []storage.BucketSpec, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{prober: prober, initializer: initializer, buckets: buckets, logger: logger}
}

// RegisterRoutes registers the maintenance routes.
func (h *Handler) RegisterRoutes(app fiber.Router) {
	app.Get(HealthPath, h.HandleHealth)
	app.Post("/buckets/initialize", h.HandleInitialize)
}

// HandleHealth reports whether the object store is reachable.
func (h *Handler) HandleHealth(c *fiber.Ctx) error {
	status := h.prober.IsAvailable(c.UserContext())
	if !status.Available {
		logger.WithRayID(h.logger, c).Warn("Object store unavailable", zap.String("detail", status.Detail))
		return c.Status(fiber.StatusServiceUnavailable).JSON(status)
	}
	return c.JSON(status)
}

// HandleInitialize creates missing buckets and converges their policies.
// A report with failed buckets is returned with 502.
func (h *Handler) HandleInitialize(c *fiber.Ctx) error {
	l := logger.WithRayID(h.logger, c)
	l.Info("Initializing buckets", zap.Int("buckets", len(h.buckets)))

	report, err := h.initializer.Reconcile(c.UserContext(), h.buckets)
	if err != nil {
		l.Error("Bucket initialization failed", zap.Error(err))
		return server.Error(c, err)
	}

	if failed := report.Failed(); len(failed) > 0 {
		l.Warn("Some buckets could not be initialized", zap.Int("failed", len(failed)))
		return c.Status(fiber.StatusBadGateway).JSON(report)
	}
	return c.JSON(report)
}
