package maintenance

import (
	"minio-backend/core/storage"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Feature serves health and bucket maintenance routes.
type Feature struct {
	handler *Handler
}

// NewFeature creates the maintenance feature.
func NewFeature(prober Prober, initializer Initializer, buckets []storage.BucketSpec, logger *zap.Logger) *Feature {
	return &Feature{handler: NewHandler(prober, initializer, buckets, logger)}
}

// Name returns the feature name.
func (f *Feature) Name() string {
	return "maintenance"
}

// IsEnabled always returns true.
func (f *Feature) IsEnabled() bool {
	return true
}

// Load registers the routes.
func (f *Feature) Load(app fiber.Router) error {
	f.handler.RegisterRoutes(app)
	return nil
}
