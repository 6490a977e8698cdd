package objects

import (
	"minio-backend/core/backend"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Feature serves stored objects over HTTP.
type Feature struct {
	handler *Handler
}

// NewFeature creates the objects feature.
func NewFeature(store backend.Storage, logger *zap.Logger) *Feature {
	return &Feature{handler: NewHandler(store, logger)}
}

// Name returns the feature name.
func (f *Feature) Name() string {
	return "objects"
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
