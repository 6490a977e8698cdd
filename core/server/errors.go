package server

import (
	"minio-backend/core/errs"

	"github.com/gofiber/fiber/v2"
)

// StatusFor maps an error kind to an HTTP status.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return fiber.StatusOK
	case errs.IsNotFound(err):
		return fiber.StatusNotFound
	case errs.IsConfig(err):
		return fiber.StatusBadRequest
	case errs.IsTransient(err):
		return fiber.StatusServiceUnavailable
	case errs.IsPermanent(err):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

// Error writes err as a JSON error body with the status from StatusFor.
func Error(c *fiber.Ctx, err error) error {
	body := fiber.Map{"error": err.Error()}
	if kind := errs.KindOf(err); kind != errs.KindUnknown {
		body["kind"] = kind.String()
	}
	return c.Status(StatusFor(err)).JSON(body)
}
