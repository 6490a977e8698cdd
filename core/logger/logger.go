package logger

import (
	"minio-backend/core/middleware/rayid"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New creates a zap logger from cfg. "debug" selects the development
// preset (ISO8601 timestamps, caller info); any other level the production
// preset at that level. An unknown level falls back to info.
func New(cfg *Config) (*zap.Logger, error) {
	var config zap.Config
	if cfg.Level == "debug" {
		config = zap.NewDevelopmentConfig()
	} else {
		config = zap.NewProductionConfig()
		if lvl, err := zap.ParseAtomicLevel(cfg.Level); err == nil {
			config.Level = lvl
		}
	}

	switch cfg.Format {
	case "console":
		config.Encoding = "console"
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		config.DisableStacktrace = true
	default:
		config.Encoding = "json"
	}

	config.EncoderConfig.LevelKey = "level"
	config.EncoderConfig.TimeKey = "time"
	config.EncoderConfig.MessageKey = "message"

	return config.Build()
}

// WithRayID returns a logger carrying the request's ray_id, or l unchanged
// when the request has none.
func WithRayID(l *zap.Logger, c *fiber.Ctx) *zap.Logger {
	if rid := rayid.FromCtx(c); rid != "" {
		return l.With(zap.String(rayid.LocalKey, rid))
	}
	return l
}
