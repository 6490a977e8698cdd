package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"minio-backend/core/backend"
	"minio-backend/core/errs"
	"minio-backend/core/loader"
	"minio-backend/core/logger"
	"minio-backend/core/middleware/auth"
	"minio-backend/core/middleware/rayid"
	"minio-backend/feature/maintenance"
	"minio-backend/feature/objects"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// startCmd represents the start command
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the storage HTTP server",
	Long:  `Starts the HTTP server and initializes all enabled features.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// 1. Load Configuration
		cfg, logg, settings, err := bootstrap()
		if err != nil {
			return err
		}
		defer logg.Sync()
		zap.ReplaceGlobals(logg)

		// 2. Connect to the object store
		store, err := backend.Connect(settings, logg)
		if err != nil {
			return fmt.Errorf("failed to create storage client: %w", err)
		}

		// 3. Optional consistency check
		if settings.ConsistencyCheckOnStart {
			if err := reconcileOnStart(cmd.Context(), store, logg); err != nil {
				return err
			}
		}

		// 4. Initialize Fiber App
		app := fiber.New(fiber.Config{
			DisableStartupMessage: true,
			BodyLimit:             cfg.Server.BodyLimit(),
			ReadTimeout:           time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		})

		// 5. Feature Loader
		mgr := loader.NewManager()
		mgr.Register(maintenance.NewFeature(store, store.Reconciler(), settings.Buckets(), logg))
		mgr.Register(objects.NewFeature(store, logg))

		// RayID first so everything below is traceable
		app.Use(rayid.New())

		app.Use(func(c *fiber.Ctx) error {
			l := logger.WithRayID(logg, c)
			l.Info("Request started",
				zap.String("method", c.Method()),
				zap.String("path", c.Path()),
				zap.String("ip", c.IP()),
			)
			err := c.Next()
			if err != nil {
				l.Error("Request error", zap.Error(err))
			}
			return err
		})

		// Everything except the health probe needs the API key
		app.Use(auth.New(auth.Config{ApiKey: cfg.Server.ApiKey, Public: []string{maintenance.HealthPath}}))

		loaded, err := mgr.LoadAll(app)
		if err != nil {
			return err
		}
		logg.Info("Features loaded", zap.Strings("features", loaded))

		// 6. Start Server
		go func() {
			logg.Info("Starting server",
				zap.String("port", cfg.Server.Port),
				zap.String("endpoint", settings.BaseURL()),
				zap.String("external_endpoint", settings.ExternalBaseURL()),
				zap.Bool("auth", cfg.Server.AuthEnabled()),
			)
			if err := app.Listen(cfg.Server.Address()); err != nil {
				logg.Fatal("Server failed to start", zap.Error(err))
			}
		}()

		// 7. Graceful Shutdown
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		<-c
		logg.Info("Shutting down server...")
		return app.ShutdownWithTimeout(10 * time.Second)
	},
}

// reconcileOnStart converges every declared bucket. An unreachable store is
// logged and tolerated so the server can come up before MinIO does.
func reconcileOnStart(ctx context.Context, store *backend.Backend, logg *zap.Logger) error {
	report, err := store.Reconciler().Reconcile(ctx, store.Settings().Buckets())
	if err != nil {
		if errs.IsTransient(err) {
			logg.Warn("Skipping consistency check, object store unreachable", zap.Error(err))
			return nil
		}
		return fmt.Errorf("consistency check failed: %w", err)
	}
	for _, b := range report.Failed() {
		logg.Error("Bucket not reconciled", zap.String("bucket", b.Name), zap.String("error", b.Error))
	}
	return nil
}

func init() {
	RootCmd.AddCommand(startCmd)
}
