package cmd

import (
	"fmt"
	"os"

	"minio-backend/core/config"
	"minio-backend/core/logger"
	"minio-backend/core/storage"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "minio-backend",
	Short: "MinIO storage backend",
	Long: `minio-backend stores application files in MinIO or any S3-compatible store.
It keeps declared buckets and their policies in shape, hands out public or
signed URLs and cleans up files no longer referenced by the database.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var configPath string

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		// Console logger so CLI failures read well in a terminal
		cfg := &logger.Config{
			Level:  "debug",
			Format: "console",
		}

		l, logErr := logger.New(cfg)
		if logErr == nil {
			l.Error("command failed", zap.Error(err))
			_ = l.Sync()
		} else {
			fmt.Println(err)
		}
		os.Exit(1)
	}
}

func init() {
	RootCmd.PersistentFlags().StringVar(&configPath, "config-dir", ".", "Directory holding .env and config.yaml")
}

// bootstrap loads the configuration, builds the logger and resolves the
// storage settings.
func bootstrap() (*config.Config, *zap.Logger, *storage.Settings, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	logg, err := logger.New(&cfg.Log)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}

	settings, err := storage.Resolve(cfg.Storage, nil)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("invalid storage configuration: %w", err)
	}
	return cfg, logg, settings, nil
}
