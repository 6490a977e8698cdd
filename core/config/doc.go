// Package config provides configuration management for the MinIO backend.
//
// It utilizes Viper for loading configuration from environment variables,
// a .env file and an optional config file (config.yaml).
//
// # Configuration Structure
//
// The Config struct is the central repository for all application settings, divided into subsections:
//   - Server: HTTP server settings (port, API key)
//   - Storage: endpoints, credentials, bucket declarations and URL/multipart tuning
//   - Database: metadata database used by the orphan auditor (MySQL or Postgres)
//   - Audit: the table columns that reference stored objects
//   - Log: Logging level and format
//
// Every key has an environment variable formed by upper-casing it and
// replacing dots with underscores, e.g. storage.private_buckets is
// STORAGE_PRIVATE_BUCKETS. Lists are comma separated. storage.policy_hooks
// is a map and can only be set from the config file.
//
// # Usage
//
//	cfg, err := config.LoadConfig(".")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	settings, err := storage.Resolve(cfg.Storage, nil)
package config
