// Package server holds the HTTP server configuration.
//
// While the start command handles the server startup, this package defines
// the settings it reads: the listen port, the API key protecting every
// route except /health, the read timeout and the request body limit that
// bounds uploads through PUT /objects.
//
// # Usage
//
// This package is embedded by core/config and consumed by cmd/start.go:
//
//	app := fiber.New(fiber.Config{BodyLimit: cfg.Server.BodyLimit()})
//	app.Listen(cfg.Server.Address())
package server
