// Package database handles the metadata database connection and schema
// inspection used by the orphan auditor.
//
// It wraps GORM and configures MySQL or PostgreSQL connections from the
// application's configuration.
//
// # Connect
//
// Connect opens the connection, applies pool settings and pings the server
// within the configured timeout. The database is optional: commands that do
// not audit metadata never connect.
//
// # Schema Inspection
//
// GetTableColumns lists a table's columns (SHOW COLUMNS on MySQL,
// information_schema on PostgreSQL). HasColumns uses it to verify that the
// columns an audit source reads actually exist before streaming rows.
//
// # Usage
//
//	db, err := database.Connect(cfg.Database)
//	if err != nil {
//	    log.Fatal("Database connection failed", err)
//	}
//
//	missing, err := database.HasColumns(db, "attachments", "id", "file")
package database
