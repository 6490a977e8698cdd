package audit

// Config describes where file references live in the metadata database.
type Config struct {
	// Sources lists the columns holding object keys, as "table.column".
	Sources []string `mapstructure:"sources" default:""`
	// IDColumn is the primary key column reported with missing files.
	IDColumn string `mapstructure:"id_column" default:"id"`
	// Buckets restricts the audit. Empty means the default bucket, or every
	// declared bucket but the static files bucket when there is none.
	Buckets []string `mapstructure:"buckets" default:""`
}
