package storage

// Config is the raw storage configuration bundle as loaded from the
// environment or config file. It is validated and frozen by Resolve.
type Config struct {
	// Endpoint is the host:port the backend talks to (internal network).
	Endpoint string `mapstructure:"endpoint" default:"localhost:9000"`
	// ExternalEndpoint is the host:port embedded in URLs handed to clients.
	// Empty means the same as Endpoint.
	ExternalEndpoint string `mapstructure:"external_endpoint" default:""`
	// AccessKey is the access key ID for authentication.
	AccessKey string `mapstructure:"access_key" default:""`
	// SecretKey is the secret access key for authentication.
	SecretKey string `mapstructure:"secret_key" default:""`
	// UseHTTPS selects TLS for the internal endpoint.
	UseHTTPS bool `mapstructure:"use_https" default:"false"`
	// ExternalUseHTTPS selects TLS for the external endpoint ("", "true", "false").
	// Empty falls back to UseHTTPS.
	ExternalUseHTTPS string `mapstructure:"external_use_https" default:""`
	// Region is the bucket location. Presigning stays offline when it is set.
	Region string `mapstructure:"region" default:"us-east-1"`
	// URLExpiryHours is the lifetime of signed URLs. At most 168 (7 days).
	URLExpiryHours int `mapstructure:"url_expiry_hours" default:"168"`
	// ConsistencyCheckOnStart reconciles every bucket when the server starts.
	ConsistencyCheckOnStart bool `mapstructure:"consistency_check_on_start" default:"false"`

	// PrivateBuckets are served through signed URLs only.
	PrivateBuckets []string `mapstructure:"private_buckets" default:""`
	// PublicBuckets carry an anonymous read policy and are served unsigned.
	PublicBuckets []string `mapstructure:"public_buckets" default:""`
	// DefaultBucket is used when a caller does not name a bucket.
	DefaultBucket string `mapstructure:"default_bucket" default:""`
	// StaticFilesBucket holds static assets. Must be declared like any other bucket.
	StaticFilesBucket string `mapstructure:"static_files_bucket" default:""`
	// BucketCheckOnSave ensures the target bucket exists before every save.
	BucketCheckOnSave bool `mapstructure:"bucket_check_on_save" default:"false"`
	// PolicyHooks maps a bucket name to a JSON policy document that replaces
	// the computed default. Only settable from the config file.
	PolicyHooks map[string]string `mapstructure:"policy_hooks"`

	// URLCachingEnabled memoizes signed URLs per object state.
	URLCachingEnabled bool `mapstructure:"url_caching_enabled" default:"false"`
	// URLCacheTimeoutSeconds caps the cache TTL. 0 means 80% of the URL expiry.
	URLCacheTimeoutSeconds int `mapstructure:"url_cache_timeout_seconds" default:"0"`
	// URLCachePrefix namespaces cache keys.
	URLCachePrefix string `mapstructure:"url_cache_prefix" default:"presigned_url:"`

	// MultipartUpload enables the multipart path for large objects.
	MultipartUpload bool `mapstructure:"multipart_upload" default:"true"`
	// MultipartThreshold is the size in bytes above which uploads go multipart.
	MultipartThreshold int64 `mapstructure:"multipart_threshold" default:"33554432"`
	// MultipartPartSize is the fixed part size in bytes.
	MultipartPartSize int64 `mapstructure:"multipart_part_size" default:"10485760"`
	// MultipartWorkers bounds the number of parts uploaded concurrently.
	MultipartWorkers int `mapstructure:"multipart_workers" default:"4"`

	// TimeoutSeconds is the connection timeout in seconds.
	TimeoutSeconds int `mapstructure:"timeout_seconds" default:"30"`
	// MaxAttempts is the total number of tries for a transient failure.
	MaxAttempts int `mapstructure:"max_attempts" default:"5"`
	// RetryBackoffMillis is the base of the exponential backoff.
	RetryBackoffMillis int `mapstructure:"retry_backoff_ms" default:"200"`
}
