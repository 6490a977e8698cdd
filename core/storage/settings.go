package storage

import (
	"fmt"
	"strings"
	"time"

	"minio-backend/core/errs"
	"minio-backend/core/policy"

	"github.com/minio/minio-go/v7/pkg/s3utils"
	"github.com/spf13/cast"
)

const (
	// MaxURLExpiry is the longest lifetime a V4 signature may carry.
	MaxURLExpiry = 7 * 24 * time.Hour

	// MinPartSize is the smallest part an S3 store accepts (except the last).
	MinPartSize int64 = 5 * 1024 * 1024

	defaultPartSize  int64 = 10 * 1024 * 1024
	defaultThreshold int64 = 32 * 1024 * 1024
	defaultWorkers         = 4
	defaultTimeout         = 30 * time.Second
	defaultAttempts        = 5
	defaultBackoff         = 200 * time.Millisecond
	maxBackoff             = 5 * time.Second

	cacheTTLRatio = 0.8
)

// Visibility classifies a bucket.
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityPublic  Visibility = "public"
)

// BucketSpec is a declared bucket. Identity is the name.
type BucketSpec struct {
	Name       string
	Visibility Visibility
	// Hook customises the default policy. Nil means none.
	Hook policy.Transform
}

// IsPublic reports whether the bucket is served unsigned.
func (b BucketSpec) IsPublic() bool {
	return b.Visibility == VisibilityPublic
}

// MultipartSettings controls the multipart upload path.
type MultipartSettings struct {
	Enabled   bool
	Threshold int64
	PartSize  int64
	Workers   int
}

// Settings is the validated, immutable storage configuration.
// Construct it with Resolve; never mutate the returned value.
type Settings struct {
	Endpoint         string
	ExternalEndpoint string
	UseHTTPS         bool
	ExternalUseHTTPS bool
	AccessKey        string
	SecretKey        string
	Region           string
	URLExpiry        time.Duration

	ConsistencyCheckOnStart bool
	BucketCheckOnSave       bool
	DefaultBucket           string
	StaticFilesBucket       string

	URLCachingEnabled bool
	URLCacheTimeout   time.Duration
	URLCachePrefix    string

	Multipart MultipartSettings
	Timeout   time.Duration
	Retry     RetryPolicy

	buckets []BucketSpec
	index   map[string]int
}

// Resolve validates a raw configuration bundle and freezes it into Settings.
// hooks are programmatic policy transforms; config file hooks are merged in
// and take precedence.
func Resolve(cfg Config, hooks policy.Registry) (*Settings, error) {
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, errs.New(errs.KindConfig, "access key and secret key are required")
	}

	endpoint := stripScheme(cfg.Endpoint)
	if endpoint == "" {
		return nil, errs.New(errs.KindConfig, "endpoint is required")
	}

	s := &Settings{
		Endpoint:                endpoint,
		ExternalEndpoint:        stripScheme(cfg.ExternalEndpoint),
		UseHTTPS:                cfg.UseHTTPS,
		AccessKey:               cfg.AccessKey,
		SecretKey:               cfg.SecretKey,
		Region:                  cfg.Region,
		ConsistencyCheckOnStart: cfg.ConsistencyCheckOnStart,
		BucketCheckOnSave:       cfg.BucketCheckOnSave,
		DefaultBucket:           cfg.DefaultBucket,
		StaticFilesBucket:       cfg.StaticFilesBucket,
		URLCachingEnabled:       cfg.URLCachingEnabled,
		URLCachePrefix:          cfg.URLCachePrefix,
		index:                   make(map[string]int),
	}

	// External endpoint falls back to the internal one, and so does its TLS flag.
	s.ExternalUseHTTPS = cfg.UseHTTPS
	if raw := strings.TrimSpace(cfg.ExternalUseHTTPS); raw != "" {
		v, err := cast.ToBoolE(raw)
		if err != nil {
			return nil, errs.Wrap(errs.KindConfig, "external_use_https must be a boolean", err)
		}
		if v && s.ExternalEndpoint == "" {
			return nil, errs.New(errs.KindConfig, "external_use_https is set but external_endpoint is not")
		}
		s.ExternalUseHTTPS = v
	}
	if s.ExternalEndpoint == "" {
		s.ExternalEndpoint = s.Endpoint
		s.ExternalUseHTTPS = s.UseHTTPS
	}

	expiry, err := resolveExpiry(cfg.URLExpiryHours)
	if err != nil {
		return nil, err
	}
	s.URLExpiry = expiry

	if cfg.URLCacheTimeoutSeconds < 0 {
		return nil, errs.New(errs.KindConfig, "url_cache_timeout_seconds must not be negative")
	}
	s.URLCacheTimeout = time.Duration(cfg.URLCacheTimeoutSeconds) * time.Second

	if err := s.resolveBuckets(cfg); err != nil {
		return nil, err
	}

	registry, err := configHooks(cfg.PolicyHooks)
	if err != nil {
		return nil, err
	}
	for name, hook := range hooks.Merge(registry) {
		i, ok := s.index[name]
		if !ok {
			return nil, errs.Newf(errs.KindConfig, "policy hook targets undeclared bucket %q", name)
		}
		s.buckets[i].Hook = hook
	}

	mp, err := resolveMultipart(cfg)
	if err != nil {
		return nil, err
	}
	s.Multipart = mp

	s.Timeout = defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		s.Timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}

	s.Retry = DefaultRetryPolicy()
	if cfg.MaxAttempts > 0 {
		s.Retry.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.RetryBackoffMillis > 0 {
		s.Retry.BaseBackoff = time.Duration(cfg.RetryBackoffMillis) * time.Millisecond
	}

	return s, nil
}

func resolveExpiry(hours int) (time.Duration, error) {
	if hours == 0 {
		return MaxURLExpiry, nil
	}
	expiry := time.Duration(hours) * time.Hour
	if hours < 0 || expiry > MaxURLExpiry {
		return 0, errs.Newf(errs.KindInvalidExpiry, "url_expiry_hours must be between 1 and %d, got %d", int(MaxURLExpiry.Hours()), hours)
	}
	return expiry, nil
}

func (s *Settings) resolveBuckets(cfg Config) error {
	add := func(name string, vis Visibility) error {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil
		}
		if err := s3utils.CheckValidBucketNameStrict(name); err != nil {
			return errs.Wrap(errs.KindConfig, fmt.Sprintf("invalid bucket name %q", name), err)
		}
		if i, ok := s.index[name]; ok {
			return errs.Newf(errs.KindAmbiguousBucket, "bucket %q is declared %s and %s", name, s.buckets[i].Visibility, vis)
		}
		s.index[name] = len(s.buckets)
		s.buckets = append(s.buckets, BucketSpec{Name: name, Visibility: vis})
		return nil
	}

	for _, name := range cfg.PrivateBuckets {
		if err := add(name, VisibilityPrivate); err != nil {
			return err
		}
	}
	for _, name := range cfg.PublicBuckets {
		if err := add(name, VisibilityPublic); err != nil {
			return err
		}
	}

	if len(s.buckets) == 0 {
		return errs.New(errs.KindConfig, "either private_buckets or public_buckets must declare at least one bucket")
	}

	for setting, name := range map[string]string{
		"default_bucket":      cfg.DefaultBucket,
		"static_files_bucket": cfg.StaticFilesBucket,
	} {
		if name == "" {
			continue
		}
		if _, ok := s.index[name]; !ok {
			return errs.Newf(errs.KindAmbiguousBucket, "%s %q is not declared in private_buckets or public_buckets", setting, name)
		}
	}
	return nil
}

func configHooks(raw map[string]string) (policy.Registry, error) {
	reg := make(policy.Registry, len(raw))
	for bucket, doc := range raw {
		parsed, err := policy.Parse(doc)
		if err != nil {
			return nil, errs.Wrap(errs.KindConfig, fmt.Sprintf("policy hook for bucket %q", bucket), err)
		}
		reg[bucket] = policy.Replace(parsed)
	}
	return reg, nil
}

func resolveMultipart(cfg Config) (MultipartSettings, error) {
	mp := MultipartSettings{
		Enabled:   cfg.MultipartUpload,
		Threshold: cfg.MultipartThreshold,
		PartSize:  cfg.MultipartPartSize,
		Workers:   cfg.MultipartWorkers,
	}
	if mp.PartSize == 0 {
		mp.PartSize = defaultPartSize
	}
	if mp.Threshold == 0 {
		mp.Threshold = defaultThreshold
	}
	if mp.Workers == 0 {
		mp.Workers = defaultWorkers
	}

	if !mp.Enabled {
		return mp, nil
	}
	if mp.PartSize < MinPartSize {
		return mp, errs.Newf(errs.KindConfig, "multipart_part_size must be at least %d bytes", MinPartSize)
	}
	if mp.Threshold < mp.PartSize {
		return mp, errs.New(errs.KindConfig, "multipart_threshold must not be smaller than multipart_part_size")
	}
	if mp.Workers < 1 {
		return mp, errs.New(errs.KindConfig, "multipart_workers must be positive")
	}
	return mp, nil
}

func stripScheme(endpoint string) string {
	endpoint = strings.TrimSpace(endpoint)
	endpoint = strings.TrimPrefix(endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")
	return strings.TrimSuffix(endpoint, "/")
}

// Buckets returns the declared buckets, private first, each list in order.
func (s *Settings) Buckets() []BucketSpec {
	out := make([]BucketSpec, len(s.buckets))
	copy(out, s.buckets)
	return out
}

// Bucket looks a declared bucket up by name.
func (s *Settings) Bucket(name string) (BucketSpec, bool) {
	i, ok := s.index[name]
	if !ok {
		return BucketSpec{}, false
	}
	return s.buckets[i], true
}

// Visibility returns the declared visibility of a bucket.
func (s *Settings) Visibility(name string) (Visibility, bool) {
	b, ok := s.Bucket(name)
	return b.Visibility, ok
}

// IsPublic reports whether name is a declared public bucket.
func (s *Settings) IsPublic(name string) bool {
	b, ok := s.Bucket(name)
	return ok && b.IsPublic()
}

// BaseURL is the internal endpoint with its scheme.
func (s *Settings) BaseURL() string {
	return scheme(s.UseHTTPS) + "://" + s.Endpoint
}

// ExternalBaseURL is the endpoint advertised in URLs handed to clients.
func (s *Settings) ExternalBaseURL() string {
	return scheme(s.ExternalUseHTTPS) + "://" + s.ExternalEndpoint
}

// SameEndpoints reports whether internal and external endpoints coincide, in
// which case one client serves both roles.
func (s *Settings) SameEndpoints() bool {
	return s.Endpoint == s.ExternalEndpoint && s.UseHTTPS == s.ExternalUseHTTPS
}

// CacheTTL is the lifetime of a cached signed URL: 80% of the URL expiry,
// lowered to the explicit cache timeout when one is configured.
func (s *Settings) CacheTTL() time.Duration {
	ttl := time.Duration(float64(s.URLExpiry) * cacheTTLRatio)
	if s.URLCacheTimeout > 0 && s.URLCacheTimeout < ttl {
		return s.URLCacheTimeout
	}
	return ttl
}

// HealthBucket is the bucket probed by availability checks.
func (s *Settings) HealthBucket() string {
	if s.DefaultBucket != "" {
		return s.DefaultBucket
	}
	return s.buckets[0].Name
}

func scheme(https bool) string {
	if https {
		return "https"
	}
	return "http"
}
