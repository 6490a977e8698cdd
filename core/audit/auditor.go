package audit

import (
	"context"
	"sort"

	"minio-backend/core/errs"
	"minio-backend/core/storage"

	"github.com/minio/minio-go/v7"
	"go.uber.org/zap"
)

// Options controls an audit run.
type Options struct {
	// DryRun reports orphans without deleting them.
	DryRun bool
	// CheckMissing also reports references to objects that do not exist.
	CheckMissing bool
	// Buckets restricts the run. Empty means DefaultBuckets.
	Buckets []string
}

// Report is the outcome of an audit run. Orphans and Missing are disjoint:
// the former are objects without a reference, the latter references
// without an object.
type Report struct {
	DryRun     bool                `json:"dry_run"`
	Referenced int                 `json:"referenced"`
	Orphans    []storage.ObjectRef `json:"orphans"`
	Missing    []Record            `json:"missing,omitempty"`
	Deleted    int                 `json:"deleted"`
	// DeleteErrors lists "bucket/key: reason" for failed deletions.
	DeleteErrors []string `json:"delete_errors,omitempty"`
	// BucketErrors lists buckets that could not be listed.
	BucketErrors map[string]string `json:"bucket_errors,omitempty"`
}

// Auditor compares store contents with a metadata source.
type Auditor struct {
	client   storage.Client
	source   MetadataSource
	settings *storage.Settings
	logger   *zap.Logger
}

// NewAuditor creates an Auditor. client should map errors (see
// storage.NewRetryClient).
func NewAuditor(client storage.Client, source MetadataSource, settings *storage.Settings, logger *zap.Logger) *Auditor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Auditor{client: client, source: source, settings: settings, logger: logger}
}

// Run performs the audit.
func (a *Auditor) Run(ctx context.Context, opts Options) (*Report, error) {
	buckets, err := a.buckets(opts.Buckets)
	if err != nil {
		return nil, err
	}

	// 1. Collect references
	refs := make(map[string]map[string][]Record)
	report := &Report{DryRun: opts.DryRun}
	err = a.source.Records(ctx, func(r Record) error {
		if refs[r.Bucket] == nil {
			refs[r.Bucket] = make(map[string][]Record)
		}
		refs[r.Bucket][r.Key] = append(refs[r.Bucket][r.Key], r)
		report.Referenced++
		return nil
	})
	if err != nil {
		return nil, err
	}
	a.logger.Info("Collected file references", zap.Int("count", report.Referenced))

	// 2. Find orphans per bucket
	listed := make(map[string]map[string]struct{})
	for _, bucket := range buckets {
		present, orphans, err := a.scan(ctx, bucket, refs[bucket])
		if err != nil {
			if report.BucketErrors == nil {
				report.BucketErrors = make(map[string]string)
			}
			report.BucketErrors[bucket] = err.Error()
			a.logger.Error("Failed to list bucket", zap.String("bucket", bucket), zap.Error(err))
			continue
		}
		listed[bucket] = present
		report.Orphans = append(report.Orphans, orphans...)

		if len(orphans) > 0 && !opts.DryRun {
			a.remove(ctx, bucket, orphans, report)
		}
	}

	// 3. Find references to missing objects
	if opts.CheckMissing {
		missing, err := a.missing(ctx, refs, listed, buckets)
		if err != nil {
			return nil, err
		}
		report.Missing = missing
	}

	a.logger.Info("Audit finished",
		zap.Bool("dry_run", opts.DryRun),
		zap.Int("orphans", len(report.Orphans)),
		zap.Int("deleted", report.Deleted),
		zap.Int("missing", len(report.Missing)),
	)
	return report, nil
}

// DefaultBuckets returns the buckets audited when none are named: the
// default bucket when one is configured, otherwise every declared bucket
// except the static files bucket. Static assets are never referenced from
// the database, so auditing them would delete all of them.
func DefaultBuckets(settings *storage.Settings) []string {
	if settings.DefaultBucket != "" {
		return []string{settings.DefaultBucket}
	}
	var out []string
	for _, b := range settings.Buckets() {
		if b.Name != settings.StaticFilesBucket {
			out = append(out, b.Name)
		}
	}
	return out
}

func (a *Auditor) buckets(requested []string) ([]string, error) {
	if len(requested) == 0 {
		return DefaultBuckets(a.settings), nil
	}
	for _, name := range requested {
		if _, ok := a.settings.Bucket(name); !ok {
			return nil, errs.Newf(errs.KindConfig, "bucket %q is not declared", name)
		}
	}
	return requested, nil
}

func (a *Auditor) scan(ctx context.Context, bucket string, refs map[string][]Record) (map[string]struct{}, []storage.ObjectRef, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	present := make(map[string]struct{})
	var orphans []storage.ObjectRef
	for obj := range a.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Recursive: true}) {
		if obj.Err != nil {
			return nil, nil, obj.Err
		}
		present[obj.Key] = struct{}{}
		if _, ok := refs[obj.Key]; !ok {
			orphans = append(orphans, storage.ObjectRef{Bucket: bucket, Key: obj.Key, ETag: obj.ETag})
		}
	}
	return present, orphans, nil
}

func (a *Auditor) remove(ctx context.Context, bucket string, orphans []storage.ObjectRef, report *Report) {
	objects := make(chan minio.ObjectInfo)
	go func() {
		defer close(objects)
		for _, o := range orphans {
			select {
			case objects <- minio.ObjectInfo{Key: o.Key}:
			case <-ctx.Done():
				return
			}
		}
	}()

	failed := 0
	for e := range a.client.RemoveObjects(ctx, bucket, objects, minio.RemoveObjectsOptions{}) {
		failed++
		report.DeleteErrors = append(report.DeleteErrors, bucket+"/"+e.ObjectName+": "+e.Err.Error())
		a.logger.Error("Failed to delete orphaned object",
			zap.String("bucket", bucket),
			zap.String("key", e.ObjectName),
			zap.Error(e.Err),
		)
	}
	report.Deleted += len(orphans) - failed
}

func (a *Auditor) missing(ctx context.Context, refs map[string]map[string][]Record, listed map[string]map[string]struct{}, buckets []string) ([]Record, error) {
	audited := make(map[string]bool, len(buckets))
	for _, b := range buckets {
		audited[b] = true
	}

	var out []Record
	for bucket, keys := range refs {
		if !audited[bucket] {
			continue
		}
		present, ok := listed[bucket]
		for key, records := range keys {
			if ok {
				if _, found := present[key]; found {
					continue
				}
			} else {
				// Listing failed; fall back to a stat.
				_, err := a.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
				if err == nil {
					continue
				}
				if !errs.IsNotFound(err) {
					return nil, err
				}
			}
			out = append(out, records...)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Bucket != out[j].Bucket {
			return out[i].Bucket < out[j].Bucket
		}
		if out[i].Key != out[j].Key {
			return out[i].Key < out[j].Key
		}
		return out[i].Source+out[i].ID < out[j].Source+out[j].ID
	})
	return out, nil
}
