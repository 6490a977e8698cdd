package reconcile

import (
	"context"
	"errors"
	"net/http"

	"minio-backend/core/errs"
	"minio-backend/core/policy"
	"minio-backend/core/storage"

	"github.com/minio/minio-go/v7"
	"go.uber.org/zap"
)

// Reconciler brings declared buckets to their desired state: present, and
// carrying exactly the policy their visibility and hook call for.
type Reconciler struct {
	client storage.Client
	region string
	logger *zap.Logger
}

// NewReconciler creates a Reconciler. client should already map errors
// (see storage.NewRetryClient).
func NewReconciler(client storage.Client, region string, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{client: client, region: region, logger: logger}
}

// Reconcile converges every bucket in specs. A failed connectivity probe
// aborts the run; failures on individual buckets are recorded in the report
// and do not stop the loop.
func (r *Reconciler) Reconcile(ctx context.Context, specs []storage.BucketSpec) (*Report, error) {
	report := &Report{Buckets: make([]BucketResult, 0, len(specs))}
	if len(specs) == 0 {
		return report, nil
	}

	// 1. Probe connectivity
	if _, err := r.client.BucketExists(ctx, specs[0].Name); err != nil && errs.IsTransient(err) {
		return nil, errs.Wrap(errs.KindTransient, "object store is unreachable", err)
	}

	// 2. Converge each bucket in declaration order
	for _, spec := range specs {
		result, err := r.EnsureBucket(ctx, spec)
		if err != nil {
			r.logger.Error("Failed to reconcile bucket",
				zap.String("bucket", spec.Name),
				zap.Error(err),
			)
			result.Error = err.Error()
		}
		report.Buckets = append(report.Buckets, result)
	}

	r.logger.Info("Bucket reconciliation finished",
		zap.Int("buckets", len(report.Buckets)),
		zap.Int("failed", len(report.Failed())),
	)
	return report, nil
}

// EnsureBucket converges a single bucket. The returned result is filled in
// as far as reconciliation got, even on error.
func (r *Reconciler) EnsureBucket(ctx context.Context, spec storage.BucketSpec) (BucketResult, error) {
	result := BucketResult{Name: spec.Name, Visibility: spec.Visibility}

	exists, err := r.client.BucketExists(ctx, spec.Name)
	if err != nil {
		return result, err
	}
	if !exists {
		if err := r.client.MakeBucket(ctx, spec.Name, minio.MakeBucketOptions{Region: r.region}); err != nil && !alreadyOwned(err) {
			return result, err
		}
		r.logger.Info("Created bucket",
			zap.String("bucket", spec.Name),
			zap.String("visibility", string(spec.Visibility)),
		)
	}

	desired, hooked := spec.Hook.Apply(defaultPolicy(spec))
	result.HookApplied = hooked

	want, err := policy.Marshal(desired)
	if err != nil {
		return result, errs.Wrap(errs.KindConfig, "render policy for "+spec.Name, err)
	}

	current, err := r.client.GetBucketPolicy(ctx, spec.Name)
	if err != nil {
		return result, err
	}

	if !samePolicy(current, desired) {
		if err := r.client.SetBucketPolicy(ctx, spec.Name, want); err != nil {
			return result, err
		}
		r.logger.Info("Updated bucket policy",
			zap.String("bucket", spec.Name),
			zap.Bool("hook_applied", result.HookApplied),
			zap.Bool("cleared", want == ""),
		)
	}

	result.Policy = want
	return result, nil
}

// DesiredPolicy computes the policy a bucket should carry: anonymous read
// for public buckets, none for private ones, then the bucket's hook.
func DesiredPolicy(spec storage.BucketSpec) policy.Document {
	doc, _ := spec.Hook.Apply(defaultPolicy(spec))
	return doc
}

func defaultPolicy(spec storage.BucketSpec) policy.Document {
	if spec.IsPublic() {
		return policy.PublicRead(spec.Name)
	}
	return policy.Private()
}

func samePolicy(current string, desired policy.Document) bool {
	if current == "" {
		return desired.IsEmpty()
	}
	doc, err := policy.Parse(current)
	if err != nil {
		return false
	}
	return policy.Equal(doc, desired)
}

func alreadyOwned(err error) bool {
	var resp minio.ErrorResponse
	if !errors.As(err, &resp) {
		return false
	}
	return resp.Code == "BucketAlreadyOwnedByYou" || (resp.StatusCode == http.StatusConflict && resp.Code == "")
}
