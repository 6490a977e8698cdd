package reconcile

import "minio-backend/core/storage"

// BucketResult is the reconciled state of one declared bucket.
type BucketResult struct {
	// Name is the bucket name.
	Name string `json:"name"`

	// Visibility is the declared visibility.
	Visibility storage.Visibility `json:"visibility"`

	// Policy is the policy JSON in force after reconciliation. Empty means
	// no bucket policy (default deny).
	Policy string `json:"policy"`

	// HookApplied reports whether a policy hook shaped Policy.
	HookApplied bool `json:"hook_applied"`

	// Error describes why this bucket could not be reconciled.
	Error string `json:"error,omitempty"`
}

// OK reports whether the bucket reached its desired state.
func (r BucketResult) OK() bool {
	return r.Error == ""
}

// Report is the outcome of a reconciliation run, one entry per declared
// bucket in declaration order. It records final state only, so running
// twice against an unchanged store yields equal reports.
type Report struct {
	Buckets []BucketResult `json:"buckets"`
}

// Failed returns the buckets that could not be reconciled.
func (r *Report) Failed() []BucketResult {
	var out []BucketResult
	for _, b := range r.Buckets {
		if !b.OK() {
			out = append(out, b)
		}
	}
	return out
}
