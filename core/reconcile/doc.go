// Package reconcile converges declared buckets to their desired state.
//
// For every declared bucket, in declaration order, the Reconciler:
//   - creates the bucket when it is missing, in the configured region
//   - computes the desired policy: anonymous read for public buckets,
//     none (default deny) for private ones
//   - lets the bucket's policy hook transform that default
//   - compares the result with the stored policy and writes it only when
//     they differ; an empty policy deletes the stored one
//
// Reconciliation is idempotent. The Report holds final state only, so two
// consecutive runs against an unchanged store produce equal reports.
//
// # Failures
//
// The run starts with a connectivity probe; an unreachable store aborts it
// with a Transient error. Failures on a single bucket are recorded in its
// BucketResult and the loop moves on.
//
// # Usage
//
//	r := reconcile.NewReconciler(client, settings.Region, logger)
//	report, err := r.Reconcile(ctx, settings.Buckets())
package reconcile
