// Package audit finds objects nobody references and references to objects
// that no longer exist.
//
// A MetadataSource yields the object references held outside the store.
// GormSource reads them from a table column, validating the columns with
// core/database first and streaming rows so large tables never sit in
// memory at once. A stored value "<bucket>/<key>" whose first segment names a
// declared bucket is attributed to that bucket; anything else belongs to the
// default bucket.
//
// The Auditor lists each bucket recursively. Objects without a reference
// are orphans and are deleted in bulk unless the run is a dry run. With
// CheckMissing, references whose object is absent are reported too.
package audit
