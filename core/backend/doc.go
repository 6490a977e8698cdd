// Package backend is the storage façade used by the HTTP features and the
// maintenance commands.
//
// Backend implements the Storage interface over a retrying store client:
//
//   - Save never overwrites unless asked to: an occupied key is replaced by
//     an alternate "name_<7 hex>.ext" key, tried up to 100 times. Content
//     types are inferred from the extension when not given.
//   - URL returns "<external base>/<bucket>/<encoded key>" for public
//     buckets. Private buckets get a presigned GET URL, signed against the
//     external endpoint and cached per object ETag.
//   - Delete, Open, Size and ModifiedTime report a missing object as
//     errs.KindNotFound; Exists turns it into false.
//   - Listdir splits the immediate children of a path into directories and
//     files.
//   - IsAvailable probes the health bucket and never returns an error.
//
// Every operation requires the bucket to be declared in the settings.
package backend
