// Package store provides the immutable, content-addressed storage used by the
// build engine.
//
// Two kinds of objects live in a Store:
//
//   - Blobs: raw file contents, keyed by the Digest of their bytes.
//   - Trees: canonical directory nodes, keyed by the Digest of their
//     serialized form. A tree references blobs and other trees by Digest.
//
// Objects are never mutated. Operations that "change" a tree (StripPrefix,
// AddPrefix, Merge) produce new trees with new digests. Because identity is
// derived from content, concurrent identical writes converge on the same
// Digest and ingestion is idempotent.
//
// The only side effects live in Materialize, which realizes a tree in a private
// scratch directory for the duration of a callback.
package store
