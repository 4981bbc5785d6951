// Package chunked provides the chunk geometry of a remote artifact.
//
// A [Manifest] describes how an artifact of TotalSize bytes is split into
// fixed-size chunks. Every chunk except the last has exactly ChunkSize
// bytes; the last covers the remainder. [Manifest.Validate] enforces the
// invariant ChunkCount == ceil(TotalSize/ChunkSize) and rejects degenerate
// manifests before any network transfer starts.
//
// Because each chunk occupies a disjoint byte range, chunks fetched in any
// order can be written directly at their offsets without coordination.
package chunked
