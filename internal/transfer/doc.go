// Package transfer drives the parallel chunked download of one artifact.
//
// [Transfer] owns the session: a bounded worker pool pulls pending chunks,
// fetches them through a [Fetcher], and writes each payload into a
// [Destination] at its manifest offset. Chunk ranges are disjoint, so
// completion order never affects the assembled bytes.
//
// Transient fetch failures go back to the pending queue with exponential
// backoff until the per-chunk attempt budget runs out; a permanent failure
// or an exhausted chunk cancels every in-flight fetch and the session
// surfaces exactly one *TransferError. A failed session always discards its
// destination, so callers never see a partial artifact.
package transfer
