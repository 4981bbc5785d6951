package api

import (
	"errors"
	"fmt"
)

// Sentinel errors for response classification.
// Use errors.Is(err, ErrXxx) for typed assertions.
var (
	ErrJobNotFound    = errors.New("api: job not found")
	ErrServerError    = errors.New("api: server error")
	ErrLengthMismatch = errors.New("api: chunk length mismatch")
	ErrZeroChunk      = errors.New("api: chunk body is all zeros")
)

// ManifestError indicates the manifest for a job could not be resolved:
// the job is unknown, the server is unreachable, or the metadata failed
// validation. It is never retried internally; the whole request is safe
// to retry from the caller.
type ManifestError struct {
	JobID string
	Err   error
}

func (e *ManifestError) Error() string {
	return fmt.Sprintf("resolve manifest for job %s: %v", e.JobID, e.Err)
}

func (e *ManifestError) Unwrap() error { return e.Err }

// ChunkError indicates a single chunk fetch failed. Transient errors
// (network failures, timeouts, 5xx responses) may be retried by the
// scheduler; permanent errors (length or content mismatch) fail the
// transfer immediately.
type ChunkError struct {
	Index     int
	Permanent bool
	Err       error
}

func (e *ChunkError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	return fmt.Sprintf("fetch chunk %d: %s: %v", e.Index, kind, e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }

// Transient reports whether err is a chunk error worth retrying.
func Transient(err error) bool {
	var ce *ChunkError
	if errors.As(err, &ce) {
		return !ce.Permanent
	}
	return false
}
