// Package cache stores materialized artifacts locally with a time-bounded
// validity window, so repeated fetches of the same job skip the network.
//
// Keys are job identifiers, not content hashes: staleness is purely
// time-based, which is correct as long as a job id is never reused for
// different content inside the TTL window. Storage goes through a
// gocloud.dev/blob bucket; production opens the cache directory with
// fileblob, tests use memblob.
package cache
