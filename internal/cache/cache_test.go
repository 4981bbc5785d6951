package cache

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/memblob"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestManager(t *testing.T, ttl time.Duration) (*Manager, *fakeClock) {
	t.Helper()

	ctx := context.Background()
	bucket, err := blob.OpenBucket(ctx, "mem://")
	if err != nil {
		t.Fatalf("open bucket: %v", err)
	}
	t.Cleanup(func() { bucket.Close() })

	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	return New(bucket, Options{TTL: ttl, Clock: clock.Now}), clock
}

func TestStoreThenLoad(t *testing.T) {
	m, _ := newTestManager(t, time.Hour)
	ctx := context.Background()

	data := []byte("point cloud bytes")
	entry, err := m.Store(ctx, "job-A", data)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if entry.SizeBytes != int64(len(data)) {
		t.Errorf("entry size %d, want %d", entry.SizeBytes, len(data))
	}

	if !m.IsFresh(ctx, "job-A") {
		t.Error("IsFresh false immediately after Store")
	}

	got, err := m.Load(ctx, "job-A")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("loaded bytes differ from stored bytes")
	}
}

func TestLoadMissingKey(t *testing.T) {
	m, _ := newTestManager(t, time.Hour)

	_, err := m.Load(context.Background(), "never-stored")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load: %v, want ErrNotFound", err)
	}
}

func TestFreshnessWindowBoundary(t *testing.T) {
	// ttl=86400s: fresh at t=86399, stale at t=86401.
	m, clock := newTestManager(t, 86400*time.Second)
	ctx := context.Background()

	if _, err := m.Store(ctx, "job-A", []byte("data")); err != nil {
		t.Fatalf("Store: %v", err)
	}

	clock.Advance(86399 * time.Second)
	if !m.IsFresh(ctx, "job-A") {
		t.Error("IsFresh false at ttl-1s")
	}

	clock.Advance(2 * time.Second)
	if m.IsFresh(ctx, "job-A") {
		t.Error("IsFresh true at ttl+1s")
	}

	_, err := m.Load(ctx, "job-A")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load on stale entry: %v, want ErrNotFound", err)
	}

	// A stale Load must not delete the entry.
	stats, err := m.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Entries != 1 {
		t.Errorf("entry count after stale Load = %d, want 1", stats.Entries)
	}
}

func TestStoreOverwritesAndResetsAge(t *testing.T) {
	m, clock := newTestManager(t, time.Hour)
	ctx := context.Background()

	if _, err := m.Store(ctx, "job-A", []byte("old")); err != nil {
		t.Fatal(err)
	}

	clock.Advance(2 * time.Hour) // old entry is now stale

	if _, err := m.Store(ctx, "job-A", []byte("new")); err != nil {
		t.Fatal(err)
	}

	got, err := m.Load(ctx, "job-A")
	if err != nil {
		t.Fatalf("Load after overwrite: %v", err)
	}
	if string(got) != "new" {
		t.Errorf("loaded %q, want %q", got, "new")
	}
}

func TestLoadUpdatesAccessTime(t *testing.T) {
	m, clock := newTestManager(t, time.Hour)
	ctx := context.Background()

	if _, err := m.Store(ctx, "job-A", []byte("data")); err != nil {
		t.Fatal(err)
	}

	clock.Advance(10 * time.Minute)
	if _, err := m.Load(ctx, "job-A"); err != nil {
		t.Fatal(err)
	}

	entry, err := m.readEntry(ctx, "job-A")
	if err != nil {
		t.Fatal(err)
	}
	if !entry.LastAccessAt.After(entry.CreatedAt) {
		t.Error("LastAccessAt not advanced by Load")
	}
	if got := entry.LastAccessAt.Sub(entry.CreatedAt); got != 10*time.Minute {
		t.Errorf("access-create delta %v, want 10m", got)
	}
}

func TestCleanupExpiredRemovesOnlyStaleEntries(t *testing.T) {
	m, clock := newTestManager(t, time.Hour)
	ctx := context.Background()

	if _, err := m.Store(ctx, "old-1", []byte("a")); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Store(ctx, "old-2", []byte("bb")); err != nil {
		t.Fatal(err)
	}

	clock.Advance(2 * time.Hour)

	if _, err := m.Store(ctx, "fresh", []byte("ccc")); err != nil {
		t.Fatal(err)
	}

	removed, err := m.CleanupExpired(ctx)
	if err != nil {
		t.Fatalf("CleanupExpired: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed %d entries, want 2", removed)
	}

	if !m.IsFresh(ctx, "fresh") {
		t.Error("fresh entry removed by cleanup")
	}
	if m.IsFresh(ctx, "old-1") || m.IsFresh(ctx, "old-2") {
		t.Error("stale entry survived cleanup")
	}

	stats, err := m.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Entries != 1 {
		t.Errorf("entry count after cleanup = %d, want 1", stats.Entries)
	}

	// Idempotent: a second pass removes nothing.
	removed, err = m.CleanupExpired(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 0 {
		t.Errorf("second cleanup removed %d entries, want 0", removed)
	}
}

func TestStats(t *testing.T) {
	m, _ := newTestManager(t, time.Hour)
	ctx := context.Background()

	stats, err := m.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Entries != 0 || stats.TotalBytes != 0 {
		t.Errorf("empty cache stats = %+v", stats)
	}

	if _, err := m.Store(ctx, "a", make([]byte, 100)); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Store(ctx, "b", make([]byte, 250)); err != nil {
		t.Fatal(err)
	}

	stats, err = m.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Entries != 2 {
		t.Errorf("entries = %d, want 2", stats.Entries)
	}
	if stats.TotalBytes != 350 {
		t.Errorf("total bytes = %d, want 350", stats.TotalBytes)
	}
}
