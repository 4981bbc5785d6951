package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// ErrNotFound is returned by Load when no fresh artifact exists for a key.
// A stale entry counts as not found; it stays on disk until a cleanup pass.
var ErrNotFound = errors.New("cache: artifact not found")

const (
	artifactSuffix = ".ply"
	metaSuffix     = ".meta.json"

	// DefaultTTL is the validity window of a cache entry.
	DefaultTTL = 24 * time.Hour
)

// Entry is the persisted metadata record for one cached artifact.
type Entry struct {
	Key          string    `json:"key"`
	SizeBytes    int64     `json:"size_bytes"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessAt time.Time `json:"last_access_at"`
}

// Stats summarizes the cache contents.
type Stats struct {
	Entries    int
	TotalBytes int64
}

// Options configures a cache manager.
type Options struct {
	// TTL is the validity window after which an entry is stale.
	// Default: 24h
	TTL time.Duration

	// Clock overrides time.Now, for tests.
	Clock func() time.Time

	// Log is an optional structured logger.
	Log *zap.Logger
}

// Manager is a keyed, time-bounded store of locally materialized artifacts.
// It exclusively owns its bucket: each entry is an artifact blob plus a
// metadata record, written artifact-first so a metadata record never points
// at missing bytes.
//
// All operations serialize on an internal mutex, so a cleanup pass cannot
// remove an entry another goroutine is reading.
type Manager struct {
	bucket *blob.Bucket
	ttl    time.Duration
	now    func() time.Time
	log    *zap.Logger

	mu sync.Mutex
}

// New creates a cache manager over bucket. The caller retains ownership of
// the bucket handle and closes it after the manager is no longer used.
func New(bucket *blob.Bucket, opts Options) *Manager {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	return &Manager{
		bucket: bucket,
		ttl:    opts.TTL,
		now:    opts.Clock,
		log:    opts.Log,
	}
}

// IsFresh reports whether a non-expired entry exists for key.
func (m *Manager) IsFresh(ctx context.Context, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, err := m.readEntry(ctx, key)
	if err != nil {
		return false
	}
	return m.fresh(entry)
}

// Load returns the cached artifact for key if a fresh entry exists, and
// records the access time. A stale or missing entry yields ErrNotFound;
// stale entries are not deleted here.
func (m *Manager) Load(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, err := m.readEntry(ctx, key)
	if err != nil {
		return nil, err
	}
	if !m.fresh(entry) {
		return nil, fmt.Errorf("%w: entry for %q expired", ErrNotFound, key)
	}

	data, err := m.bucket.ReadAll(ctx, key+artifactSuffix)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, key)
		}
		return nil, fmt.Errorf("cache: read %q: %w", key, err)
	}

	entry.LastAccessAt = m.now()
	if err := m.writeEntry(ctx, entry); err != nil {
		// Access-time bookkeeping must not fail the hit.
		m.log.Warn("cache: update last access time", zap.String("key", key), zap.Error(err))
	}

	return data, nil
}

// Store writes the artifact under key, overwriting any prior entry, and
// returns the new metadata record with CreatedAt set to now.
func (m *Manager) Store(ctx context.Context, key string, data []byte) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// The blob writer stages to a temporary object and only installs it on
	// Close, so a concurrent reader never observes a torn artifact.
	w, err := m.bucket.NewWriter(ctx, key+artifactSuffix, nil)
	if err != nil {
		return Entry{}, fmt.Errorf("cache: store %q: %w", key, err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return Entry{}, fmt.Errorf("cache: store %q: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return Entry{}, fmt.Errorf("cache: store %q: %w", key, err)
	}

	now := m.now()
	entry := Entry{
		Key:          key,
		SizeBytes:    int64(len(data)),
		CreatedAt:    now,
		LastAccessAt: now,
	}
	if err := m.writeEntry(ctx, entry); err != nil {
		return Entry{}, fmt.Errorf("cache: store %q: %w", key, err)
	}

	m.log.Info("cache: stored artifact",
		zap.String("key", key),
		zap.Int64("bytes", entry.SizeBytes),
	)
	return entry, nil
}

// CleanupExpired deletes every expired entry and returns how many were
// removed. It holds the manager lock, so it never races a Load in progress.
func (m *Manager) CleanupExpired(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	iter := m.bucket.List(&blob.ListOptions{})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return removed, fmt.Errorf("cache: list entries: %w", err)
		}
		if !strings.HasSuffix(obj.Key, metaSuffix) {
			continue
		}

		key := strings.TrimSuffix(obj.Key, metaSuffix)
		entry, err := m.readEntry(ctx, key)
		if err != nil {
			continue
		}
		if m.fresh(entry) {
			continue
		}

		if err := m.bucket.Delete(ctx, key+artifactSuffix); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
			return removed, fmt.Errorf("cache: delete %q: %w", key, err)
		}
		if err := m.bucket.Delete(ctx, key+metaSuffix); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
			return removed, fmt.Errorf("cache: delete %q: %w", key, err)
		}
		removed++
		m.log.Info("cache: removed expired entry", zap.String("key", key))
	}

	return removed, nil
}

// Stats returns the number of cached artifacts and their total size,
// expired entries included.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stats Stats
	iter := m.bucket.List(&blob.ListOptions{})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("cache: list entries: %w", err)
		}
		if !strings.HasSuffix(obj.Key, artifactSuffix) {
			continue
		}
		stats.Entries++
		stats.TotalBytes += obj.Size
	}

	return stats, nil
}

func (m *Manager) fresh(entry Entry) bool {
	return m.now().Sub(entry.CreatedAt) <= m.ttl
}

func (m *Manager) readEntry(ctx context.Context, key string) (Entry, error) {
	data, err := m.bucket.ReadAll(ctx, key+metaSuffix)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return Entry{}, fmt.Errorf("%w: %q", ErrNotFound, key)
		}
		return Entry{}, fmt.Errorf("cache: read entry %q: %w", key, err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return Entry{}, fmt.Errorf("cache: decode entry %q: %w", key, err)
	}
	return entry, nil
}

func (m *Manager) writeEntry(ctx context.Context, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	w, err := m.bucket.NewWriter(ctx, entry.Key+metaSuffix, nil)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
