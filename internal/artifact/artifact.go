// Package artifact orchestrates one end-to-end artifact request: cache
// check, manifest resolution, parallel transfer, cache store, in that
// order. Cache failures degrade to "no caching" rather than failing an
// otherwise successful transfer.
package artifact

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/plyfetch/plyfetch/internal/api"
	"github.com/plyfetch/plyfetch/internal/cache"
	"github.com/plyfetch/plyfetch/internal/progress"
	"github.com/plyfetch/plyfetch/internal/transfer"
)

// Service resolves job identifiers to complete local artifacts.
type Service struct {
	API      *api.Client
	Cache    *cache.Manager
	Transfer transfer.Options
	Log      *zap.Logger

	// Progress enables a console progress reporter per transfer.
	Progress bool
}

// Result is a completed artifact request.
type Result struct {
	JobID    string
	Filename string
	Data     []byte

	// FromCache is true when the artifact was served without any network
	// access.
	FromCache bool

	// Stats is nil on cache hits.
	Stats *transfer.Stats
}

// Get returns the complete artifact for jobID, from cache when a fresh
// entry exists, otherwise via a parallel chunked transfer. A failed
// transfer yields no partial artifact and no cache entry.
func (s *Service) Get(ctx context.Context, jobID string) (*Result, error) {
	log := s.logger()

	if s.Cache != nil {
		data, err := s.Cache.Load(ctx, jobID)
		if err == nil {
			log.Info("cache hit", zap.String("job_id", jobID), zap.Int("bytes", len(data)))
			return &Result{JobID: jobID, Data: data, FromCache: true}, nil
		}
		if !errors.Is(err, cache.ErrNotFound) {
			// Cache trouble is not fatal; fall through to the network.
			log.Warn("cache load failed", zap.String("job_id", jobID), zap.Error(err))
		}
	}

	manifest, err := s.API.ResolveManifest(ctx, jobID)
	if err != nil {
		return nil, err
	}

	dest := transfer.NewBuffer(manifest.TotalSize)
	opts := s.Transfer
	opts.Log = log
	if s.Progress {
		reporter := progress.NewReporter(progress.Options{
			TotalSize:   manifest.TotalSize,
			TotalChunks: manifest.ChunkCount,
			Workers:     opts.Concurrency,
			JobID:       jobID,
		})
		reporter.Start()
		defer reporter.Stop()
		opts.Progress = reporter
	}

	stats, err := transfer.Transfer(ctx, s.API, manifest, dest, opts)
	if err != nil {
		return nil, err
	}

	data := dest.Bytes()
	if s.Cache != nil {
		if _, err := s.Cache.Store(ctx, jobID, data); err != nil {
			log.Warn("cache store failed, artifact not cached",
				zap.String("job_id", jobID), zap.Error(err))
		}
	}

	return &Result{
		JobID:    jobID,
		Filename: manifest.Filename,
		Data:     data,
		Stats:    stats,
	}, nil
}

// Submit uploads an image for inference and returns the job identifier the
// artifact will be fetchable under.
func (s *Service) Submit(ctx context.Context, imagePath string) (string, error) {
	jobID, err := s.API.SubmitImage(ctx, imagePath)
	if err != nil {
		return "", fmt.Errorf("submit %s: %w", imagePath, err)
	}
	s.logger().Info("job submitted", zap.String("job_id", jobID), zap.String("image", imagePath))
	return jobID, nil
}

func (s *Service) logger() *zap.Logger {
	if s.Log != nil {
		return s.Log
	}
	return zap.NewNop()
}
