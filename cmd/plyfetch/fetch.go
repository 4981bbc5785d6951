package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"gocloud.dev/blob/fileblob"

	"github.com/plyfetch/plyfetch/internal/api"
	"github.com/plyfetch/plyfetch/internal/artifact"
	"github.com/plyfetch/plyfetch/internal/cache"
	"github.com/plyfetch/plyfetch/internal/config"
	"github.com/plyfetch/plyfetch/internal/logging"
	"github.com/plyfetch/plyfetch/internal/transfer"
)

func runFetch(args []string) int {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)

	jobID := fs.String("job", "", "Job identifier to fetch (required)")
	output := fs.String("output", "", "Output file path (default: the manifest filename)")
	configPath := fs.String("config", "", "Path to YAML configuration file")
	server := fs.String("server", "", "Compute server URL (overrides config)")
	concurrency := fs.Int("concurrency", 0, "Parallel chunk fetches (overrides config)")
	noCache := fs.Bool("no-cache", false, "Bypass the local cache for this fetch")
	progressFlag := fs.Bool("progress", false, "Show transfer progress")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: plyfetch fetch [options]

Fetch a job's point-cloud artifact from the compute server in parallel
chunks and write it to a local file. Fresh cached artifacts are served
without touching the network.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	if *jobID == "" {
		fmt.Fprintln(os.Stderr, "Error: -job is required")
		fs.Usage()
		return ExitInvalidArgs
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}
	cfg = cfg.Merge(config.Config{
		ServerURL:   *server,
		Concurrency: *concurrency,
		Progress:    *progressFlag,
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	ctx, cancel := signalContext()
	defer cancel()

	log := logging.New("plyfetch", cfg.LogLevel)
	defer log.Sync()

	svc, closeSvc, err := buildService(cfg, log, !*noCache)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitCacheError
	}
	defer closeSvc()

	// Opportunistic sweep so stale artifacts don't pile up across runs.
	if svc.Cache != nil {
		if removed, err := svc.Cache.CleanupExpired(ctx); err != nil {
			log.Warn("cache cleanup failed", zap.Error(err))
		} else if removed > 0 {
			log.Info("removed expired cache entries", zap.Int("count", removed))
		}
	}

	res, err := svc.Get(ctx, *jobID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var me *api.ManifestError
		if errors.As(err, &me) {
			return ExitServerError
		}
		return ExitTransferFailed
	}

	path := *output
	if path == "" {
		path = res.Filename
	}
	if path == "" {
		path = res.JobID + ".ply"
	}

	if err := os.WriteFile(path, res.Data, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing output: %v\n", err)
		return ExitGeneralError
	}

	source := "server"
	if res.FromCache {
		source = "cache"
	}
	fmt.Fprintf(os.Stderr, "[plyfetch] Wrote %d bytes to %s (from %s)\n", len(res.Data), path, source)
	return ExitSuccess
}

// loadConfig layers defaults, the optional YAML file and the environment.
func loadConfig(path string) (config.Config, error) {
	cfg := config.Default()
	if path != "" {
		fileCfg, err := config.LoadFromFile(path)
		if err != nil {
			return config.Config{}, err
		}
		cfg = fileCfg
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// buildService wires the API client, cache manager and transfer options
// into an artifact service. The returned func releases the cache bucket.
func buildService(cfg config.Config, log *zap.Logger, withCache bool) (*artifact.Service, func(), error) {
	svc := &artifact.Service{
		API: api.NewClient(api.Options{
			BaseURL:      cfg.ServerURL,
			ChunkTimeout: cfg.ChunkTimeout,
		}),
		Transfer: transfer.Options{
			Concurrency:     cfg.Concurrency,
			MaxRetries:      cfg.Retry.Attempts,
			RetryBackoff:    cfg.Retry.Backoff,
			RetryMaxBackoff: cfg.Retry.MaxBackoff,
			SessionTimeout:  cfg.SessionTimeout,
		},
		Log:      log,
		Progress: cfg.Progress,
	}

	closeFn := func() {}
	if withCache {
		bucket, err := fileblob.OpenBucket(cfg.CacheDir, &fileblob.Options{CreateDir: true})
		if err != nil {
			return nil, nil, fmt.Errorf("open cache dir %s: %w", cfg.CacheDir, err)
		}
		svc.Cache = cache.New(bucket, cache.Options{TTL: cfg.CacheTTL, Log: log})
		closeFn = func() { bucket.Close() }
	}

	return svc, closeFn, nil
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\n[plyfetch] Received interrupt, shutting down...")
		cancel()
	}()

	return ctx, cancel
}
