package main

import (
	"flag"
	"fmt"
	"os"

	"gocloud.dev/blob/fileblob"

	"github.com/plyfetch/plyfetch/internal/cache"
	"github.com/plyfetch/plyfetch/internal/logging"
	"github.com/plyfetch/plyfetch/internal/progress"
)

func runCache(args []string) int {
	if len(args) == 0 {
		printCacheUsage()
		return ExitInvalidArgs
	}

	sub := args[0]
	subArgs := args[1:]

	switch sub {
	case "stats":
		return runCacheStats(subArgs)
	case "clean":
		return runCacheClean(subArgs)
	case "help", "-h", "--help":
		printCacheUsage()
		return ExitSuccess
	default:
		fmt.Fprintf(os.Stderr, "Unknown cache command: %s\n", sub)
		printCacheUsage()
		return ExitInvalidArgs
	}
}

func printCacheUsage() {
	fmt.Fprintln(os.Stderr, `Usage: plyfetch cache <command> [options]

Commands:
  stats   Print cache entry count and total size
  clean   Delete expired cache entries`)
}

func runCacheStats(args []string) int {
	fs := flag.NewFlagSet("cache stats", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to YAML configuration file")
	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	mgr, closeMgr, ret := openCache(*configPath)
	if mgr == nil {
		return ret
	}
	defer closeMgr()

	ctx, cancel := signalContext()
	defer cancel()

	stats, err := mgr.Stats(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitCacheError
	}

	fmt.Printf("[plyfetch] Cache: %d artifact(s), %s\n",
		stats.Entries, progress.FormatBytes(stats.TotalBytes))
	return ExitSuccess
}

func runCacheClean(args []string) int {
	fs := flag.NewFlagSet("cache clean", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to YAML configuration file")
	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	mgr, closeMgr, ret := openCache(*configPath)
	if mgr == nil {
		return ret
	}
	defer closeMgr()

	ctx, cancel := signalContext()
	defer cancel()

	removed, err := mgr.CleanupExpired(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitCacheError
	}

	fmt.Printf("[plyfetch] Removed %d expired cache entr(ies)\n", removed)
	return ExitSuccess
}

// openCache builds a cache manager from config. On failure it returns a
// nil manager and the exit code to use.
func openCache(configPath string) (*cache.Manager, func(), int) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return nil, nil, ExitInvalidArgs
	}
	if cfg.CacheDir == "" {
		fmt.Fprintln(os.Stderr, "Error: config: cache_dir is required")
		return nil, nil, ExitInvalidArgs
	}

	log := logging.New("plyfetch", cfg.LogLevel)

	bucket, err := fileblob.OpenBucket(cfg.CacheDir, &fileblob.Options{CreateDir: true})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening cache dir: %v\n", err)
		return nil, nil, ExitCacheError
	}

	mgr := cache.New(bucket, cache.Options{TTL: cfg.CacheTTL, Log: log})
	return mgr, func() { bucket.Close(); log.Sync() }, ExitSuccess
}
