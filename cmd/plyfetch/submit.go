package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/plyfetch/plyfetch/internal/api"
	"github.com/plyfetch/plyfetch/internal/config"
	"github.com/plyfetch/plyfetch/internal/logging"
)

func runSubmit(args []string) int {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)

	image := fs.String("image", "", "Image file to submit for inference (required)")
	configPath := fs.String("config", "", "Path to YAML configuration file")
	server := fs.String("server", "", "Compute server URL (overrides config)")
	fetch := fs.Bool("fetch", false, "Fetch the artifact once the job id is known")
	output := fs.String("output", "", "Output file path when -fetch is set")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: plyfetch submit [options]

Upload an image to the compute server for inference and print the job id
the resulting point-cloud artifact will be fetchable under. With -fetch,
immediately download the artifact as well.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	if *image == "" {
		fmt.Fprintln(os.Stderr, "Error: -image is required")
		fs.Usage()
		return ExitInvalidArgs
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}
	cfg = cfg.Merge(config.Config{ServerURL: *server})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	ctx, cancel := signalContext()
	defer cancel()

	log := logging.New("plyfetch", cfg.LogLevel)
	defer log.Sync()

	svc, closeSvc, err := buildService(cfg, log, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitCacheError
	}
	defer closeSvc()

	jobID, err := svc.Submit(ctx, *image)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, api.ErrServerError) {
			return ExitServerError
		}
		return ExitGeneralError
	}

	fmt.Println(jobID)

	if !*fetch {
		return ExitSuccess
	}

	fetchArgs := []string{"-job", jobID}
	if *configPath != "" {
		fetchArgs = append(fetchArgs, "-config", *configPath)
	}
	if *server != "" {
		fetchArgs = append(fetchArgs, "-server", *server)
	}
	if *output != "" {
		fetchArgs = append(fetchArgs, "-output", *output)
	}
	return runFetch(fetchArgs)
}
