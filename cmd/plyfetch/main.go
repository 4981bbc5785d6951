package main

import (
	"fmt"
	"os"
)

// Exit codes
const (
	ExitSuccess        = 0
	ExitGeneralError   = 1
	ExitInvalidArgs    = 2
	ExitServerError    = 3
	ExitTransferFailed = 4
	ExitCacheError     = 5
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return ExitInvalidArgs
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "fetch":
		return runFetch(cmdArgs)
	case "submit":
		return runSubmit(cmdArgs)
	case "cache":
		return runCache(cmdArgs)
	case "help", "-h", "--help":
		printUsage()
		return ExitSuccess
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		return ExitInvalidArgs
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: plyfetch <command> [options]

Commands:
  fetch     Fetch a job's point-cloud artifact in parallel chunks (cache-aware)
  submit    Upload an image for inference and print the resulting job id
  cache     Inspect or clean the local artifact cache

Run 'plyfetch <command> -h' for command-specific help.`)
}
