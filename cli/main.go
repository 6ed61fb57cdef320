package main

import (
	"fmt"
	"os"

	"clipsync/config"
	"clipsync/internal/logging"
)

// Exit codes.
const (
	exitOK     = 0
	exitError  = 1
	exitUsage  = 2
	exitLocked = 3
	exitQuota  = 4
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitUsage)
	}

	command := os.Args[1]
	args := os.Args[2:]

	var code int
	switch command {
	case "run":
		code = cmdRun(args)
	case "queue":
		code = cmdQueue(args)
	case "status":
		code = cmdStatus(args)
	case "prune":
		code = cmdPrune(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n\n", command)
		printUsage()
		code = exitUsage
	}
	os.Exit(code)
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `clipsync - publish the best Twitch clips to YouTube

Usage:
  clipsync run [flags]                    Fetch, rank, deduplicate and publish
  clipsync queue [flags] <source> <clip>  Queue a clip URL or ID for the next run
  clipsync status [flags]                 Show per-source state and the manual queue
  clipsync prune [flags]                  Delete records older than the retention window
  clipsync help                           Show this help message

Examples:
  clipsync run --dry-run
  clipsync queue streamer https://clips.twitch.tv/AwkwardHelplessSalamanderSwiftRage
  clipsync prune --older-than 2160h

Exit codes:
  0 success, 1 error, 3 another run is active, 4 halted by quota

For help on specific command: clipsync <command> -h
`)
}

// loadConfig loads the config and builds the logger every command uses.
func loadConfig(path string) (*config.Config, *logging.Logger, bool) {
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return nil, nil, false
	}
	return cfg, logging.New(os.Stderr, logging.ParseLevel(cfg.LogLevel)), true
}
