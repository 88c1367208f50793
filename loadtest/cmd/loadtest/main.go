// Package main is the entry point for the guardian load test binary.
// It provides subcommands for different load testing scenarios:
//
//   - check: Moderation throughput test over NATS
//   - feed:  Activity feed subscriber
//
// Usage:
//
//	loadtest <command> [options]
package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "check":
		runCheck(os.Args[2:])
	case "feed":
		runFeed(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: loadtest <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  check       Moderation throughput test — publishes checks over NATS and measures decision latency")
	fmt.Println("  feed        Activity feed subscriber — streams decision events from the admin WebSocket")
	fmt.Println()
	fmt.Println("Run 'loadtest <command> -h' for command-specific options.")
}
