package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/kidsafe/guardian/loadtest/client"
)

// runFeed tails the daemon's activity feed WebSocket and prints one line per
// decision event. Useful alongside a running check test to watch decisions
// stream out in real time.
func runFeed(args []string) {
	fs := flag.NewFlagSet("feed", flag.ExitOnError)
	feedURL := fs.String("url", "ws://localhost:8083/v1/activity", "Activity feed WebSocket URL")
	count := fs.Int("n", 0, "Number of events to read before exiting (0 = run until interrupted)")
	readTimeout := fs.Duration("read-timeout", 0, "Give up if no event arrives within this window (0 = wait forever)")
	quiet := fs.Bool("quiet", false, "Suppress per-event lines, print only the summary")
	fs.Parse(args)

	// Set up signal handling for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Feed test: subscribing to %s\n", *feedURL)

	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	feed, err := client.DialFeed(dialCtx, *feedURL)
	cancel()
	if err != nil {
		fmt.Printf("feed dial failed: %v\n", err)
		return
	}
	defer feed.Close()

	// Close the socket when the signal fires so a blocking read returns.
	go func() {
		<-ctx.Done()
		feed.Close()
	}()

	var events, blocked, cacheHits int
	start := time.Now()

	for *count == 0 || events < *count {
		ev, err := feed.Next(*readTimeout)
		if err != nil {
			if ctx.Err() != nil {
				fmt.Println("\nInterrupted.")
			} else {
				fmt.Printf("\nfeed read failed: %v\n", err)
			}
			break
		}

		events++
		if !ev.Allowed {
			blocked++
		}
		if ev.CacheHit {
			cacheHits++
		}

		if !*quiet {
			verdict := "ALLOWED"
			if !ev.Allowed {
				verdict = "BLOCKED"
			}
			fmt.Printf("  [%s] user=%s session=%s severity=%s latency=%dms cache_hit=%v categories=%v\n",
				verdict, ev.UserID, ev.SessionID, ev.Severity, ev.LatencyMS, ev.CacheHit, ev.Categories)
		}
	}

	elapsed := time.Since(start)
	fmt.Println("\n========== Feed Results ==========")
	fmt.Printf("Duration:     %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("Events:       %d (%d blocked, %d cache hits)\n", events, blocked, cacheHits)
	if elapsed.Seconds() > 0 && events > 0 {
		fmt.Printf("Event rate:   %.1f events/s\n", float64(events)/elapsed.Seconds())
	}
}
