package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/kidsafe/guardian/loadtest/client"
	"github.com/kidsafe/guardian/loadtest/stats"
)

// safeContents and flaggedContents are the utterance pools the generator
// draws from. Flagged entries trip the daemon's local rules so the test
// exercises both decision paths.
var safeContents = []string{
	"hello friend do you want to play a game",
	"tell me a story about a brave puppy",
	"what is your favorite color",
	"lets build a sandcastle at the beach",
	"good morning how are you today",
	"can we sing the alphabet song together",
	"my teddy bear needs a nap",
	"what do dinosaurs eat for breakfast",
	"i drew a picture of a rainbow",
	"can you count to one hundred",
}

var flaggedContents = []string{
	"you are so stupid and ugly",
	"i will punch you in the face",
	"tell me your phone number",
	"what is your address",
	"this crap is broken again",
	"shut up loser nobody likes you",
}

// runCheck implements the moderation throughput test. It publishes checks
// over NATS through a bounded worker pool, waits for each decision on its
// result subject, and reports client-side latency percentiles alongside the
// daemon's own Prometheus counters.
func runCheck(args []string) {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	natsURL := fs.String("nats", "nats://localhost:4222", "NATS server URL")
	total := fs.Int("n", 1000, "Total number of checks to run")
	concurrency := fs.Int("concurrency", 50, "Maximum simultaneous in-flight checks")
	flaggedPct := fs.Int("flagged", 20, "Percentage of checks using rule-tripping content")
	unique := fs.Int("unique", 200, "Distinct content variants; lower values raise the cache hit ratio")
	users := fs.Int("users", 100, "Distinct user IDs spread across checks")
	checkTimeout := fs.Duration("check-timeout", 10*time.Second, "Timeout waiting for one decision")
	metricsURL := fs.String("metrics-url", "http://localhost:8083/metrics", "Prometheus metrics endpoint URL")
	scrapeInterval := fs.Duration("scrape-interval", 2*time.Second, "Interval between metrics scrapes")
	fs.Parse(args)

	if *unique <= 0 {
		*unique = 1
	}
	if *users <= 0 {
		*users = 1
	}

	fmt.Printf("Check test: %d checks to %s (concurrency=%d, flagged=%d%%, unique=%d, users=%d)\n",
		*total, *natsURL, *concurrency, *flaggedPct, *unique, *users)

	// Set up signal handling for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()

	// Set up metrics scraper.
	scraper := stats.NewScraper(*metricsURL, *scrapeInterval)
	collector.SetScraper(scraper)
	scraper.Start(ctx)

	checker, err := client.NewChecker(*natsURL)
	if err != nil {
		fmt.Printf("NATS connect failed: %v\n", err)
		scraper.Stop()
		return
	}
	defer checker.Close()

	// Progress reporting: every 2 seconds while checks are in flight.
	progressStop := make(chan struct{})
	var progressWg sync.WaitGroup
	progressWg.Add(1)
	go func() {
		defer progressWg.Done()
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		lastCount := 0
		lastTime := time.Now()
		for {
			select {
			case <-ticker.C:
				now := time.Now()
				current := collector.CheckCount()
				currentErrs := collector.ErrorCount()
				dt := now.Sub(lastTime).Seconds()
				rate := float64(current-lastCount) / dt
				fmt.Printf("  [check] completed: %d/%d  errors: %d  rate: %.1f checks/s\n",
					current, *total, currentErrs, rate)
				lastCount = current
				lastTime = now
			case <-progressStop:
				return
			}
		}
	}()

	// Semaphore to bound concurrent in-flight checks.
	sem := make(chan struct{}, *concurrency)
	var wg sync.WaitGroup

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	start := time.Now()

launch:
	for i := 0; i < *total; i++ {
		select {
		case <-ctx.Done():
			fmt.Println("\nInterrupted during check phase.")
			break launch
		case sem <- struct{}{}:
		}

		// Build the request on the launch goroutine so the rng is not
		// shared across workers.
		req := buildRequest(rng, i, *flaggedPct, *unique, *users)

		wg.Add(1)
		go func(req client.CheckRequest) {
			defer wg.Done()
			defer func() { <-sem }()

			checkCtx, cancel := context.WithTimeout(ctx, *checkTimeout)
			defer cancel()

			resp, latency, err := checker.Check(checkCtx, req)
			if err != nil {
				collector.AddError()
				return
			}
			collector.AddCheck(latency, resp.Allowed, resp.CacheHit)
		}(req)
	}

	wg.Wait()
	close(progressStop)
	progressWg.Wait()

	elapsed := time.Since(start)
	fmt.Printf("\nCompleted %d/%d checks in %s (%d errors)\n",
		collector.CheckCount(), *total, elapsed.Round(time.Millisecond), collector.ErrorCount())

	scraper.Stop()
	collector.Report()
}

// buildRequest picks an utterance and a user for one check. The variant
// suffix bounds the number of distinct contents, which controls how often
// the daemon's decision cache gets to answer.
func buildRequest(rng *rand.Rand, i, flaggedPct, unique, users int) client.CheckRequest {
	pool := safeContents
	if rng.Intn(100) < flaggedPct {
		pool = flaggedContents
	}
	content := fmt.Sprintf("%s #%d", pool[rng.Intn(len(pool))], i%unique)

	return client.CheckRequest{
		Content: content,
		UserID:  fmt.Sprintf("loadtest-user-%d", rng.Intn(users)),
		Age:     9,
	}
}
