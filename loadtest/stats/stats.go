// Package stats provides a goroutine-safe metrics collector that aggregates
// decision outcomes from many load test workers and prints a summary report
// with percentile distributions, optionally joined by server-side Prometheus
// metrics from an attached Scraper.
package stats

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

// Collector aggregates check outcomes from load test workers. All methods
// are goroutine-safe and can be called concurrently from many worker
// goroutines.
type Collector struct {
	mu        sync.Mutex
	latencies []time.Duration
	checks    int
	allowed   int
	blocked   int
	cacheHits int
	errors    int
	startTime time.Time
	scraper   *Scraper
}

// NewCollector creates a new Collector with the start time set to now.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// SetScraper attaches a Prometheus metrics scraper to this collector. When
// set, Report() will also print server-side metrics collected by the scraper.
func (c *Collector) SetScraper(s *Scraper) {
	c.mu.Lock()
	c.scraper = s
	c.mu.Unlock()
}

// AddCheck records one completed check round trip.
func (c *Collector) AddCheck(d time.Duration, allowed, cacheHit bool) {
	c.mu.Lock()
	c.latencies = append(c.latencies, d)
	c.checks++
	if allowed {
		c.allowed++
	} else {
		c.blocked++
	}
	if cacheHit {
		c.cacheHits++
	}
	c.mu.Unlock()
}

// AddError increments the error counter.
func (c *Collector) AddError() {
	c.mu.Lock()
	c.errors++
	c.mu.Unlock()
}

// CheckCount returns the current number of completed checks.
func (c *Collector) CheckCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.checks
}

// ErrorCount returns the current number of recorded errors.
func (c *Collector) ErrorCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errors
}

// Report prints a formatted summary of the collected metrics to stdout,
// including total duration, outcome counts, throughput, and the percentile
// distribution of decision round-trip latency.
func (c *Collector) Report() {
	c.mu.Lock()
	defer c.mu.Unlock()

	elapsed := time.Since(c.startTime)

	fmt.Println("\n=== Load Test Results ===")
	fmt.Printf("Duration:     %s\n", elapsed.Round(time.Second))
	fmt.Printf("Checks:       %d\n", c.checks)
	fmt.Printf("  allowed:    %d\n", c.allowed)
	fmt.Printf("  blocked:    %d\n", c.blocked)
	fmt.Printf("  cache hits: %d\n", c.cacheHits)
	fmt.Printf("Errors:       %d\n", c.errors)

	if c.checks > 0 {
		errorRate := float64(c.errors) / float64(c.checks+c.errors) * 100
		fmt.Printf("Error rate:   %.2f%%\n", errorRate)
	}
	if elapsed.Seconds() > 0 {
		fmt.Printf("Throughput:   %.1f checks/s\n", float64(c.checks)/elapsed.Seconds())
	}

	if len(c.latencies) > 0 {
		fmt.Println("\n--- Decision Latency (round trip) ---")
		printPercentiles(c.latencies)
	}

	if c.scraper != nil {
		c.scraper.Report()
	}

	fmt.Println()
}

// printPercentiles sorts the given durations and prints avg, p50, p95, p99,
// and max values along with the sample count.
func printPercentiles(durations []time.Duration) {
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	n := len(durations)
	p50 := durations[n/2]
	p95 := durations[int(math.Ceil(float64(n)*0.95))-1]
	p99 := durations[int(math.Ceil(float64(n)*0.99))-1]

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}
	avg := sum / time.Duration(n)

	fmt.Printf("  avg: %v  p50: %v  p95: %v  p99: %v  max: %v  (n=%d)\n",
		avg.Round(time.Microsecond),
		p50.Round(time.Microsecond),
		p95.Round(time.Microsecond),
		p99.Round(time.Microsecond),
		durations[n-1].Round(time.Microsecond),
		n,
	)
}
