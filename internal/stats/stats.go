// Package stats tracks completed moderation decisions for operational
// introspection. A single Collector owns all counters, a bounded ring of
// recent decisions, and a per-hour activity table, and derives a coarse
// health classification from error rate and average latency.
package stats

import (
	"sort"
	"sync"
	"time"

	"github.com/kidsafe/guardian/internal/moderation"
)

// MaxRecentEntries is the number of recent decisions retained in the ring.
const MaxRecentEntries = 10000

// maxHourlyBuckets bounds the per-hour activity table.
const maxHourlyBuckets = 24

// hourlyKeyFormat renders bucket keys that sort chronologically.
const hourlyKeyFormat = "2006-01-02 15:00"

// Health thresholds. Crossing the unhealthy pair reports "unhealthy",
// crossing only the warn pair reports "warning".
const (
	warnErrorRate      = 0.01
	unhealthyErrorRate = 0.05

	warnAvgLatency      = 500 * time.Millisecond
	unhealthyAvgLatency = time.Second
)

// Health classifications.
const (
	HealthHealthy   = "healthy"
	HealthWarning   = "warning"
	HealthUnhealthy = "unhealthy"
)

// Entry records one completed moderation decision.
type Entry struct {
	Timestamp     time.Time             `json:"timestamp"`
	UserID        string                `json:"user_id,omitempty"`
	ContentLength int                   `json:"content_length"`
	Safe          bool                  `json:"safe"`
	Severity      moderation.Severity   `json:"severity"`
	Categories    []moderation.Category `json:"categories,omitempty"`
	Confidence    float64               `json:"confidence"`
	Latency       time.Duration         `json:"latency_ns"`
}

// Snapshot is a point-in-time copy of the collector's aggregates.
type Snapshot struct {
	TotalChecks  int64            `json:"total_checks"`
	SafeCount    int64            `json:"safe_count"`
	BlockedCount int64            `json:"blocked_count"`
	Failures     int64            `json:"failures"`
	ErrorRate    float64          `json:"error_rate"`
	AvgLatencyMS float64          `json:"avg_latency_ms"`
	ByCategory   map[string]int64 `json:"by_category"`
	BySeverity   map[string]int64 `json:"by_severity"`
	Hourly       map[string]int64 `json:"hourly"`
	Health       string           `json:"health"`
	UptimeSec    int64            `json:"uptime_seconds"`
}

// Collector aggregates decision outcomes. All methods are goroutine-safe;
// read-only operations never mutate state.
type Collector struct {
	mu           sync.RWMutex
	total        int64
	safe         int64
	blocked      int64
	failures     int64
	totalLatency time.Duration
	byCategory   map[moderation.Category]int64
	bySeverity   map[moderation.Severity]int64
	hourly       map[string]int64
	ring         ringBuffer
	startTime    time.Time
}

// ringBuffer is a fixed-size circular buffer of Entry.
type ringBuffer struct {
	items []Entry
	pos   int
	count int
}

// NewCollector creates an empty Collector with the start time set to now.
func NewCollector() *Collector {
	return &Collector{
		byCategory: make(map[moderation.Category]int64),
		bySeverity: make(map[moderation.Severity]int64),
		hourly:     make(map[string]int64),
		ring:       ringBuffer{items: make([]Entry, MaxRecentEntries)},
		startTime:  time.Now(),
	}
}

// Record stores one completed decision. This is the only entry point that
// updates the success-path aggregates.
func (c *Collector) Record(e Entry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.total++
	if e.Safe {
		c.safe++
	} else {
		c.blocked++
	}
	c.totalLatency += e.Latency

	c.bySeverity[e.Severity]++
	for _, cat := range e.Categories {
		c.byCategory[cat]++
	}

	c.bumpHourLocked(e.Timestamp)

	c.ring.items[c.ring.pos] = e
	c.ring.pos = (c.ring.pos + 1) % MaxRecentEntries
	if c.ring.count < MaxRecentEntries {
		c.ring.count++
	}
}

// RecordFailure counts a pipeline run that ended in the failure state.
// Failed runs contribute to the error rate but not to latency or
// category tallies.
func (c *Collector) RecordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.total++
	c.failures++
	c.bumpHourLocked(time.Now())
}

// bumpHourLocked increments the activity bucket for ts and prunes the
// oldest buckets once the table exceeds its bound. Keys sort
// chronologically, so the lexically smallest keys are the oldest hours.
func (c *Collector) bumpHourLocked(ts time.Time) {
	key := ts.Format(hourlyKeyFormat)
	c.hourly[key]++

	if len(c.hourly) <= maxHourlyBuckets {
		return
	}
	keys := make([]string, 0, len(c.hourly))
	for k := range c.hourly {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys[:len(keys)-maxHourlyBuckets] {
		delete(c.hourly, k)
	}
}

// Snapshot returns a copy of all aggregates.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		TotalChecks:  c.total,
		SafeCount:    c.safe,
		BlockedCount: c.blocked,
		Failures:     c.failures,
		ErrorRate:    c.errorRateLocked(),
		AvgLatencyMS: c.avgLatencyLocked().Seconds() * 1000,
		ByCategory:   make(map[string]int64, len(c.byCategory)),
		BySeverity:   make(map[string]int64, len(c.bySeverity)),
		Hourly:       make(map[string]int64, len(c.hourly)),
		Health:       c.healthLocked(),
		UptimeSec:    int64(time.Since(c.startTime).Seconds()),
	}
	for cat, n := range c.byCategory {
		s.ByCategory[string(cat)] = n
	}
	for sev, n := range c.bySeverity {
		s.BySeverity[sev.String()] = n
	}
	for k, n := range c.hourly {
		s.Hourly[k] = n
	}
	return s
}

// Recent returns up to n of the most recent decisions, oldest first.
// n <= 0 returns everything retained.
func (c *Collector) Recent(n int) []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	count := c.ring.count
	if n > 0 && n < count {
		count = n
	}

	out := make([]Entry, count)
	// The oldest wanted entry sits count slots behind the write position.
	start := (c.ring.pos - count + MaxRecentEntries) % MaxRecentEntries
	for i := 0; i < count; i++ {
		out[i] = c.ring.items[(start+i)%MaxRecentEntries]
	}
	return out
}

// Health classifies current operation as healthy, warning, or unhealthy.
func (c *Collector) Health() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.healthLocked()
}

func (c *Collector) healthLocked() string {
	rate := c.errorRateLocked()
	avg := c.avgLatencyLocked()

	switch {
	case rate > unhealthyErrorRate || avg > unhealthyAvgLatency:
		return HealthUnhealthy
	case rate > warnErrorRate || avg > warnAvgLatency:
		return HealthWarning
	default:
		return HealthHealthy
	}
}

func (c *Collector) errorRateLocked() float64 {
	if c.total == 0 {
		return 0
	}
	return float64(c.failures) / float64(c.total)
}

func (c *Collector) avgLatencyLocked() time.Duration {
	recorded := c.total - c.failures
	if recorded == 0 {
		return 0
	}
	return c.totalLatency / time.Duration(recorded)
}

// Reset discards all counters, tallies, and retained entries, and restarts
// the uptime clock.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.total = 0
	c.safe = 0
	c.blocked = 0
	c.failures = 0
	c.totalLatency = 0
	c.byCategory = make(map[moderation.Category]int64)
	c.bySeverity = make(map[moderation.Severity]int64)
	c.hourly = make(map[string]int64)
	c.ring = ringBuffer{items: make([]Entry, MaxRecentEntries)}
	c.startTime = time.Now()
}
