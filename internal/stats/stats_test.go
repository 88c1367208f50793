package stats

import (
	"sync"
	"testing"
	"time"

	"github.com/kidsafe/guardian/internal/moderation"
)

func safeEntry(latency time.Duration) Entry {
	return Entry{
		ContentLength: 12,
		Safe:          true,
		Severity:      moderation.SeveritySafe,
		Confidence:    1.0,
		Latency:       latency,
	}
}

func blockedEntry(cat moderation.Category, sev moderation.Severity) Entry {
	return Entry{
		ContentLength: 12,
		Safe:          false,
		Severity:      sev,
		Categories:    []moderation.Category{cat},
		Confidence:    0.9,
		Latency:       5 * time.Millisecond,
	}
}

func TestCollectorCounts(t *testing.T) {
	c := NewCollector()

	c.Record(safeEntry(time.Millisecond))
	c.Record(safeEntry(time.Millisecond))
	c.Record(blockedEntry(moderation.CategoryProfanity, moderation.SeverityHigh))
	c.Record(blockedEntry(moderation.CategoryViolence, moderation.SeverityMedium))
	c.RecordFailure()

	s := c.Snapshot()
	if s.TotalChecks != 5 {
		t.Errorf("TotalChecks = %d, want 5", s.TotalChecks)
	}
	if s.SafeCount != 2 || s.BlockedCount != 2 || s.Failures != 1 {
		t.Errorf("safe/blocked/failures = %d/%d/%d, want 2/2/1",
			s.SafeCount, s.BlockedCount, s.Failures)
	}
	if s.ByCategory["profanity"] != 1 || s.ByCategory["violence"] != 1 {
		t.Errorf("ByCategory = %v", s.ByCategory)
	}
	if s.BySeverity["high"] != 1 || s.BySeverity["medium"] != 1 || s.BySeverity["safe"] != 2 {
		t.Errorf("BySeverity = %v", s.BySeverity)
	}
}

func TestCollectorAvgLatencyExcludesFailures(t *testing.T) {
	c := NewCollector()

	c.Record(safeEntry(100 * time.Millisecond))
	c.Record(safeEntry(300 * time.Millisecond))
	c.RecordFailure()

	s := c.Snapshot()
	if s.AvgLatencyMS != 200 {
		t.Errorf("AvgLatencyMS = %v, want 200", s.AvgLatencyMS)
	}
}

func TestCollectorHealth(t *testing.T) {
	tests := []struct {
		name     string
		records  int
		latency  time.Duration
		failures int
		want     string
	}{
		{"empty collector", 0, 0, 0, HealthHealthy},
		{"fast and clean", 100, 10 * time.Millisecond, 0, HealthHealthy},
		{"elevated error rate", 100, 10 * time.Millisecond, 2, HealthWarning},
		{"high error rate", 100, 10 * time.Millisecond, 6, HealthUnhealthy},
		{"slow responses", 100, 600 * time.Millisecond, 0, HealthWarning},
		{"very slow responses", 100, 1200 * time.Millisecond, 0, HealthUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCollector()
			for i := 0; i < tt.records; i++ {
				c.Record(safeEntry(tt.latency))
			}
			for i := 0; i < tt.failures; i++ {
				c.RecordFailure()
			}
			if got := c.Health(); got != tt.want {
				t.Errorf("Health() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCollectorRecentOrder(t *testing.T) {
	c := NewCollector()
	for i := 0; i < 5; i++ {
		e := safeEntry(time.Millisecond)
		e.ContentLength = i
		c.Record(e)
	}

	got := c.Recent(3)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, e := range got {
		if want := i + 2; e.ContentLength != want {
			t.Errorf("entry %d has ContentLength %d, want %d (oldest first)",
				i, e.ContentLength, want)
		}
	}
}

func TestCollectorRingWraps(t *testing.T) {
	c := NewCollector()
	extra := 10
	for i := 0; i < MaxRecentEntries+extra; i++ {
		e := safeEntry(0)
		e.ContentLength = i
		c.Record(e)
	}

	got := c.Recent(0)
	if len(got) != MaxRecentEntries {
		t.Fatalf("retained %d entries, want %d", len(got), MaxRecentEntries)
	}
	if got[0].ContentLength != extra {
		t.Errorf("oldest retained entry is %d, want %d", got[0].ContentLength, extra)
	}
	if last := got[len(got)-1].ContentLength; last != MaxRecentEntries+extra-1 {
		t.Errorf("newest retained entry is %d, want %d", last, MaxRecentEntries+extra-1)
	}
}

func TestCollectorHourlyPruning(t *testing.T) {
	c := NewCollector()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	hours := 30
	for i := 0; i < hours; i++ {
		e := safeEntry(time.Millisecond)
		e.Timestamp = base.Add(time.Duration(i) * time.Hour)
		c.Record(e)
	}

	s := c.Snapshot()
	if len(s.Hourly) != maxHourlyBuckets {
		t.Fatalf("hourly buckets = %d, want %d", len(s.Hourly), maxHourlyBuckets)
	}

	oldest := base.Format(hourlyKeyFormat)
	if _, ok := s.Hourly[oldest]; ok {
		t.Errorf("oldest bucket %q survived pruning", oldest)
	}
	newest := base.Add(time.Duration(hours-1) * time.Hour).Format(hourlyKeyFormat)
	if s.Hourly[newest] != 1 {
		t.Errorf("newest bucket %q missing", newest)
	}
}

func TestCollectorReset(t *testing.T) {
	c := NewCollector()
	c.Record(blockedEntry(moderation.CategoryProfanity, moderation.SeverityHigh))
	c.RecordFailure()

	c.Reset()

	s := c.Snapshot()
	if s.TotalChecks != 0 || s.Failures != 0 || len(s.ByCategory) != 0 || len(s.Hourly) != 0 {
		t.Errorf("post-reset snapshot not empty: %+v", s)
	}
	if len(c.Recent(0)) != 0 {
		t.Error("post-reset ring not empty")
	}
	if s.Health != HealthHealthy {
		t.Errorf("post-reset health = %q, want healthy", s.Health)
	}
}

func TestCollectorSnapshotIsolation(t *testing.T) {
	c := NewCollector()
	c.Record(blockedEntry(moderation.CategoryProfanity, moderation.SeverityHigh))

	s := c.Snapshot()
	s.ByCategory["profanity"] = 999
	s.Hourly["tampered"] = 1

	again := c.Snapshot()
	if again.ByCategory["profanity"] != 1 {
		t.Error("snapshot map aliases collector state")
	}
	if _, ok := again.Hourly["tampered"]; ok {
		t.Error("snapshot hourly map aliases collector state")
	}
}

func TestCollectorConcurrentAccess(t *testing.T) {
	c := NewCollector()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if j%10 == 0 {
					c.RecordFailure()
				} else {
					c.Record(blockedEntry(moderation.CategoryViolence, moderation.SeverityLow))
				}
				_ = c.Snapshot()
				_ = c.Recent(5)
				_ = c.Health()
			}
		}()
	}
	wg.Wait()

	s := c.Snapshot()
	if s.TotalChecks != 800 {
		t.Errorf("TotalChecks = %d, want 800", s.TotalChecks)
	}
	if s.Failures != 80 {
		t.Errorf("Failures = %d, want 80", s.Failures)
	}
}

func BenchmarkCollectorRecord(b *testing.B) {
	c := NewCollector()
	e := blockedEntry(moderation.CategoryProfanity, moderation.SeverityHigh)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Record(e)
	}
}

func BenchmarkCollectorSnapshot(b *testing.B) {
	c := NewCollector()
	for i := 0; i < 1000; i++ {
		c.Record(safeEntry(time.Millisecond))
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = c.Snapshot()
	}
}
