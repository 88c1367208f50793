package tracker

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kidsafe/guardian/internal/moderation"
)

// newTestTracker creates a Tracker connected to a local Redis instance and
// flushes test violation keys before returning. Tests that call this helper
// require a running Redis on localhost:6379.
func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}

	flush := func() {
		iter := client.Scan(ctx, 0, ViolationsPrefix+"test_*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	}
	flush()
	t.Cleanup(func() {
		flush()
		client.Close()
	})
	return New(client)
}

func TestRecordViolationAnonymousIgnored(t *testing.T) {
	tr := New(nil) // client untouched for anonymous users

	alert, err := tr.RecordViolation(context.Background(), "", moderation.SeverityHigh, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if alert != nil {
		t.Errorf("anonymous violation produced alert: %+v", alert)
	}
}

func TestRecordViolationSafeIgnored(t *testing.T) {
	tr := New(nil)

	alert, err := tr.RecordViolation(context.Background(), "test_safe", moderation.SeveritySafe, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if alert != nil {
		t.Errorf("safe severity produced alert: %+v", alert)
	}
}

func TestRecordViolationHighSeverityAlertsEveryTime(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()
	cats := []moderation.Category{moderation.CategoryViolence}

	first, err := tr.RecordViolation(ctx, "test_high", moderation.SeverityHigh, cats)
	if err != nil {
		t.Fatalf("RecordViolation() error: %v", err)
	}
	if first == nil {
		t.Fatal("expected alert on first high violation")
	}
	if first.Reason != AlertReasonSevere {
		t.Errorf("reason = %q, want %q", first.Reason, AlertReasonSevere)
	}
	if first.HourCount != 1 {
		t.Errorf("hour count = %d, want 1", first.HourCount)
	}

	second, err := tr.RecordViolation(ctx, "test_high", moderation.SeverityCritical, cats)
	if err != nil {
		t.Fatalf("RecordViolation() error: %v", err)
	}
	if second == nil {
		t.Fatal("expected alert on every severe violation")
	}
	if second.HourCount != 2 {
		t.Errorf("hour count = %d, want 2", second.HourCount)
	}
}

func TestRecordViolationMediumThreshold(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()
	cats := []moderation.Category{moderation.CategoryHarmfulContent}

	// First two medium violations stay quiet.
	for i := 0; i < 2; i++ {
		alert, err := tr.RecordViolation(ctx, "test_medium", moderation.SeverityMedium, cats)
		if err != nil {
			t.Fatalf("RecordViolation() error: %v", err)
		}
		if alert != nil {
			t.Fatalf("violation %d produced early alert: %+v", i+1, alert)
		}
	}

	// The third crosses both the medium and the hourly threshold; the
	// severity rule is checked first.
	alert, err := tr.RecordViolation(ctx, "test_medium", moderation.SeverityMedium, cats)
	if err != nil {
		t.Fatalf("RecordViolation() error: %v", err)
	}
	if alert == nil {
		t.Fatal("expected alert on third medium violation")
	}
	if alert.Reason != AlertReasonRepeated {
		t.Errorf("reason = %q, want %q", alert.Reason, AlertReasonRepeated)
	}
	if alert.HourCount != 3 {
		t.Errorf("hour count = %d, want 3", alert.HourCount)
	}
}

func TestRecordViolationHourlyThreshold(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	// Three low violations: the low threshold (5) is not reached, but the
	// hour total is.
	var alert *Alert
	var err error
	for i := 0; i < 3; i++ {
		alert, err = tr.RecordViolation(ctx, "test_low", moderation.SeverityLow,
			[]moderation.Category{moderation.CategoryProfanity})
		if err != nil {
			t.Fatalf("RecordViolation() error: %v", err)
		}
	}
	if alert == nil {
		t.Fatal("expected alert when the hour total crossed the threshold")
	}
	if alert.Reason != AlertReasonAccumulated {
		t.Errorf("reason = %q, want %q", alert.Reason, AlertReasonAccumulated)
	}
}

func TestRecordViolationAlertOncePerThreshold(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	// Violations 1-3 produce exactly one alert (the hourly threshold);
	// the fourth stays quiet because no new threshold is crossed.
	alerts := 0
	for i := 0; i < 4; i++ {
		alert, err := tr.RecordViolation(ctx, "test_once", moderation.SeverityLow,
			[]moderation.Category{moderation.CategoryProfanity})
		if err != nil {
			t.Fatalf("RecordViolation() error: %v", err)
		}
		if alert != nil {
			alerts++
		}
	}
	if alerts != 1 {
		t.Errorf("alerts = %d, want 1", alerts)
	}
}

func TestHourCounts(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	tr.RecordViolation(ctx, "test_counts", moderation.SeverityMedium,
		[]moderation.Category{moderation.CategoryScaryContent})
	tr.RecordViolation(ctx, "test_counts", moderation.SeverityHigh,
		[]moderation.Category{moderation.CategoryViolence})

	counts, err := tr.HourCounts(ctx, "test_counts")
	if err != nil {
		t.Fatalf("HourCounts() error: %v", err)
	}
	if counts["total"] != 2 {
		t.Errorf("total = %d, want 2", counts["total"])
	}
	if counts["medium"] != 1 || counts["high"] != 1 {
		t.Errorf("counts = %v, want medium 1 and high 1", counts)
	}
}

func TestHourCountsUnknownUser(t *testing.T) {
	tr := newTestTracker(t)

	counts, err := tr.HourCounts(context.Background(), "test_nobody")
	if err != nil {
		t.Fatalf("HourCounts() error: %v", err)
	}
	if len(counts) != 0 {
		t.Errorf("counts = %v, want empty", counts)
	}
}

func TestViolationBucketTTL(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	tr.RecordViolation(ctx, "test_ttl", moderation.SeverityLow,
		[]moderation.Category{moderation.CategoryProfanity})

	key := hourKey("test_ttl", time.Now())
	ttl, err := tr.client.TTL(ctx, key).Result()
	if err != nil {
		t.Fatalf("TTL() error: %v", err)
	}
	// Allow 10s slack for test execution time.
	if ttl < ViolationTTL-10*time.Second || ttl > ViolationTTL {
		t.Errorf("expected TTL ~%v, got %v", ViolationTTL, ttl)
	}
}
