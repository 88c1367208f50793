// Package tracker accumulates per-user violation counts in Redis and
// decides when a parent alert is warranted. Counts live in hour-bucketed
// hashes that expire on their own:
//
//	Key:    violations:<user_id>:<YYYY-MM-DD-HH>
//	Fields: total, low, medium, high, critical
//	TTL:    2 hours
package tracker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kidsafe/guardian/internal/metrics"
	"github.com/kidsafe/guardian/internal/moderation"
)

const (
	// ViolationsPrefix is the Redis key prefix for violation counters.
	ViolationsPrefix = "violations:"

	// ViolationTTL keeps an hour bucket alive long enough to be read for
	// the rest of its hour plus slack, then lets Redis drop it.
	ViolationTTL = 2 * time.Hour

	// hourKeyFormat stamps one bucket per clock hour.
	hourKeyFormat = "2006-01-02-15"

	// HourlyAlertThreshold is the violation total within one hour that
	// triggers an alert regardless of severity mix.
	HourlyAlertThreshold = 3
)

// Alert reasons carried to parents over the alert subject.
const (
	AlertReasonSevere      = "severe_content"
	AlertReasonRepeated    = "repeated_violations"
	AlertReasonAccumulated = "hourly_threshold"
)

// severityThresholds is the per-severity count within one hour that
// triggers a repeated-violations alert. High and critical alert on the
// first occurrence.
var severityThresholds = map[moderation.Severity]int64{
	moderation.SeverityLow:      5,
	moderation.SeverityMedium:   3,
	moderation.SeverityHigh:     1,
	moderation.SeverityCritical: 1,
}

// Alert is one parent notification decision.
type Alert struct {
	UserID     string                `json:"user_id"`
	Reason     string                `json:"reason"`
	Severity   moderation.Severity   `json:"severity"`
	Categories []moderation.Category `json:"categories,omitempty"`
	HourCount  int64                 `json:"hour_count"`
	Timestamp  time.Time             `json:"timestamp"`
}

// Tracker manages violation counters in Redis.
type Tracker struct {
	client *redis.Client
}

// New creates a Tracker using the provided Redis client.
func New(client *redis.Client) *Tracker {
	return &Tracker{client: client}
}

// RecordViolation counts one blocked utterance against the user's current
// hour bucket and returns a non-nil Alert when the parent should be
// notified. Anonymous requests (empty user id) are not tracked. Redis
// errors are returned so the caller can log and move on; tracking never
// gates the decision path.
func (t *Tracker) RecordViolation(ctx context.Context, userID string, severity moderation.Severity, categories []moderation.Category) (*Alert, error) {
	if userID == "" || severity == moderation.SeveritySafe {
		return nil, nil
	}

	now := time.Now()
	key := hourKey(userID, now)

	sevCount, err := t.client.HIncrBy(ctx, key, severity.String(), 1).Result()
	if err != nil {
		return nil, fmt.Errorf("tracker: record incr: %w", err)
	}
	total, err := t.client.HIncrBy(ctx, key, "total", 1).Result()
	if err != nil {
		return nil, fmt.Errorf("tracker: record total: %w", err)
	}

	// Set TTL only when the bucket is created so the window doesn't slide.
	if total == 1 {
		if err := t.client.Expire(ctx, key, ViolationTTL).Err(); err != nil {
			return nil, fmt.Errorf("tracker: record expire: %w", err)
		}
	}

	alert := t.evaluate(userID, severity, categories, sevCount, total, now)
	if alert != nil {
		metrics.AlertsTotal.Inc()
	}
	return alert, nil
}

// evaluate applies the alert policy. High and critical severities alert on
// every occurrence; lower severities alert once per hour when their count
// or the hour total first crosses its threshold.
func (t *Tracker) evaluate(userID string, severity moderation.Severity, categories []moderation.Category, sevCount, total int64, now time.Time) *Alert {
	alert := &Alert{
		UserID:     userID,
		Severity:   severity,
		Categories: categories,
		HourCount:  total,
		Timestamp:  now,
	}

	switch {
	case severity >= moderation.SeverityHigh:
		alert.Reason = AlertReasonSevere
	case sevCount == severityThresholds[severity]:
		alert.Reason = AlertReasonRepeated
	case total == HourlyAlertThreshold:
		alert.Reason = AlertReasonAccumulated
	default:
		return nil
	}
	return alert
}

// HourCounts returns the user's violation counters for the current hour.
// A user with no bucket gets an empty map.
func (t *Tracker) HourCounts(ctx context.Context, userID string) (map[string]int64, error) {
	fields, err := t.client.HGetAll(ctx, hourKey(userID, time.Now())).Result()
	if err != nil {
		return nil, fmt.Errorf("tracker: hour counts: %w", err)
	}

	counts := make(map[string]int64, len(fields))
	for field, raw := range fields {
		n, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil {
			return nil, fmt.Errorf("tracker: hour counts field %s: %w", field, perr)
		}
		counts[field] = n
	}
	return counts, nil
}

func hourKey(userID string, ts time.Time) string {
	return ViolationsPrefix + userID + ":" + ts.Format(hourKeyFormat)
}
