// Package ratelimit provides Redis-backed rate limiting using the INCR +
// EXPIRE window algorithm. The moderation service throttles per-user check
// volume and per-address feed connections; a Redis outage fails open so
// throttling never blocks legitimate traffic on its own.
package ratelimit

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Rule defines a rate limiting policy: the Redis key prefix, maximum number
// of requests allowed in the window, and the window duration.
type Rule struct {
	Key    string        // Redis key prefix (e.g., "rl:check:")
	Limit  int           // max count in the window
	Window time.Duration // time window
}

// DefaultCheckLimit is the per-user check budget per minute when no
// override is configured.
const DefaultCheckLimit = 30

// Standard rules.
var (
	// RuleCheck throttles moderation checks per user.
	RuleCheck = Rule{Key: "rl:check:", Limit: DefaultCheckLimit, Window: time.Minute}

	// RuleFeed allows 5 activity-feed connections per minute per address.
	RuleFeed = Rule{Key: "rl:feed:", Limit: 5, Window: time.Minute}
)

// CheckRule returns the moderation-check rule with a custom per-minute
// limit. Non-positive limits fall back to the default.
func CheckRule(perMinute int) Rule {
	if perMinute <= 0 {
		perMinute = DefaultCheckLimit
	}
	return Rule{Key: RuleCheck.Key, Limit: perMinute, Window: time.Minute}
}

// Limiter performs rate limiting checks against Redis.
type Limiter struct {
	client *redis.Client
}

// NewLimiter creates a Limiter backed by the given Redis client.
func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client}
}

// Allow checks whether the given identifier is within the rate limit
// defined by rule. It increments the counter in Redis and sets the expiry
// on first access.
//
// Returns true if the request is allowed, false if rate limited. On Redis
// errors the method fails open (returns true) so that a Redis outage does
// not block legitimate traffic.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) (bool, error) {
	key := rule.Key + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		log.Printf("[ratelimit] redis INCR error key=%s: %v (failing open)", key, err)
		return true, err
	}

	// On the first increment, set the expiry to define the window boundary.
	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			log.Printf("[ratelimit] redis EXPIRE error key=%s: %v (failing open)", key, err)
			// The key exists but has no TTL and would persist. Best effort:
			// delete it so it doesn't block the identifier forever.
			l.client.Del(ctx, key)
			return true, err
		}
	}

	if int(count) > rule.Limit {
		return false, nil
	}

	return true, nil
}

// Remaining returns the number of requests the identifier has left in the
// current window for the given rule. Returns the full limit if the key
// does not exist yet. On Redis errors it returns the full limit (fail
// open).
func (l *Limiter) Remaining(ctx context.Context, identifier string, rule Rule) (int, error) {
	key := rule.Key + identifier

	count, err := l.client.Get(ctx, key).Int()
	if err == redis.Nil {
		return rule.Limit, nil
	}
	if err != nil {
		log.Printf("[ratelimit] redis GET error key=%s: %v (failing open)", key, err)
		return rule.Limit, err
	}

	remaining := rule.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}
