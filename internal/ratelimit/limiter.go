// Package ratelimit throttles per-connection chat traffic. Limiter is backed
// by Redis using the INCR + EXPIRE fixed window algorithm; MemoryLimiter is a
// token bucket per identifier for single-process deployments without Redis.
package ratelimit

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Rule defines a rate limiting policy: the Redis key prefix, maximum number of
// requests allowed in the window, and the window duration.
type Rule struct {
	Key    string        // Redis key prefix (e.g., "rl:msg:")
	Limit  int           // max count in the window
	Window time.Duration // time window
}

// RuleMessage allows 20 chat messages (broadcast or private) per 10 seconds
// per connection.
var RuleMessage = Rule{Key: "rl:msg:", Limit: 20, Window: 10 * time.Second}

// Limiter performs rate limiting checks against Redis.
type Limiter struct {
	client *redis.Client
	rule   Rule
}

// NewLimiter creates a Limiter backed by the given Redis client.
func NewLimiter(client *redis.Client, rule Rule) *Limiter {
	return &Limiter{client: client, rule: rule}
}

// Allow checks whether the given identifier is within the rate limit. It
// increments the counter in Redis and sets the expiry on first access.
//
// Returns true if the request is allowed, false if rate limited. On Redis
// errors the method fails open (returns true) so that a Redis outage does not
// block legitimate traffic.
func (l *Limiter) Allow(ctx context.Context, identifier string) (bool, error) {
	key := l.rule.Key + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		log.Printf("[ratelimit] redis INCR error key=%s: %v (failing open)", key, err)
		return true, err
	}

	// On the first increment, set the expiry to define the window boundary.
	if count == 1 {
		if err := l.client.Expire(ctx, key, l.rule.Window).Err(); err != nil {
			log.Printf("[ratelimit] redis EXPIRE error key=%s: %v (failing open)", key, err)
			// The key exists but has no TTL and would persist. Best effort:
			// delete it so it doesn't block the identifier forever.
			l.client.Del(ctx, key)
			return true, err
		}
	}

	return int(count) <= l.rule.Limit, nil
}

// Remaining returns the number of requests the identifier has left in the
// current window. Returns the full limit if the key does not exist yet. On
// Redis errors it returns the full limit (fail open).
func (l *Limiter) Remaining(ctx context.Context, identifier string) (int, error) {
	key := l.rule.Key + identifier

	count, err := l.client.Get(ctx, key).Int()
	if err == redis.Nil {
		return l.rule.Limit, nil
	}
	if err != nil {
		log.Printf("[ratelimit] redis GET error key=%s: %v (failing open)", key, err)
		return l.rule.Limit, err
	}

	remaining := l.rule.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// RetryAfter is the window length, the longest a limited client waits.
func (l *Limiter) RetryAfter() time.Duration {
	return l.rule.Window
}

// Forget deletes the counter for an identifier whose connection is gone.
func (l *Limiter) Forget(identifier string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := l.client.Del(ctx, l.rule.Key+identifier).Err(); err != nil {
		log.Printf("[ratelimit] redis DEL error key=%s: %v", l.rule.Key+identifier, err)
	}
}
