package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MemoryLimiter keeps one token bucket per identifier. A rule of Limit
// requests per Window becomes a bucket of Limit tokens refilled at
// Limit/Window per second.
type MemoryLimiter struct {
	mu   sync.Mutex
	m    map[string]*rate.Limiter
	rule Rule
}

// NewMemoryLimiter creates an in-process limiter for rule.
func NewMemoryLimiter(rule Rule) *MemoryLimiter {
	return &MemoryLimiter{
		m:    make(map[string]*rate.Limiter),
		rule: rule,
	}
}

func (p *MemoryLimiter) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if l, ok := p.m[key]; ok {
		return l
	}
	limit := p.rule.Limit
	if limit <= 0 {
		limit = 1
	}
	window := p.rule.Window
	if window <= 0 {
		window = time.Second
	}
	l := rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit)
	p.m[key] = l
	return l
}

// Allow takes one token for identifier. It never fails.
func (p *MemoryLimiter) Allow(_ context.Context, identifier string) (bool, error) {
	return p.get(identifier).Allow(), nil
}

// RetryAfter is the time needed to refill a single token.
func (p *MemoryLimiter) RetryAfter() time.Duration {
	if p.rule.Limit <= 0 {
		return p.rule.Window
	}
	return p.rule.Window / time.Duration(p.rule.Limit)
}

// Forget drops the bucket for identifier.
func (p *MemoryLimiter) Forget(identifier string) {
	p.mu.Lock()
	delete(p.m, identifier)
	p.mu.Unlock()
}

// Len returns the number of tracked identifiers.
func (p *MemoryLimiter) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}
