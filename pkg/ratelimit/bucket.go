package ratelimit

import "time"

// tokenBucket implements continuous-refill burst control. Tokens accumulate
// as elapsed seconds * refillRate up to capacity; consumption fails without
// side effects when insufficient tokens are available.
type tokenBucket struct {
	capacity   float64
	tokens     float64
	refillRate float64
	lastRefill time.Time
	lastUsed   time.Time
}

func newTokenBucket(capacity, refillRate float64, now time.Time) *tokenBucket {
	return &tokenBucket{
		capacity:   capacity,
		tokens:     capacity,
		refillRate: refillRate,
		lastRefill: now,
		lastUsed:   now,
	}
}

func (b *tokenBucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens = b.tokens + elapsed*b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
}

func (b *tokenBucket) consume(n float64, now time.Time) bool {
	b.refill(now)
	b.lastUsed = now
	if b.tokens < n {
		return false
	}
	b.tokens -= n
	return true
}

// timeUntilAvailable reports how long until n tokens accumulate. Zero means
// the tokens are available now.
func (b *tokenBucket) timeUntilAvailable(n float64, now time.Time) time.Duration {
	b.refill(now)
	if b.tokens >= n {
		return 0
	}
	missing := n - b.tokens
	return time.Duration(missing / b.refillRate * float64(time.Second))
}
