package authz

import (
	"context"
	"sync"
	"time"

	"chat-relay/internal/protocol"
	"golang.org/x/time/rate"
)

const limiterTTL = 5 * time.Minute

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimitCheck keeps one token bucket per user id. Idle buckets are
// dropped after limiterTTL so the map does not grow with every user ever
// seen.
type RateLimitCheck struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	rate     rate.Limit
	burst    int

	stop    chan struct{}
	stopped sync.Once
}

func NewRateLimitCheck(perSecond float64, burst int) *RateLimitCheck {
	c := &RateLimitCheck{
		limiters: make(map[string]*limiterEntry),
		rate:     rate.Limit(perSecond),
		burst:    burst,
		stop:     make(chan struct{}),
	}

	go c.cleanupLoop()

	return c
}

func (c *RateLimitCheck) Evaluate(_ context.Context, req *Request) *protocol.Error {
	if !c.Allow(req.UserId) {
		return protocol.ErrRateLimited
	}
	return nil
}

// Allow consumes one token from the user's bucket.
func (c *RateLimitCheck) Allow(userId string) bool {
	c.mu.Lock()
	entry, ok := c.limiters[userId]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(c.rate, c.burst)}
		c.limiters[userId] = entry
	}
	entry.lastAccess = time.Now()
	c.mu.Unlock()

	return entry.limiter.Allow()
}

func (c *RateLimitCheck) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stop:
			return
		}
	}
}

func (c *RateLimitCheck) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for userId, entry := range c.limiters {
		if now.Sub(entry.lastAccess) > limiterTTL {
			delete(c.limiters, userId)
		}
	}
}

func (c *RateLimitCheck) Stop() {
	c.stopped.Do(func() { close(c.stop) })
}
