// Package security guards the playground's outer surfaces: per-client and
// per-tool rate limits for the HTTP and MCP front ends, and a circuit breaker
// for writes to the shareable location.
package security

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxIdleClients bounds the client table before idle entries are evicted.
const maxIdleClients = 10000

// clientIdleTimeout is how long an unused client limiter is kept.
const clientIdleTimeout = 10 * time.Minute

// RateLimiter provides rate limiting functionality
type RateLimiter struct {
	globalLimiter  *rate.Limiter
	clientLimiters map[string]*clientLimiter
	mu             sync.Mutex

	// Configuration
	requestsPerSecond float64
	burst             int
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter that allows each client requestsPerSecond
// with the given burst. A global limit is only applied when set with
// SetGlobalLimit.
func NewRateLimiter(requestsPerSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		clientLimiters:    make(map[string]*clientLimiter),
		requestsPerSecond: requestsPerSecond,
		burst:             burst,
	}
}

// SetGlobalLimit caps the combined rate across all clients.
func (rl *RateLimiter) SetGlobalLimit(requestsPerSecond float64, burst int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.globalLimiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
}

// Allow checks if a request should be allowed
func (rl *RateLimiter) Allow(clientID string) bool {
	limiter, global := rl.limiters(clientID)

	// The client bucket is checked first so a denied client does not drain
	// the shared bucket.
	if !limiter.Allow() {
		return false
	}
	return global == nil || global.Allow()
}

// Wait blocks until a request can be made
func (rl *RateLimiter) Wait(ctx context.Context, clientID string) error {
	limiter, global := rl.limiters(clientID)

	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("client rate limit: %w", err)
	}
	if global != nil {
		if err := global.Wait(ctx); err != nil {
			return fmt.Errorf("global rate limit: %w", err)
		}
	}
	return nil
}

// Clients returns how many clients are tracked.
func (rl *RateLimiter) Clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clientLimiters)
}

// limiters gets or creates the limiter for clientID
func (rl *RateLimiter) limiters(clientID string) (*rate.Limiter, *rate.Limiter) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if c, ok := rl.clientLimiters[clientID]; ok {
		c.lastSeen = now
		return c.limiter, rl.globalLimiter
	}

	if len(rl.clientLimiters) >= maxIdleClients {
		rl.evictIdleLocked(now)
	}

	c := &clientLimiter{
		limiter:  rate.NewLimiter(rate.Limit(rl.requestsPerSecond), rl.burst),
		lastSeen: now,
	}
	rl.clientLimiters[clientID] = c
	return c.limiter, rl.globalLimiter
}

func (rl *RateLimiter) evictIdleLocked(now time.Time) {
	for id, c := range rl.clientLimiters {
		if now.Sub(c.lastSeen) > clientIdleTimeout {
			delete(rl.clientLimiters, id)
		}
	}
}

// ToolRateLimiter provides per-tool rate limiting
type ToolRateLimiter struct {
	toolLimiters map[string]*rate.Limiter
	mu           sync.RWMutex
}

// NewToolRateLimiter creates a new tool-specific rate limiter
func NewToolRateLimiter() *ToolRateLimiter {
	return &ToolRateLimiter{
		toolLimiters: make(map[string]*rate.Limiter),
	}
}

// SetToolLimit configures rate limit for a specific tool
func (trl *ToolRateLimiter) SetToolLimit(toolName string, requestsPerSecond float64, burst int) {
	trl.mu.Lock()
	defer trl.mu.Unlock()
	trl.toolLimiters[toolName] = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
}

// Allow checks if a tool execution should be allowed
func (trl *ToolRateLimiter) Allow(toolName string) bool {
	trl.mu.RLock()
	limiter, exists := trl.toolLimiters[toolName]
	trl.mu.RUnlock()

	if !exists {
		return true // No limit set for this tool
	}

	return limiter.Allow()
}
