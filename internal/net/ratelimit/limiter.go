package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter provides per-chain rate limiting using token bucket algorithm.
// Chains without an explicit Configure call fall back to the default rps/burst.
type Limiter struct {
	mu       sync.RWMutex
	limiters map[int64]*rate.Limiter
	rps      float64 // Default requests per second
	burst    int     // Default burst capacity
}

// NewLimiter creates a new rate limiter with the default RPS and burst capacity
func NewLimiter(rps float64, burst int) *Limiter {
	return &Limiter{
		limiters: make(map[int64]*rate.Limiter),
		rps:      rps,
		burst:    burst,
	}
}

// Configure installs a dedicated bucket for a chain, replacing any previous one
func (l *Limiter) Configure(chainID int64, rps float64, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.limiters[chainID] = rate.NewLimiter(rate.Limit(rps), burst)
}

// getLimiter returns or creates a rate limiter for the specified chain
func (l *Limiter) getLimiter(chainID int64) *rate.Limiter {
	l.mu.RLock()
	limiter, exists := l.limiters[chainID]
	l.mu.RUnlock()

	if exists {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, exists := l.limiters[chainID]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(rate.Limit(l.rps), l.burst)
	l.limiters[chainID] = limiter
	return limiter
}

// Allow returns true if a request for the specified chain is allowed now
func (l *Limiter) Allow(chainID int64) bool {
	return l.getLimiter(chainID).Allow()
}

// Wait blocks until a request for the specified chain is allowed or context is cancelled
func (l *Limiter) Wait(ctx context.Context, chainID int64) error {
	return l.getLimiter(chainID).Wait(ctx)
}

// Stats returns statistics for all chain limiters
func (l *Limiter) Stats() map[int64]LimiterStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := make(map[int64]LimiterStats)
	now := time.Now()

	for chainID, limiter := range l.limiters {
		reservation := limiter.Reserve()
		delay := reservation.Delay()
		reservation.Cancel() // only peeking

		stats[chainID] = LimiterStats{
			ChainID:         chainID,
			RPS:             float64(limiter.Limit()),
			Burst:           limiter.Burst(),
			TokensAvailable: limiter.Tokens(),
			NextAllowedAt:   now.Add(delay),
			Delay:           delay,
		}
	}

	return stats
}

// LimiterStats represents statistics for a single chain limiter
type LimiterStats struct {
	ChainID         int64         `json:"chain_id"`
	RPS             float64       `json:"rps"`
	Burst           int           `json:"burst"`
	TokensAvailable float64       `json:"tokens_available"`
	NextAllowedAt   time.Time     `json:"next_allowed_at"`
	Delay           time.Duration `json:"delay"`
}

// IsThrottled returns true if the limiter is currently throttling requests
func (s *LimiterStats) IsThrottled() bool {
	return s.Delay > 0
}
