package middleware

import (
	"sync"

	"github.com/anmol0706/VC/pkg/config"

	"golang.org/x/time/rate"
)

// MessageLimiter applies per-connection rate limiting to inbound
// signaling messages. Each transport connection gets its own limiter,
// keyed by connection handle ID.
type MessageLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	rate    rate.Limit
	burst   int
	enabled bool
}

func NewMessageLimiter(cfg *config.Config) *MessageLimiter {
	return &MessageLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(cfg.RateLimiting.MessagesPerSecond),
		burst:    cfg.RateLimiting.Burst,
		enabled:  cfg.RateLimiting.Enabled,
	}
}

// Allow reports whether a message from the given connection may be
// processed now. When rate limiting is disabled it always allows.
func (l *MessageLimiter) Allow(connID string) bool {
	if !l.enabled {
		return true
	}

	l.mu.Lock()
	limiter, ok := l.limiters[connID]
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[connID] = limiter
	}
	l.mu.Unlock()

	return limiter.Allow()
}

// Forget drops the limiter state for a closed connection.
func (l *MessageLimiter) Forget(connID string) {
	l.mu.Lock()
	delete(l.limiters, connID)
	l.mu.Unlock()
}
