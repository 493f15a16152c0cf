package gateway

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter throttles requests with a global limiter plus per-IP limiters.
// Per-IP state is dropped after a TTL of inactivity.
type RateLimiter struct {
	global *rate.Limiter

	mu    sync.Mutex
	perIP map[string]*ipLimiter

	perIPRate  rate.Limit
	perIPBurst int
	ttl        time.Duration
}

type ipLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimitConfig configures the limiter. Zero rates disable that tier.
type RateLimitConfig struct {
	GlobalRate  float64
	GlobalBurst int
	PerIPRate   float64
	PerIPBurst  int
	TTL         time.Duration
}

// NewRateLimiter creates a limiter from config. Returns nil when both tiers
// are disabled, and a nil limiter allows everything.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.GlobalRate <= 0 && cfg.PerIPRate <= 0 {
		return nil
	}
	l := &RateLimiter{
		perIP: make(map[string]*ipLimiter),
		ttl:   cfg.TTL,
	}
	if l.ttl <= 0 {
		l.ttl = 10 * time.Minute
	}
	if cfg.GlobalRate > 0 {
		burst := cfg.GlobalBurst
		if burst <= 0 {
			burst = int(cfg.GlobalRate)
		}
		l.global = rate.NewLimiter(rate.Limit(cfg.GlobalRate), burst)
	}
	if cfg.PerIPRate > 0 {
		l.perIPRate = rate.Limit(cfg.PerIPRate)
		l.perIPBurst = cfg.PerIPBurst
		if l.perIPBurst <= 0 {
			l.perIPBurst = int(cfg.PerIPRate)
		}
	}
	return l
}

// Allow reports whether a request from remoteAddr may proceed now.
func (l *RateLimiter) Allow(remoteAddr string) bool {
	if l == nil {
		return true
	}
	if l.global != nil && !l.global.Allow() {
		return false
	}
	if l.perIPRate > 0 {
		return l.limiterFor(clientIP(remoteAddr)).Allow()
	}
	return true
}

func (l *RateLimiter) limiterFor(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if state, ok := l.perIP[ip]; ok {
		state.lastAccess = time.Now()
		return state.limiter
	}
	state := &ipLimiter{
		limiter:    rate.NewLimiter(l.perIPRate, l.perIPBurst),
		lastAccess: time.Now(),
	}
	l.perIP[ip] = state
	return state.limiter
}

// Cleanup drops per-IP limiters idle past the TTL.
func (l *RateLimiter) Cleanup() {
	if l == nil {
		return
	}
	cutoff := time.Now().Add(-l.ttl)
	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, state := range l.perIP {
		if state.lastAccess.Before(cutoff) {
			delete(l.perIP, ip)
		}
	}
}

func clientIP(remoteAddr string) string {
	if remoteAddr == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err == nil {
		return host
	}
	return remoteAddr
}
