package security

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/sanraksh/sanraksh/internal/config"
)

// RateLimiter applies per-client token buckets to sidecar requests
type RateLimiter struct {
	config  *config.SecurityConfig
	clients map[string]*clientLimiter
	mu      sync.RWMutex
	stop    chan struct{}
	once    sync.Once
}

// clientLimiter pairs a token bucket with its last activity time
type clientLimiter struct {
	limiter  *rate.Limiter
	mu       sync.Mutex
	lastSeen time.Time
}

func (c *clientLimiter) touch(now time.Time) {
	c.mu.Lock()
	c.lastSeen = now
	c.mu.Unlock()
}

func (c *clientLimiter) idleSince(cutoff time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen.Before(cutoff)
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(cfg *config.SecurityConfig) *RateLimiter {
	return &RateLimiter{
		config:  cfg,
		clients: make(map[string]*clientLimiter),
		stop:    make(chan struct{}),
	}
}

// Allow checks if a request from the given client IP is allowed
func (r *RateLimiter) Allow(clientIP string) bool {
	if !r.config.RateLimit.Enabled {
		return true
	}

	return r.getClient(clientIP).limiter.Allow()
}

// Tokens returns the tokens remaining for a client IP
func (r *RateLimiter) Tokens(clientIP string) float64 {
	r.mu.RLock()
	c, exists := r.clients[clientIP]
	r.mu.RUnlock()

	if !exists {
		return float64(r.config.RateLimit.Burst)
	}
	return c.limiter.Tokens()
}

// ClientCount returns the number of tracked clients
func (r *RateLimiter) ClientCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// getClient gets or creates the bucket for a client IP
func (r *RateLimiter) getClient(clientIP string) *clientLimiter {
	now := time.Now()

	r.mu.RLock()
	c, exists := r.clients[clientIP]
	r.mu.RUnlock()

	if exists {
		c.touch(now)
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if c, exists := r.clients[clientIP]; exists {
		c.touch(now)
		return c
	}

	c = &clientLimiter{
		limiter:  rate.NewLimiter(rate.Limit(r.config.RateLimit.RequestsPerSecond), r.config.RateLimit.Burst),
		lastSeen: now,
	}
	r.clients[clientIP] = c
	return c
}

// CleanupIdleClients drops buckets that have been idle past the configured
// expiry, bounding the client map
func (r *RateLimiter) CleanupIdleClients() {
	expiry := r.config.RateLimit.ClientIdleExpiry
	if expiry <= 0 {
		expiry = time.Hour
	}
	cutoff := time.Now().Add(-expiry)

	r.mu.Lock()
	defer r.mu.Unlock()

	for ip, c := range r.clients {
		if c.idleSince(cutoff) {
			delete(r.clients, ip)
		}
	}
}

// StartCleanupRoutine starts a background routine that evicts idle clients
func (r *RateLimiter) StartCleanupRoutine() {
	interval := r.config.RateLimit.CleanupInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				r.CleanupIdleClients()
			case <-r.stop:
				return
			}
		}
	}()
}

// Stop terminates the cleanup routine
func (r *RateLimiter) Stop() {
	r.once.Do(func() {
		close(r.stop)
	})
}
