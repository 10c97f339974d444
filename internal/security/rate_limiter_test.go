package security

import (
	"testing"
	"time"

	"github.com/sanraksh/sanraksh/internal/config"
)

func testConfig(rps float64, burst int) *config.SecurityConfig {
	return &config.SecurityConfig{
		RateLimit: config.RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: rps,
			Burst:             burst,
			ClientIdleExpiry:  time.Hour,
			CleanupInterval:   time.Minute,
		},
	}
}

// TestAllow tests burst consumption and per-client isolation.
func TestAllow(t *testing.T) {
	t.Run("BurstThenDeny", func(t *testing.T) {
		// Token trickle is negligible at this refill rate.
		r := NewRateLimiter(testConfig(0.001, 3))
		defer r.Stop()

		for i := 0; i < 3; i++ {
			if !r.Allow("10.0.0.1") {
				t.Fatalf("Request %d within burst should be allowed", i)
			}
		}
		if r.Allow("10.0.0.1") {
			t.Error("Request beyond burst should be denied")
		}
	})

	t.Run("ClientsIsolated", func(t *testing.T) {
		r := NewRateLimiter(testConfig(0.001, 1))
		defer r.Stop()

		if !r.Allow("10.0.0.1") {
			t.Fatal("First request should be allowed")
		}
		if r.Allow("10.0.0.1") {
			t.Error("Second request from same client should be denied")
		}
		if !r.Allow("10.0.0.2") {
			t.Error("Fresh client should have its own bucket")
		}
		if r.ClientCount() != 2 {
			t.Errorf("ClientCount = %d, want 2", r.ClientCount())
		}
	})

	t.Run("DisabledAllowsAll", func(t *testing.T) {
		cfg := testConfig(0.001, 1)
		cfg.RateLimit.Enabled = false
		r := NewRateLimiter(cfg)
		defer r.Stop()

		for i := 0; i < 10; i++ {
			if !r.Allow("10.0.0.1") {
				t.Fatal("Disabled limiter must allow everything")
			}
		}
		if r.ClientCount() != 0 {
			t.Errorf("Disabled limiter tracked %d clients", r.ClientCount())
		}
	})
}

// TestTokens tests remaining-token introspection.
func TestTokens(t *testing.T) {
	r := NewRateLimiter(testConfig(0.001, 5))
	defer r.Stop()

	if got := r.Tokens("10.0.0.9"); got != 5 {
		t.Errorf("Tokens for unseen client = %f, want full burst", got)
	}

	r.Allow("10.0.0.9")
	r.Allow("10.0.0.9")
	if got := r.Tokens("10.0.0.9"); got > 3.5 {
		t.Errorf("Tokens after two requests = %f, want about 3", got)
	}
}

// TestCleanupIdleClients tests idle bucket eviction.
func TestCleanupIdleClients(t *testing.T) {
	cfg := testConfig(0.001, 1)
	cfg.RateLimit.ClientIdleExpiry = 10 * time.Millisecond
	r := NewRateLimiter(cfg)
	defer r.Stop()

	r.Allow("10.0.0.1")
	r.Allow("10.0.0.2")
	if r.ClientCount() != 2 {
		t.Fatalf("ClientCount = %d, want 2", r.ClientCount())
	}

	time.Sleep(30 * time.Millisecond)
	r.Allow("10.0.0.2") // keeps this client fresh

	r.CleanupIdleClients()

	if r.ClientCount() != 1 {
		t.Errorf("ClientCount after cleanup = %d, want 1", r.ClientCount())
	}
	r.mu.RLock()
	_, kept := r.clients["10.0.0.2"]
	r.mu.RUnlock()
	if !kept {
		t.Error("Active client should survive cleanup")
	}
}
