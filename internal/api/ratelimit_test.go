package api

import (
	"testing"
	"time"
)

func TestRateLimiter_AllowsWithinLimit(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !rl.Allow("anon_a") {
			t.Fatalf("Request %d should be allowed", i)
		}
	}
	if rl.Allow("anon_a") {
		t.Error("Request over the limit should be denied")
	}
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)

	if !rl.Allow("anon_a") {
		t.Fatal("First request for anon_a should be allowed")
	}
	if !rl.Allow("anon_b") {
		t.Error("anon_b must not be throttled by anon_a's requests")
	}
}

func TestRateLimiter_WindowExpiry(t *testing.T) {
	rl := NewRateLimiter(1, 50*time.Millisecond)

	if !rl.Allow("anon_a") {
		t.Fatal("First request should be allowed")
	}
	if rl.Allow("anon_a") {
		t.Fatal("Second request inside the window should be denied")
	}

	time.Sleep(60 * time.Millisecond)
	if !rl.Allow("anon_a") {
		t.Error("Request after window expiry should be allowed")
	}
}
