package ratelimit

import (
	"testing"
	"time"
)

func TestBurstAllowed(t *testing.T) {
	limiter := NewLimiter(10, 5)

	for i := 0; i < 5; i++ {
		if !limiter.Allow() {
			t.Fatalf("Request %d within burst should be allowed", i+1)
		}
	}
}

func TestExhaustionDenied(t *testing.T) {
	limiter := NewLimiter(1, 2)

	limiter.Allow()
	limiter.Allow()

	if limiter.Allow() {
		t.Error("Request past the burst should be denied")
	}
}

func TestRefill(t *testing.T) {
	limiter := NewLimiter(100, 1)

	if !limiter.Allow() {
		t.Fatal("First request should be allowed")
	}
	if limiter.Allow() {
		t.Fatal("Bucket should be empty")
	}

	time.Sleep(50 * time.Millisecond)

	if !limiter.Allow() {
		t.Error("Tokens should refill over time")
	}
}
