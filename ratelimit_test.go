package main

import "testing"

func TestRateLimiterCapsNonAdmin(t *testing.T) {
	r := newRateLimiter()
	for i := 0; i < rateLimit; i++ {
		if !r.allow("alice", false) {
			t.Fatalf("expected message %d to be allowed", i+1)
		}
	}
	if r.allow("alice", false) {
		t.Fatalf("expected the %dth message to be rejected", rateLimit+1)
	}
}

func TestRateLimiterAdminBypass(t *testing.T) {
	r := newRateLimiter()
	for i := 0; i < rateLimit+10; i++ {
		if !r.allow("root", true) {
			t.Fatalf("expected admin message %d to be allowed", i+1)
		}
	}
}

func TestRateLimiterPerIdentity(t *testing.T) {
	r := newRateLimiter()
	for i := 0; i < rateLimit; i++ {
		r.allow("alice", false)
	}
	if !r.allow("bob", false) {
		t.Fatalf("expected a different identity's window to be independent")
	}
}

func TestRateLimiterForget(t *testing.T) {
	r := newRateLimiter()
	for i := 0; i < rateLimit; i++ {
		r.allow("alice", false)
	}
	r.forget("alice")
	if !r.allow("alice", false) {
		t.Fatalf("expected forgotten identity's window to be reset")
	}
}
