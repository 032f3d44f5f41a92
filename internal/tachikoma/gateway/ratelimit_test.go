package gateway

import (
	"testing"
	"time"
)

var rlBase = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestRateLimiter_AllowsUpToLimit(t *testing.T) {
	r := NewRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !r.allowAt("!c", rlBase.Add(time.Duration(i)*time.Second)) {
			t.Fatalf("call %d within limit was denied", i)
		}
	}
	if r.allowAt("!c", rlBase.Add(3*time.Second)) {
		t.Error("call beyond limit was allowed")
	}
}

func TestRateLimiter_WindowSlides(t *testing.T) {
	r := NewRateLimiter(2, time.Minute)

	if !r.allowAt("!c", rlBase) || !r.allowAt("!c", rlBase.Add(time.Second)) {
		t.Fatal("setup calls denied")
	}
	if r.allowAt("!c", rlBase.Add(30*time.Second)) {
		t.Fatal("limit should still hold mid-window")
	}
	// First call has aged out; one slot is free again.
	if !r.allowAt("!c", rlBase.Add(61*time.Second)) {
		t.Error("slot should free up once the oldest call leaves the window")
	}
}

func TestRateLimiter_ChannelsAreIndependent(t *testing.T) {
	r := NewRateLimiter(1, time.Minute)

	if !r.allowAt("!a", rlBase) {
		t.Fatal("first channel denied")
	}
	if !r.allowAt("!b", rlBase) {
		t.Error("second channel must have its own quota")
	}
	if r.allowAt("!a", rlBase.Add(time.Second)) {
		t.Error("first channel should be exhausted")
	}
}

func TestNewRateLimiter_Defaults(t *testing.T) {
	r := NewRateLimiter(0, 0)
	if r.limit != DefaultRateLimit {
		t.Errorf("limit = %d, want DefaultRateLimit", r.limit)
	}
	if r.window != defaultRateLimitWindow {
		t.Errorf("window = %v, want %v", r.window, defaultRateLimitWindow)
	}
}

func TestRateLimiter_DeniedCallDoesNotConsume(t *testing.T) {
	r := NewRateLimiter(1, time.Minute)

	if !r.allowAt("!c", rlBase) {
		t.Fatal("first call denied")
	}
	for i := 0; i < 5; i++ {
		r.allowAt("!c", rlBase.Add(time.Duration(i)*time.Second))
	}
	// The single recorded call ages out after the window regardless of how
	// many denied attempts happened in between.
	if !r.allowAt("!c", rlBase.Add(61*time.Second)) {
		t.Error("denied attempts must not extend the throttle")
	}
}
