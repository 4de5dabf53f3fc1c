package http

import (
	"testing"
	"time"
)

func TestRateLimiter_FixedWindow(t *testing.T) {
	rl := newRateLimiter(3)
	defer rl.stop()
	current := time.Now()
	rl.now = func() time.Time { return current }

	for i := 0; i < 3; i++ {
		if !rl.allow("10.0.0.1") {
			t.Fatalf("request %d rejected within limit", i+1)
		}
	}
	if rl.allow("10.0.0.1") {
		t.Error("request over the limit was allowed")
	}
	// Each client gets its own window.
	if !rl.allow("10.0.0.2") {
		t.Error("unrelated client was rejected")
	}

	// Once the window expires the counter starts over.
	current = current.Add(rateWindow)
	if !rl.allow("10.0.0.1") {
		t.Error("request after window expiry was rejected")
	}
}

func TestRateLimiter_SweepDropsIdleClients(t *testing.T) {
	rl := newRateLimiter(commandRateLimit)
	defer rl.stop()
	current := time.Now()
	rl.now = func() time.Time { return current }

	rl.allow("10.0.0.1")
	rl.allow("10.0.0.2")

	current = current.Add(limiterIdleCutoff + time.Second)
	rl.sweep()

	rl.mu.Lock()
	remaining := len(rl.windows)
	rl.mu.Unlock()
	if remaining != 0 {
		t.Errorf("tracked clients after sweep = %d, want 0", remaining)
	}
}
