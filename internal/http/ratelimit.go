package http

import (
	"sync"
	"time"
)

// Command endpoints are throttled per client IP over a fixed one-minute
// window. Reads are never throttled.
const (
	commandRateLimit     = 60
	rateWindow           = time.Minute
	limiterSweepInterval = 5 * time.Minute
	limiterIdleCutoff    = 10 * time.Minute
)

// rateLimiter counts command requests per client IP within the current
// window. A background goroutine sweeps entries for idle clients.
type rateLimiter struct {
	limit int
	now   func() time.Time

	mu      sync.Mutex
	windows map[string]*rateWindowState
	done    chan struct{}
	once    sync.Once
}

type rateWindowState struct {
	start time.Time
	count int
}

func newRateLimiter(limit int) *rateLimiter {
	rl := &rateLimiter{
		limit:   limit,
		now:     time.Now,
		windows: make(map[string]*rateWindowState),
		done:    make(chan struct{}),
	}
	go rl.sweepLoop()
	return rl
}

func (rl *rateLimiter) sweepLoop() {
	ticker := time.NewTicker(limiterSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.sweep()
		case <-rl.done:
			return
		}
	}
}

// sweep drops clients whose last window opened before the idle cutoff.
func (rl *rateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-limiterIdleCutoff)
	for ip, w := range rl.windows {
		if w.start.Before(cutoff) {
			delete(rl.windows, ip)
		}
	}
}

// stop shuts down the sweeper. Safe to call more than once.
func (rl *rateLimiter) stop() {
	rl.once.Do(func() { close(rl.done) })
}

// allow reports whether another command from clientIP fits in its current
// window, opening a fresh window when the previous one has expired.
func (rl *rateLimiter) allow(clientIP string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, ok := rl.windows[clientIP]
	if !ok || now.Sub(w.start) >= rateWindow {
		rl.windows[clientIP] = &rateWindowState{start: now, count: 1}
		return true
	}
	w.count++
	return w.count <= rl.limit
}
