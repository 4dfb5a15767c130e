package httpapi

import (
	"sync"
	"time"

	"memoryhub/internal/config"
)

// window is a fixed-window request counter for one key, reset wholesale
// once its window has elapsed (simpler than a sliding log; matches §4.11's
// "fixed-window counter" wording).
type window struct {
	count     int
	resetAt   time.Time
}

// RateLimiter enforces a per-key request budget within a fixed time window.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	limit   int
	period  time.Duration
	now     func() time.Time
}

func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	limit := cfg.RequestsPerWindow
	if limit <= 0 {
		limit = 100
	}
	period := cfg.Window
	if period <= 0 {
		period = time.Minute
	}
	return &RateLimiter{windows: make(map[string]*window), limit: limit, period: period, now: time.Now}
}

// Allow reports whether key has budget remaining in its current window,
// consuming one unit of budget if so.
func (l *RateLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || now.After(w.resetAt) {
		w = &window{count: 0, resetAt: now.Add(l.period)}
		l.windows[key] = w
	}
	if w.count >= l.limit {
		return false
	}
	w.count++
	return true
}
