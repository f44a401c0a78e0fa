package middleware

import (
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// maxTrackedIPs caps the visit map so address-rotating clients cannot
	// grow it without bound. Crossing the cap evicts down to evictTarget.
	maxTrackedIPs = 100000
	evictTarget   = 50000
)

// RateLimiter enforces a per-client sliding-window request limit keyed by IP.
type RateLimiter struct {
	mu      sync.Mutex
	visits  map[string][]time.Time
	limit   int           // max requests per window and client
	window  time.Duration // sliding window length
	stopped chan struct{} // closed by Stop, ends the sweep goroutine
}

// NewRateLimiter creates a limiter allowing limit requests per window for
// each client IP and starts a background goroutine that drops idle clients.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		visits:  make(map[string][]time.Time),
		limit:   limit,
		window:  window,
		stopped: make(chan struct{}),
	}
	go rl.sweepLoop()
	return rl
}

// sweepLoop periodically drops clients whose visits have all aged out.
// Allow already prunes the entries it touches, so the sweep only has to
// catch clients that went quiet.
func (rl *RateLimiter) sweepLoop() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[RateLimiter] panic in sweep goroutine: %v", r)
		}
	}()
	interval := 4 * rl.window
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.sweep()
		case <-rl.stopped:
			return
		}
	}
}

// Stop terminates the background sweep goroutine. Safe to call repeatedly.
func (rl *RateLimiter) Stop() {
	select {
	case <-rl.stopped:
		// already closed
	default:
		close(rl.stopped)
	}
}

// Allow reports whether the client identified by ip may make a request now.
// The request is counted only when allowed.
func (rl *RateLimiter) Allow(ip string) bool {
	ok, _ := rl.take(ip)
	return ok
}

// take counts a visit when the client is under its limit. When over, it
// returns how long until the oldest counted visit leaves the window.
func (rl *RateLimiter) take(ip string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if len(rl.visits) > maxTrackedIPs {
		rl.evictOverCap()
	}

	recent := pruneBefore(rl.visits[ip], now.Add(-rl.window))
	if len(recent) >= rl.limit {
		rl.visits[ip] = recent
		wait := rl.window
		if len(recent) > 0 {
			wait = recent[0].Add(rl.window).Sub(now)
		}
		return false, wait
	}
	rl.visits[ip] = append(recent, now)
	return true, 0
}

// evictOverCap removes arbitrary clients until the map is back under
// evictTarget. Called with mu held.
func (rl *RateLimiter) evictOverCap() {
	for ip := range rl.visits {
		delete(rl.visits, ip)
		if len(rl.visits) <= evictTarget {
			return
		}
	}
}

// sweep drops every client whose visits have all expired.
func (rl *RateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := time.Now().Add(-rl.window)
	for ip, times := range rl.visits {
		recent := pruneBefore(times, cutoff)
		if len(recent) == 0 {
			delete(rl.visits, ip)
			continue
		}
		rl.visits[ip] = recent
	}
}

// pruneBefore filters times in place, keeping only entries after cutoff.
// Entries stay in append order, so index 0 is always the oldest survivor.
func pruneBefore(times []time.Time, cutoff time.Time) []time.Time {
	recent := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	return recent
}

// clientIP extracts the caller's address. X-Forwarded-For is trusted only
// for its first entry, the one set by the first proxy.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.IndexByte(xff, ','); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Limit returns a Middleware that enforces the rate limit. Rejected
// requests get 429 with a Retry-After computed from the client's own
// window rather than a fixed penalty.
func (rl *RateLimiter) Limit() Middleware {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			ok, wait := rl.take(clientIP(r))
			if !ok {
				secs := int(wait/time.Second) + 1
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":"too many requests, please retry later"}`))
				return
			}
			next(w, r)
		}
	}
}
