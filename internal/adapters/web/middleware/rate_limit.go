package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
)

// KeyFunc derives the throttling key for a request. Requests sharing a key
// share a budget.
type KeyFunc func(r *http.Request) string

// ClientKey throttles per client host.
func ClientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// PairKey throttles per (organization, framework) route pair, so one noisy
// tenant cannot starve recomputation triggers for the others. Falls back to
// the client host on routes without those variables.
func PairKey(r *http.Request) string {
	vars := mux.Vars(r)
	org, fw := vars["org"], vars["framework"]
	if org == "" || fw == "" {
		return ClientKey(r)
	}
	return org + "/" + fw
}

type window struct {
	start time.Time
	count int
}

// Limiter is a fixed-window request counter.
type Limiter struct {
	mu      sync.Mutex
	limit   int
	period  time.Duration
	windows map[string]*window
}

// NewLimiter creates a limiter allowing limit requests per key per period.
func NewLimiter(limit int, period time.Duration) *Limiter {
	l := &Limiter{
		limit:   limit,
		period:  period,
		windows: make(map[string]*window),
	}

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			l.evictExpired()
		}
	}()

	return l
}

func (l *Limiter) evictExpired() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for key, w := range l.windows {
		if now.Sub(w.start) >= l.period {
			delete(l.windows, key)
		}
	}
}

// Allow reports whether a request under key fits the current window and
// consumes one slot when it does.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	w := l.windows[key]
	if w == nil || now.Sub(w.start) >= l.period {
		l.windows[key] = &window{start: now, count: 1}
		return true
	}
	if w.count >= l.limit {
		return false
	}
	w.count++
	return true
}

// RateLimit rejects requests over the limiter's budget with 429. The key
// function decides the throttling granularity.
func RateLimit(limiter *Limiter, key KeyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(key(r)) {
				http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
