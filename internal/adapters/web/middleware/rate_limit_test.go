package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
)

func TestLimiterAllow(t *testing.T) {
	l := NewLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !l.Allow("org-1/fw-a") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if l.Allow("org-1/fw-a") {
		t.Error("request over the limit should be denied")
	}

	// Other keys are tracked independently.
	if !l.Allow("org-2/fw-a") {
		t.Error("a different key must not share the window")
	}
}

func TestLimiterWindowExpiry(t *testing.T) {
	l := NewLimiter(1, 20*time.Millisecond)

	if !l.Allow("org-1/fw-a") {
		t.Fatal("first request should be allowed")
	}
	if l.Allow("org-1/fw-a") {
		t.Fatal("second request inside the window should be denied")
	}

	time.Sleep(30 * time.Millisecond)
	if !l.Allow("org-1/fw-a") {
		t.Error("request after the window expired should be allowed")
	}
}

func TestPairKeyThrottlesPerPair(t *testing.T) {
	limiter := NewLimiter(2, time.Minute)

	r := mux.NewRouter()
	r.Handle("/api/recompute/{org}/{framework}",
		RateLimit(limiter, PairKey)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))).Methods(http.MethodPost)

	post := func(path, addr string) int {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.RemoteAddr = addr
		r.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := 0; i < 2; i++ {
		if code := post("/api/recompute/org-1/fw-a", "10.0.0.1:5000"); code != http.StatusOK {
			t.Fatalf("request %d: got status %d, want 200", i+1, code)
		}
	}

	// Over budget for the pair, regardless of the client address.
	if code := post("/api/recompute/org-1/fw-a", "10.0.0.2:5000"); code != http.StatusTooManyRequests {
		t.Errorf("got status %d, want 429", code)
	}

	// A different pair has its own budget.
	if code := post("/api/recompute/org-1/fw-b", "10.0.0.1:5000"); code != http.StatusOK {
		t.Errorf("other pair: got status %d, want 200", code)
	}
}

func TestClientKeyStripsPort(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/frameworks", nil)
	req.RemoteAddr = "10.0.0.1:5000"
	if got := ClientKey(req); got != "10.0.0.1" {
		t.Errorf("got key %q, want 10.0.0.1", got)
	}
}
