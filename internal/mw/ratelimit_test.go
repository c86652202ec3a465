package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

func TestRL_AllowPerKey(t *testing.T) {
	rl := NewRateLimiter(rate.Every(time.Hour), 2, time.Minute)

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("burst of 2 should be allowed")
	}
	if rl.Allow("a") {
		t.Error("third request should be limited")
	}
	if !rl.Allow("b") {
		t.Error("other keys have their own bucket")
	}
	if rl.Len() != 2 {
		t.Errorf("Len() = %d, want 2", rl.Len())
	}

	rl.Forget("a")
	if !rl.Allow("a") {
		t.Error("Forget() should reset the bucket")
	}
}

func TestRL_Sweep(t *testing.T) {
	rl := NewRateLimiter(rate.Every(time.Second), 1, time.Minute)
	rl.Allow("old")
	rl.Allow("new")

	rl.mu.Lock()
	rl.m["old"].ts = time.Now().Add(-2 * time.Minute)
	rl.mu.Unlock()

	rl.sweep(time.Now())
	if rl.Len() != 1 {
		t.Fatalf("Len() after sweep = %d, want 1", rl.Len())
	}
	rl.mu.Lock()
	_, ok := rl.m["new"]
	rl.mu.Unlock()
	if !ok {
		t.Error("recently used key should survive sweep")
	}
}

func TestRL_StartStop(t *testing.T) {
	rl := NewRateLimiter(rate.Every(time.Second), 1, time.Millisecond)
	rl.Start(5 * time.Millisecond)
	rl.Start(5 * time.Millisecond)
	rl.Allow("k")

	deadline := time.Now().Add(time.Second)
	for rl.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("gc did not evict idle key")
		}
		time.Sleep(5 * time.Millisecond)
	}
	rl.Stop()
	rl.Stop()
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := NewRateLimiter(rate.Every(time.Hour), 1, time.Minute)
	r := gin.New()
	r.Use(RateLimit(rl))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want [200 429]", codes)
	}

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("other client status = %d, want 200", w.Code)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		remote string
		want   string
	}{
		{"10.0.0.1:1234", "10.0.0.1"},
		{"[::1]:8080", "::1"},
		{"no-port", "no-port"},
	}
	for _, tt := range tests {
		if got := clientIP(tt.remote); got != tt.want {
			t.Errorf("clientIP(%q) = %q, want %q", tt.remote, got, tt.want)
		}
	}
}
