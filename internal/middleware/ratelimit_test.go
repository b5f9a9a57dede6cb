package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestRateLimiter_AllowAndDeny(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := now
	rl := NewRateLimiterWithNow(2, time.Minute, func() time.Time { return clock })
	defer rl.Stop()

	if ok, _ := rl.Allow("ip"); !ok {
		t.Fatalf("expected allow")
	}
	if ok, _ := rl.Allow("ip"); !ok {
		t.Fatalf("expected allow")
	}
	clock = clock.Add(20 * time.Second)
	ok, wait := rl.Allow("ip")
	if ok {
		t.Fatalf("expected deny")
	}
	if wait != 40*time.Second {
		t.Fatalf("expected 40s until reset, got %v", wait)
	}

	clock = now.Add(time.Minute + time.Second)
	if ok, _ := rl.Allow("ip"); !ok {
		t.Fatalf("expected allow after window")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := NewRateLimiter(1, time.Minute)
	defer rl.Stop()

	r := gin.New()
	r.POST("/api/chat-n8n", RateLimitMiddleware(rl), func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 2)
	var last *httptest.ResponseRecorder
	for i := 0; i < 2; i++ {
		last = httptest.NewRecorder()
		r.ServeHTTP(last, httptest.NewRequest(http.MethodPost, "/api/chat-n8n", nil))
		codes = append(codes, last.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Fatalf("unexpected codes %v", codes)
	}
	if last.Header().Get("Retry-After") != "60" {
		t.Fatalf("unexpected Retry-After %q", last.Header().Get("Retry-After"))
	}
}
