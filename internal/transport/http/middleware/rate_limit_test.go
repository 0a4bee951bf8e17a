package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	red "github.com/redis/go-redis/v9"
	"go.uber.org/zap/zaptest"

	redisrepo "github.com/arklim/identity-link-service/internal/repository/redis"
)

type failingRateLimitStore struct {
	recordCalls int
}

func (f *failingRateLimitStore) TrimWindow(context.Context, string, time.Duration, time.Time) error {
	return errors.New("redis down")
}

func (f *failingRateLimitStore) CountAttempts(context.Context, string, time.Duration, time.Time) (int, error) {
	return 0, nil
}

func (f *failingRateLimitStore) RecordAttempt(context.Context, string, time.Time) error {
	f.recordCalls++
	return nil
}

func (f *failingRateLimitStore) OldestAttempt(context.Context, string, time.Duration, time.Time) (time.Time, bool, error) {
	return time.Time{}, false, nil
}

func newRedisRateLimitStore(t *testing.T) *redisrepo.RateLimitRepository {
	t.Helper()

	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	client := red.NewClient(&red.Options{Addr: server.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		server.Close()
	})

	return redisrepo.NewRateLimitRepository(client, redisrepo.SlidingWindowConfig{KeyPrefix: "test", TTL: time.Hour})
}

func newLimitedRouter(limiter *RateLimiter, limit int) *gin.Engine {
	router := gin.New()
	router.Use(limiter.RateLimit(RateLimitRule{
		Name:       "login",
		Limit:      limit,
		Window:     time.Minute,
		Identifier: ClientIPIdentifier(),
	}))
	router.POST("/login", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return router
}

func postLogin(router *gin.Engine, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	req.RemoteAddr = ip + ":5555"
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestRateLimiterCountsDownRemaining(t *testing.T) {
	gin.SetMode(gin.TestMode)

	now := time.Date(2025, 10, 12, 10, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(newRedisRateLimitStore(t), zaptest.NewLogger(t)).WithClock(func() time.Time { return now })
	router := newLimitedRouter(limiter, 3)

	for i, want := range []string{"2", "1", "0"} {
		rr := postLogin(router, "192.0.2.1")
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rr.Code)
		}
		if got := rr.Header().Get("X-RateLimit-Remaining"); got != want {
			t.Fatalf("request %d: expected remaining %s, got %q", i, want, got)
		}
		if got := rr.Header().Get("X-RateLimit-Limit"); got != "3" {
			t.Fatalf("request %d: expected limit 3, got %q", i, got)
		}
	}
}

func TestRateLimiterBlocksWhenLimitExceeded(t *testing.T) {
	gin.SetMode(gin.TestMode)

	start := time.Date(2025, 10, 12, 10, 0, 0, 0, time.UTC)
	now := start
	limiter := NewRateLimiter(newRedisRateLimitStore(t), zaptest.NewLogger(t)).WithClock(func() time.Time { return now })
	router := newLimitedRouter(limiter, 2)

	postLogin(router, "192.0.2.1")
	now = start.Add(10 * time.Second)
	postLogin(router, "192.0.2.1")

	now = start.Add(30 * time.Second)
	rr := postLogin(router, "192.0.2.1")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if got := rr.Header().Get("Retry-After"); got != "30" {
		t.Fatalf("expected retry-after 30, got %q", got)
	}
	expectedReset := start.Add(time.Minute).Unix()
	if got := rr.Header().Get("X-RateLimit-Reset"); got != strconv.FormatInt(expectedReset, 10) {
		t.Fatalf("expected reset %d, got %q", expectedReset, got)
	}

	var problem ProblemDetails
	if err := json.Unmarshal(rr.Body.Bytes(), &problem); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if problem.Status != http.StatusTooManyRequests || problem.RetryAfter != 30 {
		t.Fatalf("unexpected problem payload %+v", problem)
	}
	if problem.Instance != "/login" {
		t.Fatalf("expected instance /login, got %q", problem.Instance)
	}

	if rr := postLogin(router, "198.51.100.7"); rr.Code != http.StatusOK {
		t.Fatalf("expected other client to pass, got %d", rr.Code)
	}

	now = start.Add(61 * time.Second)
	if rr := postLogin(router, "192.0.2.1"); rr.Code != http.StatusOK {
		t.Fatalf("expected request after window slides to pass, got %d", rr.Code)
	}
}

func TestRateLimiterFailsOpenOnStoreError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	store := &failingRateLimitStore{}
	limiter := NewRateLimiter(store, zaptest.NewLogger(t))
	router := newLimitedRouter(limiter, 1)

	rr := postLogin(router, "192.0.2.1")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 when failing open, got %d", rr.Code)
	}
	if store.recordCalls != 0 {
		t.Fatalf("expected no record attempt on failure, got %d", store.recordCalls)
	}
	if got := rr.Header().Get("X-RateLimit-Limit"); got != "" {
		t.Fatalf("expected no rate limit headers, got %q", got)
	}
}
