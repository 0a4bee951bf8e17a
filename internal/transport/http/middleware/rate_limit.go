package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/arklim/identity-link-service/internal/core/port"
	"github.com/arklim/identity-link-service/internal/infra/logger"
)

const rateLimitProblemType = "about:blank#rate-limit-exceeded"

// IdentifierFunc extracts the identifier used to scope rate limits (e.g., client IP).
type IdentifierFunc func(*gin.Context) (string, bool)

// RateLimitRule configures a sliding-window limit for a particular identifier.
type RateLimitRule struct {
	Name       string
	Limit      int
	Window     time.Duration
	Identifier IdentifierFunc
}

func (r RateLimitRule) valid() bool {
	return r.Identifier != nil && r.Limit > 0 && r.Window > 0
}

// RateLimiter enforces RateLimitRules against a shared sliding-window store.
// Store failures fail open and are logged.
type RateLimiter struct {
	store  port.RateLimitStore
	logger *zap.Logger
	now    func() time.Time
}

// ProblemDetails represents an RFC 9457 compatible error payload for rate limits.
type ProblemDetails struct {
	Type       string `json:"type"`
	Title      string `json:"title"`
	Status     int    `json:"status"`
	Detail     string `json:"detail"`
	Instance   string `json:"instance"`
	RetryAfter int    `json:"retry_after"`
	TraceID    string `json:"trace_id,omitempty"`
}

type windowState struct {
	limit      int
	remaining  int
	reset      time.Time
	retryAfter time.Duration
	exceeded   bool
}

// NewRateLimiter builds a reusable rate limiter middleware helper.
func NewRateLimiter(store port.RateLimitStore, log *zap.Logger) *RateLimiter {
	if log == nil {
		log = zap.NewNop()
	}
	return &RateLimiter{store: store, logger: log, now: time.Now}
}

// WithClock allows injection of a custom clock.
func (rl *RateLimiter) WithClock(now func() time.Time) *RateLimiter {
	if now != nil {
		rl.now = now
	}
	return rl
}

// ClientIPIdentifier builds an IdentifierFunc using the request's client IP.
func ClientIPIdentifier() IdentifierFunc {
	return func(c *gin.Context) (string, bool) {
		ip := c.ClientIP()
		return ip, ip != ""
	}
}

// RateLimit returns a Gin middleware enforcing the provided rules. The most restrictive
// rule drives the X-RateLimit headers.
func (rl *RateLimiter) RateLimit(rules ...RateLimitRule) gin.HandlerFunc {
	active := make([]RateLimitRule, 0, len(rules))
	for _, rule := range rules {
		if !rule.valid() {
			continue
		}
		if rule.Name == "" {
			rule.Name = "default"
		}
		active = append(active, rule)
	}

	return func(c *gin.Context) {
		if rl == nil || rl.store == nil || len(active) == 0 {
			c.Next()
			return
		}

		now := rl.now()
		var tightest *windowState

		for _, rule := range active {
			identifier, ok := rule.Identifier(c)
			if !ok || identifier == "" {
				continue
			}

			state, err := rl.check(c, rule, rule.Name+":"+identifier, now)
			if err != nil {
				logger.FromContext(c.Request.Context(), rl.logger).Warn("rate limit check failed",
					zap.String("rule", rule.Name),
					zap.String("identifier", logger.MaskIdentifier(identifier)),
					zap.Error(err))
				continue
			}

			if state.exceeded {
				writeRateLimitHeaders(c, state)
				rl.reject(c, state)
				return
			}
			if tightest == nil || state.remaining < tightest.remaining ||
				(state.remaining == tightest.remaining && state.reset.Before(tightest.reset)) {
				s := state
				tightest = &s
			}
		}

		if tightest != nil {
			writeRateLimitHeaders(c, *tightest)
		}
		c.Next()
	}
}

func (rl *RateLimiter) check(c *gin.Context, rule RateLimitRule, key string, now time.Time) (windowState, error) {
	ctx := c.Request.Context()

	if err := rl.store.TrimWindow(ctx, key, rule.Window, now); err != nil {
		return windowState{}, err
	}
	count, err := rl.store.CountAttempts(ctx, key, rule.Window, now)
	if err != nil {
		return windowState{}, err
	}
	oldest, found, err := rl.store.OldestAttempt(ctx, key, rule.Window, now)
	if err != nil {
		return windowState{}, err
	}

	state := windowState{limit: rule.Limit, reset: now.Add(rule.Window)}
	if found {
		state.reset = oldest.Add(rule.Window)
	}
	state.retryAfter = state.reset.Sub(now)
	if state.retryAfter < 0 {
		state.retryAfter = 0
	}

	if count >= rule.Limit {
		state.exceeded = true
		return state, nil
	}

	if err := rl.store.RecordAttempt(ctx, key, now); err != nil {
		return windowState{}, err
	}
	state.remaining = rule.Limit - count - 1
	return state, nil
}

func (rl *RateLimiter) reject(c *gin.Context, state windowState) {
	retry := retrySeconds(state.retryAfter)

	instance := c.FullPath()
	if instance == "" {
		instance = c.Request.URL.Path
	}

	c.AbortWithStatusJSON(http.StatusTooManyRequests, ProblemDetails{
		Type:       rateLimitProblemType,
		Title:      "Rate Limit Exceeded",
		Status:     http.StatusTooManyRequests,
		Detail:     "Too many requests. Try again in " + strconv.Itoa(retry) + " seconds.",
		Instance:   instance,
		RetryAfter: retry,
		TraceID:    GetTraceID(c),
	})
}

func writeRateLimitHeaders(c *gin.Context, state windowState) {
	headers := c.Writer.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(state.limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(max(state.remaining, 0)))
	headers.Set("X-RateLimit-Reset", strconv.FormatInt(state.reset.Unix(), 10))
	if state.exceeded {
		headers.Set("Retry-After", strconv.Itoa(retrySeconds(state.retryAfter)))
	}
}

func retrySeconds(d time.Duration) int {
	return max(int(math.Ceil(d.Seconds())), 0)
}
