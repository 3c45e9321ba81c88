package httpserver

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pscheid92/flowcollab/internal/adapter/metrics"
	"golang.org/x/time/rate"
)

const (
	rateLimiterExpiry = 5 * time.Minute

	// sessionReconnectBurst caps back-to-back reconnects of one editor tab,
	// independent of how many other tabs share its address.
	sessionReconnectBurst = 3

	rejectRateLimitedIP      = "rate_limited_ip"
	rejectRateLimitedSession = "rate_limited_session"
)

// connectLimiter throttles push connection attempts per client IP, and per
// session id so a single tab stuck in a reconnect loop is slowed down before
// it uses up the budget of everyone behind the same address.
type connectLimiter struct {
	byIP       *middleware.RateLimiterMemoryStore
	bySession  *middleware.RateLimiterMemoryStore
	retryAfter string
	metrics    *metrics.PushMetrics
}

func newConnectLimiter(ratePerSecond float64, burst int, m *metrics.PushMetrics) *connectLimiter {
	return &connectLimiter{
		byIP:       newLimiterStore(ratePerSecond, burst),
		bySession:  newLimiterStore(ratePerSecond, min(burst, sessionReconnectBurst)),
		retryAfter: retryAfterSeconds(ratePerSecond),
		metrics:    m,
	}
}

func newLimiterStore(ratePerSecond float64, burst int) *middleware.RateLimiterMemoryStore {
	return middleware.NewRateLimiterMemoryStoreWithConfig(
		middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(ratePerSecond),
			Burst:     burst,
			ExpiresIn: rateLimiterExpiry,
		},
	)
}

func (l *connectLimiter) middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if allowed, err := l.byIP.Allow(c.RealIP()); err != nil || !allowed {
			return l.deny(c, rejectRateLimitedIP)
		}
		if sessionID := c.QueryParam("sessionId"); sessionID != "" {
			if allowed, err := l.bySession.Allow(sessionID); err != nil || !allowed {
				return l.deny(c, rejectRateLimitedSession)
			}
		}
		return next(c)
	}
}

func (l *connectLimiter) deny(c echo.Context, reason string) error {
	if l.metrics != nil {
		l.metrics.RejectedConnections.WithLabelValues(reason).Inc()
	}
	c.Response().Header().Set("Retry-After", l.retryAfter)
	return c.JSON(http.StatusTooManyRequests, map[string]string{
		"error": "rate limit exceeded",
	})
}

// retryAfterSeconds is the time until one more token is available, rounded up.
func retryAfterSeconds(ratePerSecond float64) string {
	if ratePerSecond <= 0 {
		return strconv.Itoa(int(rateLimiterExpiry.Seconds()))
	}
	return strconv.Itoa(max(1, int(math.Ceil(1/ratePerSecond))))
}
