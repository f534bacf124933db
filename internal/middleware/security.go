package middleware

import (
	"crypto/subtle"
	"math"

	"PortfolioAgents/internal/service/ratelimit"
	xhttp "PortfolioAgents/pkg/http"
	"PortfolioAgents/pkg/logger"

	"github.com/labstack/echo/v4"
)

// APIKeyHeader carries the shared secret on admin requests.
const APIKeyHeader = "X-API-KEY"

// APIKey rejects requests whose X-API-KEY header does not equal secret.
func APIKey(secret string) echo.MiddlewareFunc {
	want := []byte(secret)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			got := []byte(c.Request().Header.Get(APIKeyHeader))
			if len(want) == 0 || subtle.ConstantTimeCompare(got, want) != 1 {
				return xhttp.AppErrorResponse(c, xhttp.UnauthorizedError("invalid or missing API key"))
			}
			return next(c)
		}
	}
}

// RateLimit answers 429 with Retry-After once a client IP exhausts its bucket.
func RateLimit(limiter *ratelimit.Limiter, l *logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := c.RealIP()
			ok, wait := limiter.Allow(ip)
			if !ok {
				l.Debug("rate limited", logger.String("remote_ip", ip), logger.Duration("retry_ms", wait))
				secs := int(math.Ceil(wait.Seconds()))
				if secs < 1 {
					secs = 1
				}
				return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError(secs))
			}
			return next(c)
		}
	}
}
