package middleware

import (
	"time"

	"PortfolioAgents/pkg/logger"

	"github.com/labstack/echo/v4"
)

// RequestLogging logs one line per request at debug, 4xx at warn.
func RequestLogging(l *logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			start := time.Now()

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			status := c.Response().Status
			fields := []logger.Field{
				logger.String("method", req.Method),
				logger.String("route", routeLabel(c)),
				logger.String("remote_ip", c.RealIP()),
				logger.Int("status", status),
				logger.Duration("latency_ms", time.Since(start)),
			}
			switch {
			case status >= 500:
				// logged by the metrics middleware
			case status >= 400:
				l.Warn("http request rejected", fields...)
			default:
				l.Debug("http request", fields...)
			}
			return nil
		}
	}
}
