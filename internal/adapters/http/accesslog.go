package http

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
)

// accessLogLevel picks the record level. Client throttling is routine, so
// 429 stays at info while other client errors warn.
func accessLogLevel(status int, err error) slog.Level {
	switch {
	case err != nil || status >= 500:
		return slog.LevelError
	case status == fiber.StatusTooManyRequests:
		return slog.LevelInfo
	case status >= 400:
		return slog.LevelWarn
	}
	return slog.LevelInfo
}

// AccessLogMiddleware writes one structured record per request through the
// request-scoped logger. Successful probe and scrape requests log at debug.
func AccessLogMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		path := c.Path()
		method := c.Method()

		err := c.Next()

		status := c.Response().StatusCode()
		attrs := []slog.Attr{
			slog.String("method", method),
			slog.String("path", path),
			slog.String("route", c.Route().Path),
			slog.Int("status", status),
			slog.Duration("latency", time.Since(start)),
			slog.Int("bytes_out", len(c.Response().Body())),
			slog.String("ip", c.IP()),
		}
		ctx := c.UserContext()
		if RequestIDFromCtx(ctx) == "" {
			// No request-scoped logger carrying the ID.
			attrs = append(attrs, slog.String("request_id", requestID(c)))
		}
		if q := c.Request().URI().QueryString(); len(q) > 0 {
			attrs = append(attrs, slog.String("query", string(q)))
		}
		if ua := c.Get(fiber.HeaderUserAgent); ua != "" {
			attrs = append(attrs, slog.String("user_agent", ua))
		}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}

		level := accessLogLevel(status, err)
		if level == slog.LevelInfo && status < 400 {
			switch path {
			case "/v1/health", "/v1/ready", "/metrics":
				level = slog.LevelDebug
			}
		}

		LoggerFromCtx(ctx).LogAttrs(ctx, level, "http request", attrs...)
		return err
	}
}
